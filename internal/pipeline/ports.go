package pipeline

import (
	"context"

	"github.com/agencyops/pipeline-sagas/internal/qc"
	"github.com/agencyops/pipeline-sagas/internal/strategy"
)

// The saga consumes each stage through two narrow interfaces: a port for
// the forward call and a store for the compensation delete. The undo is a
// direct delete issued by the saga rather than a symmetric port method,
// because deletion is scoped by the identifiers the saga already holds.
// Delete ops return how many rows were removed so compensations can record
// what they cleaned up.

type OnboardingPort interface {
	Normalize(ctx context.Context, briefID, discoveryNotes string) (string, error)
}

type OnboardingStore interface {
	// DeleteBrief removes the intake and brief rows for the brief ID.
	DeleteBrief(ctx context.Context, briefID string) (int, error)
}

type StrategyPort interface {
	Generate(ctx context.Context, briefID string, in strategy.GenerateInput) (string, error)
}

type StrategyStore interface {
	// DeleteDocument removes the strategy document row.
	DeleteDocument(ctx context.Context, strategyID string) (int, error)
}

type ProductionPort interface {
	GenerateDraft(ctx context.Context, strategyID string) (string, error)
}

type ProductionStore interface {
	// DeleteDraft removes bundle assets, bundles, and the draft row.
	DeleteDraft(ctx context.Context, draftID string) (int, error)
}

type QCPort interface {
	Evaluate(ctx context.Context, in qc.EvaluateInput) (qc.Evaluation, error)
}

type QCStore interface {
	// DeleteResult removes the issues and the result row.
	DeleteResult(ctx context.Context, resultID string) (int, error)
}

type DeliveryPort interface {
	CreatePackage(ctx context.Context, draftID string) (string, error)
}

type DeliveryStore interface {
	// DeletePackage removes the artifacts and the package row.
	DeletePackage(ctx context.Context, packageID string) (int, error)
}

// Stages bundles the ten stage dependencies the workflow is wired with.
type Stages struct {
	Onboarding      OnboardingPort
	OnboardingStore OnboardingStore
	Strategy        StrategyPort
	StrategyStore   StrategyStore
	Production      ProductionPort
	ProductionStore ProductionStore
	QC              QCPort
	QCStore         QCStore
	Delivery        DeliveryPort
	DeliveryStore   DeliveryStore
}
