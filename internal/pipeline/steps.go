package pipeline

import (
	"context"
	"fmt"

	"github.com/agencyops/pipeline-sagas/internal/qc"
	"github.com/agencyops/pipeline-sagas/internal/strategy"
)

// Step names. Forward execution order is the order they appear in
// buildSteps; compensation runs in exact reverse-completion order.
const (
	StepNormalizeBrief   = "normalize_brief"
	StepGenerateStrategy = "generate_strategy"
	StepGenerateDraft    = "generate_draft"
	StepQCEvaluate       = "qc_evaluate"
	StepCreatePackage    = "create_package"
)

// --- NormalizeBriefStep ---

type NormalizeBriefStep struct {
	port  OnboardingPort
	store OnboardingStore
	state *State
	input Input
}

func NewNormalizeBriefStep(port OnboardingPort, store OnboardingStore, state *State, input Input) *NormalizeBriefStep {
	return &NormalizeBriefStep{port: port, store: store, state: state, input: input}
}

func (s *NormalizeBriefStep) Name() string { return StepNormalizeBrief }

func (s *NormalizeBriefStep) Execute(ctx context.Context) error {
	notes := fmt.Sprintf("intake for client %s, brief %s", s.input.ClientID, s.input.BriefID)
	if _, err := s.port.Normalize(ctx, s.input.BriefID, notes); err != nil {
		return fmt.Errorf("failed to normalize brief: %w", err)
	}
	return nil
}

func (s *NormalizeBriefStep) Compensate(ctx context.Context) error {
	removed, err := s.store.DeleteBrief(ctx, s.input.BriefID)
	if err != nil {
		return fmt.Errorf("failed to delete brief %s: %w", s.input.BriefID, err)
	}
	s.state.recordCompensation(StepNormalizeBrief, removed, "intake and brief rows for "+s.input.BriefID)
	return nil
}

// --- GenerateStrategyStep ---

type GenerateStrategyStep struct {
	port  StrategyPort
	store StrategyStore
	state *State
	input Input
}

func NewGenerateStrategyStep(port StrategyPort, store StrategyStore, state *State, input Input) *GenerateStrategyStep {
	return &GenerateStrategyStep{port: port, store: store, state: state, input: input}
}

func (s *GenerateStrategyStep) Name() string { return StepGenerateStrategy }

func (s *GenerateStrategyStep) Execute(ctx context.Context) error {
	strategyID, err := s.port.Generate(ctx, s.input.BriefID, strategy.GenerateInput{
		ClientID: s.input.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to generate strategy: %w", err)
	}
	s.state.setStrategyID(strategyID)
	return nil
}

func (s *GenerateStrategyStep) Compensate(ctx context.Context) error {
	strategyID := s.state.StrategyID()
	if strategyID == "" {
		// The forward call never produced an identifier; nothing to undo.
		return nil
	}
	removed, err := s.store.DeleteDocument(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("failed to delete strategy %s: %w", strategyID, err)
	}
	s.state.recordCompensation(StepGenerateStrategy, removed, "strategy document "+strategyID)
	return nil
}

// --- GenerateDraftStep ---

type GenerateDraftStep struct {
	port  ProductionPort
	store ProductionStore
	state *State
}

func NewGenerateDraftStep(port ProductionPort, store ProductionStore, state *State) *GenerateDraftStep {
	return &GenerateDraftStep{port: port, store: store, state: state}
}

func (s *GenerateDraftStep) Name() string { return StepGenerateDraft }

func (s *GenerateDraftStep) Execute(ctx context.Context) error {
	draftID, err := s.port.GenerateDraft(ctx, s.state.StrategyID())
	if err != nil {
		return fmt.Errorf("failed to generate draft: %w", err)
	}
	s.state.setDraftID(draftID)
	return nil
}

func (s *GenerateDraftStep) Compensate(ctx context.Context) error {
	draftID := s.state.DraftID()
	if draftID == "" {
		return nil
	}
	removed, err := s.store.DeleteDraft(ctx, draftID)
	if err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", draftID, err)
	}
	s.state.recordCompensation(StepGenerateDraft, removed, "assets, bundles, and draft "+draftID)
	return nil
}

// --- QCEvaluateStep ---

type QCEvaluateStep struct {
	port       QCPort
	store      QCStore
	state      *State
	benchmarks []string
}

func NewQCEvaluateStep(port QCPort, store QCStore, state *State, benchmarks []string) *QCEvaluateStep {
	return &QCEvaluateStep{port: port, store: store, state: state, benchmarks: benchmarks}
}

func (s *QCEvaluateStep) Name() string { return StepQCEvaluate }

// Execute has a failure mode beyond the port call itself: an evaluation
// that comes back passed=false is not kept. The just-persisted result is
// deleted here, then the step fails so the earlier steps compensate.
func (s *QCEvaluateStep) Execute(ctx context.Context) error {
	eval, err := s.port.Evaluate(ctx, qc.EvaluateInput{
		DraftID:      s.state.DraftID(),
		BenchmarkIDs: s.benchmarks,
	})
	if err != nil {
		return fmt.Errorf("qc service error: %w", err)
	}

	s.state.setQCResult(eval.ResultID, eval.Passed)

	if !eval.Passed {
		if _, delErr := s.store.DeleteResult(ctx, eval.ResultID); delErr != nil {
			return fmt.Errorf("qc rejected draft and cleanup of result %s failed: %w", eval.ResultID, delErr)
		}
		return fmt.Errorf("qc rejected draft %s (score %.2f)", s.state.DraftID(), eval.Score)
	}
	return nil
}

// Compensate removes the QC result even though the evaluation itself
// passed — a later step failing means the whole pipeline unwinds.
func (s *QCEvaluateStep) Compensate(ctx context.Context) error {
	resultID := s.state.QCResultID()
	if resultID == "" {
		return nil
	}
	removed, err := s.store.DeleteResult(ctx, resultID)
	if err != nil {
		return fmt.Errorf("failed to delete qc result %s: %w", resultID, err)
	}
	s.state.recordCompensation(StepQCEvaluate, removed, "issues and result "+resultID)
	return nil
}

// --- CreatePackageStep ---

type CreatePackageStep struct {
	port  DeliveryPort
	store DeliveryStore
	state *State
}

func NewCreatePackageStep(port DeliveryPort, store DeliveryStore, state *State) *CreatePackageStep {
	return &CreatePackageStep{port: port, store: store, state: state}
}

func (s *CreatePackageStep) Name() string { return StepCreatePackage }

func (s *CreatePackageStep) Execute(ctx context.Context) error {
	packageID, err := s.port.CreatePackage(ctx, s.state.DraftID())
	if err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	s.state.setPackageID(packageID)
	return nil
}

func (s *CreatePackageStep) Compensate(ctx context.Context) error {
	packageID := s.state.PackageID()
	if packageID == "" {
		return nil
	}
	removed, err := s.store.DeletePackage(ctx, packageID)
	if err != nil {
		return fmt.Errorf("failed to delete package %s: %w", packageID, err)
	}
	s.state.recordCompensation(StepCreatePackage, removed, "artifacts and package "+packageID)
	return nil
}
