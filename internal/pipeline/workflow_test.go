package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyops/pipeline-sagas/internal/coordinator"
	"github.com/agencyops/pipeline-sagas/internal/coordinator/runledger"
	ledgersqlite "github.com/agencyops/pipeline-sagas/internal/coordinator/runledger/sqlite"
	"github.com/agencyops/pipeline-sagas/internal/delivery"
	"github.com/agencyops/pipeline-sagas/internal/eventbus"
	"github.com/agencyops/pipeline-sagas/internal/onboarding"
	"github.com/agencyops/pipeline-sagas/internal/pipeline"
	"github.com/agencyops/pipeline-sagas/internal/production"
	"github.com/agencyops/pipeline-sagas/internal/qc"
	"github.com/agencyops/pipeline-sagas/internal/strategy"
)

var forwardOrder = []string{
	pipeline.StepNormalizeBrief,
	pipeline.StepGenerateStrategy,
	pipeline.StepGenerateDraft,
	pipeline.StepQCEvaluate,
	pipeline.StepCreatePackage,
}

type fixture struct {
	ledger     *ledgersqlite.Repository
	bus        *eventbus.Bus
	onboarding *onboarding.Service
	strategy   *strategy.Service
	production *production.Service
	qc         *qc.Service
	delivery   *delivery.Service
	workflow   *pipeline.Workflow
}

// failingDelivery wraps the real delivery service and rejects every
// forward call, for the "delivery fails after QC passes" scenario.
type failingDelivery struct {
	*delivery.Service
}

func (f *failingDelivery) CreatePackage(ctx context.Context, draftID string) (string, error) {
	return "", errors.New("render farm unavailable")
}

// flakyProductionStore fails a limited number of deletes before behaving
// normally, for the partial-rollback-then-retry scenario.
type flakyProductionStore struct {
	*production.Service
	failuresLeft int
}

func (f *flakyProductionStore) DeleteDraft(ctx context.Context, draftID string) (int, error) {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return 0, errors.New("draft store unavailable")
	}
	return f.Service.DeleteDraft(ctx, draftID)
}

func newFixture(t *testing.T, breakDelivery bool) *fixture {
	t.Helper()

	ledger, err := ledgersqlite.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	f := &fixture{
		ledger:     ledger,
		bus:        eventbus.New(),
		onboarding: onboarding.NewService(),
		strategy:   strategy.NewService(),
		production: production.NewService(),
		qc:         qc.NewService(),
		delivery:   delivery.NewService(),
	}

	var deliveryPort pipeline.DeliveryPort = f.delivery
	if breakDelivery {
		deliveryPort = &failingDelivery{f.delivery}
	}

	coord := coordinator.New(f.bus)
	f.workflow = pipeline.NewWorkflow(coord, ledger, f.bus, pipeline.Stages{
		Onboarding:      f.onboarding,
		OnboardingStore: f.onboarding,
		Strategy:        f.strategy,
		StrategyStore:   f.strategy,
		Production:      f.production,
		ProductionStore: f.production,
		QC:              f.qc,
		QCStore:         f.qc,
		Delivery:        deliveryPort,
		DeliveryStore:   f.delivery,
	}, pipeline.Config{WorkerID: "worker-test", LeaseDuration: time.Minute})

	return f
}

// requireCleanStores asserts that no stage rows survived for any saga.
func (f *fixture) requireCleanStores(t *testing.T) {
	t.Helper()
	assert.Zero(t, f.onboarding.BriefCount(), "brief rows")
	assert.Zero(t, f.onboarding.IntakeCount(), "intake rows")
	assert.Zero(t, f.strategy.DocumentCount(), "strategy rows")
	assert.Zero(t, f.production.DraftCount(), "draft rows")
	assert.Zero(t, f.production.BundleCount(), "bundle rows")
	assert.Zero(t, f.production.AssetCount(), "asset rows")
	assert.Zero(t, f.qc.ResultCount(), "qc result rows")
	assert.Zero(t, f.qc.IssueCount(), "qc issue rows")
	assert.Zero(t, f.delivery.PackageCount(), "package rows")
	assert.Zero(t, f.delivery.ArtifactCount(), "artifact rows")
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.workflow.Execute(ctx, pipeline.Input{ClientID: "client-1", BriefID: "brief-1"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, forwardOrder, res.CompletedSteps)
	assert.Empty(t, res.CompensatedSteps)

	run, err := f.ledger.GetRun(ctx, res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, runledger.StatusCompleted, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.Empty(t, run.ClaimedBy, "claim released after execution")

	// Every stage kept its rows.
	assert.Equal(t, 1, f.onboarding.BriefCount())
	assert.Equal(t, 1, f.onboarding.IntakeCount())
	assert.Equal(t, 1, f.strategy.DocumentCount())
	assert.Equal(t, 1, f.production.DraftCount())
	assert.Equal(t, 2, f.production.BundleCount())
	assert.Equal(t, 4, f.production.AssetCount())
	assert.Equal(t, 1, f.qc.ResultCount())
	assert.Zero(t, f.qc.IssueCount())
	assert.Equal(t, 1, f.delivery.PackageCount())
	assert.Equal(t, 2, f.delivery.ArtifactCount())

	state, ok := f.workflow.GetState(res.SagaID)
	require.True(t, ok)
	assert.True(t, state.QCPassed)
	assert.NotEmpty(t, state.StrategyID)
	assert.NotEmpty(t, state.DraftID)
	assert.NotEmpty(t, state.PackageID)
	assert.Empty(t, state.CompensationsApplied)
}

func TestExecuteForceQCFail(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.workflow.Execute(ctx, pipeline.Input{
		ClientID:    "client-1",
		BriefID:     "brief-1",
		ForceQCFail: true,
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, forwardOrder[:3], res.CompletedSteps)
	assert.Equal(t, []string{
		pipeline.StepGenerateDraft,
		pipeline.StepGenerateStrategy,
		pipeline.StepNormalizeBrief,
	}, res.CompensatedSteps, "compensation runs in exact reverse-completion order")

	run, err := f.ledger.GetRun(ctx, res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, runledger.StatusCompensated, run.Status)
	assert.Contains(t, run.LastError, "qc rejected")

	f.requireCleanStores(t)

	state, ok := f.workflow.GetState(res.SagaID)
	require.True(t, ok)
	assert.False(t, state.QCPassed)
	require.Len(t, state.CompensationsApplied, 3)
	for _, rec := range state.CompensationsApplied {
		assert.Positive(t, rec.RowsRemoved, "compensation for %s must change state", rec.Step)
	}
}

func TestExecuteDeliveryFailureCompensatesPassedQC(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.workflow.Execute(ctx, pipeline.Input{ClientID: "client-1", BriefID: "brief-1"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, forwardOrder[:4], res.CompletedSteps, "qc_evaluate completed before delivery failed")
	assert.Equal(t, []string{
		pipeline.StepQCEvaluate,
		pipeline.StepGenerateDraft,
		pipeline.StepGenerateStrategy,
		pipeline.StepNormalizeBrief,
	}, res.CompensatedSteps)

	// The QC result is removed even though the evaluation itself passed.
	assert.Zero(t, f.qc.ResultCount())
	f.requireCleanStores(t)

	run, err := f.ledger.GetRun(ctx, res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, runledger.StatusCompensated, run.Status)
	assert.Contains(t, run.LastError, "render farm unavailable")
}

func TestRepeatedFailuresLeaveNoOrphans(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	in := pipeline.Input{ClientID: "client-1", BriefID: "brief-1", ForceQCFail: true}
	for i := 0; i < 3; i++ {
		res, err := f.workflow.Execute(ctx, in)
		require.NoError(t, err)
		require.False(t, res.Success)
		f.requireCleanStores(t)
	}

	runs, err := f.ledger.GetRunsByBrief(ctx, "brief-1")
	require.NoError(t, err)
	assert.Len(t, runs, 3, "the ledger keeps every attempt as audit trail")
}

func TestFailingSagaDoesNotTouchOtherSagasRows(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	okRes, err := f.workflow.Execute(ctx, pipeline.Input{ClientID: "client-a", BriefID: "brief-a"})
	require.NoError(t, err)
	require.True(t, okRes.Success)

	failRes, err := f.workflow.Execute(ctx, pipeline.Input{
		ClientID:    "client-b",
		BriefID:     "brief-b",
		ForceQCFail: true,
	})
	require.NoError(t, err)
	require.False(t, failRes.Success)

	// Brief A's rows are numerically unchanged by B's rollback.
	assert.Equal(t, 1, f.onboarding.BriefCount())
	assert.Equal(t, 1, f.strategy.DocumentCount())
	assert.Equal(t, 1, f.production.DraftCount())
	assert.Equal(t, 1, f.qc.ResultCount())
	assert.Equal(t, 1, f.delivery.PackageCount())
}

func TestForcedCompensationIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.workflow.Execute(ctx, pipeline.Input{
		ClientID:    "client-1",
		BriefID:     "brief-1",
		ForceQCFail: true,
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	f.requireCleanStores(t)

	// Re-running compensation against already-cleaned state must not raise
	// and must not change row counts further.
	require.NoError(t, f.workflow.Compensate(ctx, res.SagaID))
	f.requireCleanStores(t)

	run, err := f.ledger.GetRun(ctx, res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, runledger.StatusCompensated, run.Status, "terminal status survives forced re-compensation")
	assert.Equal(t, 1, run.RetryCount, "forced compensation counts as a re-attempt")
}

func TestForcedCompensationAfterLateFailure(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.workflow.Execute(ctx, pipeline.Input{ClientID: "client-1", BriefID: "brief-1"})
	require.NoError(t, err)
	require.True(t, res.Success)

	// A downstream system reports the package unusable after the saga
	// succeeded; operators force a rollback.
	require.NoError(t, f.workflow.Compensate(ctx, res.SagaID))
	f.requireCleanStores(t)

	state, ok := f.workflow.GetState(res.SagaID)
	require.True(t, ok)
	require.Len(t, state.CompensationsApplied, 5)
	assert.Equal(t, pipeline.StepCreatePackage, state.CompensationsApplied[0].Step)
	assert.Equal(t, pipeline.StepNormalizeBrief, state.CompensationsApplied[4].Step)
}

func TestRetriedCompensationFinalizesFailedRun(t *testing.T) {
	ledger, err := ledgersqlite.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	bus := eventbus.New()
	onboardingSvc := onboarding.NewService()
	strategySvc := strategy.NewService()
	productionSvc := production.NewService()
	qcSvc := qc.NewService()
	deliverySvc := delivery.NewService()
	draftStore := &flakyProductionStore{Service: productionSvc, failuresLeft: 1}

	wf := pipeline.NewWorkflow(coordinator.New(bus), ledger, bus, pipeline.Stages{
		Onboarding:      onboardingSvc,
		OnboardingStore: onboardingSvc,
		Strategy:        strategySvc,
		StrategyStore:   strategySvc,
		Production:      productionSvc,
		ProductionStore: draftStore,
		QC:              qcSvc,
		QCStore:         qcSvc,
		Delivery:        deliverySvc,
		DeliveryStore:   deliverySvc,
	}, pipeline.Config{WorkerID: "worker-test", LeaseDuration: time.Minute})

	ctx := context.Background()
	res, err := wf.Execute(ctx, pipeline.Input{
		ClientID:    "client-1",
		BriefID:     "brief-1",
		ForceQCFail: true,
	})
	require.NoError(t, err)
	require.False(t, res.Success)

	// The draft delete failed mid-rollback, so the run is FAILED and the
	// draft rows survived while the rest of the chain compensated.
	run, err := ledger.GetRun(ctx, res.SagaID)
	require.NoError(t, err)
	require.Equal(t, runledger.StatusFailed, run.Status)
	assert.Contains(t, run.LastError, "draft store unavailable")
	assert.Nil(t, run.CompletedAt)
	assert.Equal(t, 1, productionSvc.DraftCount())
	assert.Zero(t, strategySvc.DocumentCount())
	assert.Zero(t, onboardingSvc.BriefCount())

	require.NoError(t, wf.Compensate(ctx, res.SagaID))

	run, err = ledger.GetRun(ctx, res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, runledger.StatusCompensated, run.Status, "a retried rollback that completes records the terminal outcome")
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, 1, run.RetryCount)
	assert.Zero(t, productionSvc.DraftCount())
	assert.Zero(t, productionSvc.BundleCount())
	assert.Zero(t, productionSvc.AssetCount())
}

func TestCompensateUnknownSagaLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	// A run recovered from the ledger after a restart has no in-memory
	// execution left to roll back.
	run := runledger.NewRun(ctx, "brief-1", "orphan-run")
	require.NoError(t, f.ledger.CreateRun(ctx, run))

	err := f.workflow.Compensate(ctx, run.ID)
	assert.ErrorIs(t, err, coordinator.ErrUnknownSaga)

	got, err := f.ledger.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RetryCount, "a rollback that never ran is not an attempt")
	assert.Empty(t, got.ClaimedBy)
}

func TestDuplicateWorkflowRunID(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	in := pipeline.Input{ClientID: "client-1", BriefID: "brief-1", WorkflowRunID: "fixed-run-id"}
	_, err := f.workflow.Execute(ctx, in)
	require.NoError(t, err)

	_, err = f.workflow.Execute(ctx, in)
	assert.ErrorIs(t, err, runledger.ErrDuplicateRun, "idempotency-key collision surfaces loudly")
}

func TestCompensateRespectsForeignClaim(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.workflow.Execute(ctx, pipeline.Input{ClientID: "client-1", BriefID: "brief-1"})
	require.NoError(t, err)

	claimed, err := f.ledger.ClaimRun(ctx, res.SagaID, "another-worker", time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	err = f.workflow.Compensate(ctx, res.SagaID)
	assert.ErrorIs(t, err, pipeline.ErrRunClaimed)

	// Nothing was rolled back under the foreign claim.
	assert.Equal(t, 1, f.delivery.PackageCount())
}

func TestGetStateUnknownSaga(t *testing.T) {
	f := newFixture(t, false)

	_, ok := f.workflow.GetState("missing")
	assert.False(t, ok)
}

func TestExecutePublishesLifecycleEvents(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.workflow.Execute(ctx, pipeline.Input{ClientID: "client-1", BriefID: "brief-1"})
	require.NoError(t, err)

	var completed int
	var sawSagaCompleted bool
	for _, evt := range f.bus.PublishedEvents() {
		switch evt.Type() {
		case coordinator.EventStepCompleted:
			completed++
		case coordinator.EventSagaCompleted:
			sawSagaCompleted = true
			assert.Equal(t, res.SagaID, evt.Data["saga_id"])
		}
	}
	assert.Equal(t, 5, completed)
	assert.True(t, sawSagaCompleted)
}
