// Package pipeline wires the five-stage client-to-delivery saga: normalize
// brief, generate strategy, generate draft, evaluate quality, create the
// delivery package. Each forward step calls exactly one stage port; each
// compensation hard-deletes the rows that step caused, scoped to the
// identifiers captured in the per-saga state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agencyops/pipeline-sagas/internal/coordinator"
	"github.com/agencyops/pipeline-sagas/internal/coordinator/runledger"
	"github.com/agencyops/pipeline-sagas/internal/eventbus"
	"github.com/agencyops/pipeline-sagas/internal/qc"
)

// ErrRunClaimed signals that another worker holds an unexpired claim on
// the run. It is the expected "do nothing" outcome of lease contention,
// not a failure of the run itself.
var ErrRunClaimed = errors.New("pipeline: workflow run claimed by another worker")

// Input is the externally-facing request shape for one workflow execution.
type Input struct {
	ClientID string
	BriefID  string

	// ForceQCFail deterministically drives the quality-rejection path. It
	// maps to a sentinel benchmark passed to the QC port, never a bypass.
	ForceQCFail bool

	// WorkflowRunID is an optional caller-supplied idempotency key. Empty
	// means a fresh UUID; a collision fails with runledger.ErrDuplicateRun.
	WorkflowRunID string
}

// Result is what the caller gets back: a definite success/failure, the
// forward steps that completed, and the compensations that ran in
// reverse-completion order. SagaID can be used to fetch the full per-saga
// state for debugging.
type Result struct {
	SagaID           string
	Success          bool
	CompletedSteps   []string
	CompensatedSteps []string
}

// Config tunes a Workflow. Zero values get sensible defaults.
type Config struct {
	WorkerID      string
	LeaseDuration time.Duration
	Benchmarks    []string
}

// defaultBenchmarks are the QC benchmarks applied when none are configured.
var defaultBenchmarks = []string{"benchmark:brand-voice", "benchmark:claims-accuracy"}

// Workflow is the concrete client-to-delivery saga definition. One
// instance serves many concurrent executions; they share nothing but the
// durable ledger and the stage stores.
type Workflow struct {
	coord  *coordinator.Coordinator
	ledger runledger.Repository
	stages Stages

	workerID   string
	lease      time.Duration
	benchmarks []string

	mu     sync.RWMutex
	states map[string]*State
}

// NewWorkflow assembles the saga definition. bus must be the same bus the
// coordinator publishes on: the workflow subscribes to the compensating
// event so the ledger row enters COMPENSATING the moment rollback starts.
func NewWorkflow(coord *coordinator.Coordinator, ledger runledger.Repository, bus *eventbus.Bus, stages Stages, cfg Config) *Workflow {
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.NewString()
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	if len(cfg.Benchmarks) == 0 {
		cfg.Benchmarks = defaultBenchmarks
	}

	w := &Workflow{
		coord:      coord,
		ledger:     ledger,
		stages:     stages,
		workerID:   cfg.WorkerID,
		lease:      cfg.LeaseDuration,
		benchmarks: cfg.Benchmarks,
		states:     make(map[string]*State),
	}

	if bus != nil {
		bus.Subscribe(coordinator.EventSagaCompensating, w.onCompensating)
	}
	return w
}

// Execute runs the full saga for the given input. Stage failures and
// quality rejections are converted into compensation and reported through
// the Result, never returned as errors; errors are reserved for ledger
// problems (duplicate run ID, lost claim, storage failures).
func (w *Workflow) Execute(ctx context.Context, in Input) (Result, error) {
	if in.ClientID == "" || in.BriefID == "" {
		return Result{}, fmt.Errorf("pipeline: client id and brief id are required")
	}

	run := runledger.NewRun(ctx, in.BriefID, in.WorkflowRunID)
	run.ForceQCFail = in.ForceQCFail
	if err := w.ledger.CreateRun(ctx, run); err != nil {
		return Result{}, err
	}

	// The run must be claimed before any stage storage is touched; the
	// lease is what makes the compensation deletes below race-free.
	claimed, err := w.ledger.ClaimRun(ctx, run.ID, w.workerID, w.lease)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{SagaID: run.ID}, fmt.Errorf("run %q: %w", run.ID, ErrRunClaimed)
	}
	defer func() {
		// Release even when the caller's context is already cancelled.
		releaseCtx := context.WithoutCancel(ctx)
		if err := w.ledger.ReleaseClaim(releaseCtx, run.ID); err != nil {
			slog.ErrorContext(releaseCtx, "failed to release run claim", "run_id", run.ID, "error", err)
		}
	}()

	state := newState(run.ID, in.BriefID)
	w.mu.Lock()
	w.states[run.ID] = state
	w.mu.Unlock()

	res, err := w.coord.StartSaga(ctx, run.ID, w.buildSteps(in, state))
	if err != nil {
		return Result{}, err
	}

	var reason string
	if exec, execErr := w.coord.Execution(run.ID); execErr == nil {
		reason = exec.FailureReason
	}
	w.finalize(ctx, run.ID, res.Success, reason, res.CompensationErrors)

	return Result{
		SagaID:           run.ID,
		Success:          res.Success,
		CompletedSteps:   res.CompletedSteps,
		CompensatedSteps: res.CompensatedSteps,
	}, nil
}

// Compensate forces rollback of an already-executed saga. Used when a
// downstream system reports a late failure after the saga finished; each
// invocation counts as a re-attempt on the ledger. Steps whose rows are
// already gone compensate as no-ops.
func (w *Workflow) Compensate(ctx context.Context, sagaID string) error {
	// An unknown saga (e.g. after a restart) must not claim the run or
	// burn a retry increment on the ledger.
	if _, err := w.coord.Execution(sagaID); err != nil {
		return err
	}

	claimed, err := w.ledger.ClaimRun(ctx, sagaID, w.workerID, w.lease)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("run %q: %w", sagaID, ErrRunClaimed)
	}
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		if err := w.ledger.ReleaseClaim(releaseCtx, sagaID); err != nil {
			slog.ErrorContext(releaseCtx, "failed to release run claim", "run_id", sagaID, "error", err)
		}
	}()

	if err := w.ledger.IncrementRetryCount(ctx, sagaID); err != nil {
		return err
	}
	if err := w.coord.Compensate(ctx, sagaID); err != nil {
		return err
	}

	// Record the terminal outcome of this rollback pass the same way
	// Execute does. A run that already holds a terminal status keeps it.
	exec, err := w.coord.Execution(sagaID)
	if err != nil {
		return err
	}
	w.finalize(ctx, sagaID, false, exec.FailureReason, exec.CompensationErrors)
	return nil
}

// GetState returns the per-saga state snapshot for introspection,
// including the compensations_applied audit list.
func (w *Workflow) GetState(sagaID string) (StateSnapshot, bool) {
	w.mu.RLock()
	state, ok := w.states[sagaID]
	w.mu.RUnlock()
	if !ok {
		return StateSnapshot{}, false
	}
	return state.Snapshot(), true
}

func (w *Workflow) buildSteps(in Input, state *State) []coordinator.Step {
	benchmarks := append([]string(nil), w.benchmarks...)
	if in.ForceQCFail {
		benchmarks = append(benchmarks, qc.BenchmarkForceFail)
	}

	return []coordinator.Step{
		NewNormalizeBriefStep(w.stages.Onboarding, w.stages.OnboardingStore, state, in),
		NewGenerateStrategyStep(w.stages.Strategy, w.stages.StrategyStore, state, in),
		NewGenerateDraftStep(w.stages.Production, w.stages.ProductionStore, state),
		NewQCEvaluateStep(w.stages.QC, w.stages.QCStore, state, benchmarks),
		NewCreatePackageStep(w.stages.Delivery, w.stages.DeliveryStore, state),
	}
}

// finalize records the outcome of one saga pass on the ledger: COMPLETED
// after full success, COMPENSATED after a clean rollback, FAILED when one
// or more compensations could not complete. FAILED is retryable through
// Compensate; a run already in a terminal status keeps it.
func (w *Workflow) finalize(ctx context.Context, runID string, success bool, reason string, compErrors []string) {
	now := time.Now().UTC()

	var updateErr error
	switch {
	case success:
		updateErr = w.ledger.UpdateStatus(ctx, runID, runledger.StatusCompleted, "", &now)
	case len(compErrors) == 0:
		updateErr = w.ledger.UpdateStatus(ctx, runID, runledger.StatusCompensated, reason, &now)
	default:
		reason = fmt.Sprintf("%s; compensation errors: %v", reason, compErrors)
		updateErr = w.ledger.UpdateStatus(ctx, runID, runledger.StatusFailed, reason, nil)
	}
	if updateErr != nil && !errors.Is(updateErr, runledger.ErrRunFinalized) {
		slog.ErrorContext(ctx, "failed to record run outcome", "run_id", runID, "error", updateErr)
	}
}

// onCompensating mirrors the coordinator's compensating event onto the
// ledger. A forced compensation of an already-finalized run leaves the
// terminal status in place (ErrRunFinalized is expected there).
func (w *Workflow) onCompensating(ctx context.Context, evt eventbus.Event) {
	sagaID, _ := evt.Data["saga_id"].(string)
	if sagaID == "" {
		return
	}
	reason, _ := evt.Data["reason"].(string)

	err := w.ledger.UpdateStatus(ctx, sagaID, runledger.StatusCompensating, reason, nil)
	if err != nil && !errors.Is(err, runledger.ErrRunFinalized) {
		slog.ErrorContext(ctx, "failed to mark run compensating", "run_id", sagaID, "error", err)
	}
}
