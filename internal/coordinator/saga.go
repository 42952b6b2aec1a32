// Package coordinator executes sagas: ordered lists of steps where every
// step carries a compensating action that undoes its effect. If a step
// fails, the already-completed steps are compensated in reverse order
// (LIFO) so no partial state survives the failure.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/agencyops/pipeline-sagas/internal/eventbus"
)

// Step represents a single unit of work in a saga.
// Each step must have a compensating action to undo its effects. A step
// that mutates shared state and answers Compensate with a no-op is a
// design error — the surrounding system assumes full rollback.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Event types published on the bus during a saga's lifecycle.
const (
	EventStepCompleted    = "saga.step.completed"
	EventStepCompensated  = "saga.step.compensated"
	EventSagaCompleted    = "saga.completed"
	EventSagaCompensating = "saga.compensating"
	EventSagaCompensated  = "saga.compensated"
)

var (
	// ErrUnknownSaga is returned when a saga ID has no tracked execution.
	ErrUnknownSaga = errors.New("coordinator: unknown saga")
	// ErrDuplicateSaga is returned when StartSaga is called twice with the
	// same saga ID. Reusing an ID would clobber the forensic record of the
	// first run, so this surfaces loudly instead.
	ErrDuplicateSaga = errors.New("coordinator: saga already started")
	// ErrDuplicateStepName is returned when two steps in one saga share a
	// name. Compensation bookkeeping is keyed by step name, so duplicates
	// would mis-route rollback.
	ErrDuplicateStepName = errors.New("coordinator: duplicate step name")
)

// Result is what the caller of StartSaga gets back: either full success
// with an empty compensated list, or failure with the completed list
// (forensic) and the compensations that ran, in reverse-completion order.
type Result struct {
	Success            bool
	CompletedSteps     []string
	CompensatedSteps   []string
	CompensationErrors []string
}

// Execution is the transient in-memory record of one saga run. It is owned
// by the coordinator that started the saga and lost on process restart;
// durable tracking is the run ledger's job, not this structure's.
type Execution struct {
	SagaID             string
	StepNames          []string
	CompletedSteps     []string
	CompensatedSteps   []string
	CurrentStepIndex   int
	Failed             bool
	FailureReason      string
	CompensationErrors []string
}

// Coordinator runs sagas and keeps one Execution per saga ID for
// introspection and for forced late compensation.
type Coordinator struct {
	mu         sync.RWMutex
	executions map[string]*execution
	bus        *eventbus.Bus // nil-safe: events skipped if nil
}

// execution pairs the bookkeeping record with the live steps so Compensate
// can be invoked after StartSaga has returned.
type execution struct {
	Execution
	steps []Step
}

// New returns a Coordinator. bus may be nil — in that case lifecycle
// events are not published.
func New(bus *eventbus.Bus) *Coordinator {
	return &Coordinator{
		executions: make(map[string]*execution),
		bus:        bus,
	}
}

// StartSaga runs the steps strictly in list order. Each successful step is
// appended to CompletedSteps before the next one starts. The first step
// that fails stops forward progress and triggers compensation of every
// already-completed step, newest first.
//
// StartSaga never returns a step's error to the caller: failures are
// converted into compensation and reported through the Result.
func (c *Coordinator) StartSaga(ctx context.Context, sagaID string, steps []Step) (Result, error) {
	exec := &execution{
		Execution: Execution{SagaID: sagaID},
		steps:     steps,
	}
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if seen[s.Name()] {
			return Result{}, fmt.Errorf("saga %q: step %q: %w", sagaID, s.Name(), ErrDuplicateStepName)
		}
		seen[s.Name()] = true
		exec.StepNames = append(exec.StepNames, s.Name())
	}

	c.mu.Lock()
	if _, exists := c.executions[sagaID]; exists {
		c.mu.Unlock()
		return Result{}, fmt.Errorf("saga %q: %w", sagaID, ErrDuplicateSaga)
	}
	c.executions[sagaID] = exec
	c.mu.Unlock()

	for i, step := range steps {
		c.setCurrentIndex(sagaID, i)
		slog.InfoContext(ctx, "executing saga step", "saga_id", sagaID, "step", step.Name())

		if err := step.Execute(ctx); err != nil {
			slog.ErrorContext(ctx, "saga step failed, starting rollback",
				"saga_id", sagaID, "step", step.Name(), "error", err)
			c.markFailed(sagaID, err.Error())
			c.publish(ctx, EventSagaCompensating, sagaID, map[string]any{
				"failed_step": step.Name(),
				"reason":      err.Error(),
			})
			c.rollback(ctx, sagaID)
			c.publish(ctx, EventSagaCompensated, sagaID, nil)
			return c.result(sagaID), nil
		}

		c.appendCompleted(sagaID, step.Name())
		c.publish(ctx, EventStepCompleted, sagaID, map[string]any{"step": step.Name()})
	}

	slog.InfoContext(ctx, "saga completed", "saga_id", sagaID)
	c.publish(ctx, EventSagaCompleted, sagaID, nil)
	return c.result(sagaID), nil
}

// Compensate forces compensation of an already-tracked saga. It is used
// for externally detected late failures — a downstream stage that fails
// asynchronously after the saga reported success for that step. Steps
// already compensated are skipped, so calling it after a failed StartSaga
// (which compensated everything itself) is a no-op.
func (c *Coordinator) Compensate(ctx context.Context, sagaID string) error {
	c.mu.RLock()
	_, ok := c.executions[sagaID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("saga %q: %w", sagaID, ErrUnknownSaga)
	}

	c.publish(ctx, EventSagaCompensating, sagaID, map[string]any{"forced": true})
	c.rollback(ctx, sagaID)
	c.publish(ctx, EventSagaCompensated, sagaID, nil)
	return nil
}

// Execution returns a snapshot of the in-memory execution record for a
// saga, for testing and debugging.
func (c *Coordinator) Execution(sagaID string) (Execution, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exec, ok := c.executions[sagaID]
	if !ok {
		return Execution{}, fmt.Errorf("saga %q: %w", sagaID, ErrUnknownSaga)
	}
	return snapshot(&exec.Execution), nil
}

// rollback compensates every completed-but-not-yet-compensated step, newest
// first. A failing compensation is logged and recorded but never stops the
// remaining chain; a partially-failed rollback beats no rollback.
// CompensationErrors always reflects the latest pass, so a retried
// rollback that clears every remaining step reports clean.
func (c *Coordinator) rollback(ctx context.Context, sagaID string) {
	c.mu.Lock()
	exec := c.executions[sagaID]
	exec.CompensationErrors = nil
	done := make(map[string]bool, len(exec.CompensatedSteps))
	for _, name := range exec.CompensatedSteps {
		done[name] = true
	}
	completed := append([]string(nil), exec.CompletedSteps...)
	byName := make(map[string]Step, len(exec.steps))
	for _, s := range exec.steps {
		byName[s.Name()] = s
	}
	c.mu.Unlock()

	for i := len(completed) - 1; i >= 0; i-- {
		name := completed[i]
		if done[name] {
			continue
		}
		step := byName[name]
		slog.InfoContext(ctx, "compensating saga step", "saga_id", sagaID, "step", name)

		if err := step.Compensate(ctx); err != nil {
			slog.ErrorContext(ctx, "CRITICAL: failed to compensate saga step",
				"saga_id", sagaID, "step", name, "error", err)
			c.appendCompensationError(sagaID, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		c.appendCompensated(sagaID, name)
		c.publish(ctx, EventStepCompensated, sagaID, map[string]any{"step": name})
	}
}

func (c *Coordinator) result(sagaID string) Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exec := c.executions[sagaID]
	return Result{
		Success:            !exec.Failed,
		CompletedSteps:     append([]string(nil), exec.CompletedSteps...),
		CompensatedSteps:   append([]string(nil), exec.CompensatedSteps...),
		CompensationErrors: append([]string(nil), exec.CompensationErrors...),
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType, sagaID string, extra map[string]any) {
	if c.bus == nil {
		return
	}
	data := map[string]any{
		eventbus.EventTypeKey: eventType,
		"saga_id":             sagaID,
	}
	for k, v := range extra {
		data[k] = v
	}
	// The only publish error is a missing event_type, which we always set.
	_ = c.bus.Publish(ctx, uuid.NewString(), data)
}

func (c *Coordinator) setCurrentIndex(sagaID string, i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executions[sagaID].CurrentStepIndex = i
}

func (c *Coordinator) appendCompleted(sagaID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec := c.executions[sagaID]
	exec.CompletedSteps = append(exec.CompletedSteps, name)
}

func (c *Coordinator) appendCompensated(sagaID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec := c.executions[sagaID]
	exec.CompensatedSteps = append(exec.CompensatedSteps, name)
}

func (c *Coordinator) appendCompensationError(sagaID, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec := c.executions[sagaID]
	exec.CompensationErrors = append(exec.CompensationErrors, msg)
}

func (c *Coordinator) markFailed(sagaID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exec := c.executions[sagaID]
	exec.Failed = true
	exec.FailureReason = reason
}

func snapshot(e *Execution) Execution {
	return Execution{
		SagaID:             e.SagaID,
		StepNames:          append([]string(nil), e.StepNames...),
		CompletedSteps:     append([]string(nil), e.CompletedSteps...),
		CompensatedSteps:   append([]string(nil), e.CompensatedSteps...),
		CurrentStepIndex:   e.CurrentStepIndex,
		Failed:             e.Failed,
		FailureReason:      e.FailureReason,
		CompensationErrors: append([]string(nil), e.CompensationErrors...),
	}
}
