// Package runledger defines the durable record of one saga execution: the
// workflow run. Where the coordinator's in-memory execution is transient
// and dies with the process, the run ledger survives restarts and serves
// three purposes:
//
//  1. Audit: every run keeps its status, error text, and trace correlation
//     forever — rows are created once and never deleted.
//
//  2. Exclusive processing: the lease fields implement a claim protocol so
//     at most one worker holds an unexpired claim on a run at any time,
//     which is what makes compensation deletes safe to issue.
//
//  3. Idempotency: the run ID doubles as an idempotency key — creating a
//     second run with the same ID fails loudly instead of silently
//     duplicating work.
package runledger

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a workflow run.
type Status string

const (
	// StatusRunning is the initial state, set on creation.
	StatusRunning Status = "RUNNING"
	// StatusCompleted is terminal: every forward step succeeded.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed is a retryable intermediate state: the saga failed and
	// compensation itself could not fully complete.
	StatusFailed Status = "FAILED"
	// StatusCompensating marks a run whose rollback is in progress.
	StatusCompensating Status = "COMPENSATING"
	// StatusCompensated is terminal: every completed step was rolled back.
	StatusCompensated Status = "COMPENSATED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated
}

var (
	// ErrDuplicateRun signals an idempotency-key violation: a run with the
	// same ID already exists. This is a caller bug, not a recoverable
	// condition, so it must never be retried blindly.
	ErrDuplicateRun = errors.New("runledger: duplicate workflow run id")

	// ErrRunNotFound is returned when no row exists for the given run ID.
	ErrRunNotFound = errors.New("runledger: workflow run not found")

	// ErrRunFinalized is returned by UpdateStatus when the run is already
	// in a terminal state. Each terminal outcome is recorded exactly once.
	ErrRunFinalized = errors.New("runledger: workflow run already finalized")
)

// WorkflowRun is a single row in the workflow_runs table. The run ID is
// also the saga correlation ID used by the coordinator.
type WorkflowRun struct {
	// ID is globally unique and doubles as the idempotency key.
	ID string

	// BriefID is a logical reference to the triggering business brief.
	// Deliberately not a foreign key — the brief lives in another module.
	BriefID string

	// Status is the current lifecycle state.
	Status Status

	// Lease fields. A worker may only process a run it has claimed; an
	// empty ClaimedBy means the run is unclaimed.
	ClaimedBy      string
	ClaimedAt      *time.Time
	LeaseExpiresAt *time.Time

	// RetryCount is incremented on each re-attempt of the same run.
	RetryCount int

	// LastError is the free text of the most recent failure.
	LastError string

	// ForceQCFail is the one structured metadata flag the pipeline knows
	// about: it drives the deterministic quality-rejection path in tests.
	ForceQCFail bool

	// Metadata is the fallback bag for genuinely unstructured diagnostic
	// data. Known reasons get typed fields (see ForceQCFail), not entries.
	Metadata map[string]string

	// TraceID and SpanID correlate this run with the distributed trace
	// that was active when the run was created.
	TraceID string
	SpanID  string

	CreatedAt   time.Time
	CompletedAt *time.Time
}
