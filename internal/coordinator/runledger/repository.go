package runledger

import (
	"context"
	"time"
)

// Repository is the port for durable workflow-run tracking. The pipeline
// depends on this abstraction, not on SQLite directly, so the
// implementation can be swapped for Postgres, in-memory (tests), etc.
type Repository interface {
	// CreateRun inserts a new row with status RUNNING. A run ID collision
	// is an idempotency-key violation and returns ErrDuplicateRun.
	CreateRun(ctx context.Context, run *WorkflowRun) error

	// GetRun returns the run or ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (*WorkflowRun, error)

	// GetRunsByBrief returns every run for a brief, newest first. Used for
	// operator debugging and idempotency audits.
	GetRunsByBrief(ctx context.Context, briefID string) ([]*WorkflowRun, error)

	// ClaimRun atomically claims the run for workerID if it is unclaimed
	// or its lease has expired. Returns false without mutating anything
	// when another worker holds an unexpired claim — that is the expected
	// "do nothing" signal, not an error.
	ClaimRun(ctx context.Context, runID, workerID string, lease time.Duration) (bool, error)

	// UpdateStatus transitions the run's status and records the error text
	// and completion time. Transitions out of a terminal state return
	// ErrRunFinalized.
	UpdateStatus(ctx context.Context, runID string, status Status, lastError string, completedAt *time.Time) error

	// IncrementRetryCount bumps the retry counter by one.
	IncrementRetryCount(ctx context.Context, runID string) error

	// ReleaseClaim clears the lease fields so another worker can claim the
	// run without waiting for lease expiry. Used on graceful shutdown.
	ReleaseClaim(ctx context.Context, runID string) error
}
