// Package sqlite provides a SQLite-backed implementation of
// runledger.Repository.
//
// WAL mode is enabled on Open so that readers never block writers and vice
// versa — the saga goroutine updates run rows while HTTP handlers may be
// reading them for status endpoints.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agencyops/pipeline-sagas/internal/coordinator/runledger"

	// Register the pure-Go SQLite driver.
	// modernc.org/sqlite avoids CGO, which keeps Docker (Alpine) builds simple.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup. Unlike an append-only audit
// log, workflow_runs keeps exactly one mutable row per run: status, lease,
// and retry fields are updated in place, and rows are never deleted.
const schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
    -- Business identifier, also the saga correlation ID and idempotency key.
    workflow_run_id  TEXT PRIMARY KEY,

    -- Logical reference to the triggering brief. No foreign key on purpose:
    -- briefs live in another module's storage.
    brief_id         TEXT    NOT NULL,

    -- Lifecycle state: RUNNING, COMPLETED, FAILED, COMPENSATING, COMPENSATED.
    status           TEXT    NOT NULL,

    -- Lease fields. Empty claimed_by means unclaimed. lease_expires_at is
    -- unix milliseconds so the claim predicate is a plain integer compare.
    claimed_by       TEXT    NOT NULL DEFAULT '',
    claimed_at       TEXT,
    lease_expires_at INTEGER,

    retry_count      INTEGER NOT NULL DEFAULT 0,
    last_error       TEXT    NOT NULL DEFAULT '',

    -- Structured flag for the deterministic QC-rejection path.
    force_qc_fail    INTEGER NOT NULL DEFAULT 0,

    -- JSON object for genuinely unstructured diagnostic data.
    metadata         TEXT    NOT NULL DEFAULT '{}',

    -- W3C trace correlation extracted from the active OTel span.
    trace_id         TEXT    NOT NULL DEFAULT '',
    span_id          TEXT    NOT NULL DEFAULT '',

    -- RFC3339 stored as TEXT, SQLite idiom.
    created_at       TEXT    NOT NULL,
    completed_at     TEXT
);

-- Index for the operator query: "give me every run for brief X".
CREATE INDEX IF NOT EXISTS idx_workflow_runs_brief_id ON workflow_runs(brief_id);

-- Index for the observability query: "find the run for trace Y".
CREATE INDEX IF NOT EXISTS idx_workflow_runs_trace_id ON workflow_runs(trace_id);
`

// Repository is the SQLite implementation of runledger.Repository.
type Repository struct {
	db *sql.DB

	// now is swappable in tests to simulate lease expiry.
	now func() time.Time
}

var _ runledger.Repository = (*Repository)(nil)

// Open opens (or creates) the SQLite database at the given path and applies
// the schema. WAL mode is enabled for concurrent read/write performance.
//
//	repo, err := sqlite.Open("./data/runs.db")
func Open(path string) (*Repository, error) {
	// The pure-Go driver takes _pragma query parameters. busy_timeout waits
	// for locks instead of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// Use "sqlite", not "sqlite3", for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db, now: time.Now}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error {
	return r.db.Close()
}

// CreateRun inserts the run with status RUNNING. A primary-key conflict on
// the run ID maps to runledger.ErrDuplicateRun.
func (r *Repository) CreateRun(ctx context.Context, run *runledger.WorkflowRun) error {
	meta := "{}"
	if len(run.Metadata) > 0 {
		b, err := json.Marshal(run.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: marshal metadata for %q: %w", run.ID, err)
		}
		meta = string(b)
	}

	const q = `
		INSERT INTO workflow_runs
			(workflow_run_id, brief_id, status, retry_count, last_error,
			 force_qc_fail, metadata, trace_id, span_id, created_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		run.ID,
		run.BriefID,
		string(run.Status),
		run.RetryCount,
		run.LastError,
		boolToInt(run.ForceQCFail),
		meta,
		run.TraceID,
		run.SpanID,
		formatTime(run.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("run %q: %w", run.ID, runledger.ErrDuplicateRun)
		}
		return fmt.Errorf("sqlite: create run %q: %w", run.ID, err)
	}
	return nil
}

// GetRun returns the run row or runledger.ErrRunNotFound.
func (r *Repository) GetRun(ctx context.Context, runID string) (*runledger.WorkflowRun, error) {
	const q = selectColumns + ` WHERE workflow_run_id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, q, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", runID, runledger.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get run %q: %w", runID, err)
	}
	return run, nil
}

// GetRunsByBrief returns every run for the brief, newest first.
func (r *Repository) GetRunsByBrief(ctx context.Context, briefID string) ([]*runledger.WorkflowRun, error) {
	const q = selectColumns + ` WHERE brief_id = ? ORDER BY rowid DESC`

	rows, err := r.db.QueryContext(ctx, q, briefID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: runs for brief %q: %w", briefID, err)
	}
	defer rows.Close()

	var runs []*runledger.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan run for brief %q: %w", briefID, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: runs for brief %q: %w", briefID, err)
	}
	return runs, nil
}

// ClaimRun is a single conditional UPDATE: it succeeds only if the row is
// currently unclaimed or its lease has already expired. Implemented as one
// write, not read-then-write, so two racing workers cannot both observe
// "unclaimed" and both proceed.
func (r *Repository) ClaimRun(ctx context.Context, runID, workerID string, lease time.Duration) (bool, error) {
	now := r.now().UTC()
	expires := now.Add(lease)

	const q = `
		UPDATE workflow_runs
		SET    claimed_by = ?, claimed_at = ?, lease_expires_at = ?
		WHERE  workflow_run_id = ?
		  AND  (claimed_by = '' OR lease_expires_at < ?)`

	res, err := r.db.ExecContext(ctx, q,
		workerID,
		formatTime(now),
		expires.UnixMilli(),
		runID,
		now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: claim run %q: %w", runID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: claim run %q: %w", runID, err)
	}
	if affected == 1 {
		return true, nil
	}

	// Distinguish "someone else holds the lease" from "no such run".
	if _, err := r.GetRun(ctx, runID); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateStatus transitions the run's status. Terminal rows are immutable:
// a second terminal transition returns runledger.ErrRunFinalized.
func (r *Repository) UpdateStatus(ctx context.Context, runID string, status runledger.Status, lastError string, completedAt *time.Time) error {
	const q = `
		UPDATE workflow_runs
		SET    status = ?, last_error = ?, completed_at = ?
		WHERE  workflow_run_id = ?
		  AND  status NOT IN (?, ?)`

	res, err := r.db.ExecContext(ctx, q,
		string(status),
		lastError,
		formatNullableTime(completedAt),
		runID,
		string(runledger.StatusCompleted),
		string(runledger.StatusCompensated),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update status for %q: %w", runID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update status for %q: %w", runID, err)
	}
	if affected == 0 {
		if _, err := r.GetRun(ctx, runID); err != nil {
			return err
		}
		return fmt.Errorf("run %q: %w", runID, runledger.ErrRunFinalized)
	}
	return nil
}

// IncrementRetryCount bumps the retry counter by one.
func (r *Repository) IncrementRetryCount(ctx context.Context, runID string) error {
	const q = `UPDATE workflow_runs SET retry_count = retry_count + 1 WHERE workflow_run_id = ?`

	res, err := r.db.ExecContext(ctx, q, runID)
	if err != nil {
		return fmt.Errorf("sqlite: increment retry for %q: %w", runID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("run %q: %w", runID, runledger.ErrRunNotFound)
	}
	return nil
}

// ReleaseClaim clears the lease fields so another worker can claim the run
// without waiting for expiry.
func (r *Repository) ReleaseClaim(ctx context.Context, runID string) error {
	const q = `
		UPDATE workflow_runs
		SET    claimed_by = '', claimed_at = NULL, lease_expires_at = NULL
		WHERE  workflow_run_id = ?`

	res, err := r.db.ExecContext(ctx, q, runID)
	if err != nil {
		return fmt.Errorf("sqlite: release claim for %q: %w", runID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("run %q: %w", runID, runledger.ErrRunNotFound)
	}
	return nil
}

const selectColumns = `
	SELECT workflow_run_id, brief_id, status, claimed_by, claimed_at,
	       lease_expires_at, retry_count, last_error, force_qc_fail,
	       metadata, trace_id, span_id, created_at, completed_at
	FROM   workflow_runs`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*runledger.WorkflowRun, error) {
	var (
		run          runledger.WorkflowRun
		status       string
		claimedAt    sql.NullString
		leaseExpires sql.NullInt64
		forceQCFail  int
		meta         string
		createdAt    string
		completedAt  sql.NullString
	)

	err := row.Scan(
		&run.ID,
		&run.BriefID,
		&status,
		&run.ClaimedBy,
		&claimedAt,
		&leaseExpires,
		&run.RetryCount,
		&run.LastError,
		&forceQCFail,
		&meta,
		&run.TraceID,
		&run.SpanID,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = runledger.Status(status)
	run.ForceQCFail = forceQCFail != 0

	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &run.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	if run.CreatedAt, err = parseRFC3339(createdAt); err != nil {
		return nil, err
	}
	if run.ClaimedAt, err = parseNullableTime(claimedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	if leaseExpires.Valid {
		t := time.UnixMilli(leaseExpires.Int64).UTC()
		run.LeaseExpiresAt = &t
	}

	return &run, nil
}

// applySchema runs the DDL statements once. Idempotent due to IF NOT EXISTS.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite primary-key/unique
// constraint failure. The modernc driver exposes no typed error for this,
// so the message is the contract (it carries "UNIQUE constraint failed").
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
