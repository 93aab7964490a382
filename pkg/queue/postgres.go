package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

// PostgresQueue implements TaskQueue over a `queued_tasks` table, grounded
// on the claim-row idiom of a Postgres task queue: SELECT ... FOR UPDATE
// SKIP LOCKED to claim without blocking other claimants, and a transactional
// read-modify-write for backoff scheduling.
type PostgresQueue struct {
	db     *sqlx.DB
	opts   Options
	notify Notifier // optional; nil is valid (no wake signal configured)
}

// NewPostgresQueue builds a PostgresQueue. notify may be nil.
func NewPostgresQueue(db *sqlx.DB, opts Options, notify Notifier) *PostgresQueue {
	return &PostgresQueue{db: db, opts: opts, notify: notify}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, task *types.QueuedTask) error {
	query := `
		INSERT INTO queued_tasks (id, workspace_id, attempts, not_before, payload, cancel_requested, created_at)
		VALUES ($1,$2,$3,$4,$5,false,$6)`

	_, err := q.db.ExecContext(ctx, query, task.ID, task.WorkspaceID, task.Attempts, task.NotBefore, task.Payload, task.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "enqueue task", err)
	}

	if q.notify != nil {
		q.notify.Wake(ctx)
	}
	return nil
}

// Claim selects an eligible row — claim_owner is null or claim_expires_at
// has passed, and not_before <= now — ordered not_before ascending, id as
// tiebreak, exactly as spec.md §4.5 requires.
func (q *PostgresQueue) Claim(ctx context.Context, workerID string, lease time.Duration) (*types.QueuedTask, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "begin claim transaction", err)
	}
	defer tx.Rollback()

	var task types.QueuedTask
	selectQuery := `
		SELECT * FROM queued_tasks
		WHERE (claim_owner IS NULL OR claim_expires_at < NOW())
		  AND not_before <= NOW()
		ORDER BY not_before ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	err = tx.GetContext(ctx, &task, selectQuery)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "select claimable task", err)
	}

	claimExpires := time.Now().UTC().Add(lease)
	updateQuery := `
		UPDATE queued_tasks SET
			claim_owner = $2, claim_expires_at = $3, attempts = attempts + 1
		WHERE id = $1`

	if _, err := tx.ExecContext(ctx, updateQuery, task.ID, workerID, claimExpires); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "claim task", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "commit claim transaction", err)
	}

	task.ClaimOwner = &workerID
	task.ClaimExpiresAt = &claimExpires
	task.Attempts++
	return &task, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, taskID, workerID string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM queued_tasks WHERE id = $1 AND claim_owner = $2`, taskID, workerID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "ack task", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Transient, "rows affected", err)
	}
	if rows == 0 {
		return apperr.New(apperr.Conflict, "ack: claim owner mismatch or task already gone")
	}
	return nil
}

// Nack implements the exponential backoff in spec.md §4.5, generalizing the
// teacher's MarkFailed transaction (read current attempts under FOR UPDATE,
// compute a new schedule, write it back) to the spec's delay formula instead
// of the teacher's fixed quadratic-seconds one.
func (q *PostgresQueue) Nack(ctx context.Context, taskID, workerID, reason string) error {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "begin nack transaction", err)
	}
	defer tx.Rollback()

	var task types.QueuedTask
	err = tx.GetContext(ctx, &task, `SELECT * FROM queued_tasks WHERE id = $1 AND claim_owner = $2 FOR UPDATE`, taskID, workerID)
	if err == sql.ErrNoRows {
		return apperr.New(apperr.Conflict, "nack: claim owner mismatch or task already gone")
	}
	if err != nil {
		return apperr.Wrap(apperr.Transient, "lock task for nack", err)
	}

	if task.Attempts >= q.opts.MaxAttempts {
		// The queue only stops tracking the task; the Transformation row is
		// not touched here. TransformationExecutor nacks only while
		// task.Attempts is below its own MaxAttempts and otherwise writes the
		// terminal failure and acks, so this branch is reached only when the
		// queue's MaxAttempts is the lower of the two.
		if _, err := tx.ExecContext(ctx, `DELETE FROM queued_tasks WHERE id = $1`, taskID); err != nil {
			return apperr.Wrap(apperr.Transient, "delete exhausted task", err)
		}
		return tx.Commit()
	}

	delay := backoffDelay(q.opts, task.Attempts)
	notBefore := time.Now().UTC().Add(delay)

	_, err = tx.ExecContext(ctx, `
		UPDATE queued_tasks SET claim_owner = NULL, claim_expires_at = NULL, not_before = $2
		WHERE id = $1`, taskID, notBefore)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "reschedule task", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Transient, "commit nack transaction", err)
	}

	if q.notify != nil {
		q.notify.Wake(ctx)
	}
	return nil
}

func (q *PostgresQueue) Cancel(ctx context.Context, taskID string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM queued_tasks WHERE id = $1 AND claim_owner IS NULL`, taskID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "cancel unclaimed task", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Transient, "rows affected", err)
	}
	if rows > 0 {
		return nil
	}

	// Claimed: set the cooperative cancel flag for the executor to observe.
	_, err = q.db.ExecContext(ctx, `UPDATE queued_tasks SET cancel_requested = true WHERE id = $1`, taskID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "set cancel flag", err)
	}
	return nil
}

func (q *PostgresQueue) CancelRequested(ctx context.Context, taskID string) (bool, error) {
	var requested bool
	err := q.db.GetContext(ctx, &requested, `SELECT cancel_requested FROM queued_tasks WHERE id = $1`, taskID)
	if err == sql.ErrNoRows {
		// Already acked/cancelled/gone — treat as cancelled so the caller
		// stops spending provider budget on a job nobody is waiting for.
		return true, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.Transient, "check cancel flag", err)
	}
	return requested, nil
}
