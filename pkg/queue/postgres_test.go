package queue

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/quillforge/pkg/apperr"
)

func newMockPostgresQueue(t *testing.T, opts Options) (*PostgresQueue, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresQueue(sqlx.NewDb(db, "postgres"), opts, nil), mock
}

var taskCols = []string{
	"id", "workspace_id", "attempts", "not_before", "claim_owner",
	"claim_expires_at", "payload", "cancel_requested", "created_at",
}

// timeWithin matches a time.Time query argument inside [lo, hi].
type timeWithin struct{ lo, hi time.Time }

func (m timeWithin) Match(v driver.Value) bool {
	t, ok := v.(time.Time)
	return ok && !t.Before(m.lo) && !t.After(m.hi)
}

// Claim must select with FOR UPDATE SKIP LOCKED and commit the claim_owner
// update in the same transaction, so two workers racing for the same row
// never both succeed — the exclusivity guarantee the review flagged as
// unverified against real SQL.
func TestPostgresQueue_Claim_SelectsForUpdateSkipLockedThenClaims(t *testing.T) {
	q, mock := newMockPostgresQueue(t, DefaultOptions())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			"task-1", "ws-1", 0, time.Now(), nil, nil, []byte(`{}`), false, time.Now(),
		))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE queued_tasks SET")).
		WithArgs("task-1", "worker-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := q.Claim(context.Background(), "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, "worker-1", *task.ClaimOwner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Claim_NoEligibleRows_ReturnsNil(t *testing.T) {
	q, mock := newMockPostgresQueue(t, DefaultOptions())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	task, err := q.Claim(context.Background(), "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, task)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Nack below MaxAttempts reschedules with the configured backoff instead of
// the package default, so an operator's cfg.Worker.BackoffBase actually
// reaches the schedule.
func TestPostgresQueue_Nack_ReschedulesWithConfiguredBackoff(t *testing.T) {
	opts := Options{MaxAttempts: 5, BackoffBase: 2 * time.Second, BackoffCap: 6}
	q, mock := newMockPostgresQueue(t, opts)
	// attempts=1 with a 2s base: not_before = now + 2s*2^1 = now + 4s (the
	// package default 1s base would give now + 2s).
	start := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM queued_tasks WHERE id = $1 AND claim_owner = $2 FOR UPDATE")).
		WithArgs("task-1", "worker-1").
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			"task-1", "ws-1", 1, time.Now(), "worker-1", time.Now().Add(time.Minute), []byte(`{}`), false, time.Now(),
		))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE queued_tasks SET claim_owner = NULL, claim_expires_at = NULL, not_before = $2")).
		WithArgs("task-1", timeWithin{lo: start.Add(4 * time.Second), hi: start.Add(5 * time.Second)}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := q.Nack(context.Background(), "task-1", "worker-1", "provider timeout")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Nack_ExhaustedAttempts_DeletesTask(t *testing.T) {
	opts := Options{MaxAttempts: 2, BackoffBase: time.Second, BackoffCap: 6}
	q, mock := newMockPostgresQueue(t, opts)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM queued_tasks WHERE id = $1 AND claim_owner = $2 FOR UPDATE")).
		WithArgs("task-1", "worker-1").
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(
			"task-1", "ws-1", 2, time.Now(), "worker-1", time.Now().Add(time.Minute), []byte(`{}`), false, time.Now(),
		))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM queued_tasks WHERE id = $1")).
		WithArgs("task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := q.Nack(context.Background(), "task-1", "worker-1", "provider exhausted")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueue_Ack_ClaimOwnerMismatch_Conflict(t *testing.T) {
	q, mock := newMockPostgresQueue(t, DefaultOptions())

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM queued_tasks WHERE id = $1 AND claim_owner = $2")).
		WithArgs("task-1", "worker-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := q.Ack(context.Background(), "task-1", "worker-2")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}
