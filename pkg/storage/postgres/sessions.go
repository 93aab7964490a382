package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

type sessionRepository struct {
	db *sqlx.DB
}

func (r *sessionRepository) CreateSession(ctx context.Context, s *types.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, workspace_id, refresh_token_hash, issued_at, expires_at, revoked, parent_session_id)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7)`

	_, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.WorkspaceID, s.RefreshTokenHash, s.IssuedAt, s.ExpiresAt, s.ParentSessionID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.Conflict, "refresh credential collision")
		}
		return apperr.Wrap(apperr.Transient, "create session", err)
	}
	return nil
}

func (r *sessionRepository) GetSessionByRefreshHash(ctx context.Context, hash string) (*types.Session, error) {
	var s types.Session
	err := r.db.GetContext(ctx, &s, `SELECT * FROM sessions WHERE refresh_token_hash = $1`, hash)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get session by refresh hash", err)
	}
	return &s, nil
}

func (r *sessionRepository) RevokeSession(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET revoked = true WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "revoke session", err)
	}
	return nil
}

// RotateSession implements refresh-token rotation as a single transaction,
// grounded on the same FOR UPDATE claim idiom pkg/queue/postgres.go's Claim
// uses: lock the presented session's row first, so a second rotation
// attempt presenting the same token blocks until the first commits instead
// of racing it past the revoked check.
func (r *sessionRepository) RotateSession(ctx context.Context, presentedHash string, next *types.Session) (*types.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "begin rotate transaction", err)
	}
	defer tx.Rollback()

	var parent types.Session
	err = tx.GetContext(ctx, &parent, `SELECT * FROM sessions WHERE refresh_token_hash = $1 FOR UPDATE`, presentedHash)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.Unauthenticated, "unknown refresh credential")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "lock session for rotation", err)
	}

	if time.Now().UTC().After(parent.ExpiresAt) {
		return nil, apperr.New(apperr.Unauthenticated, "refresh credential expired")
	}

	if parent.Revoked {
		rootID := parent.ID
		for {
			var parentID sql.NullString
			err := tx.GetContext(ctx, &parentID, `SELECT parent_session_id FROM sessions WHERE id = $1`, rootID)
			if err != nil || !parentID.Valid {
				break
			}
			rootID = parentID.String
		}

		_, err = tx.ExecContext(ctx, `
			WITH RECURSIVE chain AS (
				SELECT id FROM sessions WHERE id = $1
				UNION ALL
				SELECT s.id FROM sessions s
				JOIN chain c ON s.parent_session_id = c.id
			)
			UPDATE sessions SET revoked = true WHERE id IN (SELECT id FROM chain)`, rootID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Fatal, "revoke replayed rotation chain", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, apperr.Wrap(apperr.Transient, "commit replay revoke", err)
		}
		return nil, apperr.New(apperr.Unauthenticated, "refresh credential already rotated")
	}

	// user_id, workspace_id, and parent_session_id come from the locked
	// parent row, not from the caller, since the caller only has the
	// presented hash — it cannot know whose session it is until this lookup.
	insertQuery := `
		INSERT INTO sessions (id, user_id, workspace_id, refresh_token_hash, issued_at, expires_at, revoked, parent_session_id)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7)`
	_, err = tx.ExecContext(ctx, insertQuery,
		next.ID, parent.UserID, parent.WorkspaceID, next.RefreshTokenHash,
		next.IssuedAt, next.ExpiresAt, parent.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.Conflict, "refresh credential collision")
		}
		return nil, apperr.Wrap(apperr.Transient, "create rotated session", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked = true WHERE id = $1`, parent.ID); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "revoke parent session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "commit rotate transaction", err)
	}
	return &parent, nil
}

// RootOf walks parent_session_id pointers back to the chain's root.
func (r *sessionRepository) RootOf(ctx context.Context, sessionID string) (string, error) {
	current := sessionID
	for {
		var parent sql.NullString
		err := r.db.GetContext(ctx, &parent, `SELECT parent_session_id FROM sessions WHERE id = $1`, current)
		if err == sql.ErrNoRows {
			return "", apperr.NotFoundf("session %s", current)
		}
		if err != nil {
			return "", apperr.Wrap(apperr.Transient, "walk session chain", err)
		}
		if !parent.Valid {
			return current, nil
		}
		current = parent.String
	}
}

// RevokeChainFrom marks rootID and every descendant (transitively linked by
// parent_session_id) as revoked, using a recursive CTE so the whole chain
// is invalidated in a single statement.
func (r *sessionRepository) RevokeChainFrom(ctx context.Context, rootID string) error {
	query := `
		WITH RECURSIVE chain AS (
			SELECT id FROM sessions WHERE id = $1
			UNION ALL
			SELECT s.id FROM sessions s
			JOIN chain c ON s.parent_session_id = c.id
		)
		UPDATE sessions SET revoked = true WHERE id IN (SELECT id FROM chain)`

	_, err := r.db.ExecContext(ctx, query, rootID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "revoke session chain", err)
	}
	return nil
}
