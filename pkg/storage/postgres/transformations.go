package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

type transformationRepository struct {
	db *sqlx.DB
}

func (r *transformationRepository) Create(ctx context.Context, subject types.Subject, t *types.Transformation) error {
	if err := setTenancyGuard(ctx, r.db, subject.WorkspaceID); err != nil {
		return apperr.Wrap(apperr.Transient, "set tenancy guard", err)
	}

	paramsJSON, err := json.Marshal(t.Parameters)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "marshal parameters", err)
	}

	query := `
		INSERT INTO transformations (
			id, workspace_id, user_id, document_id, kind, parameters, status,
			preset_id, attempts, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err = r.db.ExecContext(ctx, query,
		t.ID, subject.WorkspaceID, subject.UserID, t.DocumentID, t.Kind, paramsJSON,
		t.Status, t.PresetID, t.Attempts, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create transformation", err)
	}
	return nil
}

func (r *transformationRepository) Get(ctx context.Context, subject types.Subject, id string) (*types.Transformation, error) {
	var t types.Transformation
	query := `SELECT * FROM transformations WHERE id = $1 AND workspace_id = $2`

	err := r.db.GetContext(ctx, &t, query, id, subject.WorkspaceID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("transformation %s", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get transformation", err)
	}
	return &t, nil
}

func (r *transformationRepository) List(ctx context.Context, subject types.Subject, filter storage.TransformationFilter) ([]*types.Transformation, error) {
	query := `SELECT * FROM transformations WHERE workspace_id = $1`
	args := []interface{}{subject.WorkspaceID}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}

	var list []*types.Transformation
	if err := r.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list transformations", err)
	}
	return list, nil
}

func (r *transformationRepository) ListByDocument(ctx context.Context, subject types.Subject, documentID string) ([]*types.Transformation, error) {
	query := `SELECT * FROM transformations WHERE workspace_id = $1 AND document_id = $2 ORDER BY created_at DESC`

	var list []*types.Transformation
	if err := r.db.SelectContext(ctx, &list, query, subject.WorkspaceID, documentID); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list transformations by document", err)
	}
	return list, nil
}

// UpdateStatus is called only by the claim holder (TransformationExecutor).
// It is intentionally not workspace-scoped by Subject: the executor acts on
// behalf of the system, not a request-bound caller, and already knows the
// row's workspace_id from the claimed QueuedTask.
func (r *transformationRepository) UpdateStatus(ctx context.Context, id string, status types.TransformationStatus, errorReason *string) error {
	query := `
		UPDATE transformations SET
			status = $2,
			error_reason = $3,
			updated_at = NOW(),
			completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, status, errorReason, status.Terminal())
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update transformation status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Transient, "rows affected", err)
	}
	if rows == 0 {
		return apperr.NotFoundf("transformation %s", id)
	}
	return nil
}

func (r *transformationRepository) UpdateResult(ctx context.Context, id string, result string, providerUsed string, tokensUsed int64) error {
	query := `
		UPDATE transformations SET
			status = $2,
			result = $3,
			provider_used = $4,
			tokens_used = $5,
			updated_at = NOW(),
			completed_at = NOW()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, types.TransformationCompleted, result, providerUsed, tokensUsed)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update transformation result", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Transient, "rows affected", err)
	}
	if rows == 0 {
		return apperr.NotFoundf("transformation %s", id)
	}
	return nil
}

func (r *transformationRepository) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transformations SET attempts = attempts + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "increment transformation attempts", err)
	}
	return nil
}
