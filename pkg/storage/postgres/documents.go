package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

type documentRepository struct {
	db *sqlx.DB
}

// setTenancyGuard sets app.current_workspace_id with set_config. The
// setting is transaction-local (is_local = true) and the call runs outside
// any transaction, so it does not carry over to the statement that follows,
// and no migration defines a policy that reads it. Workspace scoping rests
// on the explicit workspace_id filter every query below carries.
func setTenancyGuard(ctx context.Context, q sqlx.QueryerContext, workspaceID string) error {
	_, err := q.QueryContext(ctx, `SELECT set_config('app.current_workspace_id', $1, true)`, workspaceID)
	return err
}

func (r *documentRepository) Create(ctx context.Context, subject types.Subject, doc *types.Document) error {
	if err := setTenancyGuard(ctx, r.db, subject.WorkspaceID); err != nil {
		return apperr.Wrap(apperr.Transient, "set tenancy guard", err)
	}

	query := `
		INSERT INTO documents (
			id, workspace_id, user_id, title, original_filename, content_type,
			blob_ref, content_hash, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID, subject.WorkspaceID, doc.UserID, doc.Title, doc.OriginalFilename,
		doc.ContentType, doc.BlobRef, doc.ContentHash, doc.Status, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create document", err)
	}
	return nil
}

func (r *documentRepository) Get(ctx context.Context, subject types.Subject, id string) (*types.Document, error) {
	var doc types.Document
	query := `SELECT * FROM documents WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL`

	err := r.db.GetContext(ctx, &doc, query, id, subject.WorkspaceID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("document %s", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get document", err)
	}
	return &doc, nil
}

func (r *documentRepository) List(ctx context.Context, subject types.Subject, filter storage.DocumentFilter) ([]*types.Document, error) {
	query := `SELECT * FROM documents WHERE workspace_id = $1`
	args := []interface{}{subject.WorkspaceID}

	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}

	var docs []*types.Document
	if err := r.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list documents", err)
	}
	return docs, nil
}

func (r *documentRepository) SoftDelete(ctx context.Context, subject types.Subject, id string) error {
	query := `UPDATE documents SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND workspace_id = $2 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, subject.WorkspaceID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "soft delete document", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Transient, "rows affected", err)
	}
	if rows == 0 {
		return apperr.NotFoundf("document %s", id)
	}
	return nil
}
