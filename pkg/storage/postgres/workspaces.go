package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

type workspaceRepository struct {
	db *sqlx.DB
}

func (r *workspaceRepository) Create(ctx context.Context, w *types.Workspace) error {
	query := `INSERT INTO workspaces (id, name, plan, is_active, created_at) VALUES ($1,$2,$3,$4,$5)`

	_, err := r.db.ExecContext(ctx, query, w.ID, w.Name, w.Plan, w.IsActive, w.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create workspace", err)
	}
	return nil
}

func (r *workspaceRepository) Get(ctx context.Context, id string) (*types.Workspace, error) {
	var w types.Workspace
	err := r.db.GetContext(ctx, &w, `SELECT * FROM workspaces WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("workspace %s", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get workspace", err)
	}
	return &w, nil
}
