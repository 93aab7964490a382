package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

type presetRepository struct {
	db *sqlx.DB
}

func (r *presetRepository) Create(ctx context.Context, subject types.Subject, p *types.Preset) error {
	if err := setTenancyGuard(ctx, r.db, subject.WorkspaceID); err != nil {
		return apperr.Wrap(apperr.Transient, "set tenancy guard", err)
	}

	paramsJSON, err := json.Marshal(p.Parameters)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "marshal parameters", err)
	}

	query := `
		INSERT INTO presets (
			id, workspace_id, user_id, name, description, kind, parameters,
			is_shared, usage_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,$10)`

	_, err = r.db.ExecContext(ctx, query,
		p.ID, subject.WorkspaceID, subject.UserID, p.Name, p.Description, p.Kind,
		paramsJSON, p.IsShared, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "create preset", err)
	}
	return nil
}

// Get returns the preset if it belongs to subject's workspace AND is
// accessible to subject (shared, or owned by subject). A row that exists
// but is private to another user collapses to not_found, matching the
// §7 forbidden/not_found tenant-boundary rule extended to ownership.
func (r *presetRepository) Get(ctx context.Context, subject types.Subject, id string) (*types.Preset, error) {
	query := `
		SELECT * FROM presets
		WHERE id = $1 AND workspace_id = $2 AND (is_shared = true OR user_id = $3)`

	var p types.Preset
	err := r.db.GetContext(ctx, &p, query, id, subject.WorkspaceID, subject.UserID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("preset %s", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get preset", err)
	}
	return &p, nil
}

func (r *presetRepository) ListAccessible(ctx context.Context, subject types.Subject) ([]*types.Preset, error) {
	query := `
		SELECT * FROM presets
		WHERE workspace_id = $1 AND (is_shared = true OR user_id = $2)
		ORDER BY created_at DESC`

	var list []*types.Preset
	if err := r.db.SelectContext(ctx, &list, query, subject.WorkspaceID, subject.UserID); err != nil {
		return nil, apperr.Wrap(apperr.Transient, "list accessible presets", err)
	}
	return list, nil
}

// Update enforces owner-only write by looking up the row's owner first: a
// row missing from the workspace is apperr.NotFound, and a row owned by
// someone else is apperr.Forbidden per spec.md §7 (unlike tenant-boundary
// reads, ownership violations within the same workspace are surfaced as
// forbidden, not collapsed to not_found).
func (r *presetRepository) Update(ctx context.Context, subject types.Subject, p *types.Preset) error {
	existing, err := r.lookupOwner(ctx, subject.WorkspaceID, p.ID)
	if err != nil {
		return err
	}
	if existing != subject.UserID {
		return apperr.Forbiddenf("preset %s is owned by another user", p.ID)
	}

	paramsJSON, err := json.Marshal(p.Parameters)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "marshal parameters", err)
	}

	query := `
		UPDATE presets SET
			name = $3, description = $4, kind = $5, parameters = $6,
			is_shared = $7, updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2`

	_, err = r.db.ExecContext(ctx, query, p.ID, subject.WorkspaceID, p.Name, p.Description, p.Kind, paramsJSON, p.IsShared)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "update preset", err)
	}
	return nil
}

func (r *presetRepository) Delete(ctx context.Context, subject types.Subject, id string) error {
	existing, err := r.lookupOwner(ctx, subject.WorkspaceID, id)
	if err != nil {
		return err
	}
	if existing != subject.UserID {
		return apperr.Forbiddenf("preset %s is owned by another user", id)
	}

	_, err = r.db.ExecContext(ctx, `DELETE FROM presets WHERE id = $1 AND workspace_id = $2`, id, subject.WorkspaceID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "delete preset", err)
	}
	return nil
}

func (r *presetRepository) IncrementUsage(ctx context.Context, subject types.Subject, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE presets SET usage_count = usage_count + 1, updated_at = NOW() WHERE id = $1 AND workspace_id = $2`,
		id, subject.WorkspaceID)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "increment preset usage", err)
	}
	return nil
}

func (r *presetRepository) lookupOwner(ctx context.Context, workspaceID, id string) (string, error) {
	var ownerID string
	err := r.db.GetContext(ctx, &ownerID, `SELECT user_id FROM presets WHERE id = $1 AND workspace_id = $2`, id, workspaceID)
	if err == sql.ErrNoRows {
		return "", apperr.NotFoundf("preset %s", id)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.Transient, "lookup preset owner", err)
	}
	return ownerID, nil
}
