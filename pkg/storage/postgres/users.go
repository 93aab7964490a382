package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

type userRepository struct {
	db *sqlx.DB
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	var u types.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE email = $1`, email)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("user with email %s", email)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get user by email", err)
	}
	return &u, nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	var u types.User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("user %s", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "get user by id", err)
	}
	return &u, nil
}

func (r *userRepository) Create(ctx context.Context, u *types.User) error {
	query := `
		INSERT INTO users (id, workspace_id, email, password_hash, role, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := r.db.ExecContext(ctx, query, u.ID, u.WorkspaceID, u.Email, u.PasswordHash, u.Role, u.IsActive, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.Conflict, "email already registered")
		}
		return apperr.Wrap(apperr.Transient, "create user", err)
	}
	return nil
}
