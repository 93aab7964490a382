// Package storage defines the repositories over the backing database (the
// task queue's queued_tasks table is reached separately through pkg/queue).
// Document, transformation and preset operations take a types.Subject and
// filter by workspace_id; rows belonging to another workspace are reported
// as apperr.NotFound, never apperr.Forbidden, per spec.md §7's collapse
// rule. The user, workspace and session repositories, and the executor's
// UpdateStatus/UpdateResult/IncrementAttempts writes, take no Subject.
package storage

import (
	"context"

	"github.com/quillforge/quillforge/pkg/types"
)

// DocumentFilter narrows a documents.list call.
type DocumentFilter struct {
	IncludeDeleted bool
	Limit          int
}

// DocumentRepository is the workspace-scoped CRUD surface for documents.
type DocumentRepository interface {
	Create(ctx context.Context, subject types.Subject, doc *types.Document) error
	Get(ctx context.Context, subject types.Subject, id string) (*types.Document, error)
	List(ctx context.Context, subject types.Subject, filter DocumentFilter) ([]*types.Document, error)
	SoftDelete(ctx context.Context, subject types.Subject, id string) error
}

// TransformationFilter narrows a transformations.list call.
type TransformationFilter struct {
	Status string
	Limit  int
}

// TransformationRepository is the workspace-scoped CRUD surface for
// transformations.
type TransformationRepository interface {
	Create(ctx context.Context, subject types.Subject, t *types.Transformation) error
	Get(ctx context.Context, subject types.Subject, id string) (*types.Transformation, error)
	List(ctx context.Context, subject types.Subject, filter TransformationFilter) ([]*types.Transformation, error)
	ListByDocument(ctx context.Context, subject types.Subject, documentID string) ([]*types.Transformation, error)
	// UpdateStatus is called only by the component holding the job's active
	// claim (TransformationExecutor); it writes status and, for terminal
	// writes, completed_at.
	UpdateStatus(ctx context.Context, id string, status types.TransformationStatus, errorReason *string) error
	// UpdateResult persists a successful completion's output fields
	// alongside the terminal status write.
	UpdateResult(ctx context.Context, id string, result string, providerUsed string, tokensUsed int64) error
	IncrementAttempts(ctx context.Context, id string) error
}

// PresetRepository is the workspace-scoped CRUD surface for presets.
// Accessibility per spec.md §3: readable by any workspace member iff
// is_shared or user_id == caller; only the owner may update or delete.
type PresetRepository interface {
	Create(ctx context.Context, subject types.Subject, p *types.Preset) error
	Get(ctx context.Context, subject types.Subject, id string) (*types.Preset, error)
	ListAccessible(ctx context.Context, subject types.Subject) ([]*types.Preset, error)
	Update(ctx context.Context, subject types.Subject, p *types.Preset) error
	Delete(ctx context.Context, subject types.Subject, id string) error
	IncrementUsage(ctx context.Context, subject types.Subject, id string) error
}

// UserRepository is the CRUD surface for users (not workspace-scoped on
// read since login happens before a workspace is known).
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	GetByID(ctx context.Context, id string) (*types.User, error)
	Create(ctx context.Context, u *types.User) error
}

// WorkspaceRepository is the CRUD surface for workspaces.
type WorkspaceRepository interface {
	Create(ctx context.Context, w *types.Workspace) error
	Get(ctx context.Context, id string) (*types.Workspace, error)
}

// Store is the facade exposing per-entity repositories, following the
// teacher's postgres.Store pattern of one struct holding every repository
// behind accessor methods.
type Store interface {
	Documents() DocumentRepository
	Transformations() TransformationRepository
	Presets() PresetRepository
	Users() UserRepository
	Workspaces() WorkspaceRepository
	Sessions() SessionRepository
	Close() error
}
