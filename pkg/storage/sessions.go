package storage

import (
	"context"

	"github.com/quillforge/quillforge/pkg/types"
)

// SessionRepository is the persistence surface for refresh-token rotation
// chains. Its method set matches auth.SessionRepo structurally so the
// repository returned by postgres.Store.Sessions() satisfies that interface
// without this package importing pkg/auth.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSessionByRefreshHash(ctx context.Context, hash string) (*types.Session, error)
	RevokeSession(ctx context.Context, id string) error
	RevokeChainFrom(ctx context.Context, rootID string) error
	RootOf(ctx context.Context, sessionID string) (string, error)
	// RotateSession atomically locks the session matching presentedHash,
	// then either inserts next as its child and revokes it, or — if it was
	// already revoked — revokes its whole descendant chain and reports the
	// replay, all under one row lock so two concurrent rotations of the same
	// token can never both succeed.
	RotateSession(ctx context.Context, presentedHash string, next *types.Session) (*types.Session, error)
}
