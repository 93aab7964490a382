package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/security"
	"github.com/quillforge/quillforge/pkg/types"
)

// SessionRepo is the persistence surface SessionStore needs. Implemented by
// pkg/storage; kept as a narrow interface here so auth has no dependency on
// the concrete storage package (it only needs this shape).
type SessionRepo interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSessionByRefreshHash(ctx context.Context, hash string) (*types.Session, error)
	RevokeSession(ctx context.Context, id string) error
	RevokeChainFrom(ctx context.Context, rootID string) error
	RootOf(ctx context.Context, sessionID string) (string, error)
	RotateSession(ctx context.Context, presentedHash string, next *types.Session) (*types.Session, error)
}

// SessionStore issues and rotates refresh-credential pairs per spec §4.2.
type SessionStore struct {
	repo      SessionRepo
	issuer    *TokenIssuer
	refreshTTL time.Duration
}

// NewSessionStore builds a SessionStore.
func NewSessionStore(repo SessionRepo, issuer *TokenIssuer, refreshTTL time.Duration) *SessionStore {
	return &SessionStore{repo: repo, issuer: issuer, refreshTTL: refreshTTL}
}

// TokenPair is the credential pair returned by login and refresh.
type TokenPair struct {
	Access    string
	Refresh   string
	ExpiresIn int64
}

// Issue creates a fresh session (no parent) and its credential pair, used at
// login time.
func (s *SessionStore) Issue(ctx context.Context, userID, workspaceID string, role types.Role) (TokenPair, error) {
	refreshToken, refreshHash, err := security.GenerateRefreshToken()
	if err != nil {
		return TokenPair{}, apperr.Wrap(apperr.Fatal, "generate refresh credential", err)
	}

	sessionID := uuid.NewString()
	now := time.Now().UTC()
	session := &types.Session{
		ID:               sessionID,
		UserID:           userID,
		WorkspaceID:      workspaceID,
		RefreshTokenHash: refreshHash,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.refreshTTL),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return TokenPair{}, err
	}

	access, expiresAt, err := s.issuer.Issue(types.Subject{
		UserID: userID, WorkspaceID: workspaceID, Role: role, SessionID: sessionID,
	})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{Access: access, Refresh: refreshToken, ExpiresIn: int64(time.Until(expiresAt).Seconds())}, nil
}

// Refresh implements the rotation protocol of spec §4.2: the hash lookup,
// revoked check, child insert, and parent revoke all happen in one
// repository call under a row lock on the presented session (RotateSession),
// so two concurrent presentations of the same refresh token can never both
// produce a live child. roleFor looks up the session owner's current role
// so a role change since the original login is reflected in the new access
// credential; SessionStore itself has no dependency on the user repository,
// only this narrow callback.
func (s *SessionStore) Refresh(ctx context.Context, presentedRefreshToken string, roleFor func(ctx context.Context, userID string) (types.Role, error)) (TokenPair, error) {
	hash := security.HashToken(presentedRefreshToken)

	refreshToken, refreshHash, err := security.GenerateRefreshToken()
	if err != nil {
		return TokenPair{}, apperr.Wrap(apperr.Fatal, "generate refresh credential", err)
	}

	newSessionID := uuid.NewString()
	now := time.Now().UTC()
	newSession := &types.Session{
		ID:               newSessionID,
		RefreshTokenHash: refreshHash,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.refreshTTL),
	}

	parent, err := s.repo.RotateSession(ctx, hash, newSession)
	if err != nil {
		return TokenPair{}, err
	}
	newSession.UserID = parent.UserID
	newSession.WorkspaceID = parent.WorkspaceID
	newSession.ParentSessionID = &parent.ID

	role, err := roleFor(ctx, parent.UserID)
	if err != nil {
		return TokenPair{}, err
	}

	access, expiresAt, err := s.issuer.Issue(types.Subject{
		UserID: parent.UserID, WorkspaceID: parent.WorkspaceID, Role: role, SessionID: newSessionID,
	})
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{Access: access, Refresh: refreshToken, ExpiresIn: int64(time.Until(expiresAt).Seconds())}, nil
}

// Logout revokes the entire rotation chain rooted at the session's root.
func (s *SessionStore) Logout(ctx context.Context, sessionID string) error {
	rootID, err := s.repo.RootOf(ctx, sessionID)
	if err != nil {
		rootID = sessionID
	}
	return s.repo.RevokeChainFrom(ctx, rootID)
}
