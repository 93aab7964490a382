package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/auth"
	"github.com/quillforge/quillforge/pkg/security"
	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

// RegisterInput is the validated body of POST /auth/register.
type RegisterInput struct {
	Email         string
	Password      string
	WorkspaceName string
}

// AuthService wraps auth.Gateway and auth.SessionStore with the
// HTTP-facing register/login/refresh/logout/me operations of spec.md §6,
// owning password-hash verification on login (see Login for how a hash
// below the configured cost is handled).
type AuthService struct {
	users      storage.UserRepository
	workspaces storage.WorkspaceRepository
	sessions   *auth.SessionStore
	gateway    *auth.Gateway
	hasher     *security.PasswordHasher
}

// NewAuthService builds an AuthService.
func NewAuthService(
	users storage.UserRepository,
	workspaces storage.WorkspaceRepository,
	sessions *auth.SessionStore,
	gateway *auth.Gateway,
	hasher *security.PasswordHasher,
) *AuthService {
	return &AuthService{users: users, workspaces: workspaces, sessions: sessions, gateway: gateway, hasher: hasher}
}

// Register creates a new workspace (named by WorkspaceName, defaulting to a
// name derived from the email's local part) and its first user as owner.
// Multi-workspace membership and joining an existing workspace by
// invitation are out of spec.md §3's scope ("multi-workspace membership is
// out of scope").
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*types.User, error) {
	if input.Email == "" || input.Password == "" {
		return nil, apperr.InvalidInputf("email and password are required")
	}
	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return nil, apperr.New(apperr.Conflict, "email already registered")
	} else if apperr.KindOf(err) != apperr.NotFound {
		return nil, err
	}

	workspaceName := input.WorkspaceName
	if workspaceName == "" {
		workspaceName = strings.SplitN(input.Email, "@", 2)[0] + "'s workspace"
	}
	now := time.Now().UTC()
	workspace := &types.Workspace{
		ID:        uuid.NewString(),
		Name:      workspaceName,
		Plan:      "free",
		IsActive:  true,
		CreatedAt: now,
	}
	if err := s.workspaces.Create(ctx, workspace); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Fatal, "hash password", err)
	}

	user := &types.User{
		ID:           uuid.NewString(),
		WorkspaceID:  workspace.ID,
		Email:        input.Email,
		PasswordHash: passwordHash,
		Role:         types.RoleOwner,
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a fresh session pair. When the
// stored hash is below the configured bcrypt cost, a new hash is computed
// and set on the loaded user value only; UserRepository has no update
// method, so the stored hash is not replaced.
func (s *AuthService) Login(ctx context.Context, email, password string) (auth.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return auth.TokenPair{}, apperr.New(apperr.Unauthenticated, "invalid email or password")
		}
		return auth.TokenPair{}, err
	}
	if !user.IsActive {
		return auth.TokenPair{}, apperr.New(apperr.Unauthenticated, "account disabled")
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		return auth.TokenPair{}, apperr.New(apperr.Unauthenticated, "invalid email or password")
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		if rehashed, err := s.hasher.Hash(password); err == nil {
			user.PasswordHash = rehashed
			// The rehashed value is not written back to storage; a failed
			// rehash does not fail the login that already succeeded.
		}
	}

	return s.sessions.Issue(ctx, user.ID, user.WorkspaceID, user.Role)
}

// Refresh rotates a refresh credential per spec.md §4.2, re-resolving the
// user's current role rather than trusting a value cached from login.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	return s.sessions.Refresh(ctx, refreshToken, func(ctx context.Context, userID string) (types.Role, error) {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return "", err
		}
		return user.Role, nil
	})
}

// Logout revokes the caller's entire rotation chain.
func (s *AuthService) Logout(ctx context.Context, subject types.Subject) error {
	return s.sessions.Logout(ctx, subject.SessionID)
}

// Me returns the authenticated user and their workspace.
func (s *AuthService) Me(ctx context.Context, subject types.Subject) (*types.User, *types.Workspace, error) {
	user, err := s.users.GetByID(ctx, subject.UserID)
	if err != nil {
		return nil, nil, err
	}
	workspace, err := s.workspaces.Get(ctx, subject.WorkspaceID)
	if err != nil {
		return nil, nil, err
	}
	return user, workspace, nil
}
