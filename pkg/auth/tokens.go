// Package auth implements the AuthGateway and SessionStore: access-token
// issuance/verification, refresh-token rotation with replay-chain
// revocation, and per-route rate limiting.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

// claims is the JWT payload embedded in every access credential.
type claims struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies access credentials.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds a TokenIssuer with the given HMAC secret and
// access-credential lifetime.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a short-lived access credential embedding subject.
func (t *TokenIssuer) Issue(subject types.Subject) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(t.ttl)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:      subject.UserID,
		WorkspaceID: subject.WorkspaceID,
		SessionID:   subject.SessionID,
		Role:        string(subject.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(apperr.Fatal, "sign access credential", err)
	}
	return signed, expiresAt, nil
}

// Verify validates signature and expiry and returns the embedded Subject.
func (t *TokenIssuer) Verify(token string) (types.Subject, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.New(apperr.Unauthenticated, "unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return types.Subject{}, apperr.Wrap(apperr.Unauthenticated, "invalid or expired access credential", err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return types.Subject{}, apperr.New(apperr.Unauthenticated, "malformed access credential")
	}

	return types.Subject{
		UserID:      c.UserID,
		WorkspaceID: c.WorkspaceID,
		Role:        types.Role(c.Role),
		SessionID:   c.SessionID,
	}, nil
}
