package auth

import (
	"github.com/quillforge/quillforge/pkg/types"
)

// Gateway validates inbound requests and attaches a Subject per spec §4.1.
// Every downstream component that accepts a Subject MUST reject any request
// whose persisted record's workspace_id differs from subject.workspace_id —
// that check lives in pkg/storage, not here; Gateway's job ends at
// authentication and rate limiting.
type Gateway struct {
	issuer  *TokenIssuer
	limiter *RateLimiter
}

// NewGateway builds a Gateway.
func NewGateway(issuer *TokenIssuer, limiter *RateLimiter) *Gateway {
	return &Gateway{issuer: issuer, limiter: limiter}
}

// Authenticate verifies an access credential and returns the embedded
// Subject.
func (g *Gateway) Authenticate(credential string) (types.Subject, error) {
	return g.issuer.Verify(credential)
}

// RateLimit enforces the configured per-route limit for (subject, bucket).
func (g *Gateway) RateLimit(subject types.Subject, bucket string) error {
	if err := g.limiter.Allow(subject.WorkspaceID, bucket); err != nil {
		return err
	}
	return nil
}
