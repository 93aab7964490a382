package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

type contextKey int

const subjectContextKey contextKey = iota

// authenticate extracts the bearer access credential, verifies it via the
// Gateway, and attaches the resulting Subject to the request context. Every
// route group under /api except the pre-auth /auth endpoints uses this.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		credential, ok := bearerToken(r)
		if !ok {
			s.writeError(w, r, apperr.New(apperr.Unauthenticated, "missing bearer credential"))
			return
		}

		subject, err := s.gateway.Authenticate(credential)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), subjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}

func subjectFrom(ctx context.Context) (types.Subject, bool) {
	subject, ok := ctx.Value(subjectContextKey).(types.Subject)
	return subject, ok
}

func mustSubject(s *Server, w http.ResponseWriter, r *http.Request) (types.Subject, bool) {
	subject, ok := subjectFrom(r.Context())
	if !ok {
		s.writeError(w, r, apperr.New(apperr.Unauthenticated, "missing authenticated subject"))
		return types.Subject{}, false
	}
	return subject, true
}
