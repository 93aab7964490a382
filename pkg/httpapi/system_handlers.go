package httpapi

import (
	"net/http"
	"time"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

type healthzResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// handleHealthz is a liveness probe: if the process can answer HTTP at all,
// it's up. It never touches downstream dependencies.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthzResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).String(),
	})
}

type readyzResponse struct {
	Status           string `json:"status"`
	ActiveWSSessions int    `json:"active_ws_sessions"`
}

// handleReadyz is a readiness probe: reports whether the realtime hub (if
// configured) is accepting sessions. A real deployment would also probe the
// database and broker; those live behind interfaces this package doesn't
// own and are out of scope for the HTTP surface itself.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	sessions := 0
	if s.hub != nil {
		sessions = s.hub.SessionCount()
	}
	respondJSON(w, http.StatusOK, readyzResponse{Status: "ready", ActiveWSSessions: sessions})
}

type providerStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type providersResponse struct {
	Providers []providerStatus `json:"providers"`
}

// handleListProviders is the SUPPLEMENTED GET /api/providers surface:
// read-only breaker-state visibility for operators, restricted to
// admin/owner roles since it exposes infrastructure health, not tenant data.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	if subject.Role != types.RoleAdmin && subject.Role != types.RoleOwner {
		s.writeError(w, r, apperr.Forbiddenf("provider status is restricted to admins and owners"))
		return
	}

	if s.providerReg == nil {
		respondJSON(w, http.StatusOK, providersResponse{Providers: []providerStatus{}})
		return
	}

	names := s.providerReg.Names()
	out := make([]providerStatus, 0, len(names))
	for _, name := range names {
		state, _ := s.providerReg.BreakerState(name)
		out = append(out, providerStatus{Name: name, State: state})
	}
	respondJSON(w, http.StatusOK, providersResponse{Providers: out})
}
