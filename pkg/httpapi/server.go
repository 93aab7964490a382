// Package httpapi wires the HTTP API of spec.md §6 onto chi, grounded on
// the teacher's cmd/api-gateway router: one *chi.Mux, a standard
// middleware stack (RequestID, RealIP, Logger, Recoverer, Timeout, CORS),
// and a flat handler-per-route style rather than the teacher's REST
// sub-resource nesting, since this domain's resources (documents,
// transformations, presets) don't nest the way VMs/workers/environments
// did.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quillforge/quillforge/pkg/auth"
	"github.com/quillforge/quillforge/pkg/logging"
	"github.com/quillforge/quillforge/pkg/providers"
	"github.com/quillforge/quillforge/pkg/realtime"
	"github.com/quillforge/quillforge/pkg/service"
)

// Server holds every collaborator a handler may need. It carries no state
// of its own beyond these references.
type Server struct {
	auth            *service.AuthService
	documents       *service.DocumentService
	transformations *service.TransformationService
	presets         *service.PresetService
	providerReg     *providers.Registry
	hub             *realtime.Hub
	gateway         *auth.Gateway
	logger          logging.Logger
	startedAt       time.Time
}

// NewServer builds a Server. providerReg and hub may be nil: /ws responds
// 503 without a hub, and GET /api/providers lists no providers without a
// registry.
func NewServer(
	authSvc *service.AuthService,
	documents *service.DocumentService,
	transformations *service.TransformationService,
	presets *service.PresetService,
	providerReg *providers.Registry,
	hub *realtime.Hub,
	gateway *auth.Gateway,
	logger logging.Logger,
) *Server {
	return &Server{
		auth:            authSvc,
		documents:       documents,
		transformations: transformations,
		presets:         presets,
		providerReg:     providerReg,
		hub:             hub,
		gateway:         gateway,
		logger:          logger,
		startedAt:       time.Now().UTC(),
	}
}

// NewRouter builds the *chi.Mux exposing every endpoint of spec.md §6 plus
// the SUPPLEMENTED /healthz, /readyz, GET /api/providers, and /ws.
func NewRouter(s *Server) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.rateLimited("auth", s.handleRegister))
			r.Post("/login", s.rateLimited("auth", s.handleLogin))
			r.Post("/refresh", s.rateLimited("auth", s.handleRefresh))

			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)
				r.Post("/logout", s.handleLogout)
				r.Get("/me", s.handleMe)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/providers", s.handleListProviders)

			r.Route("/documents", func(r chi.Router) {
				r.Post("/upload", s.rateLimited("documents", s.handleUploadDocument))
				r.Get("/", s.handleListDocuments)
				r.Get("/{id}", s.handleGetDocument)
				r.Delete("/{id}", s.handleDeleteDocument)
			})

			r.Route("/transformations", func(r chi.Router) {
				r.Post("/", s.rateLimited("transformations", s.handleCreateTransformation))
				r.Get("/", s.handleListTransformations)
				r.Get("/{id}", s.handleGetTransformation)
				r.Get("/{id}/status", s.handleTransformationStatus)
				r.Post("/{id}/cancel", s.handleCancelTransformation)
			})

			r.Route("/transformation-presets", func(r chi.Router) {
				r.Get("/", s.handleListPresets)
				r.Post("/", s.handleCreatePreset)
				r.Patch("/{id}", s.handleUpdatePreset)
				r.Delete("/{id}", s.handleDeletePreset)
			})
		})
	})

	return r
}

func (s *Server) rateLimited(bucket string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, _ := subjectFrom(r.Context())
		if err := s.gateway.RateLimit(subject, bucket); err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r)
	}
}
