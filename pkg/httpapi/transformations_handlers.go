package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/service"
	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

type createTransformationRequest struct {
	DocumentID *string      `json:"document_id"`
	Kind       string       `json:"kind"`
	Parameters types.Params `json:"parameters"`
	PresetID   *string      `json:"preset_id"`
}

type transformationResponse struct {
	Transformation interface{} `json:"transformation"`
}

type transformationsListResponse struct {
	Transformations interface{} `json:"transformations"`
	Count           int         `json:"count"`
}

func (s *Server) handleCreateTransformation(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}

	var req createTransformationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.InvalidInputf("malformed request body"))
		return
	}

	transformation, err := s.transformations.Create(r.Context(), subject, service.CreateTransformationInput{
		DocumentID: req.DocumentID,
		Kind:       types.TransformationKind(req.Kind),
		Parameters: req.Parameters,
		PresetID:   req.PresetID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, transformationResponse{Transformation: transformation})
}

func (s *Server) handleListTransformations(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	filter := storage.TransformationFilter{Status: r.URL.Query().Get("status")}
	list, err := s.transformations.List(r.Context(), subject, filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transformationsListResponse{Transformations: list, Count: len(list)})
}

func (s *Server) handleGetTransformation(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	transformation, err := s.transformations.Get(r.Context(), subject, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transformationResponse{Transformation: transformation})
}

type transformationStatusResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
}

func (s *Server) handleTransformationStatus(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	transformation, err := s.transformations.Get(r.Context(), subject, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, transformationStatusResponse{
		ID:       transformation.ID,
		Status:   string(transformation.Status),
		Attempts: transformation.Attempts,
	})
}

func (s *Server) handleCancelTransformation(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	if err := s.transformations.Cancel(r.Context(), subject, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	respondAccepted(w)
}
