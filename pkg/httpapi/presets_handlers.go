package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/service"
	"github.com/quillforge/quillforge/pkg/types"
)

type presetResponse struct {
	Preset interface{} `json:"preset"`
}

type presetsListResponse struct {
	Presets interface{} `json:"presets"`
	Count   int         `json:"count"`
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	list, err := s.presets.ListAccessible(r.Context(), subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, presetsListResponse{Presets: list, Count: len(list)})
}

type createPresetRequest struct {
	Name        string       `json:"name"`
	Description *string      `json:"description"`
	Kind        string       `json:"kind"`
	Parameters  types.Params `json:"parameters"`
	IsShared    bool         `json:"is_shared"`
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}

	var req createPresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.InvalidInputf("malformed request body"))
		return
	}

	preset, err := s.presets.Create(r.Context(), subject, service.CreatePresetInput{
		Name:        req.Name,
		Description: req.Description,
		Kind:        types.TransformationKind(req.Kind),
		Parameters:  req.Parameters,
		IsShared:    req.IsShared,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, presetResponse{Preset: preset})
}

type updatePresetRequest struct {
	Name        *string      `json:"name"`
	Description *string      `json:"description"`
	Parameters  types.Params `json:"parameters"`
	IsShared    *bool        `json:"is_shared"`
}

func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}

	var req updatePresetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.InvalidInputf("malformed request body"))
		return
	}

	preset, err := s.presets.Update(r.Context(), subject, chi.URLParam(r, "id"), service.UpdatePresetInput{
		Name:        req.Name,
		Description: req.Description,
		Parameters:  req.Parameters,
		IsShared:    req.IsShared,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, presetResponse{Preset: preset})
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	if err := s.presets.Delete(r.Context(), subject, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	respondNoContent(w)
}
