package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/service"
)

type registerRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	WorkspaceName string `json:"workspace_name"`
}

type userResponse struct {
	User interface{} `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.InvalidInputf("malformed request body"))
		return
	}

	user, err := s.auth.Register(r.Context(), service.RegisterInput{
		Email: req.Email, Password: req.Password, WorkspaceName: req.WorkspaceName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, userResponse{User: user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	ExpiresIn int64  `json:"expires_in"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.InvalidInputf("malformed request body"))
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenPairResponse{Access: pair.Access, Refresh: pair.Refresh, ExpiresIn: pair.ExpiresIn})
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.InvalidInputf("malformed request body"))
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.Refresh)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenPairResponse{Access: pair.Access, Refresh: pair.Refresh, ExpiresIn: pair.ExpiresIn})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	if err := s.auth.Logout(r.Context(), subject); err != nil {
		s.writeError(w, r, err)
		return
	}
	respondNoContent(w)
}

type meResponse struct {
	User      interface{} `json:"user"`
	Workspace interface{} `json:"workspace"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	user, workspace, err := s.auth.Me(r.Context(), subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, meResponse{User: user, Workspace: workspace})
}
