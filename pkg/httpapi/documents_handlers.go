package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/service"
	"github.com/quillforge/quillforge/pkg/storage"
)

const maxUploadMemory = 32 << 20 // 32MiB held in memory before spilling to temp files

type documentResponse struct {
	Document interface{} `json:"document"`
}

type documentsListResponse struct {
	Documents interface{} `json:"documents"`
	Count     int         `json:"count"`
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, r, apperr.InvalidInputf("malformed multipart upload: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, apperr.InvalidInputf("file field is required"))
		return
	}
	defer file.Close()

	title := r.FormValue("title")

	contentType := header.Header.Get("Content-Type")
	doc, err := s.documents.Upload(r.Context(), subject, service.UploadDocumentInput{
		Title:            title,
		OriginalFilename: header.Filename,
		ContentType:      contentType,
		Data:             file,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, documentResponse{Document: doc})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	docs, err := s.documents.List(r.Context(), subject, storage.DocumentFilter{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, documentsListResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	doc, err := s.documents.Get(r.Context(), subject, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, documentResponse{Document: doc})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	subject, ok := mustSubject(s, w, r)
	if !ok {
		return
	}
	if err := s.documents.Delete(r.Context(), subject, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	respondNoContent(w)
}
