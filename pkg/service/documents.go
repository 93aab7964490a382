package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/blobstore"
	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

// UploadDocumentInput is the validated multipart body of
// POST /documents/upload.
type UploadDocumentInput struct {
	Title            string
	OriginalFilename string
	ContentType      string
	Data             io.Reader
}

// DocumentService orchestrates document upload (persist bytes to BlobStore,
// then metadata to the Repository), list, get, and soft-delete.
type DocumentService struct {
	documents storage.DocumentRepository
	blobs     blobstore.BlobStore
}

// NewDocumentService builds a DocumentService.
func NewDocumentService(documents storage.DocumentRepository, blobs blobstore.BlobStore) *DocumentService {
	return &DocumentService{documents: documents, blobs: blobs}
}

// Upload stores the uploaded bytes, then persists document metadata
// pointing at the resulting blob ref.
func (s *DocumentService) Upload(ctx context.Context, subject types.Subject, input UploadDocumentInput) (*types.Document, error) {
	if input.Title == "" {
		return nil, apperr.InvalidInputf("title is required")
	}

	contentHash, ref, err := s.blobs.Put(ctx, input.Data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &types.Document{
		ID:               uuid.NewString(),
		WorkspaceID:      subject.WorkspaceID,
		UserID:           subject.UserID,
		Title:            input.Title,
		OriginalFilename: input.OriginalFilename,
		ContentType:      input.ContentType,
		BlobRef:          ref,
		ContentHash:      contentHash,
		Status:           types.DocumentReady,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.documents.Create(ctx, subject, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// List is a Repository passthrough, enforcing workspace scope via subject.
func (s *DocumentService) List(ctx context.Context, subject types.Subject, filter storage.DocumentFilter) ([]*types.Document, error) {
	return s.documents.List(ctx, subject, filter)
}

// Get is a Repository passthrough, enforcing workspace scope via subject.
func (s *DocumentService) Get(ctx context.Context, subject types.Subject, id string) (*types.Document, error) {
	return s.documents.Get(ctx, subject, id)
}

// Delete soft-deletes the document row. The underlying blob is left in
// place: BlobStore is content-addressed, so another document may share it,
// and spec.md's soft-delete semantics concern visibility, not storage
// reclamation.
func (s *DocumentService) Delete(ctx context.Context, subject types.Subject, id string) error {
	return s.documents.SoftDelete(ctx, subject, id)
}
