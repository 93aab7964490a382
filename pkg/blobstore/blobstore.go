// Package blobstore defines the BlobStore capability spec.md §3 treats as
// an opaque external dependency (documents carry a blob_ref handle into
// it, never raw bytes in the entity tables) and provides a filesystem-backed
// implementation content-addressed by content_hash, per §6's "Blob store:
// content-addressed by content_hash."
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/quillforge/quillforge/pkg/apperr"
)

// BlobStore is the capability DocumentService depends on to persist and
// retrieve uploaded source bytes. No pack example owns an object-storage
// client concern (no S3/GCS/minio SDK appears anywhere in the corpus), so
// this is a deliberately minimal local implementation rather than a vendor
// adapter; swapping in a cloud-backed BlobStore means satisfying this same
// interface.
type BlobStore interface {
	// Put stores data and returns its content hash and an opaque ref.
	Put(ctx context.Context, data io.Reader) (contentHash string, ref string, err error)
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
}

// LocalStore is a filesystem-backed BlobStore, content-addressed: the ref
// and the on-disk filename both derive from the SHA-256 of the content, so
// identical uploads across documents share one blob.
type LocalStore struct {
	baseDir string
}

// NewLocalStore builds a LocalStore rooted at baseDir, creating it if
// necessary.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.Fatal, "create blob store directory", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) pathFor(hash string) string {
	return filepath.Join(s.baseDir, hash[:2], hash)
}

// Put streams data to a temp file while hashing it, then renames it into
// its content-addressed location — so a Put that fails partway never leaves
// a corrupt blob visible under its final name.
func (s *LocalStore) Put(ctx context.Context, data io.Reader) (string, string, error) {
	tmp, err := os.CreateTemp(s.baseDir, "upload-*")
	if err != nil {
		return "", "", apperr.Wrap(apperr.Transient, "create temp upload file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), data); err != nil {
		tmp.Close()
		return "", "", apperr.Wrap(apperr.Transient, "write upload to blob store", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", apperr.Wrap(apperr.Transient, "close upload temp file", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	finalPath := s.pathFor(hash)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", "", apperr.Wrap(apperr.Fatal, "create blob shard directory", err)
	}
	if _, err := os.Stat(finalPath); err == nil {
		// Content already stored under this hash; the upload is a dedup hit.
		return hash, hash, nil
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", "", apperr.Wrap(apperr.Transient, "finalize blob", err)
	}
	return hash, hash, nil
}

func (s *LocalStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFoundf("blob %s", ref)
		}
		return nil, apperr.Wrap(apperr.Transient, "open blob", err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	if err := os.Remove(s.pathFor(ref)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.Transient, "delete blob", err)
	}
	return nil
}
