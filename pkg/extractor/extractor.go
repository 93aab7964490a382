// Package extractor defines the ContentExtractor capability used to turn an
// uploaded document's bytes into the plain text a TransformationExecutor
// feeds to a provider. Extraction (PDF/DOCX/HTML parsing) is an external
// capability out of spec.md §1's scope; this package fixes the interface
// and provides a plain-text passthrough implementation sufficient for
// text/plain uploads. No other package in this module imports it:
// TransformationService and the executor do not call an extractor.
package extractor

import (
	"context"
	"io"

	"github.com/quillforge/quillforge/pkg/apperr"
)

// ContentExtractor turns a document's raw bytes into plain text suitable
// for a provider prompt.
type ContentExtractor interface {
	Extract(ctx context.Context, contentType string, data io.Reader) (string, error)
}

// PlaintextExtractor handles text/plain, text/markdown and an empty content
// type as-is and rejects everything else; richer formats need a dedicated adapter (PDF,
// DOCX) satisfying the same interface.
type PlaintextExtractor struct{}

func NewPlaintextExtractor() *PlaintextExtractor { return &PlaintextExtractor{} }

func (e *PlaintextExtractor) Extract(ctx context.Context, contentType string, data io.Reader) (string, error) {
	switch contentType {
	case "text/plain", "text/markdown", "":
		raw, err := io.ReadAll(data)
		if err != nil {
			return "", apperr.Wrap(apperr.Transient, "read document content", err)
		}
		return string(raw), nil
	default:
		return "", apperr.InvalidInputf("unsupported content type %q for extraction", contentType)
	}
}
