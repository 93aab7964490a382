// Package service implements the request-facing orchestration components
// of spec.md §4.11: TransformationService, DocumentService, PresetService,
// and AuthService, each composing a Repository, and where relevant the
// TaskQueue, EventBus, and PresetResolver, behind one method per HTTP
// operation of §6.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/events"
	"github.com/quillforge/quillforge/pkg/presets"
	"github.com/quillforge/quillforge/pkg/queue"
	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

// CreateTransformationInput is the validated request body of
// POST /transformations.
type CreateTransformationInput struct {
	DocumentID *string
	Kind       types.TransformationKind
	Parameters types.Params
	PresetID   *string
}

// TransformationService implements spec.md §4.11's create/list/get/cancel
// flow: validate, resolve parameters, persist pending, enqueue, publish
// transformation.started, and — on successful enqueue only, never on a
// retry — increment the resolved preset's usage_count.
type TransformationService struct {
	transformations storage.TransformationRepository
	documents       storage.DocumentRepository
	presets         storage.PresetRepository
	resolver        *presets.Resolver
	taskQueue       queue.TaskQueue
	bus             events.EventBus
}

// NewTransformationService builds a TransformationService.
func NewTransformationService(
	transformations storage.TransformationRepository,
	documents storage.DocumentRepository,
	presetRepo storage.PresetRepository,
	taskQueue queue.TaskQueue,
	bus events.EventBus,
) *TransformationService {
	return &TransformationService{
		transformations: transformations,
		documents:       documents,
		presets:         presetRepo,
		resolver:        presets.NewResolver(presetRepo),
		taskQueue:       taskQueue,
		bus:             bus,
	}
}

// Create implements spec.md §4.11 steps 1–7.
func (s *TransformationService) Create(ctx context.Context, subject types.Subject, input CreateTransformationInput) (*types.Transformation, error) {
	if err := validateKind(input.Kind); err != nil {
		return nil, err
	}

	if input.DocumentID != nil {
		if _, err := s.documents.Get(ctx, subject, *input.DocumentID); err != nil {
			return nil, err
		}
	}

	params, err := s.resolver.Resolve(ctx, subject, input.PresetID, input.Parameters)
	if err != nil {
		return nil, err
	}
	if err := validateParameters(input.Kind, params); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	transformation := &types.Transformation{
		ID:          uuid.NewString(),
		WorkspaceID: subject.WorkspaceID,
		UserID:      subject.UserID,
		DocumentID:  input.DocumentID,
		Kind:        input.Kind,
		Parameters:  params,
		Status:      types.TransformationPending,
		PresetID:    input.PresetID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.transformations.Create(ctx, subject, transformation); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(types.TaskPayload{
		TransformationID: transformation.ID,
		WorkspaceID:      subject.WorkspaceID,
		Kind:             input.Kind,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Fatal, "marshal task payload", err)
	}

	if err := s.taskQueue.Enqueue(ctx, &types.QueuedTask{
		ID:          transformation.ID,
		WorkspaceID: subject.WorkspaceID,
		NotBefore:   now,
		Payload:     payload,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	if input.PresetID != nil {
		// Best-effort: a failed increment must not fail the enqueue that
		// already succeeded — usage_count is an analytics signal, not a
		// billing source of truth.
		_ = s.presets.IncrementUsage(ctx, subject, *input.PresetID)
	}

	s.publishStarted(ctx, transformation)

	return transformation, nil
}

func (s *TransformationService) publishStarted(ctx context.Context, t *types.Transformation) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, events.WorkspaceTopic(t.WorkspaceID), &types.EventEnvelope{
		Kind: types.EventTransformationStarted,
		Payload: map[string]interface{}{
			"id":           t.ID,
			"kind":         string(t.Kind),
			"workspace_id": t.WorkspaceID,
		},
	})
}

// List is a Repository passthrough, enforcing workspace scope via subject.
func (s *TransformationService) List(ctx context.Context, subject types.Subject, filter storage.TransformationFilter) ([]*types.Transformation, error) {
	return s.transformations.List(ctx, subject, filter)
}

// Get is a Repository passthrough, enforcing workspace scope via subject.
func (s *TransformationService) Get(ctx context.Context, subject types.Subject, id string) (*types.Transformation, error) {
	return s.transformations.Get(ctx, subject, id)
}

// Cancel sets the cooperative cancel flag through TaskQueue.Cancel; the
// executor observes it on its next poll between provider attempts. The
// transformation row itself is not touched here — only the executor
// holding the claim writes the terminal `cancelled` status, per spec.md
// §4.7's single-writer rule.
func (s *TransformationService) Cancel(ctx context.Context, subject types.Subject, id string) error {
	if _, err := s.transformations.Get(ctx, subject, id); err != nil {
		return err
	}
	return s.taskQueue.Cancel(ctx, id)
}

func validateKind(kind types.TransformationKind) error {
	switch kind {
	case types.KindBlogPost, types.KindSocialMedia, types.KindEmailSequence,
		types.KindNewsletter, types.KindSummary, types.KindCustom:
		return nil
	default:
		return apperr.InvalidInputf("unknown transformation kind %q", kind)
	}
}
