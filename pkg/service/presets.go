package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

// CreatePresetInput is the validated body of POST /transformation-presets.
type CreatePresetInput struct {
	Name        string
	Description *string
	Kind        types.TransformationKind
	Parameters  types.Params
	IsShared    bool
}

// UpdatePresetInput is the validated body of PATCH /transformation-presets/{id}.
// Nil fields leave the corresponding column unchanged.
type UpdatePresetInput struct {
	Name        *string
	Description *string
	Parameters  types.Params
	IsShared    *bool
}

// PresetService implements spec.md §3's preset CRUD and accessibility
// rules: readable by any workspace member iff shared or owned, mutable
// only by the owner.
type PresetService struct {
	presets storage.PresetRepository
}

// NewPresetService builds a PresetService.
func NewPresetService(presets storage.PresetRepository) *PresetService {
	return &PresetService{presets: presets}
}

// Create persists a new preset owned by subject.
func (s *PresetService) Create(ctx context.Context, subject types.Subject, input CreatePresetInput) (*types.Preset, error) {
	if input.Name == "" {
		return nil, apperr.InvalidInputf("name is required")
	}
	if err := validateKind(input.Kind); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	preset := &types.Preset{
		ID:          uuid.NewString(),
		WorkspaceID: subject.WorkspaceID,
		UserID:      subject.UserID,
		Name:        input.Name,
		Description: input.Description,
		Kind:        input.Kind,
		Parameters:  input.Parameters,
		IsShared:    input.IsShared,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.presets.Create(ctx, subject, preset); err != nil {
		return nil, err
	}
	return preset, nil
}

// ListAccessible is a Repository passthrough.
func (s *PresetService) ListAccessible(ctx context.Context, subject types.Subject) ([]*types.Preset, error) {
	return s.presets.ListAccessible(ctx, subject)
}

// Update loads the preset (accessibility-checked by Get), rejects
// non-owners, applies the provided fields, and persists.
func (s *PresetService) Update(ctx context.Context, subject types.Subject, id string, input UpdatePresetInput) (*types.Preset, error) {
	preset, err := s.presets.Get(ctx, subject, id)
	if err != nil {
		return nil, err
	}
	if preset.UserID != subject.UserID {
		return nil, apperr.Forbiddenf("only the owner may update preset %s", id)
	}

	if input.Name != nil {
		preset.Name = *input.Name
	}
	if input.Description != nil {
		preset.Description = input.Description
	}
	if input.Parameters != nil {
		preset.Parameters = input.Parameters
	}
	if input.IsShared != nil {
		preset.IsShared = *input.IsShared
	}
	preset.UpdatedAt = time.Now().UTC()

	if err := s.presets.Update(ctx, subject, preset); err != nil {
		return nil, err
	}
	return preset, nil
}

// Delete rejects non-owners, then deletes.
func (s *PresetService) Delete(ctx context.Context, subject types.Subject, id string) error {
	preset, err := s.presets.Get(ctx, subject, id)
	if err != nil {
		return err
	}
	if preset.UserID != subject.UserID {
		return apperr.Forbiddenf("only the owner may delete preset %s", id)
	}
	return s.presets.Delete(ctx, subject, id)
}
