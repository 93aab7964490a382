package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/types"
)

func TestPresetService_Create_PersistsOwnedPreset(t *testing.T) {
	svc := NewPresetService(newFakePresetRepoForService())
	subject := types.Subject{UserID: "u1", WorkspaceID: "w1"}

	preset, err := svc.Create(context.Background(), subject, CreatePresetInput{
		Name: "My Preset", Kind: types.KindSummary, Parameters: types.Params{"length": 300},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", preset.UserID)
	assert.False(t, preset.IsShared)
}

func TestPresetService_Update_NonOwner_Forbidden(t *testing.T) {
	repo := newFakePresetRepoForService()
	svc := NewPresetService(repo)
	other := types.Subject{UserID: "other", WorkspaceID: "w1"}

	repo.byID["p1"] = &types.Preset{ID: "p1", WorkspaceID: "w1", UserID: "owner", IsShared: true}

	name := "renamed"
	_, err := svc.Update(context.Background(), other, "p1", UpdatePresetInput{Name: &name})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
}

func TestPresetService_Update_Owner_AppliesPartialFields(t *testing.T) {
	repo := newFakePresetRepoForService()
	svc := NewPresetService(repo)
	owner := types.Subject{UserID: "owner", WorkspaceID: "w1"}

	repo.byID["p1"] = &types.Preset{
		ID: "p1", WorkspaceID: "w1", UserID: "owner", Name: "old",
		Parameters: types.Params{"length": 100},
	}

	name := "new name"
	updated, err := svc.Update(context.Background(), owner, "p1", UpdatePresetInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "new name", updated.Name)
	assert.Equal(t, types.Params{"length": 100}, updated.Parameters)
}

func TestPresetService_Delete_NonOwner_Forbidden(t *testing.T) {
	repo := newFakePresetRepoForService()
	svc := NewPresetService(repo)
	other := types.Subject{UserID: "other", WorkspaceID: "w1"}

	repo.byID["p1"] = &types.Preset{ID: "p1", WorkspaceID: "w1", UserID: "owner", IsShared: true}

	err := svc.Delete(context.Background(), other, "p1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
}
