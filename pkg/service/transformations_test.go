package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/events"
	"github.com/quillforge/quillforge/pkg/queue"
	"github.com/quillforge/quillforge/pkg/types"
)

func newTestTransformationService() (*TransformationService, *fakeTransformationRepo, *fakeDocumentRepo, *fakePresetRepoForService, *queue.MemoryQueue, *events.MemoryEventBus) {
	transformations := newFakeTransformationRepo()
	documents := newFakeDocumentRepo()
	presets := newFakePresetRepoForService()
	q := queue.NewMemoryQueue(queue.DefaultOptions())
	bus := events.NewMemoryEventBus()
	svc := NewTransformationService(transformations, documents, presets, q, bus)
	return svc, transformations, documents, presets, q, bus
}

func TestCreate_ValidSummary_PersistsEnqueuesAndPublishes(t *testing.T) {
	svc, _, _, _, q, bus := newTestTransformationService()
	subject := types.Subject{UserID: "u1", WorkspaceID: "w1"}

	var received *types.EventEnvelope
	_, err := bus.Subscribe(context.Background(), events.WorkspaceTopic("w1"), func(ctx context.Context, e *types.EventEnvelope) {
		received = e
	})
	require.NoError(t, err)

	transformation, err := svc.Create(context.Background(), subject, CreateTransformationInput{
		Kind:       types.KindSummary,
		Parameters: types.Params{"length": 200},
	})
	require.NoError(t, err)
	assert.Equal(t, types.TransformationPending, transformation.Status)

	task, err := q.Claim(context.Background(), "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, transformation.ID, task.ID)

	var payload types.TaskPayload
	require.NoError(t, json.Unmarshal(task.Payload, &payload))
	assert.Equal(t, types.KindSummary, payload.Kind)

	require.NotNil(t, received)
	assert.Equal(t, types.EventTransformationStarted, received.Kind)
}

func TestCreate_UnknownDocument_NotFound(t *testing.T) {
	svc, _, _, _, _, _ := newTestTransformationService()
	subject := types.Subject{UserID: "u1", WorkspaceID: "w1"}

	documentID := "missing-doc"
	_, err := svc.Create(context.Background(), subject, CreateTransformationInput{
		Kind:       types.KindSummary,
		DocumentID: &documentID,
		Parameters: types.Params{"length": 200},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestCreate_InvalidParameters_Rejected(t *testing.T) {
	svc, _, _, _, _, _ := newTestTransformationService()
	subject := types.Subject{UserID: "u1", WorkspaceID: "w1"}

	_, err := svc.Create(context.Background(), subject, CreateTransformationInput{
		Kind:       types.KindSummary,
		Parameters: types.Params{"length": 1}, // below the 100 minimum
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestCreate_WithPreset_MergesParamsAndIncrementsUsage(t *testing.T) {
	svc, _, _, presets, _, _ := newTestTransformationService()
	subject := types.Subject{UserID: "u1", WorkspaceID: "w1"}

	presets.byID["p1"] = &types.Preset{
		ID: "p1", WorkspaceID: "w1", UserID: "u1", Kind: types.KindSummary,
		Parameters: types.Params{"length": 500},
	}

	presetID := "p1"
	_, err := svc.Create(context.Background(), subject, CreateTransformationInput{
		Kind:     types.KindSummary,
		PresetID: &presetID,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, presets.byID["p1"].UsageCount)
}

func TestCancel_UnclaimedTask_DeletesQueueRow(t *testing.T) {
	svc, _, _, _, q, _ := newTestTransformationService()
	subject := types.Subject{UserID: "u1", WorkspaceID: "w1"}

	transformation, err := svc.Create(context.Background(), subject, CreateTransformationInput{
		Kind:       types.KindSummary,
		Parameters: types.Params{"length": 200},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), subject, transformation.ID))

	task, err := q.Claim(context.Background(), "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, task)
}
