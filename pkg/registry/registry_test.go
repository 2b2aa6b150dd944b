package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	taskType models.TaskType
}

func (h stubHandler) Type() models.TaskType { return h.taskType }

func (h stubHandler) Execute(context.Context, tasks.Input) (map[string]any, error) {
	return nil, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.Register(stubHandler{taskType: models.TaskTypeMixdown})

	handler, err := r.Handler(models.TaskTypeMixdown)
	require.NoError(t, err)
	assert.Equal(t, models.TaskTypeMixdown, handler.Type())

	_, err = r.Handler(models.TaskTypeWaveform)
	assert.Error(t, err)
}

func TestCompleteRequiresAllTaskTypes(t *testing.T) {
	r := NewRegistry(slog.Default())
	assert.Error(t, r.Complete())
}

func TestValidateOutputAcceptsValidPayload(t *testing.T) {
	r := NewRegistry(slog.Default())

	err := r.ValidateOutput(models.TaskTypeFetchRecording, map[string]any{
		"recording_key": "rec/abc.flac",
		"duration_ms":   90000,
	})
	assert.NoError(t, err)
}

func TestValidateOutputRejectsMissingField(t *testing.T) {
	r := NewRegistry(slog.Default())

	err := r.ValidateOutput(models.TaskTypeFetchRecording, map[string]any{
		"duration_ms": 90000,
	})
	require.Error(t, err)
	assert.True(t, tasks.IsFatal(err))
}

func TestValidateOutputSkipsUnschemdTypes(t *testing.T) {
	r := NewRegistry(slog.Default())
	assert.NoError(t, r.ValidateOutput(models.TaskTypeCleanup, map[string]any{"anything": true}))
}

func TestValidateParticipantsShape(t *testing.T) {
	r := NewRegistry(slog.Default())

	err := r.ValidateOutput(models.TaskTypeFetchParticipants, map[string]any{
		"track_count": 1,
		"participants": []any{
			map[string]any{"track_id": "t1", "track_reference": "ref"},
		},
	})
	assert.NoError(t, err)

	err = r.ValidateOutput(models.TaskTypeFetchParticipants, map[string]any{
		"track_count":  1,
		"participants": []any{map[string]any{"track_id": "t1"}},
	})
	assert.Error(t, err)
}
