package media

import (
	"context"
	"testing"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/services/audio"
	"github.com/cadenza-io/cadenza/pkg/services/objectstore"
	"github.com/cadenza-io/cadenza/pkg/services/recordings"
	"github.com/cadenza-io/cadenza/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	recording    *recordings.Recording
	participants []models.Participant
	err          error
}

func (f *fakeSource) Fetch(context.Context, string) (*recordings.Recording, error) {
	return f.recording, f.err
}

func (f *fakeSource) Participants(context.Context, string) ([]models.Participant, error) {
	return f.participants, f.err
}

type fakeProcessor struct {
	padCalls     int
	mixdownCalls int
	mixdownKeys  []string
}

func (f *fakeProcessor) Pad(_ context.Context, _, _, outputKey string) (*audio.PadResult, error) {
	f.padCalls++

	return &audio.PadResult{PaddedKey: outputKey, DurationMs: 1000}, nil
}

func (f *fakeProcessor) Mixdown(_ context.Context, paddedKeys []string, outputKey string) (*audio.MixdownResult, error) {
	f.mixdownCalls++
	f.mixdownKeys = paddedKeys

	return &audio.MixdownResult{MixKey: outputKey, DurationMs: 1000}, nil
}

func (f *fakeProcessor) Waveform(_ context.Context, _, outputKey string) (*audio.WaveformResult, error) {
	return &audio.WaveformResult{WaveformKey: outputKey, Peaks: 800}, nil
}

func newStore(t *testing.T) objectstore.Store {
	t.Helper()

	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	return store
}

func TestFetchRecording(t *testing.T) {
	handler := NewFetchRecordingHandler(&fakeSource{
		recording: &recordings.Recording{Key: "rec/abc.flac", DurationMs: 90000},
	})

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID:  "r1",
		Params: map[string]any{"input_reference": "s3://recordings/abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "rec/abc.flac", output["recording_key"])
}

func TestFetchRecordingMissingBinding(t *testing.T) {
	handler := NewFetchRecordingHandler(&fakeSource{})

	_, err := handler.Execute(t.Context(), tasks.Input{RunID: "r1", Params: map[string]any{}})
	require.Error(t, err)
	assert.True(t, tasks.IsFatal(err))
}

func TestFetchParticipantsCarriesRecordingKey(t *testing.T) {
	handler := NewFetchParticipantsHandler(&fakeSource{
		participants: []models.Participant{{TrackID: "t1", TrackRef: "ref1"}},
	})

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID:  "r1",
		Params: map[string]any{"input_reference": "s3://recordings/abc"},
		Parents: map[string]map[string]any{
			"fetch_recording": {"recording_key": "rec/abc.flac"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, output["track_count"])
	assert.Equal(t, "rec/abc.flac", output["recording_key"])
}

func TestPadTrackIdempotent(t *testing.T) {
	store := newStore(t)
	processor := &fakeProcessor{}
	handler := NewPadTrackHandler(store, processor)

	input := tasks.Input{
		RunID:  "r1",
		Params: map[string]any{"track_id": "t1", "track_reference": "ref1"},
		Parents: map[string]map[string]any{
			"fetch_participants": {"recording_key": "rec/abc.flac"},
		},
	}

	output, err := handler.Execute(t.Context(), input)
	require.NoError(t, err)
	assert.Equal(t, "runs/r1/padded/t1.flac", output["padded_key"])
	assert.Equal(t, 1, processor.padCalls)

	// Pre-existing output short-circuits the re-execution.
	require.NoError(t, store.Put(t.Context(), "runs/r1/padded/t1.flac", []byte("audio")))

	output, err = handler.Execute(t.Context(), input)
	require.NoError(t, err)
	assert.Equal(t, "runs/r1/padded/t1.flac", output["padded_key"])
	assert.Equal(t, 1, processor.padCalls)
}

func TestMixdownCollectsPaddedTracksInOrder(t *testing.T) {
	processor := &fakeProcessor{}
	handler := NewMixdownHandler(newStore(t), processor)

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID: "r1",
		Parents: map[string]map[string]any{
			"pad_track:2": {"padded_key": "runs/r1/padded/t2.flac"},
			"pad_track:1": {"padded_key": "runs/r1/padded/t1.flac"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, output["track_count"])
	assert.Equal(t, []string{"runs/r1/padded/t1.flac", "runs/r1/padded/t2.flac"}, processor.mixdownKeys)
}

func TestMixdownZeroTracksFallsBackToRecording(t *testing.T) {
	processor := &fakeProcessor{}
	handler := NewMixdownHandler(newStore(t), processor)

	_, err := handler.Execute(t.Context(), tasks.Input{
		RunID: "r1",
		Parents: map[string]map[string]any{
			"fetch_participants": {"recording_key": "rec/abc.flac"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec/abc.flac"}, processor.mixdownKeys)
}

func TestWaveformRequiresMixKey(t *testing.T) {
	handler := NewWaveformHandler(newStore(t), &fakeProcessor{})

	_, err := handler.Execute(t.Context(), tasks.Input{
		RunID:   "r1",
		Parents: map[string]map[string]any{"mixdown": {}},
	})
	require.Error(t, err)
	assert.True(t, tasks.IsFatal(err))
}
