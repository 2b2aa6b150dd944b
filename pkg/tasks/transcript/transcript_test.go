package transcript

import (
	"context"
	"testing"

	"github.com/cadenza-io/cadenza/pkg/services/llm"
	"github.com/cadenza-io/cadenza/pkg/services/speech"
	"github.com/cadenza-io/cadenza/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	transcript *speech.Transcript
	err        error
}

func (f *fakeTranscriber) Transcribe(context.Context, string, string, string, string) (*speech.Transcript, error) {
	return f.transcript, f.err
}

type fakeModel struct {
	topics  []llm.Topic
	title   string
	summary string
}

func (f *fakeModel) Topics(context.Context, map[string]any) ([]llm.Topic, error) {
	return f.topics, nil
}

func (f *fakeModel) Title(context.Context, map[string]any, []llm.Topic) (string, error) {
	return f.title, nil
}

func (f *fakeModel) Summary(context.Context, map[string]any) (string, error) {
	return f.summary, nil
}

type recordingReporter struct {
	progress []float64
}

func (r *recordingReporter) Progress(percent float64) { r.progress = append(r.progress, percent) }

func TestTranscribeTrack(t *testing.T) {
	handler := NewTranscribeTrackHandler(&fakeTranscriber{
		transcript: &speech.Transcript{
			TrackID:  "t1",
			Language: "en",
			Segments: []speech.Segment{
				{Speaker: "alice", StartMs: 0, EndMs: 1200, Text: "hello"},
			},
		},
	})

	reporter := &recordingReporter{}

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID:  "r1",
		Params: map[string]any{"track_id": "t1"},
		Parents: map[string]map[string]any{
			"pad_track:t1": {"padded_key": "runs/r1/padded/t1.flac"},
		},
		Reporter: reporter,
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", output["track_id"])
	assert.Equal(t, "en", output["language"])
	assert.Len(t, output["segments"], 1)
	assert.Equal(t, []float64{0, 100}, reporter.progress)
}

func TestTranscribeTrackMissingPaddedKey(t *testing.T) {
	handler := NewTranscribeTrackHandler(&fakeTranscriber{})

	_, err := handler.Execute(t.Context(), tasks.Input{
		RunID:   "r1",
		Parents: map[string]map[string]any{"pad_track:t1": {}},
	})
	require.Error(t, err)
	assert.True(t, tasks.IsFatal(err))
}

func TestMergeTranscriptsOrdersByStart(t *testing.T) {
	handler := NewMergeTranscriptsHandler()

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID: "r1",
		Parents: map[string]map[string]any{
			"transcribe_track:t2": {"segments": []any{
				map[string]any{"speaker": "bob", "start_ms": int64(500), "text": "second"},
			}},
			"transcribe_track:t1": {"segments": []any{
				map[string]any{"speaker": "alice", "start_ms": int64(0), "text": "first"},
				map[string]any{"speaker": "alice", "start_ms": int64(900), "text": "third"},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, output["merged_tracks"])

	segments, ok := output["segments"].([]any)
	require.True(t, ok)
	require.Len(t, segments, 3)

	texts := make([]string, 0, len(segments))
	for _, raw := range segments {
		segment := raw.(map[string]any)
		texts = append(texts, segment["text"].(string))
	}

	assert.Equal(t, []string{"first", "second", "third"}, texts)
}

func TestMergeTranscriptsSkipsFailedTracks(t *testing.T) {
	handler := NewMergeTranscriptsHandler()

	// A lenient join only hands over the parents that completed. A parent
	// without segments counts toward the total but not the merge.
	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID: "r1",
		Parents: map[string]map[string]any{
			"transcribe_track:t1": {"segments": []any{
				map[string]any{"speaker": "alice", "start_ms": int64(0), "text": "only"},
			}},
			"fetch_participants": {"track_count": 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, output["merged_tracks"])
	assert.Len(t, output["segments"], 1)
}

func TestMergeTranscriptsZeroTracks(t *testing.T) {
	handler := NewMergeTranscriptsHandler()

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID:   "r1",
		Parents: map[string]map[string]any{"fetch_participants": {"track_count": 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, output["merged_tracks"])
	assert.Empty(t, output["segments"])
}

func TestDetectTopicsCarriesTranscript(t *testing.T) {
	handler := NewDetectTopicsHandler(&fakeModel{
		topics: []llm.Topic{{Label: "planning", StartMs: 0, EndMs: 60000}},
	})

	transcript := map[string]any{"segments": []any{}}

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID:   "r1",
		Parents: map[string]map[string]any{"merge_transcripts": transcript},
	})
	require.NoError(t, err)
	assert.Len(t, output["topics"], 1)
	assert.Equal(t, transcript, output["transcript"])
}

func TestGenerateTitleDecodesTopics(t *testing.T) {
	model := &fakeModel{title: "Weekly Planning Sync"}
	handler := NewGenerateTitleHandler(model)

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID: "r1",
		Parents: map[string]map[string]any{
			"detect_topics": {
				"topics": []any{
					map[string]any{"label": "planning", "start_ms": float64(0), "end_ms": float64(60000)},
				},
				"transcript": map[string]any{"segments": []any{}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Weekly Planning Sync", output["title"])
}

func TestGenerateSummaryRequiresTranscript(t *testing.T) {
	handler := NewGenerateSummaryHandler(&fakeModel{summary: "A short recap."})

	_, err := handler.Execute(t.Context(), tasks.Input{RunID: "r1"})
	require.Error(t, err)
	assert.True(t, tasks.IsFatal(err))

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID:   "r1",
		Parents: map[string]map[string]any{"merge_transcripts": {"segments": []any{}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "A short recap.", output["summary"])
}
