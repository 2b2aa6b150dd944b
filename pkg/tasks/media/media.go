// Package media implements the audio-side task units: fetching the source
// recording, discovering participant tracks, padding, mixdown and waveform
// rendering. The DSP itself happens in the audio service; these bodies move
// references and guard idempotency with object store existence checks.
package media

import (
	"context"
	"fmt"
	"sort"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/services/audio"
	"github.com/cadenza-io/cadenza/pkg/services/objectstore"
	"github.com/cadenza-io/cadenza/pkg/services/recordings"
	"github.com/cadenza-io/cadenza/pkg/tasks"
)

// RecordingSource resolves input references into stored recordings.
type RecordingSource interface {
	Fetch(ctx context.Context, inputRef string) (*recordings.Recording, error)
	Participants(ctx context.Context, inputRef string) ([]models.Participant, error)
}

// AudioProcessor performs the opaque DSP operations.
type AudioProcessor interface {
	Pad(ctx context.Context, recordingKey, trackRef, outputKey string) (*audio.PadResult, error)
	Mixdown(ctx context.Context, paddedKeys []string, outputKey string) (*audio.MixdownResult, error)
	Waveform(ctx context.Context, mixKey, outputKey string) (*audio.WaveformResult, error)
}

type FetchRecordingHandler struct {
	source RecordingSource
}

func NewFetchRecordingHandler(source RecordingSource) *FetchRecordingHandler {
	return &FetchRecordingHandler{source: source}
}

func (h *FetchRecordingHandler) Type() models.TaskType { return models.TaskTypeFetchRecording }

func (h *FetchRecordingHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	inputRef := input.Param("input_reference")
	if inputRef == "" {
		return nil, tasks.Fatalf("fetch_recording: missing input_reference binding")
	}

	recording, err := h.source.Fetch(ctx, inputRef)
	if err != nil {
		return nil, fmt.Errorf("fetch recording %s: %w", inputRef, err)
	}

	return map[string]any{
		"recording_key": recording.Key,
		"duration_ms":   recording.DurationMs,
	}, nil
}

type FetchParticipantsHandler struct {
	source RecordingSource
}

func NewFetchParticipantsHandler(source RecordingSource) *FetchParticipantsHandler {
	return &FetchParticipantsHandler{source: source}
}

func (h *FetchParticipantsHandler) Type() models.TaskType { return models.TaskTypeFetchParticipants }

func (h *FetchParticipantsHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	inputRef := input.Param("input_reference")
	if inputRef == "" {
		return nil, tasks.Fatalf("fetch_participants: missing input_reference binding")
	}

	participants, err := h.source.Participants(ctx, inputRef)
	if err != nil {
		return nil, fmt.Errorf("fetch participants of %s: %w", inputRef, err)
	}

	items := make([]any, 0, len(participants))
	for _, p := range participants {
		items = append(items, map[string]any{
			"track_id":        p.TrackID,
			"track_reference": p.TrackRef,
			"name":            p.Name,
			"language":        p.Language,
		})
	}

	output := map[string]any{
		"participants": items,
		"track_count":  len(participants),
	}

	// The fan-out chains bind to this node, so the recording key rides
	// along rather than forcing children to reach back two levels.
	if parent := input.ParentOutput("fetch_recording"); parent != nil {
		output["recording_key"] = parent["recording_key"]
	}

	return output, nil
}

type PadTrackHandler struct {
	store objectstore.Store
	audio AudioProcessor
}

func NewPadTrackHandler(store objectstore.Store, processor AudioProcessor) *PadTrackHandler {
	return &PadTrackHandler{store: store, audio: processor}
}

func (h *PadTrackHandler) Type() models.TaskType { return models.TaskTypePadTrack }

func (h *PadTrackHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	trackID := input.Param("track_id")
	trackRef := input.Param("track_reference")

	if trackID == "" || trackRef == "" {
		return nil, tasks.Fatalf("pad_track: missing track bindings")
	}

	recordingKey := parentString(input, "fetch_participants", "recording_key")
	outputKey := fmt.Sprintf("runs/%s/padded/%s.flac", input.RunID, trackID)

	exists, err := h.store.Exists(ctx, outputKey)
	if err != nil {
		return nil, fmt.Errorf("check padded track %s: %w", outputKey, err)
	}

	if exists {
		return map[string]any{"padded_key": outputKey, "track_id": trackID}, nil
	}

	result, err := h.audio.Pad(ctx, recordingKey, trackRef, outputKey)
	if err != nil {
		return nil, fmt.Errorf("pad track %s: %w", trackID, err)
	}

	return map[string]any{
		"padded_key":  result.PaddedKey,
		"track_id":    trackID,
		"duration_ms": result.DurationMs,
	}, nil
}

type MixdownHandler struct {
	store objectstore.Store
	audio AudioProcessor
}

func NewMixdownHandler(store objectstore.Store, processor AudioProcessor) *MixdownHandler {
	return &MixdownHandler{store: store, audio: processor}
}

func (h *MixdownHandler) Type() models.TaskType { return models.TaskTypeMixdown }

func (h *MixdownHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	// Lenient fan-in: mix whichever padded tracks completed. A zero-track
	// run mixes the source recording itself.
	paddedKeys := collectParentStrings(input, "padded_key")
	if len(paddedKeys) == 0 {
		if recordingKey := parentString(input, "fetch_participants", "recording_key"); recordingKey != "" {
			paddedKeys = []string{recordingKey}
		}
	}

	if len(paddedKeys) == 0 {
		return nil, tasks.Fatalf("mixdown: no inputs available")
	}

	outputKey := fmt.Sprintf("runs/%s/mix.flac", input.RunID)

	exists, err := h.store.Exists(ctx, outputKey)
	if err != nil {
		return nil, fmt.Errorf("check mix %s: %w", outputKey, err)
	}

	if exists {
		return map[string]any{"mix_key": outputKey, "track_count": len(paddedKeys)}, nil
	}

	result, err := h.audio.Mixdown(ctx, paddedKeys, outputKey)
	if err != nil {
		return nil, fmt.Errorf("mixdown: %w", err)
	}

	return map[string]any{
		"mix_key":     result.MixKey,
		"duration_ms": result.DurationMs,
		"track_count": len(paddedKeys),
	}, nil
}

type WaveformHandler struct {
	store objectstore.Store
	audio AudioProcessor
}

func NewWaveformHandler(store objectstore.Store, processor AudioProcessor) *WaveformHandler {
	return &WaveformHandler{store: store, audio: processor}
}

func (h *WaveformHandler) Type() models.TaskType { return models.TaskTypeWaveform }

func (h *WaveformHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	mixKey := parentString(input, "mixdown", "mix_key")
	if mixKey == "" {
		return nil, tasks.Fatalf("waveform: parent mixdown produced no mix_key")
	}

	outputKey := fmt.Sprintf("runs/%s/waveform.json", input.RunID)

	exists, err := h.store.Exists(ctx, outputKey)
	if err != nil {
		return nil, fmt.Errorf("check waveform %s: %w", outputKey, err)
	}

	if exists {
		return map[string]any{"waveform_key": outputKey}, nil
	}

	result, err := h.audio.Waveform(ctx, mixKey, outputKey)
	if err != nil {
		return nil, fmt.Errorf("waveform: %w", err)
	}

	return map[string]any{
		"waveform_key": result.WaveformKey,
		"peaks":        result.Peaks,
	}, nil
}

func parentString(input tasks.Input, parentID, key string) string {
	output := input.ParentOutput(parentID)
	if output == nil {
		return ""
	}

	value, _ := output[key].(string)

	return value
}

// collectParentStrings gathers one string field from every parent output,
// ordered by parent node id so mix inputs are deterministic across retries.
func collectParentStrings(input tasks.Input, key string) []string {
	parentIDs := make([]string, 0, len(input.Parents))
	for parentID := range input.Parents {
		parentIDs = append(parentIDs, parentID)
	}

	sort.Strings(parentIDs)

	var values []string

	for _, parentID := range parentIDs {
		if value, ok := input.Parents[parentID][key].(string); ok && value != "" {
			values = append(values, value)
		}
	}

	return values
}
