// Package transcript implements the language-side task units: per-track
// transcription, the merge fan-in, topic detection and title/summary
// generation.
package transcript

import (
	"context"
	"fmt"
	"sort"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/services/llm"
	"github.com/cadenza-io/cadenza/pkg/services/speech"
	"github.com/cadenza-io/cadenza/pkg/tasks"
)

// Transcriber is the speech recognition seam.
type Transcriber interface {
	Transcribe(ctx context.Context, paddedKey, trackID, language, speaker string) (*speech.Transcript, error)
}

// LanguageModel is the topics/title/summary seam.
type LanguageModel interface {
	Topics(ctx context.Context, transcript map[string]any) ([]llm.Topic, error)
	Title(ctx context.Context, transcript map[string]any, topics []llm.Topic) (string, error)
	Summary(ctx context.Context, transcript map[string]any) (string, error)
}

type TranscribeTrackHandler struct {
	transcriber Transcriber
}

func NewTranscribeTrackHandler(transcriber Transcriber) *TranscribeTrackHandler {
	return &TranscribeTrackHandler{transcriber: transcriber}
}

func (h *TranscribeTrackHandler) Type() models.TaskType { return models.TaskTypeTranscribeTrack }

func (h *TranscribeTrackHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	trackID := input.Param("track_id")

	var paddedKey string

	for _, parentOutput := range input.Parents {
		if key, ok := parentOutput["padded_key"].(string); ok {
			paddedKey = key
		}
	}

	if paddedKey == "" {
		return nil, tasks.Fatalf("transcribe_track: parent produced no padded_key")
	}

	if input.Reporter != nil {
		input.Reporter.Progress(0)
	}

	result, err := h.transcriber.Transcribe(ctx, paddedKey, trackID, input.Param("language"), input.Param("speaker"))
	if err != nil {
		return nil, fmt.Errorf("transcribe track %s: %w", trackID, err)
	}

	if input.Reporter != nil {
		input.Reporter.Progress(100)
	}

	segments := make([]any, 0, len(result.Segments))
	for _, segment := range result.Segments {
		segments = append(segments, map[string]any{
			"speaker":  segment.Speaker,
			"start_ms": segment.StartMs,
			"end_ms":   segment.EndMs,
			"text":     segment.Text,
		})
	}

	return map[string]any{
		"track_id": trackID,
		"language": result.Language,
		"segments": segments,
	}, nil
}

type MergeTranscriptsHandler struct{}

func NewMergeTranscriptsHandler() *MergeTranscriptsHandler { return &MergeTranscriptsHandler{} }

func (h *MergeTranscriptsHandler) Type() models.TaskType { return models.TaskTypeMergeTranscripts }

// Execute merges whatever per-track transcripts completed. The join is
// lenient: a failed track drops out of the merge instead of failing the
// run. Zero tracks produce an empty transcript.
func (h *MergeTranscriptsHandler) Execute(_ context.Context, input tasks.Input) (map[string]any, error) {
	parentIDs := make([]string, 0, len(input.Parents))
	for parentID := range input.Parents {
		parentIDs = append(parentIDs, parentID)
	}

	sort.Strings(parentIDs)

	var segments []map[string]any

	merged := 0

	for _, parentID := range parentIDs {
		parentSegments, ok := input.Parents[parentID]["segments"].([]any)
		if !ok {
			continue
		}

		merged++

		for _, raw := range parentSegments {
			if segment, ok := raw.(map[string]any); ok {
				segments = append(segments, segment)
			}
		}
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return asInt64(segments[i]["start_ms"]) < asInt64(segments[j]["start_ms"])
	})

	out := make([]any, 0, len(segments))
	for _, segment := range segments {
		out = append(out, segment)
	}

	return map[string]any{
		"segments":      out,
		"merged_tracks": merged,
		"total_tracks":  len(input.Parents),
	}, nil
}

type DetectTopicsHandler struct {
	model LanguageModel
}

func NewDetectTopicsHandler(model LanguageModel) *DetectTopicsHandler {
	return &DetectTopicsHandler{model: model}
}

func (h *DetectTopicsHandler) Type() models.TaskType { return models.TaskTypeDetectTopics }

func (h *DetectTopicsHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	transcript := input.ParentOutput("merge_transcripts")
	if transcript == nil {
		return nil, tasks.Fatalf("detect_topics: no merged transcript")
	}

	topics, err := h.model.Topics(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("detect topics: %w", err)
	}

	items := make([]any, 0, len(topics))
	for _, topic := range topics {
		items = append(items, map[string]any{
			"label":    topic.Label,
			"start_ms": topic.StartMs,
			"end_ms":   topic.EndMs,
		})
	}

	// The transcript rides along for generate_title, whose only declared
	// parent is this node.
	return map[string]any{
		"topics":     items,
		"transcript": transcript,
	}, nil
}

type GenerateTitleHandler struct {
	model LanguageModel
}

func NewGenerateTitleHandler(model LanguageModel) *GenerateTitleHandler {
	return &GenerateTitleHandler{model: model}
}

func (h *GenerateTitleHandler) Type() models.TaskType { return models.TaskTypeGenerateTitle }

func (h *GenerateTitleHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	parent := input.ParentOutput("detect_topics")
	if parent == nil {
		return nil, tasks.Fatalf("generate_title: no topics output")
	}

	transcript, _ := parent["transcript"].(map[string]any)

	var topics []llm.Topic

	if rawTopics, ok := parent["topics"].([]any); ok {
		for _, raw := range rawTopics {
			if topic, ok := raw.(map[string]any); ok {
				label, _ := topic["label"].(string)
				topics = append(topics, llm.Topic{
					Label:   label,
					StartMs: asInt64(topic["start_ms"]),
					EndMs:   asInt64(topic["end_ms"]),
				})
			}
		}
	}

	title, err := h.model.Title(ctx, transcript, topics)
	if err != nil {
		return nil, fmt.Errorf("generate title: %w", err)
	}

	return map[string]any{"title": title}, nil
}

type GenerateSummaryHandler struct {
	model LanguageModel
}

func NewGenerateSummaryHandler(model LanguageModel) *GenerateSummaryHandler {
	return &GenerateSummaryHandler{model: model}
}

func (h *GenerateSummaryHandler) Type() models.TaskType { return models.TaskTypeGenerateSummary }

func (h *GenerateSummaryHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	transcript := input.ParentOutput("merge_transcripts")
	if transcript == nil {
		return nil, tasks.Fatalf("generate_summary: no merged transcript")
	}

	summary, err := h.model.Summary(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}

	return map[string]any{"summary": summary}, nil
}

func asInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
