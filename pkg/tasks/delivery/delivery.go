// Package delivery implements the tail of the pipeline: assembling the
// episode record, notifying downstream channels and cleaning intermediates.
// Notify tasks are fire-with-retry and best effort: a run can complete even
// when delivery ultimately fails, as long as the failure is recorded.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/services/objectstore"
	"github.com/cadenza-io/cadenza/pkg/tasks"
)

type FinalizeHandler struct {
	store objectstore.Store
}

func NewFinalizeHandler(store objectstore.Store) *FinalizeHandler {
	return &FinalizeHandler{store: store}
}

func (h *FinalizeHandler) Type() models.TaskType { return models.TaskTypeFinalize }

func (h *FinalizeHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	mix := input.ParentOutput("mixdown")
	if mix == nil {
		return nil, tasks.Fatalf("finalize: no mixdown output")
	}

	mixKey, _ := mix["mix_key"].(string)

	episode := map[string]any{
		"run_id":  input.RunID,
		"mix_key": mixKey,
	}

	if waveform := input.ParentOutput("waveform"); waveform != nil {
		episode["waveform_key"] = waveform["waveform_key"]
	}

	if title := input.ParentOutput("generate_title"); title != nil {
		episode["title"] = title["title"]
	}

	if summary := input.ParentOutput("generate_summary"); summary != nil {
		episode["summary"] = summary["summary"]
	}

	episodeKey := fmt.Sprintf("runs/%s/episode.json", input.RunID)

	data, err := json.MarshalIndent(episode, "", "  ")
	if err != nil {
		return nil, tasks.Fatal(fmt.Errorf("encode episode: %w", err))
	}

	// Unconditional put: writing the same document twice is harmless.
	if err := h.store.Put(ctx, episodeKey, data); err != nil {
		return nil, fmt.Errorf("store episode: %w", err)
	}

	output := map[string]any{
		"episode_key": episodeKey,
		"mix_key":     mixKey,
	}

	if title, ok := episode["title"].(string); ok {
		output["title"] = title
	}

	if summary, ok := episode["summary"].(string); ok {
		output["summary"] = summary
	}

	return output, nil
}

type CleanupHandler struct {
	store objectstore.Store
}

func NewCleanupHandler(store objectstore.Store) *CleanupHandler {
	return &CleanupHandler{store: store}
}

func (h *CleanupHandler) Type() models.TaskType { return models.TaskTypeCleanup }

func (h *CleanupHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	prefix := fmt.Sprintf("runs/%s/padded", input.RunID)

	if err := h.store.DeletePrefix(ctx, prefix); err != nil {
		return nil, fmt.Errorf("cleanup intermediates: %w", err)
	}

	return map[string]any{"cleaned_prefix": prefix}, nil
}

// NotifyHandler posts the finalized episode to an external endpoint. The
// chat and webhook variants differ only in task type and payload shape.
type NotifyHandler struct {
	taskType models.TaskType
	endpoint string
	client   *http.Client
}

func NewNotifyChatHandler(endpoint string) *NotifyHandler {
	return newNotifyHandler(models.TaskTypeNotifyChat, endpoint)
}

func NewNotifyWebhookHandler(endpoint string) *NotifyHandler {
	return newNotifyHandler(models.TaskTypeNotifyWebhook, endpoint)
}

func newNotifyHandler(taskType models.TaskType, endpoint string) *NotifyHandler {
	return &NotifyHandler{
		taskType: taskType,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *NotifyHandler) Type() models.TaskType { return h.taskType }

func (h *NotifyHandler) Execute(ctx context.Context, input tasks.Input) (map[string]any, error) {
	if h.endpoint == "" {
		// No endpoint configured: record the skip, do not fail the node.
		return map[string]any{"delivered": false, "reason": "no endpoint configured"}, nil
	}

	episode := input.ParentOutput("finalize")
	if episode == nil {
		return nil, tasks.Fatalf("%s: no finalize output", h.taskType)
	}

	var body map[string]any

	if h.taskType == models.TaskTypeNotifyChat {
		title, _ := episode["title"].(string)
		body = map[string]any{
			"text": fmt.Sprintf("Episode ready: %s (run %s)", title, input.RunID),
		}
	} else {
		body = map[string]any{
			"run_id":  input.RunID,
			"episode": episode,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, tasks.Fatal(fmt.Errorf("encode notification: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, tasks.Fatal(fmt.Errorf("build notification request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, tasks.Retryable(fmt.Errorf("deliver %s: %w", h.taskType, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return map[string]any{"delivered": true, "status": resp.StatusCode}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, tasks.Retryablef("%s endpoint returned %d", h.taskType, resp.StatusCode)
	default:
		return nil, tasks.Fatalf("%s endpoint returned %d", h.taskType, resp.StatusCode)
	}
}
