package cmd

import (
	"fmt"
	"log/slog"

	"github.com/cadenza-io/cadenza/pkg/registry"
	"github.com/cadenza-io/cadenza/pkg/services/audio"
	"github.com/cadenza-io/cadenza/pkg/services/llm"
	"github.com/cadenza-io/cadenza/pkg/services/objectstore"
	"github.com/cadenza-io/cadenza/pkg/services/recordings"
	"github.com/cadenza-io/cadenza/pkg/services/speech"
	"github.com/cadenza-io/cadenza/pkg/tasks/delivery"
	"github.com/cadenza-io/cadenza/pkg/tasks/media"
	"github.com/cadenza-io/cadenza/pkg/tasks/transcript"
)

// ServiceConfig carries the endpoints of the external media services the
// task handlers call. All four base URLs are required; the notify
// endpoints may be empty, in which case the notify tasks report
// delivered:false and succeed.
type ServiceConfig struct {
	RecordingsURL   string
	AudioURL        string
	SpeechURL       string
	LLMURL          string
	StoreRoot       string
	ChatEndpoint    string
	WebhookEndpoint string
}

func (c ServiceConfig) validate() error {
	for name, url := range map[string]string{
		"recordings-url": c.RecordingsURL,
		"audio-url":      c.AudioURL,
		"speech-url":     c.SpeechURL,
		"llm-url":        c.LLMURL,
		"store-root":     c.StoreRoot,
	} {
		if url == "" {
			return fmt.Errorf("service config: %s is required", name)
		}
	}

	return nil
}

// NewRegistry wires every task handler against the real service clients.
func NewRegistry(logger *slog.Logger, cfg ServiceConfig) (*registry.Registry, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	store, err := objectstore.NewLocal(cfg.StoreRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	source := recordings.NewClient(cfg.RecordingsURL)
	processor := audio.NewClient(cfg.AudioURL)
	transcriber := speech.NewClient(cfg.SpeechURL)
	model := llm.NewClient(cfg.LLMURL)

	reg := registry.NewRegistry(logger)

	reg.Register(media.NewFetchRecordingHandler(source))
	reg.Register(media.NewFetchParticipantsHandler(source))
	reg.Register(media.NewPadTrackHandler(store, processor))
	reg.Register(media.NewMixdownHandler(store, processor))
	reg.Register(media.NewWaveformHandler(store, processor))
	reg.Register(transcript.NewTranscribeTrackHandler(transcriber))
	reg.Register(transcript.NewMergeTranscriptsHandler())
	reg.Register(transcript.NewDetectTopicsHandler(model))
	reg.Register(transcript.NewGenerateTitleHandler(model))
	reg.Register(transcript.NewGenerateSummaryHandler(model))
	reg.Register(delivery.NewFinalizeHandler(store))
	reg.Register(delivery.NewCleanupHandler(store))
	reg.Register(delivery.NewNotifyChatHandler(cfg.ChatEndpoint))
	reg.Register(delivery.NewNotifyWebhookHandler(cfg.WebhookEndpoint))

	if err := reg.Complete(); err != nil {
		return nil, err
	}

	return reg, nil
}
