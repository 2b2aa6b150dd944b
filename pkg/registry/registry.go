// Package registry maps task types to their handlers and validates task
// outputs against the declared payload schemas.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/tasks"
)

type Registry struct {
	logger   *slog.Logger
	handlers map[models.TaskType]tasks.Handler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		handlers: make(map[models.TaskType]tasks.Handler),
	}
}

func (r *Registry) Register(handler tasks.Handler) {
	r.handlers[handler.Type()] = handler
}

func (r *Registry) Handler(taskType models.TaskType) (tasks.Handler, error) {
	handler, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("task type '%s' not registered", taskType)
	}

	return handler, nil
}

// Complete reports whether every task type the graph builder can emit has a
// registered handler. Engines refuse to start otherwise.
func (r *Registry) Complete() error {
	for _, taskType := range []models.TaskType{
		models.TaskTypeFetchRecording,
		models.TaskTypeFetchParticipants,
		models.TaskTypePadTrack,
		models.TaskTypeMixdown,
		models.TaskTypeWaveform,
		models.TaskTypeTranscribeTrack,
		models.TaskTypeMergeTranscripts,
		models.TaskTypeDetectTopics,
		models.TaskTypeGenerateTitle,
		models.TaskTypeGenerateSummary,
		models.TaskTypeFinalize,
		models.TaskTypeCleanup,
		models.TaskTypeNotifyChat,
		models.TaskTypeNotifyWebhook,
	} {
		if _, ok := r.handlers[taskType]; !ok {
			return fmt.Errorf("no handler registered for task type '%s'", taskType)
		}
	}

	return nil
}
