// Package web exposes the REST surface: run submission, status queries,
// cancellation and the live progress feed.
package web

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/cadenza-io/cadenza/pkg/engine"
	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/cadenza-io/cadenza/pkg/progress"
)

type APIHandlers struct {
	engines         map[models.Provider]engine.Engine
	defaultProvider models.Provider
	store           persistence.Persistence
	publisher       *progress.Publisher
	validator       *validator.Validate
	logger          *slog.Logger
}

func NewAPIHandlers(
	engines map[models.Provider]engine.Engine,
	defaultProvider models.Provider,
	store persistence.Persistence,
	publisher *progress.Publisher,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		engines:         engines,
		defaultProvider: defaultProvider,
		store:           store,
		publisher:       publisher,
		validator:       validator.New(validator.WithRequiredStructEnabled()),
		logger:          logger.With("module", "web"),
	}
}

// Register mounts all routes on the app.
func (h *APIHandlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	runs := app.Group("/runs")
	runs.Post("/", h.CreateRun)
	runs.Get("/", h.ListRuns)
	runs.Get("/:id", h.GetRun)
	runs.Get("/:id/events", h.StreamEvents)
	runs.Delete("/:id", h.CancelRun)
}

func (h *APIHandlers) CreateRun(c fiber.Ctx) error {
	req := &CreateRunRequest{}
	if err := c.Bind().Body(req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	provider := h.defaultProvider
	if req.Provider != "" {
		provider = models.Provider(req.Provider)
	}

	eng, ok := h.engines[provider]
	if !ok {
		return badRequest(c, fmt.Sprintf("provider %q is not available", provider))
	}

	run := &models.Run{
		ID:       uuid.New().String(),
		InputRef: req.InputRef,
		Provider: provider,
		Metadata: req.Metadata,
	}

	g, err := graph.Build(run.ID, run.InputRef, req.Metadata)
	if err != nil {
		return internalError(c, err)
	}

	if err := eng.Submit(c.Context(), run, g); err != nil {
		return handleStoreError(c, err)
	}

	h.logger.Info("Run accepted", "run_id", run.ID, "provider", provider)

	return c.Status(fiber.StatusAccepted).JSON(CreateRunResponse{
		RunID:    run.ID,
		Provider: provider,
		Status:   run.Status,
	})
}

func (h *APIHandlers) ListRuns(c fiber.Ctx) error {
	runs, err := h.store.Runs().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		summaries = append(summaries, summarize(run))
	}

	return c.JSON(fiber.Map{
		"runs":        summaries,
		"total_count": len(summaries),
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.store.Runs().Get(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	nodes, err := h.store.Nodes().ListByRun(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(detail(&models.RunSnapshot{Run: run, Nodes: nodes}))
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.store.Runs().Get(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	eng, ok := h.engines[run.Provider]
	if !ok {
		return conflict(c, fmt.Sprintf("run %s belongs to unavailable provider %q", id, run.Provider))
	}

	if err := eng.Cancel(c.Context(), id); err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": id, "status": "cancelling"})
}

// StreamEvents serves the live progress feed over server-sent events. The
// feed starts at subscription time; no history is replayed, the status
// query is the durable view.
func (h *APIHandlers) StreamEvents(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	if _, err := h.store.Runs().Get(c.Context(), id); err != nil {
		return handleStoreError(c, err)
	}

	feed, unsubscribe := h.publisher.Subscribe(id)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	ctx := c.Context()

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-feed:
				if !ok {
					return
				}

				payload, err := json.Marshal(event)
				if err != nil {
					h.logger.Error("Failed to encode progress event", "run_id", id, "error", err)

					continue
				}

				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.GetType(), payload); err != nil {
					return
				}

				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.store.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "unhealthy",
			"message": "persistence unreachable",
		})
	}

	providers := make([]models.Provider, 0, len(h.engines))
	for provider := range h.engines {
		providers = append(providers, provider)
	}

	return c.JSON(fiber.Map{
		"status":    "healthy",
		"providers": providers,
	})
}
