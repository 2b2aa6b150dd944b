package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-io/cadenza/pkg/engine"
	"github.com/cadenza-io/cadenza/pkg/graph"
	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/cadenza-io/cadenza/pkg/persistence/file"
	"github.com/cadenza-io/cadenza/pkg/progress"
	"github.com/cadenza-io/cadenza/pkg/web"
)

// stubEngine persists submissions so the read endpoints see them, without
// executing anything.
type stubEngine struct {
	store     persistence.Persistence
	mu        sync.Mutex
	cancelled []string
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Submit(ctx context.Context, run *models.Run, g *graph.Graph) error {
	run.Status = models.RunStatusPending

	if err := s.store.Runs().Create(ctx, run); err != nil {
		return err
	}

	return s.store.Nodes().InsertGraph(ctx, run.ID, g.Nodes)
}

func (s *stubEngine) Status(ctx context.Context, runID string) (*models.RunSnapshot, error) {
	run, err := s.store.Runs().Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	nodes, err := s.store.Nodes().ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &models.RunSnapshot{Run: run, Nodes: nodes}, nil
}

func (s *stubEngine) Cancel(_ context.Context, runID string) error {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, runID)
	s.mu.Unlock()

	return nil
}

func (s *stubEngine) Resume(context.Context) error { return nil }

func setupTestApp(t *testing.T) (*fiber.App, *stubEngine) {
	t.Helper()

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	stub := &stubEngine{store: store}
	publisher := progress.NewPublisher(slog.Default(), nil)

	handlers := web.NewAPIHandlers(
		map[models.Provider]engine.Engine{
			models.ProviderPool: stub,
			models.ProviderFlow: stub,
		},
		models.ProviderPool,
		store,
		publisher,
		slog.Default(),
	)

	app := fiber.New()
	handlers.Register(app)

	return app, stub
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	return resp
}

func TestCreateRun(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := postJSON(t, app, "/runs/", web.CreateRunRequest{
		InputRef: "s3://recordings/abc",
		Provider: "pool",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var created web.CreateRunResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.RunID)
	assert.Equal(t, models.ProviderPool, created.Provider)
}

func TestCreateRunValidation(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := postJSON(t, app, "/runs/", web.CreateRunRequest{Provider: "pool"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/runs/", web.CreateRunRequest{
		InputRef: "s3://recordings/abc",
		Provider: "teleport",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRunSnapshot(t *testing.T) {
	app, _ := setupTestApp(t)

	resp := postJSON(t, app, "/runs/", web.CreateRunRequest{InputRef: "s3://recordings/abc"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var created web.CreateRunResponse
	require.NoError(t, json.Unmarshal(body, &created))

	req := httptest.NewRequest(http.MethodGet, "/runs/"+created.RunID, nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)

	var got web.RunDetail
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, created.RunID, got.RunID)
	assert.Len(t, got.Nodes, 12)
}

func TestGetRunNotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/missing", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelRun(t *testing.T) {
	app, stub := setupTestApp(t)

	resp := postJSON(t, app, "/runs/", web.CreateRunRequest{InputRef: "s3://recordings/abc"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var created web.CreateRunResponse
	require.NoError(t, json.Unmarshal(body, &created))

	req := httptest.NewRequest(http.MethodDelete, "/runs/"+created.RunID, nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{created.RunID}, stub.cancelled)
}

func TestListRuns(t *testing.T) {
	app, _ := setupTestApp(t)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, app, "/runs/", web.CreateRunRequest{InputRef: "s3://recordings/abc"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, "/runs/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var listing struct {
		Runs       []web.RunSummary `json:"runs"`
		TotalCount int              `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	assert.Equal(t, 3, listing.TotalCount)
}
