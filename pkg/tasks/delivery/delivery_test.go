package delivery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cadenza-io/cadenza/pkg/services/objectstore"
	"github.com/cadenza-io/cadenza/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) objectstore.Store {
	t.Helper()

	store, err := objectstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	return store
}

func TestFinalizeAssemblesEpisode(t *testing.T) {
	store := newStore(t)
	handler := NewFinalizeHandler(store)

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID: "r1",
		Parents: map[string]map[string]any{
			"mixdown":          {"mix_key": "runs/r1/mix.flac"},
			"waveform":         {"waveform_key": "runs/r1/waveform.json"},
			"generate_title":   {"title": "Weekly Sync"},
			"generate_summary": {"summary": "A recap."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "runs/r1/episode.json", output["episode_key"])
	assert.Equal(t, "Weekly Sync", output["title"])

	data, err := store.Get(t.Context(), "runs/r1/episode.json")
	require.NoError(t, err)

	var episode map[string]any
	require.NoError(t, json.Unmarshal(data, &episode))
	assert.Equal(t, "runs/r1/mix.flac", episode["mix_key"])
	assert.Equal(t, "A recap.", episode["summary"])
}

func TestFinalizeRequiresMixdown(t *testing.T) {
	handler := NewFinalizeHandler(newStore(t))

	_, err := handler.Execute(t.Context(), tasks.Input{RunID: "r1"})
	require.Error(t, err)
	assert.True(t, tasks.IsFatal(err))
}

func TestCleanupRemovesIntermediates(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Put(t.Context(), "runs/r1/padded/t1.flac", []byte("a")))
	require.NoError(t, store.Put(t.Context(), "runs/r1/mix.flac", []byte("b")))

	handler := NewCleanupHandler(store)

	output, err := handler.Execute(t.Context(), tasks.Input{RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "runs/r1/padded", output["cleaned_prefix"])

	exists, err := store.Exists(t.Context(), "runs/r1/padded/t1.flac")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = store.Exists(t.Context(), "runs/r1/mix.flac")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNotifyWebhookDelivers(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	handler := NewNotifyWebhookHandler(server.URL)

	output, err := handler.Execute(t.Context(), tasks.Input{
		RunID: "r1",
		Parents: map[string]map[string]any{
			"finalize": {"episode_key": "runs/r1/episode.json", "title": "Weekly Sync"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, true, output["delivered"])
	assert.Equal(t, "r1", received["run_id"])
}

func TestNotifyChatRetryableOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	handler := NewNotifyChatHandler(server.URL)

	_, err := handler.Execute(t.Context(), tasks.Input{
		RunID:   "r1",
		Parents: map[string]map[string]any{"finalize": {"title": "Weekly Sync"}},
	})
	require.Error(t, err)
	assert.True(t, tasks.IsRetryable(err))
}

func TestNotifyFatalOnClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	handler := NewNotifyWebhookHandler(server.URL)

	_, err := handler.Execute(t.Context(), tasks.Input{
		RunID:   "r1",
		Parents: map[string]map[string]any{"finalize": {}},
	})
	require.Error(t, err)
	assert.True(t, tasks.IsFatal(err))
}

func TestNotifyWithoutEndpointSucceeds(t *testing.T) {
	handler := NewNotifyChatHandler("")

	output, err := handler.Execute(t.Context(), tasks.Input{RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, false, output["delivered"])
}
