package retention

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza-io/cadenza/pkg/models"
	"github.com/cadenza-io/cadenza/pkg/persistence/file"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func seedRun(t *testing.T, store *file.Persistence, id string, status models.RunStatus) {
	t.Helper()

	ctx := context.Background()

	run := &models.Run{
		ID:        id,
		InputRef:  "rec-" + id,
		Provider:  models.ProviderPool,
		Status:    models.RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Runs().Create(ctx, run))

	if status == models.RunStatusPending {
		return
	}

	require.NoError(t, store.Runs().UpdateStatus(ctx, id, models.RunStatusPending, models.RunStatusRunning))

	if status == models.RunStatusRunning {
		return
	}

	require.NoError(t, store.Runs().UpdateStatus(ctx, id, models.RunStatusRunning, status))
}

func TestSweepArchivesOldTerminalRuns(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	seedRun(t, store, "old-completed", models.RunStatusCompleted)
	seedRun(t, store, "old-failed", models.RunStatusFailed)
	seedRun(t, store, "still-running", models.RunStatusRunning)

	// Let the terminal stamps age past the sweep window.
	time.Sleep(200 * time.Millisecond)

	seedRun(t, store, "fresh-completed", models.RunStatusCompleted)

	sweeper, err := NewSweeper(store, "", 100*time.Millisecond, newTestLogger())
	require.NoError(t, err)

	archived, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, archived)

	ctx := context.Background()

	for id, wantArchived := range map[string]bool{
		"old-completed":   true,
		"old-failed":      true,
		"fresh-completed": false,
		"still-running":   false,
	} {
		run, err := store.Runs().Get(ctx, id)
		require.NoError(t, err)

		if wantArchived {
			assert.NotNil(t, run.ArchivedAt, "run %s should be archived", id)
		} else {
			assert.Nil(t, run.ArchivedAt, "run %s should not be archived", id)
		}
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	seedRun(t, store, "old-completed", models.RunStatusCompleted)
	time.Sleep(20 * time.Millisecond)

	sweeper, err := NewSweeper(store, "", 10*time.Millisecond, newTestLogger())
	require.NoError(t, err)

	archived, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	archived, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, archived)
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	_, err = NewSweeper(store, "not a cron expr", time.Hour, newTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid retention schedule")
}

func TestSweeperDefaults(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	sweeper, err := NewSweeper(store, "", 0, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, sweeper.Schedule)
	assert.Equal(t, DefaultWindow, sweeper.Window)
}
