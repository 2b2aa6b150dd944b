package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/cadenza-io/cadenza/pkg/persistence/persistencetest"
	"github.com/cadenza-io/cadenza/pkg/persistence/sqlite"
	"github.com/stretchr/testify/require"
)

func TestSQLitePersistenceContract(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		t.Helper()

		store, err := sqlite.Open(filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close(t.Context()) })

		return store
	})
}

func TestOpenAcceptsURLScheme(t *testing.T) {
	store, err := sqlite.Open("sqlite://" + filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(t.Context()))
	require.NoError(t, store.Close(t.Context()))
}
