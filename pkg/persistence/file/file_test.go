package file_test

import (
	"testing"

	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/cadenza-io/cadenza/pkg/persistence/file"
	"github.com/cadenza-io/cadenza/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/require"
)

func TestFilePersistenceContract(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		t.Helper()

		store, err := file.NewPersistence(t.TempDir())
		require.NoError(t, err)

		return store
	})
}

func TestFilePersistenceHealthCheck(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(t.Context()))
}
