// Package cmd holds the shared wiring used by the cadenza binaries.
package cmd

import (
	"strings"

	"github.com/cadenza-io/cadenza/pkg/persistence"
	"github.com/cadenza-io/cadenza/pkg/persistence/file"
	"github.com/cadenza-io/cadenza/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = []string{"file", "sqlite"}

func NewPersistence(databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "sqlite":
		return sqlite.Open(databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
