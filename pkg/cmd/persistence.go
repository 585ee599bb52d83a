package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/nodelog/pkg/persistence"
	"github.com/dukex/nodelog/pkg/persistence/file"
	"github.com/dukex/nodelog/pkg/persistence/postgresql"
)

const (
	persistenceProviderFile     = "file"
	persistenceProviderPostgres = "postgres"
)

// NewLogRepository picks the repository from the URL scheme: postgres:// and
// postgresql:// open PostgreSQL, file:// or a bare path use the JSON file store.
func NewLogRepository(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.LogRepository, error) {
	switch parsePersistenceProvider(databaseURL) {
	case persistenceProviderPostgres:
		repo, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres log repository: %w", err)
		}

		return repo, nil
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return persistenceProviderFile
	}

	switch scheme {
	case "postgres", "postgresql":
		return persistenceProviderPostgres
	default:
		return persistenceProviderFile
	}
}
