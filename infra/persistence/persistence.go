package persistence

import (
	"context"
	"fmt"

	"github.com/kilianp07/tankwatch/core/store"
	"github.com/kilianp07/tankwatch/infra/persistence/postgres"
	"github.com/kilianp07/tankwatch/infra/persistence/sqlite"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Open returns the repository for backend together with a function that
// releases it. target is a file path for sqlite and a DSN for postgres.
func Open(ctx context.Context, backend, target string) (store.Repository, func(), error) {
	switch backend {
	case "", BackendMemory:
		return store.NewMemoryRepository(), func() {}, nil
	case BackendSQLite:
		repo, err := sqlite.Open(target)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", target, err)
		}
		return repo, func() { _ = repo.Close() }, nil
	case BackendPostgres:
		repo, err := postgres.Open(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", backend)
	}
}
