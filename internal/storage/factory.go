// internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/storage/memory"
)

// Config selects and parameterizes a storage backend.
type Config struct {
	// Backend is one of "sqlite", "postgres", "memory".
	Backend string
	// SqlitePath is the record store file for the sqlite backend and the
	// fallback file for the postgres backend.
	SqlitePath string
}

// Constructors for the database-backed backends, injected by the caller to
// keep this package free of driver imports (and the import cycle they would
// bring through the composed backends).
type Constructors struct {
	NewSqlite   func(path string, log zerolog.Logger) (Backend, error)
	NewPostgres func(sqliteFallbackPath string, log zerolog.Logger) (Backend, error)
}

// NewBackend creates a storage backend based on configuration.
func NewBackend(cfg Config, ctors Constructors, log zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "postgres":
		if ctors.NewPostgres == nil {
			return nil, fmt.Errorf("postgres backend not available")
		}
		return ctors.NewPostgres(cfg.SqlitePath, log)
	case "sqlite":
		if ctors.NewSqlite == nil {
			return nil, fmt.Errorf("sqlite backend not available")
		}
		return ctors.NewSqlite(cfg.SqlitePath, log)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
