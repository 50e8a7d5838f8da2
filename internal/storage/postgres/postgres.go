// Package postgresstorage implements the storage.Backend interface on
// Postgres for shared deployments, falling back to the local SQLite file
// when Postgres is unreachable. Wraps the gorm backend via composition.
package postgresstorage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/database"
	gormstorage "github.com/arscape/artifact-engine/internal/storage/gorm"
)

// Backend wraps the gorm backend with Postgres connection management.
type Backend struct {
	*gormstorage.Backend
	manager *database.Manager
}

// New connects to Postgres using the db.* config keys. sqliteFallbackPath
// is used when the connection cannot be established.
func New(sqliteFallbackPath string, log zerolog.Logger) (*Backend, error) {
	mgr := database.NewManager(log, sqliteFallbackPath)
	if err := mgr.ConnectPostgres(); err != nil {
		return nil, fmt.Errorf("failed to connect record store: %w", err)
	}

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{DB: mgr.DB}),
		manager: mgr,
	}, nil
}

// UsingSqliteFallback reports whether the Postgres connection failed and the
// backend is running on the local SQLite file instead.
func (b *Backend) UsingSqliteFallback() bool {
	return b.manager.UsingSqlite
}

// Close closes the database connection.
func (b *Backend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.manager.Close()
}
