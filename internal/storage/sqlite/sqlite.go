// Package sqlitestorage implements the storage.Backend interface using a
// SQLite database file under the cache root. It wraps the gorm backend via
// composition; the only SQLite-specific concern is opening the file.
package sqlitestorage

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/database"
	gormstorage "github.com/arscape/artifact-engine/internal/storage/gorm"
)

// Backend wraps the gorm backend with a SQLite file connection.
type Backend struct {
	*gormstorage.Backend
	manager *database.Manager
}

// New creates a SQLite storage backend at the given file path.
// An empty path uses an in-memory database.
func New(path string, log zerolog.Logger) (*Backend, error) {
	mgr := database.NewManager(log, path)
	if err := mgr.ConnectSqlite(); err != nil {
		return nil, fmt.Errorf("failed to open SQLite record store: %w", err)
	}

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{DB: mgr.DB}),
		manager: mgr,
	}, nil
}

// Close closes the database file.
func (b *Backend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.manager.Close()
}
