// internal/storage/storage.go
package storage

import "github.com/arscape/artifact-engine/internal/model"

// Backend is the interface all record-store implementations must satisfy.
// It persists artifact descriptors and the capped scan history.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Artifact records
	UpsertArtifact(d *model.ArtifactDescriptor) error
	GetArtifactByMarker(markerID string) (*model.ArtifactDescriptor, bool, error)
	ListArtifacts() ([]model.ArtifactDescriptor, error)
	DeleteArtifacts() error

	// History. SaveHistory replaces the stored list wholesale; the caller
	// owns capping and per-marker dedup.
	SaveHistory(entries []model.HistoryEntry) error
	LoadHistory() ([]model.HistoryEntry, error)
}
