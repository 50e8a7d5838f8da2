// internal/storage/memory/memory.go
package memory

import (
	"sync"

	"github.com/arscape/artifact-engine/internal/model"
)

// Backend stores artifact records and history in memory. Used for tests and
// for ephemeral runs where nothing should survive a restart.
type Backend struct {
	mu        sync.RWMutex
	artifacts map[string]model.ArtifactDescriptor // keyed by markerID
	history   []model.HistoryEntry
}

// New creates a new memory backend.
func New() *Backend {
	return &Backend{
		artifacts: make(map[string]model.ArtifactDescriptor),
	}
}

// Init initializes the backend.
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources.
func (b *Backend) Close() error {
	return nil
}

// UpsertArtifact stores a copy of the descriptor under its marker identity.
func (b *Backend) UpsertArtifact(d *model.ArtifactDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *d
	cp.Media = make([]model.MediaEntry, len(d.Media))
	copy(cp.Media, d.Media)
	b.artifacts[d.MarkerID] = cp
	return nil
}

// GetArtifactByMarker returns a copy of the stored descriptor, if any.
func (b *Backend) GetArtifactByMarker(markerID string) (*model.ArtifactDescriptor, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d, ok := b.artifacts[markerID]
	if !ok {
		return nil, false, nil
	}
	cp := d
	cp.Media = make([]model.MediaEntry, len(d.Media))
	copy(cp.Media, d.Media)
	return &cp, true, nil
}

// ListArtifacts returns copies of all stored descriptors.
func (b *Backend) ListArtifacts() ([]model.ArtifactDescriptor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.ArtifactDescriptor, 0, len(b.artifacts))
	for _, d := range b.artifacts {
		cp := d
		cp.Media = make([]model.MediaEntry, len(d.Media))
		copy(cp.Media, d.Media)
		out = append(out, cp)
	}
	return out, nil
}

// DeleteArtifacts removes all stored descriptors.
func (b *Backend) DeleteArtifacts() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.artifacts = make(map[string]model.ArtifactDescriptor)
	return nil
}

// SaveHistory replaces the stored history list.
func (b *Backend) SaveHistory(entries []model.HistoryEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = make([]model.HistoryEntry, len(entries))
	copy(b.history, entries)
	return nil
}

// LoadHistory returns a copy of the stored history list.
func (b *Backend) LoadHistory() ([]model.HistoryEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.HistoryEntry, len(b.history))
	copy(out, b.history)
	return out, nil
}
