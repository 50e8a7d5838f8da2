// Package gormstorage implements the storage.Backend interface on top of a
// gorm database handle. The SQLite and Postgres backends compose this
// implementation with their respective connection management.
package gormstorage

import (
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/arscape/artifact-engine/internal/model"
	"github.com/arscape/artifact-engine/internal/storage"
)

// Dependencies holds everything the gorm backend needs.
type Dependencies struct {
	DB *gorm.DB
}

// Backend persists artifact records and history through gorm.
type Backend struct {
	db *gorm.DB
}

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

// New creates a gorm-backed record store.
func New(deps Dependencies) *Backend {
	return &Backend{db: deps.DB}
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if b.db == nil {
		return fmt.Errorf("gorm backend has no database handle")
	}
	if err := b.db.AutoMigrate(DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close is a no-op; the connection is owned by the database manager.
func (b *Backend) Close() error {
	return nil
}

// UpsertArtifact replaces the stored record for the descriptor's
// (artifactID, markerID) pair, media list included.
func (b *Backend) UpsertArtifact(d *model.ArtifactDescriptor) error {
	rec := toRecord(d)

	return b.db.Transaction(func(tx *gorm.DB) error {
		var existing ArtifactRecord
		err := tx.Where("artifact_id = ? AND marker_id = ?", d.ArtifactID, d.MarkerID).
			First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Where("artifact_record_id = ?", existing.ID).
				Delete(&MediaRecord{}).Error; err != nil {
				return fmt.Errorf("failed to drop stale media rows: %w", err)
			}
			rec.ID = existing.ID
			if err := tx.Save(&rec).Error; err != nil {
				return fmt.Errorf("failed to update artifact record: %w", err)
			}
		case err == gorm.ErrRecordNotFound:
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("failed to create artifact record: %w", err)
			}
		default:
			return fmt.Errorf("failed to look up artifact record: %w", err)
		}
		return nil
	})
}

// GetArtifactByMarker returns the stored descriptor for a marker, if any.
func (b *Backend) GetArtifactByMarker(markerID string) (*model.ArtifactDescriptor, bool, error) {
	var rec ArtifactRecord
	err := b.db.Preload("Media").Where("marker_id = ?", markerID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load artifact record: %w", err)
	}

	d := fromRecord(&rec)
	sort.SliceStable(d.Media, func(i, j int) bool {
		return d.Media[i].DisplayOrder < d.Media[j].DisplayOrder
	})
	return &d, true, nil
}

// ListArtifacts returns all stored descriptors.
func (b *Backend) ListArtifacts() ([]model.ArtifactDescriptor, error) {
	var recs []ArtifactRecord
	if err := b.db.Preload("Media").Order("last_updated DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list artifact records: %w", err)
	}
	out := make([]model.ArtifactDescriptor, 0, len(recs))
	for i := range recs {
		out = append(out, fromRecord(&recs[i]))
	}
	return out, nil
}

// DeleteArtifacts removes every stored artifact record and its media rows.
func (b *Backend) DeleteArtifacts() error {
	return b.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&MediaRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete media rows: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&ArtifactRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete artifact records: %w", err)
		}
		return nil
	})
}

// SaveHistory replaces the stored history list with the given entries.
func (b *Backend) SaveHistory(entries []model.HistoryEntry) error {
	return b.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&HistoryRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		recs := make([]HistoryRecord, 0, len(entries))
		for _, e := range entries {
			recs = append(recs, toHistoryRecord(e))
		}
		if err := tx.Create(&recs).Error; err != nil {
			return fmt.Errorf("failed to write history: %w", err)
		}
		return nil
	})
}

// LoadHistory returns the stored history, most recent first.
func (b *Backend) LoadHistory() ([]model.HistoryEntry, error) {
	var recs []HistoryRecord
	if err := b.db.Order("scanned_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	out := make([]model.HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromHistoryRecord(rec))
	}
	return out, nil
}
