package gormstorage

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/arscape/artifact-engine/internal/model"
)

// ArtifactRecord is the persisted form of a resolved artifact descriptor.
// One row exists per (artifactID, markerID) pair.
type ArtifactRecord struct {
	ID               uint   `gorm:"primarykey"`
	ArtifactID       string `gorm:"uniqueIndex:idx_artifact_marker"`
	MarkerID         string `gorm:"uniqueIndex:idx_artifact_marker;index"`
	Name             string
	Description      string
	PreviewURL       string
	PreviewLocalPath string
	LastUpdated      time.Time
	Media            []MediaRecord `gorm:"foreignKey:ArtifactRecordID;constraint:OnDelete:CASCADE"`
}

// MediaRecord is one media entry belonging to an artifact record.
// Metadata is the opaque catalog metadata, stored verbatim as JSON.
type MediaRecord struct {
	ID               uint `gorm:"primarykey"`
	ArtifactRecordID uint `gorm:"index"`
	MediaID          string
	MediaType        string
	RemoteURL        string
	LocalPath        string
	CachedAt         *time.Time
	Metadata         datatypes.JSON
	DisplayOrder     int
}

// HistoryRecord is one persisted scan history entry.
type HistoryRecord struct {
	ID         uint `gorm:"primarykey"`
	ArtifactID string
	MarkerID   string `gorm:"index"`
	ScannedAt  time.Time
	Status     string
	Detail     string
}

// DatabaseModels lists every model migrated by this backend.
var DatabaseModels = []any{
	&ArtifactRecord{},
	&MediaRecord{},
	&HistoryRecord{},
}

// toRecord converts a domain descriptor into its persisted form.
func toRecord(d *model.ArtifactDescriptor) ArtifactRecord {
	rec := ArtifactRecord{
		ArtifactID:       d.ArtifactID,
		MarkerID:         d.MarkerID,
		Name:             d.Name,
		Description:      d.Description,
		PreviewURL:       d.PreviewURL,
		PreviewLocalPath: d.PreviewLocalPath,
		LastUpdated:      d.LastUpdated,
	}
	for _, m := range d.Media {
		mr := MediaRecord{
			MediaID:      m.MediaID,
			MediaType:    m.MediaType,
			RemoteURL:    m.RemoteURL,
			LocalPath:    m.LocalPath,
			Metadata:     datatypes.JSON(m.Metadata.JSON()),
			DisplayOrder: m.DisplayOrder,
		}
		if !m.CachedAt.IsZero() {
			t := m.CachedAt
			mr.CachedAt = &t
		}
		rec.Media = append(rec.Media, mr)
	}
	return rec
}

// fromRecord converts a persisted record back into a domain descriptor.
func fromRecord(rec *ArtifactRecord) model.ArtifactDescriptor {
	d := model.ArtifactDescriptor{
		ArtifactID:       rec.ArtifactID,
		MarkerID:         rec.MarkerID,
		Name:             rec.Name,
		Description:      rec.Description,
		PreviewURL:       rec.PreviewURL,
		PreviewLocalPath: rec.PreviewLocalPath,
		LastUpdated:      rec.LastUpdated,
	}
	for _, mr := range rec.Media {
		m := model.MediaEntry{
			MediaID:      mr.MediaID,
			MediaType:    mr.MediaType,
			RemoteURL:    mr.RemoteURL,
			LocalPath:    mr.LocalPath,
			DisplayOrder: mr.DisplayOrder,
		}
		if mr.CachedAt != nil {
			m.CachedAt = *mr.CachedAt
		}
		if len(mr.Metadata) > 0 {
			var meta model.MediaMetadata
			if err := json.Unmarshal(mr.Metadata, &meta); err == nil {
				m.Metadata = meta
			}
		}
		d.Media = append(d.Media, m)
	}
	return d
}

// toHistoryRecord converts a domain history entry into its persisted form.
func toHistoryRecord(e model.HistoryEntry) HistoryRecord {
	return HistoryRecord{
		ArtifactID: e.ArtifactID,
		MarkerID:   e.MarkerID,
		ScannedAt:  e.ScannedAt,
		Status:     string(e.Status),
		Detail:     e.Detail,
	}
}

// fromHistoryRecord converts a persisted history row back to the domain type.
func fromHistoryRecord(rec HistoryRecord) model.HistoryEntry {
	return model.HistoryEntry{
		ArtifactID: rec.ArtifactID,
		MarkerID:   rec.MarkerID,
		ScannedAt:  rec.ScannedAt,
		Status:     model.ScanStatus(rec.Status),
		Detail:     rec.Detail,
	}
}
