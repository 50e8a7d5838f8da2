// Package model holds the domain types shared across the artifact pipeline:
// artifact descriptors, media entries and scan history.
package model

import (
	"encoding/json"
	"time"
)

// Media types as delivered by the remote catalog.
const (
	MediaType3DModel       = "3d_model"
	MediaTypeVideo         = "video"
	MediaTypeExternalVideo = "external_video"
)

// ScanStatus is the outcome of a marker scan as recorded in history.
type ScanStatus string

const (
	StatusLoading ScanStatus = "loading"
	StatusReady   ScanStatus = "ready"
	StatusWarning ScanStatus = "warning"
	StatusError   ScanStatus = "error"
	StatusUnknown ScanStatus = "unknown"
)

// MediaMetadata is the opaque per-media metadata object from the catalog.
// It is stored and passed through verbatim; only a few well-known keys are
// interpreted here.
type MediaMetadata map[string]any

// CenterOnCentroid reports whether the model should be re-centered on its
// geometric centroid before placement.
func (m MediaMetadata) CenterOnCentroid() bool {
	v, ok := m["center_on_centroid"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// JSON serializes the metadata for storage. Returns "{}" for nil metadata.
func (m MediaMetadata) JSON() []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// MediaEntry is one downloadable asset belonging to an artifact.
// LocalPath is empty until the file has been downloaded and verified.
type MediaEntry struct {
	MediaID      string
	MediaType    string
	RemoteURL    string
	LocalPath    string
	CachedAt     time.Time
	Metadata     MediaMetadata
	DisplayOrder int
}

// Cached reports whether the entry has a local copy on record.
// The caller is responsible for verifying the file still exists on disk.
func (e *MediaEntry) Cached() bool {
	return e.LocalPath != ""
}

// ArtifactDescriptor is the resolved binding between a marker and the
// artifact content shown for it. One descriptor exists per
// (artifactID, markerID) pair, upserted on every successful resolution.
type ArtifactDescriptor struct {
	ArtifactID       string
	MarkerID         string
	Name             string
	Description      string
	PreviewURL       string
	PreviewLocalPath string
	Media            []MediaEntry
	LastUpdated      time.Time
}

// PrimaryModelMedia returns the first 3D-model media entry in display order,
// or nil if the artifact has none.
func (d *ArtifactDescriptor) PrimaryModelMedia() *MediaEntry {
	idx := -1
	for i := range d.Media {
		if d.Media[i].MediaType != MediaType3DModel {
			continue
		}
		if idx == -1 || d.Media[i].DisplayOrder < d.Media[idx].DisplayOrder {
			idx = i
		}
	}
	if idx == -1 {
		return nil
	}
	return &d.Media[idx]
}

// FindMedia returns the media entry with the given ID, or nil.
func (d *ArtifactDescriptor) FindMedia(mediaID string) *MediaEntry {
	for i := range d.Media {
		if d.Media[i].MediaID == mediaID {
			return &d.Media[i]
		}
	}
	return nil
}

// HistoryEntry records one marker scan. At most one entry is kept per
// markerID (latest wins) and the overall list is capped.
type HistoryEntry struct {
	ArtifactID string // empty when resolution never identified an artifact
	MarkerID   string
	ScannedAt  time.Time
	Status     ScanStatus
	Detail     string
}
