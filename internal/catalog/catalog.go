// Package catalog implements the client for the remote artifact catalog:
// given a marker identity it fetches the artifact bundles bound to that
// marker and applies the preferred-entry selection rule.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/arscape/artifact-engine/internal/model"
)

// ErrNoArtifactForMarker is returned when the catalog has no artifact bound
// to the marker identity.
var ErrNoArtifactForMarker = errors.New("no artifact bound to this marker")

// ErrNoModelForMarker is returned when artifacts exist for the marker but
// none of them carries a 3D model media entry.
var ErrNoModelForMarker = errors.New("no 3D model for this marker")

// RemoteMediaEntry is one media item as described by the catalog.
type RemoteMediaEntry struct {
	ID        string              `json:"id"`
	MediaType string              `json:"media_type"`
	URL       string              `json:"url"`
	SortOrder int                 `json:"sort_order"`
	Metadata  model.MediaMetadata `json:"metadata"`
}

// RemoteArtifactEntry is one artifact bundle as described by the catalog,
// in catalog-defined order.
type RemoteArtifactEntry struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	PreviewURL  string             `json:"preview_url"`
	Media       []RemoteMediaEntry `json:"media"`
}

type bundlesResponse struct {
	Bundles []RemoteArtifactEntry `json:"bundles"`
}

// Resolver queries the remote catalog.
type Resolver struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new catalog resolver.
func New(baseURL, apiKey string, timeout time.Duration) *Resolver {
	return &Resolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchBundles returns the artifact bundles bound to a marker identity, in
// catalog order. A marker with no bindings yields ErrNoArtifactForMarker.
func (r *Resolver) FetchBundles(ctx context.Context, markerID string) ([]RemoteArtifactEntry, error) {
	endpoint := fmt.Sprintf("%s/api/v1/markers/%s/bundles", r.baseURL, url.PathEscape(markerID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNoArtifactForMarker
	default:
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog response: %w", err)
	}

	var parsed bundlesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}
	if len(parsed.Bundles) == 0 {
		return nil, ErrNoArtifactForMarker
	}

	return parsed.Bundles, nil
}

// PreferredEntry picks the artifact to display for a marker: the first entry
// in catalog order that has at least one 3D model media entry. Markers whose
// artifacts are all model-less fail with ErrNoModelForMarker.
func PreferredEntry(entries []RemoteArtifactEntry) (*RemoteArtifactEntry, error) {
	for i := range entries {
		for _, m := range entries[i].Media {
			if m.MediaType == model.MediaType3DModel {
				return &entries[i], nil
			}
		}
	}
	return nil, ErrNoModelForMarker
}

// ToDescriptor converts a catalog entry into a domain descriptor for the
// given marker. Media are ordered by sort order; local paths are unset.
func (e *RemoteArtifactEntry) ToDescriptor(markerID string, now time.Time) model.ArtifactDescriptor {
	media := make([]model.MediaEntry, 0, len(e.Media))
	for _, m := range e.Media {
		media = append(media, model.MediaEntry{
			MediaID:      m.ID,
			MediaType:    m.MediaType,
			RemoteURL:    m.URL,
			Metadata:     m.Metadata,
			DisplayOrder: m.SortOrder,
		})
	}
	sort.SliceStable(media, func(i, j int) bool {
		return media[i].DisplayOrder < media[j].DisplayOrder
	})

	return model.ArtifactDescriptor{
		ArtifactID:  e.ID,
		MarkerID:    markerID,
		Name:        e.Name,
		Description: e.Description,
		PreviewURL:  e.PreviewURL,
		Media:       media,
		LastUpdated: now,
	}
}
