// Package artifactcache orchestrates artifact resolution: it answers
// "which artifact belongs to this marker" from the persistent record store
// when possible, and otherwise drives the catalog fetch and media downloads,
// coalescing concurrent requests for the same marker into one resolution.
package artifactcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/cache"
	"github.com/arscape/artifact-engine/internal/catalog"
	"github.com/arscape/artifact-engine/internal/download"
	"github.com/arscape/artifact-engine/internal/events"
	"github.com/arscape/artifact-engine/internal/mediastore"
	"github.com/arscape/artifact-engine/internal/model"
	"github.com/arscape/artifact-engine/internal/queue"
	"github.com/arscape/artifact-engine/internal/storage"
)

// ErrClosed is returned for requests made after Close.
var ErrClosed = errors.New("artifact cache is closed")

// ResolveCallback receives the result of a resolution. Exactly one of
// desc/err is set.
type ResolveCallback func(desc *model.ArtifactDescriptor, err error)

// Dependencies holds all collaborators of the cache.
type Dependencies struct {
	Store     storage.Backend
	Catalog   *catalog.Resolver
	Downloads *download.Coordinator
	Media     *mediastore.Store
	Bus       *events.Bus
	Log       zerolog.Logger
}

// Config holds the tunables.
type Config struct {
	// HistoryLimit caps the global history list.
	HistoryLimit int
	// FlushDebounce is how long history writes are batched before being
	// persisted.
	FlushDebounce time.Duration
}

// pendingRequest coalesces concurrent resolutions for one marker. Waiters
// are released in registration order when the resolution completes.
type pendingRequest struct {
	markerID string
	waiters  []ResolveCallback
}

// Cache is the artifact resolution pipeline and record store front end.
type Cache struct {
	deps Dependencies
	cfg  Config

	descriptors *cache.DescriptorCache

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool

	// history state; staged entries flow through the queue so appends repay
	// their lock immediately and the apply step does the dedup/cap work.
	staged       *queue.Queue[model.HistoryEntry]
	history      []model.HistoryEntry
	historyDirty bool
	flushTimer   *time.Timer
}

// New creates the cache. Call Init before use.
func New(deps Dependencies, cfg Config) *Cache {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	if cfg.FlushDebounce <= 0 {
		cfg.FlushDebounce = 2 * time.Second
	}
	return &Cache{
		deps:        deps,
		cfg:         cfg,
		descriptors: cache.NewDescriptorCache(),
		pending:     make(map[string]*pendingRequest),
		staged:      queue.New[model.HistoryEntry](),
	}
}

// Init loads the persisted history into memory.
func (c *Cache) Init() error {
	entries, err := c.deps.Store.LoadHistory()
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	// Stored newest-first; kept oldest-first in memory.
	c.mu.Lock()
	c.history = make([]model.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		c.history = append(c.history, entries[i])
	}
	c.mu.Unlock()
	return nil
}

// Close stops the flush timer and forces a final history flush so no
// history is lost across an abrupt stop.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	c.mu.Unlock()
	return c.Flush()
}

// Resolve blocks until the marker's artifact descriptor is available or the
// resolution fails. Concurrent calls for the same marker share one
// resolution.
func (c *Cache) Resolve(ctx context.Context, markerID string) (*model.ArtifactDescriptor, error) {
	type result struct {
		desc *model.ArtifactDescriptor
		err  error
	}
	ch := make(chan result, 1)
	c.ResolveAsync(markerID, func(desc *model.ArtifactDescriptor, err error) {
		ch <- result{desc, err}
	})
	select {
	case r := <-ch:
		return r.desc, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolveAsync resolves the artifact bound to a marker and invokes onDone
// exactly once. A locally verified descriptor completes synchronously with
// no network access and no new history entry; otherwise the caller attaches
// to the (possibly already running) resolution for this marker.
func (c *Cache) ResolveAsync(markerID string, onDone ResolveCallback) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		onDone(nil, ErrClosed)
		return
	}

	if desc := c.readyDescriptorLocked(markerID); desc != nil {
		c.mu.Unlock()
		onDone(desc, nil)
		return
	}

	if req, ok := c.pending[markerID]; ok {
		req.waiters = append(req.waiters, onDone)
		c.mu.Unlock()
		return
	}

	req := &pendingRequest{markerID: markerID, waiters: []ResolveCallback{onDone}}
	c.pending[markerID] = req
	c.mu.Unlock()

	c.appendHistory(model.HistoryEntry{
		MarkerID:  markerID,
		ScannedAt: time.Now(),
		Status:    model.StatusLoading,
		Detail:    "resolving artifact",
	})

	go c.resolve(markerID)
}

// PendingCount returns the number of in-flight resolutions.
func (c *Cache) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Descriptor returns the resolved descriptor for a marker if one is on
// record, without triggering a resolution.
func (c *Cache) Descriptor(markerID string) (*model.ArtifactDescriptor, bool) {
	if d, ok := c.descriptors.Get(markerID); ok {
		return &d, true
	}
	d, found, err := c.deps.Store.GetArtifactByMarker(markerID)
	if err != nil || !found {
		return nil, false
	}
	c.descriptors.Put(*d)
	return d, true
}

// ListArtifacts returns all persisted descriptors.
func (c *Cache) ListArtifacts() ([]model.ArtifactDescriptor, error) {
	return c.deps.Store.ListArtifacts()
}

// Clear drops every artifact record, cancels in-flight downloads and wipes
// the cached media files. In-flight resolutions fail.
func (c *Cache) Clear() error {
	c.deps.Downloads.CancelAll()
	c.descriptors.Reset()
	if err := c.deps.Store.DeleteArtifacts(); err != nil {
		return err
	}
	return c.deps.Media.Clear()
}

// readyDescriptorLocked returns the descriptor for a marker when its primary
// model file is verified present on disk. Caller holds c.mu.
func (c *Cache) readyDescriptorLocked(markerID string) *model.ArtifactDescriptor {
	d, ok := c.descriptors.Get(markerID)
	if !ok {
		stored, found, err := c.deps.Store.GetArtifactByMarker(markerID)
		if err != nil || !found {
			return nil
		}
		d = *stored
		c.descriptors.Put(d)
	}

	primary := d.PrimaryModelMedia()
	if primary == nil || !primary.Cached() || !mediastore.Exists(primary.LocalPath) {
		return nil
	}
	return &d
}

// resolve performs the network stages of one coalesced resolution.
// Runs outside the lock; state is re-checked when results are applied.
func (c *Cache) resolve(markerID string) {
	ctx := context.Background()
	log := c.deps.Log.With().Str("marker", markerID).Logger()

	bundles, err := c.deps.Catalog.FetchBundles(ctx, markerID)
	if err != nil {
		c.fail(markerID, fmt.Errorf("catalog fetch failed: %w", err), err)
		return
	}

	entry, err := catalog.PreferredEntry(bundles)
	if err != nil {
		c.fail(markerID, err, err)
		return
	}

	desc := entry.ToDescriptor(markerID, time.Now())
	c.adoptCachedPaths(&desc)

	primary := desc.PrimaryModelMedia()
	if primary == nil {
		// PreferredEntry guarantees a model media; guard anyway.
		c.fail(markerID, catalog.ErrNoModelForMarker, catalog.ErrNoModelForMarker)
		return
	}

	if !mediastore.Exists(primary.LocalPath) {
		dest := c.deps.Media.ModelPath(desc.ArtifactID, primary.MediaID, primary.RemoteURL)
		path, err := c.deps.Downloads.Fetch(ctx, primary.RemoteURL, dest)
		if err != nil {
			c.fail(markerID, fmt.Errorf("model download failed: %w", err), err)
			return
		}
		primary.LocalPath = path
		primary.CachedAt = time.Now()
	}

	// Preview download is opportunistic; failure is non-fatal.
	if desc.PreviewURL != "" && !mediastore.Exists(desc.PreviewLocalPath) {
		dest := c.deps.Media.PreviewPath(desc.ArtifactID, desc.PreviewURL)
		if path, err := c.deps.Downloads.Fetch(ctx, desc.PreviewURL, dest); err == nil {
			desc.PreviewLocalPath = path
		} else {
			log.Warn().Err(err).Msg("Preview download failed")
		}
	}

	if err := c.deps.Store.UpsertArtifact(&desc); err != nil {
		c.fail(markerID, fmt.Errorf("failed to persist artifact record: %w", err), err)
		return
	}
	c.descriptors.Put(desc)

	c.appendHistory(model.HistoryEntry{
		ArtifactID: desc.ArtifactID,
		MarkerID:   markerID,
		ScannedAt:  time.Now(),
		Status:     model.StatusReady,
		Detail:     desc.Name,
	})

	c.deps.Bus.PublishArtifactReady(events.ArtifactReady{
		MarkerID:    markerID,
		ArtifactID:  desc.ArtifactID,
		DisplayName: desc.Name,
	})

	log.Info().Str("artifact", desc.ArtifactID).Msg("Artifact resolved")
	c.release(markerID, &desc, nil)
}

// adoptCachedPaths carries previously cached local paths into a freshly
// fetched descriptor. A media entry keeps its local file only while its
// remote URL is unchanged; a changed URL forces a re-download.
func (c *Cache) adoptCachedPaths(desc *model.ArtifactDescriptor) {
	old, found, err := c.deps.Store.GetArtifactByMarker(desc.MarkerID)
	if err != nil || !found || old.ArtifactID != desc.ArtifactID {
		return
	}

	for i := range desc.Media {
		m := &desc.Media[i]
		prev := old.FindMedia(m.MediaID)
		if prev == nil || !prev.Cached() {
			continue
		}
		if prev.RemoteURL == m.RemoteURL {
			m.LocalPath = prev.LocalPath
			m.CachedAt = prev.CachedAt
		}
	}
	if old.PreviewLocalPath != "" && old.PreviewURL == desc.PreviewURL {
		desc.PreviewLocalPath = old.PreviewLocalPath
	}
}

// fail records a failed resolution and releases all waiters with the error.
// No partial descriptor is persisted.
func (c *Cache) fail(markerID string, detail error, cause error) {
	status := model.StatusError
	if errors.Is(cause, catalog.ErrNoArtifactForMarker) || errors.Is(cause, catalog.ErrNoModelForMarker) {
		status = model.StatusWarning
	}

	c.appendHistory(model.HistoryEntry{
		MarkerID:  markerID,
		ScannedAt: time.Now(),
		Status:    status,
		Detail:    detail.Error(),
	})

	c.deps.Log.Warn().Str("marker", markerID).Err(detail).Msg("Artifact resolution failed")
	c.release(markerID, nil, detail)
}

// release completes the pending request for a marker, invoking its waiters
// in registration order outside the lock.
func (c *Cache) release(markerID string, desc *model.ArtifactDescriptor, err error) {
	c.mu.Lock()
	req, ok := c.pending[markerID]
	if ok {
		delete(c.pending, markerID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	for _, cb := range req.waiters {
		if desc != nil {
			// Hand each waiter its own copy; callers may mutate.
			cp := *desc
			cp.Media = append([]model.MediaEntry(nil), desc.Media...)
			cb(&cp, nil)
		} else {
			cb(nil, err)
		}
	}
}
