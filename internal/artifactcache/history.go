package artifactcache

import (
	"github.com/arscape/artifact-engine/internal/events"
	"github.com/arscape/artifact-engine/internal/model"
)

// AppendHistoryEntry records a scan outcome for a marker. At most one entry
// is kept per marker (latest wins) and the overall list is capped to the
// configured limit. The write is batched: the persisted copy follows after
// the flush debounce, or at Close.
func (c *Cache) AppendHistoryEntry(artifactID, markerID string, status model.ScanStatus, detail string) {
	c.appendHistory(model.HistoryEntry{
		ArtifactID: artifactID,
		MarkerID:   markerID,
		ScannedAt:  timeNow(),
		Status:     status,
		Detail:     detail,
	})
}

// History returns the current history list, most recent last.
func (c *Cache) History() []model.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// Flush persists the history list immediately. Called by the debounce timer
// and forced on shutdown.
func (c *Cache) Flush() error {
	c.mu.Lock()
	if !c.historyDirty {
		c.mu.Unlock()
		return nil
	}
	c.historyDirty = false
	snapshot := make([]model.HistoryEntry, 0, len(c.history))
	// Persisted newest-first, matching LoadHistory's ordering.
	for i := len(c.history) - 1; i >= 0; i-- {
		snapshot = append(snapshot, c.history[i])
	}
	c.mu.Unlock()

	if err := c.deps.Store.SaveHistory(snapshot); err != nil {
		c.mu.Lock()
		c.historyDirty = true
		c.mu.Unlock()
		return err
	}
	return nil
}

// appendHistory stages an entry and applies the staged batch: per-marker
// dedup, global cap, dirty mark, debounced flush, change notification.
func (c *Cache) appendHistory(e model.HistoryEntry) {
	c.staged.Push(e)

	c.mu.Lock()
	for _, entry := range c.staged.Drain() {
		c.applyHistoryLocked(entry)
	}
	c.historyDirty = true
	c.scheduleFlushLocked()
	snapshot := make([]model.HistoryEntry, len(c.history))
	copy(snapshot, c.history)
	c.mu.Unlock()

	c.deps.Bus.PublishHistoryChanged(events.HistoryChanged{Entries: snapshot})
}

// applyHistoryLocked merges one entry into the in-memory list.
// Caller holds c.mu.
func (c *Cache) applyHistoryLocked(e model.HistoryEntry) {
	// Latest wins per marker.
	for i := range c.history {
		if c.history[i].MarkerID == e.MarkerID {
			c.history = append(c.history[:i], c.history[i+1:]...)
			break
		}
	}
	c.history = append(c.history, e)

	// Cap to the N most recent entries globally.
	if excess := len(c.history) - c.cfg.HistoryLimit; excess > 0 {
		c.history = append([]model.HistoryEntry(nil), c.history[excess:]...)
	}
}

// scheduleFlushLocked arms the debounced flush timer. Caller holds c.mu.
func (c *Cache) scheduleFlushLocked() {
	if c.closed || c.flushTimer != nil {
		return
	}
	c.flushTimer = timeAfterFunc(c.cfg.FlushDebounce, func() {
		c.mu.Lock()
		c.flushTimer = nil
		c.mu.Unlock()
		if err := c.Flush(); err != nil {
			c.deps.Log.Error().Err(err).Msg("History flush failed")
		}
	})
}
