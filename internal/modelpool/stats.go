package modelpool

import "time"

// EntryStats describes one resident model for status reporting.
type EntryStats struct {
	AssetID        string    `json:"assetId"`
	RefCount       int       `json:"refCount"`
	LoadedAt       time.Time `json:"loadedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// Stats is a snapshot of the pool for the status API and the monitor.
type Stats struct {
	Capacity int          `json:"capacity"`
	Size     int          `json:"size"`
	Pending  int          `json:"pending"`
	Failures int          `json:"failures"`
	Entries  []EntryStats `json:"entries"`
}

// Stats snapshots the pool. Entries are ordered most recently used first.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Capacity: p.cfg.Capacity,
		Size:     len(p.items),
		Pending:  len(p.pending),
		Failures: len(p.failures),
		Entries:  make([]EntryStats, 0, len(p.items)),
	}
	for el := p.order.Front(); el != nil; el = el.Next() {
		m := el.Value.(*PooledModel)
		s.Entries = append(s.Entries, EntryStats{
			AssetID:        m.AssetID,
			RefCount:       m.refCount,
			LoadedAt:       m.LoadedAt,
			LastAccessedAt: m.lastAccessedAt,
		})
	}
	return s
}
