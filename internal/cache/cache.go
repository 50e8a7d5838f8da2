// Package cache holds the in-memory read-through caches that keep hot-path
// lookups off the record store.
package cache

import (
	"sync"

	"github.com/arscape/artifact-engine/internal/model"
)

// DescriptorCache caches resolved artifact descriptors keyed by marker
// identity. Re-recognitions of an already-resolved marker are latency
// critical, so the hit path must not touch the database.
type DescriptorCache struct {
	m           sync.Mutex
	descriptors map[string]model.ArtifactDescriptor
}

func NewDescriptorCache() *DescriptorCache {
	return &DescriptorCache{
		descriptors: make(map[string]model.ArtifactDescriptor),
	}
}

func (c *DescriptorCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.descriptors = make(map[string]model.ArtifactDescriptor)
}

// Get returns a copy of the cached descriptor for a marker.
func (c *DescriptorCache) Get(markerID string) (model.ArtifactDescriptor, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	if d, ok := c.descriptors[markerID]; ok {
		return d, true
	}
	return model.ArtifactDescriptor{}, false
}

// Put stores a descriptor under its marker identity.
func (c *DescriptorCache) Put(d model.ArtifactDescriptor) {
	c.m.Lock()
	defer c.m.Unlock()
	c.descriptors[d.MarkerID] = d
}

// Remove drops the cached descriptor for a marker.
func (c *DescriptorCache) Remove(markerID string) {
	c.m.Lock()
	defer c.m.Unlock()
	delete(c.descriptors, markerID)
}

// Len returns the number of cached descriptors.
func (c *DescriptorCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.descriptors)
}
