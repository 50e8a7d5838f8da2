// Package events carries the outbound notifications consumed by the UI and
// scene-graph collaborators. Subscribers are invoked synchronously in
// subscription order; handlers must be fast and must not block.
package events

import (
	"sync"

	"github.com/arscape/artifact-engine/internal/model"
)

// ArtifactReady fires when a marker's artifact descriptor is resolved and
// its model file is cached.
type ArtifactReady struct {
	MarkerID    string
	ArtifactID  string
	DisplayName string
}

// HistoryChanged fires after the scan history list changes.
type HistoryChanged struct {
	Entries []model.HistoryEntry
}

// LoadPhase distinguishes the decode lifecycle notifications.
type LoadPhase int

const (
	LoadStarted LoadPhase = iota
	LoadCompleted
	LoadFailed
)

// Load fires as a model decode starts, completes or fails.
type Load struct {
	AssetID string
	Phase   LoadPhase
	Err     error // set for LoadFailed
}

// PinStateChanged fires when a tracked marker is pinned or unpinned.
type PinStateChanged struct {
	MarkerID string
	Pinned   bool
}

// Bus is the in-process event bus.
type Bus struct {
	mu             sync.RWMutex
	artifactReady  []func(ArtifactReady)
	historyChanged []func(HistoryChanged)
	load           []func(Load)
	pinChanged     []func(PinStateChanged)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// OnArtifactReady registers a subscriber for ArtifactReady events.
func (b *Bus) OnArtifactReady(fn func(ArtifactReady)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.artifactReady = append(b.artifactReady, fn)
}

// OnHistoryChanged registers a subscriber for HistoryChanged events.
func (b *Bus) OnHistoryChanged(fn func(HistoryChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyChanged = append(b.historyChanged, fn)
}

// OnLoad registers a subscriber for model load lifecycle events.
func (b *Bus) OnLoad(fn func(Load)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.load = append(b.load, fn)
}

// OnPinStateChanged registers a subscriber for pin state events.
func (b *Bus) OnPinStateChanged(fn func(PinStateChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pinChanged = append(b.pinChanged, fn)
}

// PublishArtifactReady delivers an ArtifactReady event.
func (b *Bus) PublishArtifactReady(e ArtifactReady) {
	b.mu.RLock()
	subs := b.artifactReady
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// PublishHistoryChanged delivers a HistoryChanged event.
func (b *Bus) PublishHistoryChanged(e HistoryChanged) {
	b.mu.RLock()
	subs := b.historyChanged
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// PublishLoad delivers a Load event.
func (b *Bus) PublishLoad(e Load) {
	b.mu.RLock()
	subs := b.load
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}

// PublishPinStateChanged delivers a PinStateChanged event.
func (b *Bus) PublishPinStateChanged(e PinStateChanged) {
	b.mu.RLock()
	subs := b.pinChanged
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}
