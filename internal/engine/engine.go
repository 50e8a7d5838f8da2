// Package engine ties the pipeline together: marker tracking events drive
// artifact resolution, model loading and placement into per-marker hosts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/artifactcache"
	"github.com/arscape/artifact-engine/internal/events"
	"github.com/arscape/artifact-engine/internal/host"
	"github.com/arscape/artifact-engine/internal/model"
	"github.com/arscape/artifact-engine/internal/placement"
)

// VisualFactory creates the scene-side visual for a newly tracked marker.
// Implemented by the rendering collaborator.
type VisualFactory interface {
	NewVisual(markerID string) host.Visual
}

// TrackedInstance is one marker currently known to the engine.
type TrackedInstance struct {
	Host         *host.Host
	PhysicalSize float64
	FirstSeen    time.Time
	LastSeen     time.Time
}

// Dependencies holds the engine's collaborators.
type Dependencies struct {
	Cache   *artifactcache.Cache
	Placer  *placement.Coordinator
	Bus     *events.Bus
	Visuals VisualFactory
	Log     zerolog.Logger
}

// Config holds the engine tunables.
type Config struct {
	FadeDelay time.Duration // host fade-out delay, default 3s
}

// Engine reacts to marker tracking events.
type Engine struct {
	deps Dependencies
	cfg  Config

	mu        sync.Mutex
	instances map[string]*TrackedInstance // markerID -> instance
}

// New creates the engine.
func New(deps Dependencies, cfg Config) *Engine {
	if cfg.FadeDelay <= 0 {
		cfg.FadeDelay = 3 * time.Second
	}
	return &Engine{
		deps:      deps,
		cfg:       cfg,
		instances: make(map[string]*TrackedInstance),
	}
}

// MarkerRecognized handles a new recognition of a marker. The artifact is
// resolved (from cache when possible) and its model placed into the
// marker's host.
func (e *Engine) MarkerRecognized(markerID string, physicalSize float64) {
	inst := e.ensureInstance(markerID, physicalSize)
	inst.Host.MarkerRecognized()

	e.deps.Cache.ResolveAsync(markerID, func(desc *model.ArtifactDescriptor, err error) {
		if err != nil {
			// Resolution failures are recorded as history by the cache;
			// the placeholder stays up.
			e.deps.Log.Debug().Err(err).Str("marker", markerID).Msg("Resolution did not produce an artifact")
			return
		}
		e.placeResolved(markerID, inst, desc)
	})
}

// MarkerUpdated refreshes tracking for a marker already known. Unknown
// markers are treated as recognitions.
func (e *Engine) MarkerUpdated(markerID string, physicalSize float64) {
	e.mu.Lock()
	inst, ok := e.instances[markerID]
	if ok {
		inst.LastSeen = time.Now()
		if physicalSize > 0 {
			inst.PhysicalSize = physicalSize
		}
	}
	e.mu.Unlock()

	if !ok {
		e.MarkerRecognized(markerID, physicalSize)
		return
	}
	inst.Host.MarkerRecognized()
}

// MarkerLost starts the host's fade-out for a marker no longer tracked.
func (e *Engine) MarkerLost(markerID string) {
	e.mu.Lock()
	inst, ok := e.instances[markerID]
	e.mu.Unlock()
	if !ok {
		return
	}
	inst.Host.MarkerLost()
}

// MarkerRemoved permanently forgets a marker instance: any in-flight
// placement is cancelled and the host is torn down.
func (e *Engine) MarkerRemoved(markerID string) {
	e.mu.Lock()
	inst, ok := e.instances[markerID]
	delete(e.instances, markerID)
	e.mu.Unlock()
	if !ok {
		return
	}

	if desc, found := e.deps.Cache.Descriptor(markerID); found {
		if media := desc.PrimaryModelMedia(); media != nil {
			e.deps.Placer.Cancel(assetID(desc, media))
		}
	}
	inst.Host.Destroy()
	e.deps.Log.Debug().Str("marker", markerID).Msg("Marker instance removed")
}

// Pin pins the marker's host. Satisfies the status API's HostController.
func (e *Engine) Pin(markerID string) (bool, error) {
	inst, err := e.instance(markerID)
	if err != nil {
		return false, err
	}
	return inst.Host.Pin(), nil
}

// Unpin releases the pin on the marker's host.
func (e *Engine) Unpin(markerID string) (bool, error) {
	inst, err := e.instance(markerID)
	if err != nil {
		return false, err
	}
	return inst.Host.Unpin(), nil
}

// TrackedCount returns the number of known marker instances.
func (e *Engine) TrackedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.instances)
}

// Instance returns the tracked instance for a marker.
func (e *Engine) Instance(markerID string) (*TrackedInstance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[markerID]
	return inst, ok
}

// Shutdown destroys every host.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	insts := make([]*TrackedInstance, 0, len(e.instances))
	for _, inst := range e.instances {
		insts = append(insts, inst)
	}
	e.instances = make(map[string]*TrackedInstance)
	e.mu.Unlock()

	for _, inst := range insts {
		inst.Host.Destroy()
	}
}

// LogContext provides dynamic attributes for the slog context handler.
func (e *Engine) LogContext() []slog.Attr {
	return []slog.Attr{
		slog.Int("trackedMarkers", e.TrackedCount()),
		slog.Int("pendingResolutions", e.deps.Cache.PendingCount()),
	}
}

func (e *Engine) instance(markerID string) (*TrackedInstance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[markerID]
	if !ok {
		return nil, fmt.Errorf("marker %q is not tracked", markerID)
	}
	return inst, nil
}

func (e *Engine) ensureInstance(markerID string, physicalSize float64) *TrackedInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	if inst, ok := e.instances[markerID]; ok {
		inst.LastSeen = time.Now()
		if physicalSize > 0 {
			inst.PhysicalSize = physicalSize
		}
		return inst
	}

	h := host.New(markerID, e.deps.Visuals.NewVisual(markerID), e.cfg.FadeDelay, e.deps.Bus, e.deps.Log)
	h.ShowPlaceholder()
	now := time.Now()
	inst := &TrackedInstance{
		Host:         h,
		PhysicalSize: physicalSize,
		FirstSeen:    now,
		LastSeen:     now,
	}
	e.instances[markerID] = inst
	e.deps.Log.Info().Str("marker", markerID).Msg("Tracking new marker instance")
	return inst
}

// placeResolved pushes a resolved artifact's model into the marker's host.
func (e *Engine) placeResolved(markerID string, inst *TrackedInstance, desc *model.ArtifactDescriptor) {
	media := desc.PrimaryModelMedia()
	if media == nil || media.LocalPath == "" {
		e.deps.Log.Warn().Str("marker", markerID).Str("artifact", desc.ArtifactID).
			Msg("Resolved artifact has no usable model file")
		return
	}

	id := assetID(desc, media)
	go func() {
		err := e.deps.Placer.PlaceInHost(context.Background(), id, inst.Host, media.LocalPath, media.Metadata)
		switch {
		case err == nil:
		case errors.Is(err, placement.ErrSuperseded):
			// A newer placement for this asset took over.
		case errors.Is(err, placement.ErrHostDestroyed):
			e.deps.Log.Debug().Str("marker", markerID).Msg("Host went away before placement finished")
		default:
			e.deps.Log.Warn().Err(err).Str("marker", markerID).Str("asset", id).Msg("Placement failed")
			e.deps.Cache.AppendHistoryEntry(desc.ArtifactID, markerID, model.StatusError, err.Error())
		}
	}()
}

// assetID keys pool entries by artifact and media identity.
func assetID(desc *model.ArtifactDescriptor, media *model.MediaEntry) string {
	return desc.ArtifactID + "/" + media.MediaID
}
