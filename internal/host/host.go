// Package host tracks the visibility state of one marker-bound visual
// anchor. A host shows either a placeholder or a placed model instance and
// reacts to marker tracking changes: loss of tracking fades the visual out
// after a delay unless the host is pinned, and re-recognition before the
// fade completes restores it instantly.
package host

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/events"
	"github.com/arscape/artifact-engine/internal/modelpool"
)

// ErrDestroyed is returned when an operation targets a host that has been
// torn down.
var ErrDestroyed = errors.New("host is destroyed")

// State is the host's visibility state.
type State string

const (
	StateEmpty       State = "empty"
	StatePlaceholder State = "placeholder"
	StateTracking    State = "tracking"
	StatePinned      State = "pinned"
	StateFadingOut   State = "fading_out"
	StateHidden      State = "hidden"
)

// Visual is the scene-side surface the host drives. Implemented by the
// rendering collaborator; calls arrive from multiple goroutines.
type Visual interface {
	ShowPlaceholder()
	Attach(node modelpool.Node)
	Detach()
	SetVisible(visible bool)
}

// Host is the state machine for one tracked marker instance.
type Host struct {
	markerID  string
	visual    Visual
	fadeDelay time.Duration
	bus       *events.Bus
	log       zerolog.Logger

	mu         sync.Mutex
	state      State
	assetID    string
	instance   modelpool.Node
	pinned     bool
	tracking   bool
	destroyed  bool
	generation uint64 // bumped whenever a pending fade becomes stale
	fadeTimer  *time.Timer
}

// New creates a host in the Empty state.
func New(markerID string, visual Visual, fadeDelay time.Duration, bus *events.Bus, log zerolog.Logger) *Host {
	return &Host{
		markerID:  markerID,
		visual:    visual,
		fadeDelay: fadeDelay,
		bus:       bus,
		log:       log.With().Str("marker", markerID).Logger(),
		state:     StateEmpty,
	}
}

// MarkerID returns the marker identity this host is bound to.
func (h *Host) MarkerID() string { return h.markerID }

// State returns the current visibility state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// AssetID returns the asset currently attached, or "".
func (h *Host) AssetID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.assetID
}

// Pinned reports whether the host is pinned.
func (h *Host) Pinned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pinned
}

// Alive reports whether the host can still accept placements.
func (h *Host) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.destroyed
}

// ShowPlaceholder moves an Empty host to Placeholder.
func (h *Host) ShowPlaceholder() {
	h.mu.Lock()
	if h.destroyed || h.state != StateEmpty {
		h.mu.Unlock()
		return
	}
	h.state = StatePlaceholder
	h.mu.Unlock()
	h.visual.ShowPlaceholder()
}

// Attach installs a model instance. The host takes ownership of the node;
// any previously attached instance is detached and destroyed. The host
// becomes visible in Tracking (or Pinned, when the pin is held).
func (h *Host) Attach(assetID string, node modelpool.Node) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		node.Destroy()
		return ErrDestroyed
	}
	h.cancelFadeLocked()
	old := h.instance
	h.instance = node
	h.assetID = assetID
	if h.pinned {
		h.state = StatePinned
	} else {
		h.state = StateTracking
	}
	h.mu.Unlock()

	if old != nil {
		h.visual.Detach()
		old.Destroy()
	}
	h.visual.Attach(node)
	h.visual.SetVisible(true)
	return nil
}

// MarkerRecognized restores full visibility. A fade in progress is
// cancelled.
func (h *Host) MarkerRecognized() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.tracking = true
	h.cancelFadeLocked()
	if h.instance == nil {
		if h.state == StateEmpty || h.state == StateHidden {
			h.state = StatePlaceholder
			h.mu.Unlock()
			h.visual.ShowPlaceholder()
			return
		}
		h.mu.Unlock()
		return
	}
	restore := h.state == StateFadingOut || h.state == StateHidden
	if h.pinned {
		h.state = StatePinned
	} else {
		h.state = StateTracking
	}
	h.mu.Unlock()
	if restore {
		h.visual.SetVisible(true)
	}
}

// MarkerLost starts the fade-out unless the host is pinned. The loaded
// instance is kept so re-recognition is instant.
func (h *Host) MarkerLost() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.tracking = false
	if h.pinned || h.instance == nil || h.state == StateFadingOut || h.state == StateHidden {
		h.mu.Unlock()
		return
	}
	h.startFadeLocked()
	h.mu.Unlock()
}

// Pin keeps the host fully visible across tracking loss. Idempotent;
// returns the resulting pinned flag.
func (h *Host) Pin() bool {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return false
	}
	if h.pinned {
		h.mu.Unlock()
		return true
	}
	h.pinned = true
	h.cancelFadeLocked()
	restore := h.instance != nil && h.state == StateHidden
	if h.instance != nil {
		h.state = StatePinned
	}
	h.mu.Unlock()

	if restore {
		h.visual.SetVisible(true)
	}
	h.bus.PublishPinStateChanged(events.PinStateChanged{MarkerID: h.markerID, Pinned: true})
	return true
}

// Unpin releases the pin. If the marker is no longer tracked the fade-out
// starts immediately. Idempotent; returns the resulting pinned flag.
func (h *Host) Unpin() bool {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return false
	}
	if !h.pinned {
		h.mu.Unlock()
		return false
	}
	h.pinned = false
	if h.instance != nil {
		if h.tracking {
			h.state = StateTracking
		} else {
			h.startFadeLocked()
		}
	}
	h.mu.Unlock()

	h.bus.PublishPinStateChanged(events.PinStateChanged{MarkerID: h.markerID, Pinned: false})
	return false
}

// ResetToPlaceholder tears down the loaded instance and returns to the
// Placeholder state. Safe to call repeatedly.
func (h *Host) ResetToPlaceholder() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.cancelFadeLocked()
	old := h.instance
	h.instance = nil
	h.assetID = ""
	already := h.state == StatePlaceholder
	h.state = StatePlaceholder
	h.mu.Unlock()

	if old != nil {
		h.visual.Detach()
		old.Destroy()
	}
	if !already {
		h.visual.ShowPlaceholder()
	}
}

// Destroy permanently tears the host down. Further operations fail with
// ErrDestroyed or are ignored.
func (h *Host) Destroy() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.destroyed = true
	h.cancelFadeLocked()
	old := h.instance
	h.instance = nil
	h.assetID = ""
	h.mu.Unlock()

	if old != nil {
		h.visual.Detach()
		old.Destroy()
	}
}

// startFadeLocked arms the fade timer. Caller holds h.mu.
func (h *Host) startFadeLocked() {
	h.cancelFadeLocked()
	h.state = StateFadingOut
	gen := h.generation
	h.fadeTimer = time.AfterFunc(h.fadeDelay, func() {
		h.finishFade(gen)
	})
}

// cancelFadeLocked invalidates any pending fade. Caller holds h.mu.
func (h *Host) cancelFadeLocked() {
	h.generation++
	if h.fadeTimer != nil {
		h.fadeTimer.Stop()
		h.fadeTimer = nil
	}
}

// finishFade hides the visual if the fade that armed it is still current.
func (h *Host) finishFade(gen uint64) {
	h.mu.Lock()
	if h.destroyed || gen != h.generation || h.state != StateFadingOut {
		h.mu.Unlock()
		return
	}
	h.state = StateHidden
	h.fadeTimer = nil
	h.mu.Unlock()

	h.visual.SetVisible(false)
	h.log.Debug().Msg("Host faded out")
}
