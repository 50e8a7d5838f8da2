// Package placement clones pooled models into visual hosts. Each placement
// runs under a monotonically-unique operation token; starting a new
// placement for an asset cancels any older one still in flight, and every
// step re-validates the token and the target before proceeding, so a
// superseded operation discards its work instead of racing the winner.
package placement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/model"
	"github.com/arscape/artifact-engine/internal/modelpool"
)

var (
	// ErrSuperseded marks a placement cancelled by a newer request for the
	// same asset. It is a lifecycle outcome, not a failure; callers drop it
	// silently.
	ErrSuperseded = errors.New("placement superseded by a newer request")

	// ErrHostDestroyed marks a placement whose target went away mid-flight.
	ErrHostDestroyed = errors.New("placement target destroyed")
)

// Target is the host surface a placement attaches into.
type Target interface {
	Alive() bool
	AssetID() string
	Attach(assetID string, node modelpool.Node) error
}

// operation is one in-flight placement.
type operation struct {
	token     ulid.ULID
	assetID   string
	cancelled atomic.Bool
}

// Coordinator serializes placements per asset.
type Coordinator struct {
	pool *modelpool.Pool
	log  zerolog.Logger

	mu      sync.Mutex
	active  map[string]*operation // assetID -> newest operation
	entropy *rand.Rand            // guarded by mu
}

// New creates a placement coordinator backed by the given model pool.
func New(pool *modelpool.Pool, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		pool:    pool,
		log:     log,
		active:  make(map[string]*operation),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PlaceInHost loads the asset's pooled model, clones it and attaches the
// clone to the target. Returns nil on success, ErrSuperseded when a newer
// placement for the same asset took over, ErrHostDestroyed when the target
// went away, or the load error otherwise.
func (c *Coordinator) PlaceInHost(ctx context.Context, assetID string, target Target, sourcePath string, meta model.MediaMetadata) error {
	if target.AssetID() == assetID {
		return nil
	}

	op := c.begin(assetID)
	defer c.finish(op)
	log := c.log.With().Str("asset", assetID).Str("op", op.token.String()).Logger()

	if !target.Alive() {
		return ErrHostDestroyed
	}

	pooled, err := c.pool.Load(ctx, assetID, sourcePath, meta)
	if err != nil {
		return fmt.Errorf("load model for placement: %w", err)
	}

	// The load may have taken arbitrarily long. Re-validate before
	// spending work on a clone.
	if op.cancelled.Load() {
		c.pool.Release(assetID)
		return ErrSuperseded
	}
	if !target.Alive() {
		c.pool.Release(assetID)
		return ErrHostDestroyed
	}

	clone := pooled.Node.Clone()

	if op.cancelled.Load() {
		clone.Destroy()
		c.pool.Release(assetID)
		return ErrSuperseded
	}

	if err := target.Attach(assetID, clone); err != nil {
		c.pool.Release(assetID)
		return fmt.Errorf("%w: %v", ErrHostDestroyed, err)
	}

	c.pool.Release(assetID)
	log.Debug().Msg("Model placed into host")
	return nil
}

// Cancel marks any in-flight placement for the asset as superseded without
// starting a new one. Used when the asset's marker goes away for good.
func (c *Coordinator) Cancel(assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.active[assetID]; ok {
		prev.cancelled.Store(true)
		delete(c.active, assetID)
	}
}

// ActiveCount returns the number of in-flight placements.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// begin registers a new operation for the asset, superseding any previous
// one.
func (c *Coordinator) begin(assetID string) *operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.active[assetID]; ok {
		prev.cancelled.Store(true)
	}
	op := &operation{
		token:   ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy),
		assetID: assetID,
	}
	c.active[assetID] = op
	return op
}

// finish removes the operation if it is still the newest one for its asset.
func (c *Coordinator) finish(op *operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[op.assetID] == op {
		delete(c.active, op.assetID)
	}
}
