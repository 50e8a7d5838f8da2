// Package modelpool owns the in-memory pool of decoded 3D models.
//
// A model file is decoded at most once per pool lifetime while it stays
// resident: concurrent Load calls for the same asset coalesce into a single
// decode, successful decodes enter an LRU-ordered pool with reference
// counting, and a background sweep evicts idle entries past their TTL.
// Confirmed-corrupt files are remembered for a cooldown window so repeated
// recognitions of a broken asset fail fast instead of re-reading the file.
package modelpool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/events"
	"github.com/arscape/artifact-engine/internal/model"
)

var (
	// ErrCorruptModel marks a file that failed structural validation or
	// decoding. Failures carry this error for the whole cooldown window.
	ErrCorruptModel = errors.New("corrupt model file")

	// ErrClosed is returned for operations on a closed pool.
	ErrClosed = errors.New("model pool is closed")
)

// Node is a decoded, renderable model instance graph. The pooled node is
// shared by reference; placement clones it before attaching.
type Node interface {
	// Clone produces an independent instance of the node graph.
	Clone() Node
	// Destroy releases the node's resources. Must be called exactly once.
	Destroy()
}

// Decoder turns a verified model file into a renderable node. Implemented
// by the rendering collaborator.
type Decoder interface {
	Decode(path string, meta model.MediaMetadata) (Node, error)
}

// PooledModel is one decoded model resident in the pool.
type PooledModel struct {
	AssetID  string
	Node     Node
	Metadata model.MediaMetadata
	LoadedAt time.Time

	lastAccessedAt time.Time
	refCount       int
}

// Config holds the pool tunables. Zero values select the defaults.
type Config struct {
	Capacity        int           // pooled models, default 10
	TTL             time.Duration // idle eviction age, default 30m
	FailureCooldown time.Duration // corrupt-file backoff, default 5m
	SweepInterval   time.Duration // background sweep period, default 1m
	RetryCount      int           // still-being-written retries, default 3
	RetryDelay      time.Duration // base delay between retries, default 150ms
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 10
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.FailureCooldown <= 0 {
		c.FailureCooldown = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 150 * time.Millisecond
	}
}

// maxFailures bounds the corrupt-file cache independently of the periodic
// purge.
const maxFailures = 512

// Dependencies holds the pool's collaborators.
type Dependencies struct {
	Decoder Decoder
	Bus     *events.Bus
	Log     zerolog.Logger
}

// loadOp coalesces concurrent Load calls for one asset.
type loadOp struct {
	assetID string
	done    chan struct{}

	// guarded by the pool mutex
	waiters   int
	completed bool

	// set before done is closed
	model *PooledModel
	err   error
}

// failedLoad is one remembered decode failure.
type failedLoad struct {
	msg string
	at  time.Time
}

// Pool is the model load cache.
type Pool struct {
	deps Dependencies
	cfg  Config

	mu       sync.Mutex
	items    map[string]*list.Element // assetID -> element in order
	order    *list.List               // front = most recently used
	pending  map[string]*loadOp       // assetID -> in-flight decode
	failures map[string]failedLoad    // assetID -> cooldown record
	closed   bool

	stopChan chan struct{}
	metrics  *poolMetrics
}

// New creates the pool and starts its background sweep.
func New(deps Dependencies, cfg Config) *Pool {
	cfg.applyDefaults()
	p := &Pool{
		deps:     deps,
		cfg:      cfg,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		pending:  make(map[string]*loadOp),
		failures: make(map[string]failedLoad),
		stopChan: make(chan struct{}),
	}
	p.metrics = newPoolMetrics(p)
	go p.sweepLoop()
	return p
}

// Close stops the sweep and destroys every pooled node.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopChan)
	doomed := make([]*PooledModel, 0, len(p.items))
	for _, el := range p.items {
		doomed = append(doomed, el.Value.(*PooledModel))
	}
	p.items = make(map[string]*list.Element)
	p.order.Init()
	p.mu.Unlock()

	for _, m := range doomed {
		m.Node.Destroy()
	}
}

// Load returns the pooled model for an asset, decoding it from localPath if
// it is not resident. Concurrent calls for the same asset attach to one
// decode. Every successful return bumps the reference count; the caller
// must pair it with exactly one Release.
func (p *Pool) Load(ctx context.Context, assetID, localPath string, meta model.MediaMetadata) (*PooledModel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	// Fail fast while a confirmed corruption is inside its cooldown.
	if f, ok := p.failures[assetID]; ok {
		if time.Since(f.at) < p.cfg.FailureCooldown {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrCorruptModel, f.msg)
		}
		delete(p.failures, assetID)
	}

	if el, ok := p.items[assetID]; ok {
		m := p.acquireLocked(el)
		p.mu.Unlock()
		return m, nil
	}

	op, running := p.pending[assetID]
	if !running {
		op = &loadOp{assetID: assetID, done: make(chan struct{})}
		p.pending[assetID] = op
	}
	op.waiters++
	p.mu.Unlock()

	if !running {
		p.deps.Bus.PublishLoad(events.Load{AssetID: assetID, Phase: events.LoadStarted})
		go p.runLoad(op, localPath, meta)
	}

	select {
	case <-op.done:
		return op.model, op.err
	case <-ctx.Done():
		p.abandon(op)
		return nil, ctx.Err()
	}
}

// TryGet returns the resident pooled model for an asset without triggering
// a decode. A hit bumps the reference count; pair with Release.
func (p *Pool) TryGet(assetID string) (*PooledModel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.items[assetID]
	if !ok {
		return nil, false
	}
	return p.acquireLocked(el), true
}

// Release returns one reference obtained from Load or TryGet.
func (p *Pool) Release(assetID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.items[assetID]
	if !ok {
		return
	}
	m := el.Value.(*PooledModel)
	if m.refCount <= 0 {
		p.deps.Log.Warn().Str("asset", assetID).Msg("Release without matching acquire")
		return
	}
	m.refCount--
}

// Size returns the number of resident models.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Clear evicts every unreferenced model and resets the failure cache.
// Used when the cache is cleared from the outside.
func (p *Pool) Clear() {
	p.mu.Lock()
	doomed := make([]*PooledModel, 0, len(p.items))
	for id, el := range p.items {
		m := el.Value.(*PooledModel)
		if m.refCount > 0 {
			continue
		}
		p.order.Remove(el)
		delete(p.items, id)
		doomed = append(doomed, m)
	}
	p.failures = make(map[string]failedLoad)
	p.mu.Unlock()

	for _, m := range doomed {
		m.Node.Destroy()
	}
}

// acquireLocked bumps an entry and marks it most recently used.
// Caller holds p.mu.
func (p *Pool) acquireLocked(el *list.Element) *PooledModel {
	m := el.Value.(*PooledModel)
	m.refCount++
	m.lastAccessedAt = time.Now()
	p.order.MoveToFront(el)
	return m
}

// abandon drops a waiter that gave up before the decode finished. If the
// decode already completed, the waiter's pre-counted reference is returned.
func (p *Pool) abandon(op *loadOp) {
	p.mu.Lock()
	if !op.completed {
		op.waiters--
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	if op.err == nil {
		p.Release(op.assetID)
	}
}

// runLoad validates and decodes one file, then publishes the result to all
// waiters.
func (p *Pool) runLoad(op *loadOp, localPath string, meta model.MediaMetadata) {
	start := time.Now()
	log := p.deps.Log.With().Str("asset", op.assetID).Logger()

	node, err := p.decodeWithRetry(localPath, meta)

	p.mu.Lock()
	delete(p.pending, op.assetID)

	if err != nil {
		p.rememberFailureLocked(op.assetID, err)
		op.err = err
		op.completed = true
		p.mu.Unlock()

		p.metrics.decodeFailed(context.Background())
		p.deps.Bus.PublishLoad(events.Load{AssetID: op.assetID, Phase: events.LoadFailed, Err: err})
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Model load failed")
		close(op.done)
		return
	}

	if p.closed {
		p.mu.Unlock()
		node.Destroy()
		op.err = ErrClosed
		close(op.done)
		return
	}

	evicted := p.makeRoomLocked()

	now := time.Now()
	m := &PooledModel{
		AssetID:        op.assetID,
		Node:           node,
		Metadata:       meta,
		LoadedAt:       now,
		lastAccessedAt: now,
		// Every waiter that is still attached owns one reference.
		refCount: op.waiters,
	}
	el := p.order.PushFront(m)
	p.items[op.assetID] = el
	op.model = m
	op.completed = true
	p.mu.Unlock()

	for _, ev := range evicted {
		ev.Node.Destroy()
	}

	p.metrics.decodeCompleted(context.Background())
	p.deps.Bus.PublishLoad(events.Load{AssetID: op.assetID, Phase: events.LoadCompleted})
	log.Debug().Dur("duration", time.Since(start)).Msg("Model decoded into pool")
	close(op.done)
}

// decodeWithRetry validates the file header, waiting out a file that is
// still being written, then decodes it.
func (p *Pool) decodeWithRetry(localPath string, meta model.MediaMetadata) (Node, error) {
	var err error
	for attempt := 0; attempt <= p.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(p.cfg.RetryDelay * time.Duration(attempt))
		}
		err = validateModelFile(localPath)
		if err == nil {
			break
		}
		if !errors.Is(err, errStillWriting) {
			return nil, fmt.Errorf("%w: %s", ErrCorruptModel, err.Error())
		}
	}
	if err != nil {
		// Retries exhausted while the declared length still exceeds the
		// file size: treat as corrupt.
		return nil, fmt.Errorf("%w: %s", ErrCorruptModel, err.Error())
	}

	node, err := p.deps.Decoder.Decode(localPath, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %s", ErrCorruptModel, err.Error())
	}
	return node, nil
}

// rememberFailureLocked records a decode failure for the cooldown window.
// Caller holds p.mu.
func (p *Pool) rememberFailureLocked(assetID string, err error) {
	if len(p.failures) >= maxFailures {
		// Drop the oldest record to stay bounded.
		var oldestID string
		var oldestAt time.Time
		for id, f := range p.failures {
			if oldestID == "" || f.at.Before(oldestAt) {
				oldestID, oldestAt = id, f.at
			}
		}
		delete(p.failures, oldestID)
	}
	p.failures[assetID] = failedLoad{msg: err.Error(), at: time.Now()}
}

// makeRoomLocked evicts least-recently-used unreferenced entries until the
// pool is below capacity. Entries still referenced are re-queued to the
// most-recently-used end instead of evicted; if everything is referenced
// the insert proceeds over capacity. Caller holds p.mu; returned nodes must
// be destroyed after unlocking.
func (p *Pool) makeRoomLocked() []*PooledModel {
	var evicted []*PooledModel
	scanned, total := 0, p.order.Len()
	for len(p.items) >= p.cfg.Capacity && scanned < total {
		el := p.order.Back()
		if el == nil {
			break
		}
		m := el.Value.(*PooledModel)
		scanned++
		if m.refCount > 0 {
			p.order.MoveToFront(el)
			continue
		}
		p.order.Remove(el)
		delete(p.items, m.AssetID)
		evicted = append(evicted, m)
		p.metrics.evicted(context.Background())
	}
	return evicted
}

// sweepLoop periodically evicts idle entries past their TTL and purges
// failure records older than twice the cooldown.
func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.sweep(time.Now())
		}
	}
}

// sweep applies TTL eviction and failure purging as of now.
func (p *Pool) sweep(now time.Time) {
	p.mu.Lock()
	var doomed []*PooledModel
	for id, el := range p.items {
		m := el.Value.(*PooledModel)
		if m.refCount == 0 && now.Sub(m.lastAccessedAt) > p.cfg.TTL {
			p.order.Remove(el)
			delete(p.items, id)
			doomed = append(doomed, m)
			p.metrics.evicted(context.Background())
		}
	}
	for id, f := range p.failures {
		if now.Sub(f.at) > 2*p.cfg.FailureCooldown {
			delete(p.failures, id)
		}
	}
	p.mu.Unlock()

	for _, m := range doomed {
		m.Node.Destroy()
	}
	if len(doomed) > 0 {
		p.deps.Log.Debug().Int("evicted", len(doomed)).Msg("TTL sweep evicted idle models")
	}
}
