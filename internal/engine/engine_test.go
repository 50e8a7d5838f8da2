package engine

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arscape/artifact-engine/internal/artifactcache"
	"github.com/arscape/artifact-engine/internal/catalog"
	"github.com/arscape/artifact-engine/internal/dispatcher"
	"github.com/arscape/artifact-engine/internal/download"
	"github.com/arscape/artifact-engine/internal/events"
	"github.com/arscape/artifact-engine/internal/host"
	"github.com/arscape/artifact-engine/internal/mediastore"
	"github.com/arscape/artifact-engine/internal/model"
	"github.com/arscape/artifact-engine/internal/modelpool"
	"github.com/arscape/artifact-engine/internal/placement"
	"github.com/arscape/artifact-engine/internal/storage/memory"
)

type fakeNode struct{}

func (fakeNode) Clone() modelpool.Node { return fakeNode{} }
func (fakeNode) Destroy()              {}

type fakeDecoder struct {
	calls atomic.Int32
}

func (d *fakeDecoder) Decode(string, model.MediaMetadata) (modelpool.Node, error) {
	d.calls.Add(1)
	return fakeNode{}, nil
}

type fakeVisual struct{}

func (fakeVisual) ShowPlaceholder()     {}
func (fakeVisual) Attach(modelpool.Node) {}
func (fakeVisual) Detach()              {}
func (fakeVisual) SetVisible(bool)      {}

type fakeVisualFactory struct{}

func (fakeVisualFactory) NewVisual(string) host.Visual { return fakeVisual{} }

// glbPayload is a minimal structurally valid model container.
func glbPayload() []byte {
	buf := make([]byte, 64)
	binary.LittleEndian.PutUint32(buf[0:4], 0x46546C67)
	binary.LittleEndian.PutUint32(buf[4:8], 2)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(buf)))
	return buf
}

type testEnv struct {
	engine      *Engine
	cache       *artifactcache.Cache
	pool        *modelpool.Pool
	bus         *events.Bus
	decoder     *fakeDecoder
	catalogHits *atomic.Int32
	cdnHits     *atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	var catalogHits, cdnHits atomic.Int32

	cdnSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdnHits.Add(1)
		w.Write(glbPayload())
	}))
	t.Cleanup(cdnSrv.Close)

	catalogSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		catalogHits.Add(1)
		resp := map[string]any{
			"bundles": []catalog.RemoteArtifactEntry{
				{
					ID:   "A1",
					Name: "Amphora",
					Media: []catalog.RemoteMediaEntry{
						{
							ID:        "mod-1",
							MediaType: model.MediaType3DModel,
							URL:       cdnSrv.URL + "/models/amphora.glb",
							SortOrder: 1,
						},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(catalogSrv.Close)

	media := mediastore.New(t.TempDir())
	require.NoError(t, media.EnsureDirs())

	bus := events.NewBus()
	cache := artifactcache.New(artifactcache.Dependencies{
		Store:     memory.New(),
		Catalog:   catalog.New(catalogSrv.URL, "test-key", 2*time.Second),
		Downloads: download.New(zerolog.Nop(), 2*time.Second),
		Media:     media,
		Bus:       bus,
		Log:       zerolog.Nop(),
	}, artifactcache.Config{})
	require.NoError(t, cache.Init())
	t.Cleanup(func() { cache.Close() })

	decoder := &fakeDecoder{}
	pool := modelpool.New(modelpool.Dependencies{
		Decoder: decoder,
		Bus:     bus,
		Log:     zerolog.Nop(),
	}, modelpool.Config{SweepInterval: time.Hour})
	t.Cleanup(pool.Close)

	eng := New(Dependencies{
		Cache:   cache,
		Placer:  placement.New(pool, zerolog.Nop()),
		Bus:     bus,
		Visuals: fakeVisualFactory{},
		Log:     zerolog.Nop(),
	}, Config{FadeDelay: 50 * time.Millisecond})
	t.Cleanup(eng.Shutdown)

	return &testEnv{
		engine:      eng,
		cache:       cache,
		pool:        pool,
		bus:         bus,
		decoder:     decoder,
		catalogHits: &catalogHits,
		cdnHits:     &cdnHits,
	}
}

func TestRecognition_ResolvesAndPlaces(t *testing.T) {
	env := newTestEnv(t)

	var readyCount atomic.Int32
	env.bus.OnArtifactReady(func(ev events.ArtifactReady) {
		assert.Equal(t, "M1", ev.MarkerID)
		assert.Equal(t, "A1", ev.ArtifactID)
		assert.Equal(t, "Amphora", ev.DisplayName)
		readyCount.Add(1)
	})

	env.engine.MarkerRecognized("M1", 0.2)

	inst, ok := env.engine.Instance("M1")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return inst.Host.AssetID() == "A1/mod-1"
	}, 3*time.Second, 10*time.Millisecond, "model should end up attached to the marker host")

	assert.Equal(t, host.StateTracking, inst.Host.State())
	assert.Equal(t, int32(1), readyCount.Load(), "ArtifactReady must fire exactly once")
	assert.Equal(t, int32(1), env.catalogHits.Load())
	assert.Equal(t, int32(1), env.decoder.calls.Load())
}

func TestReRecognition_UsesCacheWithoutNetwork(t *testing.T) {
	env := newTestEnv(t)

	env.engine.MarkerRecognized("M1", 0.2)
	inst, _ := env.engine.Instance("M1")
	require.Eventually(t, func() bool {
		return inst.Host.AssetID() == "A1/mod-1"
	}, 3*time.Second, 10*time.Millisecond)

	env.engine.MarkerLost("M1")
	catalogBefore := env.catalogHits.Load()
	cdnBefore := env.cdnHits.Load()

	env.engine.MarkerRecognized("M1", 0.2)
	require.Eventually(t, func() bool {
		return inst.Host.State() == host.StateTracking
	}, time.Second, 10*time.Millisecond)

	// Give any stray async work a moment, then verify no network activity.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, catalogBefore, env.catalogHits.Load(), "re-recognition must not hit the catalog")
	assert.Equal(t, cdnBefore, env.cdnHits.Load(), "re-recognition must not re-download")
}

func TestMarkerLost_StartsFadeAndRecognitionRestores(t *testing.T) {
	env := newTestEnv(t)

	env.engine.MarkerRecognized("M1", 0.2)
	inst, _ := env.engine.Instance("M1")
	require.Eventually(t, func() bool {
		return inst.Host.AssetID() == "A1/mod-1"
	}, 3*time.Second, 10*time.Millisecond)

	env.engine.MarkerLost("M1")
	require.Eventually(t, func() bool {
		return inst.Host.State() == host.StateHidden
	}, time.Second, 10*time.Millisecond)

	env.engine.MarkerUpdated("M1", 0.2)
	assert.Equal(t, host.StateTracking, inst.Host.State())
}

func TestMarkerRemoved_DestroysHost(t *testing.T) {
	env := newTestEnv(t)

	env.engine.MarkerRecognized("M1", 0.2)
	inst, _ := env.engine.Instance("M1")
	require.Eventually(t, func() bool {
		return inst.Host.AssetID() == "A1/mod-1"
	}, 3*time.Second, 10*time.Millisecond)

	env.engine.MarkerRemoved("M1")

	assert.False(t, inst.Host.Alive())
	assert.Equal(t, 0, env.engine.TrackedCount())
	_, ok := env.engine.Instance("M1")
	assert.False(t, ok)
}

func TestPinUnpin_ThroughEngine(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Pin("unknown")
	assert.Error(t, err)

	env.engine.MarkerRecognized("M1", 0.2)
	inst, _ := env.engine.Instance("M1")
	require.Eventually(t, func() bool {
		return inst.Host.AssetID() == "A1/mod-1"
	}, 3*time.Second, 10*time.Millisecond)

	pinned, err := env.engine.Pin("M1")
	require.NoError(t, err)
	assert.True(t, pinned)

	env.engine.MarkerLost("M1")
	assert.Equal(t, host.StatePinned, inst.Host.State(), "pinned host must not fade")

	pinned, err = env.engine.Unpin("M1")
	require.NoError(t, err)
	assert.False(t, pinned)
}

func TestDispatcherCommands_DriveTheEngine(t *testing.T) {
	env := newTestEnv(t)

	d, err := dispatcher.New(&nopDispatchLogger{})
	require.NoError(t, err)
	env.engine.RegisterHandlers(d)

	_, err = d.Dispatch(dispatcher.Event{
		Command:   CmdMarkerRecognized,
		Args:      []string{"M1", "0.25"},
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		inst, ok := env.engine.Instance("M1")
		return ok && inst.Host.AssetID() == "A1/mod-1"
	}, 3*time.Second, 10*time.Millisecond)

	inst, _ := env.engine.Instance("M1")
	assert.Equal(t, 0.25, inst.PhysicalSize)

	_, err = d.Dispatch(dispatcher.Event{Command: CmdMarkerLost, Args: []string{"M1"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return inst.Host.State() == host.StateFadingOut || inst.Host.State() == host.StateHidden
	}, time.Second, 10*time.Millisecond)

	_, err = d.Dispatch(dispatcher.Event{Command: CmdMarkerRemoved, Args: []string{"M1"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return env.engine.TrackedCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHandleRecognized_BadArgs(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.handleRecognized(dispatcher.Event{Command: CmdMarkerRecognized})
	assert.Error(t, err)

	_, err = env.engine.handleRecognized(dispatcher.Event{
		Command: CmdMarkerRecognized,
		Args:    []string{"M1", "not-a-number"},
	})
	assert.Error(t, err)
}

type nopDispatchLogger struct{}

func (l *nopDispatchLogger) Debug(string, ...any) {}
func (l *nopDispatchLogger) Info(string, ...any)  {}
func (l *nopDispatchLogger) Error(string, ...any) {}
