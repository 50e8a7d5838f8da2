package api

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arscape/artifact-engine/internal/artifactcache"
	"github.com/arscape/artifact-engine/internal/catalog"
	"github.com/arscape/artifact-engine/internal/download"
	"github.com/arscape/artifact-engine/internal/events"
	"github.com/arscape/artifact-engine/internal/mediastore"
	"github.com/arscape/artifact-engine/internal/model"
	"github.com/arscape/artifact-engine/internal/modelpool"
	"github.com/arscape/artifact-engine/internal/monitor"
	"github.com/arscape/artifact-engine/internal/storage/memory"
)

type noopNode struct{}

func (noopNode) Clone() modelpool.Node { return noopNode{} }
func (noopNode) Destroy()              {}

type noopDecoder struct{}

func (noopDecoder) Decode(string, model.MediaMetadata) (modelpool.Node, error) {
	return noopNode{}, nil
}

type fakeHosts struct {
	pinned map[string]bool
}

func (f *fakeHosts) Pin(markerID string) (bool, error) {
	if f.pinned == nil {
		return false, errors.New("no such marker")
	}
	f.pinned[markerID] = true
	return true, nil
}

func (f *fakeHosts) Unpin(markerID string) (bool, error) {
	if f.pinned == nil {
		return false, errors.New("no such marker")
	}
	delete(f.pinned, markerID)
	return false, nil
}

type testServer struct {
	http  *httptest.Server
	cache *artifactcache.Cache
	store *memory.Backend
	pool  *modelpool.Pool
	media *mediastore.Store
	hosts *fakeHosts
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	catalogSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(catalogSrv.Close)

	store := memory.New()
	media := mediastore.New(t.TempDir())
	require.NoError(t, media.EnsureDirs())

	cache := artifactcache.New(artifactcache.Dependencies{
		Store:     store,
		Catalog:   catalog.New(catalogSrv.URL, "test-key", time.Second),
		Downloads: download.New(zerolog.Nop(), time.Second),
		Media:     media,
		Bus:       events.NewBus(),
		Log:       zerolog.Nop(),
	}, artifactcache.Config{})
	require.NoError(t, cache.Init())
	t.Cleanup(func() { cache.Close() })

	pool := modelpool.New(modelpool.Dependencies{
		Decoder: noopDecoder{},
		Bus:     events.NewBus(),
		Log:     zerolog.Nop(),
	}, modelpool.Config{SweepInterval: time.Hour})
	t.Cleanup(pool.Close)

	mon := monitor.NewService(monitor.Dependencies{
		Cache:     cache,
		Pool:      pool,
		Downloads: download.New(zerolog.Nop(), time.Second),
	})

	hosts := &fakeHosts{pinned: map[string]bool{}}
	srv := NewServer(Dependencies{
		Cache:   cache,
		Pool:    pool,
		Monitor: mon,
		Hosts:   hosts,
		Log:     zerolog.Nop(),
	}, "127.0.0.1:0")

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{http: ts, cache: cache, store: store, pool: pool, media: media, hosts: hosts}
}

func TestHealthcheck(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap monitor.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 0, snap.PendingResolutions)
	assert.Equal(t, 10, snap.Pool.Capacity)
}

func TestHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.cache.AppendHistoryEntry("A1", "M1", model.StatusReady, "ok")

	resp, err := http.Get(ts.http.URL + "/api/v1/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	var entries []model.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "M1", entries[0].MarkerID)
	assert.Equal(t, model.StatusReady, entries[0].Status)
}

func TestArtifactsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	require.NoError(t, ts.store.UpsertArtifact(&model.ArtifactDescriptor{
		ArtifactID: "A1",
		MarkerID:   "M1",
		Name:       "Amphora",
	}))

	resp, err := http.Get(ts.http.URL + "/api/v1/artifacts")
	require.NoError(t, err)
	defer resp.Body.Close()

	var artifacts []model.ArtifactDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&artifacts))
	require.Len(t, artifacts, 1)
	assert.Equal(t, "Amphora", artifacts[0].Name)
}

func TestPoolStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	// Put one model into the pool so stats are non-trivial.
	dir := t.TempDir()
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], 0x46546C67)
	binary.LittleEndian.PutUint32(buf[4:8], 2)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(buf)))
	path := filepath.Join(dir, "a.glb")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	_, err := ts.pool.Load(context.Background(), "A1", path, nil)
	require.NoError(t, err)
	ts.pool.Release("A1")

	resp, err := http.Get(ts.http.URL + "/api/v1/pool/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats modelpool.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Size)
	require.Len(t, stats.Entries, 1)
	assert.Equal(t, "A1", stats.Entries[0].AssetID)
}

func TestPinEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.http.URL+"/api/v1/markers/M1/pin", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "M1", body["markerId"])
	assert.Equal(t, true, body["pinned"])
	assert.True(t, ts.hosts.pinned["M1"])

	resp2, err := http.Post(ts.http.URL+"/api/v1/markers/M1/unpin", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()

	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var body2 map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body2))
	assert.Equal(t, false, body2["pinned"])
	assert.False(t, ts.hosts.pinned["M1"])
}

func TestPinEndpoint_UnknownMarker(t *testing.T) {
	ts := newTestServer(t)
	ts.hosts.pinned = nil

	resp, err := http.Post(ts.http.URL+"/api/v1/markers/nope/pin", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClearCacheEndpoint(t *testing.T) {
	ts := newTestServer(t)

	require.NoError(t, ts.store.UpsertArtifact(&model.ArtifactDescriptor{
		ArtifactID: "A1",
		MarkerID:   "M1",
	}))

	req, err := http.NewRequest(http.MethodDelete, ts.http.URL+"/api/v1/cache", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	artifacts, err := ts.store.ListArtifacts()
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/api/v1/markers/M1/pin")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
