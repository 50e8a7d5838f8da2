package memory_test

import (
	"testing"
	"time"

	"github.com/arscape/artifact-engine/internal/model"
	"github.com/arscape/artifact-engine/internal/storage"
	"github.com/arscape/artifact-engine/internal/storage/memory"
)

// Compile-time interface check
var _ storage.Backend = (*memory.Backend)(nil)

func TestUpsertGet(t *testing.T) {
	b := memory.New()
	if err := b.Init(); err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	d := &model.ArtifactDescriptor{
		ArtifactID: "A1",
		MarkerID:   "M1",
		Media: []model.MediaEntry{
			{MediaID: "m1", MediaType: model.MediaType3DModel},
		},
	}
	if err := b.UpsertArtifact(d); err != nil {
		t.Fatal(err)
	}

	got, found, err := b.GetArtifactByMarker("M1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected artifact to be found")
	}
	if got.ArtifactID != "A1" || len(got.Media) != 1 {
		t.Errorf("unexpected descriptor %+v", got)
	}

	// Mutating the returned copy must not affect the store.
	got.Media[0].LocalPath = "/mutated"
	again, _, _ := b.GetArtifactByMarker("M1")
	if again.Media[0].LocalPath == "/mutated" {
		t.Error("store was mutated through returned descriptor")
	}
}

func TestGet_Missing(t *testing.T) {
	b := memory.New()
	_, found, err := b.GetArtifactByMarker("M404")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("expected miss for unknown marker")
	}
}

func TestDeleteArtifacts(t *testing.T) {
	b := memory.New()
	b.UpsertArtifact(&model.ArtifactDescriptor{ArtifactID: "A1", MarkerID: "M1"})
	b.UpsertArtifact(&model.ArtifactDescriptor{ArtifactID: "A2", MarkerID: "M2"})

	if err := b.DeleteArtifacts(); err != nil {
		t.Fatal(err)
	}
	all, err := b.ListArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty store, got %d", len(all))
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	b := memory.New()
	entries := []model.HistoryEntry{
		{MarkerID: "M1", ScannedAt: time.Now(), Status: model.StatusReady, Detail: "ok"},
	}
	if err := b.SaveHistory(entries); err != nil {
		t.Fatal(err)
	}

	got, err := b.LoadHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Status != model.StatusReady {
		t.Errorf("unexpected history %+v", got)
	}
}
