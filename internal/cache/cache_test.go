package cache

import (
	"testing"

	"github.com/arscape/artifact-engine/internal/model"
)

func TestDescriptorCache_PutGet(t *testing.T) {
	c := NewDescriptorCache()

	if _, ok := c.Get("M1"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Put(model.ArtifactDescriptor{ArtifactID: "A1", MarkerID: "M1", Name: "Vase"})

	d, ok := c.Get("M1")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if d.ArtifactID != "A1" || d.Name != "Vase" {
		t.Errorf("unexpected descriptor %+v", d)
	}
}

func TestDescriptorCache_GetReturnsCopy(t *testing.T) {
	c := NewDescriptorCache()
	c.Put(model.ArtifactDescriptor{ArtifactID: "A1", MarkerID: "M1"})

	d, _ := c.Get("M1")
	d.Name = "mutated"

	again, _ := c.Get("M1")
	if again.Name == "mutated" {
		t.Error("cache entry was mutated through the returned copy")
	}
}

func TestDescriptorCache_RemoveReset(t *testing.T) {
	c := NewDescriptorCache()
	c.Put(model.ArtifactDescriptor{ArtifactID: "A1", MarkerID: "M1"})
	c.Put(model.ArtifactDescriptor{ArtifactID: "A2", MarkerID: "M2"})

	c.Remove("M1")
	if _, ok := c.Get("M1"); ok {
		t.Error("expected miss after remove")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}

	c.Reset()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after reset, got %d", c.Len())
	}
}
