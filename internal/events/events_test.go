package events

import (
	"errors"
	"testing"
)

func TestBus_ArtifactReady_SubscriptionOrder(t *testing.T) {
	b := NewBus()

	var order []int
	b.OnArtifactReady(func(ArtifactReady) { order = append(order, 1) })
	b.OnArtifactReady(func(ArtifactReady) { order = append(order, 2) })
	b.OnArtifactReady(func(ArtifactReady) { order = append(order, 3) })

	b.PublishArtifactReady(ArtifactReady{MarkerID: "M1", ArtifactID: "A1"})

	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Errorf("subscriber %d fired out of order: %v", v, order)
		}
	}
}

func TestBus_Load_CarriesError(t *testing.T) {
	b := NewBus()
	failure := errors.New("decode failed")

	var got Load
	b.OnLoad(func(e Load) { got = e })

	b.PublishLoad(Load{AssetID: "A1", Phase: LoadFailed, Err: failure})

	if got.AssetID != "A1" || got.Phase != LoadFailed || !errors.Is(got.Err, failure) {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	b := NewBus()
	// Must not panic.
	b.PublishPinStateChanged(PinStateChanged{MarkerID: "M1", Pinned: true})
	b.PublishHistoryChanged(HistoryChanged{})
}
