package htd

import (
	"errors"
	"math"
	"testing"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// Normalization law: for every raw volume v in [0, max],
// normalized == v/max exactly and round(normalized*max) recovers v.
func TestVolumeNormalizationLaw(t *testing.T) {
	const max = 40
	store := NewStateStore(1, max)

	for v := 0; v <= max; v++ {
		z, _, err := store.UpdateZone(1, ZoneUpdate{VolumeRaw: intPtr(v)})
		if err != nil {
			t.Fatalf("UpdateZone() unexpected error: %v", err)
		}
		want := float64(v) / float64(max)
		if z.VolumeNormalized != want {
			t.Errorf("normalized(%d) = %v, want %v", v, z.VolumeNormalized, want)
		}
		if got := int(math.Round(z.VolumeNormalized * max)); got != v {
			t.Errorf("round(normalized*max) = %d, want %d", got, v)
		}
	}
}

func TestUpdateZonePartialMerge(t *testing.T) {
	store := NewStateStore(6, 60)

	_, _, err := store.UpdateZone(2, ZoneUpdate{
		Power:     boolPtr(true),
		VolumeRaw: intPtr(30),
		SourceID:  intPtr(4),
		Muted:     boolPtr(false),
	})
	if err != nil {
		t.Fatalf("UpdateZone() unexpected error: %v", err)
	}

	// Merge only the mute flag; everything else must survive.
	z, changed, err := store.UpdateZone(2, ZoneUpdate{Muted: boolPtr(true)})
	if err != nil {
		t.Fatalf("UpdateZone() unexpected error: %v", err)
	}
	if !changed {
		t.Error("changed = false, want true")
	}
	if !z.Power || z.VolumeRaw != 30 || z.SourceID != 4 || !z.Muted {
		t.Errorf("merged zone = %+v", z)
	}
	if z.VolumeNormalized != 0.5 {
		t.Errorf("normalized = %v, want 0.5", z.VolumeNormalized)
	}
}

// Invariant: an identical repeated update reports no change.
func TestUpdateZoneIdempotent(t *testing.T) {
	store := NewStateStore(6, 60)

	upd := ZoneUpdate{
		Power:     boolPtr(true),
		VolumeRaw: intPtr(15),
		SourceID:  intPtr(2),
		Muted:     boolPtr(false),
	}

	if _, changed, _ := store.UpdateZone(3, upd); !changed {
		t.Fatal("first update: changed = false, want true")
	}
	if _, changed, _ := store.UpdateZone(3, upd); changed {
		t.Error("second identical update: changed = true, want false")
	}
}

func TestUpdateZoneInvalidID(t *testing.T) {
	store := NewStateStore(6, 60)

	for _, id := range []int{0, -1, 7} {
		if _, _, err := store.UpdateZone(id, ZoneUpdate{}); !errors.Is(err, ErrInvalidZone) {
			t.Errorf("UpdateZone(%d) error = %v, want ErrInvalidZone", id, err)
		}
	}
}

func TestMarkStaleRetainsState(t *testing.T) {
	store := NewStateStore(2, 60)

	store.UpdateZone(1, ZoneUpdate{Power: boolPtr(true), VolumeRaw: intPtr(20)})
	store.UpdateZone(2, ZoneUpdate{Power: boolPtr(false)})

	changed := store.MarkStale()
	if len(changed) != 2 {
		t.Fatalf("MarkStale() changed %d zones, want 2", len(changed))
	}

	z, _ := store.Zone(1)
	if !z.Stale {
		t.Error("zone 1 not stale after MarkStale")
	}
	if !z.Power || z.VolumeRaw != 20 {
		t.Errorf("stale zone lost state: %+v", z)
	}

	// Already stale zones do not report again.
	if again := store.MarkStale(); len(again) != 0 {
		t.Errorf("second MarkStale() changed %d zones, want 0", len(again))
	}

	// A fresh update confirms the zone current again.
	z, changedNow, _ := store.UpdateZone(1, ZoneUpdate{Power: boolPtr(true)})
	if !changedNow {
		t.Error("stale→fresh transition should report a change")
	}
	if z.Stale {
		t.Error("zone still stale after update")
	}
}
