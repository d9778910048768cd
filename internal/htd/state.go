package htd

import (
	"fmt"
	"sync"
	"time"
)

// Zone is an immutable snapshot of one zone's state.
type Zone struct {
	ID    int
	Power bool

	// VolumeRaw is the device-native level, 0..MaxVolume for the model.
	VolumeRaw int

	// VolumeNormalized is always exactly VolumeRaw / MaxVolume, recomputed
	// atomically with VolumeRaw.
	VolumeNormalized float64

	SourceID int

	// Muted flags effective silence; it does not alter VolumeRaw.
	Muted bool

	LastUpdated time.Time

	// Stale is true while the link is down: the snapshot is retained but
	// no longer confirmed current.
	Stale bool
}

// ZoneUpdate is a partial zone state. Only non-nil fields are merged.
type ZoneUpdate struct {
	Power     *bool
	VolumeRaw *int
	SourceID  *int
	Muted     *bool
}

// StateStore holds canonical per-zone state.
//
// Exactly one writer (the engine's read pipeline) calls UpdateZone and
// MarkStale; any number of readers may call Zone/Zones concurrently and
// always observe a fully merged snapshot.
type StateStore struct {
	mu        sync.RWMutex
	maxVolume int
	zones     []Zone // index 0 holds zone 1
}

// NewStateStore creates a store with zoneCount zones. Zone entries live
// for the store's lifetime; they are marked stale, never destroyed.
func NewStateStore(zoneCount, maxVolume int) *StateStore {
	zones := make([]Zone, zoneCount)
	for i := range zones {
		zones[i] = Zone{ID: i + 1, Stale: true}
	}
	return &StateStore{maxVolume: maxVolume, zones: zones}
}

// MaxVolume returns the raw volume ceiling the store normalises against.
func (s *StateStore) MaxVolume() int {
	return s.maxVolume
}

// ZoneCount returns the number of zones the store tracks.
func (s *StateStore) ZoneCount() int {
	return len(s.zones)
}

// UpdateZone merges the fields present in upd into zone id.
//
// VolumeNormalized is recomputed whenever VolumeRaw changes. Receiving any
// update confirms the zone current, clearing Stale.
//
// Returns:
//   - Zone: The post-merge snapshot
//   - bool: true if any observable field actually changed; callers use
//     this to suppress redundant downstream notification
//   - error: ErrInvalidZone if id is out of range
func (s *StateStore) UpdateZone(id int, upd ZoneUpdate) (Zone, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 1 || id > len(s.zones) {
		return Zone{}, false, fmt.Errorf("%w: %d", ErrInvalidZone, id)
	}

	z := s.zones[id-1]
	prev := z

	if upd.Power != nil {
		z.Power = *upd.Power
	}
	if upd.VolumeRaw != nil {
		z.VolumeRaw = *upd.VolumeRaw
		z.VolumeNormalized = float64(z.VolumeRaw) / float64(s.maxVolume)
	}
	if upd.SourceID != nil {
		z.SourceID = *upd.SourceID
	}
	if upd.Muted != nil {
		z.Muted = *upd.Muted
	}
	z.Stale = false

	changed := z.Power != prev.Power ||
		z.VolumeRaw != prev.VolumeRaw ||
		z.SourceID != prev.SourceID ||
		z.Muted != prev.Muted ||
		z.Stale != prev.Stale

	if changed {
		z.LastUpdated = time.Now()
	}
	s.zones[id-1] = z

	return z, changed, nil
}

// Zone returns a snapshot of zone id.
func (s *StateStore) Zone(id int) (Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || id > len(s.zones) {
		return Zone{}, fmt.Errorf("%w: %d", ErrInvalidZone, id)
	}
	return s.zones[id-1], nil
}

// Zones returns snapshots of every zone, ordered by id.
func (s *StateStore) Zones() []Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Zone, len(s.zones))
	copy(out, s.zones)
	return out
}

// MarkStale flags every zone stale, returning snapshots of the zones that
// changed. Called when the link drops: state is retained but no longer
// confirmed current.
func (s *StateStore) MarkStale() []Zone {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []Zone
	for i := range s.zones {
		if s.zones[i].Stale {
			continue
		}
		s.zones[i].Stale = true
		s.zones[i].LastUpdated = time.Now()
		changed = append(changed, s.zones[i])
	}
	return changed
}
