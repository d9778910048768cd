package htd

import (
	"context"
	"errors"
	"testing"
)

// clientProfile is the MCA-66 layout with a 40-step volume range, the
// range used throughout the diagnostics examples.
func clientProfile() ModelProfile {
	p := profiles[ModelMCA66]
	p.MaxVolume = 40
	return p
}

func newTestClient(t *testing.T, cfg Config) (*Client, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	c := newWithProfile(cfg, clientProfile(), logger)
	return c, logger
}

func statusBroadcast(zone int, power bool, sourceID, volumeRaw int, muted bool) Broadcast {
	return Broadcast{
		Zone: zone,
		Update: ZoneUpdate{
			Power:     &power,
			SourceID:  &sourceID,
			VolumeRaw: &volumeRaw,
			Muted:     &muted,
		},
	}
}

func TestZoneUpdateLogLine(t *testing.T) {
	c, logger := newTestClient(t, Config{
		ZoneNames:   `{"3":"Kitchen"}`,
		SourceNames: `{"2":"Spotify"}`,
	})

	c.applyBroadcast(statusBroadcast(3, true, 2, 15, false))

	want := "Zone 3 (Kitchen) updated: power=True, volume=15 (normalized=0.38), source=2 (Spotify), mute=False"
	lines := logger.debugLines()
	if len(lines) != 1 {
		t.Fatalf("debug lines = %d, want 1: %v", len(lines), lines)
	}
	if lines[0] != want {
		t.Errorf("log line mismatch:\n got: %s\nwant: %s", lines[0], want)
	}
}

// A broadcast carrying no new information produces no log line and no
// notification.
func TestRepeatedBroadcastSilent(t *testing.T) {
	c, logger := newTestClient(t, Config{})

	var notifications int
	c.Subscribe(func(Zone) { notifications++ })

	b := statusBroadcast(1, true, 1, 20, false)
	c.applyBroadcast(b)
	c.applyBroadcast(b)

	if got := len(logger.debugLines()); got != 1 {
		t.Errorf("debug lines = %d, want 1", got)
	}
	if notifications != 1 {
		t.Errorf("notifications = %d, want 1", notifications)
	}
}

// The Unused sentinel hides a source from presentation but the engine
// keeps tracking, updating and logging it.
func TestHiddenSourceStillTracked(t *testing.T) {
	c, logger := newTestClient(t, Config{SourceNames: "3=Unused"})

	if _, visible := c.SourceName(3); visible {
		t.Error("SourceName(3) visible = true, want false")
	}

	c.applyBroadcast(statusBroadcast(2, true, 3, 10, false))

	z, err := c.GetZoneState(2)
	if err != nil {
		t.Fatalf("GetZoneState() error = %v", err)
	}
	if z.SourceID != 3 {
		t.Errorf("source = %d, want 3", z.SourceID)
	}
	if got := len(logger.debugLines()); got != 1 {
		t.Errorf("debug lines = %d, want 1 (hidden sources are still logged)", got)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	var got []Zone
	sub := c.Subscribe(func(z Zone) { got = append(got, z) })

	c.applyBroadcast(statusBroadcast(4, true, 1, 30, false))
	c.applyBroadcast(statusBroadcast(4, true, 1, 32, false))

	if len(got) != 2 {
		t.Fatalf("notifications = %d, want 2", len(got))
	}
	if got[0].VolumeRaw != 30 || got[1].VolumeRaw != 32 {
		t.Errorf("snapshots = %d, %d, want 30, 32", got[0].VolumeRaw, got[1].VolumeRaw)
	}

	c.Unsubscribe(sub)
	c.applyBroadcast(statusBroadcast(4, false, 1, 32, false))
	if len(got) != 2 {
		t.Errorf("notified after unsubscribe")
	}
}

func TestCommandArgumentValidation(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	if err := c.SetZonePower(ctx, 9, true); !errors.Is(err, ErrInvalidZone) {
		t.Errorf("SetZonePower(9) error = %v, want ErrInvalidZone", err)
	}
	if err := c.SetZoneVolume(ctx, 1, 1.5); !errors.Is(err, ErrInvalidVolume) {
		t.Errorf("SetZoneVolume(1.5) error = %v, want ErrInvalidVolume", err)
	}
	if err := c.SetZoneVolume(ctx, 1, -0.1); !errors.Is(err, ErrInvalidVolume) {
		t.Errorf("SetZoneVolume(-0.1) error = %v, want ErrInvalidVolume", err)
	}
	if err := c.SetZoneSource(ctx, 1, 7); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("SetZoneSource(7) error = %v, want ErrInvalidSource", err)
	}
	if err := c.QueryZone(ctx, 0); !errors.Is(err, ErrInvalidZone) {
		t.Errorf("QueryZone(0) error = %v, want ErrInvalidZone", err)
	}
}

// While the link is down every command fails fast; nothing queues across
// an outage.
func TestCommandsFailFastWhileDisconnected(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	if err := c.SetZonePower(ctx, 1, true); !errors.Is(err, ErrLinkDown) {
		t.Errorf("SetZonePower() error = %v, want ErrLinkDown", err)
	}
	if err := c.SetZoneMute(ctx, 1, true); !errors.Is(err, ErrLinkDown) {
		t.Errorf("SetZoneMute() error = %v, want ErrLinkDown", err)
	}
	if err := c.Refresh(ctx); !errors.Is(err, ErrLinkDown) {
		t.Errorf("Refresh() error = %v, want ErrLinkDown", err)
	}
}

// A volume step already at the boundary is a no-op, not a command.
func TestStepVolumeClampsAtBounds(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	// Fresh store: volume 0, so VolumeDown has nothing to do and must
	// not touch the (disconnected) link.
	if err := c.VolumeDown(ctx, 1); err != nil {
		t.Errorf("VolumeDown() at floor error = %v, want nil", err)
	}

	c.applyBroadcast(statusBroadcast(1, true, 1, 40, false))
	if err := c.VolumeUp(ctx, 1); err != nil {
		t.Errorf("VolumeUp() at ceiling error = %v, want nil", err)
	}
}

func TestNewRejectsUnknownModel(t *testing.T) {
	_, err := New(Config{Model: ModelFamily("mc99")}, nil)
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("New() error = %v, want ErrUnknownModel", err)
	}
}

func TestZoneCountOverride(t *testing.T) {
	logger := &testLogger{}
	c := newWithProfile(Config{ZoneCount: 4}, clientProfile(), logger)

	if got := len(c.ZoneStates()); got != 4 {
		t.Errorf("zones = %d, want 4", got)
	}
	if c.Profile().Zones != 4 {
		t.Errorf("profile zones = %d, want 4", c.Profile().Zones)
	}

	// Zone 5 is now out of range everywhere.
	if err := c.SetZonePower(context.Background(), 5, true); !errors.Is(err, ErrInvalidZone) {
		t.Errorf("SetZonePower(5) error = %v, want ErrInvalidZone", err)
	}
}

func TestBroadcastForUnknownZoneIgnored(t *testing.T) {
	c, _ := newTestClient(t, Config{})

	var notifications int
	c.Subscribe(func(Zone) { notifications++ })

	c.applyBroadcast(statusBroadcast(9, true, 1, 10, false))
	if notifications != 0 {
		t.Errorf("notifications = %d, want 0", notifications)
	}
}
