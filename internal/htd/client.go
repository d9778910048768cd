package htd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Config holds the engine configuration, assembled by the host from its
// own configuration surface.
type Config struct {
	// Connection is the controller connection URL (serial:// or tcp://).
	Connection string

	// Model is the controller family identifier.
	Model ModelFamily

	// ZoneCount overrides the model's zone count when fewer zones are
	// wired. 0 uses the model default.
	ZoneCount int

	// PollInterval is the reconciliation poll period. 0 disables polling.
	PollInterval time.Duration

	// CommandTimeout is the per-attempt ack timeout. 0 uses the default.
	CommandTimeout time.Duration

	// MaxRetries is the retry count after the first attempt.
	MaxRetries int

	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration

	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial reconnection delay.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps reconnection backoff growth.
	MaxReconnectInterval time.Duration

	// ZoneNames is the configured zone name mapping string
	// (JSON object or comma-separated key=value pairs).
	ZoneNames string

	// SourceNames is the configured source name mapping string.
	SourceNames string
}

// Client is the public face of the HTD engine.
//
// All command methods suspend the calling goroutine until the command
// resolves (ack, implicit success or failure); they never block the read
// loop or other zones' updates. While disconnected they fail fast with
// ErrLinkDown.
type Client struct {
	cfg     Config
	profile ModelProfile

	codec      *Codec
	link       *Link
	store      *StateStore
	dispatcher *Dispatcher
	notifier   *Notifier

	zoneNames   *NameMap
	sourceNames *NameMap

	logger Logger

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New assembles an engine from configuration. Call Connect to open the
// link and start the pipelines.
//
// Returns:
//   - *Client: Assembled engine
//   - error: ErrUnknownModel for an unrecognised model family
func New(cfg Config, logger Logger) (*Client, error) {
	profile, err := ProfileFor(cfg.Model)
	if err != nil {
		return nil, err
	}
	return newWithProfile(cfg, profile, logger), nil
}

// newWithProfile assembles an engine around an explicit profile. Split
// from New so tests can exercise custom layout tables.
func newWithProfile(cfg Config, profile ModelProfile, logger Logger) *Client {
	if cfg.ZoneCount > 0 && cfg.ZoneCount < profile.Zones {
		profile.Zones = cfg.ZoneCount
	}

	codec := NewCodec(profile)
	link := NewLink(LinkConfig{
		Connection:           cfg.Connection,
		ConnectTimeout:       cfg.ConnectTimeout,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectInterval: cfg.MaxReconnectInterval,
	}, codec)
	store := NewStateStore(profile.Zones, profile.MaxVolume)
	dispatcher := NewDispatcher(DispatcherConfig{
		CommandTimeout: cfg.CommandTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
		PollInterval:   cfg.PollInterval,
	}, link, codec, store)
	notifier := NewNotifier()

	c := &Client{
		cfg:         cfg,
		profile:     profile,
		codec:       codec,
		link:        link,
		store:       store,
		dispatcher:  dispatcher,
		notifier:    notifier,
		zoneNames:   ParseNameMap(NameKindZone, cfg.ZoneNames, logger),
		sourceNames: ParseNameMap(NameKindSource, cfg.SourceNames, logger),
		logger:      logger,
	}

	link.SetLogger(logger)
	dispatcher.SetLogger(logger)
	notifier.SetLogger(logger)
	link.SetOnStateChange(c.handleLinkState)

	return c
}

// Profile returns the active model profile.
func (c *Client) Profile() ModelProfile {
	return c.profile
}

// Connect opens the link and starts the read pipeline, the dispatcher
// and the reconciliation poll. An initial full-status refresh is queued
// so zone state converges shortly after connect.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.link.Open(ctx); err != nil {
		return err
	}

	// The Connected transition from Open has already queued the initial
	// full-status refresh via handleLinkState.
	c.startOnce.Do(func() {
		c.dispatcher.Start()
		c.wg.Add(1)
		go c.readLoop()
	})
	return nil
}

// Close shuts the engine down: the queue is drained (pending commands
// fail with ErrShutdown), the poll loop halts and the link is released.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		c.dispatcher.Stop()
		c.link.Close()
		c.wg.Wait()
	})
	return nil
}

// Status returns the link connection state.
func (c *Client) Status() LinkState {
	return c.link.State()
}

// Stats returns link-level operational statistics.
func (c *Client) Stats() LinkStats {
	return c.link.Stats()
}

// readLoop drains the link and feeds the codec, dispatcher and state
// store. It never blocks on caller-issued commands.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		frame, err := c.link.ReadFrame()
		if err != nil {
			// Only Close produces an error here.
			return
		}

		decoded, err := c.codec.Decode(frame)
		if err != nil {
			if errors.Is(err, ErrChecksum) {
				c.logDebug("dropped frame", "error", err.Error())
			}
			continue
		}

		switch v := decoded.(type) {
		case Ack:
			c.dispatcher.HandleAck(v)
		case Broadcast:
			c.applyBroadcast(v)
		case Unrecognized:
			c.logDebug("unrecognized frame", "bytes", fmt.Sprintf("%X", v.Frame))
		}
	}
}

// applyBroadcast merges a status report into the store, resolves any
// pending command it satisfies, and fans out real changes.
func (c *Client) applyBroadcast(b Broadcast) {
	snap, changed, err := c.store.UpdateZone(b.Zone, b.Update)
	if err != nil {
		c.logDebug("broadcast for unknown zone", "zone", b.Zone)
		return
	}

	c.dispatcher.HandleBroadcast(snap)

	if changed {
		c.logZone(snap)
		c.notifier.Notify(snap)
	}
}

// handleLinkState reacts to transport transitions: an outage marks all
// zones stale (and notifies), a recovery queues a full refresh.
func (c *Client) handleLinkState(s LinkState) {
	switch s {
	case LinkReconnecting, LinkDisconnected:
		for _, z := range c.store.MarkStale() {
			c.notifier.Notify(z)
		}
	case LinkConnected:
		go c.refreshAll()
	case LinkConnecting:
	}
}

// refreshAll queries every zone's status, best-effort.
func (c *Client) refreshAll() {
	for zone := 1; zone <= c.store.ZoneCount(); zone++ {
		if err := c.QueryZone(context.Background(), zone); err != nil {
			if errors.Is(err, ErrLinkDown) || errors.Is(err, ErrShutdown) {
				return
			}
			c.logDebug("refresh query failed", "zone", zone, "error", err.Error())
		}
	}
}

// SetZonePower turns a zone on or off.
func (c *Client) SetZonePower(ctx context.Context, zoneID int, on bool) error {
	if !c.profile.ValidZone(zoneID) {
		return fmt.Errorf("%w: %d", ErrInvalidZone, zoneID)
	}

	code := c.profile.PowerOffCode
	if on {
		code = c.profile.PowerOnCode
	}
	return c.dispatcher.Submit(ctx, Command{
		Zone:   zoneID,
		Opcode: c.profile.ControlOpcode,
		Data:   code,
	}, func(z Zone) bool { return z.Power == on })
}

// SetZoneVolume sets a zone's volume from a normalized 0.0..1.0 level.
// The raw level sent to the device is round(normalized * MaxVolume).
func (c *Client) SetZoneVolume(ctx context.Context, zoneID int, normalized float64) error {
	if !c.profile.ValidZone(zoneID) {
		return fmt.Errorf("%w: %d", ErrInvalidZone, zoneID)
	}
	if normalized < 0 || normalized > 1 || math.IsNaN(normalized) {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, normalized)
	}

	raw := int(math.Round(normalized * float64(c.profile.MaxVolume)))
	return c.setZoneVolumeRaw(ctx, zoneID, raw)
}

// VolumeUp raises a zone's volume one raw step.
func (c *Client) VolumeUp(ctx context.Context, zoneID int) error {
	return c.stepVolume(ctx, zoneID, 1)
}

// VolumeDown lowers a zone's volume one raw step.
func (c *Client) VolumeDown(ctx context.Context, zoneID int) error {
	return c.stepVolume(ctx, zoneID, -1)
}

func (c *Client) stepVolume(ctx context.Context, zoneID, delta int) error {
	z, err := c.store.Zone(zoneID)
	if err != nil {
		return err
	}

	raw := z.VolumeRaw + delta
	if raw < 0 {
		raw = 0
	}
	if raw > c.profile.MaxVolume {
		raw = c.profile.MaxVolume
	}
	if raw == z.VolumeRaw {
		return nil
	}
	return c.setZoneVolumeRaw(ctx, zoneID, raw)
}

func (c *Client) setZoneVolumeRaw(ctx context.Context, zoneID, raw int) error {
	return c.dispatcher.Submit(ctx, Command{
		Zone:   zoneID,
		Opcode: c.profile.VolumeOpcode,
		Data:   c.profile.EncodeWireVolume(raw),
	}, func(z Zone) bool { return z.VolumeRaw == raw })
}

// SetZoneSource routes a source input to a zone.
func (c *Client) SetZoneSource(ctx context.Context, zoneID, sourceID int) error {
	if !c.profile.ValidZone(zoneID) {
		return fmt.Errorf("%w: %d", ErrInvalidZone, zoneID)
	}
	if !c.profile.ValidSource(sourceID) {
		return fmt.Errorf("%w: %d", ErrInvalidSource, sourceID)
	}

	return c.dispatcher.Submit(ctx, Command{
		Zone:   zoneID,
		Opcode: c.profile.ControlOpcode,
		Data:   c.profile.SourceCode(sourceID),
	}, func(z Zone) bool { return z.SourceID == sourceID })
}

// SetZoneMute mutes or unmutes a zone. Muting does not alter the stored
// volume level.
func (c *Client) SetZoneMute(ctx context.Context, zoneID int, muted bool) error {
	if !c.profile.ValidZone(zoneID) {
		return fmt.Errorf("%w: %d", ErrInvalidZone, zoneID)
	}

	code := c.profile.MuteOffCode
	if muted {
		code = c.profile.MuteOnCode
	}
	return c.dispatcher.Submit(ctx, Command{
		Zone:   zoneID,
		Opcode: c.profile.ControlOpcode,
		Data:   code,
	}, func(z Zone) bool { return z.Muted == muted })
}

// QueryZone requests a status report for one zone. The resulting
// broadcast flows through the normal state pipeline.
func (c *Client) QueryZone(ctx context.Context, zoneID int) error {
	if !c.profile.ValidZone(zoneID) {
		return fmt.Errorf("%w: %d", ErrInvalidZone, zoneID)
	}

	return c.dispatcher.Submit(ctx, Command{
		Zone:   zoneID,
		Opcode: c.profile.QueryOpcode,
	}, func(Zone) bool { return true })
}

// Refresh queries every zone's status, returning the first hard failure.
func (c *Client) Refresh(ctx context.Context) error {
	for zone := 1; zone <= c.store.ZoneCount(); zone++ {
		if err := c.QueryZone(ctx, zone); err != nil {
			return err
		}
	}
	return nil
}

// GetZoneState returns a consistent snapshot of one zone.
func (c *Client) GetZoneState(zoneID int) (Zone, error) {
	return c.store.Zone(zoneID)
}

// ZoneStates returns snapshots of every zone, ordered by id.
func (c *Client) ZoneStates() []Zone {
	return c.store.Zones()
}

// Subscribe registers a callback for zone state changes.
func (c *Client) Subscribe(fn func(Zone)) Subscription {
	return c.notifier.Subscribe(fn)
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(handle Subscription) {
	c.notifier.Unsubscribe(handle)
}

// ZoneName resolves a zone id to its friendly name and visibility.
func (c *Client) ZoneName(zoneID int) (string, bool) {
	return c.zoneNames.Resolve(zoneID)
}

// SourceName resolves a source id to its friendly name and visibility.
func (c *Client) SourceName(sourceID int) (string, bool) {
	return c.sourceNames.Resolve(sourceID)
}

// logZone emits the fixed zone-update diagnostic line. Hidden zones and
// sources are logged like any other: visibility affects presentation
// only.
func (c *Client) logZone(z Zone) {
	if c.logger == nil {
		return
	}
	zoneName, _ := c.zoneNames.Resolve(z.ID)
	sourceName, _ := c.sourceNames.Resolve(z.SourceID)
	c.logger.Debug(formatZoneLine(z, zoneName, sourceName))
}

// formatZoneLine renders the fixed log-line contract consumed by the
// host platform's diagnostics tooling. The True/False capitalisation is
// part of the contract; do not "fix" it.
func formatZoneLine(z Zone, zoneName, sourceName string) string {
	return fmt.Sprintf(
		"Zone %d (%s) updated: power=%s, volume=%d (normalized=%.2f), source=%d (%s), mute=%s",
		z.ID, zoneName, titleBool(z.Power), z.VolumeRaw, z.VolumeNormalized,
		z.SourceID, sourceName, titleBool(z.Muted),
	)
}

func titleBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}
