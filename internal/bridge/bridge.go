package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/htd-bridge/internal/htd"
	"github.com/nerrad567/htd-bridge/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandTimeout bounds a single MQTT-originated command, covering
	// queueing plus the engine's own retry budget.
	commandTimeout = 10 * time.Second
)

// Bridge translates between the controller engine and MQTT.
// It handles:
//   - Consuming zone commands from htd/command/zone/{id}
//   - Publishing retained zone state to htd/state/zone/{id}
//   - Command acknowledgments on htd/ack/zone/{id}
//   - Health reporting on htd/health
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	id     string
	engine Engine
	mqtt   MQTTClient
	health *HealthReporter

	sub htd.Subscription

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   htd.Logger
	loggerMu sync.RWMutex
}

// Engine is the controller-facing surface the bridge drives.
// Satisfied by *htd.Client.
type Engine interface {
	SetZonePower(ctx context.Context, zoneID int, on bool) error
	SetZoneVolume(ctx context.Context, zoneID int, normalized float64) error
	VolumeUp(ctx context.Context, zoneID int) error
	VolumeDown(ctx context.Context, zoneID int) error
	SetZoneSource(ctx context.Context, zoneID, sourceID int) error
	SetZoneMute(ctx context.Context, zoneID int, muted bool) error
	Refresh(ctx context.Context) error

	Subscribe(fn func(htd.Zone)) htd.Subscription
	Unsubscribe(handle htd.Subscription)

	ZoneStates() []htd.Zone
	ZoneName(zoneID int) (string, bool)
	SourceName(sourceID int) (string, bool)

	Status() htd.LinkState
	Stats() htd.LinkStats
}

// MQTTClient is the broker-facing surface the bridge publishes through.
// Satisfied by *mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

var (
	_ Engine     = (*htd.Client)(nil)
	_ MQTTClient = (*mqtt.Client)(nil)
)

// Options holds configuration for creating a bridge.
type Options struct {
	// ID identifies this bridge in health messages.
	ID string

	// Engine is the controller engine. Required.
	Engine Engine

	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Version is the bridge software version for health messages.
	Version string

	// HealthInterval is how often to publish health status.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Logger is optional structured logging.
	Logger htd.Logger

	// Address is the controller connection URL, reported in health
	// messages.
	Address string
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}

	id := opts.ID
	if id == "" {
		id = "htd"
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		id:        id,
		engine:    opts.Engine,
		mqtt:      opts.MQTT,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  id,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Address:   opts.Address,
		Publisher: opts.MQTT,
		Engine:    opts.Engine,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command topics, hooks the engine's change
// notifications, publishes the current state of every zone, and starts
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	// Zone change fan-out drives retained state topics
	b.sub = b.engine.Subscribe(b.publishState)

	commandTopic := mqtt.Topics{}.AllZoneCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommandMessage); err != nil {
		b.engine.Unsubscribe(b.sub)
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	// Seed retained topics so consumers see state before the first change
	for _, z := range b.engine.ZoneStates() {
		b.publishState(z)
	}

	b.health.Start(ctx)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started", "bridge_id", b.id, "zones", len(b.engine.ZoneStates()))
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.engine.Unsubscribe(b.sub)
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// handleCommandMessage processes a command from htd/command/zone/{id}.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	zone := (mqtt.Topics{}).ZoneFromCommandTopic(topic)
	if zone == 0 {
		b.logError("invalid command topic", fmt.Errorf("topic: %s", topic))
		return nil
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return nil
	}

	b.logInfo("received command",
		"zone", zone,
		"command", cmd.Command,
		"command_id", cmd.ID)

	b.executeCommand(zone, cmd)
	return nil
}

// executeCommand validates and forwards a command to the engine, then
// publishes the resulting acknowledgment.
func (b *Bridge) executeCommand(zone int, cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd.Command {
	case CmdPower:
		on, ok := cmd.Value.(bool)
		if !ok {
			b.publishAckError(cmd, zone, ErrCodeInvalidParameters, "'value' must be a boolean")
			return
		}
		err = b.engine.SetZonePower(ctx, zone, on)
	case CmdVolume:
		level, ok := cmd.Value.(float64)
		if !ok {
			b.publishAckError(cmd, zone, ErrCodeInvalidParameters, "'value' must be a number")
			return
		}
		err = b.engine.SetZoneVolume(ctx, zone, level)
	case CmdVolumeUp:
		err = b.engine.VolumeUp(ctx, zone)
	case CmdVolumeDown:
		err = b.engine.VolumeDown(ctx, zone)
	case CmdSource:
		source, ok := cmd.Value.(float64)
		if !ok || source != float64(int(source)) {
			b.publishAckError(cmd, zone, ErrCodeInvalidParameters, "'value' must be an integer source number")
			return
		}
		err = b.engine.SetZoneSource(ctx, zone, int(source))
	case CmdMute:
		muted, ok := cmd.Value.(bool)
		if !ok {
			b.publishAckError(cmd, zone, ErrCodeInvalidParameters, "'value' must be a boolean")
			return
		}
		err = b.engine.SetZoneMute(ctx, zone, muted)
	case CmdRefresh:
		err = b.engine.Refresh(ctx)
	default:
		b.publishAckError(cmd, zone, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
		return
	}

	if err != nil {
		b.publishAckError(cmd, zone, errorCode(err), err.Error())
		return
	}

	b.publishAck(cmd, zone, AckAccepted)
}

// errorCode maps engine errors to acknowledgment error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, htd.ErrLinkDown):
		return ErrCodeLinkDown
	case errors.Is(err, htd.ErrCommandTimeout):
		return ErrCodeTimeout
	case errors.Is(err, htd.ErrInvalidZone),
		errors.Is(err, htd.ErrInvalidSource),
		errors.Is(err, htd.ErrInvalidVolume):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeBridgeError
	}
}

// publishState publishes a retained state message for a zone snapshot.
func (b *Bridge) publishState(z htd.Zone) {
	zoneName, _ := b.engine.ZoneName(z.ID)
	sourceName, _ := b.engine.SourceName(z.SourceID)

	msg := NewStateMessage(z, zoneName, sourceName)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	topic := mqtt.Topics{}.ZoneState(z.ID)
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, zone int, status AckStatus) {
	b.publish(NewAckMessage(cmd, zone, status), zone)
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, zone int, code, message string) {
	b.publish(NewAckError(cmd, zone, code, message), zone)

	b.logError("command failed",
		fmt.Errorf("zone=%d command=%s code=%s message=%s", zone, cmd.Command, code, message))
}

func (b *Bridge) publish(ack AckMessage, zone int) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := mqtt.Topics{}.ZoneAck(zone)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger htd.Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
