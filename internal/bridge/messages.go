package bridge

import (
	"time"

	"github.com/nerrad567/htd-bridge/internal/htd"
)

// MQTT message types exchanged between the bridge and automation
// platforms. Zone identity travels in the topic (htd/state/zone/{id},
// htd/command/zone/{id}); payloads carry the rest.

// Zone command names accepted on htd/command/zone/{id}.
const (
	CmdPower      = "power"
	CmdVolume     = "volume"
	CmdVolumeUp   = "volume_up"
	CmdVolumeDown = "volume_down"
	CmdSource     = "source"
	CmdMute       = "mute"
	CmdRefresh    = "refresh"
)

// CommandMessage is received on htd/command/zone/{id}.
type CommandMessage struct {
	// ID correlates acknowledgments with commands. Optional.
	ID string `json:"id,omitempty"`

	// Command is the command name (power, volume, volume_up,
	// volume_down, source, mute, refresh).
	Command string `json:"command"`

	// Value carries the command argument:
	//   power/mute: bool
	//   volume: number 0.0-1.0 (normalized)
	//   source: 1-based source number
	// Commands without an argument (volume_up, volume_down, refresh)
	// omit it.
	Value any `json:"value,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was validated and queued for
	// the controller.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the controller did not acknowledge within
	// the retry budget.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is published to htd/ack/zone/{id} after a command settles.
type AckMessage struct {
	// CommandID is the ID from the original command (may be empty).
	CommandID string `json:"command_id,omitempty"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Zone is the 1-based zone number.
	Zone int `json:"zone"`

	// Command is the command name from the original message.
	Command string `json:"command"`

	// Status indicates how the command settled.
	Status AckStatus `json:"status"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g. "LINK_DOWN", "INVALID_PARAMETERS").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeLinkDown          = "LINK_DOWN"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is published to htd/state/zone/{id} when zone state
// changes. QoS 1, retained.
type StateMessage struct {
	// Zone is the 1-based zone number.
	Zone int `json:"zone"`

	// Name is the friendly zone name (empty when the zone is hidden
	// or unnamed).
	Name string `json:"name,omitempty"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	Power            bool    `json:"power"`
	VolumeRaw        int     `json:"volume_raw"`
	VolumeNormalized float64 `json:"volume_normalized"`
	Source           int     `json:"source"`

	// SourceName is the friendly name of the selected input (empty
	// when hidden or unnamed).
	SourceName string `json:"source_name,omitempty"`

	Muted bool `json:"muted"`

	// Stale is true while the controller link is down; the snapshot is
	// the last confirmed state.
	Stale bool `json:"stale"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published to htd/health.
// QoS 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection describes the controller link.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational counters.
	Statistics *LinkStatistics `json:"statistics,omitempty"`

	// ZonesManaged is the number of active zones.
	ZonesManaged int `json:"zones_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the controller link state.
type ConnectionStatus struct {
	// Status is the link state ("connected", "connecting", "disconnected").
	Status string `json:"status"`

	// Address is the controller connection URL.
	Address string `json:"address,omitempty"`
}

// LinkStatistics contains controller link counters.
type LinkStatistics struct {
	FramesRx        uint64 `json:"frames_rx"`
	FramesTx        uint64 `json:"frames_tx"`
	FramingErrors   uint64 `json:"framing_errors"`
	ChecksumErrors  uint64 `json:"checksum_errors"`
	ReconnectsTotal uint64 `json:"reconnects_total"`
}

// NewStateMessage builds a state message from a zone snapshot.
func NewStateMessage(z htd.Zone, zoneName, sourceName string) StateMessage {
	return StateMessage{
		Zone:             z.ID,
		Name:             zoneName,
		Timestamp:        time.Now().UTC(),
		Power:            z.Power,
		VolumeRaw:        z.VolumeRaw,
		VolumeNormalized: z.VolumeNormalized,
		Source:           z.SourceID,
		SourceName:       sourceName,
		Muted:            z.Muted,
		Stale:            z.Stale,
	}
}

// NewAckMessage creates an acknowledgment for a settled command.
func NewAckMessage(cmd CommandMessage, zone int, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Zone:      zone,
		Command:   cmd.Command,
		Status:    status,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, zone int, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Zone:      zone,
		Command:   cmd.Command,
		Status:    status,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewLWTMessage creates the Last Will and Testament health message.
// The broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
