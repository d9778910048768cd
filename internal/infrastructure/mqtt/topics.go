package mqtt

import (
	"fmt"
	"strconv"
)

// TopicPrefix is the base for all bridge topics.
//
// Scheme: htd/{category}/zone/{id}
const TopicPrefix = "htd"

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.ZoneState(3)
//	// Returns: "htd/state/zone/3"
type Topics struct{}

// ZoneState returns the topic for retained zone state updates.
//
// Example: htd/state/zone/3
func (Topics) ZoneState(zoneID int) string {
	return fmt.Sprintf("%s/state/zone/%d", TopicPrefix, zoneID)
}

// ZoneCommand returns the topic for commands addressed to one zone.
//
// Example: htd/command/zone/3
func (Topics) ZoneCommand(zoneID int) string {
	return fmt.Sprintf("%s/command/zone/%d", TopicPrefix, zoneID)
}

// ZoneAck returns the topic for command acknowledgements.
//
// Example: htd/ack/zone/3
func (Topics) ZoneAck(zoneID int) string {
	return fmt.Sprintf("%s/ack/zone/%d", TopicPrefix, zoneID)
}

// Health returns the topic for periodic bridge health reports.
//
// Example: htd/health
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// SystemStatus returns the online/offline status topic, also used for the
// Last Will and Testament.
//
// Example: htd/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllZoneCommands returns a pattern matching commands for every zone.
//
// Pattern: htd/command/zone/+
func (Topics) AllZoneCommands() string {
	return TopicPrefix + "/command/zone/+"
}

// ZoneFromCommandTopic extracts the zone id from a command topic.
//
// Returns 0 if the topic does not match htd/command/zone/{id}.
func (Topics) ZoneFromCommandTopic(topic string) int {
	var id int
	prefix := TopicPrefix + "/command/zone/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return 0
	}
	id, err := strconv.Atoi(topic[len(prefix):])
	if err != nil || id < 1 {
		return 0
	}
	return id
}
