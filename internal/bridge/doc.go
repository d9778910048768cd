// Package bridge connects the controller engine to MQTT.
//
// It consumes zone commands from htd/command/zone/{id}, forwards them
// to the engine, and acknowledges each on htd/ack/zone/{id}. Zone state
// changes from the engine are published retained to htd/state/zone/{id}
// so consumers see current state immediately on subscribe. A health
// reporter publishes periodic status to htd/health.
//
// The Engine and MQTTClient interfaces keep the package testable with
// in-memory fakes; in production they are *htd.Client and *mqtt.Client.
package bridge
