package influxdb

import "errors"

// Sentinel errors for telemetry operations, matched with errors.Is.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when the influxdb config
	// section is off; the bridge runs without telemetry.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
