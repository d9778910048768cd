package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteZoneState writes a zone state snapshot to InfluxDB.
//
// This is the primary method for recording audio zone telemetry.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - zoneID: 1-based zone number
//   - power: Zone power state
//   - volumeRaw: Device volume (0 to the model maximum)
//   - volumeNormalized: Volume as a 0.0-1.0 fraction
//   - sourceID: 1-based selected input
//   - muted: Zone mute state
//
// Example:
//
//	client.WriteZoneState(3, true, 15, 0.375, 2, false)
func (c *Client) WriteZoneState(zoneID int, power bool, volumeRaw int, volumeNormalized float64, sourceID int, muted bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"zone_state",
		map[string]string{
			"zone": zoneTag(zoneID),
		},
		map[string]interface{}{
			"power":             power,
			"volume_raw":        volumeRaw,
			"volume_normalized": volumeNormalized,
			"source":            sourceID,
			"muted":             muted,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLinkMetric writes a transport link counter.
//
// Used for tracking frame throughput and resync activity on the
// controller connection.
//
// Parameters:
//   - metricName: Counter name (e.g. "frames_rx", "bytes_discarded")
//   - value: The counter value
func (c *Client) WriteLinkMetric(metricName string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"link",
		map[string]string{
			"metric": metricName,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("bridge_stats",
//	    map[string]string{"host": "bridge-01"},
//	    map[string]interface{}{"commands_sent": 120, "timeouts": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

// zoneTag renders a zone ID as a low-cardinality tag value.
func zoneTag(zoneID int) string {
	return strconv.Itoa(zoneID)
}
