// Package influxdb records the bridge's time-series telemetry: zone
// state snapshots (power, volume, source, mute) on every change, and
// transport link counters (frames, checksum errors, reconnects) on an
// interval.
//
// Writes go through influxdb-client-go's non-blocking batched API, so
// the engine's notification path never waits on the network; batch
// failures surface through the SetOnError callback. Batch size and
// flush interval come from the influxdb config section.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteZoneState(3, true, 15, 0.375, 2, false)
package influxdb
