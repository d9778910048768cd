// Package htd implements the device communication engine for HTD whole-house
// audio matrix controllers (MC/MCA-66 and Lync 6/12 families).
//
// The engine drives a single half-duplex link (RS-232 serial or a TCP
// serial-server) and presents a race-free, per-zone state snapshot to
// callers:
//
//   - Link owns the raw byte stream: framing resync, write exclusivity and
//     reconnection with capped, jittered exponential backoff.
//   - Codec translates commands to wire frames and wire frames back into a
//     closed union of Ack, Broadcast and Unrecognized results. Frame layout
//     is a per-model data table (ModelProfile), never a branch in shared
//     logic.
//   - Dispatcher serialises outbound commands (exactly one in flight),
//     matches acknowledgments, retries on timeout and runs the periodic
//     reconciliation poll.
//   - StateStore holds canonical per-zone state with a single writer and
//     change detection.
//   - NameMap resolves zone/source ids to friendly names and the "Unused"
//     hidden sentinel.
//   - Notifier fans state changes out to subscribers with strict per-zone
//     ordering.
//
// Client ties these together behind the public API (Connect, SetZonePower,
// SetZoneVolume, Subscribe, ...). Transport and frame-level failures are
// absorbed internally; only per-command failures surface to callers.
//
// The controllers broadcast zone status spontaneously (front panel or
// keypad changes), interleaved with command echoes. The read pipeline
// treats both uniformly: echoes resolve pending commands, status frames
// merge into the store, and a broadcast that already reflects a pending
// command's intent counts as implicit success.
package htd
