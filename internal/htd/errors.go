package htd

import "errors"

// Domain errors for the HTD engine.
var (
	// ErrLinkDown is returned when a command is attempted while the link
	// is not connected. Commands are never queued across an outage.
	ErrLinkDown = errors.New("htd: link down")

	// ErrConnectionFailed is returned when the initial connection to the
	// controller cannot be established.
	ErrConnectionFailed = errors.New("htd: connection failed")

	// ErrCommandTimeout is returned to a command's caller after the retry
	// budget is exhausted without an acknowledgment.
	ErrCommandTimeout = errors.New("htd: command timed out")

	// ErrShutdown is returned to commands still queued or in flight when
	// the engine shuts down.
	ErrShutdown = errors.New("htd: shutting down")

	// ErrQueueFull is returned when the command queue cannot accept
	// another entry.
	ErrQueueFull = errors.New("htd: command queue full")

	// ErrChecksum indicates a frame failed checksum verification. The
	// frame is dropped and counted; the read loop continues.
	ErrChecksum = errors.New("htd: frame checksum mismatch")

	// ErrFraming indicates a malformed byte stream. Recovery is local:
	// bytes are discarded up to the next recognised frame header.
	ErrFraming = errors.New("htd: malformed byte stream")

	// ErrClosed is returned by link operations after Close.
	ErrClosed = errors.New("htd: link closed")

	// ErrUnknownModel is returned for an unrecognised model family id.
	ErrUnknownModel = errors.New("htd: unknown model family")

	// ErrInvalidZone is returned for a zone id outside 1..zone count.
	ErrInvalidZone = errors.New("htd: invalid zone id")

	// ErrInvalidSource is returned for a source id outside 1..source count.
	ErrInvalidSource = errors.New("htd: invalid source id")

	// ErrInvalidVolume is returned for a normalized volume outside 0.0..1.0.
	ErrInvalidVolume = errors.New("htd: volume out of range")
)
