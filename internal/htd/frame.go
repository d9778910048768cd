package htd

import (
	"fmt"
	"sync/atomic"
	"time"
)

// CorrelationKey identifies a command for matching against its echo.
// The controller acknowledges an accepted command by echoing the command
// frame back, so the key is derived from the frame content itself.
type CorrelationKey string

// Command is one logical instruction for the controller.
type Command struct {
	Zone   int
	Opcode byte
	Data   byte

	// EnqueuedAt is set by the dispatcher when the command is queued.
	EnqueuedAt time.Time
}

// Key returns the command's correlation key.
func (c Command) Key() CorrelationKey {
	return CorrelationKey(fmt.Sprintf("%d:%02x:%02x", c.Zone, c.Opcode, c.Data))
}

// Decoded is the closed union of frame decode results. The dispatcher
// inspects only Ack values, the state pipeline only Broadcast values.
type Decoded interface {
	isDecoded()
}

// Ack is the controller's echo of an accepted command frame.
type Ack struct {
	Zone int
	Key  CorrelationKey
}

// Broadcast is a zone status report, either solicited by a query or
// emitted spontaneously on front panel / keypad changes.
type Broadcast struct {
	Zone   int
	Update ZoneUpdate
}

// Unrecognized is a structurally valid frame the engine cannot interpret
// (for example a status report for a zone outside the configured range).
type Unrecognized struct {
	Frame []byte
}

func (Ack) isDecoded()          {}
func (Broadcast) isDecoded()    {}
func (Unrecognized) isDecoded() {}

// Codec encodes commands into wire frames and decodes wire frames into
// Decoded values, per the model profile selected at startup.
//
// Thread Safety: all methods are safe for concurrent use.
type Codec struct {
	profile ModelProfile

	checksumErrors atomic.Uint64
}

// NewCodec creates a codec for the given model profile.
func NewCodec(profile ModelProfile) *Codec {
	return &Codec{profile: profile}
}

// Profile returns the codec's model profile.
func (c *Codec) Profile() ModelProfile {
	return c.profile
}

// checksum computes the modulo-256 sum of the given bytes.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// EncodeCommand encodes a command into a complete wire frame:
// header(2) + zone + opcode + data + checksum.
func (c *Codec) EncodeCommand(cmd Command) []byte {
	frame := make([]byte, c.profile.CommandLength)
	frame[0] = c.profile.Header[0]
	frame[1] = c.profile.Header[1]
	frame[frameZoneIndex] = byte(cmd.Zone)
	frame[frameOpcodeIndex] = cmd.Opcode
	frame[frameDataIndex] = cmd.Data
	frame[len(frame)-1] = checksum(frame[:len(frame)-1])
	return frame
}

// EncodeStatus encodes a zone status frame. Used by the reconciliation
// tests and by bench simulators; the controller produces these on the wire.
func (c *Codec) EncodeStatus(zone int, power bool, sourceID, volumeRaw int, muted bool) []byte {
	frame := make([]byte, c.profile.StatusLength)
	frame[0] = c.profile.Header[0]
	frame[1] = c.profile.Header[1]
	frame[frameZoneIndex] = byte(zone)
	frame[frameOpcodeIndex] = c.profile.StatusOpcode

	var state byte
	if power {
		state |= stateBitPower
	}
	if muted {
		state |= stateBitMute
	}
	frame[statusStateIndex] = state
	frame[statusSourceIndex] = byte(sourceID)
	frame[statusVolumeIndex] = c.profile.EncodeWireVolume(volumeRaw)
	frame[len(frame)-1] = checksum(frame[:len(frame)-1])
	return frame
}

// Decode interprets a complete frame.
//
// A checksum mismatch returns ErrChecksum; the caller drops the frame and
// continues; integrity failures are counted, never fatal.
//
// Parameters:
//   - frame: A complete frame as returned by Link.ReadFrame
//
// Returns:
//   - Decoded: Ack for command echoes, Broadcast for status reports,
//     Unrecognized otherwise
//   - error: ErrChecksum or ErrFraming; the Decoded result is nil
func (c *Codec) Decode(frame []byte) (Decoded, error) {
	if len(frame) < minFrameLength {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrFraming, len(frame))
	}
	if frame[0] != c.profile.Header[0] || frame[1] != c.profile.Header[1] {
		return nil, fmt.Errorf("%w: bad header %02X %02X", ErrFraming, frame[0], frame[1])
	}

	opcode := frame[frameOpcodeIndex]
	want := c.profile.FrameLengthFor(opcode)
	if want == 0 || len(frame) != want {
		return nil, fmt.Errorf("%w: opcode %02X with length %d", ErrFraming, opcode, len(frame))
	}

	if got, expect := frame[len(frame)-1], checksum(frame[:len(frame)-1]); got != expect {
		c.checksumErrors.Add(1)
		return nil, fmt.Errorf("%w: got %02X, expected %02X", ErrChecksum, got, expect)
	}

	zone := int(frame[frameZoneIndex])

	if opcode == c.profile.StatusOpcode {
		if !c.profile.ValidZone(zone) {
			return Unrecognized{Frame: frame}, nil
		}
		power := frame[statusStateIndex]&stateBitPower != 0
		muted := frame[statusStateIndex]&stateBitMute != 0
		source := int(frame[statusSourceIndex])
		volume := c.profile.DecodeWireVolume(frame[statusVolumeIndex])
		return Broadcast{
			Zone: zone,
			Update: ZoneUpdate{
				Power:     &power,
				Muted:     &muted,
				SourceID:  &source,
				VolumeRaw: &volume,
			},
		}, nil
	}

	// Command echo: the key reconstructs exactly what EncodeCommand sent.
	cmd := Command{Zone: zone, Opcode: opcode, Data: frame[frameDataIndex]}
	return Ack{Zone: zone, Key: cmd.Key()}, nil
}

// ChecksumErrors returns the count of frames dropped for failing
// checksum verification since the codec was created.
func (c *Codec) ChecksumErrors() uint64 {
	return c.checksumErrors.Load()
}
