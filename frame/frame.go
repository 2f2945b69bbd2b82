package frame

import (
	"bytes"
	"fmt"
)

// Wire format constants.
const (
	// Marker is the leading byte of every frame.
	Marker byte = 0x10

	// Terminator is the trailing byte of every frame.
	Terminator byte = 0x03

	// headerSize is marker + group + length.
	headerSize = 3

	// maxPayload is bounded by the one-byte length field, which counts the
	// slot byte plus the payload.
	maxPayload = 254
)

// Well-known command groups used by the connection layer itself. The full
// property-to-group mapping lives in the capability table.
const (
	// GroupKeepAlive is the liveness probe; the device echoes it back.
	GroupKeepAlive byte = 0x17

	// GroupStatus requests a status bundle; the slot byte selects the bundle.
	GroupStatus byte = 0x00

	// keepAliveSlot is the selector byte the device expects on probes.
	keepAliveSlot byte = 0x07
)

// Message is a parsed inbound frame.
type Message struct {
	// Group is the command-group byte identifying the message type.
	Group byte

	// Slot is the zone slot (1-6), 0 for device-wide messages, or a
	// group-specific selector.
	Slot byte

	// Payload is the frame body after the slot byte.
	Payload []byte
}

// String returns a compact representation for logs.
func (m Message) String() string {
	return fmt.Sprintf("Message{Group:0x%02X, Slot:%d, Payload:%X}", m.Group, m.Slot, m.Payload)
}

// Encode builds a wire frame for the given command group, zone slot and
// payload.
func Encode(group, slot byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, headerSize+1+len(payload)+1)
	buf = append(buf, Marker, group, byte(1+len(payload)), slot)
	buf = append(buf, payload...)
	buf = append(buf, Terminator)
	return buf, nil
}

// KeepAlive returns the liveness probe frame.
func KeepAlive() []byte {
	b, _ := Encode(GroupKeepAlive, keepAliveSlot, nil)
	return b
}

// StatusRequest returns a status bundle request frame. The bundle selector
// rides in the slot position.
func StatusRequest(bundle byte) []byte {
	b, _ := Encode(GroupStatus, bundle, nil)
	return b
}

// Decode scans buf for the next frame.
//
// On success it returns the parsed Message and the number of bytes consumed.
// If buf holds fewer bytes than a complete frame requires, it returns
// ErrShortFrame and the caller should append more data and retry. If the
// bytes present cannot form a valid frame (bad marker or terminator), it
// returns a *DesyncError whose Skip field is the recommended number of bytes
// to discard: the offset of the next marker byte, so a corrupted frame never
// poisons the frames that follow it. No frame is ever partially applied.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) == 0 {
		return Message{}, 0, ErrShortFrame
	}

	if buf[0] != Marker {
		return Message{}, 0, &DesyncError{Skip: nextMarker(buf)}
	}

	if len(buf) < headerSize {
		return Message{}, 0, ErrShortFrame
	}

	length := int(buf[2])
	if length < 1 {
		// A frame always carries at least the slot byte.
		return Message{}, 0, &DesyncError{Skip: nextMarker(buf)}
	}

	total := headerSize + length + 1
	if len(buf) < total {
		return Message{}, 0, ErrShortFrame
	}

	if buf[total-1] != Terminator {
		return Message{}, 0, &DesyncError{Skip: nextMarker(buf)}
	}

	msg := Message{
		Group: buf[1],
		Slot:  buf[3],
	}
	if length > 1 {
		msg.Payload = make([]byte, length-1)
		copy(msg.Payload, buf[headerSize+1:total-1])
	}

	return msg, total, nil
}

// nextMarker returns the offset of the next Marker after position 0, or
// len(buf) if the remainder holds none.
func nextMarker(buf []byte) int {
	if i := bytes.IndexByte(buf[1:], Marker); i >= 0 {
		return i + 1
	}
	return len(buf)
}
