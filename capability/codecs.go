package capability

import (
	"fmt"

	"github.com/vsslctrl/vsslctrl/state"
)

// uint8Codec carries an int in a single payload byte.
type uint8Codec struct{}

func (uint8Codec) EncodeValue(v any) ([]byte, error) {
	n, ok := v.(int)
	if !ok || n < 0 || n > 255 {
		return nil, fmt.Errorf("%w: %v does not fit one byte", ErrBadPayload, v)
	}
	return []byte{byte(n)}, nil
}

func (uint8Codec) DecodeValue(payload []byte) (any, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrBadPayload)
	}
	return int(payload[0]), nil
}

// boolCodec carries a bool as 0x00/0x01.
type boolCodec struct{}

func (boolCodec) EncodeValue(v any) ([]byte, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a bool", ErrBadPayload, v)
	}
	if b {
		return []byte{0x01}, nil
	}
	return []byte{0x00}, nil
}

func (boolCodec) DecodeValue(payload []byte) (any, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrBadPayload)
	}
	return payload[0] != 0, nil
}

// stringCodec carries a string as raw UTF-8 bytes.
type stringCodec struct{}

func (stringCodec) EncodeValue(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a string", ErrBadPayload, v)
	}
	return []byte(s), nil
}

func (stringCodec) DecodeValue(payload []byte) (any, error) {
	return string(payload), nil
}

// volumeCodec carries a volume-family value as [value, sub]. The sub byte
// distinguishes the volume-family properties sharing command group 0x05 and
// feedback group 0x06.
type volumeCodec struct {
	sub byte
}

func (c volumeCodec) EncodeValue(v any) ([]byte, error) {
	n, ok := v.(int)
	if !ok || n < 0 || n > 255 {
		return nil, fmt.Errorf("%w: %v does not fit one byte", ErrBadPayload, v)
	}
	return []byte{byte(n), c.sub}, nil
}

func (c volumeCodec) DecodeValue(payload []byte) (any, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrBadPayload)
	}
	return int(payload[0]), nil
}

// eqBandCodec carries an equaliser band value as [band, value].
type eqBandCodec struct {
	band byte
}

func (c eqBandCodec) EncodeValue(v any) ([]byte, error) {
	n, ok := v.(int)
	if !ok || n < 0 || n > 255 {
		return nil, fmt.Errorf("%w: %v does not fit one byte", ErrBadPayload, v)
	}
	return []byte{c.band, byte(n)}, nil
}

func (c eqBandCodec) DecodeValue(payload []byte) (any, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: want [band, value]", ErrBadPayload)
	}
	return int(payload[1]), nil
}

// transportCodec is asymmetric. The device reads transport commands as
// play=0, stop=1, pause=2 but reports state as stop=0, play=1, pause=2.
// The canonical values everywhere in this library are the reported ones.
type transportCodec struct{}

func (transportCodec) EncodeValue(v any) ([]byte, error) {
	n, ok := v.(int)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an integer", ErrBadPayload, v)
	}
	switch n {
	case state.TransportPlay:
		return []byte{0x00}, nil
	case state.TransportStop:
		return []byte{0x01}, nil
	case state.TransportPause:
		return []byte{0x02}, nil
	}
	return nil, fmt.Errorf("%w: transport state %d", ErrBadPayload, n)
}

func (transportCodec) DecodeValue(payload []byte) (any, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrBadPayload)
	}
	n := int(payload[0])
	if n > state.TransportPause {
		return nil, fmt.Errorf("%w: transport state %d", ErrBadPayload, n)
	}
	return n, nil
}
