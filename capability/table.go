package capability

import (
	"encoding/json"
	"fmt"

	"github.com/vsslctrl/vsslctrl/frame"
	"github.com/vsslctrl/vsslctrl/state"
)

// Model identifies an amplifier hardware model.
type Model string

// Supported models. The X variants differ in casework and DSP, not in the
// control protocol; only the zone count matters here.
const (
	ModelA1  Model = "A.1"
	ModelA1X Model = "A.1x"
	ModelA3  Model = "A.3"
	ModelA3X Model = "A.3x"
	ModelA6  Model = "A.6"
	ModelA6X Model = "A.6x"
)

// ZoneCount returns how many output zones the model drives, or 0 for an
// unknown model.
func (m Model) ZoneCount() int {
	switch m {
	case ModelA1, ModelA1X:
		return 1
	case ModelA3, ModelA3X:
		return 3
	case ModelA6, ModelA6X:
		return 6
	}
	return 0
}

// Status bundle selectors. A bundle request frame carries the selector in
// the slot position; the device answers with a JSON payload on the same
// group.
const (
	BundleZoneSettings   byte = 8
	BundleOutputSettings byte = 9
	BundleTrackMetadata  byte = 10
)

// Bundles lists every status bundle requested during initialisation.
var Bundles = []byte{BundleZoneSettings, BundleOutputSettings, BundleTrackMetadata}

// Feedback is one decoded property value from an inbound frame.
type Feedback struct {
	Key   state.Key
	Value any
}

type prop struct {
	op     state.Opcode
	domain state.Domain
}

// Table is one model's immutable capability description. It implements
// state.Capabilities.
type Table struct {
	model      Model
	props      map[state.Key]prop
	byFeedback map[byte]state.Key // groups with a 1:1 key mapping
	volumeSubs map[byte]state.Key // feedback 0x06, demuxed on the sub byte
}

// ForModel returns the capability table for the model.
func ForModel(m Model) (*Table, error) {
	if m.ZoneCount() == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, string(m))
	}

	t := &Table{
		model:      m,
		props:      make(map[state.Key]prop),
		byFeedback: make(map[byte]state.Key),
		volumeSubs: make(map[byte]state.Key),
	}
	t.build()
	return t, nil
}

// build populates the table. All current models expose the same property
// set; they differ only in zone count.
func (t *Table) build() {
	// Volume family: shared command group 0x05 and feedback group 0x06,
	// demuxed on the trailing sub byte.
	volume := func(key state.Key, sub byte, dom state.Domain) {
		t.props[key] = prop{
			op:     state.Opcode{Command: 0x05, Feedback: 0x06, Codec: volumeCodec{sub: sub}},
			domain: dom,
		}
		t.volumeSubs[sub] = key
	}
	volume(state.KeyVolume, 0x03, state.IntRange{Min: 0, Max: 100})
	volume(state.KeyDefaultOnVolume, 0x08, state.IntRange{Min: 0, Max: 100})
	volume(state.KeyMaxVolumeLeft, 0x01, state.IntRange{Min: 0, Max: 100, Def: 100})
	volume(state.KeyMaxVolumeRight, 0x02, state.IntRange{Min: 0, Max: 100, Def: 100})
	volume(state.KeyInputGain, 0x00, state.IntRange{Min: 0, Max: 100, Def: 50})

	add := func(key state.Key, op state.Opcode, dom state.Domain) {
		t.props[key] = prop{op: op, domain: dom}
		if op.Feedback != 0 && op.Codec != nil {
			t.byFeedback[op.Feedback] = key
		}
	}

	add(state.KeyMute,
		state.Opcode{Command: 0x11, Feedback: 0x12, Query: 0x12, Codec: boolCodec{}},
		state.BoolDomain{})
	add(state.KeyTransportState,
		state.Opcode{Command: 0x3D, Feedback: 0x07, Query: 0x07, Codec: transportCodec{}},
		state.EnumDomain{Values: []int{state.TransportStop, state.TransportPlay, state.TransportPause}})
	add(state.KeyInputSource,
		state.Opcode{Command: 0x03, Feedback: 0x04, Query: 0x04, Codec: uint8Codec{}},
		state.EnumDomain{Values: []int{0, 3, 4, 5, 6, 7, 8, 16}})
	add(state.KeyInputPriority,
		state.Opcode{Command: 0x47, Feedback: 0x48, Codec: uint8Codec{}},
		state.EnumDomain{Values: []int{0, 1}})
	add(state.KeyMonoOutput,
		state.Opcode{Command: 0x0F, Feedback: 0x10, Codec: boolCodec{}},
		state.BoolDomain{})
	add(state.KeyDisabled,
		state.Opcode{Command: 0x25, Feedback: 0x26, Codec: boolCodec{}},
		state.BoolDomain{})
	add(state.KeyEQEnabled,
		state.Opcode{Command: 0x2D, Feedback: 0x2E, Codec: boolCodec{}},
		state.BoolDomain{})
	add(state.KeyAnalogOutSource,
		state.Opcode{Command: 0x1D, Feedback: 0x1E, Codec: uint8Codec{}},
		state.IntRange{Min: 0, Max: 6})
	add(state.KeyAnalogOutFixed,
		state.Opcode{Command: 0x49, Feedback: 0x4A, Codec: boolCodec{}},
		state.BoolDomain{})
	add(state.KeyZoneName,
		state.Opcode{Command: 0x5A, Feedback: 0x5A, Query: 0x5A, Codec: stringCodec{}},
		state.StringDomain{MaxBytes: 64})

	// Equaliser bands share command 0x0D and feedback 0x0E, demuxed on the
	// leading band byte. Values are centred on 100 (0 dB), range +/-10.
	for band := 1; band <= state.EQBandCount; band++ {
		t.props[state.EQBand(band)] = prop{
			op:     state.Opcode{Command: 0x0D, Feedback: 0x0E, Codec: eqBandCodec{band: byte(band)}},
			domain: state.IntRange{Min: 90, Max: 110, Def: 100},
		}
	}

	// Device-scope properties ride the zone connections with a fixed
	// selector in the slot position.
	add(state.KeyDeviceName,
		state.Opcode{Command: 0x18, Feedback: 0x19, Query: 0x19, Slot: 7, Codec: stringCodec{}},
		state.StringDomain{MaxBytes: 64})
	add(state.KeyAdaptivePower,
		state.Opcode{Command: 0x4F, Feedback: 0x50, Slot: 8, Codec: boolCodec{}},
		state.BoolDomain{})

	// Repeat, shuffle and skip availability have no direct opcode; the
	// track metadata bundle carries them.
	add(state.KeyTransportRepeat, state.Opcode{},
		state.EnumDomain{Values: []int{state.RepeatOff, state.RepeatOne, state.RepeatAll}})
	add(state.KeyTransportShuffle, state.Opcode{}, state.BoolDomain{})
	add(state.KeyTransportNext, state.Opcode{}, state.BoolDomain{})
	add(state.KeyTransportPrev, state.Opcode{}, state.BoolDomain{})

	// Read-only track state.
	add(state.KeyTrackSource,
		state.Opcode{Feedback: 0x2A, Query: 0x2A, Codec: uint8Codec{}},
		state.EnumDomain{Values: []int{0, 1, 4, 9, 15, 16, 17, 19, 22, 24, 25}})
	for _, key := range []state.Key{
		state.KeyTrackTitle, state.KeyTrackAlbum, state.KeyTrackArtist,
		state.KeyTrackGenre, state.KeyTrackCoverArt, state.KeyTrackURL,
	} {
		add(key, state.Opcode{}, state.StringDomain{})
	}
	add(state.KeyTrackDuration, state.Opcode{}, state.IntRange{Min: 0, Max: 1 << 31})
	add(state.KeyTrackProgress, state.Opcode{}, state.IntRange{Min: 0, Max: 1 << 31})

	// Group membership is confirmation-tracked only; the coordinator owns
	// the records and decodes feedback group 0x4C itself.
	t.props[state.KeyGroup] = prop{op: state.Opcode{Feedback: 0x4C}}
}

// Model returns the model the table describes.
func (t *Table) Model() Model { return t.model }

// ZoneCount returns the model's zone count.
func (t *Table) ZoneCount() int { return t.model.ZoneCount() }

// ValidZone reports whether the slot exists on this model.
func (t *Table) ValidZone(z state.ZoneID) bool {
	return z >= 1 && int(z) <= t.model.ZoneCount()
}

// Supports implements state.Capabilities.
func (t *Table) Supports(key state.Key) bool {
	_, ok := t.props[key]
	return ok
}

// Domain implements state.Capabilities.
func (t *Table) Domain(key state.Key) (state.Domain, bool) {
	p, ok := t.props[key]
	if !ok || p.domain == nil {
		return nil, false
	}
	return p.domain, true
}

// Opcode implements state.Capabilities.
func (t *Table) Opcode(key state.Key) (state.Opcode, bool) {
	p, ok := t.props[key]
	return p.op, ok
}

// QueryableKeys returns every key with a direct query group, for the
// initial state sweep after connecting.
func (t *Table) QueryableKeys() []state.Key {
	var keys []state.Key
	for key, p := range t.props {
		if p.op.Query != 0 {
			keys = append(keys, key)
		}
	}
	return keys
}

// DecodeFeedback turns an inbound frame into a property value. Group 0x4C
// (grouping) is not handled here; the group coordinator owns it.
func (t *Table) DecodeFeedback(msg frame.Message) (Feedback, error) {
	switch msg.Group {
	case 0x06:
		// Volume family: [value, sub].
		if len(msg.Payload) < 2 {
			return Feedback{}, fmt.Errorf("%w: volume family wants [value, sub]", ErrBadPayload)
		}
		key, ok := t.volumeSubs[msg.Payload[1]]
		if !ok {
			return Feedback{}, fmt.Errorf("%w: volume sub 0x%02X", ErrUnknownFeedback, msg.Payload[1])
		}
		return Feedback{Key: key, Value: int(msg.Payload[0])}, nil

	case 0x0E:
		// Equaliser: [band, value].
		if len(msg.Payload) < 2 {
			return Feedback{}, fmt.Errorf("%w: eq wants [band, value]", ErrBadPayload)
		}
		band := int(msg.Payload[0])
		if band < 1 || band > state.EQBandCount {
			return Feedback{}, fmt.Errorf("%w: eq band %d", ErrBadPayload, band)
		}
		return Feedback{Key: state.EQBand(band), Value: int(msg.Payload[1])}, nil
	}

	key, ok := t.byFeedback[msg.Group]
	if !ok {
		return Feedback{}, fmt.Errorf("%w: 0x%02X", ErrUnknownFeedback, msg.Group)
	}
	value, err := t.props[key].op.Codec.DecodeValue(msg.Payload)
	if err != nil {
		return Feedback{}, fmt.Errorf("%s: %w", key, err)
	}
	return Feedback{Key: key, Value: value}, nil
}

// bundleFields maps status bundle JSON fields to property keys. Numeric
// fields decode as ints, everything else by the key's natural type.
var bundleFields = map[string]state.Key{
	"name":                       state.KeyZoneName,
	"device_name":                state.KeyDeviceName,
	"volume":                     state.KeyVolume,
	"mute":                       state.KeyMute,
	"disabled":                   state.KeyDisabled,
	"mono_output":                state.KeyMonoOutput,
	"input_source":               state.KeyInputSource,
	"input_priority":             state.KeyInputPriority,
	"gain":                       state.KeyInputGain,
	"default_on_volume":          state.KeyDefaultOnVolume,
	"max_volume_left":            state.KeyMaxVolumeLeft,
	"max_volume_right":           state.KeyMaxVolumeRight,
	"analog_output_source":       state.KeyAnalogOutSource,
	"analog_output_fixed_volume": state.KeyAnalogOutFixed,
	"adaptive_power":             state.KeyAdaptivePower,
	"eq_enabled":                 state.KeyEQEnabled,
	"repeat":                     state.KeyTransportRepeat,
	"shuffle":                    state.KeyTransportShuffle,
	"next":                       state.KeyTransportNext,
	"prev":                       state.KeyTransportPrev,
	"title":                      state.KeyTrackTitle,
	"album":                      state.KeyTrackAlbum,
	"artist":                     state.KeyTrackArtist,
	"genre":                      state.KeyTrackGenre,
	"duration":                   state.KeyTrackDuration,
	"progress":                   state.KeyTrackProgress,
	"cover_art_url":              state.KeyTrackCoverArt,
	"source":                     state.KeyTrackSource,
	"url":                        state.KeyTrackURL,
}

// DecodeStatusBundle parses a status bundle's JSON payload into property
// values. Unknown fields are skipped; a field of the wrong JSON type is an
// error.
func (t *Table) DecodeStatusBundle(payload []byte) ([]Feedback, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	var out []Feedback
	for field, val := range raw {
		if field == "eq_bands" {
			var bands []int
			if err := json.Unmarshal(val, &bands); err != nil {
				return nil, fmt.Errorf("%w: eq_bands: %v", ErrBadPayload, err)
			}
			for i, v := range bands {
				if i >= state.EQBandCount {
					break
				}
				out = append(out, Feedback{Key: state.EQBand(i + 1), Value: v})
			}
			continue
		}

		key, ok := bundleFields[field]
		if !ok {
			continue
		}
		value, err := decodeBundleValue(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, field, err)
		}
		out = append(out, Feedback{Key: key, Value: t.coerceBundleValue(key, value)})
	}
	return out, nil
}

// coerceBundleValue normalises 0/1 numbers to bool for boolean keys. Some
// firmwares report shuffle and skip availability as numbers.
func (t *Table) coerceBundleValue(key state.Key, value any) any {
	dom, ok := t.Domain(key)
	if !ok {
		return value
	}
	if _, isBool := dom.(state.BoolDomain); !isBool {
		return value
	}
	if n, isInt := value.(int); isInt {
		return n != 0
	}
	return value
}

func decodeBundleValue(raw json.RawMessage) (any, error) {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	switch v := probe.(type) {
	case string:
		return v, nil
	case bool:
		return v, nil
	case float64:
		return int(v), nil
	}
	return nil, fmt.Errorf("unsupported JSON type %T", probe)
}
