package state

import "fmt"

// ZoneID is a physical output zone slot, 1-based.
type ZoneID int

// Scope partitions property keys by the part of the device they describe.
type Scope uint8

const (
	// ScopeDevice covers device-wide properties shared by all zones.
	ScopeDevice Scope = iota

	// ScopeZone covers per-zone amplifier settings.
	ScopeZone

	// ScopeZoneEQ covers the per-zone equaliser.
	ScopeZoneEQ

	// ScopeZoneTransport covers per-zone playback transport state.
	ScopeZoneTransport

	// ScopeZoneTrack covers per-zone track metadata.
	ScopeZoneTrack

	// ScopeZoneInput covers per-zone input routing.
	ScopeZoneInput
)

// String returns the scope's event-name prefix.
func (s Scope) String() string {
	switch s {
	case ScopeDevice:
		return "device"
	case ScopeZone:
		return "zone"
	case ScopeZoneEQ:
		return "zone.eq"
	case ScopeZoneTransport:
		return "zone.transport"
	case ScopeZoneTrack:
		return "zone.track"
	case ScopeZoneInput:
		return "zone.input"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// Key identifies one controllable or observable property.
type Key struct {
	Scope Scope
	Name  string
}

// String returns the dotted key path, e.g. "zone.volume".
func (k Key) String() string {
	return k.Scope.String() + "." + k.Name
}

// EventName returns the bus event name published when the property's
// confirmed value changes.
func (k Key) EventName() string {
	return k.String() + "_change"
}

// Device-scope keys.
var (
	KeyDeviceName    = Key{ScopeDevice, "name"}
	KeyAdaptivePower = Key{ScopeDevice, "adaptive_power"}
)

// Zone-scope keys.
var (
	KeyVolume          = Key{ScopeZone, "volume"}
	KeyMute            = Key{ScopeZone, "mute"}
	KeyZoneName        = Key{ScopeZone, "name"}
	KeyDefaultOnVolume = Key{ScopeZone, "default_on_volume"}
	KeyMaxVolumeLeft   = Key{ScopeZone, "max_volume_left"}
	KeyMaxVolumeRight  = Key{ScopeZone, "max_volume_right"}
	KeyMonoOutput      = Key{ScopeZone, "mono_output"}
	KeyDisabled        = Key{ScopeZone, "disabled"}
	KeyAnalogOutSource = Key{ScopeZone, "analog_output_source"}
	KeyAnalogOutFixed  = Key{ScopeZone, "analog_output_fixed_volume"}

	// KeyGroup is confirmation-tracked only. Group membership records live
	// in the group coordinator, never in the property store.
	KeyGroup = Key{ScopeZone, "group"}
)

// Equaliser keys.
var KeyEQEnabled = Key{ScopeZoneEQ, "enabled"}

// EQBandCount is the number of equaliser bands the amplifier exposes.
const EQBandCount = 7

// EQBand returns the key of equaliser band n (1-based).
func EQBand(n int) Key {
	return Key{ScopeZoneEQ, fmt.Sprintf("band%d", n)}
}

// Transport and track keys. Repeat, shuffle and skip availability are
// read-only; the device reports them in the track metadata bundle.
var (
	KeyTransportState   = Key{ScopeZoneTransport, "state"}
	KeyTransportRepeat  = Key{ScopeZoneTransport, "repeat"}
	KeyTransportShuffle = Key{ScopeZoneTransport, "shuffle"}
	KeyTransportNext    = Key{ScopeZoneTransport, "next"}
	KeyTransportPrev    = Key{ScopeZoneTransport, "prev"}

	KeyTrackTitle    = Key{ScopeZoneTrack, "title"}
	KeyTrackAlbum    = Key{ScopeZoneTrack, "album"}
	KeyTrackArtist   = Key{ScopeZoneTrack, "artist"}
	KeyTrackGenre    = Key{ScopeZoneTrack, "genre"}
	KeyTrackDuration = Key{ScopeZoneTrack, "duration"}
	KeyTrackProgress = Key{ScopeZoneTrack, "progress"}
	KeyTrackCoverArt = Key{ScopeZoneTrack, "cover_art_url"}
	KeyTrackSource   = Key{ScopeZoneTrack, "source"}
	KeyTrackURL      = Key{ScopeZoneTrack, "url"}
)

// Input-routing keys.
var (
	KeyInputSource   = Key{ScopeZoneInput, "source"}
	KeyInputPriority = Key{ScopeZoneInput, "priority"}
	KeyInputGain     = Key{ScopeZoneInput, "gain"}
)

// Transport state values, as confirmed by the device.
const (
	TransportStop  = 0
	TransportPlay  = 1
	TransportPause = 2
)

// Repeat mode values.
const (
	RepeatOff = 0
	RepeatOne = 1
	RepeatAll = 2
)
