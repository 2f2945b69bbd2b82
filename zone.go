package vsslctrl

import (
	"sync"

	"github.com/vsslctrl/vsslctrl/bus"
	"github.com/vsslctrl/vsslctrl/capability"
	"github.com/vsslctrl/vsslctrl/conn"
	"github.com/vsslctrl/vsslctrl/frame"
	"github.com/vsslctrl/vsslctrl/group"
	"github.com/vsslctrl/vsslctrl/state"
)

// Action opcodes with no feedback path. These are fire-and-forget; the
// device's state changes surface later as ordinary feedback.
const (
	groupVolume        byte = 0x05
	groupTransportSkip byte = 0x28
	groupReboot        byte = 0x33
	groupPlayURL       byte = 0x55

	skipNext     byte = 0x04
	skipPrevious byte = 0x08

	volumeStepUp   byte = 0xFF
	volumeStepDown byte = 0xFE
	volumeSub      byte = 0x03

	// playURLPrefix precedes the URL in a direct-playback command.
	playURLPrefix = "PLAYITEM:DIRECT:"
)

// Zone is one amplifier output: its connection, sync engine and helpers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Zone struct {
	id     state.ZoneID
	host   string
	device *Device
	engine *state.Engine

	mu     sync.RWMutex
	client *conn.Client
}

func newZone(d *Device, id state.ZoneID, host string) *Zone {
	z := &Zone{id: id, host: host, device: d}
	z.engine = state.New(state.Config{
		Entity:        id,
		Caps:          d.caps,
		Sender:        z,
		ConfirmWindow: d.cfg.Sync.ConfirmWindow,
		OnChange: func(key state.Key, value any) {
			d.events.Publish(bus.Event{Name: key.EventName(), Entity: int(id), Value: value})
		},
		Log: d.log,
	})
	return z
}

// ID returns the zone's slot number.
func (z *Zone) ID() state.ZoneID { return z.id }

// Host returns the zone's network address.
func (z *Zone) Host() string { return z.host }

// Send implements state.Sender over the zone's connection.
func (z *Zone) Send(buf []byte) error {
	c := z.clientRef()
	if c == nil {
		return conn.ErrNotConnected
	}
	return c.Send(buf)
}

// ConnectionState returns the connection lifecycle state.
func (z *Zone) ConnectionState() conn.State {
	c := z.clientRef()
	if c == nil {
		return conn.StateDisconnected
	}
	return c.State()
}

// ConnectionStats returns the connection's operational statistics.
func (z *Zone) ConnectionStats() conn.Stats {
	c := z.clientRef()
	if c == nil {
		return conn.Stats{}
	}
	return c.Stats()
}

func (z *Zone) clientRef() *conn.Client {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.client
}

// attach wires a freshly connected client to the zone.
func (z *Zone) attach(client *conn.Client) {
	client.SetOnMessage(func(msg frame.Message) { z.device.route(z, msg) })
	client.SetOnStateChange(func(s conn.State) {
		z.device.events.Publish(bus.Event{Name: EventConnectionChange, Entity: int(z.id), Value: s})
		if s == conn.StateConnected {
			// Fresh socket: re-sync confirmed state.
			z.requestInitialState()
		}
	})
	client.SetOnUnresponsive(func(failures int) {
		z.device.events.Publish(bus.Event{Name: EventZoneUnresponsive, Entity: int(z.id), Value: failures})
	})

	z.mu.Lock()
	z.client = client
	z.mu.Unlock()
}

// requestInitialState asks the device for everything it can report: the
// status bundles plus each directly queryable zone property.
func (z *Zone) requestInitialState() {
	for _, bundle := range capability.Bundles {
		if err := z.Send(frame.StatusRequest(bundle)); err != nil {
			z.device.log.Debug("status request failed", "zone", int(z.id), "bundle", bundle, "error", err)
		}
	}
	for _, key := range z.device.caps.QueryableKeys() {
		if key.Scope == state.ScopeDevice {
			continue
		}
		if err := z.engine.Query(key); err != nil {
			z.device.log.Debug("query failed", "zone", int(z.id), "key", key.String(), "error", err)
		}
	}
}

func (z *Zone) close() {
	z.mu.Lock()
	client := z.client
	z.client = nil
	z.mu.Unlock()

	if client != nil {
		client.Close()
	}
	z.engine.Shutdown()
}

// Set writes any supported property. The confirmation resolves when the
// device reports the new value.
func (z *Zone) Set(key state.Key, value any) (*state.Confirmation, error) {
	return z.engine.RequestWrite(key, value)
}

// Get returns a property's confirmed value, or its domain default if the
// device has not reported one yet.
func (z *Zone) Get(key state.Key) (any, error) {
	return z.engine.Get(key)
}

// Volume returns the confirmed volume, 0..100.
func (z *Zone) Volume() int {
	return z.getInt(state.KeyVolume)
}

// SetVolume writes the volume, 0..100.
func (z *Zone) SetVolume(volume int) (*state.Confirmation, error) {
	return z.engine.RequestWrite(state.KeyVolume, volume)
}

// VolumeRaise nudges the volume up one step. Fire-and-forget; the new level
// arrives as feedback.
func (z *Zone) VolumeRaise() error {
	return z.sendAction(groupVolume, []byte{volumeStepUp, volumeSub})
}

// VolumeLower nudges the volume down one step.
func (z *Zone) VolumeLower() error {
	return z.sendAction(groupVolume, []byte{volumeStepDown, volumeSub})
}

// Mute returns the confirmed mute state.
func (z *Zone) Mute() bool {
	return z.getBool(state.KeyMute)
}

// SetMute writes the mute state.
func (z *Zone) SetMute(mute bool) (*state.Confirmation, error) {
	return z.engine.RequestWrite(state.KeyMute, mute)
}

// MuteToggle flips the confirmed mute state.
func (z *Zone) MuteToggle() (*state.Confirmation, error) {
	return z.SetMute(!z.Mute())
}

// TransportState returns the confirmed transport state.
func (z *Zone) TransportState() int {
	return z.getInt(state.KeyTransportState)
}

// Play starts playback.
func (z *Zone) Play() (*state.Confirmation, error) {
	return z.engine.RequestWrite(state.KeyTransportState, state.TransportPlay)
}

// Pause pauses playback.
func (z *Zone) Pause() (*state.Confirmation, error) {
	return z.engine.RequestWrite(state.KeyTransportState, state.TransportPause)
}

// Stop stops playback. A grouped zone cannot stop its transport, so Stop
// leaves the group instead; the confirmation then tracks the membership
// change.
func (z *Zone) Stop() (*state.Confirmation, error) {
	if rec, ok := z.device.coord.Record(z.id); ok && rec.Role != group.RoleStandalone {
		return z.device.coord.Leave(z.id)
	}
	return z.engine.RequestWrite(state.KeyTransportState, state.TransportStop)
}

// Next skips to the next track. Fire-and-forget.
func (z *Zone) Next() error {
	return z.sendAction(groupTransportSkip, []byte{skipNext})
}

// Previous restarts or skips back a track. Fire-and-forget.
func (z *Zone) Previous() error {
	return z.sendAction(groupTransportSkip, []byte{skipPrevious})
}

// PlayURL starts direct playback of a stream or file URL.
func (z *Zone) PlayURL(url string) error {
	return z.sendAction(groupPlayURL, []byte(playURLPrefix+url))
}

// Reboot reboots the zone. The connection will drop and re-establish.
func (z *Zone) Reboot() error {
	return z.sendAction(groupReboot, nil)
}

// Name returns the confirmed zone name.
func (z *Zone) Name() string {
	return z.getString(state.KeyZoneName)
}

// SetName writes the zone name.
func (z *Zone) SetName(name string) (*state.Confirmation, error) {
	return z.engine.RequestWrite(state.KeyZoneName, name)
}

// SetEQEnabled switches the equaliser on or off.
func (z *Zone) SetEQEnabled(on bool) (*state.Confirmation, error) {
	return z.engine.RequestWrite(state.KeyEQEnabled, on)
}

// SetEQBand writes one equaliser band, 90..110 (100 is flat).
func (z *Zone) SetEQBand(band, value int) (*state.Confirmation, error) {
	return z.engine.RequestWrite(state.EQBand(band), value)
}

// GroupRecord returns the zone's confirmed grouping state.
func (z *Zone) GroupRecord() group.Record {
	rec, _ := z.device.coord.Record(z.id)
	return rec
}

// AddMember joins another zone to a group mastered by this zone.
func (z *Zone) AddMember(member state.ZoneID) (*state.Confirmation, error) {
	return z.device.coord.AddMember(z.id, member)
}

// RemoveMember detaches a member from the group this zone masters.
func (z *Zone) RemoveMember(member state.ZoneID) (*state.Confirmation, error) {
	return z.device.coord.RemoveMember(member)
}

// LeaveGroup removes this zone from its group; a master dissolves the whole
// group.
func (z *Zone) LeaveGroup() (*state.Confirmation, error) {
	return z.device.coord.Leave(z.id)
}

// DissolveGroup breaks up the group this zone masters.
func (z *Zone) DissolveGroup() (*state.Confirmation, error) {
	return z.device.coord.Dissolve(z.id)
}

// sendAction encodes and queues a fire-and-forget command frame.
func (z *Zone) sendAction(cmdGroup byte, payload []byte) error {
	buf, err := frame.Encode(cmdGroup, byte(z.id), payload)
	if err != nil {
		return err
	}
	return z.Send(buf)
}

func (z *Zone) getInt(key state.Key) int {
	v, err := z.engine.Get(key)
	if err != nil {
		return 0
	}
	n, _ := v.(int)
	return n
}

func (z *Zone) getBool(key state.Key) bool {
	v, err := z.engine.Get(key)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (z *Zone) getString(key state.Key) string {
	v, err := z.engine.Get(key)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
