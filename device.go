package vsslctrl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vsslctrl/vsslctrl/bus"
	"github.com/vsslctrl/vsslctrl/capability"
	"github.com/vsslctrl/vsslctrl/config"
	"github.com/vsslctrl/vsslctrl/conn"
	"github.com/vsslctrl/vsslctrl/frame"
	"github.com/vsslctrl/vsslctrl/group"
	"github.com/vsslctrl/vsslctrl/logging"
	"github.com/vsslctrl/vsslctrl/mirror"
	"github.com/vsslctrl/vsslctrl/state"
	"github.com/vsslctrl/vsslctrl/telemetry"
)

// Version is the library version reported in log records.
const Version = "0.1.0"

// Event names published by the device itself, next to the per-property
// *_change events.
const (
	// EventConnectionChange carries a conn.State per zone.
	EventConnectionChange = "zone.connection_change"

	// EventZoneUnresponsive fires when a zone's reconnection failures reach
	// the configured threshold. Reconnection continues regardless.
	EventZoneUnresponsive = "zone.unresponsive"
)

// Device aggregates one physical amplifier.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Device struct {
	caps *capability.Table
	cfg  *config.Config
	log  *logging.Logger

	events *bus.Bus
	coord  *group.Coordinator

	// deviceEngine serves device-scope properties; its frames ride
	// whichever zone connection is up.
	deviceEngine *state.Engine

	mu       sync.RWMutex
	zones    map[state.ZoneID]*Zone
	hosts    map[string]state.ZoneID
	shutdown bool

	mirror   *mirror.Mirror
	recorder *telemetry.Recorder

	unknownFrames uint64
}

// New creates a Device for the given model. cfg nil uses config.Default().
func New(model capability.Model, cfg *config.Config) (*Device, error) {
	caps, err := capability.ForModel(model)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}

	log := logging.New(cfg.Logging, Version).With("model", string(model))

	d := &Device{
		caps:   caps,
		cfg:    cfg,
		log:    log,
		events: bus.New(cfg.Bus.SubscriberBuffer),
		zones:  make(map[state.ZoneID]*Zone),
		hosts:  make(map[string]state.ZoneID),
	}
	d.coord = group.New(log, func(z state.ZoneID, rec group.Record) {
		d.events.Publish(bus.Event{Name: state.KeyGroup.EventName(), Entity: int(z), Value: rec})
	})
	d.deviceEngine = state.New(state.Config{
		Entity:        0,
		Caps:          caps,
		Sender:        deviceSender{d},
		ConfirmWindow: cfg.Sync.ConfirmWindow,
		OnChange: func(key state.Key, value any) {
			d.events.Publish(bus.Event{Name: key.EventName(), Entity: bus.EntityDevice, Value: value})
		},
		Log: log,
	})
	return d, nil
}

// deviceSender routes device-scope frames over any connected zone.
type deviceSender struct {
	d *Device
}

func (s deviceSender) Send(buf []byte) error {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	var fallback *Zone
	for _, z := range sortedZonesLocked(s.d.zones) {
		if fallback == nil {
			fallback = z
		}
		if c := z.clientRef(); c != nil && c.State() == conn.StateConnected {
			return z.Send(buf)
		}
	}
	if fallback == nil {
		return ErrNoZones
	}
	return fallback.Send(buf)
}

// Model returns the device's hardware model.
func (d *Device) Model() capability.Model { return d.caps.Model() }

// Events returns the device's event bus.
func (d *Device) Events() *bus.Bus { return d.events }

// Groups returns the group coordinator.
func (d *Device) Groups() *group.Coordinator { return d.coord }

// AddZone registers a zone slot at a host address. Zones are registered
// before Initialise; the connection is not opened here.
func (d *Device) AddZone(id state.ZoneID, host string) (*Zone, error) {
	if !d.caps.ValidZone(id) {
		return nil, fmt.Errorf("%w: slot %d on a %d-zone %s", ErrCapacity, id, d.caps.ZoneCount(), d.caps.Model())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown {
		return nil, ErrShutdown
	}
	if _, ok := d.zones[id]; ok {
		return nil, fmt.Errorf("%w: slot %d", ErrDuplicateZone, id)
	}
	if other, ok := d.hosts[host]; ok {
		return nil, fmt.Errorf("%w: host %s serves zone %d", ErrDuplicateZone, host, other)
	}

	z := newZone(d, id, host)
	d.zones[id] = z
	d.hosts[host] = id
	d.coord.Register(id, z, z.engine)

	d.log.Info("zone registered", "zone", int(id), "host", host)
	return z, nil
}

// Zone returns the zone registered at id.
func (d *Device) Zone(id state.ZoneID) (*Zone, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	z, ok := d.zones[id]
	return z, ok
}

// Zones returns every registered zone, ordered by slot.
func (d *Device) Zones() []*Zone {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedZonesLocked(d.zones)
}

func sortedZonesLocked(zones map[state.ZoneID]*Zone) []*Zone {
	out := make([]*Zone, 0, len(zones))
	for _, z := range zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Initialise connects every registered zone concurrently and runs the
// initial state sweep. The result maps each zone that failed to connect
// within its window to the error; an empty map means full success. Failed
// zones stay registered and their clients keep dialing with backoff, so a
// zone that comes up later connects and syncs on its own.
func (d *Device) Initialise(ctx context.Context) (map[state.ZoneID]error, error) {
	zones := d.Zones()
	if len(zones) == 0 {
		return nil, ErrNoZones
	}

	var (
		mu      sync.Mutex
		failed  = make(map[state.ZoneID]error)
		wg      sync.WaitGroup
		deviceQ sync.Once
	)

	for _, z := range zones {
		wg.Add(1)
		go func(z *Zone) {
			defer wg.Done()
			if err := d.connectZone(ctx, z); err != nil {
				mu.Lock()
				failed[z.id] = err
				mu.Unlock()
				return
			}
			z.requestInitialState()
			// Device-scope properties are queried once, over the first
			// zone that connects.
			deviceQ.Do(func() {
				for _, key := range d.caps.QueryableKeys() {
					if key.Scope == state.ScopeDevice {
						if err := d.deviceEngine.Query(key); err != nil {
							d.log.Debug("device query failed", "key", key.String(), "error", err)
						}
					}
				}
			})
		}(z)
	}
	wg.Wait()

	if len(failed) > 0 {
		d.log.Warn("initialise finished with failures", "failed", len(failed), "total", len(zones))
	} else {
		d.log.Info("initialise complete", "zones", len(zones))
	}
	return failed, nil
}

// connectZone starts a zone's connection and waits for the first dial to
// land. A zone that misses the window is reported failed but stays attached;
// its client keeps dialing with backoff in the background.
func (d *Device) connectZone(ctx context.Context, z *Zone) error {
	client, err := conn.Connect(ctx, conn.Config{
		Host:                 z.host,
		Port:                 d.cfg.Connection.Port,
		ConnectTimeout:       d.cfg.Connection.ConnectTimeout,
		KeepAliveInterval:    d.cfg.Connection.KeepAliveInterval,
		WriteDelay:           d.cfg.Connection.WriteDelay,
		ReconnectInterval:    d.cfg.Connection.ReconnectInterval,
		MaxReconnectInterval: d.cfg.Connection.MaxReconnectInterval,
		UnresponsiveAfter:    d.cfg.Connection.UnresponsiveAfter,
		Log:                  d.log,
	})
	if err != nil {
		return err
	}
	z.attach(client)

	attempts := d.cfg.Connection.InitialAttempts
	if attempts <= 0 {
		attempts = 1
	}
	window := time.Duration(attempts) * (d.cfg.Connection.ConnectTimeout + d.cfg.Connection.ReconnectInterval)

	waitCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	if err := client.WaitConnected(waitCtx); err != nil {
		return fmt.Errorf("%w: %s: still connecting after %v", conn.ErrConnectionFailed, z.host, window)
	}
	return nil
}

// route dispatches one inbound frame to its consumer: grouping feedback to
// the coordinator, device-scope values to the device engine, everything
// else to the zone's engine.
func (d *Device) route(z *Zone, msg frame.Message) {
	switch msg.Group {
	case frame.GroupKeepAlive:
		return
	case group.FeedbackGroup:
		d.coord.ApplyFeedback(z.id, msg.Payload)
		return
	case frame.GroupStatus:
		fbs, err := d.caps.DecodeStatusBundle(msg.Payload)
		if err != nil {
			d.log.Debug("status bundle rejected", "zone", int(z.id), "error", err)
			return
		}
		for _, fb := range fbs {
			d.applyFeedback(z, fb.Key, fb.Value)
		}
		return
	}

	fb, err := d.caps.DecodeFeedback(msg)
	if err != nil {
		d.mu.Lock()
		d.unknownFrames++
		d.mu.Unlock()
		d.log.Debug("unknown feedback dropped", "zone", int(z.id), "group", msg.Group)
		return
	}
	d.applyFeedback(z, fb.Key, fb.Value)
}

func (d *Device) applyFeedback(z *Zone, key state.Key, value any) {
	if key.Scope == state.ScopeDevice {
		d.deviceEngine.ApplyFeedback(key, value)
		return
	}
	z.engine.ApplyFeedback(key, value)
}

// UnknownFrames reports how many inbound frames decoded to no known
// property.
func (d *Device) UnknownFrames() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.unknownFrames
}

// Name returns the device-wide name.
func (d *Device) Name() string {
	v, err := d.deviceEngine.Get(state.KeyDeviceName)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SetName writes the device-wide name.
func (d *Device) SetName(name string) (*state.Confirmation, error) {
	return d.deviceEngine.RequestWrite(state.KeyDeviceName, name)
}

// AdaptivePower reports the power-saving setting.
func (d *Device) AdaptivePower() bool {
	v, err := d.deviceEngine.Get(state.KeyAdaptivePower)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SetAdaptivePower writes the power-saving setting.
func (d *Device) SetAdaptivePower(on bool) (*state.Confirmation, error) {
	return d.deviceEngine.RequestWrite(state.KeyAdaptivePower, on)
}

// SetVolumeAll fans a volume write out to every zone. The result maps each
// zone to its submission outcome; confirmations are not awaited.
func (d *Device) SetVolumeAll(volume int) map[state.ZoneID]error {
	out := make(map[state.ZoneID]error)
	for _, z := range d.Zones() {
		_, err := z.SetVolume(volume)
		out[z.id] = err
	}
	return out
}

// PlayURLAll starts direct URL playback on every zone.
func (d *Device) PlayURLAll(url string) map[state.ZoneID]error {
	out := make(map[state.ZoneID]error)
	for _, z := range d.Zones() {
		out[z.id] = z.PlayURL(url)
	}
	return out
}

// RebootAll reboots every zone.
func (d *Device) RebootAll() map[state.ZoneID]error {
	out := make(map[state.ZoneID]error)
	for _, z := range d.Zones() {
		out[z.id] = z.Reboot()
	}
	return out
}

// StartMirror begins republishing property changes to the MQTT broker from
// the device's mirror configuration. No-op when the mirror is disabled.
func (d *Device) StartMirror() error {
	m, err := mirror.Start(d.cfg.Mirror, d.events, d.log)
	if err != nil {
		if errors.Is(err, mirror.ErrDisabled) {
			return nil
		}
		return err
	}

	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		m.Close()
		return ErrShutdown
	}
	d.mirror = m
	d.mu.Unlock()
	return nil
}

// StartTelemetry begins recording property changes to InfluxDB from the
// device's telemetry configuration. No-op when telemetry is disabled.
func (d *Device) StartTelemetry(ctx context.Context) error {
	r, err := telemetry.Start(ctx, d.cfg.Telemetry, d.events, d.log)
	if err != nil {
		if errors.Is(err, telemetry.ErrDisabled) {
			return nil
		}
		return err
	}

	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		r.Close()
		return ErrShutdown
	}
	d.recorder = r
	d.mu.Unlock()
	return nil
}

// Shutdown closes every zone connection, fails outstanding confirmations
// with a shutdown error and closes the event bus.
func (d *Device) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return nil
	}
	d.shutdown = true
	zones := sortedZonesLocked(d.zones)
	m, r := d.mirror, d.recorder
	d.mu.Unlock()

	if m != nil {
		m.Close()
	}
	if r != nil {
		r.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, z := range zones {
			wg.Add(1)
			go func(z *Zone) {
				defer wg.Done()
				z.close()
			}(z)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.deviceEngine.Shutdown()
	d.events.Close()
	d.log.Info("device shut down")
	return nil
}
