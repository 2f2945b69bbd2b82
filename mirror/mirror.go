package mirror

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vsslctrl/vsslctrl/bus"
	"github.com/vsslctrl/vsslctrl/config"
	"github.com/vsslctrl/vsslctrl/logging"
)

const defaultPublishTimeout = 5 * time.Second

// Mirror pumps bus events to MQTT until closed.
//
// Thread Safety:
//   - Start and Close are safe to call from any goroutine.
type Mirror struct {
	client pahomqtt.Client
	cfg    config.MirrorConfig
	log    *logging.Logger

	sub  *bus.Subscription
	done chan struct{}
	wg   sync.WaitGroup
}

// payload is the JSON body of every mirrored message.
type payload struct {
	Value any       `json:"value"`
	At    time.Time `json:"at"`
}

// Start connects to the broker and begins mirroring every event on the bus.
func Start(cfg config.MirrorConfig, events *bus.Bus, log *logging.Logger) (*Mirror, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if log == nil {
		log = logging.Default()
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	m := &Mirror{
		client: client,
		cfg:    cfg,
		log:    log.With("component", "mirror"),
		sub:    events.Subscribe(bus.NameAll, bus.EntityAll, 0),
		done:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()

	m.log.Info("mirror started", "broker", cfg.Broker, "topic_base", cfg.TopicBase)
	return m, nil
}

func (m *Mirror) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case e, ok := <-m.sub.C():
			if !ok {
				return
			}
			m.publish(e)
		}
	}
}

func (m *Mirror) publish(e bus.Event) {
	body, err := json.Marshal(payload{Value: e.Value, At: time.Now().UTC()})
	if err != nil {
		m.log.Warn("event not serialisable, skipped", "event", e.Name, "error", err)
		return
	}

	// Retained: new subscribers receive the current state immediately.
	token := m.client.Publish(Topic(m.cfg.TopicBase, e), byte(m.cfg.QoS), true, body)
	if !token.WaitTimeout(defaultPublishTimeout) {
		m.log.Warn("publish timed out", "event", e.Name)
		return
	}
	if err := token.Error(); err != nil {
		m.log.Warn("publish failed", "event", e.Name, "error", err)
	}
}

// Close stops mirroring and disconnects from the broker.
func (m *Mirror) Close() {
	select {
	case <-m.done:
		return
	default:
	}
	close(m.done)
	m.wg.Wait()
	m.client.Disconnect(uint(defaultPublishTimeout.Milliseconds()))
	m.log.Info("mirror stopped")
}

// Topic maps an event onto the topic tree: base, then the entity ("device"
// or the zone slot), then the event name with its dots opened into levels.
//
//	vsslctrl/1/zone/volume_change
//	vsslctrl/device/device/name_change
func Topic(base string, e bus.Event) string {
	entity := "device"
	if e.Entity > 0 {
		entity = strconv.Itoa(e.Entity)
	}
	name := strings.ReplaceAll(e.Name, ".", "/")
	return base + "/" + entity + "/" + name
}
