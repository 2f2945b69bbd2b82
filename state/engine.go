package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vsslctrl/vsslctrl/frame"
	"github.com/vsslctrl/vsslctrl/logging"
)

// Capabilities resolves what the entity's hardware model supports. The
// capability package provides the implementation; the engine only depends on
// this interface.
type Capabilities interface {
	// Supports reports whether the model exposes the property at all.
	Supports(key Key) bool

	// Domain returns the property's value domain.
	Domain(key Key) (Domain, bool)

	// Opcode returns the wire opcode for the property.
	Opcode(key Key) (Opcode, bool)
}

// Opcode is one property's wire binding.
type Opcode struct {
	// Command is the command group for writes. Zero means read-only.
	Command byte

	// Feedback is the command group the device confirms changes on.
	Feedback byte

	// Query is the command group that requests the current value. Zero
	// means the device offers no direct query for this property.
	Query byte

	// Slot, when non-zero, overrides the entity's zone slot in outbound
	// frames. Device-scope properties select sub-targets this way.
	Slot byte

	// Codec translates between domain values and payload bytes.
	Codec PayloadCodec
}

// PayloadCodec converts a property value to and from frame payload bytes.
type PayloadCodec interface {
	EncodeValue(v any) ([]byte, error)
	DecodeValue(payload []byte) (any, error)
}

// Sender transmits one encoded frame to the device. The connection layer
// implements it; sends are queued, not synchronous.
type Sender interface {
	Send(frame []byte) error
}

// Config assembles an Engine.
type Config struct {
	// Entity is the zone slot the engine serves, or 0 for the device.
	Entity ZoneID

	// Caps resolves opcodes and domains for the entity's model.
	Caps Capabilities

	// Sender transmits command frames.
	Sender Sender

	// ConfirmWindow bounds how long a write may stay pending before it
	// fails with ErrConfirmationTimeout.
	ConfirmWindow time.Duration

	// OnChange is invoked once per confirmed value change, outside the
	// engine lock. May be nil.
	OnChange func(key Key, value any)

	// Log may be nil.
	Log *logging.Logger
}

// Engine owns one entity's property store and its optimistic write
// machinery. The confirmed state only advances through feedback frames; a
// write that the device never confirms leaves no trace in the store.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Engine struct {
	entity        ZoneID
	caps          Capabilities
	sender        Sender
	confirmWindow time.Duration
	onChange      func(Key, any)
	log           *logging.Logger

	mu       sync.Mutex
	store    *Store
	pending  map[Key]*pendingWrite
	shutdown bool

	staleDiscards uint64
}

// pendingWrite is one in-flight optimistic write. A superseding write for
// the same key inherits the waiters; they all resolve when the newest value
// confirms.
type pendingWrite struct {
	value   any
	tracked bool
	timer   *time.Timer
	waiters []chan error
}

// Confirmation is a handle on one write's outcome.
type Confirmation struct {
	ch chan error
}

// Wait blocks until the device confirms the write (nil), the write fails
// (ErrConfirmationTimeout, ErrShutdown), or the context is done.
func (c *Confirmation) Wait(ctx context.Context) error {
	select {
	case err := <-c.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = logging.Default()
	}
	return &Engine{
		entity:        cfg.Entity,
		caps:          cfg.Caps,
		sender:        cfg.Sender,
		confirmWindow: cfg.ConfirmWindow,
		onChange:      cfg.OnChange,
		log:           cfg.Log.With("entity", int(cfg.Entity)),
		store:         NewStore(),
		pending:       make(map[Key]*pendingWrite),
	}
}

// RequestWrite validates value against the property's domain, sends the
// command frame and registers a pending write. It never blocks on the
// device; use the returned Confirmation to await the outcome. The store is
// untouched until feedback confirms the value.
func (e *Engine) RequestWrite(key Key, value any) (*Confirmation, error) {
	op, domain, err := e.writable(key)
	if err != nil {
		return nil, err
	}
	if err := domain.Validate(value); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	payload, err := op.Codec.EncodeValue(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	buf, err := frame.Encode(op.Command, e.slot(op), payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil, ErrShutdown
	}
	if err := e.sender.Send(buf); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	conf := e.registerPendingLocked(key, value, false)
	e.mu.Unlock()

	e.log.Debug("write requested", "key", key.String(), "value", value)
	return conf, nil
}

// TrackPending registers a pending confirmation for key without sending
// anything. The group coordinator uses it for membership changes whose
// command frame it builds itself; the outcome arrives through Resolve.
func (e *Engine) TrackPending(key Key) (*Confirmation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return nil, ErrShutdown
	}
	return e.registerPendingLocked(key, nil, true), nil
}

// Resolve settles a tracked pending for key: err nil confirms it, non-nil
// fails it. Resolving a key with no pending is a no-op.
func (e *Engine) Resolve(key Key, err error) {
	e.mu.Lock()
	p, ok := e.pending[key]
	if ok {
		p.timer.Stop()
		delete(e.pending, key)
	}
	e.mu.Unlock()

	if ok {
		notifyWaiters(p.waiters, err)
	}
}

// ApplyFeedback processes one decoded feedback value for key.
//
// While a write is pending for the key, only feedback equal to the pending
// value confirms it; anything else predates the pending write and is
// discarded without touching the store. Unsolicited feedback (no pending)
// is applied directly.
func (e *Engine) ApplyFeedback(key Key, value any) {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}

	p, hasPending := e.pending[key]
	if hasPending && !p.tracked && p.value != value {
		e.staleDiscards++
		e.mu.Unlock()
		e.log.Debug("stale feedback discarded",
			"key", key.String(), "value", value, "pending", p.value)
		return
	}

	var waiters []chan error
	if hasPending && !p.tracked {
		p.timer.Stop()
		delete(e.pending, key)
		waiters = p.waiters
	}
	_, changed := e.store.Apply(key, value)
	e.mu.Unlock()

	notifyWaiters(waiters, nil)
	if changed && e.onChange != nil {
		e.onChange(key, value)
	}
}

// Get returns the confirmed value for key, or the domain default if the
// device has not reported one yet.
func (e *Engine) Get(key Key) (any, error) {
	if !e.caps.Supports(key) {
		return nil, fmt.Errorf("%s: %w", key, ErrCapability)
	}
	if v, ok := e.store.Get(key); ok {
		return v, nil
	}
	if d, ok := e.caps.Domain(key); ok {
		return d.Default(), nil
	}
	return nil, nil
}

// Revision returns the revision of key's confirmed value, 0 if unset.
func (e *Engine) Revision(key Key) uint64 {
	return e.store.Revision(key)
}

// Query sends the property's query frame, if the protocol has one. The
// answer arrives as ordinary feedback.
func (e *Engine) Query(key Key) error {
	if !e.caps.Supports(key) {
		return fmt.Errorf("%s: %w", key, ErrCapability)
	}
	op, ok := e.caps.Opcode(key)
	if !ok || op.Query == 0 {
		return nil
	}
	buf, err := frame.Encode(op.Query, e.slot(op), nil)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return e.sender.Send(buf)
}

// StaleDiscards reports how many feedback values were dropped as stale.
func (e *Engine) StaleDiscards() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staleDiscards
}

// Shutdown fails every outstanding confirmation with ErrShutdown and
// rejects further writes. The store keeps its last confirmed values.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return
	}
	e.shutdown = true
	drained := e.pending
	e.pending = make(map[Key]*pendingWrite)
	e.mu.Unlock()

	for _, p := range drained {
		p.timer.Stop()
		notifyWaiters(p.waiters, ErrShutdown)
	}
}

func (e *Engine) writable(key Key) (Opcode, Domain, error) {
	if !e.caps.Supports(key) {
		return Opcode{}, nil, fmt.Errorf("%s: %w", key, ErrCapability)
	}
	op, ok := e.caps.Opcode(key)
	if !ok || op.Command == 0 || op.Codec == nil {
		return Opcode{}, nil, fmt.Errorf("%s: not writable: %w", key, ErrCapability)
	}
	domain, ok := e.caps.Domain(key)
	if !ok {
		return Opcode{}, nil, fmt.Errorf("%s: %w", key, ErrCapability)
	}
	return op, domain, nil
}

func (e *Engine) slot(op Opcode) byte {
	if op.Slot != 0 {
		return op.Slot
	}
	return byte(e.entity)
}

// registerPendingLocked installs (or supersedes) the pending write for key
// and arms its confirmation timer. Callers hold e.mu.
func (e *Engine) registerPendingLocked(key Key, value any, tracked bool) *Confirmation {
	conf := &Confirmation{ch: make(chan error, 1)}

	p := &pendingWrite{
		value:   value,
		tracked: tracked,
		waiters: []chan error{conf.ch},
	}
	if prev, ok := e.pending[key]; ok {
		prev.timer.Stop()
		p.waiters = append(prev.waiters, conf.ch)
	}
	p.timer = time.AfterFunc(e.confirmWindow, func() { e.expire(key, p) })
	e.pending[key] = p
	return conf
}

// expire fails the pending write, unless a newer one has replaced it.
func (e *Engine) expire(key Key, p *pendingWrite) {
	e.mu.Lock()
	current, ok := e.pending[key]
	if !ok || current != p {
		e.mu.Unlock()
		return
	}
	delete(e.pending, key)
	e.mu.Unlock()

	e.log.Warn("write confirmation timed out", "key", key.String())
	notifyWaiters(p.waiters, ErrConfirmationTimeout)
}

func notifyWaiters(waiters []chan error, err error) {
	for _, ch := range waiters {
		select {
		case ch <- err:
		default:
		}
	}
}
