package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsslctrl/vsslctrl/frame"
	"github.com/vsslctrl/vsslctrl/logging"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Defaults for zone communication.
const (
	// defaultPort is the control port every zone listens on.
	defaultPort = 50002

	// defaultConnectTimeout is the maximum time to wait for a dial.
	defaultConnectTimeout = 5 * time.Second

	// defaultWriteTimeout bounds individual socket writes.
	defaultWriteTimeout = 5 * time.Second

	// defaultKeepAliveInterval is how often the liveness probe is sent.
	defaultKeepAliveInterval = 10 * time.Second

	// defaultWriteDelay is the pacing gap between outbound frames.
	defaultWriteDelay = 200 * time.Millisecond

	// defaultReconnectInterval is the initial reconnection backoff.
	defaultReconnectInterval = 5 * time.Second

	// defaultMaxReconnectInterval caps the reconnection backoff.
	defaultMaxReconnectInterval = 2 * time.Minute

	// defaultUnresponsiveAfter is how many consecutive reconnection
	// failures it takes to report the zone unresponsive.
	defaultUnresponsiveAfter = 5

	// readBufferSize is the size of each socket read.
	readBufferSize = 512

	// sendQueueSize bounds the outbound FIFO.
	sendQueueSize = 64

	// dispatchQueueSize bounds the inbound message handoff queue.
	dispatchQueueSize = 100
)

// State is the connection lifecycle state.
type State uint8

const (
	// StateDisconnected means no connection and no reconnection running.
	StateDisconnected State = iota

	// StateConnecting means a dial or reconnection is in progress.
	StateConnecting

	// StateConnected means the socket is established and traffic flows.
	StateConnected

	// StateDegraded means the socket looks open but keepalive probes go
	// unanswered; a reconnect is imminent.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Config holds one zone connection's settings.
type Config struct {
	// Host is the zone's IP address or hostname.
	Host string

	// Port is the control port. Default 50002.
	Port int

	// ConnectTimeout is the maximum time to wait for a dial.
	ConnectTimeout time.Duration

	// KeepAliveInterval is the probe period. Inbound silence for two
	// periods marks the connection degraded.
	KeepAliveInterval time.Duration

	// WriteDelay is the pacing gap enforced between outbound frames.
	WriteDelay time.Duration

	// ReconnectInterval is the initial backoff between reconnection
	// attempts; it grows by half each failure.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the backoff.
	MaxReconnectInterval time.Duration

	// UnresponsiveAfter is the consecutive-failure count that triggers the
	// unresponsive callback. Reconnection continues regardless.
	UnresponsiveAfter int

	// Log may be nil.
	Log *logging.Logger
}

func (cfg *Config) applyDefaults() {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.WriteDelay == 0 {
		cfg.WriteDelay = defaultWriteDelay
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = defaultMaxReconnectInterval
	}
	if cfg.UnresponsiveAfter == 0 {
		cfg.UnresponsiveAfter = defaultUnresponsiveAfter
	}
	if cfg.Log == nil {
		cfg.Log = logging.Default()
	}
}

// Stats holds operational statistics for one zone connection.
type Stats struct {
	FramesTx        uint64
	FramesRx        uint64
	FramesDropped   uint64 // inbound frames dropped on a full dispatch queue
	Desyncs         uint64 // byte runs discarded while resynchronising
	ErrorsTotal     uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	State           State
}

// Client is the connection to one zone's control socket.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The message callback is invoked from a single goroutine, in frame
//     arrival order.
type Client struct {
	cfg Config
	log *logging.Logger

	connMu sync.RWMutex
	conn   net.Conn
	state  State

	reconnecting  atomic.Bool
	everConnected atomic.Bool

	sendQueue     chan []byte
	dispatchQueue chan frame.Message

	callbackMu     sync.RWMutex
	onMessage      func(frame.Message)
	onStateChange  func(State)
	onUnresponsive func(failures int)

	done *closeOnce
	wg   sync.WaitGroup

	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	desyncs         atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // unix nanos
}

// Connect starts the client for the zone: one initial dial, then the reader,
// writer, keepalive and dispatch goroutines. A failed initial dial is not
// fatal; the client stays in StateConnecting and keeps dialing with the same
// backoff that governs reconnection. Use WaitConnected to await the first
// connection. The error return covers configuration problems only.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: no host", ErrConnectionFailed)
	}

	c := &Client{
		cfg:           cfg,
		log:           cfg.Log.With("host", cfg.Host),
		sendQueue:     make(chan []byte, sendQueueSize),
		dispatchQueue: make(chan frame.Message, dispatchQueueSize),
		done:          newCloseOnce(),
		state:         StateConnecting,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	netConn, err := dialer.DialContext(dialCtx, "tcp", c.address())
	if err != nil {
		// The read loop finds no socket and enters the backoff dial loop.
		c.errorsTotal.Add(1)
		c.log.Warn("initial dial failed, retrying in background", "address", c.address(), "error", err)
	} else {
		c.connMu.Lock()
		c.conn = netConn
		c.state = StateConnected
		c.connMu.Unlock()
		c.everConnected.Store(true)
		c.lastActivity.Store(time.Now().UnixNano())
		c.log.Info("zone connected", "address", c.address())
	}

	c.wg.Add(4)
	go c.readLoop()
	go c.writeLoop()
	go c.keepAliveLoop()
	go c.dispatchLoop()

	return c, nil
}

// WaitConnected blocks until the connection is established, the context is
// done, or the client is closed.
func (c *Client) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.State() == StateConnected {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done.Done():
			return ErrClosed
		case <-ticker.C:
		}
	}
}

func (c *Client) address() string {
	return net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
}

// Send queues one encoded frame for transmission. It never blocks; a full
// queue rejects the frame with ErrSendQueueFull. Frames dequeued while no
// connection exists are dropped, not replayed; the write's confirmation
// timeout surfaces the loss.
func (c *Client) Send(buf []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	select {
	case c.sendQueue <- buf:
		return nil
	default:
		c.errorsTotal.Add(1)
		return ErrSendQueueFull
	}
}

// SetOnMessage sets the decoded-frame callback.
func (c *Client) SetOnMessage(fn func(frame.Message)) {
	c.callbackMu.Lock()
	c.onMessage = fn
	c.callbackMu.Unlock()
}

// SetOnStateChange sets the lifecycle callback. It fires on every state
// transition, from whichever goroutine observed it.
func (c *Client) SetOnStateChange(fn func(State)) {
	c.callbackMu.Lock()
	c.onStateChange = fn
	c.callbackMu.Unlock()
}

// SetOnUnresponsive sets the callback fired when consecutive reconnection
// failures reach the configured threshold.
func (c *Client) SetOnUnresponsive(fn func(failures int)) {
	c.callbackMu.Lock()
	c.onUnresponsive = fn
	c.callbackMu.Unlock()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		FramesDropped:   c.framesDropped.Load(),
		Desyncs:         c.desyncs.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(0, c.lastActivity.Load()),
		State:           c.State(),
	}
}

// Close shuts the client down and waits for its goroutines. Safe to call
// more than once.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	c.setState(StateDisconnected)
	c.log.Info("zone connection closed")
	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// setState updates the lifecycle state and fires the callback on change.
func (c *Client) setState(s State) {
	c.connMu.Lock()
	if c.state == s {
		c.connMu.Unlock()
		return
	}
	c.state = s
	c.connMu.Unlock()

	c.callbackMu.RLock()
	fn := c.onStateChange
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

// readLoop accumulates socket bytes and decodes frames until shutdown. A
// read error hands control to reconnect; the loop resumes on the new socket.
func (c *Client) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	var pending []byte

	for {
		if c.isClosed() {
			return
		}

		conn := c.currentConn()
		if conn == nil {
			if !c.reconnect() {
				return
			}
			pending = pending[:0]
			continue
		}

		// The deadline doubles as the keepalive check period; timeouts
		// are not errors.
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.KeepAliveInterval)); err != nil {
			c.dropConn(conn)
			continue
		}

		n, err := conn.Read(buf)
		if n > 0 {
			c.lastActivity.Store(time.Now().UnixNano())
			pending = append(pending, buf[:n]...)
			pending = c.decodePending(pending)
		}
		if err != nil {
			if c.isClosed() {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if c.probeOverdue() {
					c.log.Warn("keepalive probes unanswered, reconnecting")
					c.setState(StateDegraded)
					c.dropConn(conn)
				}
				continue
			}
			c.errorsTotal.Add(1)
			c.log.Warn("read failed", "error", err)
			c.dropConn(conn)
		}
	}
}

// decodePending extracts every complete frame from the buffer and returns
// the unconsumed remainder.
func (c *Client) decodePending(pending []byte) []byte {
	for len(pending) > 0 {
		msg, consumed, err := frame.Decode(pending)
		if err == nil {
			pending = pending[consumed:]
			c.framesRx.Add(1)
			select {
			case c.dispatchQueue <- msg:
			default:
				c.framesDropped.Add(1)
				c.log.Warn("dispatch queue full, dropping frame", "group", msg.Group)
			}
			continue
		}
		var desync *frame.DesyncError
		if errors.As(err, &desync) {
			c.desyncs.Add(1)
			c.log.Debug("stream desync", "skipped", desync.Skip)
			pending = pending[desync.Skip:]
			continue
		}
		// Short frame: wait for more bytes.
		break
	}
	// Copy down so the backing array does not grow without bound.
	if len(pending) == 0 {
		return pending[:0]
	}
	return append([]byte(nil), pending...)
}

// writeLoop drains the send queue, pacing frames apart. Frames popped while
// no connection exists are dropped; the confirmation timeout upstream covers
// the loss.
func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case buf := <-c.sendQueue:
			conn := c.currentConn()
			if conn == nil {
				c.errorsTotal.Add(1)
				c.log.Debug("dropping frame while disconnected")
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
				c.dropConn(conn)
				continue
			}
			if _, err := conn.Write(buf); err != nil {
				c.errorsTotal.Add(1)
				c.log.Warn("write failed", "error", err)
				c.dropConn(conn)
				continue
			}
			c.framesTx.Add(1)

			select {
			case <-c.done.Done():
				return
			case <-time.After(c.cfg.WriteDelay):
			}
		}
	}
}

// keepAliveLoop sends the liveness probe on a fixed period. The device
// echoes it, which refreshes lastActivity through the read loop.
func (c *Client) keepAliveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			if err := c.Send(frame.KeepAlive()); err != nil {
				c.log.Debug("keepalive enqueue failed", "error", err)
			}
		}
	}
}

// probeOverdue reports whether inbound silence has outlived two keepalive
// periods.
func (c *Client) probeOverdue() bool {
	last := time.Unix(0, c.lastActivity.Load())
	return time.Since(last) > 2*c.cfg.KeepAliveInterval
}

// dispatchLoop hands decoded frames to the message callback in order.
func (c *Client) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case msg := <-c.dispatchQueue:
			c.callbackMu.RLock()
			fn := c.onMessage
			c.callbackMu.RUnlock()
			if fn == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.errorsTotal.Add(1)
						c.log.Error("message callback panic", "panic", r)
					}
				}()
				fn(msg)
			}()
		}
	}
}

// currentConn returns the live socket, or nil.
func (c *Client) currentConn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// dropConn closes and clears the socket if it is still the current one.
func (c *Client) dropConn(conn net.Conn) {
	c.connMu.Lock()
	if c.conn == conn && conn != nil {
		conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// reconnect establishes (or re-establishes) the connection with capped
// exponential backoff. The initial dial lands here too when Connect's first
// attempt fails. Returns false only when shutdown is signalled.
func (c *Client) reconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		// Another goroutine owns the reconnect; readLoop is the only
		// caller, so this does not happen in practice.
		return !c.isClosed()
	}
	defer c.reconnecting.Store(false)

	c.setState(StateConnecting)
	backoff := c.cfg.ReconnectInterval
	failures := 0

	for {
		if c.isClosed() {
			return false
		}

		dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		var dialer net.Dialer
		netConn, err := dialer.DialContext(dialCtx, "tcp", c.address())
		cancel()

		if err == nil {
			c.connMu.Lock()
			c.conn = netConn
			c.connMu.Unlock()
			c.lastActivity.Store(time.Now().UnixNano())
			if c.everConnected.Swap(true) {
				c.reconnectsTotal.Add(1)
				c.log.Info("reconnected", "attempts", failures+1)
			} else {
				c.log.Info("zone connected", "address", c.address(), "attempts", failures+1)
			}
			c.setState(StateConnected)
			return true
		}

		failures++
		c.errorsTotal.Add(1)
		c.log.Warn("reconnect failed", "attempt", failures, "backoff", backoff.String(), "error", err)

		if failures == c.cfg.UnresponsiveAfter {
			c.callbackMu.RLock()
			fn := c.onUnresponsive
			c.callbackMu.RUnlock()
			if fn != nil {
				fn(failures)
			}
		}

		select {
		case <-c.done.Done():
			return false
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > c.cfg.MaxReconnectInterval {
			backoff = c.cfg.MaxReconnectInterval
		}
	}
}
