package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/vsslctrl/vsslctrl/frame"
)

// testServer is a loopback stand-in for a zone's control socket.
type testServer struct {
	t        *testing.T
	listener net.Listener
	conns    chan net.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &testServer{t: t, listener: l, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.conns <- conn
		}
	}()
	t.Cleanup(func() { l.Close() })
	return s
}

func (s *testServer) hostPort() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (s *testServer) accept() net.Conn {
	s.t.Helper()
	select {
	case conn := <-s.conns:
		s.t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		s.t.Fatal("no connection accepted")
		return nil
	}
}

func testConfig(host string, port int) Config {
	return Config{
		Host:              host,
		Port:              port,
		ConnectTimeout:    time.Second,
		KeepAliveInterval: 250 * time.Millisecond,
		WriteDelay:        time.Millisecond,
		ReconnectInterval: 20 * time.Millisecond,
		UnresponsiveAfter: 2,
	}
}

func TestSendAndReceive(t *testing.T) {
	server := newTestServer(t)
	host, port := server.hostPort()

	received := make(chan frame.Message, 4)
	client, err := Connect(context.Background(), testConfig(host, port))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()
	client.SetOnMessage(func(msg frame.Message) { received <- msg })

	serverConn := server.accept()

	// Client to device.
	out, _ := frame.Encode(0x05, 1, []byte{0x28, 0x03})
	if err := client.Send(out); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	buf := make([]byte, 64)
	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := serverConn.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buf[:n]) != string(out) {
		t.Errorf("server received %X, want %X", buf[:n], out)
	}

	// Device to client.
	in, _ := frame.Encode(0x06, 1, []byte{0x28, 0x03})
	if _, err := serverConn.Write(in); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case msg := <-received:
		if msg.Group != 0x06 || msg.Slot != 1 {
			t.Errorf("message = %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message dispatched")
	}

	if client.State() != StateConnected {
		t.Errorf("State() = %v, want connected", client.State())
	}
}

func TestMessagesDispatchedInOrder(t *testing.T) {
	server := newTestServer(t)
	host, port := server.hostPort()

	var mu sync.Mutex
	var groups []byte
	done := make(chan struct{})

	client, err := Connect(context.Background(), testConfig(host, port))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()
	client.SetOnMessage(func(msg frame.Message) {
		mu.Lock()
		groups = append(groups, msg.Group)
		if len(groups) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	serverConn := server.accept()

	// Three frames in one TCP segment.
	var stream []byte
	for _, g := range []byte{0x06, 0x12, 0x07} {
		f, _ := frame.Encode(g, 1, []byte{0x01, 0x02})
		stream = append(stream, f...)
	}
	if _, err := serverConn.Write(stream); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not dispatched")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []byte{0x06, 0x12, 0x07}
	for i := range want {
		if groups[i] != want[i] {
			t.Fatalf("dispatch order = %X, want %X", groups, want)
		}
	}
}

func TestDesyncRecovery(t *testing.T) {
	server := newTestServer(t)
	host, port := server.hostPort()

	received := make(chan frame.Message, 4)
	client, err := Connect(context.Background(), testConfig(host, port))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()
	client.SetOnMessage(func(msg frame.Message) { received <- msg })

	serverConn := server.accept()

	valid, _ := frame.Encode(0x12, 2, []byte{0x01})
	junk := []byte{0xAA, 0xBB, 0xCC}
	if _, err := serverConn.Write(append(junk, valid...)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Group != 0x12 {
			t.Errorf("recovered message = %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame after junk not recovered")
	}

	if client.Stats().Desyncs == 0 {
		t.Error("Stats().Desyncs = 0, want > 0")
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	server := newTestServer(t)
	host, port := server.hostPort()

	client, err := Connect(context.Background(), testConfig(host, port))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	first := server.accept()
	first.Close()

	// The client notices the dead socket and redials.
	second := server.accept()

	deadline := time.Now().Add(2 * time.Second)
	for client.Stats().ReconnectsTotal == 0 || client.State() != StateConnected {
		if time.Now().After(deadline) {
			t.Fatal("client never reconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := client.Send(frame.KeepAlive()); err != nil {
		t.Fatalf("Send() after reconnect error: %v", err)
	}

	buf := make([]byte, 16)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(buf); err != nil {
		t.Fatalf("server read after reconnect: %v", err)
	}
	if client.Stats().ReconnectsTotal == 0 {
		t.Error("Stats().ReconnectsTotal = 0, want > 0")
	}
}

func TestUnresponsiveCallback(t *testing.T) {
	server := newTestServer(t)
	host, port := server.hostPort()

	client, err := Connect(context.Background(), testConfig(host, port))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	unresponsive := make(chan int, 1)
	client.SetOnUnresponsive(func(failures int) {
		select {
		case unresponsive <- failures:
		default:
		}
	})

	first := server.accept()

	// Kill the listener so every redial fails.
	server.listener.Close()
	first.Close()

	select {
	case failures := <-unresponsive:
		if failures != 2 {
			t.Errorf("failures = %d, want 2", failures)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("unresponsive callback never fired")
	}
}

func TestSendAfterClose(t *testing.T) {
	server := newTestServer(t)
	host, port := server.hostPort()

	client, err := Connect(context.Background(), testConfig(host, port))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	server.accept()
	client.Close()

	if err := client.Send(frame.KeepAlive()); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", client.State())
	}
}

func TestConnectNoHost(t *testing.T) {
	if _, err := Connect(context.Background(), Config{}); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestInitialDialRetriesInBackground(t *testing.T) {
	// Grab a port and close it so the first dial fails.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	client, err := Connect(context.Background(), testConfig("127.0.0.1", port))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	// Unreachable device: the client stays in the connecting state.
	waitCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	err = client.WaitConnected(waitCtx)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitConnected() error = %v, want deadline exceeded", err)
	}
	if client.State() != StateConnecting {
		t.Fatalf("State() = %v, want connecting", client.State())
	}

	// The device comes up on the same port; the backoff loop finds it.
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("relisten: %v", err)
	}
	defer listener.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := listener.Accept(); err == nil {
			accepted <- conn
		}
	}()

	waitCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.WaitConnected(waitCtx); err != nil {
		t.Fatalf("WaitConnected() after device came up: %v", err)
	}
	select {
	case conn := <-accepted:
		defer conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
	if client.State() != StateConnected {
		t.Errorf("State() = %v, want connected", client.State())
	}
	// The first successful dial is a connect, not a reconnect.
	if n := client.Stats().ReconnectsTotal; n != 0 {
		t.Errorf("Stats().ReconnectsTotal = %d, want 0", n)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Host: "10.0.0.5"}
	cfg.applyDefaults()

	if cfg.Port != 50002 {
		t.Errorf("Port = %d, want 50002", cfg.Port)
	}
	if cfg.WriteDelay != 200*time.Millisecond {
		t.Errorf("WriteDelay = %v, want 200ms", cfg.WriteDelay)
	}
	if cfg.UnresponsiveAfter != 5 {
		t.Errorf("UnresponsiveAfter = %d, want 5", cfg.UnresponsiveAfter)
	}
}
