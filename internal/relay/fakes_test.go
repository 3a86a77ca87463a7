package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/antoniostano/jarvis/internal/credential"
	"github.com/antoniostano/jarvis/internal/journal"
	"github.com/antoniostano/jarvis/internal/observability"
	"github.com/antoniostano/jarvis/internal/protocol"
	"github.com/antoniostano/jarvis/internal/session"
)

type frame struct {
	msgType int
	data    []byte
}

type readResult struct {
	frame
	err error
}

// fakeConn is an in-memory transport. Frames pushed with deliver are returned
// by ReadMessage; writes are recorded.
type fakeConn struct {
	inbound   chan readResult
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  []frame
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan readResult, 256),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-c.inbound:
		if r.err != nil {
			return 0, nil, r.err
		}
		return r.msgType, r.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, frame{msgType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(msgType int, data []byte) {
	c.inbound <- readResult{frame: frame{msgType: msgType, data: data}}
}

func (c *fakeConn) fail(err error) {
	c.inbound <- readResult{err: err}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// dataFrames returns written frames excluding close control frames.
func (c *fakeConn) dataFrames() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []frame
	for _, f := range c.written {
		if f.msgType == websocket.CloseMessage {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (c *fakeConn) sawCloseFrame() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.written {
		if f.msgType == websocket.CloseMessage {
			return true
		}
	}
	return false
}

// fakeDialer hands out a prepared upstream connection. When gate is set it
// blocks until the gate closes or ctx ends.
type fakeDialer struct {
	conn  *fakeConn
	err   error
	gate  chan struct{}
	calls atomic.Int32
	urls  chan string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.calls.Add(1)
	if d.urls != nil {
		d.urls <- url
	}
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type harness struct {
	relay    *Relay
	client   *fakeConn
	upstream *fakeConn
	dialer   *fakeDialer
	sessions *session.Manager
	journal  *journal.InMemoryStore
	metrics  *observability.Metrics
	done     chan error
}

type harnessOption func(*Config, *fakeDialer, *string)

func withKickstart(delay time.Duration) harnessOption {
	return func(cfg *Config, _ *fakeDialer, _ *string) {
		cfg.Variant, _ = protocol.Lookup(protocol.VariantV1AlphaCamel)
		cfg.Kickstart = true
		cfg.KickstartText = "Hello"
		cfg.KickstartDelay = delay
	}
}

func withoutCredential() harnessOption {
	return func(_ *Config, _ *fakeDialer, key *string) { *key = "" }
}

func withDialError(err error) harnessOption {
	return func(_ *Config, d *fakeDialer, _ *string) { d.err = err }
}

func withGate(gate chan struct{}) harnessOption {
	return func(_ *Config, d *fakeDialer, _ *string) { d.gate = gate }
}

func withLinger(d time.Duration) harnessOption {
	return func(cfg *Config, _ *fakeDialer, _ *string) { cfg.FailureLinger = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	snake, err := protocol.Lookup(protocol.VariantV1BetaSnake)
	require.NoError(t, err)

	cfg := Config{
		UpstreamHost: "generativelanguage.googleapis.com",
		Variant:      snake,
		Setup: protocol.Setup{
			Model:              "models/gemini-2.0-flash-exp",
			ResponseModalities: []string{"AUDIO"},
			VoiceName:          "Kore",
			SystemInstruction:  "You are J.A.R.V.I.S.",
		},
	}
	h := &harness{
		client:   newFakeConn(),
		upstream: newFakeConn(),
		sessions: session.NewManager(),
		journal:  journal.NewInMemoryStore(10),
		metrics:  observability.NewMetrics("test", prometheus.NewRegistry()),
		done:     make(chan error, 1),
	}
	h.dialer = &fakeDialer{conn: h.upstream}
	key := ` "abc 123' `
	for _, opt := range opts {
		opt(&cfg, h.dialer, &key)
	}

	h.relay, err = New(cfg, credential.NewResolver(key), h.dialer, h.sessions, h.journal, h.metrics, zaptest.NewLogger(t))
	require.NoError(t, err)
	return h
}

func (h *harness) start(ctx context.Context) {
	go func() {
		h.done <- h.relay.Serve(ctx, h.client, "127.0.0.1:40000")
	}()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not terminate")
		return nil
	}
}

func (h *harness) waitUpstreamFrames(t *testing.T, n int) []frame {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.upstream.dataFrames()) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.upstream.dataFrames()
}

func (h *harness) waitClientFrames(t *testing.T, n int) []frame {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.client.dataFrames()) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.client.dataFrames()
}

var errBoom = errors.New("boom")
