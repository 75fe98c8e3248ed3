/*
Package connection implements the engine described in spec.md §4.E: a
TCP conduit with a documented lifecycle state machine. Where the Java
source drives one non-blocking socket through a Selector readiness
loop, this port uses two goroutines per connection — one blocked in
Read, one driven by a message-queue channel for writes — since Go's
net.Conn is blocking by design and a goroutine per direction is the
idiomatic replacement (spec.md §9 calls interest-based and
edge-triggered arm/disarm semantically equivalent). The state machine,
failure semantics, and listener fan-out rules are unchanged.
*/
package connection

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/htsp-go/htsp/herrors"
	"github.com/htsp-go/htsp/ioframe"
	"github.com/htsp-go/htsp/listener"
	"github.com/htsp-go/htsp/message"
	"github.com/htsp-go/htsp/metrics"
	"github.com/htsp-go/htsp/registry"
)

// StateChange is delivered to connection-state listeners on every
// transition.
type StateChange struct {
	Old State
	New State
}

// Dialer abstracts the concrete TCP dial so tests can substitute
// net.Pipe()-backed fakes; spec.md §1 explicitly puts "concrete TCP
// socket library choice" out of this core's scope.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Engine is a single connection attempt's worth of I/O. It is
// single-use: once it reaches Closed or Failed, the supervisor
// constructs a new Engine to reconnect (spec.md §4.E).
type Engine struct {
	host string
	port string

	dial        Dialer
	dialTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	onMessage func(message.Message)

	mu    sync.Mutex
	state State
	conn  net.Conn

	reader *ioframe.Reader
	writer *ioframe.Writer

	writeSignal  chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	teardownOnce sync.Once
	wg           sync.WaitGroup

	connListeners *registry.Registry[StateChange]
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithDialer overrides the default net.Dialer-based Dialer, used by
// tests to hand the engine a net.Pipe() end directly.
func WithDialer(d Dialer) Option {
	return func(e *Engine) { e.dial = d }
}

// WithLogger attaches a structured logger; nil falls back to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDialTimeout bounds how long Start waits for the TCP handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(e *Engine) { e.dialTimeout = d }
}

// WithMetrics attaches byte-level counters (SPEC_FULL.md §11.1); nil
// falls back to a no-op instance so the read/write loops never branch
// on nilness.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New constructs an Engine for host:port in the Closed state.
// onMessage is invoked on the reader goroutine for every fully-framed
// incoming Message; it must not block or call back into the engine
// synchronously (the dispatcher satisfies this by design).
func New(host, port string, onMessage func(message.Message), opts ...Option) *Engine {
	e := &Engine{
		host:        host,
		port:        port,
		dialTimeout: 5 * time.Second,
		logger:      slog.Default(),
		metrics:     metrics.NoOp(),
		onMessage:   onMessage,
		state:       Closed,
		reader:      ioframe.NewReader(),
		writer:      ioframe.NewWriter(),
		writeSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	e.connListeners = registry.New[StateChange]("connection-state", e.logger)
	e.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AddConnectionListener registers fn under id; see registry.Registry.Add.
func (e *Engine) AddConnectionListener(id any, fn func(StateChange), executor listener.Executor) {
	e.connListeners.Add(id, fn, executor)
}

// RemoveConnectionListener unregisters id; see registry.Registry.Remove.
func (e *Engine) RemoveConnectionListener(id any) {
	e.connListeners.Remove(id)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	old := e.state
	e.state = s
	e.mu.Unlock()
	if old != s {
		e.logger.Info("connection state changed", "component", "connection", "old", old.String(), "new", s.String())
		e.connListeners.Notify(StateChange{Old: old, New: s})
	}
}

// Start dials the target and, on success, launches the reader and
// writer goroutines and transitions to Connected. It returns once the
// connection attempt resolves (success or failure); it does not block
// for the connection's lifetime.
func (e *Engine) Start(ctx context.Context) error {
	e.setState(Connecting)

	dialCtx := ctx
	var cancel context.CancelFunc
	if e.dialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, e.dialTimeout)
		defer cancel()
	}

	conn, err := e.dial(dialCtx, "tcp", net.JoinHostPort(e.host, e.port))
	if err != nil {
		e.setState(Failed)
		return herrors.WrapTransient(err, "connection", "Start", "dial failed")
	}

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	e.setState(Connected)

	e.wg.Add(2)
	go e.readLoop()
	go e.writeLoop()
	return nil
}

// Wait blocks until both the reader and writer goroutines have
// exited, for use by tests (in combination with goleak). The supervisor
// does not call it before constructing a fresh Engine on reconnect.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			e.metrics.BytesReceived.Add(float64(n))
			msgs, ferr := e.reader.Feed(buf[:n])
			for _, m := range msgs {
				e.onMessage(m)
			}
			if ferr != nil {
				e.logger.Error("frame decode failed", "component", "connection", "error", ferr)
				e.fail(ferr)
				return
			}
		}
		if err != nil {
			if e.State() == Closing || e.State() == Closed {
				return
			}
			e.logger.Error("read failed", "component", "connection", "error", err)
			e.fail(herrors.WrapTransient(err, "connection", "readLoop", "socket read failed"))
			return
		}
	}
}

func (e *Engine) writeLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.writeSignal:
			e.mu.Lock()
			conn := e.conn
			e.mu.Unlock()
			if conn == nil {
				continue
			}
			cw := &countingWriter{w: conn}
			err := e.writer.Flush(cw)
			e.metrics.BytesSent.Add(float64(cw.n))
			if err != nil {
				if e.State() == Closing || e.State() == Closed {
					return
				}
				e.logger.Error("write failed", "component", "connection", "error", err)
				e.fail(herrors.WrapTransient(err, "connection", "writeLoop", "socket write failed"))
				return
			}
			if e.writer.HasPendingData() {
				e.SetWritePending()
			}
		}
	}
}

// countingWriter tallies bytes actually written to net.Conn so the
// writer loop can report BytesSent without ioframe.Writer needing to
// know about metrics at all.
type countingWriter struct {
	w net.Conn
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	e.teardown(Failed)
}

// QueueMessage enqueues msg for sending and arms the writer, failing
// with ErrNotConnected if the engine is not Connected (spec.md §4.F
// send_fire_and_forget's NotConnected guard, enforced here since the
// engine is the only thing that knows the live state).
func (e *Engine) QueueMessage(msg message.Message) error {
	if e.State() != Connected {
		return herrors.WrapTransient(herrors.ErrNotConnected, "connection", "QueueMessage", "engine not connected")
	}
	e.mu.Lock()
	e.writer.Enqueue(msg)
	e.mu.Unlock()
	e.SetWritePending()
	return nil
}

// SetWritePending arms write-readiness, waking the writer goroutine. A
// no-op on an engine that is Closing or already Closed/Failed, per the
// Java source's isClosedOrClosing() guard (spec.md §12).
func (e *Engine) SetWritePending() {
	switch e.State() {
	case Closing, Closed, Failed:
		return
	}
	select {
	case e.writeSignal <- struct{}{}:
	default:
	}
}

// CloseConnection transitions Connected/Connecting to Closing, closes
// the socket (unblocking the reader), and finishes at Closed. It does
// not wait for the reader and writer goroutines to exit; call Wait for
// that. Calling it more than once, or on an
// engine that never reached Connecting, is safe and a no-op beyond
// the first call.
func (e *Engine) CloseConnection() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		state := e.state
		conn := e.conn
		e.mu.Unlock()

		if state == Closed || state == Failed {
			return
		}

		e.setState(Closing)
		if conn != nil {
			_ = conn.Close()
		}
		e.teardown(Closed)
	})
}

// teardown runs the terminal-state transition exactly once regardless
// of how many goroutines observe a failure or how many times
// CloseConnection is called concurrently.
func (e *Engine) teardown(final State) {
	e.teardownOnce.Do(func() {
		close(e.done)

		e.mu.Lock()
		old := e.state
		e.state = final
		e.mu.Unlock()

		e.logger.Info("connection torn down", "component", "connection", "final_state", final.String())
		if old != final {
			e.connListeners.Notify(StateChange{Old: old, New: final})
		}
	})
}
