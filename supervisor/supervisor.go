/*
Package supervisor implements spec.md §4.I: composes the connection
engine, dispatcher, and authenticator, owns the I/O goroutines, and
enforces reconnect-with-backoff. Grounded on the teacher's client
package's role as the facade a consumer talks to (client/client.go),
generalized from a stub into the real composition root.
*/
package supervisor

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/htsp-go/htsp/auth"
	"github.com/htsp-go/htsp/config"
	"github.com/htsp-go/htsp/connection"
	"github.com/htsp-go/htsp/dispatcher"
	"github.com/htsp-go/htsp/herrors"
	"github.com/htsp-go/htsp/listener"
	"github.com/htsp-go/htsp/message"
	"github.com/htsp-go/htsp/metrics"
)

// Supervisor owns one logical connection's lifetime across however
// many physical reconnects it takes to keep it up. Each reconnect
// constructs a fresh connection.Engine and auth.Authenticator; the
// dispatcher.Dispatcher is created on the first attempt and kept for
// the Supervisor's lifetime, sending through whichever engine is
// current, so subscribers bound to it keep working after a reconnect
// (its outstanding-request table is cleared on every CLOSED/FAILED).
type Supervisor struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	dialer  connection.Dialer

	instanceID string

	mu         sync.Mutex
	engine     *connection.Engine
	disp       *dispatcher.Dispatcher
	authr      *auth.Authenticator
	stopped    bool
	attempt    int
	reconnects sync.WaitGroup

	connListeners *safeConnListeners
	authListeners *safeAuthListeners
}

// safeConnListeners/safeAuthListeners buffer registrations made before
// the first Engine/Authenticator exists, then forward them into every
// subsequently constructed one — mirroring the Java source's
// MainActivity composition pattern of "register listeners before
// start()" (SPEC_FULL.md §12), extended across reconnects.
type safeConnListeners struct {
	mu   sync.Mutex
	regs []func(*connection.Engine)
}

func (s *safeConnListeners) add(fn func(*connection.Engine)) {
	s.mu.Lock()
	s.regs = append(s.regs, fn)
	s.mu.Unlock()
}

func (s *safeConnListeners) applyTo(e *connection.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fn := range s.regs {
		fn(e)
	}
}

type safeAuthListeners struct {
	mu   sync.Mutex
	regs []func(*auth.Authenticator)
}

func (s *safeAuthListeners) add(fn func(*auth.Authenticator)) {
	s.mu.Lock()
	s.regs = append(s.regs, fn)
	s.mu.Unlock()
}

func (s *safeAuthListeners) applyTo(a *auth.Authenticator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fn := range s.regs {
		fn(a)
	}
}

// New constructs a Supervisor for cfg. It does not connect until Start
// is called.
func New(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NoOp()
	}
	instanceID := uuid.NewString()
	return &Supervisor{
		cfg:           cfg,
		logger:        logger.With("conn_instance", instanceID),
		metrics:       m,
		instanceID:    instanceID,
		connListeners: &safeConnListeners{},
		authListeners: &safeAuthListeners{},
	}
}

// InstanceID returns this Supervisor's correlation id, attached to
// every log line its components emit (SPEC_FULL.md §11.2).
func (s *Supervisor) InstanceID() string { return s.instanceID }

// AddConnectionListener forwards to the current (and every future)
// connection.Engine's connection-state registry.
func (s *Supervisor) AddConnectionListener(id any, fn func(connection.StateChange), executor listener.Executor) {
	reg := func(e *connection.Engine) { e.AddConnectionListener(id, fn, executor) }
	s.connListeners.add(reg)
	s.mu.Lock()
	e := s.engine
	s.mu.Unlock()
	if e != nil {
		reg(e)
	}
}

// AddAuthStateListener forwards to the current (and every future)
// Authenticator's auth-state registry.
func (s *Supervisor) AddAuthStateListener(id any, fn func(auth.StateChange), executor listener.Executor) {
	reg := func(a *auth.Authenticator) { a.AddAuthStateListener(id, fn, executor) }
	s.authListeners.add(reg)
	s.mu.Lock()
	a := s.authr
	s.mu.Unlock()
	if a != nil {
		reg(a)
	}
}

// Dispatcher returns the Supervisor's dispatcher, or nil before the
// first connection attempt. Subscribers bind to this; it stays the same
// across reconnects.
func (s *Supervisor) Dispatcher() *dispatcher.Dispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disp
}

// Metrics returns the Metrics instance this Supervisor was constructed
// with, for consumers (e.g. cmd/htspctl) that want to hand it to their
// own components such as subscription.Subscriber.
func (s *Supervisor) Metrics() *metrics.Metrics {
	return s.metrics
}

// IsClosed reports whether Stop has been called.
func (s *Supervisor) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Start launches the connect-and-reconnect loop in the background and
// returns immediately.
func (s *Supervisor) Start(ctx context.Context) {
	s.reconnects.Add(1)
	go s.run(ctx)
}

// Stop signals the reconnect loop to stop and closes the current
// engine, then waits for the loop goroutine to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	e := s.engine
	s.mu.Unlock()

	if e != nil {
		e.CloseConnection()
	}
	s.reconnects.Wait()
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.reconnects.Done()

	bcfg := s.cfg.ReconnectBackoff.Backoff()
	attempt := 0

	for {
		if s.IsClosed() || ctx.Err() != nil {
			return
		}

		failed := s.connectOnce(ctx, &attempt)
		<-failed

		if s.IsClosed() || ctx.Err() != nil {
			return
		}

		s.metrics.Reconnects.Inc()
		delay := bcfg.Next(attempt)
		attempt++
		s.logger.Warn("connection lost, reconnecting", "component", "supervisor", "attempt", attempt, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// connectOnce builds a fresh Engine/Authenticator (and the Dispatcher on
// the first call only), starts them, and returns a channel that closes once the engine reaches a
// terminal state (Closed or Failed). attempt is the reconnect-backoff
// counter owned by run; it is reset to 0 on CONNECTED (spec.md: "Reset
// on successful CONNECTED") so a connection that later drops again
// retries from the initial delay instead of a stale, escalated one.
func (s *Supervisor) connectOnce(ctx context.Context, attempt *int) <-chan struct{} {
	failed := make(chan struct{})

	var eng *connection.Engine
	s.mu.Lock()
	disp := s.disp
	s.mu.Unlock()
	if disp == nil {
		disp = dispatcher.New(dispatcherSender{s}, s.logger, s.metrics)
	}

	authr := auth.New(disp, auth.Credentials{
		Username:      s.cfg.Username,
		Password:      s.cfg.Password,
		ClientName:    s.cfg.ClientName,
		ClientVersion: s.cfg.ClientVersion,
		HtspVersion:   s.cfg.HtspVersion,
		ReplyTimeout:  s.cfg.ReplyTimeoutDuration(),
	}, s.logger)

	engOpts := []connection.Option{
		connection.WithLogger(s.logger),
		connection.WithDialTimeout(s.cfg.ConnectTimeoutDuration()),
		connection.WithMetrics(s.metrics),
	}
	s.mu.Lock()
	dialer := s.dialer
	s.mu.Unlock()
	if dialer != nil {
		engOpts = append(engOpts, connection.WithDialer(dialer))
	}
	eng = connection.New(s.cfg.Hostname, strconv.Itoa(s.cfg.Port), disp.OnMessage, engOpts...)

	eng.AddConnectionListener("supervisor-metrics", func(sc connection.StateChange) {
		s.metrics.ConnectionState.Set(float64(sc.New))
	}, nil)
	eng.AddConnectionListener("supervisor-dispatcher", func(sc connection.StateChange) {
		if sc.New == connection.Closed || sc.New == connection.Failed {
			disp.OnClosed()
		}
	}, nil)
	eng.AddConnectionListener("supervisor-auth", authr.OnConnectionStateChanged, nil)
	eng.AddConnectionListener("supervisor-backoff-reset", func(sc connection.StateChange) {
		if sc.New == connection.Connected {
			*attempt = 0
		}
	}, nil)
	eng.AddConnectionListener("supervisor-terminal", func(sc connection.StateChange) {
		if sc.New == connection.Closed || sc.New == connection.Failed {
			close(failed)
		}
	}, nil)

	s.connListeners.applyTo(eng)
	s.authListeners.applyTo(authr)

	s.mu.Lock()
	s.engine = eng
	s.disp = disp
	s.authr = authr
	s.mu.Unlock()

	if err := eng.Start(ctx); err != nil {
		s.logger.Error("connect failed", "component", "supervisor", "error", err)
		// eng.Start already transitioned to Failed, which fires the
		// terminal listener above and closes failed.
	}
	return failed
}

// dispatcherSender adapts the Supervisor's current engine (which does
// not exist yet when the Dispatcher needs a Sender, and is replaced on
// every reconnect) into dispatcher.Sender.
type dispatcherSender struct {
	sup *Supervisor
}

func (d dispatcherSender) QueueMessage(msg message.Message) error {
	d.sup.mu.Lock()
	e := d.sup.engine
	d.sup.mu.Unlock()
	if e == nil {
		return herrors.WrapTransient(herrors.ErrNotConnected, "supervisor", "QueueMessage", "no engine yet")
	}
	return e.QueueMessage(msg)
}

// WithDialer overrides the TCP dialer used for every future connection
// attempt, for tests. Safe to call before or after Start.
func (s *Supervisor) WithDialer(d connection.Dialer) *Supervisor {
	s.mu.Lock()
	s.dialer = d
	s.mu.Unlock()
	return s
}
