/*
Package subscription implements the per-channel subscriber task of
spec.md §4.H, grounded on tasks/Subscriber.java: subscribe/unsubscribe,
speed/pause/resume/skip/live control, filtering the shared message
stream by subscriptionId, a periodic stats log, and resubscribe after
a reconnect reaches AUTHENTICATED.
*/
package subscription

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/htsp-go/htsp/auth"
	"github.com/htsp-go/htsp/listener"
	"github.com/htsp-go/htsp/message"
	"github.com/htsp-go/htsp/metrics"
)

// handledMethods mirrors Subscriber.java's HANDLED_METHODS set: only
// these methods are ever considered for this subscriber, and only
// after their subscriptionId is confirmed to match.
var handledMethods = map[string]bool{
	"subscriptionStart":  true,
	"subscriptionStatus": true,
	"subscriptionStop":   true,
	"subscriptionSkip":   true,
	"subscriptionSpeed":  true,
	"queueStatus":        true,
	"signalStatus":       true,
	"timeshiftStatus":    true,
	"muxpkt":             true,
}

// Dispatcher is the capability a subscriber needs from the connection
// dispatcher.
type Dispatcher interface {
	SendFireAndForget(msg message.Message) (message.Message, error)
	SendAwaitReply(ctx context.Context, msg message.Message, timeout time.Duration) (message.Message, error)
	AddMessageListener(id any, fn func(message.Message), executor listener.Executor)
	RemoveMessageListener(id any)
}

// Handlers are the callbacks a consumer supplies for events scoped to
// this subscription; each is optional.
type Handlers struct {
	OnSubscriptionStart  func(message.Message)
	OnSubscriptionStatus func(message.Message)
	OnSubscriptionStop   func(message.Message)
	OnSubscriptionSkip   func(message.Message)
	OnSubscriptionSpeed  func(message.Message)
	OnQueueStatus        func(message.Message)
	OnSignalStatus       func(message.Message)
	OnTimeshiftStatus    func(message.Message)
	OnMuxpkt             func(message.Message)
}

// StatsInterval is how often the subscriber logs a summary of
// last-observed status while subscribed (spec.md §4.H: 10s).
const StatsInterval = 10 * time.Second

const (
	SpeedPause  = 0
	SpeedResume = 100
)

// Subscriber is one logical subscription multiplexed onto a shared
// dispatcher. It is not safe to reuse across dispatchers.
type Subscriber struct {
	id       int64
	disp     Dispatcher
	handlers Handlers
	logger   *slog.Logger
	timeout  time.Duration
	metrics  *metrics.Metrics

	mu              sync.Mutex
	subscribed      bool
	channelID       int64
	profile         string
	timeshiftPeriod int64

	queueStatus     *message.Message
	signalStatus    *message.Message
	timeshiftStatus *message.Message

	stopStats chan struct{}
	statsDone chan struct{}
}

// New constructs a Subscriber bound to disp with process-unique id,
// scoped to the supervisor that owns disp (spec.md §9: the Java
// source's global subscription counter is deliberately narrowed to
// per-supervisor scope here).
func New(id int64, disp Dispatcher, handlers Handlers, logger *slog.Logger, replyTimeout time.Duration, m *metrics.Metrics) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if replyTimeout == 0 {
		replyTimeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.NoOp()
	}
	return &Subscriber{
		id:       id,
		disp:     disp,
		handlers: handlers,
		logger:   logger,
		timeout:  replyTimeout,
		metrics:  m,
	}
}

// ID returns this subscriber's subscriptionId.
func (s *Subscriber) ID() int64 { return s.id }

// Subscribe sends a subscribe request for channelID (with an optional
// profile and requested timeshiftPeriod, either of which may be
// zero-valued to omit), registers this subscriber as a message
// listener on first use, and starts the stats timer on success.
func (s *Subscriber) Subscribe(ctx context.Context, channelID int64, profile string, timeshiftPeriod int64) error {
	s.disp.AddMessageListener(s.listenerID(), s.onMessage, nil)

	req := message.New()
	req.SetString("method", "subscribe")
	req.SetS64("subscriptionId", s.id)
	req.SetS64("channelId", channelID)
	if profile != "" {
		req.SetString("profile", profile)
	}
	if timeshiftPeriod > 0 {
		req.SetS64("timeshiftPeriod", timeshiftPeriod)
	}

	reply, err := s.disp.SendAwaitReply(ctx, req, s.timeout)
	if err != nil {
		return err
	}

	s.mu.Lock()
	wasSubscribed := s.subscribed
	s.subscribed = true
	s.channelID = channelID
	s.profile = profile
	s.timeshiftPeriod = reply.Long("timeshiftPeriod", timeshiftPeriod)
	s.mu.Unlock()

	if !wasSubscribed {
		s.metrics.ActiveSubscriptions.Inc()
	}
	s.startStatsTimer()
	return nil
}

// Unsubscribe stops the stats timer, unregisters the message listener,
// then sends unsubscribe fire-and-forget, tolerating NotConnected —
// exactly the order Subscriber.java's unsubscribe() follows (spec.md
// §9's open question on unsubscribe ordering, and §12's supplement).
func (s *Subscriber) Unsubscribe() {
	s.stopStatsTimer()
	s.disp.RemoveMessageListener(s.listenerID())

	req := message.New()
	req.SetString("method", "unsubscribe")
	req.SetS64("subscriptionId", s.id)
	_, _ = s.disp.SendFireAndForget(req)

	s.mu.Lock()
	wasSubscribed := s.subscribed
	s.subscribed = false
	s.mu.Unlock()

	if wasSubscribed {
		s.metrics.ActiveSubscriptions.Dec()
	}
}

// SetSpeed issues subscriptionSpeed, tolerating NotConnected.
func (s *Subscriber) SetSpeed(speed int) {
	req := message.New()
	req.SetString("method", "subscriptionSpeed")
	req.SetS64("subscriptionId", s.id)
	req.SetS64("speed", int64(speed))
	_, _ = s.disp.SendFireAndForget(req)
}

// Pause is shorthand for SetSpeed(SpeedPause).
func (s *Subscriber) Pause() { s.SetSpeed(SpeedPause) }

// Resume is shorthand for SetSpeed(SpeedResume).
func (s *Subscriber) Resume() { s.SetSpeed(SpeedResume) }

// Skip issues subscriptionSkip by the given number of seconds,
// tolerating NotConnected.
func (s *Subscriber) Skip(seconds int64) {
	req := message.New()
	req.SetString("method", "subscriptionSkip")
	req.SetS64("subscriptionId", s.id)
	req.SetS64("time", seconds)
	_, _ = s.disp.SendFireAndForget(req)
}

// Live issues subscriptionLive, tolerating NotConnected.
func (s *Subscriber) Live() {
	req := message.New()
	req.SetString("method", "subscriptionLive")
	req.SetS64("subscriptionId", s.id)
	_, _ = s.disp.SendFireAndForget(req)
}

func (s *Subscriber) listenerID() any {
	return subscriberListenerID(s.id)
}

type subscriberListenerID int64

func (s *Subscriber) onMessage(msg message.Message) {
	if !handledMethods[msg.Method()] {
		return
	}
	if msg.Long("subscriptionId", -1) != s.id {
		return
	}

	switch msg.Method() {
	case "subscriptionStart":
		s.dispatch(s.handlers.OnSubscriptionStart, msg)
	case "subscriptionStatus":
		s.dispatch(s.handlers.OnSubscriptionStatus, msg)
	case "subscriptionStop":
		s.dispatch(s.handlers.OnSubscriptionStop, msg)
	case "subscriptionSkip":
		s.dispatch(s.handlers.OnSubscriptionSkip, msg)
	case "subscriptionSpeed":
		s.dispatch(s.handlers.OnSubscriptionSpeed, msg)
	case "queueStatus":
		s.mu.Lock()
		s.queueStatus = &msg
		s.mu.Unlock()
		s.dispatch(s.handlers.OnQueueStatus, msg)
	case "signalStatus":
		s.mu.Lock()
		s.signalStatus = &msg
		s.mu.Unlock()
		s.dispatch(s.handlers.OnSignalStatus, msg)
	case "timeshiftStatus":
		s.mu.Lock()
		s.timeshiftStatus = &msg
		s.mu.Unlock()
		s.dispatch(s.handlers.OnTimeshiftStatus, msg)
	case "muxpkt":
		s.dispatch(s.handlers.OnMuxpkt, msg)
	}
}

func (s *Subscriber) dispatch(fn func(message.Message), msg message.Message) {
	if fn != nil {
		fn(msg)
	}
}

func (s *Subscriber) startStatsTimer() {
	s.mu.Lock()
	if s.stopStats != nil {
		s.mu.Unlock()
		return
	}
	s.stopStats = make(chan struct{})
	stop := s.stopStats
	s.statsDone = make(chan struct{})
	done := s.statsDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.logStats()
			}
		}
	}()
}

func (s *Subscriber) stopStatsTimer() {
	s.mu.Lock()
	stop := s.stopStats
	done := s.statsDone
	s.stopStats = nil
	s.statsDone = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// logStats prints a section only if it has ever been observed,
// following StatsTimerTask.run's null-guards exactly (spec.md §12).
func (s *Subscriber) logStats() {
	s.mu.Lock()
	q, sig, ts := s.queueStatus, s.signalStatus, s.timeshiftStatus
	s.mu.Unlock()

	attrs := []any{"component", "subscription", "subscription_id", s.id}
	if q != nil {
		attrs = append(attrs, "queue_status", *q)
	}
	if sig != nil {
		attrs = append(attrs, "signal_status", *sig)
	}
	if ts != nil {
		attrs = append(attrs, "timeshift_status", *ts)
	}
	if len(attrs) > 4 {
		s.logger.Info("subscription stats", attrs...)
	}
}

// OnAuthStateChanged is the auth-state listener callback: upon
// reaching Authenticated while this subscriber was subscribed at the
// time of drop, it re-issues the prior subscribe with the remembered
// channelId/profile/timeshiftPeriod (spec.md §4.H, §8 scenario 6).
func (s *Subscriber) OnAuthStateChanged(sc auth.StateChange) {
	if sc.New != auth.Authenticated {
		return
	}

	s.mu.Lock()
	wasSubscribed := s.subscribed
	channelID := s.channelID
	profile := s.profile
	timeshiftPeriod := s.timeshiftPeriod
	s.mu.Unlock()

	if !wasSubscribed {
		return
	}

	go func() {
		if err := s.Subscribe(context.Background(), channelID, profile, timeshiftPeriod); err != nil {
			s.logger.Error("resubscribe failed", "component", "subscription", "subscription_id", s.id, "error", err)
		}
	}()
}
