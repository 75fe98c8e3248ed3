/*
Package dispatcher implements spec.md §4.F: sequence-number
assignment, request/response correlation via an outstanding-request
table, synchronous-over-asynchronous calls with timeouts, and fan-out
to message listeners.

Grounded on the teacher's client/client_test.go request/response
shape and generalized per spec.md §9's explicit deviation: the
sequence counter and outstanding-request table are bound to the
Dispatcher instance rather than process-global state, so multiple
concurrent connections behave correctly.
*/
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/htsp-go/htsp/herrors"
	"github.com/htsp-go/htsp/listener"
	"github.com/htsp-go/htsp/message"
	"github.com/htsp-go/htsp/metrics"
	"github.com/htsp-go/htsp/registry"
)

// Sender is the minimal capability the dispatcher needs from a
// connection engine: enqueue a message for sending, and report whether
// sending is currently possible. connection.Engine satisfies this.
type Sender interface {
	QueueMessage(msg message.Message) error
}

type outstanding struct {
	method string
	waiter chan waiterResult
}

type waiterResult struct {
	reply message.Message
	err   error
}

// Dispatcher correlates requests to replies and fans incoming messages
// out to registered listeners. The supervisor creates one Dispatcher
// and keeps it across reconnects; its sequence counter and
// outstanding-request table are instance-scoped (spec.md §9), and the
// table is cleared by OnClosed on every CLOSED/FAILED transition.
type Dispatcher struct {
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics

	seqMu   sync.Mutex
	nextSeq int64

	tableMu sync.Mutex
	table   map[int64]*outstanding

	msgListeners *registry.Registry[message.Message]
}

// New constructs a Dispatcher that sends through sender. metrics may
// be nil, in which case a no-op instance is substituted so call sites
// never branch on nilness (SPEC_FULL.md §11.1).
func New(sender Sender, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NoOp()
	}
	d := &Dispatcher{
		sender:  sender,
		logger:  logger,
		metrics: m,
		table:   make(map[int64]*outstanding),
	}
	d.msgListeners = registry.New[message.Message]("message", logger)
	return d
}

func (d *Dispatcher) allocSeq() int64 {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	d.nextSeq++
	return d.nextSeq
}

// SendFireAndForget assigns seq if absent, records seq->method when a
// method is present, enqueues msg, and returns. It never waits for a
// reply.
func (d *Dispatcher) SendFireAndForget(msg message.Message) (message.Message, error) {
	msg = d.prepare(msg)
	seq, _ := msg.Seq()
	if method := msg.Method(); method != "" {
		d.tableMu.Lock()
		d.table[seq] = &outstanding{method: method, waiter: make(chan waiterResult, 1)}
		d.tableMu.Unlock()
	}
	if err := d.sender.QueueMessage(msg); err != nil {
		d.tableMu.Lock()
		delete(d.table, seq)
		d.tableMu.Unlock()
		return msg, err
	}
	d.metrics.FramesSent.Inc()
	return msg, nil
}

// SendAwaitReply behaves like SendFireAndForget but additionally
// registers a rendezvous keyed by seq and blocks the caller until a
// reply with that seq arrives, ctx is done, or timeout elapses,
// whichever comes first. It must never be called from the connection's
// reader goroutine (spec.md §5) — doing so would deadlock waiting on a
// reply that OnMessage, running on that same goroutine, can never
// deliver.
func (d *Dispatcher) SendAwaitReply(ctx context.Context, msg message.Message, timeout time.Duration) (message.Message, error) {
	msg = d.prepare(msg)
	seq, _ := msg.Seq()

	w := &outstanding{method: msg.Method(), waiter: make(chan waiterResult, 1)}
	d.tableMu.Lock()
	d.table[seq] = w
	d.tableMu.Unlock()

	start := time.Now()
	if err := d.sender.QueueMessage(msg); err != nil {
		d.tableMu.Lock()
		delete(d.table, seq)
		d.tableMu.Unlock()
		return message.Message{}, err
	}
	d.metrics.FramesSent.Inc()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case res := <-w.waiter:
		d.metrics.RequestLatency.Observe(time.Since(start).Seconds())
		return res.reply, res.err
	case <-deadline.C:
		d.tableMu.Lock()
		delete(d.table, seq)
		d.tableMu.Unlock()
		return message.Message{}, herrors.WrapTransient(herrors.ErrTimeout, "dispatcher", "SendAwaitReply", "no reply before deadline")
	case <-ctx.Done():
		d.tableMu.Lock()
		delete(d.table, seq)
		d.tableMu.Unlock()
		return message.Message{}, ctx.Err()
	}
}

func (d *Dispatcher) prepare(msg message.Message) message.Message {
	if _, ok := msg.Seq(); !ok {
		msg.SetS64("seq", d.allocSeq())
	}
	return msg
}

// OnMessage is invoked by the connection engine for every incoming
// message. If seq is present and the outstanding table has a matching
// entry, method is restored on msg from the table and the entry is
// erased before any rendezvous wake or listener fan-out (spec.md §8's
// ordering invariant).
func (d *Dispatcher) OnMessage(msg message.Message) {
	d.metrics.FramesReceived.Inc()

	if seq, ok := msg.Seq(); ok {
		d.tableMu.Lock()
		w, found := d.table[seq]
		if found {
			delete(d.table, seq)
		}
		d.tableMu.Unlock()

		if found {
			restored := msg.Clone()
			restored.SetString("method", w.method)
			w.waiter <- waiterResult{reply: restored}
			msg = restored
		}
	}

	d.msgListeners.Notify(msg)
}

// AddMessageListener registers fn under id; duplicate ids are a no-op
// (logged), per spec.md §4.F.
func (d *Dispatcher) AddMessageListener(id any, fn func(message.Message), executor listener.Executor) {
	d.msgListeners.Add(id, fn, executor)
}

// RemoveMessageListener unregisters id; missing ids are a no-op
// (logged), per spec.md §4.F and §12's symmetric-removal supplement.
func (d *Dispatcher) RemoveMessageListener(id any) {
	d.msgListeners.Remove(id)
}

// OnClosed clears the outstanding-request table and wakes every
// pending SendAwaitReply waiter with NotConnected. The dispatcher is
// wired as a connection-state listener by the supervisor and calls
// this on the CLOSED/FAILED transition (spec.md §12: the dispatcher
// reacts to the engine's own listener mechanism rather than being
// reached into directly).
func (d *Dispatcher) OnClosed() {
	d.tableMu.Lock()
	pending := d.table
	d.table = make(map[int64]*outstanding)
	d.tableMu.Unlock()

	for _, w := range pending {
		w.waiter <- waiterResult{err: herrors.WrapTransient(herrors.ErrNotConnected, "dispatcher", "OnClosed", "connection closed with request outstanding")}
	}
}
