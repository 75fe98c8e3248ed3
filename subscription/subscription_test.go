package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/htsp-go/htsp/auth"
	"github.com/htsp-go/htsp/herrors"
	"github.com/htsp-go/htsp/listener"
	"github.com/htsp-go/htsp/message"
	"github.com/htsp-go/htsp/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	sent      []message.Message
	listeners map[any]func(message.Message)
	fail      bool
	awaitFn   func(message.Message) (message.Message, error)
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{listeners: make(map[any]func(message.Message))}
}

func (f *fakeDispatcher) SendFireAndForget(msg message.Message) (message.Message, error) {
	if f.fail {
		return msg, herrors.WrapTransient(herrors.ErrNotConnected, "test", "send", "down")
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return msg, nil
}

func (f *fakeDispatcher) SendAwaitReply(ctx context.Context, msg message.Message, timeout time.Duration) (message.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.awaitFn != nil {
		return f.awaitFn(msg)
	}
	return msg, nil
}

func (f *fakeDispatcher) AddMessageListener(id any, fn func(message.Message), executor listener.Executor) {
	f.mu.Lock()
	f.listeners[id] = fn
	f.mu.Unlock()
}

func (f *fakeDispatcher) RemoveMessageListener(id any) {
	f.mu.Lock()
	delete(f.listeners, id)
	f.mu.Unlock()
}

func (f *fakeDispatcher) deliver(msg message.Message) {
	f.mu.Lock()
	fns := make([]func(message.Message), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func TestSubscribeSendsChannelIdAndStartsTimer(t *testing.T) {
	d := newFakeDispatcher()
	d.awaitFn = func(m message.Message) (message.Message, error) {
		reply := message.New()
		reply.SetS64("timeshiftPeriod", 60)
		return reply, nil
	}

	s := New(1, d, Handlers{}, nil, time.Second, nil)
	require.NoError(t, s.Subscribe(context.Background(), 7, "", 0))

	require.Len(t, d.sent, 1)
	assert.Equal(t, "subscribe", d.sent[0].Method())
	assert.Equal(t, int64(7), d.sent[0].Long("channelId", 0))
	assert.Equal(t, int64(1), d.sent[0].Long("subscriptionId", 0))

	s.Unsubscribe()
}

func TestFiltersBySubscriptionID(t *testing.T) {
	d := newFakeDispatcher()
	var aGot, bGot []message.Message

	subA := New(7, d, Handlers{OnMuxpkt: func(m message.Message) { aGot = append(aGot, m) }}, nil, time.Second, nil)
	subB := New(9, d, Handlers{OnMuxpkt: func(m message.Message) { bGot = append(bGot, m) }}, nil, time.Second, nil)

	require.NoError(t, subA.Subscribe(context.Background(), 100, "", 0))
	require.NoError(t, subB.Subscribe(context.Background(), 200, "", 0))

	pkt := message.New()
	pkt.SetString("method", "muxpkt")
	pkt.SetS64("subscriptionId", 7)
	d.deliver(pkt)

	require.Len(t, aGot, 1)
	assert.Empty(t, bGot, "subscriber B must never see A's muxpkt")

	subA.Unsubscribe()
	subB.Unsubscribe()
}

func TestUnsubscribeToleratesNotConnected(t *testing.T) {
	d := newFakeDispatcher()
	s := New(1, d, Handlers{}, nil, time.Second, nil)
	require.NoError(t, s.Subscribe(context.Background(), 1, "", 0))

	d.fail = true
	assert.NotPanics(t, func() { s.Unsubscribe() })
}

func TestSubscriptionSkipAndSpeedAreDelivered(t *testing.T) {
	d := newFakeDispatcher()
	var skipGot, speedGot []message.Message

	s := New(1, d, Handlers{
		OnSubscriptionSkip:  func(m message.Message) { skipGot = append(skipGot, m) },
		OnSubscriptionSpeed: func(m message.Message) { speedGot = append(speedGot, m) },
	}, nil, time.Second, nil)
	require.NoError(t, s.Subscribe(context.Background(), 7, "", 0))

	skip := message.New()
	skip.SetString("method", "subscriptionSkip")
	skip.SetS64("subscriptionId", 1)
	d.deliver(skip)

	speed := message.New()
	speed.SetString("method", "subscriptionSpeed")
	speed.SetS64("subscriptionId", 1)
	d.deliver(speed)

	require.Len(t, skipGot, 1)
	require.Len(t, speedGot, 1)

	s.Unsubscribe()
}

func TestResubscribeOnAuthenticated(t *testing.T) {
	d := newFakeDispatcher()
	d.awaitFn = func(m message.Message) (message.Message, error) {
		reply := message.New()
		reply.SetS64("timeshiftPeriod", 30)
		return reply, nil
	}

	s := New(1, d, Handlers{}, nil, time.Second, nil)
	require.NoError(t, s.Subscribe(context.Background(), 42, "hd", 30))
	initialSends := len(d.sent)

	s.OnAuthStateChanged(auth.StateChange{New: auth.Authenticated})

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.sent) == initialSends+1
	}, time.Second, 5*time.Millisecond)

	d.mu.Lock()
	last := d.sent[len(d.sent)-1]
	d.mu.Unlock()
	assert.Equal(t, "subscribe", last.Method())
	assert.Equal(t, int64(42), last.Long("channelId", 0))
	assert.Equal(t, "hd", last.String("profile", ""))

	s.Unsubscribe()
}

func TestActiveSubscriptionsGaugeTracksLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	d := newFakeDispatcher()
	s := New(1, d, Handlers{}, nil, time.Second, m)
	require.NoError(t, s.Subscribe(context.Background(), 7, "", 0))
	assert.Equal(t, float64(1), gaugeValue(t, reg, "htsp_active_subscriptions"))

	s.Unsubscribe()
	assert.Equal(t, float64(0), gaugeValue(t, reg, "htsp_active_subscriptions"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.Metric[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestSpeedHelpersSendCorrectValues(t *testing.T) {
	d := newFakeDispatcher()
	s := New(1, d, Handlers{}, nil, time.Second, nil)

	s.Pause()
	s.Resume()
	s.Skip(30)
	s.Live()

	require.Len(t, d.sent, 4)
	assert.Equal(t, int64(SpeedPause), d.sent[0].Long("speed", -1))
	assert.Equal(t, int64(SpeedResume), d.sent[1].Long("speed", -1))
	assert.Equal(t, "subscriptionSkip", d.sent[2].Method())
	assert.Equal(t, "subscriptionLive", d.sent[3].Method())
}
