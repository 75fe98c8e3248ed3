package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/htsp-go/htsp/herrors"
	"github.com/htsp-go/htsp/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []message.Message
	fail     bool
	onQueued func(message.Message)
}

func (f *fakeSender) QueueMessage(msg message.Message) error {
	if f.fail {
		return herrors.WrapTransient(herrors.ErrNotConnected, "test", "QueueMessage", "not connected")
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.onQueued != nil {
		f.onQueued(msg)
	}
	return nil
}

func TestSendFireAndForgetAssignsSeq(t *testing.T) {
	s := &fakeSender{}
	d := New(s, nil, nil)

	m := message.New()
	m.SetString("method", "subscribe")
	sent, err := d.SendFireAndForget(m)
	require.NoError(t, err)

	seq, ok := sent.Seq()
	require.True(t, ok)
	assert.Equal(t, int64(1), seq)

	m2 := message.New()
	m2.SetString("method", "unsubscribe")
	sent2, err := d.SendFireAndForget(m2)
	require.NoError(t, err)
	seq2, _ := sent2.Seq()
	assert.Equal(t, int64(2), seq2)
}

func TestSendAwaitReplyResolvesOnMatchingSeq(t *testing.T) {
	s := &fakeSender{}
	d := New(s, nil, nil)

	s.onQueued = func(sent message.Message) {
		seq, _ := sent.Seq()
		go func() {
			reply := message.New()
			reply.SetS64("seq", seq)
			reply.SetString("result", "ok")
			d.OnMessage(reply)
		}()
	}

	m := message.New()
	m.SetString("method", "hello")
	reply, err := d.SendAwaitReply(context.Background(), m, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.Method(), "method must be restored from the outstanding table")
	assert.Equal(t, "ok", reply.String("result", ""))
}

func TestSendAwaitReplyTimesOut(t *testing.T) {
	s := &fakeSender{}
	d := New(s, nil, nil)

	m := message.New()
	m.SetString("method", "hello")
	_, err := d.SendAwaitReply(context.Background(), m, 20*time.Millisecond)
	assert.True(t, herrors.IsTransient(err))
	assert.True(t, errors.Is(err, herrors.ErrTimeout))
}

func TestSendAwaitReplyFailsImmediatelyWhenNotConnected(t *testing.T) {
	s := &fakeSender{fail: true}
	d := New(s, nil, nil)

	start := time.Now()
	_, err := d.SendAwaitReply(context.Background(), message.New(), 100*time.Millisecond)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "must fail immediately, not wait out the timeout")
	assert.True(t, errors.Is(err, herrors.ErrNotConnected))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.sent, "must not enqueue when the sender rejects the message")
}

func TestOnMessageFansOutToListeners(t *testing.T) {
	s := &fakeSender{}
	d := New(s, nil, nil)

	var mu sync.Mutex
	var got []message.Message
	d.AddMessageListener("sub1", func(m message.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}, nil)

	m := message.New()
	m.SetString("method", "muxpkt")
	d.OnMessage(m)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "muxpkt", got[0].Method())
}

func TestOnClosedWakesOutstandingWaiters(t *testing.T) {
	s := &fakeSender{}
	d := New(s, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := d.SendAwaitReply(context.Background(), message.New(), 5*time.Second)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		d.tableMu.Lock()
		defer d.tableMu.Unlock()
		return len(d.table) == 1
	}, time.Second, time.Millisecond)

	d.OnClosed()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, herrors.ErrNotConnected))
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestDuplicateListenerAddIgnored(t *testing.T) {
	s := &fakeSender{}
	d := New(s, nil, nil)

	calls := 0
	d.AddMessageListener("x", func(message.Message) { calls++ }, nil)
	d.AddMessageListener("x", func(message.Message) { calls += 100 }, nil)
	d.OnMessage(message.New())
	assert.Equal(t, 1, calls)
}
