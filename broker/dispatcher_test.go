package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDelivery records how the dispatcher settles a message.
type fakeDelivery struct {
	event         string
	body          []byte
	correlationID string
	replyTo       string

	mu       sync.Mutex
	acked    int
	nacked   int
	rejected int
	requeue  bool
	replies  [][]byte
}

func (f *fakeDelivery) Event() string         { return f.event }
func (f *fakeDelivery) Body() []byte          { return f.body }
func (f *fakeDelivery) CorrelationID() string { return f.correlationID }
func (f *fakeDelivery) ReplyTo() string       { return f.replyTo }

func (f *fakeDelivery) Ack() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked++
	return nil
}

func (f *fakeDelivery) Nack(requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked++
	f.requeue = requeue
	return nil
}

func (f *fakeDelivery) Reject(requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected++
	f.requeue = requeue
	return nil
}

func (f *fakeDelivery) Reply(_ context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, body)
	return nil
}

func jsonBody(t *testing.T, v interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func TestDispatchFansOutInRegistrationOrder(t *testing.T) {
	d := NewDispatcher(DefaultOptions())

	var order []string
	d.AddHandler("greet", func(ctx context.Context, dl *Delivery) error {
		order = append(order, "first")
		return nil
	})
	d.AddHandler("greet", func(ctx context.Context, dl *Delivery) error {
		order = append(order, "second")
		assert.Equal(t, "hello", dl.Payload())
		return nil
	})
	d.AddHandler("other", func(ctx context.Context, dl *Delivery) error {
		order = append(order, "other")
		return nil
	})

	fd := &fakeDelivery{event: "greet", body: jsonBody(t, "hello")}
	require.NoError(t, d.Dispatch(context.Background(), fd))

	assert.Equal(t, []string{"first", "second"}, order, "listeners run in order and only for their event")
	assert.Equal(t, 1, fd.acked)
	assert.Zero(t, fd.rejected)
}

func TestDispatchDecodeFailureNacksAndReports(t *testing.T) {
	d := NewDispatcher(DefaultOptions())
	errs := d.NotifyError(make(chan error, 1))

	d.AddHandler("greet", func(ctx context.Context, dl *Delivery) error {
		t.Fatal("listener must not run for an undecodable message")
		return nil
	})

	fd := &fakeDelivery{event: "greet", body: []byte("{not json")}
	err := d.Dispatch(context.Background(), fd)
	require.Error(t, err)

	assert.Equal(t, 1, fd.nacked)
	assert.False(t, fd.requeue, "poison messages are not requeued")

	var derr *DispatchError
	require.True(t, errors.As(<-errs, &derr))
	assert.Equal(t, "decode", derr.Op)
}

func TestDispatchListenerErrorRejectsButRunsOthers(t *testing.T) {
	d := NewDispatcher(DefaultOptions())
	errs := d.NotifyError(make(chan error, 2))

	var secondRan bool
	d.AddHandler("greet", func(ctx context.Context, dl *Delivery) error {
		return errors.New("listener blew up")
	})
	d.AddHandler("greet", func(ctx context.Context, dl *Delivery) error {
		secondRan = true
		return nil
	})

	fd := &fakeDelivery{event: "greet", body: jsonBody(t, "hi")}
	err := d.Dispatch(context.Background(), fd)
	require.Error(t, err)

	assert.True(t, secondRan, "one listener failing must not prevent the others")
	assert.Equal(t, 1, fd.rejected)
	assert.False(t, fd.requeue)

	var derr *DispatchError
	require.True(t, errors.As(<-errs, &derr))
	assert.Equal(t, "listener", derr.Op)
}

func TestDispatchListenerPanicIsContained(t *testing.T) {
	d := NewDispatcher(DefaultOptions())
	errs := d.NotifyError(make(chan error, 1))

	d.AddHandler("greet", func(ctx context.Context, dl *Delivery) error {
		panic("kaboom")
	})

	fd := &fakeDelivery{event: "greet", body: jsonBody(t, "hi")}
	require.Error(t, d.Dispatch(context.Background(), fd))
	assert.Equal(t, 1, fd.rejected)
	assert.Contains(t, (<-errs).Error(), "kaboom")

	// The dispatcher stays usable for the next message.
	fd2 := &fakeDelivery{event: "other", body: jsonBody(t, "hi")}
	assert.NoError(t, d.Dispatch(context.Background(), fd2))
}

func TestDispatchResolvesCorrelatedReply(t *testing.T) {
	d := NewDispatcher(DefaultOptions())
	require.NoError(t, d.Calls().Register("call-1"))

	var invoked bool
	d.AddHandler("greet", func(ctx context.Context, dl *Delivery) error {
		invoked = true
		return nil
	})

	fd := &fakeDelivery{event: "greet", correlationID: "call-1", body: jsonBody(t, "pong")}
	require.NoError(t, d.Dispatch(context.Background(), fd))

	assert.False(t, invoked, "a matched reply resolves the call and stops")
	payload, err := d.Calls().Await(context.Background(), "call-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", payload)

	assert.Equal(t, 1, fd.acked)
}

func TestDispatchUnmatchedCorrelationFallsThroughToListeners(t *testing.T) {
	d := NewDispatcher(DefaultOptions())

	var invoked bool
	d.AddHandler("greet", func(ctx context.Context, dl *Delivery) error {
		invoked = true
		assert.Equal(t, "nobody-waiting", dl.CorrelationID())
		return nil
	})

	// A request arriving at a server carries the caller's correlation id;
	// with no matching local entry it is a normal event delivery.
	fd := &fakeDelivery{event: "greet", correlationID: "nobody-waiting", body: jsonBody(t, "ping")}
	require.NoError(t, d.Dispatch(context.Background(), fd))
	assert.True(t, invoked)
}

func TestDispatchDropsMessagesWithoutHandlers(t *testing.T) {
	d := NewDispatcher(DefaultOptions())
	fd := &fakeDelivery{event: "nobody", body: jsonBody(t, "lost")}
	assert.NoError(t, d.Dispatch(context.Background(), fd))
	assert.Equal(t, 1, fd.acked)
}

func TestDeliverySettlementIsExactlyOnce(t *testing.T) {
	d := NewDispatcher(DefaultOptions())

	d.AddHandler("greet", func(ctx context.Context, dl *Delivery) error {
		require.NoError(t, dl.Ack())
		assert.ErrorIs(t, dl.Ack(), ErrAlreadySettled)
		assert.ErrorIs(t, dl.Reject(true), ErrAlreadySettled)
		return nil
	})

	fd := &fakeDelivery{event: "greet", body: jsonBody(t, "hi")}
	require.NoError(t, d.Dispatch(context.Background(), fd))

	// The handler settled; the dispatcher's fallback ack must not double up.
	assert.Equal(t, 1, fd.acked)
}

func TestDeliveryReplySerializesAndEchoes(t *testing.T) {
	d := NewDispatcher(DefaultOptions())

	d.AddHandler("sum", func(ctx context.Context, dl *Delivery) error {
		return dl.Reply(ctx, map[string]int{"result": 3})
	})

	fd := &fakeDelivery{event: "sum", correlationID: "c1", replyTo: "reply-q", body: jsonBody(t, []int{1, 2})}
	require.NoError(t, d.Dispatch(context.Background(), fd))

	require.Len(t, fd.replies, 1)
	assert.JSONEq(t, `{"result":3}`, string(fd.replies[0]))
}

func TestDeliveryReplyWithoutAddress(t *testing.T) {
	d := NewDispatcher(DefaultOptions())

	var replyErr error
	d.AddHandler("sum", func(ctx context.Context, dl *Delivery) error {
		replyErr = dl.Reply(ctx, "nope")
		return nil
	})

	fd := &fakeDelivery{event: "sum", body: jsonBody(t, nil)}
	require.NoError(t, d.Dispatch(context.Background(), fd))
	assert.ErrorIs(t, replyErr, ErrNoReplyAddress)
}

func TestEventsTracksHandlerRegistry(t *testing.T) {
	d := NewDispatcher(DefaultOptions())
	d.AddHandler("b", func(ctx context.Context, dl *Delivery) error { return nil })
	d.AddHandler("a", func(ctx context.Context, dl *Delivery) error { return nil })

	assert.Equal(t, []string{"a", "b"}, d.Events())
	assert.True(t, d.RemoveHandlers("a"))
	assert.False(t, d.RemoveHandlers("a"), "removing unknown handlers reports not found")
	assert.Equal(t, []string{"b"}, d.Events())
}

func TestReportErrorConcurrentWithShutdown(t *testing.T) {
	// Reporting must never send on a channel Shutdown already closed.
	for i := 0; i < 100; i++ {
		d := NewDispatcher(DefaultOptions())
		d.NotifyError(make(chan error, 1))
		d.NotifyClose(make(chan error, 1))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.ReportError(errors.New("fault"))
			d.ReportClose(errors.New("lost"))
		}()
		go func() {
			defer wg.Done()
			d.Shutdown()
		}()
		wg.Wait()
	}
}

func TestShutdownFailsOutstandingCallsAndClosesChannels(t *testing.T) {
	d := NewDispatcher(DefaultOptions())
	errs := d.NotifyError(make(chan error, 1))
	closes := d.NotifyClose(make(chan error, 1))

	require.NoError(t, d.Calls().Register("call-1"))
	result := make(chan error, 1)
	go func() {
		_, err := d.Calls().Await(context.Background(), "call-1", time.Minute)
		result <- err
	}()
	time.Sleep(10 * time.Millisecond)

	d.Shutdown()

	assert.ErrorIs(t, <-result, ErrClosed)
	_, open := <-errs
	assert.False(t, open)
	_, open = <-closes
	assert.False(t, open)
}
