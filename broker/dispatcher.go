package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/NekosCloud/spectacles-go/serialization"
)

// Dispatcher implements the transport-independent half of the Broker
// contract: the per-event handler registry, inbound message fan-out and RPC
// correlation. Transports embed a Dispatcher and hand every raw delivery to
// Dispatch.
type Dispatcher struct {
	serializer serialization.Serializer
	logger     *slog.Logger
	rpc        bool
	calls      *CallTable

	mu       sync.RWMutex
	handlers map[string][]Handler

	notifyMu   sync.Mutex
	errorChans []chan error
	closeChans []chan error
	closed     bool
}

// NewDispatcher creates a Dispatcher from the shared broker options.
func NewDispatcher(opts Options) *Dispatcher {
	serializer := opts.Serializer
	if serializer == nil {
		serializer = serialization.NewJSONSerializer()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		serializer: serializer,
		logger:     logger,
		rpc:        opts.RPC,
		calls:      NewCallTable(),
		handlers:   make(map[string][]Handler),
	}
}

// Serializer returns the configured serializer.
func (d *Dispatcher) Serializer() serialization.Serializer {
	return d.serializer
}

// Logger returns the configured logger.
func (d *Dispatcher) Logger() *slog.Logger {
	return d.logger
}

// RPC reports whether request/response mode is enabled.
func (d *Dispatcher) RPC() bool {
	return d.rpc
}

// Calls returns the broker-private correlation table.
func (d *Dispatcher) Calls() *CallTable {
	return d.calls
}

// AddHandler registers handler for event.
func (d *Dispatcher) AddHandler(event string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], handler)
}

// RemoveHandlers drops every handler registered for event and reports
// whether any were registered.
func (d *Dispatcher) RemoveHandlers(event string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, exists := d.handlers[event]
	delete(d.handlers, event)
	return exists
}

// HasHandlers reports whether event has at least one registered handler.
func (d *Dispatcher) HasHandlers(event string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[event]) > 0
}

// Events returns the sorted list of events with registered handlers. Used by
// transports to re-establish consumers after a reconnect.
func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	events := make([]string, 0, len(d.handlers))
	for event := range d.handlers {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

// Dispatch processes one inbound message: it deserializes the body, resolves
// a pending call when the correlation id matches an outstanding entry, and
// otherwise invokes every handler registered for the message's event in
// order. A handler failing or panicking never prevents the remaining
// handlers from running; the fault is reported on the error channel and the
// message is rejected without requeue. A deserialization failure nacks the
// message without requeue. Replies with no matching entry and messages with
// no registered handler are acknowledged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, td TransportDelivery) error {
	payload, err := d.serializer.Unmarshal(td.Body())
	if err != nil {
		derr := &DispatchError{Event: td.Event(), Op: "decode", Err: err, Timestamp: time.Now()}
		d.ReportError(derr)
		if nackErr := td.Nack(false); nackErr != nil {
			d.logger.Debug("nack after decode failure failed", "event", td.Event(), "error", nackErr)
		}
		return derr
	}

	if id := td.CorrelationID(); id != "" && d.calls.Resolve(id, payload) {
		_ = td.Ack()
		return nil
	}

	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers[td.Event()]))
	copy(handlers, d.handlers[td.Event()])
	d.mu.RUnlock()

	if len(handlers) == 0 {
		// Unmatched replies and unsubscribed events are dropped.
		_ = td.Ack()
		return nil
	}

	delivery := newDelivery(td, payload, d.serializer)
	var firstErr error
	for _, handler := range handlers {
		if err := d.invoke(ctx, handler, delivery); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			d.ReportError(&DispatchError{Event: td.Event(), Op: "listener", Err: err, Timestamp: time.Now()})
		}
	}

	// Settlement here is a fallback: handlers that already settled win.
	if firstErr != nil {
		_ = delivery.Reject(false)
		return firstErr
	}
	_ = delivery.Ack()
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, handler Handler, delivery *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broker: listener panic: %v", r)
		}
	}()
	return handler(ctx, delivery)
}

// NotifyError registers ch to receive non-fatal faults and returns it. Sends
// never block: a notification is dropped when ch is full, so callers should
// size the channel generously.
func (d *Dispatcher) NotifyError(ch chan error) chan error {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	if d.closed {
		close(ch)
		return ch
	}
	d.errorChans = append(d.errorChans, ch)
	return ch
}

// NotifyClose registers ch to receive connection-loss notifications and
// returns it.
func (d *Dispatcher) NotifyClose(ch chan error) chan error {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	if d.closed {
		close(ch)
		return ch
	}
	d.closeChans = append(d.closeChans, ch)
	return ch
}

// ReportError fans err out to the error notification channels. The sends
// stay under the lock so a concurrent Shutdown cannot close a channel
// mid-send; they never block, so the lock is held only briefly.
func (d *Dispatcher) ReportError(err error) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	for _, ch := range d.errorChans {
		select {
		case ch <- err:
		default:
			d.logger.Debug("error notification dropped", "error", err)
		}
	}
}

// ReportClose fans a connection-loss notification out to the close channels.
func (d *Dispatcher) ReportClose(err error) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	for _, ch := range d.closeChans {
		select {
		case ch <- err:
		default:
			d.logger.Debug("close notification dropped", "error", err)
		}
	}
}

// Shutdown fails every outstanding call with ErrClosed, clears the handler
// registry and closes the notification channels. Called by transports from
// their Close.
func (d *Dispatcher) Shutdown() {
	d.calls.FailAll(ErrClosed)

	d.mu.Lock()
	d.handlers = make(map[string][]Handler)
	d.mu.Unlock()

	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, ch := range d.errorChans {
		close(ch)
	}
	for _, ch := range d.closeChans {
		close(ch)
	}
	d.errorChans = nil
	d.closeChans = nil
}
