package broker

import (
	"context"
	"sync"
	"time"
)

type callResult struct {
	payload interface{}
	err     error
}

type pendingCall struct {
	id        string
	created   time.Time
	completed bool
	done      chan callResult
}

// CallTable maps outstanding correlation ids to their waiting callers. It is
// broker-private: each Dispatcher owns exactly one table, created at
// construction and failed wholesale at shutdown or connection loss.
type CallTable struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

// NewCallTable creates an empty correlation table.
func NewCallTable() *CallTable {
	return &CallTable{pending: make(map[string]*pendingCall)}
}

// Register records a new outstanding call. Ids must be unique among
// concurrently outstanding calls; registering a pending id fails with
// ErrDuplicateCall.
func (t *CallTable) Register(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		return ErrDuplicateCall
	}
	t.pending[id] = &pendingCall{
		id:      id,
		created: time.Now(),
		done:    make(chan callResult, 1),
	}
	return nil
}

// Resolve completes the pending call with the given payload. The entry stays
// in the table, holding the buffered result, until Await consumes it: a reply
// that races ahead of the caller reaching Await is delivered, not lost.
// Resolve reports false when no entry matches or the call already completed,
// in which case the reply is dropped silently.
func (t *CallTable) Resolve(id string, payload interface{}) bool {
	return t.complete(id, callResult{payload: payload})
}

// Fail rejects the pending call with err. It reports false when no entry
// matches or the call already completed.
func (t *CallTable) Fail(id string, err error) bool {
	return t.complete(id, callResult{err: err})
}

func (t *CallTable) complete(id string, res callResult) bool {
	t.mu.Lock()
	pc, exists := t.pending[id]
	if !exists || pc.completed {
		t.mu.Unlock()
		return false
	}
	pc.completed = true
	t.mu.Unlock()

	pc.done <- res
	return true
}

// FailAll rejects every outstanding call with err. Used when the connection
// backing the calls is lost.
func (t *CallTable) FailAll(err error) {
	t.mu.Lock()
	var open []*pendingCall
	for _, pc := range t.pending {
		if !pc.completed {
			pc.completed = true
			open = append(open, pc)
		}
	}
	t.mu.Unlock()

	for _, pc := range open {
		pc.done <- callResult{err: err}
	}
}

// Remove abandons the entry for id without completing it. A stray reply
// arriving afterwards finds no entry and is dropped.
func (t *CallTable) Remove(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Len returns the number of outstanding calls.
func (t *CallTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Await blocks until the call registered under id is resolved, the timeout
// elapses, or ctx is cancelled. A call that completed before Await was
// reached returns its buffered result immediately. Timeout and cancellation
// are reported as distinct errors (ErrCallTimeout vs ErrCallCancelled) and
// every outcome discards the entry, so stray replies cannot leak into later
// calls. A timeout of zero waits until resolution or cancellation.
func (t *CallTable) Await(ctx context.Context, id string, timeout time.Duration) (interface{}, error) {
	t.mu.Lock()
	pc, exists := t.pending[id]
	t.mu.Unlock()
	if !exists {
		return nil, ErrUnknownCall
	}
	defer t.Remove(id)

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case res := <-pc.done:
		return res.payload, res.err
	case <-timer:
		return nil, &CallError{CorrelationID: id, Timeout: timeout, Err: ErrCallTimeout}
	case <-ctx.Done():
		return nil, &CallError{CorrelationID: id, Err: ErrCallCancelled}
	}
}
