package broker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Precondition errors
	ErrNoChannel = errors.New("broker: no channel available")
	ErrClosed    = errors.New("broker: broker is closed")

	// ErrConnectionLost fails outstanding calls when the connection backing
	// them goes away before their reply arrives.
	ErrConnectionLost = errors.New("broker: connection lost")

	// RPC errors
	ErrRPCDisabled   = errors.New("broker: rpc mode is not enabled")
	ErrCallTimeout   = errors.New("broker: call timed out")
	ErrCallCancelled = errors.New("broker: call cancelled")
	ErrUnknownCall   = errors.New("broker: no pending call with this id")
	ErrDuplicateCall = errors.New("broker: call id already pending")

	// Delivery errors
	ErrAlreadySettled = errors.New("broker: delivery already settled")
	ErrNoReplyAddress = errors.New("broker: delivery carries no reply address")
)

// DispatchError reports a fault raised while processing one inbound message.
// It is delivered through the error notification channel so a bad message
// never halts the consumer.
type DispatchError struct {
	Event     string    // Event the message was delivered for
	Op        string    // Stage that failed: "decode", "listener", "settle"
	Err       error     // Underlying error
	Timestamp time.Time // When the fault occurred
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("broker dispatch error: %s failed for event %q: %v", e.Op, e.Event, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// CallError reports the failure of a single RPC call.
type CallError struct {
	Event         string        // Event the call was issued for
	CorrelationID string        // Correlation id of the failed call
	Timeout       time.Duration // Configured window, zero when unbounded
	Err           error         // ErrCallTimeout, ErrCallCancelled or a transport error
}

func (e *CallError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("broker call error: %q (correlation %s) after %v: %v",
			e.Event, e.CorrelationID, e.Timeout, e.Err)
	}
	return fmt.Sprintf("broker call error: %q (correlation %s): %v", e.Event, e.CorrelationID, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
