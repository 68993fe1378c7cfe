// Package broker defines the transport-independent half of the spectacles
// messaging contract.
//
// This package includes:
//   - Broker: the publish/subscribe + request/response interface every
//     transport implements
//   - Dispatcher: listener bookkeeping and inbound message fan-out shared by
//     all transports
//   - CallTable: correlation of RPC requests to their replies, with timeout
//     and cancellation
//   - Delivery: the per-message capability object handed to listeners
//     (ack/nack/reject/reply, exactly-once settlement)
//
// Transports (see the transports/ subpackages) compose a Dispatcher rather
// than inheriting from it: they implement connecting, topology and raw
// delivery, and hand every inbound message to Dispatcher.Dispatch, which
// deserializes it and either resolves a pending call or invokes the
// registered listeners.
package broker
