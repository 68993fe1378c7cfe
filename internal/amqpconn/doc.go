// Package amqpconn manages the AMQP connection underneath the AMQP broker
// transport.
//
// This package includes:
//   - Manager: owns the live connection, watches for close events and
//     reconnects forever on non-fatal loss
//   - RetryPolicy: the delay schedule between reconnect attempts, fixed
//     delay by default with an optional exponential backoff
//   - Fatal-vs-transient error classification for connection errors
//
// A Manager accepts either a connection URL, in which case it dials and
// redials itself, or an already-established connection, in which case a
// close is terminal because the Manager has nothing to redial.
package amqpconn
