// Package redis realizes the broker contract over Redis pub/sub.
//
// Channel names follow the same deterministic "group:event" /
// "group:subgroup:event" derivation the AMQP transport uses for queues.
// Redis pub/sub has no message properties and no acknowledgement, so RPC
// metadata (correlation id, reply channel) rides in a small JSON envelope
// around the payload and the settlement affordances are no-ops.
//
// The go-redis client reconnects on its own; this transport has no
// reconnect loop of its own.
package redis
