// Package amqp realizes the broker contract against an AMQP 0.9.1 server.
//
// Each broker owns one connection/channel pair. The connection is managed by
// internal/amqpconn and reconnects forever on non-fatal loss; the channel,
// the direct exchange named after the group, the exclusive reply queue and
// every event consumer are rebuilt fresh on each successful (re)connect.
//
// Every subscribed event maps to the deterministic queue
// "group:event" (or "group:subgroup:event"), bound to the group exchange
// with the event name as routing key, so processes sharing those identifiers
// form a consumer group.
//
// RPC metadata travels as AMQP message properties: CorrelationId carries the
// call's correlation id and ReplyTo names the broker's exclusive reply
// queue, which is consumed without acknowledgement.
package amqp
