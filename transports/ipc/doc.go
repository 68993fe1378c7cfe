// Package ipc realizes the broker contract entirely in process.
//
// Brokers attach to a shared Hub. Queue names are derived exactly like the
// AMQP transport's ("group:event" / "group:subgroup:event"), and brokers
// subscribed under the same queue name compete for messages round-robin,
// mirroring consumer-group semantics. Delivery is direct channel handoff,
// so there is no acknowledgement and the settlement affordances are no-ops.
//
// The transport is useful for single-process deployments and as a fast,
// dependency-free stand-in for the other transports in tests.
package ipc
