// Package spectacles layers a uniform publish/subscribe and request/response
// contract over heterogeneous backing systems.
//
// A Broker (see the broker package) publishes events, subscribes handlers to
// them and, in RPC mode, performs calls that correlate one request to
// exactly one reply. Three transports realize the contract:
//
//   - transports/amqp: an AMQP server, with reconnect, queue/exchange
//     topology and per-message acknowledgement
//   - transports/redis: Redis pub/sub
//   - transports/ipc: a dependency-free in-process hub
//
// Brokers sharing a group (and optional subgroup) form a consumer group:
// they derive identical queue names and split the event stream between them.
//
//	b := spectacles.NewAMQPBroker("amqp://localhost", "gateway",
//		amqp.WithSubgroup("shard0"),
//		amqp.WithRPC(true),
//	)
//	if err := b.Connect(ctx); err != nil { ... }
//	err := b.Subscribe(ctx, func(ctx context.Context, d *broker.Delivery) error {
//		defer d.Ack()
//		return handle(d.Payload())
//	}, "MESSAGE_CREATE")
package spectacles

import (
	"github.com/NekosCloud/spectacles-go/transports/amqp"
	"github.com/NekosCloud/spectacles-go/transports/ipc"
	"github.com/NekosCloud/spectacles-go/transports/redis"
)

// NewAMQPBroker creates a broker backed by the AMQP server at url.
func NewAMQPBroker(url, group string, options ...amqp.Option) *amqp.Broker {
	return amqp.NewBroker(url, group, options...)
}

// NewRedisBroker creates a broker backed by the Redis instance at url.
func NewRedisBroker(url, group string, options ...redis.Option) *redis.Broker {
	return redis.NewBroker(url, group, options...)
}

// NewIPCHub creates a hub for in-process brokers to attach to.
func NewIPCHub() *ipc.Hub {
	return ipc.NewHub()
}

// NewIPCBroker creates an in-process broker attached to hub.
func NewIPCBroker(hub *ipc.Hub, group string, options ...ipc.Option) *ipc.Broker {
	return ipc.NewBroker(hub, group, options...)
}
