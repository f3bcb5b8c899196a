package fanout

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/auction-engine/internal/utils"
)

// DefaultPrefix namespaces fanout channels inside Redis.
const DefaultPrefix = "auction:"

// Bus is the cluster-wide Publisher.  Each process runs one subscriber
// that feeds its Hub, so a publish from any instance reaches every
// watcher regardless of which server holds the socket.
type Bus struct {
	rdb    redis.UniversalClient
	prefix string
	hub    *Hub
}

// NewBus binds a Redis client to the local hub.
func NewBus(rdb redis.UniversalClient, hub *Hub) *Bus {
	return &Bus{rdb: rdb, prefix: DefaultPrefix, hub: hub}
}

// Publish encodes payload and publishes it on the Redis channel for
// channel.  Redis delivers messages from one connection in order, which
// keeps per-listing order equal to publish order.
func (b *Bus) Publish(ctx context.Context, channel, event string, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return fmt.Errorf("fanout: encode %s: %w", event, err)
	}
	if err := b.rdb.Publish(ctx, b.prefix+channel, frame).Err(); err != nil {
		return fmt.Errorf("fanout: publish %s on %s: %w", event, channel, err)
	}
	return nil
}

// Run subscribes to every fanout channel and relays messages to the hub
// until ctx is cancelled.  ready, when non-nil, is closed once the
// subscription is confirmed.
func (b *Bus) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.rdb.PSubscribe(ctx, b.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("fanout: subscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	utils.Info("fanout: bus subscribed", map[string]any{"pattern": b.prefix + "*"})

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("fanout: subscription closed")
			}
			channel := strings.TrimPrefix(msg.Channel, b.prefix)
			b.hub.Deliver(channel, []byte(msg.Payload))
		}
	}
}
