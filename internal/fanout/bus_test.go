package fanout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Two buses on one Redis stand in for two server processes.
func TestBus_DeliversAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	newNode := func() (*Bus, *Hub) {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		hub := NewHub()
		go func() { _ = hub.Run(ctx) }()
		bus := NewBus(rdb, hub)
		ready := make(chan struct{})
		go func() { _ = bus.Run(ctx, ready) }()
		select {
		case <-ready:
		case <-time.After(2 * time.Second):
			t.Fatal("bus did not subscribe")
		}
		return bus, hub
	}

	publisher, _ := newNode()
	_, remote := newNode()

	watcher := NewClient("w", 5)
	remote.Register(watcher, UserChannel(5))
	remote.Join(watcher, ListingChannel(42))

	for i := 1; i <= 3; i++ {
		require.NoError(t, publisher.Publish(ctx, ListingChannel(42), EventNewBid, NewBidPayload{
			ProductID:    42,
			CurrentPrice: decimal.NewFromInt(int64(i * 1000)),
			TotalBids:    i,
		}))
	}

	for i := 1; i <= 3; i++ {
		var msg Message
		require.NoError(t, json.Unmarshal(recv(t, watcher), &msg))
		require.Equal(t, EventNewBid, msg.Event)
		var p NewBidPayload
		require.NoError(t, json.Unmarshal(msg.Data, &p))
		require.Equal(t, i, p.TotalBids)
		require.True(t, decimal.NewFromInt(int64(i*1000)).Equal(p.CurrentPrice))
	}

	require.NoError(t, publisher.Publish(ctx, UserChannel(5), EventOutbid, OutbidPayload{ProductID: 42}))
	var msg Message
	require.NoError(t, json.Unmarshal(recv(t, watcher), &msg))
	require.Equal(t, EventOutbid, msg.Event)
}

func TestBus_PublishFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	err := NewBus(rdb, NewHub()).Publish(context.Background(), ListingChannel(1), EventNewBid, NewBidPayload{})
	require.ErrorContains(t, err, "fanout: publish")
}
