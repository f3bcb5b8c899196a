package fanout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case f, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case f := <-c.Send:
		t.Fatalf("unexpected frame %s", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PersonalAndListingChannels(t *testing.T) {
	h := startHub(t)
	alice := NewClient("a", 1)
	bob := NewClient("b", 2)
	h.Register(alice, UserChannel(1))
	h.Register(bob, UserChannel(2))
	h.Join(alice, ListingChannel(7))

	h.Deliver(ListingChannel(7), []byte("L"))
	require.Equal(t, []byte("L"), recv(t, alice))
	assertSilent(t, bob)

	h.Deliver(UserChannel(2), []byte("P"))
	require.Equal(t, []byte("P"), recv(t, bob))
	assertSilent(t, alice)

	h.Leave(alice, ListingChannel(7))
	h.Deliver(ListingChannel(7), []byte("L2"))
	assertSilent(t, alice)
}

func TestHub_PreservesOrderPerChannel(t *testing.T) {
	h := startHub(t)
	c := NewClient("a", 1)
	h.Register(c, UserChannel(1))
	h.Join(c, ListingChannel(3))

	for i := 0; i < 20; i++ {
		frame, err := Encode(EventNewBid, NewBidPayload{ProductID: 3, TotalBids: i})
		require.NoError(t, err)
		h.Deliver(ListingChannel(3), frame)
	}
	for i := 0; i < 20; i++ {
		var msg Message
		require.NoError(t, json.Unmarshal(recv(t, c), &msg))
		var p NewBidPayload
		require.NoError(t, json.Unmarshal(msg.Data, &p))
		require.Equal(t, i, p.TotalBids)
	}
}

func TestHub_UnregisterClosesQueue(t *testing.T) {
	h := startHub(t)
	c := NewClient("a", 1)
	h.Register(c, UserChannel(1))
	h.Join(c, ListingChannel(9))
	h.Unregister(c)

	select {
	case _, ok := <-c.Send:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("queue not closed")
	}

	// Later operations on the client are ignored.
	h.Join(c, ListingChannel(9))
	h.SendTo(c, []byte("x"))
	h.Unregister(c)
}

func TestHub_SlowClientDropsFrames(t *testing.T) {
	h := startHub(t)
	slow := NewClient("slow", 1)
	fast := NewClient("fast", 2)
	h.Register(slow, UserChannel(1))
	h.Register(fast, UserChannel(2))
	h.Join(slow, ListingChannel(1))

	for i := 0; i < clientBuffer+10; i++ {
		h.Deliver(ListingChannel(1), []byte("f"))
	}
	h.SendTo(fast, []byte("ok"))
	require.Equal(t, []byte("ok"), recv(t, fast), "a full client must not stall the hub")
	require.Eventually(t, func() bool { return len(slow.Send) == clientBuffer }, time.Second, 5*time.Millisecond)
}

func TestHub_OperationsAfterStopReturn(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()
	c := NewClient("a", 1)
	require.True(t, h.Register(c, UserChannel(1)))
	cancel()
	<-done

	_, ok := <-c.Send
	require.False(t, ok)
	require.False(t, h.Register(NewClient("b", 2), UserChannel(2)))
	h.Deliver(UserChannel(2), []byte("x"))
}
