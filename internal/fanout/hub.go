package fanout

import (
	"context"

	"github.com/iliyamo/auction-engine/internal/utils"
)

const clientBuffer = 64

// Client is one local connection as seen by the Hub.  The Hub is the
// only writer of Send and closes it when the client is unregistered.
type Client struct {
	ID     string
	UserID uint64
	Send   chan []byte
}

// NewClient allocates a client with a buffered outbound queue.
func NewClient(id string, userID uint64) *Client {
	return &Client{ID: id, UserID: userID, Send: make(chan []byte, clientBuffer)}
}

type membership struct {
	client  *Client
	channel string
}

type delivery struct {
	channel string
	client  *Client
	frame   []byte
}

// Hub owns the process-local room memberships.  All state is confined to
// the Run goroutine; other goroutines talk to it through channels.
type Hub struct {
	register   chan membership
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan delivery
	direct     chan delivery
	done       chan struct{}

	rooms   map[string]map[*Client]struct{}
	clients map[*Client]map[string]struct{}
}

// NewHub builds an idle hub; call Run to start it.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan membership),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		broadcast:  make(chan delivery, 256),
		direct:     make(chan delivery, 64),
		done:       make(chan struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]map[string]struct{}),
	}
}

// Run processes hub operations until ctx is cancelled.  Remaining
// clients have their Send channel closed on exit.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.Send)
			}
			h.clients = map[*Client]map[string]struct{}{}
			h.rooms = map[string]map[*Client]struct{}{}
			return nil

		case m := <-h.register:
			if _, ok := h.clients[m.client]; !ok {
				h.clients[m.client] = make(map[string]struct{})
			}
			h.add(m.client, m.channel)

		case c := <-h.unregister:
			rooms, ok := h.clients[c]
			if !ok {
				continue
			}
			for ch := range rooms {
				h.remove(c, ch)
			}
			delete(h.clients, c)
			close(c.Send)

		case m := <-h.join:
			if _, ok := h.clients[m.client]; ok {
				h.add(m.client, m.channel)
			}

		case m := <-h.leave:
			if _, ok := h.clients[m.client]; ok {
				h.remove(m.client, m.channel)
			}

		case d := <-h.broadcast:
			for c := range h.rooms[d.channel] {
				h.push(c, d.frame)
			}

		case d := <-h.direct:
			if _, ok := h.clients[d.client]; ok {
				h.push(d.client, d.frame)
			}
		}
	}
}

func (h *Hub) add(c *Client, channel string) {
	if channel == "" {
		return
	}
	room, ok := h.rooms[channel]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[channel] = room
	}
	room[c] = struct{}{}
	h.clients[c][channel] = struct{}{}
}

func (h *Hub) remove(c *Client, channel string) {
	if room, ok := h.rooms[channel]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, channel)
		}
	}
	delete(h.clients[c], channel)
}

// push never blocks the hub: a client that stopped reading loses frames.
func (h *Hub) push(c *Client, frame []byte) {
	select {
	case c.Send <- frame:
	default:
		utils.Warn("hub: client queue full, dropping frame", map[string]any{
			"client_id": c.ID,
			"user_id":   c.UserID,
		})
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Register adds a client and subscribes it to its personal channel.  It
// reports false when the hub has stopped; the client was not added and
// its queue will never be closed by the hub.
func (h *Hub) Register(c *Client, personal string) bool {
	select {
	case h.register <- membership{client: c, channel: personal}:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from every room and closes its queue.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Join subscribes a registered client to channel.
func (h *Hub) Join(c *Client, channel string) {
	select {
	case h.join <- membership{client: c, channel: channel}:
	case <-h.done:
	}
}

// Leave unsubscribes a client from channel.
func (h *Hub) Leave(c *Client, channel string) {
	select {
	case h.leave <- membership{client: c, channel: channel}:
	case <-h.done:
	}
}

// Deliver hands a frame to every local member of channel.  Frames for
// one channel are delivered in the order Deliver is called.
func (h *Hub) Deliver(channel string, frame []byte) {
	select {
	case h.broadcast <- delivery{channel: channel, frame: frame}:
	case <-h.done:
	}
}

// SendTo queues a frame for a single client, typically a reply to one
// of its own requests.
func (h *Hub) SendTo(c *Client, frame []byte) {
	select {
	case h.direct <- delivery{client: c, frame: frame}:
	case <-h.done:
	}
}
