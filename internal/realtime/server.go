package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/net/websocket"

	"github.com/iliyamo/auction-engine/internal/bidding"
	"github.com/iliyamo/auction-engine/internal/fanout"
	"github.com/iliyamo/auction-engine/internal/metrics"
	"github.com/iliyamo/auction-engine/internal/utils"
)

// Inbound event names.
const (
	EventJoinListing  = "join-listing"
	EventLeaveListing = "leave-listing"
	EventPlaceBid     = "place-bid"
)

// maxFrame bounds inbound messages.
const maxFrame = 8 << 10

// Bidder places bids; *bidding.Pipeline satisfies it.
type Bidder interface {
	Place(ctx context.Context, cmd bidding.Command) bidding.Result
}

type listingRequest struct {
	ListingID uint64 `json:"listingId"`
}

type bidRequest struct {
	ListingID uint64          `json:"listingId"`
	BidPrice  decimal.Decimal `json:"bidPrice"`
}

type membershipAck struct {
	ListingID uint64 `json:"listingId"`
}

// Server accepts websocket connections behind the gate.
type Server struct {
	gate    *Gate
	hub     *fanout.Hub
	bids    Bidder
	metrics *metrics.Metrics
}

func NewServer(gate *Gate, hub *fanout.Hub, bids Bidder, m *metrics.Metrics) *Server {
	return &Server{gate: gate, hub: hub, bids: bids, metrics: m}
}

// Handle is the echo handler for GET /ws.  Authentication happens
// before the upgrade so a refused client gets a plain JSON error.
func (s *Server) Handle(c echo.Context) error {
	id, err := s.gate.Authenticate(c.Request())
	if err != nil {
		var ge *GateError
		if errors.As(err, &ge) {
			return c.JSON(ge.Status, echo.Map{"error": ge.Reason})
		}
		utils.Error("realtime: gate lookup failed", map[string]any{"error": err.Error()})
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	ws := websocket.Server{
		// Origin policy is left to the reverse proxy.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   func(conn *websocket.Conn) { s.serve(conn, id) },
	}
	ws.ServeHTTP(c.Response(), c.Request())
	return nil
}

// serve owns one connection.  The reader runs here; a writer goroutine
// drains the client queue filled by the hub.
func (s *Server) serve(conn *websocket.Conn, id Identity) {
	conn.MaxPayloadBytes = maxFrame
	client := fanout.NewClient(uuid.NewString(), id.UserID)
	if !s.hub.Register(client, fanout.UserChannel(id.UserID)) {
		utils.Warn("realtime: hub stopped, refusing connection", map[string]any{"user_id": id.UserID})
		_ = conn.Close()
		return
	}
	s.metrics.ConnectionOpened()
	utils.Info("realtime: connected", map[string]any{"client_id": client.ID, "user_id": id.UserID})

	written := make(chan struct{})
	go func() {
		defer close(written)
		for frame := range client.Send {
			if err := websocket.Message.Send(conn, string(frame)); err != nil {
				_ = conn.Close()
				// Keep draining until the hub closes the queue.
				for range client.Send {
				}
				return
			}
		}
	}()

	ctx := conn.Request().Context()
	for {
		var raw string
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			break
		}
		s.dispatch(ctx, client, id, []byte(raw))
	}

	s.hub.Unregister(client)
	select {
	case <-written:
	case <-s.hub.Done():
	}
	_ = conn.Close()
	s.metrics.ConnectionClosed()
	utils.Info("realtime: disconnected", map[string]any{"client_id": client.ID, "user_id": id.UserID})
}

func (s *Server) dispatch(ctx context.Context, client *fanout.Client, id Identity, raw []byte) {
	var msg fanout.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.reply(client, fanout.EventBidError, fanout.BidErrorPayload{Code: string(bidding.CodeInvalidBid), Message: "malformed message"})
		return
	}

	switch msg.Event {
	case EventJoinListing, EventLeaveListing:
		var req listingRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.ListingID == 0 {
			s.reply(client, fanout.EventBidError, fanout.BidErrorPayload{Code: string(bidding.CodeInvalidBid), Message: "listingId is required"})
			return
		}
		if msg.Event == EventJoinListing {
			s.hub.Join(client, fanout.ListingChannel(req.ListingID))
			s.reply(client, fanout.EventJoined, membershipAck{ListingID: req.ListingID})
		} else {
			s.hub.Leave(client, fanout.ListingChannel(req.ListingID))
			s.reply(client, fanout.EventLeft, membershipAck{ListingID: req.ListingID})
		}

	case EventPlaceBid:
		var req bidRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.reply(client, fanout.EventBidError, fanout.BidErrorPayload{Code: string(bidding.CodeInvalidBid), Message: "listingId and bidPrice are required"})
			return
		}
		// Success is acknowledged through the personal channel.
		res := s.bids.Place(ctx, bidding.Command{ListingID: req.ListingID, BidderID: id.UserID, Price: req.BidPrice})
		if r := res.Rejection; r != nil {
			s.reply(client, fanout.EventBidError, fanout.BidErrorPayload{
				ProductID:    req.ListingID,
				Code:         string(r.Code),
				Message:      r.Message,
				MinBid:       r.MinBid,
				CurrentPrice: r.CurrentPrice,
			})
		}

	default:
		s.reply(client, fanout.EventBidError, fanout.BidErrorPayload{Code: string(bidding.CodeInvalidBid), Message: "unknown event " + msg.Event})
	}
}

func (s *Server) reply(client *fanout.Client, event string, payload any) {
	frame, err := fanout.Encode(event, payload)
	if err != nil {
		utils.Error("realtime: encode reply failed", map[string]any{"event": event, "error": err.Error()})
		return
	}
	s.hub.SendTo(client, frame)
}
