// Package fanout carries committed auction outcomes to connected
// clients.  Publishers address logical channels (one per listing, one per
// user); the Bus relays every publish through Redis so the Hub of each
// process delivers to its own sockets.
package fanout

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Outbound event names.
const (
	EventNewBid          = "new-bid"
	EventBidSuccess      = "bid-success"
	EventBidError        = "bid-error"
	EventOutbid          = "outbid"
	EventAuctionExtended = "auction-extended"
	EventEndingSoon      = "auction-ending-soon"
	EventAuctionEnded    = "auction-ended"
	EventRoleChanged     = "role-changed"
	EventJoined          = "joined"
	EventLeft            = "left"
)

// Results carried by auction-ended.
const (
	ResultWon      = "won"
	ResultSold     = "sold"
	ResultNoWinner = "no_winner"
	ResultClosed   = "closed"
)

// ListingChannel is the watcher channel of a listing.
func ListingChannel(listingID uint64) string {
	return "listing:" + strconv.FormatUint(listingID, 10)
}

// UserChannel is the personal channel of a user.
func UserChannel(userID uint64) string {
	return "user:" + strconv.FormatUint(userID, 10)
}

// Message is the frame written to sockets and relayed over the bus.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode marshals payload into a Message frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Data: data})
}

// NewBidPayload is broadcast to watchers after every commit.
type NewBidPayload struct {
	ProductID    uint64          `json:"productId"`
	BidID        uint64          `json:"bidId"`
	BidderID     uint64          `json:"bidderId"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	MinBid       decimal.Decimal `json:"minBid"`
	TotalBids    int             `json:"totalBids"`
	BidTime      time.Time       `json:"bidTime"`
	EndTime      time.Time       `json:"endTime"`
}

// BidSuccessPayload acknowledges a committed bid to its bidder.
type BidSuccessPayload struct {
	ProductID    uint64          `json:"productId"`
	BidID        uint64          `json:"bidId"`
	BidPrice     decimal.Decimal `json:"bidPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	TotalBids    int             `json:"totalBids"`
	Extended     bool            `json:"extended"`
	EndTime      time.Time       `json:"endTime"`
}

// BidErrorPayload tells a bidder why a bid was rejected.  MinBid and
// CurrentPrice are present whenever the listing could be read so the
// client can retry without refetching.
type BidErrorPayload struct {
	ProductID    uint64           `json:"productId,omitempty"`
	Code         string           `json:"code"`
	Message      string           `json:"message"`
	MinBid       *decimal.Decimal `json:"minBid,omitempty"`
	CurrentPrice *decimal.Decimal `json:"currentPrice,omitempty"`
}

// OutbidPayload notifies the previous leader.
type OutbidPayload struct {
	ProductID    uint64          `json:"productId"`
	ProductTitle string          `json:"productTitle"`
	YourBid      decimal.Decimal `json:"yourBid"`
	NewPrice     decimal.Decimal `json:"newPrice"`
	MinBid       decimal.Decimal `json:"minBid"`
}

// AuctionExtendedPayload announces a deadline pushed forward.
type AuctionExtendedPayload struct {
	ProductID       uint64    `json:"productId"`
	NewEndTime      time.Time `json:"newEndTime"`
	ExtendedMinutes int       `json:"extendedMinutes"`
}

// EndingSoonPayload is the countdown alert.
type EndingSoonPayload struct {
	ProductID    uint64    `json:"productId"`
	ProductTitle string    `json:"productTitle"`
	MinutesLeft  int       `json:"minutesLeft"`
	EndTime      time.Time `json:"endTime"`
}

// AuctionEndedPayload is sent to watchers, the winner and the seller.
type AuctionEndedPayload struct {
	ProductID    uint64           `json:"productId"`
	ProductTitle string           `json:"productTitle"`
	Result       string           `json:"result"`
	FinalPrice   *decimal.Decimal `json:"finalPrice,omitempty"`
	WinnerID     *uint64          `json:"winnerId,omitempty"`
	OrderID      *uint64          `json:"orderId,omitempty"`
}

// RoleChangedPayload tells a user their capabilities changed.
type RoleChangedPayload struct {
	OldRole string `json:"oldRole"`
	NewRole string `json:"newRole"`
	Reason  string `json:"reason"`
}
