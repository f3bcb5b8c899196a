package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus enumerates the lifecycle states of a listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingCompleted ListingStatus = "completed"
	ListingCancelled ListingStatus = "cancelled"
)

// Listing represents a timed auction as stored in the `products`
// table.  Only the columns read or written by the bid pipeline and the
// lifecycle scheduler are mapped here; descriptive columns belong to
// the listing management service.
//
// Fields:
//  ID           - primary key identifier.
//  SellerID     - user who owns the listing.
//  Title        - display title, used in notifications.
//  StartPrice   - opening price.
//  CurrentPrice - highest committed bid (or StartPrice before the first bid).
//  BidStep      - minimum increment over CurrentPrice.
//  BuyNowPrice  - optional instant purchase price.
//  EndTime      - auction deadline; only ever moves forward.
//  AutoExtend   - whether late bids push EndTime forward.
//  Status       - active, completed or cancelled.
//  TotalBids    - number of committed bids.
//  WinnerID     - current leading bidder (nil before the first bid).
type Listing struct {
	ID           uint64           // products.id
	SellerID     uint64           // products.seller_id
	Title        string           // products.title
	StartPrice   decimal.Decimal  // products.start_price
	CurrentPrice decimal.Decimal  // products.current_price
	BidStep      decimal.Decimal  // products.bid_step
	BuyNowPrice  *decimal.Decimal // products.buy_now_price (nullable)
	EndTime      time.Time        // products.end_time
	AutoExtend   bool             // products.auto_extend
	Status       ListingStatus    // products.status
	TotalBids    int              // products.total_bids
	WinnerID     *uint64          // products.winner_id (nullable)
}

// MinNextBid returns the smallest bid price the listing accepts.
func (l Listing) MinNextBid() decimal.Decimal {
	return l.CurrentPrice.Add(l.BidStep)
}

// HasWinner reports whether the listing closed with a buyer.
func (l Listing) HasWinner() bool {
	return l.WinnerID != nil && *l.WinnerID != 0 && l.TotalBids > 0
}
