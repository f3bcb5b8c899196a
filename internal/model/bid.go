package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is an immutable price offer recorded in the `bids` table.  Bid
// history for a listing is ranked by (BidPrice desc, CreatedAt asc).
type Bid struct {
	ID        uint64          // bids.id
	ListingID uint64          // bids.product_id
	BidderID  uint64          // bids.bidder_id
	BidPrice  decimal.Decimal // bids.bid_price
	IsAuto    bool            // bids.is_auto
	CreatedAt time.Time       // bids.created_at
}

// RatingSnapshot is the aggregate reputation of a user.  The pipeline
// only reads it.
type RatingSnapshot struct {
	TotalRatings    int
	PositiveRatings int
}

// PositivePercentage returns the share of positive ratings in the
// range 0..100.  A user without ratings has 0.
func (r RatingSnapshot) PositivePercentage() float64 {
	if r.TotalRatings <= 0 {
		return 0
	}
	return float64(r.PositiveRatings) * 100 / float64(r.TotalRatings)
}
