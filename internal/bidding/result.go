package bidding

import (
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-engine/internal/model"
)

// Code is the machine readable outcome surfaced to clients.
type Code string

const (
	CodeLockFailed      Code = "LOCK_FAILED"
	CodeNotFound        Code = "PRODUCT_NOT_FOUND"
	CodeNotActive       Code = "AUCTION_NOT_ACTIVE"
	CodeEnded           Code = "AUCTION_ENDED"
	CodeSellerCannotBid Code = "SELLER_CANNOT_BID"
	CodeBidderDenied    Code = "BIDDER_DENIED"
	CodeRatingTooLow    Code = "RATING_TOO_LOW"
	CodeNoRatings       Code = "NO_RATINGS"
	CodeBidTooLow       Code = "BID_TOO_LOW"
	CodeInvalidBid      Code = "INVALID_BID"
	CodeInternal        Code = "INTERNAL_ERROR"
)

const outcomeAccepted = "ACCEPTED"

// Retryable reports whether the client may resubmit the same bid.
func (c Code) Retryable() bool {
	return c == CodeLockFailed || c == CodeInternal
}

// Command is one bid attempt.
type Command struct {
	ListingID uint64
	BidderID  uint64
	Price     decimal.Decimal
	IsAuto    bool
}

// Accepted describes a committed bid.  Listing is the state written by
// the commit.
type Accepted struct {
	Bid      model.Bid
	Listing  model.Listing
	Extended bool
	// PreviousLeader is the bidder who led before this commit, if any,
	// and PreviousPrice the price they led with.
	PreviousLeader *uint64
	PreviousPrice  decimal.Decimal
}

// Rejection is a typed refusal.  MinBid and CurrentPrice are set
// whenever the listing was read.
type Rejection struct {
	Code         Code
	Message      string
	MinBid       *decimal.Decimal
	CurrentPrice *decimal.Decimal
}

// Result holds exactly one of Accepted or Rejection.
type Result struct {
	Accepted  *Accepted
	Rejection *Rejection
}

// OK reports whether the bid was committed.
func (r Result) OK() bool { return r.Accepted != nil }

func (r Result) outcome() string {
	if r.Accepted != nil {
		return outcomeAccepted
	}
	return string(r.Rejection.Code)
}

func reject(code Code, msg string) Result {
	return Result{Rejection: &Rejection{Code: code, Message: msg}}
}

// rejectAt attaches the listing prices so the client can self-correct.
func rejectAt(code Code, msg string, l model.Listing) Result {
	minBid := l.MinNextBid()
	current := l.CurrentPrice
	return Result{Rejection: &Rejection{Code: code, Message: msg, MinBid: &minBid, CurrentPrice: &current}}
}

func accepted(bid model.Bid, after model.Listing, extended bool, prevLeader *uint64, prevPrice decimal.Decimal) Result {
	return Result{Accepted: &Accepted{
		Bid:            bid,
		Listing:        after,
		Extended:       extended,
		PreviousLeader: prevLeader,
		PreviousPrice:  prevPrice,
	}}
}
