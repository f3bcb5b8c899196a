package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/auction-engine/internal/bidding"
	"github.com/iliyamo/auction-engine/internal/middleware"
	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/repository"
)

// Placer runs bids through the commit pipeline.
type Placer interface {
	Place(ctx context.Context, cmd bidding.Command) bidding.Result
}

// BidHistory reads listings and their ranked bids.
type BidHistory interface {
	GetByID(ctx context.Context, id uint64) (model.Listing, error)
	ListRankedBids(ctx context.Context, listingID uint64, limit int) ([]model.Bid, error)
}

// BidHandler exposes the bid pipeline over HTTP for clients that do not
// hold a websocket.  Both surfaces share the same pipeline, so a bid
// placed here is broadcast to watchers like any other.
type BidHandler struct {
	Bids    Placer
	History BidHistory
}

func NewBidHandler(bids Placer, history BidHistory) *BidHandler {
	if bids == nil || history == nil {
		panic("nil dependency passed to NewBidHandler")
	}
	return &BidHandler{Bids: bids, History: history}
}

type bidResponse struct {
	ID        uint64          `json:"id"`
	ListingID uint64          `json:"listing_id"`
	BidderID  uint64          `json:"bidder_id"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	IsAuto    bool            `json:"is_auto"`
	CreatedAt time.Time       `json:"created_at"`
}

func toBidResponse(b model.Bid) bidResponse {
	return bidResponse{
		ID:        b.ID,
		ListingID: b.ListingID,
		BidderID:  b.BidderID,
		BidPrice:  b.BidPrice,
		IsAuto:    b.IsAuto,
		CreatedAt: b.CreatedAt,
	}
}

// rejectionStatus maps a pipeline code to an HTTP status.
func rejectionStatus(code bidding.Code) int {
	switch code {
	case bidding.CodeInvalidBid:
		return http.StatusBadRequest
	case bidding.CodeNotFound:
		return http.StatusNotFound
	case bidding.CodeLockFailed, bidding.CodeNotActive, bidding.CodeEnded:
		return http.StatusConflict
	case bidding.CodeSellerCannotBid, bidding.CodeBidderDenied, bidding.CodeRatingTooLow, bidding.CodeNoRatings:
		return http.StatusForbidden
	case bidding.CodeBidTooLow:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// PlaceBid handles POST /v1/listings/:id/bids.  The body is
// {"bid_price": "1050000"}; the bidder is the authenticated user.
// Rejections carry the stable code and, when known, min_bid and
// current_price so the client can correct the bid.
func (h *BidHandler) PlaceBid(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	listingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || listingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid listing id"})
	}
	var body struct {
		BidPrice decimal.Decimal `json:"bid_price"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	res := h.Bids.Place(c.Request().Context(), bidding.Command{
		ListingID: listingID,
		BidderID:  userID,
		Price:     body.BidPrice,
	})
	if r := res.Rejection; r != nil {
		out := echo.Map{"error": string(r.Code), "message": r.Message, "retryable": r.Code.Retryable()}
		if r.MinBid != nil {
			out["min_bid"] = *r.MinBid
		}
		if r.CurrentPrice != nil {
			out["current_price"] = *r.CurrentPrice
		}
		return c.JSON(rejectionStatus(r.Code), out)
	}

	a := res.Accepted
	return c.JSON(http.StatusCreated, echo.Map{
		"bid":           toBidResponse(a.Bid),
		"current_price": a.Listing.CurrentPrice,
		"min_bid":       a.Listing.MinNextBid(),
		"total_bids":    a.Listing.TotalBids,
		"end_time":      a.Listing.EndTime,
		"extended":      a.Extended,
	})
}

// ListBids handles GET /v1/listings/:id/bids?limit=N and returns the
// ranked bid history, highest first.
func (h *BidHandler) ListBids(c echo.Context) error {
	listingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || listingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid listing id"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx := c.Request().Context()
	l, err := h.History.GetByID(ctx, listingID)
	if errors.Is(err, repository.ErrListingNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	bids, err := h.History.ListRankedBids(ctx, listingID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	items := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		items = append(items, toBidResponse(b))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"listing_id":    l.ID,
		"status":        l.Status,
		"current_price": l.CurrentPrice,
		"min_bid":       l.MinNextBid(),
		"total_bids":    l.TotalBids,
		"end_time":      l.EndTime,
		"items":         items,
	})
}
