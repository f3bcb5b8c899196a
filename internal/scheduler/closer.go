package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/auction-engine/internal/fanout"
	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/queue"
	"github.com/iliyamo/auction-engine/internal/utils"
)

// closeBatch caps how many listings one run closes.  The rest are picked
// up by the next tick.
const closeBatch = 500

// Closer completes expired listings and settles those with a winner.
type Closer struct{ Deps }

func NewCloser(d Deps) *Closer { return &Closer{d} }

func (*Closer) Name() string { return "closer" }

// RunOnce closes every expired active listing it can.  One listing
// failing does not stop the others.
func (t *Closer) RunOnce(ctx context.Context) (int, error) {
	now := t.now()
	listings, err := t.Listings.ListExpiredActive(ctx, now, closeBatch)
	if err != nil {
		return 0, err
	}
	closed := 0
	var errs []error
	for _, l := range listings {
		res, err := t.Listings.CloseListing(ctx, l, now)
		if err != nil {
			utils.Error("closer: close listing failed", map[string]any{"listing_id": l.ID, "error": err.Error()})
			errs = append(errs, err)
			continue
		}
		if !res.Closed {
			// Another run got there first.
			continue
		}
		closed++
		// The snapshot may predate a late bid; settle on the closed row.
		l = res.Listing
		var orderID uint64
		if res.Order != nil {
			orderID = res.Order.ID
		}
		utils.Info("closer: listing completed", map[string]any{
			"listing_id": l.ID,
			"winner":     l.HasWinner(),
			"order_id":   orderID,
		})
		if l.HasWinner() {
			t.settled(ctx, l, orderID, now)
		} else {
			t.unsold(ctx, l, now)
		}
	}
	return closed, errors.Join(errs...)
}

func (t *Closer) settled(ctx context.Context, l model.Listing, orderID uint64, now time.Time) {
	price := l.CurrentPrice
	winner := *l.WinnerID
	payload := fanout.AuctionEndedPayload{
		ProductID:    l.ID,
		ProductTitle: l.Title,
		FinalPrice:   &price,
		WinnerID:     &winner,
	}
	if orderID != 0 {
		payload.OrderID = &orderID
	}

	won := payload
	won.Result = fanout.ResultWon
	t.publish(ctx, fanout.UserChannel(winner), fanout.EventAuctionEnded, won)

	sold := payload
	sold.Result = fanout.ResultSold
	t.publish(ctx, fanout.UserChannel(l.SellerID), fanout.EventAuctionEnded, sold)

	watchers := payload
	watchers.Result = fanout.ResultClosed
	watchers.OrderID = nil
	t.publish(ctx, fanout.ListingChannel(l.ID), fanout.EventAuctionEnded, watchers)

	data := queue.EmailData{
		ProductID:    l.ID,
		ProductTitle: l.Title,
		FinalPrice:   price,
		OrderID:      orderID,
		EndedAt:      now.Format(time.RFC3339),
	}
	t.email(ctx, winner, queue.TemplateAuctionWon, data)
	t.email(ctx, l.SellerID, queue.TemplateAuctionSold, data)
}

func (t *Closer) unsold(ctx context.Context, l model.Listing, now time.Time) {
	t.publish(ctx, fanout.UserChannel(l.SellerID), fanout.EventAuctionEnded, fanout.AuctionEndedPayload{
		ProductID:    l.ID,
		ProductTitle: l.Title,
		Result:       fanout.ResultNoWinner,
	})
	t.email(ctx, l.SellerID, queue.TemplateAuctionNoWinner, queue.EmailData{
		ProductID:    l.ID,
		ProductTitle: l.Title,
		EndedAt:      now.Format(time.RFC3339),
	})
}

// email is best effort: the listing is already completed.
func (t *Closer) email(ctx context.Context, userID uint64, template string, data queue.EmailData) {
	if t.Mailer == nil {
		return
	}
	u, err := t.Users.GetByID(ctx, userID)
	if err != nil {
		utils.Warn("closer: email recipient lookup failed", map[string]any{"user_id": userID, "error": err.Error()})
		return
	}
	data.RecipientName = u.FullName
	if err := t.Mailer.Send(ctx, u.Email, template, data); err != nil {
		utils.Warn("closer: email not queued", map[string]any{
			"user_id":  userID,
			"template": template,
			"error":    err.Error(),
		})
	}
}
