// Package bidding implements the bid commit pipeline: the critical
// section that serializes bids on one listing across every server
// process.
package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/auction-engine/internal/config"
	"github.com/iliyamo/auction-engine/internal/fanout"
	"github.com/iliyamo/auction-engine/internal/lock"
	"github.com/iliyamo/auction-engine/internal/metrics"
	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/repository"
	"github.com/iliyamo/auction-engine/internal/utils"
)

// Listings is the slice of the listing store used under the lock.
type Listings interface {
	GetByID(ctx context.Context, id uint64) (model.Listing, error)
	IsDenied(ctx context.Context, listingID, bidderID uint64) (bool, error)
	CommitBid(ctx context.Context, c repository.BidCommit) (model.Bid, error)
}

// Ratings provides bidder reputation.
type Ratings interface {
	Rating(ctx context.Context, userID uint64) (model.RatingSnapshot, error)
}

// LockKey is the mutex key guarding bids on one listing.
func LockKey(listingID uint64) string {
	return fmt.Sprintf("bid_lock:product:%d", listingID)
}

// Pipeline places bids.  It is safe for concurrent use; the distributed
// mutex is the only thing serializing bids on a listing.
type Pipeline struct {
	listings Listings
	ratings  Ratings
	mutex    *lock.Mutex
	pub      fanout.Publisher
	cfg      config.BidConfig
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New wires a pipeline.  m may be nil.
func New(listings Listings, ratings Ratings, mutex *lock.Mutex, pub fanout.Publisher, cfg config.BidConfig, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		listings: listings,
		ratings:  ratings,
		mutex:    mutex,
		pub:      pub,
		cfg:      cfg,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Place runs one bid attempt to completion.  Once the lock is held the
// attempt ignores cancellation of ctx: it either commits or rejects and
// always releases the lock.
func (p *Pipeline) Place(ctx context.Context, cmd Command) Result {
	res := p.place(ctx, cmd)
	p.metrics.BidOutcome(res.outcome())
	return res
}

func (p *Pipeline) place(ctx context.Context, cmd Command) Result {
	if cmd.ListingID == 0 || cmd.BidderID == 0 || !cmd.Price.IsPositive() {
		return reject(CodeInvalidBid, "listing, bidder and a positive price are required")
	}

	key := LockKey(cmd.ListingID)
	h, err := p.mutex.AcquireWithRetry(ctx, key, p.cfg.LockTTL, p.cfg.LockAttempts, p.cfg.LockBackoff)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.metrics.LockFailed()
			return reject(CodeLockFailed, "bid cancelled while waiting for the listing")
		}
		utils.Error("bid: acquire lock failed", map[string]any{"listing_id": cmd.ListingID, "error": err.Error()})
		return reject(CodeInternal, "internal error, please retry")
	}
	if h == nil {
		p.metrics.LockFailed()
		return reject(CodeLockFailed, "listing is busy, please retry")
	}

	// Bounded by the lease: past the TTL another holder may own the key.
	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.LockTTL)
	defer cancel()

	start := time.Now()
	res := p.critical(work, cmd)
	p.release(work, h)
	p.metrics.ObserveCriticalSection(time.Since(start))

	if res.Accepted != nil {
		p.notifyPersonal(work, res.Accepted)
	}
	return res
}

// critical runs with the lock held.  Listing channel events are
// published here so that watchers see bids in commit order.
func (p *Pipeline) critical(ctx context.Context, cmd Command) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			utils.Error("bid: panic in critical section", map[string]any{
				"listing_id": cmd.ListingID,
				"bidder_id":  cmd.BidderID,
				"panic":      fmt.Sprint(r),
			})
			res = reject(CodeInternal, "internal error, please retry")
		}
	}()

	l, err := p.listings.GetByID(ctx, cmd.ListingID)
	if errors.Is(err, repository.ErrListingNotFound) {
		return reject(CodeNotFound, "listing not found")
	}
	if err != nil {
		return p.internal("reload listing", cmd, err)
	}

	now := p.now()
	if rej, ok := p.validate(ctx, cmd, l, now); !ok {
		return rej
	}

	var newEnd *time.Time
	if l.AutoExtend && l.EndTime.Sub(now) < p.cfg.ExtendThreshold {
		if t := now.Add(p.cfg.ExtendDuration); t.After(l.EndTime) {
			newEnd = &t
		}
	}

	bid, err := p.listings.CommitBid(ctx, repository.BidCommit{
		ListingID:  l.ID,
		BidderID:   cmd.BidderID,
		Price:      cmd.Price,
		IsAuto:     cmd.IsAuto,
		At:         now,
		NewEndTime: newEnd,
	})
	if errors.Is(err, repository.ErrConflict) {
		return rejectAt(CodeNotActive, "auction is no longer active", l)
	}
	if err != nil {
		return p.internal("commit bid", cmd, err)
	}

	var prevLeader *uint64
	if l.HasWinner() && *l.WinnerID != cmd.BidderID {
		id := *l.WinnerID
		prevLeader = &id
	}
	prevPrice := l.CurrentPrice

	after := l
	after.CurrentPrice = cmd.Price
	after.WinnerID = &cmd.BidderID
	after.TotalBids++
	if newEnd != nil {
		after.EndTime = *newEnd
	}

	p.publish(ctx, fanout.ListingChannel(l.ID), fanout.EventNewBid, fanout.NewBidPayload{
		ProductID:    l.ID,
		BidID:        bid.ID,
		BidderID:     cmd.BidderID,
		CurrentPrice: after.CurrentPrice,
		MinBid:       after.MinNextBid(),
		TotalBids:    after.TotalBids,
		BidTime:      bid.CreatedAt,
		EndTime:      after.EndTime,
	})
	if newEnd != nil {
		p.publish(ctx, fanout.ListingChannel(l.ID), fanout.EventAuctionExtended, fanout.AuctionExtendedPayload{
			ProductID:       l.ID,
			NewEndTime:      *newEnd,
			ExtendedMinutes: int(p.cfg.ExtendDuration / time.Minute),
		})
	}

	utils.Info("bid: committed", map[string]any{
		"listing_id": l.ID,
		"bidder_id":  cmd.BidderID,
		"bid_id":     bid.ID,
		"price":      cmd.Price.String(),
		"extended":   newEnd != nil,
	})
	return accepted(bid, after, newEnd != nil, prevLeader, prevPrice)
}

// validate applies the business rules against the freshly read listing.
func (p *Pipeline) validate(ctx context.Context, cmd Command, l model.Listing, now time.Time) (Result, bool) {
	if l.Status != model.ListingActive {
		return rejectAt(CodeNotActive, "auction is not active", l), false
	}
	if !l.EndTime.After(now) {
		return rejectAt(CodeEnded, "auction has ended", l), false
	}
	if l.SellerID == cmd.BidderID {
		return rejectAt(CodeSellerCannotBid, "sellers cannot bid on their own listing", l), false
	}

	denied, err := p.listings.IsDenied(ctx, l.ID, cmd.BidderID)
	if err != nil {
		return p.internal("denylist lookup", cmd, err), false
	}
	if denied {
		return rejectAt(CodeBidderDenied, "you are not allowed to bid on this listing", l), false
	}

	rating, err := p.ratings.Rating(ctx, cmd.BidderID)
	if err != nil {
		return p.internal("rating lookup", cmd, err), false
	}
	if rating.TotalRatings > 0 {
		if rating.PositivePercentage() < p.cfg.MinPositivePct {
			return rejectAt(CodeRatingTooLow,
				fmt.Sprintf("a positive rating of at least %.0f%% is required", p.cfg.MinPositivePct), l), false
		}
	} else if !p.cfg.AllowUnratedBidders {
		return rejectAt(CodeNoRatings, "bidders without ratings cannot bid on this listing", l), false
	}

	if minBid := l.MinNextBid(); cmd.Price.LessThan(minBid) {
		return rejectAt(CodeBidTooLow, "bid must be at least "+minBid.StringFixed(2), l), false
	}
	return Result{}, true
}

func (p *Pipeline) internal(step string, cmd Command, err error) Result {
	utils.Error("bid: "+step+" failed", map[string]any{
		"listing_id": cmd.ListingID,
		"bidder_id":  cmd.BidderID,
		"error":      err.Error(),
	})
	return reject(CodeInternal, "internal error, please retry")
}

func (p *Pipeline) release(ctx context.Context, h *lock.Handle) {
	ok, err := p.mutex.Release(ctx, h)
	if err != nil {
		// The lease still expires on its own.
		utils.Error("bid: release lock failed", map[string]any{"key": h.Key, "error": err.Error()})
		return
	}
	if !ok {
		utils.Warn("bid: lock expired before release", map[string]any{"key": h.Key, "ttl": h.TTL.String()})
	}
}

// notifyPersonal sends the bidder-specific notices after release.
func (p *Pipeline) notifyPersonal(ctx context.Context, a *Accepted) {
	l := a.Listing
	if a.PreviousLeader != nil {
		p.publish(ctx, fanout.UserChannel(*a.PreviousLeader), fanout.EventOutbid, fanout.OutbidPayload{
			ProductID:    l.ID,
			ProductTitle: l.Title,
			YourBid:      a.PreviousPrice,
			NewPrice:     l.CurrentPrice,
			MinBid:       l.MinNextBid(),
		})
	}
	p.publish(ctx, fanout.UserChannel(a.Bid.BidderID), fanout.EventBidSuccess, fanout.BidSuccessPayload{
		ProductID:    l.ID,
		BidID:        a.Bid.ID,
		BidPrice:     a.Bid.BidPrice,
		CurrentPrice: l.CurrentPrice,
		TotalBids:    l.TotalBids,
		Extended:     a.Extended,
		EndTime:      l.EndTime,
	})
}

// publish is best effort: the bid is already committed.
func (p *Pipeline) publish(ctx context.Context, channel, event string, payload any) {
	if err := p.pub.Publish(ctx, channel, event, payload); err != nil {
		utils.Warn("bid: publish failed", map[string]any{
			"channel": channel,
			"event":   event,
			"error":   err.Error(),
		})
	}
}
