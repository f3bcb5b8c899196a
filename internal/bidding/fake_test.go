package bidding

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/repository"
)

// memStore mimics the SQL semantics of ListingRepo and UserRepo.
type memStore struct {
	mu       sync.Mutex
	listings map[uint64]model.Listing
	denied   map[[2]uint64]bool
	ratings  map[uint64]model.RatingSnapshot
	bids     []model.Bid
	// readDelay widens the read-modify-write window so that a missing
	// lock shows up as lost updates.
	readDelay time.Duration
	getErr    error
	onGet     func()
}

func newMemStore(listings ...model.Listing) *memStore {
	s := &memStore{
		listings: make(map[uint64]model.Listing),
		denied:   make(map[[2]uint64]bool),
		ratings:  make(map[uint64]model.RatingSnapshot),
	}
	for _, l := range listings {
		s.listings[l.ID] = l
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id uint64) (model.Listing, error) {
	if s.onGet != nil {
		s.onGet()
	}
	if s.getErr != nil {
		return model.Listing{}, s.getErr
	}
	s.mu.Lock()
	l, ok := s.listings[id]
	s.mu.Unlock()
	if s.readDelay > 0 {
		time.Sleep(s.readDelay)
	}
	if !ok {
		return model.Listing{}, repository.ErrListingNotFound
	}
	return l, nil
}

func (s *memStore) IsDenied(_ context.Context, listingID, bidderID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.denied[[2]uint64{listingID, bidderID}], nil
}

func (s *memStore) CommitBid(_ context.Context, c repository.BidCommit) (model.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[c.ListingID]
	if !ok || l.Status != model.ListingActive || !l.EndTime.After(c.At) {
		return model.Bid{}, repository.ErrConflict
	}
	b := model.Bid{
		ID:        uint64(len(s.bids) + 1),
		ListingID: c.ListingID,
		BidderID:  c.BidderID,
		BidPrice:  c.Price,
		IsAuto:    c.IsAuto,
		CreatedAt: c.At,
	}
	s.bids = append(s.bids, b)
	l.CurrentPrice = c.Price
	bidder := c.BidderID
	l.WinnerID = &bidder
	l.TotalBids++
	if c.NewEndTime != nil && c.NewEndTime.After(l.EndTime) {
		l.EndTime = *c.NewEndTime
	}
	s.listings[l.ID] = l
	return b, nil
}

func (s *memStore) Rating(_ context.Context, id uint64) (model.RatingSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratings[id], nil
}

func (s *memStore) listing(id uint64) model.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings[id]
}

type published struct {
	Channel string
	Event   string
	Payload any
}

// recordingPublisher keeps every publish in order.
type recordingPublisher struct {
	mu  sync.Mutex
	out []published
}

func (r *recordingPublisher) Publish(_ context.Context, channel, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, published{channel, event, payload})
	return nil
}

func (r *recordingPublisher) events(channel string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.out {
		if p.Channel == channel {
			out = append(out, p)
		}
	}
	return out
}
