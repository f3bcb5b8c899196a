package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/repository"
)

// memDB applies the same predicates as the SQL repositories.
type memDB struct {
	mu       sync.Mutex
	listings map[uint64]model.Listing
	orders   map[uint64]model.Order // by listing
	autoBids map[uint64]bool        // listing -> has active auto bid
	users    map[uint64]model.User
	otps     int64
	tokens   []time.Time
	failList error
	// beforeClose runs under the lock before CloseListing evaluates its
	// predicate, standing in for a write that lands after selection.
	beforeClose func(*model.Listing)
}

func newMemDB() *memDB {
	return &memDB{
		listings: make(map[uint64]model.Listing),
		orders:   make(map[uint64]model.Order),
		autoBids: make(map[uint64]bool),
		users:    make(map[uint64]model.User),
	}
}

func (m *memDB) ListEndingBetween(_ context.Context, from, to time.Time) ([]model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Listing
	for _, l := range m.listings {
		if l.Status == model.ListingActive && !l.EndTime.Before(from) && !l.EndTime.After(to) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memDB) ListExpiredActive(_ context.Context, now time.Time, _ int) ([]model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	var out []model.Listing
	for _, l := range m.listings {
		if l.Status == model.ListingActive && !l.EndTime.After(now) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memDB) CloseListing(_ context.Context, l model.Listing, now time.Time) (repository.CloseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.listings[l.ID]
	if m.beforeClose != nil {
		m.beforeClose(&cur)
		m.listings[l.ID] = cur
	}
	if cur.Status != model.ListingActive || cur.EndTime.After(now) {
		return repository.CloseResult{}, nil
	}
	cur.Status = model.ListingCompleted
	m.listings[l.ID] = cur
	delete(m.autoBids, l.ID)

	res := repository.CloseResult{Closed: true, Listing: cur}
	if cur.HasWinner() {
		if _, dup := m.orders[l.ID]; !dup {
			o := model.Order{
				ID:         uint64(len(m.orders) + 1),
				ListingID:  cur.ID,
				BuyerID:    *cur.WinnerID,
				SellerID:   cur.SellerID,
				FinalPrice: cur.CurrentPrice,
				Status:     model.OrderPending,
				CreatedAt:  now,
			}
			m.orders[l.ID] = o
			res.Order = &o
		}
	}
	return res, nil
}

func (m *memDB) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (m *memDB) ListExpiredSellerGrants(_ context.Context, now time.Time) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for _, u := range m.users {
		if u.Role == model.RoleSeller && u.SellerExpiresAt != nil && !u.SellerExpiresAt.After(now) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memDB) DemoteExpiredSeller(_ context.Context, id uint64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	if u.Role != model.RoleSeller || u.SellerExpiresAt == nil || u.SellerExpiresAt.After(now) {
		return false, nil
	}
	u.Role = model.RoleBidder
	u.SellerExpiresAt = nil
	m.users[id] = u
	return true, nil
}

func (m *memDB) ClearExpiredOTPs(context.Context, time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.otps
	m.otps = 0
	return n, nil
}

func (m *memDB) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.tokens[:0]
	var n int64
	for _, c := range m.tokens {
		if c.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	m.tokens = kept
	return n, nil
}

type sent struct {
	Channel string
	Event   string
	Payload any
}

type recorder struct {
	mu  sync.Mutex
	out []sent
}

func (r *recorder) Publish(_ context.Context, channel, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, sent{channel, event, payload})
	return nil
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.out...)
}
