// Package lock implements a named distributed mutex on top of a
// coordination store.  Locks are leases: the TTL bounds how long a
// crashed holder can block others.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/auction-engine/internal/coord"
)

// ErrNilHandle is returned when Release or Extend receive no handle.
var ErrNilHandle = errors.New("lock: nil handle")

// Handle identifies one successful acquisition.  Only the holder of the
// token can release or extend the lock.
type Handle struct {
	Key   string
	Token string
	TTL   time.Duration
}

// Mutex hands out leases on arbitrary keys.
type Mutex struct {
	store coord.Store
	// sleep is swapped in tests; it must return early when ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Mutex backed by store.
func New(store coord.Store) *Mutex {
	return &Mutex{store: store, sleep: sleepCtx}
}

// newToken builds a globally unique owner value: wall clock nanos plus a
// random UUID so tokens never collide across processes.
func newToken() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
}

// Acquire makes one attempt to take key for ttl.  It returns a nil
// handle and nil error when another holder owns the key.  It never blocks.
func (m *Mutex) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	token := newToken()
	ok, err := m.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Handle{Key: key, Token: token, TTL: ttl}, nil
}

// AcquireWithRetry calls Acquire up to attempts times, sleeping backoff
// between attempts.  A contended key yields a nil handle once attempts
// are exhausted so losing bidders fail fast instead of queuing.
func (m *Mutex) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, attempts int, backoff time.Duration) (*Handle, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		h, err := m.Acquire(ctx, key, ttl)
		if err != nil || h != nil {
			return h, err
		}
		if i == attempts-1 {
			break
		}
		if err := m.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Release deletes the lock if it is still owned by h.  A lock that
// expired and was taken over by another holder is left untouched and
// Release reports false.
func (m *Mutex) Release(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return false, ErrNilHandle
	}
	ok, err := m.store.CompareAndDelete(ctx, h.Key, h.Token)
	if err != nil {
		return false, fmt.Errorf("lock: release %s: %w", h.Key, err)
	}
	return ok, nil
}

// Extend adds extra to the remaining lease while h still owns the lock.
func (m *Mutex) Extend(ctx context.Context, h *Handle, extra time.Duration) (bool, error) {
	if h == nil {
		return false, ErrNilHandle
	}
	ok, err := m.store.CompareAndExtend(ctx, h.Key, h.Token, extra)
	if err != nil {
		return false, fmt.Errorf("lock: extend %s: %w", h.Key, err)
	}
	if ok {
		h.TTL += extra
	}
	return ok, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
