// Package scheduler runs the periodic auction lifecycle tasks.  Tasks
// may run concurrently on several instances; every write they issue
// repeats its selection predicate so a row already handled by another
// run is left alone.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/auction-engine/internal/config"
	"github.com/iliyamo/auction-engine/internal/fanout"
	"github.com/iliyamo/auction-engine/internal/metrics"
	"github.com/iliyamo/auction-engine/internal/model"
	"github.com/iliyamo/auction-engine/internal/queue"
	"github.com/iliyamo/auction-engine/internal/repository"
	"github.com/iliyamo/auction-engine/internal/utils"
)

// ListingStore is the listing side of the persistent store.
type ListingStore interface {
	ListEndingBetween(ctx context.Context, from, to time.Time) ([]model.Listing, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]model.Listing, error)
	CloseListing(ctx context.Context, l model.Listing, now time.Time) (repository.CloseResult, error)
}

// UserStore covers identity lookups and role housekeeping.
type UserStore interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
	ListExpiredSellerGrants(ctx context.Context, now time.Time) ([]model.User, error)
	DemoteExpiredSeller(ctx context.Context, id uint64, now time.Time) (bool, error)
	ClearExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

// TokenStore prunes refresh tokens.
type TokenStore interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deps are the collaborators shared by every task.
type Deps struct {
	Listings  ListingStore
	Users     UserStore
	Tokens    TokenStore
	Publisher fanout.Publisher
	Mailer    queue.Mailer
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// publish is best effort; a lost notification never undoes a transition.
func (d Deps) publish(ctx context.Context, channel, event string, payload any) {
	if err := d.Publisher.Publish(ctx, channel, event, payload); err != nil {
		utils.Warn("scheduler: publish failed", map[string]any{
			"channel": channel,
			"event":   event,
			"error":   err.Error(),
		})
	}
}

// Task is one lifecycle job.  RunOnce reports how many rows or alerts it
// handled.
type Task interface {
	Name() string
	RunOnce(ctx context.Context) (int, error)
}

type entry struct {
	task  Task
	every time.Duration
}

// Scheduler ticks each task on its own interval.
type Scheduler struct {
	entries map[string]entry
	metrics *metrics.Metrics
}

// New builds the four lifecycle tasks with the intervals of cfg.
func New(d Deps, cfg config.SchedulerConfig) *Scheduler {
	s := &Scheduler{entries: make(map[string]entry), metrics: d.Metrics}
	s.add(NewEndingSoon(d), cfg.EndingSoonEvery)
	s.add(NewCloser(d), cfg.CloserEvery)
	s.add(NewCleanup(d), cfg.CleanupEvery)
	s.add(NewDegradation(d), cfg.DegradationEvery)
	return s
}

func (s *Scheduler) add(t Task, every time.Duration) {
	s.entries[t.Name()] = entry{task: t, every: every}
}

// Names lists the registered tasks in a stable order.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunTask executes one task immediately.
func (s *Scheduler) RunTask(ctx context.Context, name string) (int, error) {
	e, ok := s.entries[name]
	if !ok {
		return 0, fmt.Errorf("scheduler: unknown task %q", name)
	}
	return s.run(ctx, e.task)
}

// Start runs every task on its ticker until ctx is cancelled.  A slow
// run delays the next tick of that task only.
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.Names() {
		e := s.entries[name]
		if e.every <= 0 {
			utils.Warn("scheduler: task disabled", map[string]any{"task": name})
			continue
		}
		g.Go(func() error {
			utils.Info("scheduler: task started", map[string]any{"task": e.task.Name(), "every": e.every.String()})
			t := time.NewTicker(e.every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					_, _ = s.run(ctx, e.task)
				}
			}
		})
	}
	return g.Wait()
}

func (s *Scheduler) run(ctx context.Context, t Task) (int, error) {
	start := time.Now()
	n, err := t.RunOnce(ctx)
	s.metrics.TaskRun(t.Name(), err, n)
	fields := map[string]any{
		"task":     t.Name(),
		"handled":  n,
		"duration": time.Since(start).String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		utils.Error("scheduler: run failed", fields)
		return n, err
	}
	utils.Info("scheduler: run finished", fields)
	return n, nil
}
