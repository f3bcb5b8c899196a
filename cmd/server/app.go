package main

import (
	"context"
	"database/sql"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/auction-engine/internal/config"
	"github.com/iliyamo/auction-engine/internal/database"
	"github.com/iliyamo/auction-engine/internal/fanout"
	"github.com/iliyamo/auction-engine/internal/metrics"
	"github.com/iliyamo/auction-engine/internal/queue"
	"github.com/iliyamo/auction-engine/internal/repository"
	"github.com/iliyamo/auction-engine/internal/scheduler"
	"github.com/iliyamo/auction-engine/internal/utils"
)

// app holds the process wide singletons.  They are created once at
// startup, injected into components and closed on shutdown.
type app struct {
	cfg      config.Config
	db       *sql.DB
	rdb      *redis.Client
	metrics  *metrics.Metrics
	hub      *fanout.Hub
	bus      *fanout.Bus
	listings *repository.ListingRepo
	users    *repository.UserRepo
	tokens   *repository.TokenRepo
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	utils.ConfigureLogger(cfg.LogLevel, nil)

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	hub := fanout.NewHub()
	return &app{
		cfg:      cfg,
		db:       db,
		rdb:      rdb,
		metrics:  metrics.New(),
		hub:      hub,
		bus:      fanout.NewBus(rdb, hub),
		listings: repository.NewListingRepo(db),
		users:    repository.NewUserRepo(db),
		tokens:   repository.NewTokenRepo(db),
	}, nil
}

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Deps{
		Listings:  a.listings,
		Users:     a.users,
		Tokens:    a.tokens,
		Publisher: a.bus,
		Mailer:    queue.NewAMQPMailer(a.cfg.AMQPURL, a.cfg.EmailSendTimeout),
		Metrics:   a.metrics,
	}, a.cfg.Scheduler)
}

func (a *app) Close() error {
	return errors.Join(a.rdb.Close(), a.db.Close())
}
