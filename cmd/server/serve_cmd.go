package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/auction-engine/internal/bidding"
	"github.com/iliyamo/auction-engine/internal/coord"
	"github.com/iliyamo/auction-engine/internal/handler"
	"github.com/iliyamo/auction-engine/internal/lock"
	"github.com/iliyamo/auction-engine/internal/realtime"
	"github.com/iliyamo/auction-engine/internal/router"
	"github.com/iliyamo/auction-engine/internal/utils"
)

func newServeCommand() *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, a.cfg.Scheduler.Enabled && !noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run lifecycle tasks in this process")
	return cmd
}

func serve(ctx context.Context, a *app, withScheduler bool) error {
	pipeline := bidding.New(a.listings, a.users, lock.New(coord.NewRedisStore(a.rdb)), a.bus, a.cfg.Bid, a.metrics)
	socket := realtime.NewServer(realtime.NewGate(a.cfg.JWTSecret, a.users), a.hub, pipeline, a.metrics)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	deps := router.Deps{
		JWTSecret: a.cfg.JWTSecret,
		RateLimit: a.cfg.RateLimit,
		Redis:     a.rdb,
		Users:     a.users,
		Bids:      handler.NewBidHandler(pipeline, a.listings),
		Me:        handler.NewMeHandler(a.users),
		Socket:    socket.Handle,
		Metrics:   a.metrics.Handler(),
		Ready: map[string]handler.Check{
			"mysql": a.db.PingContext,
			"redis": func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() },
		},
	}
	router.RegisterRoutes(e, deps)
	router.RegisterRealtime(e, deps)
	router.RegisterBidding(e, deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.bus.Run(ctx, nil) })
	if withScheduler {
		sched := a.scheduler()
		g.Go(func() error { return sched.Start(ctx) })
	}
	g.Go(func() error {
		addr := ":" + a.cfg.Port
		utils.Info("listening", map[string]any{"addr": addr, "env": a.cfg.Env, "scheduler": withScheduler})
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
