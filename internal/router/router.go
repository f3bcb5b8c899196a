package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/auction-engine/internal/config"
	"github.com/iliyamo/auction-engine/internal/handler"
	"github.com/iliyamo/auction-engine/internal/middleware"
)

// Deps carries everything the routes need.  Metrics and Ready may be nil.
type Deps struct {
	JWTSecret string
	RateLimit config.RateLimitConfig
	Redis     redis.UniversalClient
	Users     middleware.UserSource
	Bids      *handler.BidHandler
	Me        *handler.MeHandler
	Socket    echo.HandlerFunc
	Metrics   http.Handler
	Ready     map[string]handler.Check
}

// RegisterRoutes registers routes that do not require authentication:
// health, readiness and the prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.Ready != nil {
		e.GET("/readyz", handler.Ready(d.Ready))
	}
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
}

// RegisterRealtime mounts the websocket endpoint.  The connection gate
// inside the handler authenticates before the upgrade.
func RegisterRealtime(e *echo.Echo, d Deps) {
	e.GET("/ws", d.Socket)
}

// RegisterBidding registers the bid routes.  Reading the history only
// needs a token; placing a bid also requires an active bidder or seller
// account as currently stored, and goes through the rate limiter.
func RegisterBidding(e *echo.Echo, d Deps) {
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(d.JWTSecret))

	auth.GET("/listings/:id/bids", d.Bids.ListBids)
	auth.GET("/me", d.Me.Me, middleware.RequireRole(d.Users))
	auth.POST("/listings/:id/bids", d.Bids.PlaceBid,
		middleware.RequireRole(d.Users, "bidder", "seller"),
		middleware.NewTokenBucket(d.RateLimit, d.Redis),
	)
}
