package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// Health is a simple health-check endpoint used by load balancers and
// monitoring systems to verify that the service is running.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Check pings one dependency.
type Check func(ctx context.Context) error

// Ready returns a handler that runs every check with a short timeout and
// answers 503 when any of them fails.  The bid path cannot work without
// MySQL and Redis, so both are expected here.
func Ready(checks map[string]Check) echo.HandlerFunc {
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := make(map[string]string, len(checks))
		for _, n := range names {
			if err := checks[n](ctx); err != nil {
				out[n] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			out[n] = "ok"
		}
		return c.JSON(status, out)
	}
}
