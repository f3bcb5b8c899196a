package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/auction-engine/internal/config"
	"github.com/iliyamo/auction-engine/internal/utils"
)

// bidBucketScript takes one token from a continuously refilled bucket.
// Tokens are fractional; the refill rate is rate_per_ms.  On denial it
// returns how long until a whole token is available.
//
//	KEYS[1] bucket key
//	ARGV    now_ms, capacity, rate_per_ms, ttl_ms
//	returns {allowed, whole tokens left, retry_after_ms}
var bidBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local now = tonumber(ARGV[1])

local level = tonumber(redis.call('HGET', KEYS[1], 'level'))
local seen = tonumber(redis.call('HGET', KEYS[1], 'seen_ms'))
if level == nil or seen == nil or now < seen then
	level, seen = capacity, now
end
level = math.min(capacity, level + (now - seen) * rate)

local ok, wait = 0, 0
if level >= 1 then
	ok, level = 1, level - 1
elseif rate > 0 then
	wait = math.ceil((1 - level) / rate)
end

redis.call('HSET', KEYS[1], 'level', tostring(level), 'seen_ms', now)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return { ok, math.floor(level), wait }
`)

// NewTokenBucket throttles bid submissions with a Redis token bucket
// shared by every instance.  By default a bucket belongs to one bidder on
// one listing, so a single client cannot queue up on a listing's lock
// while bids elsewhere stay unaffected.  Redis errors fail open.
func NewTokenBucket(cfg config.RateLimitConfig, rdb redis.UniversalClient) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	// Refill is continuous: RefillTokens spread over RefillInterval.
	intervalMs := cfg.RefillInterval.Milliseconds()
	if intervalMs < 1 {
		intervalMs = 1
	}
	ratePerMs := float64(cfg.RefillTokens) / float64(intervalMs)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := bucketKey(cfg, c)
			vals, err := bidBucketScript.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(),
				cfg.Capacity,
				strconv.FormatFloat(ratePerMs, 'f', -1, 64),
				cfg.TTL.Milliseconds(),
			).Int64Slice()
			if err != nil {
				utils.Warn("ratelimit: bucket unavailable", map[string]any{"key": key, "error": err.Error()})
				return next(c)
			}
			if len(vals) != 3 {
				utils.Warn("ratelimit: unexpected script result", map[string]any{"key": key, "result": fmt.Sprint(vals)})
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(vals[1], 10))
			if vals[0] == 1 {
				return next(c)
			}

			secs := int(math.Ceil(float64(vals[2]) / 1000))
			h.Set("Retry-After", strconv.Itoa(secs))
			utils.Debug("ratelimit: bid throttled", map[string]any{"key": key, "retry_ms": vals[2]})
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too_many_requests",
				"message":     "too many bids, slow down",
				"retry_after": secs,
			})
		}
	}
}

// bucketKey names the bucket for a request.  Strategies: user_listing
// (default), user, ip.
func bucketKey(cfg config.RateLimitConfig, c echo.Context) string {
	switch strings.ToLower(cfg.KeyStrategy) {
	case "user":
		return cfg.Prefix + ":user:" + userKey(c)
	case "ip":
		ip := c.RealIP()
		if ip == "" {
			ip = "unknown"
		}
		return cfg.Prefix + ":ip:" + ip
	default:
		listing := c.Param("id")
		if listing == "" {
			listing = "none"
		}
		return cfg.Prefix + ":listing:" + listing + ":user:" + userKey(c)
	}
}
