// Package ratelimit implements a Redis-backed token bucket so every process
// using the same marketplace API key shares one request budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rewired-gh/repricer/internal/logger"
	"github.com/rewired-gh/repricer/internal/metrics"
)

// ErrRateLimitTimeout is returned when ctx ends before a token was granted.
var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

const defaultKey = "repricer:ratelimit:default"

// takeTokens refills the bucket for the elapsed time and takes ARGV[4]
// tokens if it can. It returns {granted, wait_ms}.
const takeTokens = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now

tokens = math.min(burst, tokens + math.max(0, now - last) * rate / 1000.0)

local granted = 0
local wait_ms = 0
if tokens >= cost then
  tokens = tokens - cost
  granted = 1
else
  wait_ms = math.ceil((cost - tokens) * 1000.0 / rate)
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], math.ceil(burst * 2000.0 / rate))
return {granted, wait_ms}
`

// RateLimiter is a token bucket stored in a Redis hash. Each marketplace
// endpoint costs one token unless SetCost says otherwise.
type RateLimiter struct {
	rdb    *redis.Client
	key    string
	rate   float64
	burst  float64
	costs  map[string]float64
	script *redis.Script
}

// New creates a limiter refilling rate tokens per second up to burst.
// A non-positive rate or burst disables limiting.
func New(rdb *redis.Client, key string, rate, burst float64) *RateLimiter {
	if key == "" {
		key = defaultKey
	}
	return &RateLimiter{
		rdb:    rdb,
		key:    key,
		rate:   rate,
		burst:  burst,
		costs:  make(map[string]float64),
		script: redis.NewScript(takeTokens),
	}
}

// SetCost makes requests to endpoint take cost tokens. Price submissions are
// what the marketplace throttles hardest, so they are usually the ones
// weighted above 1. Costs above the burst are capped at the burst.
func (r *RateLimiter) SetCost(endpoint string, cost float64) {
	if cost <= 0 {
		delete(r.costs, endpoint)
		return
	}
	r.costs[endpoint] = cost
}

func (r *RateLimiter) cost(endpoint string) float64 {
	c, ok := r.costs[endpoint]
	if !ok {
		c = 1
	}
	if c > r.burst {
		c = r.burst
	}
	return c
}

// Acquire blocks until the tokens for endpoint are granted or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context, endpoint string) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return nil
	}

	cost := r.cost(endpoint)
	start := time.Now()
	throttled := false
	for {
		granted, wait, err := r.take(ctx, cost)
		if err != nil {
			return err
		}
		if granted {
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			if throttled {
				logger.Debug("Rate limit released %s after %v", endpoint, time.Since(start))
			}
			return nil
		}

		if !throttled {
			logger.Debug("Rate limit reached for %s (cost %.1f), waiting %v", endpoint, cost, wait)
			throttled = true
		}
		wait += time.Duration(rand.Int63n(int64(10 * time.Millisecond)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			metrics.RateLimitTimeoutTotal.Inc()
			logger.Warn("Gave up waiting for rate limit on %s after %v", endpoint, time.Since(start))
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

func (r *RateLimiter) take(ctx context.Context, cost float64) (bool, time.Duration, error) {
	res, err := r.script.Run(ctx, r.rdb, []string{r.key}, r.rate, r.burst, time.Now().UnixMilli(), cost).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}

	wait := time.Duration(res[1]) * time.Millisecond
	if wait <= 0 {
		wait = 50 * time.Millisecond
	}
	return res[0] == 1, wait, nil
}
