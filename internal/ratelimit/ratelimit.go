// Package ratelimit provides Redis-based rate limiting for room creation and joins
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrRateLimited is returned when a rate limit is exceeded
var ErrRateLimited = errors.New("rate limit exceeded")

// Limit is a fixed window allowance for one action
type Limit struct {
	Requests int
	Window   time.Duration
}

// Limiter provides rate limiting functionality using Redis
type Limiter struct {
	redis  *redis.Client
	limits map[string]Limit
	log    *logrus.Entry
}

// NewLimiter creates a new rate limiter. Actions without a limit, and every
// action while Redis is unavailable, are allowed.
func NewLimiter(redis *redis.Client, limits map[string]Limit) *Limiter {
	return &Limiter{
		redis:  redis,
		limits: limits,
		log:    logrus.WithField("component", "ratelimit"),
	}
}

// PerMinute is shorthand for a one minute window. Zero disables the limit.
func PerMinute(n int) Limit {
	return Limit{Requests: n, Window: time.Minute}
}

// Allow counts one attempt of action by key and returns ErrRateLimited once
// the window's allowance is used up.
func (l *Limiter) Allow(ctx context.Context, action, key string) error {
	if l == nil || l.redis == nil {
		// If Redis is unavailable, allow the request (fail-open for availability)
		return nil
	}

	limit, ok := l.limits[action]
	if !ok || limit.Requests <= 0 {
		return nil
	}

	if err := l.checkLimit(ctx, Key(action, key), limit.Requests, limit.Window); err != nil {
		l.log.WithFields(logrus.Fields{
			"action": action,
			"key":    key,
		}).Info("Rate limit exceeded")
		return err
	}
	return nil
}

// Key is the Redis counter key for action by key.
func Key(action, key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, key)
}

// checkLimit performs the actual rate limit check using Redis INCR
func (l *Limiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) error {
	// Use INCR to atomically increment the counter
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		// Fail-open on Redis errors to maintain availability
		l.log.WithError(err).Debug("Rate limit check failed, allowing")
		return nil
	}

	// If this is the first request, set the expiry
	if count == 1 {
		l.redis.Expire(ctx, key, window)
	}

	if int(count) > limit {
		return ErrRateLimited
	}

	return nil
}
