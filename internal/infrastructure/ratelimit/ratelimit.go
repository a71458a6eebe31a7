package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// FixedInterval waits a constant delay after every call.
type FixedInterval struct {
	delay time.Duration
}

func NewFixedInterval(delay time.Duration) *FixedInterval {
	return &FixedInterval{delay: delay}
}

func (l *FixedInterval) Wait(ctx context.Context) error {
	if l.delay <= 0 {
		return ctx.Err()
	}
	if !sleepWithContext(ctx, l.delay) {
		return ctx.Err()
	}
	return nil
}

// TokenBucket allows perSecond calls on average with bursts up to burst.
type TokenBucket struct {
	limiter *rate.Limiter
}

func NewTokenBucket(perSecond float64, burst int) (*TokenBucket, error) {
	if perSecond <= 0 {
		return nil, errors.New("token bucket requires a positive rate")
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}, nil
}

func (l *TokenBucket) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisWindow shares a fixed-window quota between every process using the
// same key, so the CRM quota holds across replicas.
type RedisWindow struct {
	client *redis.Client
	key    string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisWindow(client *redis.Client, key string, limit int, window time.Duration) (*RedisWindow, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "contact-import:ratelimit:crm"
	}
	return &RedisWindow{client: client, key: key, limit: limit, window: window, now: time.Now}, nil
}

// Allow reports whether a call fits in the current window.
func (l *RedisWindow) Allow(ctx context.Context) (bool, error) {
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%d", l.key, slot)
	count, err := fixedWindowScript.Run(ctx, l.client, []string{key}, windowMs).Int64()
	if err != nil {
		return false, err
	}
	return count <= int64(l.limit), nil
}

// Wait blocks until the window admits a call. Redis errors are returned to
// the caller instead of admitting the call.
func (l *RedisWindow) Wait(ctx context.Context) error {
	for {
		ok, err := l.Allow(ctx)
		if err != nil {
			return fmt.Errorf("redis rate limit: %w", err)
		}
		if ok {
			return nil
		}
		windowMs := l.window.Milliseconds()
		elapsed := l.now().UTC().UnixMilli() % windowMs
		if !sleepWithContext(ctx, time.Duration(windowMs-elapsed)*time.Millisecond) {
			return ctx.Err()
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
