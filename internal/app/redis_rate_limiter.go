/**
 * @description
 * Redis-backed fixed-window limiter shared by the core service's abusable entry
 * points: two-factor verify/disable attempts (keyed by principal) and payment
 * initiations (keyed by principal, or client address for anonymous donors).
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Counter storage, one key per scope and subject.
 */
package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Increments the attempt counter, starting the window on the first attempt, and
// returns {attempts, remaining window in ms}.
var fixedWindowRateLimitScript = redis.NewScript(`
local attempts = redis.call("INCR", KEYS[1])
if attempts == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  remaining = tonumber(ARGV[1])
end
return {attempts, remaining}
`)

// Scopes partition counters so a donor's payment attempts never consume 2FA attempts.
const (
	rateLimitScopeTwoFactor       = "2fa"
	rateLimitScopePaymentInitiate = "payment_initiate"
)

// RateLimiter counts attempts of a subject (principal id or client address) within a
// scope over a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RedisRateLimiter keeps one counter per scope and subject under a configurable prefix
// (REDIS_RATE_LIMIT_PREFIX). A limiter without a client allows every attempt.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "parivartan:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

// key returns <prefix>:<scope>:<subject>, or false when either part is blank.
func (r *RedisRateLimiter) key(scope, subject string) (string, bool) {
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return "", false
	}
	return r.prefix + ":" + scope + ":" + subject, true
}

// ConsumeRateLimit records one attempt and returns the attempts so far in the window
// and the seconds until the window resets.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	key, ok := r.key(scope, subject)
	if !ok {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	reply, err := fixedWindowRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	if len(reply) != 2 {
		return 0, 0, fmt.Errorf("rate limit %s: unexpected reply length %d", scope, len(reply))
	}

	attempts, remainingMs := reply[0], reply[1]
	if remainingMs < 0 {
		remainingMs = windowMs
	}
	retryAfter := int(math.Ceil(float64(remainingMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(attempts), retryAfter, nil
}

// enforceRateLimit consumes one attempt. Limiter failures fail open.
func enforceRateLimit(ctx context.Context, limiter RateLimiter, scope, subject string, perMinute int) error {
	if limiter == nil || perMinute <= 0 {
		return nil
	}
	count, retryAfter, err := limiter.ConsumeRateLimit(ctx, scope, subject, perMinute, time.Minute)
	if err != nil {
		log.Printf("level=warn component=rate_limiter scope=%s msg=\"rate limiter unavailable; allowing request\" err=%v", scope, err)
		return nil
	}
	if count > perMinute {
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}
