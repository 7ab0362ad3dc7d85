// Package ratelimit throttles calls to the drive REST API. Each throttle
// scope owns a token bucket; a 429 from the server empties the bucket and
// can freeze it for the Retry-After period.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rescale/rescale-drive/internal/logging"
)

const (
	slowWaitWarning  = 2 * time.Second
	warnInterval     = 10 * time.Second
	longWaitReported = 5 * time.Second
)

// RateLimiter is a token bucket with an optional cooldown window during
// which no tokens are handed out.
type RateLimiter struct {
	bucket *rate.Limiter
	perSec float64

	mu            sync.Mutex
	cooldownUntil time.Time
	lastWarn      time.Time
	logger        *logging.Logger
}

// NewRateLimiter starts with a full bucket of burstSize tokens that refills
// at tokensPerSecond. Fractional bursts round up; the bucket always holds
// at least one token.
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	burst := int(math.Ceil(burstSize))
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		bucket: rate.NewLimiter(rate.Limit(tokensPerSecond), burst),
		perSec: tokensPerSecond,
		logger: logging.Nop(),
	}
}

func (rl *RateLimiter) SetLogger(l *logging.Logger) {
	rl.mu.Lock()
	rl.logger = logging.OrNop(l)
	rl.mu.Unlock()
}

func (rl *RateLimiter) cooling(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.cooldownUntil.Sub(now)
}

// TryAcquire takes a token if one is available and no cooldown is running.
func (rl *RateLimiter) TryAcquire() bool {
	now := time.Now()
	if rl.cooling(now) > 0 {
		return false
	}
	return rl.bucket.AllowN(now, 1)
}

// TimeUntilNextToken is the longer of the refill time for one token and the
// remaining cooldown.
func (rl *RateLimiter) TimeUntilNextToken() time.Duration {
	now := time.Now()
	var wait time.Duration
	if missing := 1 - rl.bucket.TokensAt(now); missing > 0 && rl.perSec > 0 {
		wait = time.Duration(missing / rl.perSec * float64(time.Second))
	}
	if cd := rl.cooling(now); cd > wait {
		wait = cd
	}
	return wait
}

// Wait blocks until a token is taken or ctx ends, returning ctx.Err() in
// the latter case. Waits longer than a couple of seconds are logged, at
// most once every ten seconds.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.TryAcquire() {
		return nil
	}
	start := time.Now()
	rl.warnIfSlow(rl.TimeUntilNextToken())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rl.TryAcquire() {
			if waited := time.Since(start); waited > longWaitReported {
				rl.log().Info().Dur("waited", waited).Msg("rate limit wait completed")
			}
			return nil
		}

		d := rl.TimeUntilNextToken()
		if d <= 0 {
			d = time.Millisecond
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (rl *RateLimiter) log() *logging.Logger {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.logger
}

func (rl *RateLimiter) warnIfSlow(wait time.Duration) {
	if wait <= slowWaitWarning {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastWarn) <= warnInterval {
		return
	}
	rl.lastWarn = time.Now()
	rl.logger.Warn().Dur("wait", wait).Msg("rate limited, waiting for API capacity")
}

// Drain takes every whole token out of the bucket, so the next request
// waits for a refill.
func (rl *RateLimiter) Drain() {
	now := time.Now()
	if n := int(rl.bucket.TokensAt(now)); n > 0 {
		rl.bucket.AllowN(now, n)
	}
}

// SetCooldown refuses tokens for d. An active cooldown is only ever
// extended, never shortened.
func (rl *RateLimiter) SetCooldown(d time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if until := time.Now().Add(d); until.After(rl.cooldownUntil) {
		rl.cooldownUntil = until
	}
}

func (rl *RateLimiter) CooldownRemaining() time.Duration {
	if d := rl.cooling(time.Now()); d > 0 {
		return d
	}
	return 0
}

// GetCurrentTokens reports the bucket level, mainly for tests.
func (rl *RateLimiter) GetCurrentTokens() float64 {
	return rl.bucket.TokensAt(time.Now())
}
