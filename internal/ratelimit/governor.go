// Package ratelimit coordinates upstream throttling across all callers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"optionchain/internal/logging"
	"optionchain/internal/metrics"
	"optionchain/internal/models"
)

// Governor holds one cooldown deadline per scope. Once a throttle is seen,
// every caller in that scope stops issuing historical calls until it expires.
type Governor struct {
	mu     sync.Mutex
	until  map[models.CooldownScope]time.Time
	now    func() time.Time
	logger zerolog.Logger
}

// NewGovernor creates a governor with no active cooldowns.
func NewGovernor(logger zerolog.Logger) *Governor {
	return &Governor{
		until:  make(map[models.CooldownScope]time.Time),
		now:    time.Now,
		logger: logging.WithComponent(logger, "ratelimit"),
	}
}

// Engage starts or extends the cooldown for scope. An earlier deadline never
// shortens an active one.
func (g *Governor) Engage(scope models.CooldownScope, d time.Duration) time.Time {
	g.mu.Lock()
	until := g.now().Add(d)
	if cur, ok := g.until[scope]; ok && cur.After(until) {
		until = cur
	}
	g.until[scope] = until
	g.mu.Unlock()

	metrics.CooldownsEngaged.WithLabelValues(string(scope)).Inc()
	logging.LogCooldown(g.logger, string(scope), until)
	return until
}

// Active reports whether scope is cooling down.
func (g *Governor) Active(scope models.CooldownScope) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.until[scope])
}

// Remaining returns how long the cooldown for scope has left, or zero.
func (g *Governor) Remaining(scope models.CooldownScope) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.until[scope].Sub(g.now())
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot returns every cooldown that is still active.
func (g *Governor) Snapshot() []models.RateLimitCooldown {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var out []models.RateLimitCooldown
	for scope, until := range g.until {
		if now.Before(until) {
			out = append(out, models.RateLimitCooldown{Scope: scope, ActiveUntil: until})
		}
	}
	return out
}

// Limiter paces historical-candle calls shared by every component.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter creates a limiter allowing rps requests per second with burst.
func NewLimiter(name string, rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
	}
}

// Wait blocks until the limiter allows the request or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

// Allow checks if a request is allowed without blocking.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
