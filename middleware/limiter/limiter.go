package limiter

import (
	"fmt"

	"github.com/sweetpotato0/regulatory-rag/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter blocks each stage until a token is available.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter admitting perSecond stage calls with the given burst.
// A non-positive rate disables limiting.
func New(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// NewWithLimiter shares an existing limiter, e.g. across orchestrators.
func NewWithLimiter(l *rate.Limiter) *RateLimiter {
	return &RateLimiter{limiter: l}
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Execute waits for a token. Waiting honours cancellation and deadlines of
// the stage context.
func (m *RateLimiter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if err := m.limiter.Wait(ctx.Context()); err != nil {
		return fmt.Errorf("%w: stage %s: %w", middleware.ErrRateLimitExceeded, ctx.Stage, err)
	}
	return next(ctx)
}

// Tokens returns the currently available tokens.
func (m *RateLimiter) Tokens() float64 {
	return m.limiter.Tokens()
}
