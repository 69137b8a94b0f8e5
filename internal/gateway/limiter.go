package gateway

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/rosflight/rosplane2/internal/metrics"
)

// RateLimiter throttles calls to the parameter service. The service lives on
// the flight computer; it must not be hammered while the optimizer iterates.
type RateLimiter struct {
	lim *rate.Limiter
	op  string
}

// NewRateLimiter allows rps requests per second with a burst capacity of
// burst tokens.
func NewRateLimiter(rps float64, burst int, op string) *RateLimiter {
	return &RateLimiter{
		lim: rate.NewLimiter(rate.Limit(rps), burst),
		op:  op,
	}
}

// wait consumes one token, blocking until one is available or ctx is done.
func (l *RateLimiter) wait(ctx context.Context) error {
	if l.lim.Tokens() < 1 {
		metrics.GatewayRateLimitWaits.WithLabelValues(l.op).Inc()
	}
	if err := l.lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}
