package dispatch

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BreakerConfig controls when an unhealthy dispatcher is short-circuited
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker (0 = 5)
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open (0 = 30s)
	OpenTimeout time.Duration
}

// Breaker stops hammering a dispatcher that keeps failing. While open every
// call fails fast with gobreaker.ErrOpenState, which the scheduler treats
// like any other per-occurrence failure.
type Breaker struct {
	next Dispatcher
	cb   *gobreaker.CircuitBreaker[Handle]
}

// NewBreaker wraps next with a circuit breaker
func NewBreaker(next Dispatcher, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "dispatcher",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Dispatcher breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[Handle](settings),
	}
}

func (b *Breaker) Schedule(ctx context.Context, content Content, triggerAt time.Time) (Handle, error) {
	return b.cb.Execute(func() (Handle, error) {
		return b.next.Schedule(ctx, content, triggerAt)
	})
}

func (b *Breaker) Cancel(ctx context.Context, handle Handle) error {
	_, err := b.cb.Execute(func() (Handle, error) {
		return handle, b.next.Cancel(ctx, handle)
	})
	return err
}

// State exposes the breaker state for health reporting
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// RateLimited paces calls to a dispatcher that enforces request quotas
type RateLimited struct {
	next    Dispatcher
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute calls with the given burst. perMinute <= 0
// disables limiting.
func NewRateLimited(next Dispatcher, perMinute, burst int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (r *RateLimited) Schedule(ctx context.Context, content Content, triggerAt time.Time) (Handle, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.Schedule(ctx, content, triggerAt)
}

func (r *RateLimited) Cancel(ctx context.Context, handle Handle) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Cancel(ctx, handle)
}
