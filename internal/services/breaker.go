package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"perspective-engine/backend/pkg/models"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32 = 5
	defaultOpenTimeout        = 30 * time.Second
	defaultInterval           = 60 * time.Second
)

// BreakerSettings configures BreakerReasoner. Zero values fall back to defaults.
type BreakerSettings struct {
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration
	// Interval clears the failure counts while the circuit is closed.
	Interval time.Duration
}

// BreakerReasoner wraps a Reasoner with a circuit breaker. Once the inner
// reasoner keeps failing, calls fail fast until the open timeout passes.
// It never retries.
type BreakerReasoner struct {
	inner   Reasoner
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreakerReasoner wraps inner.
func NewBreakerReasoner(name string, inner Reasoner, settings BreakerSettings, logger Logger) *BreakerReasoner {
	maxFailures := settings.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := settings.Timeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := settings.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "reasoner:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// a cancelled caller says nothing about the reasoner's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerReasoner{inner: inner, breaker: cb}
}

// Run routes the call through the circuit breaker.
func (b *BreakerReasoner) Run(ctx context.Context, model string, messages []models.Message) (string, error) {
	out, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Run(ctx, model, messages)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("reasoner circuit open: %w", err)
	}
	return out, err
}

// State returns the current breaker state.
func (b *BreakerReasoner) State() gobreaker.State {
	return b.breaker.State()
}

var _ Reasoner = (*BreakerReasoner)(nil)
