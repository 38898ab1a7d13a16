package workflow

import (
	"context"
	"time"

	"perspective-engine/backend/pkg/models"
)

// StatusSource reports instance snapshots. Registry and the HTTP client
// both satisfy it.
type StatusSource interface {
	Status(ctx context.Context, id string) (*models.Instance, error)
}

// Poller waits for instances to reach a terminal state.
type Poller struct {
	source      StatusSource
	maxAttempts int
	interval    time.Duration
}

// NewPoller creates a Poller making at most maxAttempts status queries,
// interval apart.
func NewPoller(source StatusSource, maxAttempts int, interval time.Duration) *Poller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Poller{source: source, maxAttempts: maxAttempts, interval: interval}
}

// Await returns the output of a terminated instance, ErrWorkflowFailed for an
// errored one and ErrPollTimeout when the attempts run out. It never changes
// the instance.
func (p *Poller) Await(ctx context.Context, id string) (string, error) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		inst, err := p.source.Status(ctx, id)
		if err != nil {
			return "", err
		}
		switch inst.Status {
		case models.StatusTerminated:
			return inst.Output, nil
		case models.StatusErrored:
			return "", ErrWorkflowFailed
		}

		if attempt >= p.maxAttempts {
			return "", ErrPollTimeout
		}

		timer.Reset(p.interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
