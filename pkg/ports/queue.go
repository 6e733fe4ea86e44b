package ports

import (
	"context"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
)

// Delivery is one claimed work item.
type Delivery struct {
	ID      string          `json:"id"`
	Kind    domain.WorkKind `json:"kind"`
	Run     domain.Run      `json:"run"`
	Attempt int             `json:"attempt"`
}

// Queue delivers step work items at least once.
type Queue interface {
	// Enqueue schedules run for the worker of the given kind after delay and
	// returns an opaque work id.
	Enqueue(ctx context.Context, kind domain.WorkKind, run domain.Run, delay time.Duration) (string, error)

	// Claim blocks until a due work item is available or ctx is done.
	// A claimed item is invisible to other consumers until it is acked, nacked
	// or its visibility timeout expires.
	Claim(ctx context.Context) (*Delivery, error)

	// Ack removes a handled delivery.
	Ack(ctx context.Context, d *Delivery) error

	// Nack reports a failed delivery. The queue retries it with backoff until its
	// attempt budget is exhausted and then moves it to a dead-letter set.
	Nack(ctx context.Context, d *Delivery, cause error) error
}

// BackoffFunc returns how long a nacked delivery waits before its next attempt.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff doubles base for every failed attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}

// ConstantBackoff always waits d.
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}
