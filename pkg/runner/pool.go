package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/journeys/internal/logging"
	"github.com/aretw0/journeys/pkg/ports"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	defaultClaimRetry  = time.Second
)

// DeliveryHook observes the outcome of every handled delivery. err is nil on success.
type DeliveryHook func(ctx context.Context, d *ports.Delivery, elapsed time.Duration, err error)

// Option defines a functional option for configuring the Pool.
type Option func(*Pool)

// WithConcurrency sets the number of consumers.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithMiddleware wraps the handler. The first middleware is the outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(p *Pool) {
		p.middleware = append(p.middleware, mws...)
	}
}

// WithDeliveryHook registers an observer for handled deliveries.
func WithDeliveryHook(hook DeliveryHook) Option {
	return func(p *Pool) {
		p.hooks = append(p.hooks, hook)
	}
}

// WithClaimRetry sets how long a consumer waits after a failed Claim.
func WithClaimRetry(d time.Duration) Option {
	return func(p *Pool) {
		p.claimRetry = d
	}
}

// Pool claims deliveries from a queue and hands them to a Handler.
type Pool struct {
	queue       ports.Queue
	handler     Handler
	middleware  []Middleware
	hooks       []DeliveryHook
	concurrency int
	claimRetry  time.Duration
	logger      *slog.Logger
}

// NewPool creates a worker pool over queue.
func NewPool(queue ports.Queue, handler Handler, opts ...Option) *Pool {
	p := &Pool{
		queue:       queue,
		handler:     handler,
		concurrency: defaultConcurrency,
		claimRetry:  defaultClaimRetry,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the consumers and blocks until ctx is done.
// Cancellation is a clean shutdown and returns nil.
func (p *Pool) Run(ctx context.Context) error {
	handler := Chain(p.handler, append([]Middleware{Recover()}, p.middleware...)...)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	p.logger.Info("worker pool started", "concurrency", p.concurrency)

	for i := 0; i < p.concurrency; i++ {
		worker := i
		g.Go(func() error {
			return p.consume(gCtx, worker, handler)
		})
	}

	err := g.Wait()
	p.logger.Info("worker pool stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (p *Pool) consume(ctx context.Context, worker int, handler Handler) error {
	for {
		d, err := p.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("claim failed", "worker", worker, "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.claimRetry):
			}
			continue
		}
		p.process(ctx, worker, handler, d)
	}
}

func (p *Pool) process(ctx context.Context, worker int, handler Handler, d *ports.Delivery) {
	logger := p.logger.With(
		"worker", worker,
		"work_id", d.ID,
		"kind", d.Kind,
		"run_id", d.Run.RunID,
		"node_id", d.Run.CurrentNodeID,
		"attempt", d.Attempt,
	)

	start := time.Now()
	err := handler.Handle(ctx, d.Kind, d.Run)
	elapsed := time.Since(start)

	// Acknowledge even when shutting down, so finished work is not redelivered.
	ackCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Error("delivery failed", "err", err)
		if nackErr := p.queue.Nack(ackCtx, d, err); nackErr != nil {
			logger.Error("nack failed", "err", nackErr)
		}
	} else {
		logger.Debug("delivery handled", "elapsed", elapsed)
		if ackErr := p.queue.Ack(ackCtx, d); ackErr != nil {
			logger.Error("ack failed", "err", ackErr)
		}
	}

	for _, hook := range p.hooks {
		hook(ctx, d, elapsed, err)
	}
}
