package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/session"
)

// Handler executes one delivered step.
type Handler interface {
	Handle(ctx context.Context, kind domain.WorkKind, run domain.Run) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, kind domain.WorkKind, run domain.Run) error

func (f HandlerFunc) Handle(ctx context.Context, kind domain.WorkKind, run domain.Run) error {
	return f(ctx, kind, run)
}

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so that the first one is the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RunLock serializes deliveries of the same run through the session manager.
func RunLock(m *session.Manager) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, kind domain.WorkKind, run domain.Run) error {
			return m.WithLock(ctx, run.RunID, func(ctx context.Context) error {
				return next.Handle(ctx, kind, run)
			})
		})
	}
}

// Timeout bounds each step with d.
func Timeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, kind domain.WorkKind, run domain.Run) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Handle(ctx, kind, run)
		})
	}
}

// Recover turns a panic in the handler into an error so the delivery is nacked.
func Recover() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, kind domain.WorkKind, run domain.Run) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic handling %s for run %s: %v", kind, run.RunID, r)
				}
			}()
			return next.Handle(ctx, kind, run)
		})
	}
}
