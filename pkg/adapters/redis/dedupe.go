package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/journeys/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 7 * 24 * time.Hour

// DedupeMessenger wraps a messenger so each dedupe key is delivered at most once
// across all workers, using SET NX with a TTL.
type DedupeMessenger struct {
	client *backend.Client
	next   ports.Messenger
	prefix string
	ttl    time.Duration
}

// NewDedupeMessenger wraps next. WithTTL controls how long keys are remembered (default 7 days).
func NewDedupeMessenger(client *backend.Client, next ports.Messenger, opts ...Option) *DedupeMessenger {
	c := newConfig(opts)
	ttl := c.ttl
	if ttl == 0 {
		ttl = defaultDedupeTTL
	}
	return &DedupeMessenger{client: client, next: next, prefix: c.prefix + "sent:", ttl: ttl}
}

// Send delivers msg unless its dedupe key was already claimed.
// If delivery fails the key is released so a retry can send it.
func (m *DedupeMessenger) Send(ctx context.Context, msg ports.Message) error {
	if msg.DedupeKey == "" {
		return m.next.Send(ctx, msg)
	}

	key := m.prefix + msg.DedupeKey
	first, err := m.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), m.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to claim dedupe key: %w", err)
	}
	if !first {
		return nil
	}

	if err := m.next.Send(ctx, msg); err != nil {
		if delErr := m.client.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			return fmt.Errorf("%w (and releasing dedupe key failed: %v)", err, delErr)
		}
		return err
	}
	return nil
}
