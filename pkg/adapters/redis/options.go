package redis

import "time"

const defaultPrefix = "journeys:"

type config struct {
	prefix string
	ttl    time.Duration
}

// Option configures the Redis stores and messenger.
type Option func(*config)

// WithPrefix sets the key prefix (default "journeys:").
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithTTL sets the expiration of stored keys. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

func newConfig(opts []Option) config {
	c := config{prefix: defaultPrefix}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
