// Package redisstore keeps socialauth nonces and associations in Redis.
//
// Nonces are SET NX with a TTL covering the skew window, so replay protection
// holds across every instance sharing the server and expired entries vanish
// without a prune job. Associations live in one hash per server URL.
package redisstore

import (
	"context"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	rdb "github.com/redis/go-redis/v9"
)

const DefaultPrefix = "socialauth:"

type options struct {
	prefix string
	skew   time.Duration
	clock  socialauth.Clock
	logger socialauth.Logger
}

type Option func(*options)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithSkew must match the skew configured on socialauth.Nonces.
func WithSkew(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.skew = d
		}
	}
}

func WithClock(clock socialauth.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func WithLogger(logger socialauth.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		prefix: DefaultPrefix,
		skew:   socialauth.DefaultNonceSkew,
		clock:  time.Now,
		logger: socialauth.NopLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// NewClient builds a client from a redis:// URL.
func NewClient(url string) (*rdb.Client, error) {
	opts, err := rdb.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return rdb.NewClient(opts), nil
}

// Ping checks connectivity.
func Ping(ctx context.Context, client rdb.UniversalClient) error {
	return client.Ping(ctx).Err()
}
