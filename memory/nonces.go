package memory

import (
	"context"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/patrickmn/go-cache"
)

// NonceStore keeps consumed nonces in a go-cache instance. Add maps to
// cache.Add, which fails when the key is present, so the check and the insert
// happen under one lock.
type NonceStore struct {
	cache *cache.Cache
	skew  time.Duration
	clock socialauth.Clock
}

var _ socialauth.NonceRepository = (*NonceStore)(nil)

type NonceStoreOption func(*NonceStore)

// WithNonceStoreSkew must match the skew configured on socialauth.Nonces;
// entries live until their timestamp leaves that window.
func WithNonceStoreSkew(d time.Duration) NonceStoreOption {
	return func(s *NonceStore) {
		if d > 0 {
			s.skew = d
		}
	}
}

func WithNonceStoreClock(clock socialauth.Clock) NonceStoreOption {
	return func(s *NonceStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewNonceStore(opts ...NonceStoreOption) *NonceStore {
	s := &NonceStore{
		skew:  socialauth.DefaultNonceSkew,
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.cache = cache.New(cache.NoExpiration, s.skew)
	return s
}

func (s *NonceStore) Add(ctx context.Context, nonce socialauth.Nonce) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ttl := socialauth.NonceTTL(nonce, s.skew, s.clock())
	if err := s.cache.Add(socialauth.NonceKey(nonce), nonce.Timestamp, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *NonceStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var removed int64
	for key, item := range s.cache.Items() {
		ts, ok := item.Object.(int64)
		if ok && ts < cutoff {
			s.cache.Delete(key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of nonces currently held.
func (s *NonceStore) Len() int {
	return s.cache.ItemCount()
}
