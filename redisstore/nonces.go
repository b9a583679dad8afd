package redisstore

import (
	"context"
	"strconv"

	socialauth "github.com/goliatone/go-socialauth"
	rdb "github.com/redis/go-redis/v9"
)

// NonceRepository implements socialauth.NonceRepository. A sorted set indexed
// by timestamp backs DeleteOlderThan; the nonce keys carry their own TTL.
type NonceRepository struct {
	client rdb.UniversalClient
	opts   options
}

var _ socialauth.NonceRepository = (*NonceRepository)(nil)

func NewNonceRepository(client rdb.UniversalClient, opts ...Option) *NonceRepository {
	return &NonceRepository{client: client, opts: buildOptions(opts)}
}

func (r *NonceRepository) key(nonce socialauth.Nonce) string {
	return r.opts.prefix + "nonce:" + socialauth.NonceKey(nonce)
}

func (r *NonceRepository) indexKey() string {
	return r.opts.prefix + "nonces"
}

// Add is a single SET NX. The index update afterwards only serves pruning,
// so its failure is logged and the nonce still counts as accepted; the key
// expires on its own TTL.
func (r *NonceRepository) Add(ctx context.Context, nonce socialauth.Nonce) (bool, error) {
	key := r.key(nonce)
	ttl := socialauth.NonceTTL(nonce, r.opts.skew, r.opts.clock())

	ok, err := r.client.SetNX(ctx, key, strconv.FormatInt(nonce.Timestamp, 10), ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := r.client.ZAdd(ctx, r.indexKey(), rdb.Z{Score: float64(nonce.Timestamp), Member: key}).Err(); err != nil {
		r.opts.logger.Error("index nonce %s for pruning: %v", nonce.ServerURL, err)
	}
	return true, nil
}

func (r *NonceRepository) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	keys, err := r.client.ZRangeByScore(ctx, r.indexKey(), &rdb.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var deleted *rdb.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe rdb.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		members := make([]any, len(keys))
		for i, k := range keys {
			members[i] = k
		}
		pipe.ZRem(ctx, r.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted.Val(), nil
}
