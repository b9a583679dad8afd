package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	socialauth "github.com/goliatone/go-socialauth"
	"github.com/goliatone/go-socialauth/internal/storetest"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *rdb.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNonceRepository(t *testing.T) {
	storetest.RunNonceRepository(t, func(t *testing.T) socialauth.NonceRepository {
		_, client := setupRedis(t)
		return NewNonceRepository(client)
	})
}

func TestAssociationRepository(t *testing.T) {
	storetest.RunAssociationRepository(t, func(t *testing.T) socialauth.AssociationRepository {
		_, client := setupRedis(t)
		return NewAssociationRepository(client)
	})
}

func TestNonceRepository_TTLCoversSkewWindow(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	now := time.Now().Truncate(time.Second)
	repo := NewNonceRepository(client,
		WithPrefix("test:"),
		WithSkew(time.Minute),
		WithClock(func() time.Time { return now }))

	nonce := socialauth.Nonce{ServerURL: "https://op.example", Timestamp: now.Unix(), Salt: "abc"}
	ok, err := repo.Add(ctx, nonce)
	require.NoError(t, err)
	require.True(t, ok)

	key := "test:nonce:" + socialauth.NonceKey(nonce)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(time.Minute + time.Second)
	assert.False(t, mr.Exists(key))
}

func TestNonceRepository_WorksWithNonces(t *testing.T) {
	ctx := context.Background()
	_, client := setupRedis(t)
	nonces := socialauth.NewNonces(NewNonceRepository(client), socialauth.WithNoncesLogger(socialauth.NopLogger()))
	ts := time.Now().Unix()

	ok, err := nonces.UseOnce(ctx, "https://op.example", ts, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = nonces.UseOnce(ctx, "https://op.example", ts, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

type errorLog struct {
	lines []string
}

func (l *errorLog) Debug(string, ...any) {}
func (l *errorLog) Info(string, ...any)  {}
func (l *errorLog) Error(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestNonceRepository_IndexFailureStillAccepts(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	require.NoError(t, mr.Set(DefaultPrefix+"nonces", "not a sorted set"))

	log := &errorLog{}
	nonces := socialauth.NewNonces(NewNonceRepository(client, WithLogger(log)), socialauth.WithNoncesLogger(socialauth.NopLogger()))
	ts := time.Now().Unix()

	ok, err := nonces.UseOnce(ctx, "https://op.example", ts, "s1")
	require.NoError(t, err)
	assert.True(t, ok, "the first caller is accepted even when pruning cannot index the nonce")

	ok, err = nonces.UseOnce(ctx, "https://op.example", ts, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, log.lines, 1)
	assert.Contains(t, log.lines[0], "WRONGTYPE")
}

func TestAssociationRepository_DeleteExpiredForgetsEmptyServers(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	repo := NewAssociationRepository(client)
	now := time.Now()

	require.NoError(t, repo.Save(ctx, &socialauth.Association{
		ServerURL: "https://op.example",
		Handle:    "h1",
		Secret:    []byte("s"),
		Issued:    now.Add(-2 * time.Hour).Unix(),
		Lifetime:  60,
		AssocType: socialauth.AssocTypeHMACSHA1,
	}))

	removed, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	members, err := mr.Members(DefaultPrefix + "assoc-servers")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestAssociationRepository_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	repo := NewAssociationRepository(client)

	mr.HSet(DefaultPrefix+"assoc:https://op.example", "h1", "{not json")
	_, err := repo.Get(ctx, "https://op.example", "h1")
	assert.True(t, socialauth.IsKind(err, socialauth.KindMalformedData))
}
