package socialauth_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/goliatone/go-socialauth/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNonces(clock *fakeClock, sink socialauth.ActivitySink) (*socialauth.Nonces, *memory.NonceStore) {
	store := memory.NewNonceStore(memory.WithNonceStoreClock(clock.Now))
	return socialauth.NewNonces(store,
		socialauth.WithNoncesClock(clock.Now),
		socialauth.WithNoncesLogger(socialauth.NopLogger()),
		socialauth.WithNoncesActivitySink(sink),
	), store
}

func TestNonces_UseOnce(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sink := &recordingSink{}
	nonces, _ := newNonces(clock, sink)
	ts := clock.now.Unix()

	ok, err := nonces.UseOnce(ctx, "https://op.example", ts, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = nonces.UseOnce(ctx, "https://op.example", ts, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, sink.types(), socialauth.ActivityEventNonceReplay)

	ok, err = nonces.UseOnce(ctx, "https://op.example", ts, "abd")
	require.NoError(t, err)
	assert.True(t, ok, "different salt")

	ok, err = nonces.UseOnce(ctx, "https://other.example", ts, "abc")
	require.NoError(t, err)
	assert.True(t, ok, "different server")
}

func TestNonces_ConcurrentUseOnceSingleWinner(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	nonces, _ := newNonces(clock, nil)
	ts := clock.now.Unix()

	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := nonces.UseOnce(ctx, "https://op.example", ts, "race")
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestNonces_SkewWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sink := &recordingSink{}
	nonces, _ := newNonces(clock, sink)
	now := clock.now.Unix()

	ok, err := nonces.UseOnce(ctx, "https://op.example", now-int64(socialauth.DefaultNonceSkew/time.Second)-1, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = nonces.UseOnce(ctx, "https://op.example", now+int64(socialauth.DefaultNonceSkew/time.Second)+1, "future")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, sink.types(), socialauth.ActivityEventNonceOutOfWindow)

	ok, err = nonces.UseOnce(ctx, "https://op.example", now-60, "recent")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNonces_PruneKeepsReplayClosed(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	nonces, store := newNonces(clock, nil)
	ts := clock.now.Unix()

	ok, err := nonces.UseOnce(ctx, "https://op.example", ts, "s1")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := nonces.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	clock.Advance(socialauth.DefaultNonceSkew + time.Second)
	removed, err = nonces.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Zero(t, store.Len())

	ok, err = nonces.UseOnce(ctx, "https://op.example", ts, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "pruned nonce is outside the window")
}

func TestNonces_Validation(t *testing.T) {
	clock := newFakeClock()
	nonces, _ := newNonces(clock, nil)

	_, err := nonces.UseOnce(context.Background(), "https://op.example", clock.now.Unix(), "")
	assert.True(t, socialauth.IsKind(err, socialauth.KindMalformedData))

	long := make([]byte, socialauth.SaltMaxLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = nonces.UseOnce(context.Background(), "https://op.example", clock.now.Unix(), string(long))
	assert.True(t, socialauth.IsKind(err, socialauth.KindMalformedData))
}

func TestNonceHelpers(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	n := socialauth.Nonce{ServerURL: "a|1", Timestamp: 2, Salt: "x"}
	m := socialauth.Nonce{ServerURL: "a", Timestamp: 1, Salt: "2|x"}
	assert.NotEqual(t, socialauth.NonceKey(n), socialauth.NonceKey(m))

	assert.Equal(t, time.Second, socialauth.NonceTTL(socialauth.Nonce{Timestamp: 1}, time.Minute, now))
	assert.Equal(t, 5*time.Minute, socialauth.NonceTTL(socialauth.Nonce{Timestamp: now.Unix()}, 5*time.Minute, now))
}
