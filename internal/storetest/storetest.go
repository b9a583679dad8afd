// Package storetest holds contract tests shared by every socialauth backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Concurrency is how many goroutines race in the uniqueness checks. Backends
// serialized on a single connection can lower it.
var Concurrency = 16

func newLink(accountID, provider, uid string) *socialauth.Link {
	now := time.Now().UTC().Truncate(time.Second)
	return &socialauth.Link{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Provider:  provider,
		UID:       uid,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RunLinkStore exercises a LinkStore. newStore must return an empty store.
func RunLinkStore(t *testing.T, newStore func(t *testing.T) socialauth.LinkStore) {
	t.Run("create and find", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		link := newLink("acct-1", "github", "100")
		link.ExtraData = socialauth.ExtraData{"access_token": "tok"}
		created, err := store.Create(ctx, link)
		require.NoError(t, err)
		assert.Equal(t, link.ID, created.ID)

		found, err := store.FindByProviderUID(ctx, "github", "100")
		require.NoError(t, err)
		assert.Equal(t, link.ID, found.ID)
		assert.Equal(t, "acct-1", found.AccountID)
		assert.Equal(t, "tok", found.ExtraData["access_token"])

		byID, err := store.FindByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, "100", byID.UID)

		_, err = store.FindByProviderUID(ctx, "github", "101")
		assert.True(t, socialauth.IsNotFound(err))
		_, err = store.FindByID(ctx, uuid.NewString())
		assert.True(t, socialauth.IsNotFound(err))
	})

	t.Run("duplicate provider uid", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		_, err := store.Create(ctx, newLink("acct-1", "google", "42"))
		require.NoError(t, err)

		_, err = store.Create(ctx, newLink("acct-2", "google", "42"))
		require.Error(t, err)
		assert.True(t, socialauth.IsLinkExists(err), "got %v", err)

		_, err = store.Create(ctx, newLink("acct-2", "github", "42"))
		assert.NoError(t, err, "same uid under another provider")
	})

	t.Run("concurrent create has one winner", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		var wins, conflicts int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < Concurrency; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := store.Create(ctx, newLink(fmt.Sprintf("acct-%d", i), "google", "race"))
				switch {
				case err == nil:
					atomic.AddInt32(&wins, 1)
				case socialauth.IsLinkExists(err):
					atomic.AddInt32(&conflicts, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), wins)
		assert.Equal(t, int32(Concurrency-1), conflicts)
	})

	t.Run("list and count", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		gh := newLink("acct-1", "github", "1")
		tw := newLink("acct-1", "twitter", "2")
		tw.CreatedAt = gh.CreatedAt.Add(time.Second)
		g1 := newLink("acct-1", "google", "3")
		g1.CreatedAt = gh.CreatedAt.Add(2 * time.Second)
		other := newLink("acct-2", "github", "4")
		for _, l := range []*socialauth.Link{gh, tw, g1, other} {
			_, err := store.Create(ctx, l)
			require.NoError(t, err)
		}

		links, err := store.ListByAccount(ctx, "acct-1")
		require.NoError(t, err)
		require.Len(t, links, 3)
		assert.Equal(t, gh.ID, links[0].ID)
		assert.Equal(t, g1.ID, links[2].ID)

		n, err := store.CountByAccount(ctx, "acct-1", socialauth.LinkFilter{})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = store.CountByAccount(ctx, "acct-1", socialauth.LinkFilter{ExcludeProvider: "github"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = store.CountByAccount(ctx, "acct-1", socialauth.LinkFilter{ExcludeID: tw.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		empty, err := store.ListByAccount(ctx, "acct-none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("update extra data", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		link := newLink("acct-1", "github", "1")
		_, err := store.Create(ctx, link)
		require.NoError(t, err)

		require.NoError(t, store.UpdateExtraData(ctx, link.ID, socialauth.ExtraData{"id": 9007199254740993}))
		found, err := store.FindByID(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, "9007199254740993", fmt.Sprint(found.ExtraData["id"]))

		err = store.UpdateExtraData(ctx, uuid.NewString(), socialauth.ExtraData{})
		assert.True(t, socialauth.IsNotFound(err))
	})

	t.Run("delete", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		a := newLink("acct-1", "google", "1")
		b := newLink("acct-1", "google", "2")
		c := newLink("acct-1", "github", "3")
		for _, l := range []*socialauth.Link{a, b, c} {
			_, err := store.Create(ctx, l)
			require.NoError(t, err)
		}

		require.NoError(t, store.Delete(ctx, c.ID))
		require.NoError(t, store.Delete(ctx, c.ID))

		removed, err := store.DeleteByAccountProvider(ctx, "acct-1", "google")
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		n, err := store.CountByAccount(ctx, "acct-1", socialauth.LinkFilter{})
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = store.Create(ctx, newLink("acct-2", "google", "1"))
		assert.NoError(t, err, "freed pair can be linked again")
	})

	t.Run("delete unless last", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		g1 := newLink("acct-1", "google", "1")
		g2 := newLink("acct-1", "google", "2")
		gh := newLink("acct-1", "github", "3")
		for _, l := range []*socialauth.Link{g1, g2, gh} {
			_, err := store.Create(ctx, l)
			require.NoError(t, err)
		}

		removed, err := store.DeleteUnlessLast(ctx, "acct-1", socialauth.LinkFilter{ExcludeID: g1.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		removed, err = store.DeleteUnlessLast(ctx, "acct-1", socialauth.LinkFilter{ExcludeProvider: "google"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		_, err = store.DeleteUnlessLast(ctx, "acct-1", socialauth.LinkFilter{ExcludeProvider: "github"})
		assert.True(t, socialauth.IsLastLink(err), "got %v", err)
		_, err = store.DeleteUnlessLast(ctx, "acct-1", socialauth.LinkFilter{ExcludeID: gh.ID})
		assert.True(t, socialauth.IsLastLink(err), "got %v", err)

		found, err := store.FindByID(ctx, gh.ID)
		require.NoError(t, err, "a refused delete removes nothing")
		assert.Equal(t, "github", found.Provider)

		_, err = store.DeleteUnlessLast(ctx, "acct-empty", socialauth.LinkFilter{ExcludeProvider: "github"})
		assert.True(t, socialauth.IsLastLink(err), "an account without links has nothing to keep")
	})

	t.Run("concurrent delete unless last keeps a link", func(t *testing.T) {
		ctx := context.Background()

		for round := 0; round < 10; round++ {
			store := newStore(t)
			account := fmt.Sprintf("acct-%d", round)
			providers := []string{"github", "twitter"}
			for i, p := range providers {
				_, err := store.Create(ctx, newLink(account, p, fmt.Sprintf("%d-%d", round, i)))
				require.NoError(t, err)
			}

			var deleted int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for _, p := range providers {
				wg.Add(1)
				go func(provider string) {
					defer wg.Done()
					<-start
					_, err := store.DeleteUnlessLast(ctx, account, socialauth.LinkFilter{ExcludeProvider: provider})
					switch {
					case err == nil:
						atomic.AddInt32(&deleted, 1)
					case socialauth.IsLastLink(err):
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(p)
			}
			close(start)
			wg.Wait()

			left, err := store.CountByAccount(ctx, account, socialauth.LinkFilter{})
			require.NoError(t, err)
			assert.LessOrEqual(t, deleted, int32(1))
			assert.Equal(t, 2-int(deleted), left, "round %d", round)
		}
	})
}

// RunNonceRepository exercises a NonceRepository.
func RunNonceRepository(t *testing.T, newRepo func(t *testing.T) socialauth.NonceRepository) {
	t.Run("add once", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		ts := time.Now().Unix()

		ok, err := repo.Add(ctx, socialauth.Nonce{ServerURL: "https://op.example", Timestamp: ts, Salt: "a"})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Add(ctx, socialauth.Nonce{ServerURL: "https://op.example", Timestamp: ts, Salt: "a"})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.Add(ctx, socialauth.Nonce{ServerURL: "https://op.example", Timestamp: ts + 1, Salt: "a"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent add has one winner", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		nonce := socialauth.Nonce{ServerURL: "https://op.example", Timestamp: time.Now().Unix(), Salt: "race"}

		var wins int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ok, err := repo.Add(ctx, nonce)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), wins)
	})

	t.Run("delete older than", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		now := time.Now().Unix()

		for i, ts := range []int64{now - 600, now - 400, now} {
			ok, err := repo.Add(ctx, socialauth.Nonce{ServerURL: "https://op.example", Timestamp: ts, Salt: fmt.Sprintf("s%d", i)})
			require.NoError(t, err)
			require.True(t, ok)
		}

		removed, err := repo.DeleteOlderThan(ctx, now-300)
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		ok, err := repo.Add(ctx, socialauth.Nonce{ServerURL: "https://op.example", Timestamp: now, Salt: "s2"})
		require.NoError(t, err)
		assert.False(t, ok, "recent nonce survives pruning")
	})
}

func newAssociation(serverURL, handle string, issued time.Time, lifetime time.Duration) *socialauth.Association {
	return &socialauth.Association{
		ServerURL: serverURL,
		Handle:    handle,
		Secret:    []byte("secret-" + handle),
		Issued:    issued.Unix(),
		Lifetime:  int64(lifetime / time.Second),
		AssocType: socialauth.AssocTypeHMACSHA256,
	}
}

// RunAssociationRepository exercises an AssociationRepository.
func RunAssociationRepository(t *testing.T, newRepo func(t *testing.T) socialauth.AssociationRepository) {
	t.Run("save get upsert", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		now := time.Now()

		assoc := newAssociation("https://op.example", "h1", now, time.Hour)
		require.NoError(t, repo.Save(ctx, assoc))

		got, err := repo.Get(ctx, "https://op.example", "h1")
		require.NoError(t, err)
		assert.Equal(t, assoc.Secret, got.Secret)
		assert.Equal(t, assoc.Issued, got.Issued)
		assert.Equal(t, assoc.Lifetime, got.Lifetime)
		assert.Equal(t, socialauth.AssocTypeHMACSHA256, got.AssocType)

		assoc.Secret = []byte("rotated")
		require.NoError(t, repo.Save(ctx, assoc))
		got, err = repo.Get(ctx, "https://op.example", "h1")
		require.NoError(t, err)
		assert.Equal(t, []byte("rotated"), got.Secret)

		_, err = repo.Get(ctx, "https://op.example", "h2")
		assert.True(t, socialauth.IsNotFound(err))
	})

	t.Run("list by server", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		now := time.Now()

		require.NoError(t, repo.Save(ctx, newAssociation("https://op.example", "a", now, time.Hour)))
		require.NoError(t, repo.Save(ctx, newAssociation("https://op.example", "b", now.Add(time.Minute), time.Hour)))
		require.NoError(t, repo.Save(ctx, newAssociation("https://other.example", "c", now, time.Hour)))

		list, err := repo.ListByServer(ctx, "https://op.example")
		require.NoError(t, err)
		require.Len(t, list, 2)

		handles := []string{list[0].Handle, list[1].Handle}
		assert.ElementsMatch(t, []string{"a", "b"}, handles)
	})

	t.Run("delete and delete expired", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		now := time.Now()

		require.NoError(t, repo.Save(ctx, newAssociation("https://op.example", "live", now, time.Hour)))
		require.NoError(t, repo.Save(ctx, newAssociation("https://op.example", "dead", now.Add(-2*time.Hour), time.Hour)))
		require.NoError(t, repo.Save(ctx, newAssociation("https://op.example", "gone", now, time.Hour)))

		require.NoError(t, repo.Delete(ctx, "https://op.example", "gone"))
		require.NoError(t, repo.Delete(ctx, "https://op.example", "gone"))

		removed, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		list, err := repo.ListByServer(ctx, "https://op.example")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "live", list[0].Handle)
	})
}
