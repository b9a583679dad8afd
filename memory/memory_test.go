package memory_test

import (
	"context"
	"testing"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/goliatone/go-socialauth/internal/storetest"
	"github.com/goliatone/go-socialauth/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkStore(t *testing.T) {
	storetest.RunLinkStore(t, func(t *testing.T) socialauth.LinkStore {
		return memory.NewLinkStore()
	})
}

func TestNonceStore(t *testing.T) {
	storetest.RunNonceRepository(t, func(t *testing.T) socialauth.NonceRepository {
		return memory.NewNonceStore()
	})
}

func TestAssociationStore(t *testing.T) {
	storetest.RunAssociationRepository(t, func(t *testing.T) socialauth.AssociationRepository {
		return memory.NewAssociationStore()
	})
}

func TestLinkStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLinkStore()

	link := &socialauth.Link{ID: "l1", AccountID: "a1", Provider: "github", UID: "1", ExtraData: socialauth.ExtraData{"k": "v"}}
	_, err := store.Create(ctx, link)
	require.NoError(t, err)

	link.ExtraData["k"] = "mutated"
	found, err := store.FindByID(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "v", found.ExtraData["k"])
}

func TestAccountStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAccountStore()

	email := "ana@example.com"
	account, err := store.CreateAccount(ctx, socialauth.NewAccount{Username: "ana", Email: &email, PasswordHash: socialauth.UnusablePassword})
	require.NoError(t, err)
	assert.NotEmpty(t, account.GetID())
	assert.False(t, account.HasUsablePassword())

	require.NoError(t, store.SetPasswordHash(account.GetID(), "$2a$12$hash"))
	reloaded, err := store.GetAccount(ctx, account.GetID())
	require.NoError(t, err)
	assert.True(t, reloaded.HasUsablePassword())

	_, err = store.GetAccount(ctx, "missing")
	assert.True(t, socialauth.IsNotFound(err))
	assert.True(t, socialauth.IsNotFound(store.SetPasswordHash("missing", "x")))
}

func TestAssociationStore_EvictsAfterGrace(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAssociationStore(memory.WithAssociationGrace(10 * time.Millisecond))

	assoc := &socialauth.Association{
		ServerURL: "https://op.example",
		Handle:    "h1",
		Secret:    []byte("s"),
		Issued:    time.Now().Add(-time.Hour).Unix(),
		Lifetime:  1,
		AssocType: socialauth.AssocTypeHMACSHA1,
	}
	require.NoError(t, store.Save(ctx, assoc))

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "https://op.example", "h1")
		return socialauth.IsNotFound(err)
	}, time.Second, 5*time.Millisecond)
}

func TestNonceStore_DoesNotLeakAcrossServers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewNonceStore(memory.WithNonceStoreSkew(time.Minute))
	ts := time.Now().Unix()

	ok, err := store.Add(ctx, socialauth.Nonce{ServerURL: "a", Timestamp: ts, Salt: "x"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Add(ctx, socialauth.Nonce{ServerURL: "b", Timestamp: ts, Salt: "x"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, store.Len())
}
