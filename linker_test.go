package socialauth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/goliatone/go-socialauth/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []socialauth.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event socialauth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) types() []socialauth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]socialauth.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type linkerFixture struct {
	linker   *socialauth.Linker
	links    *memory.LinkStore
	accounts *memory.AccountStore
	sink     *recordingSink
}

func newLinkerFixture(t *testing.T, opts ...socialauth.LinkerOption) linkerFixture {
	t.Helper()
	f := linkerFixture{
		links:    memory.NewLinkStore(),
		accounts: memory.NewAccountStore(),
		sink:     &recordingSink{},
	}
	opts = append([]socialauth.LinkerOption{
		socialauth.WithLinkerLogger(socialauth.NopLogger()),
		socialauth.WithLinkerActivitySink(f.sink),
	}, opts...)
	f.linker = socialauth.NewLinker(f.links, f.accounts, opts...)
	return f
}

func (f linkerFixture) account(t *testing.T, username string) socialauth.Account {
	t.Helper()
	account, err := f.linker.CreateAccount(context.Background(), socialauth.AccountProfile{Username: username})
	require.NoError(t, err)
	return account
}

func TestLinker_CreateAndFindLink(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	user := f.account(t, "ana")

	link, err := f.linker.CreateLink(ctx, user, "12345", "github")
	require.NoError(t, err)
	assert.NotEmpty(t, link.ID)
	assert.Equal(t, user.GetID(), link.AccountID)
	assert.Equal(t, "github", link.Provider)
	assert.Equal(t, "12345", link.UID)

	found, err := f.linker.FindLink(ctx, "github", 12345)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, link.ID, found.ID)

	missing, err := f.linker.FindLink(ctx, "github", "999")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Contains(t, f.sink.types(), socialauth.ActivityEventLinkCreated)
}

func TestLinker_CreateLinkSameAccountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	user := f.account(t, "ana")

	first, err := f.linker.CreateLink(ctx, user, "7", "google")
	require.NoError(t, err)
	second, err := f.linker.CreateLink(ctx, user, "7", "google")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	links, err := f.linker.LinksForAccount(ctx, user)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestLinker_CreateLinkDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	ana := f.account(t, "ana")
	bob := f.account(t, "bob")

	_, err := f.linker.CreateLink(ctx, ana, "42", "google")
	require.NoError(t, err)

	_, err = f.linker.CreateLink(ctx, bob, "42", "google")
	require.Error(t, err)
	assert.True(t, errors.Is(err, socialauth.ErrDuplicateIdentity))
	assert.Equal(t, socialauth.ClassConflict, socialauth.ClassOf(err))

	found, err := f.linker.FindLink(ctx, "google", "42")
	require.NoError(t, err)
	assert.Equal(t, ana.GetID(), found.AccountID)
	assert.Contains(t, f.sink.types(), socialauth.ActivityEventLinkConflict)
}

func TestLinker_ConcurrentCreateLinkSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)

	const racers = 16
	accounts := make([]socialauth.Account, racers)
	for i := range accounts {
		accounts[i] = f.account(t, "racer")
	}

	var wg sync.WaitGroup
	results := make([]error, racers)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = f.linker.CreateLink(ctx, accounts[i], "42", "google")
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, socialauth.IsKind(err, socialauth.KindDuplicateIdentity), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestLinker_CreateLinkValidation(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	user := f.account(t, "ana")

	_, err := f.linker.CreateLink(ctx, nil, "1", "github")
	assert.True(t, socialauth.IsKind(err, socialauth.KindMalformedData))

	_, err = f.linker.CreateLink(ctx, user, "1", "")
	assert.True(t, socialauth.IsKind(err, socialauth.KindMalformedData))

	_, err = f.linker.CreateLink(ctx, user, "1", "a-provider-name-well-over-thirty-two-chars")
	assert.True(t, socialauth.IsKind(err, socialauth.KindMalformedData))
}

func TestLinker_SingleProviderPolicy(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t, socialauth.WithProviderLinkPolicy(socialauth.ProviderLinksSingle))
	user := f.account(t, "ana")

	_, err := f.linker.CreateLink(ctx, user, "1", "github")
	require.NoError(t, err)

	_, err = f.linker.CreateLink(ctx, user, "2", "github")
	assert.True(t, errors.Is(err, socialauth.ErrProviderAlreadyLinked))

	_, err = f.linker.CreateLink(ctx, user, "1", "github")
	assert.NoError(t, err)
}

func TestLinker_CreateAccount(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)

	account, err := f.linker.CreateAccount(ctx, socialauth.AccountProfile{
		Username: "ana",
		Email:    "   ",
	})
	require.NoError(t, err)
	assert.False(t, account.HasUsablePassword())

	stored, err := f.accounts.GetAccount(ctx, account.GetID())
	require.NoError(t, err)
	rec := stored.(*memory.Account)
	assert.Nil(t, rec.Email)
	assert.Equal(t, socialauth.UnusablePassword, rec.PasswordHash)

	withPassword, err := f.linker.CreateAccount(ctx, socialauth.AccountProfile{
		Username: "bob",
		Email:    " bob@example.com ",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.True(t, withPassword.HasUsablePassword())
	rec = withPassword.(*memory.Account)
	require.NotNil(t, rec.Email)
	assert.Equal(t, "bob@example.com", *rec.Email)
	assert.NoError(t, socialauth.ComparePasswordAndHash("s3cret-pass", rec.PasswordHash))
}

func TestLinker_MayDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	user := f.account(t, "ana")

	gh, err := f.linker.CreateLink(ctx, user, "1", "github")
	require.NoError(t, err)
	tw, err := f.linker.CreateLink(ctx, user, "2", "twitter")
	require.NoError(t, err)

	ok, err := f.linker.MayDisconnect(ctx, user, "github", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.linker.MayDisconnect(ctx, user, "github", gh.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.linker.Disconnect(ctx, user, "twitter", tw.ID))

	ok, err = f.linker.MayDisconnect(ctx, user, "github", "")
	require.NoError(t, err)
	assert.False(t, ok)

	err = f.linker.Disconnect(ctx, user, "github", "")
	assert.True(t, errors.Is(err, socialauth.ErrNotAllowedToDisconnect))
	assert.Equal(t, socialauth.ClassPolicyDenied, socialauth.ClassOf(err))
	assert.Contains(t, f.sink.types(), socialauth.ActivityEventDisconnectDenied)

	remaining, err := f.linker.LinksForAccount(ctx, user)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestLinker_MayDisconnectWithUsablePassword(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	user := f.account(t, "ana")

	_, err := f.linker.CreateLink(ctx, user, "1", "github")
	require.NoError(t, err)

	hash, err := socialauth.HashPassword("local-password")
	require.NoError(t, err)
	require.NoError(t, f.accounts.SetPasswordHash(user.GetID(), hash))

	reloaded, err := f.accounts.GetAccount(ctx, user.GetID())
	require.NoError(t, err)

	ok, err := f.linker.MayDisconnect(ctx, reloaded, "github", "")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.linker.Disconnect(ctx, reloaded, "github", ""))
	links, err := f.linker.LinksForAccount(ctx, reloaded)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestLinker_MayDisconnectSameProviderByID(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	user := f.account(t, "ana")

	first, err := f.linker.CreateLink(ctx, user, "1", "google")
	require.NoError(t, err)
	_, err = f.linker.CreateLink(ctx, user, "2", "google")
	require.NoError(t, err)

	ok, err := f.linker.MayDisconnect(ctx, user, "google", first.ID)
	require.NoError(t, err)
	assert.True(t, ok, "the second google link still allows login")

	ok, err = f.linker.MayDisconnect(ctx, user, "google", "")
	require.NoError(t, err)
	assert.False(t, ok, "dropping every google link leaves nothing")
}

func TestLinker_DisconnectByLinkID(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	ana := f.account(t, "ana")
	bob := f.account(t, "bob")

	gh, err := f.linker.CreateLink(ctx, ana, "1", "github")
	require.NoError(t, err)
	_, err = f.linker.CreateLink(ctx, ana, "2", "twitter")
	require.NoError(t, err)
	bobLink, err := f.linker.CreateLink(ctx, bob, "3", "github")
	require.NoError(t, err)
	_, err = f.linker.CreateLink(ctx, bob, "4", "gitlab")
	require.NoError(t, err)

	err = f.linker.Disconnect(ctx, ana, "github", bobLink.ID)
	assert.True(t, errors.Is(err, socialauth.ErrNotAllowedToDisconnect))

	err = f.linker.Disconnect(ctx, ana, "twitter", gh.ID)
	assert.True(t, errors.Is(err, socialauth.ErrWrongBackend))

	require.NoError(t, f.linker.Disconnect(ctx, ana, "github", gh.ID))
	require.NoError(t, f.linker.Disconnect(ctx, ana, "github", gh.ID), "already removed")

	found, err := f.linker.FindLink(ctx, "github", "1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestLinker_Associate(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	ana := f.account(t, "ana")
	bob := f.account(t, "bob")

	link, created, err := f.linker.Associate(ctx, ana, "github", 99, socialauth.ExtraData{"access_token": "a"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "a", link.ExtraData["access_token"])

	again, created, err := f.linker.Associate(ctx, ana, "github", "99", socialauth.ExtraData{"access_token": "b"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, link.ID, again.ID)

	stored, err := f.linker.FindLink(ctx, "github", "99")
	require.NoError(t, err)
	assert.Equal(t, "b", stored.ExtraData["access_token"])

	_, _, err = f.linker.Associate(ctx, bob, "github", "99", nil)
	assert.True(t, errors.Is(err, socialauth.ErrAuthAlreadyAssociated))
	assert.Equal(t, socialauth.ClassConflict, socialauth.ClassOf(err))
}

// barrierLinkStore holds every DeleteUnlessLast call until parties calls
// have arrived, so racing disconnects reach the store together.
type barrierLinkStore struct {
	*memory.LinkStore
	arrived sync.WaitGroup
}

func (s *barrierLinkStore) DeleteUnlessLast(ctx context.Context, accountID string, filter socialauth.LinkFilter) (int64, error) {
	s.arrived.Done()
	s.arrived.Wait()
	return s.LinkStore.DeleteUnlessLast(ctx, accountID, filter)
}

func TestLinker_ConcurrentDisconnectKeepsLastLink(t *testing.T) {
	ctx := context.Background()
	store := &barrierLinkStore{LinkStore: memory.NewLinkStore()}
	accounts := memory.NewAccountStore()
	linker := socialauth.NewLinker(store, accounts, socialauth.WithLinkerLogger(socialauth.NopLogger()))

	user, err := linker.CreateAccount(ctx, socialauth.AccountProfile{Username: "ana"})
	require.NoError(t, err)
	require.False(t, user.HasUsablePassword())
	_, err = linker.CreateLink(ctx, user, "1", "github")
	require.NoError(t, err)
	_, err = linker.CreateLink(ctx, user, "2", "twitter")
	require.NoError(t, err)

	providers := []string{"github", "twitter"}
	store.arrived.Add(len(providers))
	errs := make([]error, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, provider string) {
			defer wg.Done()
			errs[i] = linker.Disconnect(ctx, user, provider, "")
		}(i, p)
	}
	wg.Wait()

	var ok, denied int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, socialauth.ErrNotAllowedToDisconnect):
			denied++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, denied)

	left, err := linker.LinksForAccount(ctx, user)
	require.NoError(t, err)
	assert.Len(t, left, 1, "one way to log in must survive")
}

func TestLinker_UpdateExtraDataMissingLink(t *testing.T) {
	f := newLinkerFixture(t)

	err := f.linker.UpdateExtraData(context.Background(), &socialauth.Link{ID: "gone"}, socialauth.ExtraData{"k": "v"})
	require.Error(t, err)
	assert.True(t, socialauth.IsNotFound(err))
	assert.Equal(t, socialauth.ClassMalformedInput, socialauth.ClassOf(err))
	assert.True(t, socialauth.IsKind(err, socialauth.KindMalformedData))
}

func TestLinker_GetAccount(t *testing.T) {
	ctx := context.Background()
	f := newLinkerFixture(t)
	ana := f.account(t, "ana")

	loaded, err := f.linker.GetAccount(ctx, ana.GetID())
	require.NoError(t, err)
	assert.Equal(t, ana.GetID(), loaded.GetID())

	missing, err := f.linker.GetAccount(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

type failingLinkStore struct {
	*memory.LinkStore
	err error
}

func (s failingLinkStore) FindByProviderUID(context.Context, string, string) (*socialauth.Link, error) {
	return nil, s.err
}

func TestLinker_StoreFailuresAreClassified(t *testing.T) {
	ctx := context.Background()

	linker := socialauth.NewLinker(failingLinkStore{memory.NewLinkStore(), errors.New("connection refused")}, memory.NewAccountStore())
	_, err := linker.FindLink(ctx, "github", "1")
	assert.True(t, errors.Is(err, socialauth.ErrStoreUnavailable))
	assert.Equal(t, socialauth.ClassInfrastructure, socialauth.ClassOf(err))

	linker = socialauth.NewLinker(failingLinkStore{memory.NewLinkStore(), context.DeadlineExceeded}, memory.NewAccountStore())
	_, err = linker.FindLink(ctx, "github", "1")
	assert.True(t, errors.Is(err, socialauth.ErrStoreTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
