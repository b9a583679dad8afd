package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/goliatone/go-socialauth/memory"
	"github.com/goliatone/go-socialauth/metrics"
)

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrate_SQLite(t *testing.T) {
	t.Setenv("SOCIALAUTH_STORAGE_DRIVER", "sqlite")
	t.Setenv("SOCIALAUTH_STORAGE_DSN", "file:"+filepath.Join(t.TempDir(), "socialauth.db"))

	out, err := run(t, newApp(), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied")

	out, err = run(t, newApp(), "migrate")
	require.NoError(t, err)
	assert.Empty(t, out)
}

type memoryFixture struct {
	b        *backends
	linker   *socialauth.Linker
	accounts *memory.AccountStore
	nonces   *memory.NonceStore
}

func newMemoryFixture(t *testing.T) (*app, memoryFixture) {
	t.Helper()
	t.Setenv("SOCIALAUTH_STORAGE_DRIVER", "memory")

	registry := prometheus.NewRegistry()
	collector, err := metrics.New(registry)
	require.NoError(t, err)

	f := memoryFixture{
		accounts: memory.NewAccountStore(),
		nonces:   memory.NewNonceStore(memory.WithNonceStoreSkew(2 * time.Hour)),
	}
	links := memory.NewLinkStore()
	f.b = &backends{
		links:        links,
		accounts:     f.accounts,
		nonces:       f.nonces,
		associations: memory.NewAssociationStore(),
		metrics:      collector,
		registry:     registry,
	}
	f.linker = socialauth.NewLinker(links, f.accounts, socialauth.WithLinkerLogger(socialauth.NopLogger()))

	a := newApp()
	a.open = func(*cobra.Command, *app) (*backends, error) { return f.b, nil }
	return a, f
}

func TestLinks_ListAndDisconnect(t *testing.T) {
	ctx := context.Background()
	a, f := newMemoryFixture(t)

	account, err := f.linker.CreateAccount(ctx, socialauth.AccountProfile{Username: "ana"})
	require.NoError(t, err)
	_, err = f.linker.CreateLink(ctx, account, "1", "github")
	require.NoError(t, err)
	_, err = f.linker.CreateLink(ctx, account, "g-1", "google")
	require.NoError(t, err)

	out, err := run(t, a, "links", "list", account.GetID())
	require.NoError(t, err)
	assert.Contains(t, out, "PROVIDER")
	assert.Contains(t, out, "github")
	assert.Contains(t, out, "google")

	out, err = run(t, a, "links", "disconnect", account.GetID(), "github")
	require.NoError(t, err)
	assert.Contains(t, out, "disconnected github")

	_, err = run(t, a, "links", "disconnect", account.GetID(), "google")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last way")

	out, err = run(t, a, "links", "list", "--json", account.GetID())
	require.NoError(t, err)
	assert.Contains(t, out, `"provider": "google"`)
	assert.NotContains(t, out, "github")
}

func TestLinks_DisconnectUnknownAccount(t *testing.T) {
	a, _ := newMemoryFixture(t)
	_, err := run(t, a, "links", "disconnect", "missing", "github")
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	a, f := newMemoryFixture(t)

	stale := socialauth.Nonce{ServerURL: "https://op.example.com", Timestamp: time.Now().Add(-time.Hour).Unix(), Salt: "abc"}
	ok, err := f.nonces.Add(ctx, stale)
	require.NoError(t, err)
	require.True(t, ok)

	out, err := run(t, a, "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "nonces removed: 1")
	assert.Contains(t, out, "associations removed: 0")
	assert.Equal(t, 0, f.nonces.Len())
}

func TestRoot_InvalidConfig(t *testing.T) {
	t.Setenv("SOCIALAUTH_STORAGE_DRIVER", "oracle")
	_, err := run(t, newApp(), "prune")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "oracle"))
}
