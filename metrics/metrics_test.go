package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/goliatone/go-socialauth/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Sink(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	ctx := context.Background()
	linker := socialauth.NewLinker(memory.NewLinkStore(), memory.NewAccountStore(),
		socialauth.WithLinkerActivitySink(c.Sink()),
		socialauth.WithLinkerLogger(socialauth.NopLogger()))

	account, err := linker.CreateAccount(ctx, socialauth.AccountProfile{Username: "ana"})
	require.NoError(t, err)
	_, err = linker.CreateLink(ctx, account, "1", "github")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.activityTotal.WithLabelValues(string(socialauth.ActivityEventLinkCreated), "github")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.activityTotal.WithLabelValues(string(socialauth.ActivityEventAccountCreated), "")))
}

func TestCollector_InstrumentNonceRepository(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	ctx := context.Background()
	repo := c.InstrumentNonceRepository("memory", memory.NewNonceStore())
	nonces := socialauth.NewNonces(repo, socialauth.WithNoncesLogger(socialauth.NopLogger()))
	ts := time.Now().Unix()

	_, err = nonces.UseOnce(ctx, "https://op.example", ts, "a")
	require.NoError(t, err)
	_, err = nonces.UseOnce(ctx, "https://op.example", ts, "a")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.nonceTotal.WithLabelValues("accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.nonceTotal.WithLabelValues("replayed")))

	count, err := testutil.GatherAndCount(reg, "socialauth_store_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_ObserveOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.ObserveOutcome(nil)
	c.ObserveOutcome(socialauth.AuthCanceled("github"))
	c.ObserveOutcome(errors.New("plain"))

	assert.Equal(t, float64(1), testutil.ToFloat64(c.outcomesTotal.WithLabelValues("AuthCanceled", "protocol")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.outcomesTotal.WithLabelValues("unclassified", socialauth.ClassUnknown.String())))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.ObservePrune("sql_nonces", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(second.prunedTotal.WithLabelValues("sql_nonces")))
}

func TestTee(t *testing.T) {
	var got []socialauth.ActivityEventType
	record := socialauth.ActivitySinkFunc(func(_ context.Context, e socialauth.ActivityEvent) error {
		got = append(got, e.EventType)
		return nil
	})
	failing := socialauth.ActivitySinkFunc(func(context.Context, socialauth.ActivityEvent) error {
		return errors.New("sink down")
	})

	err := Tee(failing, nil, record).Record(context.Background(), socialauth.ActivityEvent{EventType: socialauth.ActivityEventLinkRemoved})
	assert.EqualError(t, err, "sink down")
	assert.Equal(t, []socialauth.ActivityEventType{socialauth.ActivityEventLinkRemoved}, got)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	c.ObservePrune("sql_associations", 2)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `socialauth_pruned_total{store="sql_associations"} 2`)
}
