package metrics

import (
	"context"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
)

type instrumentedNonces struct {
	next      socialauth.NonceRepository
	collector *Collector
	store     string
}

// InstrumentNonceRepository wraps repo so every Add and prune is counted and
// timed. store labels the backend, e.g. "redis".
func (c *Collector) InstrumentNonceRepository(store string, repo socialauth.NonceRepository) socialauth.NonceRepository {
	return &instrumentedNonces{next: repo, collector: c, store: store}
}

func (n *instrumentedNonces) Add(ctx context.Context, nonce socialauth.Nonce) (bool, error) {
	start := time.Now()
	ok, err := n.next.Add(ctx, nonce)
	n.collector.observeDuration(n.store, "nonce_add", start)

	switch {
	case err != nil:
		n.collector.nonceTotal.WithLabelValues("error").Inc()
	case ok:
		n.collector.nonceTotal.WithLabelValues("accepted").Inc()
	default:
		n.collector.nonceTotal.WithLabelValues("replayed").Inc()
	}
	return ok, err
}

func (n *instrumentedNonces) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	start := time.Now()
	removed, err := n.next.DeleteOlderThan(ctx, cutoff)
	n.collector.observeDuration(n.store, "nonce_prune", start)
	if err == nil {
		n.collector.ObservePrune(n.store+"_nonces", removed)
	}
	return removed, err
}
