// Package metrics exposes socialauth activity and nonce traffic as
// Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "socialauth"

// Collector owns the socialauth metrics of one registry.
type Collector struct {
	activityTotal *prometheus.CounterVec
	outcomesTotal *prometheus.CounterVec
	nonceTotal    *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	prunedTotal   *prometheus.CounterVec
}

// New registers the collectors on reg, or the default registerer when nil.
// Registering twice on the same registry reuses the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		activityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Activity events recorded by the linker, nonces and associations",
		}, []string{"event", "provider"}),
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Handshake outcomes by kind and class",
		}, []string{"kind", "class"}),
		nonceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_checks_total",
			Help:      "Nonce insert attempts by result",
		}, []string{"result"}), // result: accepted|replayed|error
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of instrumented store operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store", "op"}),
		prunedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_total",
			Help:      "Rows removed by prune runs",
		}, []string{"store"}),
	}

	var err error
	if c.activityTotal, err = register(reg, c.activityTotal); err != nil {
		return nil, err
	}
	if c.outcomesTotal, err = register(reg, c.outcomesTotal); err != nil {
		return nil, err
	}
	if c.nonceTotal, err = register(reg, c.nonceTotal); err != nil {
		return nil, err
	}
	if c.storeDuration, err = register(reg, c.storeDuration); err != nil {
		return nil, err
	}
	if c.prunedTotal, err = register(reg, c.prunedTotal); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, err
	}
	return col, nil
}

// Handler serves the metrics of gatherer, or the default gatherer when nil.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Sink returns an ActivitySink counting every event. Chain it with another
// sink through Tee when events must also be persisted.
func (c *Collector) Sink() socialauth.ActivitySink {
	return socialauth.ActivitySinkFunc(func(_ context.Context, event socialauth.ActivityEvent) error {
		c.activityTotal.WithLabelValues(string(event.EventType), event.Provider).Inc()
		return nil
	})
}

// ObserveOutcome counts err when it carries an outcome. Other errors are
// counted under kind "unclassified".
func (c *Collector) ObserveOutcome(err error) {
	if err == nil {
		return
	}
	if out, ok := socialauth.AsOutcome(err); ok {
		c.outcomesTotal.WithLabelValues(out.Kind.String(), out.Class().String()).Inc()
		return
	}
	c.outcomesTotal.WithLabelValues("unclassified", socialauth.ClassUnknown.String()).Inc()
}

// ObservePrune adds the rows removed from store.
func (c *Collector) ObservePrune(store string, removed int64) {
	if removed > 0 {
		c.prunedTotal.WithLabelValues(store).Add(float64(removed))
	}
}

func (c *Collector) observeDuration(store, op string, start time.Time) {
	c.storeDuration.WithLabelValues(store, op).Observe(time.Since(start).Seconds())
}

// Tee fans an event out to every sink, returning the first error.
func Tee(sinks ...socialauth.ActivitySink) socialauth.ActivitySink {
	return socialauth.ActivitySinkFunc(func(ctx context.Context, event socialauth.ActivityEvent) error {
		var first error
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
