// Package metrics exposes event-log activity as Prometheus metrics.
//
// An Observer is an eventlog.Handler: it is registered on the event log
// next to the console and the store, and counts every record it sees.
// Metrics live in the Observer's own registry, never the global one, so
// several activations (and tests) in one process do not collide.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/rulebook/internal/eventlog"
	"github.com/roach88/rulebook/internal/ir"
)

const (
	namespace = "rulebook"

	rulesetLabel = "ruleset"
	typeLabel    = "type"
	actionLabel  = "action"
	statusLabel  = "status"
	kindLabel    = "kind"
	statLabel    = "stat"
)

// Observer counts event-log records.
type Observer struct {
	registry *prometheus.Registry

	records   *prometheus.CounterVec
	actions   *prometheus.CounterVec
	events    *prometheus.CounterVec
	shutdowns *prometheus.CounterVec
	stats     *prometheus.GaugeVec
	lastSeq   prometheus.Gauge
}

var _ eventlog.Handler = (*Observer)(nil)

// NewObserver creates an Observer with a fresh registry. The registry also
// carries the Go runtime and process collectors.
func NewObserver() *Observer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Observer{
		registry: reg,
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "The total number of event log records by type",
		}, []string{typeLabel}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "The total number of actions run, by ruleset, action and status",
		}, []string{rulesetLabel, actionLabel, statusLabel}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "The total number of events posted to the engine by ruleset",
		}, []string{rulesetLabel}),
		shutdowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdowns_total",
			Help:      "The total number of ruleset shutdowns by kind",
		}, []string{rulesetLabel, kindLabel}),
		stats: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_stat",
			Help:      "The latest numeric engine session statistics by ruleset",
		}, []string{rulesetLabel, statLabel}),
		lastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_record_seq",
			Help:      "The sequence number of the last observed record",
		}),
	}
}

// Registry returns the registry holding the Observer's metrics.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Handle updates the metrics for r. It never fails.
func (o *Observer) Handle(_ context.Context, r eventlog.Record) error {
	o.records.WithLabelValues(string(r.Type)).Inc()
	o.lastSeq.Set(float64(r.Seq))

	switch r.Type {
	case eventlog.TypeAction:
		o.actions.WithLabelValues(r.Ruleset, r.Action, r.Status).Inc()
	case eventlog.TypeProcessedEvent:
		o.events.WithLabelValues(r.Ruleset).Inc()
	case eventlog.TypeShutdown:
		o.shutdowns.WithLabelValues(r.Ruleset, r.Kind).Inc()
	case eventlog.TypeSessionStats:
		for name, v := range r.Stats {
			if f, ok := ir.ToFloat(v); ok {
				o.stats.WithLabelValues(r.Ruleset, name).Set(f)
			}
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{Registry: o.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (o *Observer) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", o.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
