// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flexvote"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	Height      prometheus.Gauge
	Events      *prometheus.CounterVec
	Expressed   *prometheus.CounterVec
	Casts       prometheus.Counter
	Checkpoints prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "height",
			Help:      "Last host chain height applied.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Host chain events processed, by type and result.",
		}, []string{"type", "result"}),
		Expressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expressed_votes_total",
			Help:      "Successful vote expressions, by support.",
		}, []string{"support"}),
		Casts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_casts_total",
			Help:      "Successful pool casts on the governor.",
		}),
		Checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_written_total",
			Help:      "Raw balance checkpoints written, including the aggregate.",
		}),
	}
	m.registry.MustRegister(m.Height, m.Events, m.Expressed, m.Casts, m.Checkpoints)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SetHeight(h uint64) {
	if m != nil {
		m.Height.Set(float64(h))
	}
}

func (m *Metrics) Event(typ string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.Events.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) Express(support string) {
	if m != nil {
		m.Expressed.WithLabelValues(support).Inc()
	}
}

func (m *Metrics) Cast() {
	if m != nil {
		m.Casts.Inc()
	}
}

func (m *Metrics) Checkpoint() {
	if m != nil {
		m.Checkpoints.Inc()
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
