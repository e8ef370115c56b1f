// Package metrics exposes server counters in the Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several servers can run in one process
// (tests do).
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	backups  *prometheus.CounterVec
	exported prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatvault_rpc_requests_total",
				Help: "Number of handled procedures by result code",
			},
			[]string{"procedure", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatvault_rpc_duration_seconds",
				Help:    "Procedure latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"procedure"},
		),
		backups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatvault_backups_total",
				Help: "Number of backup runs by result",
			},
			[]string{"result"},
		),
		exported: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatvault_backup_records",
				Help: "Records written by the last successful backup",
			},
		),
	}
	m.registry.MustRegister(m.requests, m.duration, m.backups, m.exported)
	return m
}

// ObserveRPC records one handled procedure.
func (m *Metrics) ObserveRPC(procedure, code string, d time.Duration) {
	m.requests.WithLabelValues(procedure, code).Inc()
	m.duration.WithLabelValues(procedure).Observe(d.Seconds())
}

// ObserveBackup records one backup run.
func (m *Metrics) ObserveBackup(records int, err error) {
	if err != nil {
		m.backups.WithLabelValues("error").Inc()
		return
	}
	m.backups.WithLabelValues("ok").Inc()
	m.exported.Set(float64(records))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "Starting metrics server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
