// Package metrics records ingestion run metrics on a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "vndrag"

type Metrics struct {
	registry *prometheus.Registry

	documents         *prometheus.CounterVec
	chunksEmbedded    prometheus.Counter
	embeddingRequests *prometheus.CounterVec
	pointsUpserted    prometheus.Counter
	pointsDeleted     prometheus.Counter
	runDuration       prometheus.Gauge
	lastSuccess       prometheus.Gauge
	runs              *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Documents by final state of their reconciliation pass.",
		}, []string{"state"}),
		chunksEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_embedded_total",
			Help:      "Chunks sent to the embedding service and returned.",
		}),
		embeddingRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding batch attempts by outcome.",
		}, []string{"outcome"}),
		pointsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_points_upserted_total",
			Help:      "Points written to the vector index.",
		}),
		pointsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_points_deleted_total",
			Help:      "Points removed from the vector index.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last reconciliation run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without a systemic failure.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.documents,
		m.chunksEmbedded,
		m.embeddingRequests,
		m.pointsUpserted,
		m.pointsDeleted,
		m.runDuration,
		m.lastSuccess,
		m.runs,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveDocument(state string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(state).Inc()
}

func (m *Metrics) AddChunksEmbedded(n int) {
	if m == nil {
		return
	}
	m.chunksEmbedded.Add(float64(n))
}

// EmbeddingAttempt records one batch attempt: "ok", "retry" or "failed".
func (m *Metrics) EmbeddingAttempt(outcome string) {
	if m == nil {
		return
	}
	m.embeddingRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddPointsUpserted(n int) {
	if m == nil {
		return
	}
	m.pointsUpserted.Add(float64(n))
}

func (m *Metrics) AddPointsDeleted(n int) {
	if m == nil {
		return
	}
	m.pointsDeleted.Add(float64(n))
}

// ObserveRun records a finished run. ok is false for systemic failures.
func (m *Metrics) ObserveRun(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
	if ok {
		m.lastSuccess.SetToCurrentTime()
		m.runs.WithLabelValues("ok").Inc()
		return
	}
	m.runs.WithLabelValues("failed").Inc()
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push sends the registry to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
