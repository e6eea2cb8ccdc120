// Package metrics exposes Prometheus collectors for the query engine and a
// standalone metrics server listening on its own address.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eplq_queries_total",
		Help: "Total range queries by outcome",
	}, []string{"outcome"})

	QueryDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eplq_query_duration_ms",
		Help:    "Range query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})

	CandidatesScanned = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eplq_query_candidates_scanned",
		Help:    "Candidates evaluated per query after index pruning",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
	})

	CandidatesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eplq_candidates_pruned_total",
		Help: "Candidates skipped via spatial index prefixes",
	})

	DecryptFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eplq_decrypt_failures_total",
		Help: "Per-candidate decryption failures treated as non-matches",
	})

	ThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eplq_throttled_total",
		Help: "Requests rejected by per-user limits",
	})

	UploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eplq_poi_uploads_total",
		Help: "POI records written",
	})

	UploadBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eplq_poi_upload_batches_total",
		Help: "Bulk upload batches committed",
	})

	KeyRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eplq_key_rotations_total",
		Help: "Completed key rotations",
	})
)

// MetricsServer serves the Prometheus scrape endpoint on a dedicated
// address so operational traffic stays off the API listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given listen address.
func New(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks serving scrapes until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
