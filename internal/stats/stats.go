// Package stats exposes the engine's run-time counters as Prometheus
// metrics, the same singleton-registry pattern the pack's ingestion
// metrics package uses: a package-level struct built once behind
// sync.Once, registered with the default registry, and served over
// /metrics by an opt-in HTTP listener cmd/tundra starts when
// -metrics-addr is set.
package stats

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter and histogram the driver and scheduler
// update over one process's lifetime, across however many Run calls it
// makes.
type Metrics struct {
	once sync.Once

	NodesSucceeded prometheus.Counter
	NodesUpToDate  prometheus.Counter
	NodesFailed    prometheus.Counter
	NodesNotBuilt  prometheus.Counter

	ScanCacheHits   prometheus.Counter
	ScanCacheMisses prometheus.Counter

	DigestCacheHits   prometheus.Counter
	DigestCacheMisses prometheus.Counter

	PassDuration   prometheus.Histogram
	ActionDuration prometheus.Histogram
}

// Default is the process-wide metrics instance, mirroring the pack's
// package-level singleton so every internal package can record against
// it without threading a *Metrics through every call.
var Default = &Metrics{}

func (m *Metrics) init() {
	m.once.Do(func() {
		m.NodesSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tundra_nodes_succeeded_total", Help: "DAG nodes that rebuilt and succeeded.",
		})
		m.NodesUpToDate = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tundra_nodes_uptodate_total", Help: "DAG nodes skipped because their input signature was unchanged.",
		})
		m.NodesFailed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tundra_nodes_failed_total", Help: "DAG nodes whose action exited nonzero or left an expected output missing.",
		})
		m.NodesNotBuilt = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tundra_nodes_not_built_total", Help: "DAG nodes left Blocked when scheduling stopped early.",
		})

		m.ScanCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tundra_scan_cache_hits_total", Help: "Scanner include-list lookups served from the scan cache.",
		})
		m.ScanCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tundra_scan_cache_misses_total", Help: "Scanner include-list lookups that required re-scanning a file.",
		})

		m.DigestCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tundra_digest_cache_hits_total", Help: "Content-digest lookups served from the digest cache.",
		})
		m.DigestCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tundra_digest_cache_misses_total", Help: "Content-digest lookups that required re-hashing a file.",
		})

		buckets := []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
		m.PassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "tundra_pass_duration_seconds", Help: "Wall-clock time to run one build pass to completion.", Buckets: buckets,
		})
		m.ActionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "tundra_action_duration_seconds", Help: "Wall-clock time of one node's action process.", Buckets: buckets,
		})

		prometheus.MustRegister(
			m.NodesSucceeded, m.NodesUpToDate, m.NodesFailed, m.NodesNotBuilt,
			m.ScanCacheHits, m.ScanCacheMisses,
			m.DigestCacheHits, m.DigestCacheMisses,
			m.PassDuration, m.ActionDuration,
		)
	})
}

func init() {
	Default.init()
}

// Server serves /metrics on addr until ctx is cancelled. cmd/tundra
// starts this only when -metrics-addr is non-empty; the core driver
// never listens on a socket on its own.
func Server(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errc:
		return err
	}
}
