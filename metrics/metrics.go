// Package metrics exposes Prometheus gauges and counters for the
// executor/postman/chain actors (spec §11 ambient stack). Unlike the
// teacher's own hand-rolled registry/exporter, this wires the real
// github.com/prometheus/client_golang client directly, the way a
// process that actually ships to a Prometheus scrape target would.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of series the executor, postman, and chain actors
// update as they run. A nil *Metrics is never handed to an actor;
// callers that don't want metrics construct one over a throwaway
// registry instead, keeping the actor code itself unconditional.
type Metrics struct {
	registry *prometheus.Registry

	ExecutorHeight      prometheus.Gauge
	ExecutorQuotaUsed   prometheus.Gauge
	ExecutorBlocksGrown prometheus.Counter
	ExecutorTxRejected  *prometheus.CounterVec

	PostmanBacklogDepth   prometheus.Gauge
	PostmanHeight         prometheus.Gauge
	PostmanRollbacks      prometheus.Counter
	PostmanResends        prometheus.Counter

	ChainHeight       prometheus.Gauge
	ChainBlocksStored prometheus.Counter
	ChainLogsScanned  prometheus.Counter

	SnapshotChunksWritten prometheus.Counter
	SnapshotChunksFed     prometheus.Counter
	SnapshotRestoreAborts prometheus.Counter
}

const namespace = "cita"

// New registers every series on a fresh registry and returns the bundle
// actors update directly.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ExecutorHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "executor", Name: "height",
			Help: "height of the block the executor is currently building or has last closed",
		}),
		ExecutorQuotaUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "executor", Name: "quota_used",
			Help: "gas consumed by the in-progress block's GasPool",
		}),
		ExecutorBlocksGrown: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "executor", Name: "blocks_grown_total",
			Help: "blocks closed by Executor.Grow",
		}),
		ExecutorTxRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "executor", Name: "tx_rejected_total",
			Help: "transactions rejected by admission checks, labeled by reason",
		}, []string{"reason"}),

		PostmanBacklogDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "postman", Name: "backlog_depth",
			Help: "number of heights buffered in the backlog awaiting in-order delivery",
		}),
		PostmanHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "postman", Name: "height",
			Help: "highest height the postman has delivered to Chain",
		}),
		PostmanRollbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "postman", Name: "rollbacks_total",
			Help: "ErrRollback signals raised back to the supervisor",
		}),
		PostmanResends: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "postman", Name: "resends_total",
			Help: "cached ExecutedResults replayed to a lagging Chain",
		}),

		ChainHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "chain", Name: "height",
			Help: "height of the most recently committed block",
		}),
		ChainBlocksStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "blocks_stored_total",
			Help: "blocks persisted by CommitBlock or InsertBlockUnordered",
		}),
		ChainLogsScanned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "logs_scanned_total",
			Help: "log entries visited while evaluating a Filter in Logs",
		}),

		SnapshotChunksWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "chunks_written_total",
			Help: "compressed block chunks written by Take",
		}),
		SnapshotChunksFed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "chunks_fed_total",
			Help: "compressed block chunks decoded by Restorer.Feed",
		}),
		SnapshotRestoreAborts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "restore_aborts_total",
			Help: "restores stopped early by Restorer.Abort",
		}),
	}
}

// Handler returns the /metrics HTTP handler cmd/cita-node mounts when
// MetricsEnabled is set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server exposing Handler on addr until ctx is
// canceled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
