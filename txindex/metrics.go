package txindex

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusTxIndexBlocksAdded  prometheus.Counter
	prometheusTxIndexForks        prometheus.Counter
	prometheusTxIndexPruned       prometheus.Counter
	prometheusTxIndexTipHeight    prometheus.Gauge
	prometheusTxIndexReplayLength prometheus.Histogram

	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusTxIndexBlocksAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Name:      "txindex_blocks_added",
			Help:      "Number of blocks indexed",
		},
	)
	prometheusTxIndexForks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Name:      "txindex_fork_replacements",
			Help:      "Number of indexed heights replaced by a block with a different hash",
		},
	)
	prometheusTxIndexPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Name:      "txindex_blocks_pruned",
			Help:      "Number of block manifests evicted from the window",
		},
	)
	prometheusTxIndexTipHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchtower",
			Name:      "txindex_tip_height",
			Help:      "Height of the newest indexed block",
		},
	)
	prometheusTxIndexReplayLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Name:      "txindex_sync_replay_blocks",
			Help:      "Number of blocks replayed per sync",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		},
	)
}
