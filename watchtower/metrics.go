package watchtower

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusWatchtowerSwaps           prometheus.Gauge
	prometheusWatchtowerVaults          prometheus.Gauge
	prometheusWatchtowerSyncs           prometheus.Counter
	prometheusWatchtowerSyncErrors      prometheus.Counter
	prometheusWatchtowerBundles         *prometheus.CounterVec
	prometheusWatchtowerClaimsSubmitted *prometheus.CounterVec

	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusWatchtowerSwaps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchtower",
			Name:      "tracked_swaps",
			Help:      "Number of escrows watched for a bitcoin output",
		},
	)
	prometheusWatchtowerVaults = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "watchtower",
			Name:      "tracked_vaults",
			Help:      "Number of open vaults watched for withdrawals",
		},
	)
	prometheusWatchtowerSyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Name:      "syncs",
			Help:      "Number of completed syncs to a new tip",
		},
	)
	prometheusWatchtowerSyncErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Name:      "sync_errors",
			Help:      "Number of failed syncs",
		},
	)
	prometheusWatchtowerBundles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Name:      "claim_bundles_built",
			Help:      "Number of claim bundles built",
		},
		[]string{"kind"},
	)
	prometheusWatchtowerClaimsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Name:      "claims_submitted",
			Help:      "Number of claim submissions by result",
		},
		[]string{"result"},
	)
}
