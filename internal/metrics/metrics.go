// Package metrics registers the Prometheus instruments for the RPC and
// synchronization paths.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rpcItemsTotal *prometheus.CounterVec
	batchDuration prometheus.Histogram
	syncTotal     *prometheus.CounterVec
)

// Init registers all instruments with the given registry. Call once at
// startup; observation helpers are no-ops before that.
func Init(reg prometheus.Registerer) error {
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "rpc",
			Name:      "items_total",
			Help:      "RPC items processed, by method and outcome",
		},
		[]string{"method", "outcome"},
	)
	if err := reg.Register(items); err != nil {
		return fmt.Errorf("register items_total: %w", err)
	}

	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fieldsync",
			Subsystem: "rpc",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one batch invocation",
			Buckets:   prometheus.DefBuckets,
		},
	)
	if err := reg.Register(duration); err != nil {
		return fmt.Errorf("register batch_duration_seconds: %w", err)
	}

	sync := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Subsystem: "sync",
			Name:      "packages_total",
			Help:      "Synchronization packages processed, by outcome",
		},
		[]string{"outcome"},
	)
	if err := reg.Register(sync); err != nil {
		return fmt.Errorf("register packages_total: %w", err)
	}

	rpcItemsTotal = items
	batchDuration = duration
	syncTotal = sync
	return nil
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveItem(method string, success bool) {
	if rpcItemsTotal == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "fail"
	}
	rpcItemsTotal.WithLabelValues(method, outcome).Inc()
}

func ObserveBatch(d time.Duration) {
	if batchDuration == nil {
		return
	}
	batchDuration.Observe(d.Seconds())
}

func ObserveSyncPackage(ok bool) {
	if syncTotal == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "fail"
	}
	syncTotal.WithLabelValues(outcome).Inc()
}
