package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamcap",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of successful worker starts.",
		}, []string{"component"},
	)
	workerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamcap",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of intentional worker stops (graceful or kill).",
		}, []string{"component"},
	)
	workerCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamcap",
			Subsystem: "worker",
			Name:      "crashes_total",
			Help:      "Number of unexpected worker exits.",
		}, []string{"component"},
	)
	reconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamcap",
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Number of stream reconnection attempts.",
		},
	)
	workerUptime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "streamcap",
			Subsystem: "worker",
			Name:      "uptime_seconds",
			Help:      "Uptime of the current worker, zero when stopped.",
		}, []string{"component"},
	)
	diskFree = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamcap",
			Subsystem: "disk",
			Name:      "free_mib",
			Help:      "Last observed free space on the recording volume in MiB.",
		},
	)
	guardPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamcap",
			Subsystem: "disk",
			Name:      "guard_paused",
			Help:      "Whether the disk guard is refusing admission (1) or admitting (0).",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{workerStarts, workerStops, workerCrashes, reconnectAttempts, workerUptime, diskFree, guardPaused}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(component string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(component).Inc()
	}
}

func IncStop(component string) {
	if regOK.Load() {
		workerStops.WithLabelValues(component).Inc()
	}
}

func IncCrash(component string) {
	if regOK.Load() {
		workerCrashes.WithLabelValues(component).Inc()
	}
}

func IncReconnectAttempt() {
	if regOK.Load() {
		reconnectAttempts.Inc()
	}
}

func SetUptime(component string, seconds float64) {
	if regOK.Load() {
		workerUptime.WithLabelValues(component).Set(seconds)
	}
}

func SetDiskFree(mib float64) {
	if regOK.Load() {
		diskFree.Set(mib)
	}
}

func SetGuardPaused(paused bool) {
	if regOK.Load() {
		v := 0.0
		if paused {
			v = 1.0
		}
		guardPaused.Set(v)
	}
}
