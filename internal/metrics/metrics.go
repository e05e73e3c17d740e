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

	watchPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testboard",
			Subsystem: "watch",
			Name:      "polls_total",
			Help:      "Number of directory scans performed by the change detector.",
		}, []string{"directory"},
	)
	watchScanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testboard",
			Subsystem: "watch",
			Name:      "scan_errors_total",
			Help:      "Number of directory scans that failed and were treated as no change.",
		}, []string{"directory"},
	)
	watchChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testboard",
			Subsystem: "watch",
			Name:      "changes_total",
			Help:      "Number of change events emitted per watched directory.",
		}, []string{"directory"},
	)
	busSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "testboard",
			Subsystem: "bus",
			Name:      "subscribers",
			Help:      "Current number of live change subscribers.",
		},
	)
	busPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testboard",
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Number of change events published to the bus.",
		},
	)
	busDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testboard",
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Number of deliveries skipped because a subscriber buffer was full.",
		},
	)
	logRotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testboard",
			Subsystem: "log",
			Name:      "rotations_total",
			Help:      "Number of completed day-boundary log rollovers.",
		},
	)
	logRotationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testboard",
			Subsystem: "log",
			Name:      "rotation_failures_total",
			Help:      "Number of rollovers abandoned while keeping the previous file open.",
		},
	)
	aggregationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testboard",
			Subsystem: "aggregation",
			Name:      "requests_total",
			Help:      "Number of summary requests by operation and outcome.",
		}, []string{"operation", "outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		watchPolls, watchScanErrors, watchChanges,
		busSubscribers, busPublished, busDropped,
		logRotations, logRotationFailures,
		aggregationRequests,
	}
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
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the metrics of a specific gatherer, used when a private registry is wired.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncPoll(dir string) {
	if regOK.Load() {
		watchPolls.WithLabelValues(dir).Inc()
	}
}

func IncScanError(dir string) {
	if regOK.Load() {
		watchScanErrors.WithLabelValues(dir).Inc()
	}
}

func IncChange(dir string) {
	if regOK.Load() {
		watchChanges.WithLabelValues(dir).Inc()
	}
}

func SetSubscribers(n int) {
	if regOK.Load() {
		busSubscribers.Set(float64(n))
	}
}

func IncPublished() {
	if regOK.Load() {
		busPublished.Inc()
	}
}

func IncDropped() {
	if regOK.Load() {
		busDropped.Inc()
	}
}

func IncRotation() {
	if regOK.Load() {
		logRotations.Inc()
	}
}

func IncRotationFailure() {
	if regOK.Load() {
		logRotationFailures.Inc()
	}
}

func IncAggregation(operation, outcome string) {
	if regOK.Load() {
		aggregationRequests.WithLabelValues(operation, outcome).Inc()
	}
}
