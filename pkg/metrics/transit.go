package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeTransfers prometheus.Gauge
	bytesTransferred *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	cleanupsTotal   *prometheus.CounterVec
	transferErrors  *prometheus.CounterVec
)

func registerCollectors(reg *prometheus.Registry) {
	factory := promauto.With(reg)

	activeTransfers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "transit",
		Name:      "active_transfers",
		Help:      "Number of transfers currently in flight.",
	})

	bytesTransferred = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transit",
		Name:      "bytes_transferred_total",
		Help:      "Total bytes moved through the relay, by direction.",
	}, []string{"direction"})

	queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "transit",
		Name:      "queue_depth",
		Help:      "Sum of chunk queue depths across all active transfers.",
	})

	cleanupsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transit",
		Name:      "cleanups_total",
		Help:      "Number of completed Store.Cleanup runs, by outcome.",
	}, []string{"outcome"})

	transferErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transit",
		Name:      "transfer_errors_total",
		Help:      "Number of failed transfers, by error code.",
	}, []string{"code"})
}

// RecordTransferStarted increments the active transfer gauge. Nil-safe so
// callers don't need to guard every call site on IsEnabled.
func RecordTransferStarted() {
	if activeTransfers != nil {
		activeTransfers.Inc()
	}
}

// RecordTransferEnded decrements the active transfer gauge.
func RecordTransferEnded() {
	if activeTransfers != nil {
		activeTransfers.Dec()
	}
}

// RecordBytesTransferred adds n bytes to the counter for direction
// ("upload" or "download").
func RecordBytesTransferred(direction string, n int64) {
	if bytesTransferred != nil {
		bytesTransferred.WithLabelValues(direction).Add(float64(n))
	}
}

// RecordQueueDepth sets the current aggregate queue depth gauge.
func RecordQueueDepth(depth int) {
	if queueDepth != nil {
		queueDepth.Set(float64(depth))
	}
}

// RecordCleanup increments the cleanup counter for the given outcome
// (callers pass "performed" when Store.Cleanup returned nil, which includes
// a call that lost the single-flight challenge, or "failed").
func RecordCleanup(outcome string) {
	if cleanupsTotal != nil {
		cleanupsTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordTransferError increments the error counter for a transiterr code.
func RecordTransferError(code string) {
	if transferErrors != nil {
		transferErrors.WithLabelValues(code).Inc()
	}
}
