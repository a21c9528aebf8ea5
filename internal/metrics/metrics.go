// Package metrics holds the Prometheus collectors of the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rfqstack"

var (
	messagesDiscovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_discovered_total",
			Help:      "Candidate RFQ messages recorded as new ingestion requests.",
		},
		[]string{"folder"},
	)

	requestsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Pipeline runs by outcome (completed, failed, cancelled, skipped).",
		},
		[]string{"status"},
	)

	extractionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_attempts_total",
			Help:      "Requirement extraction calls by outcome.",
		},
		[]string{"outcome"},
	)

	attachmentsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_rejected_total",
			Help:      "Attachments refused at ingestion by reason.",
		},
		[]string{"reason"},
	)

	pollerHalts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_halts_total",
			Help:      "Times the poller stopped on a fatal authentication error.",
		},
	)

	pipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of one request pipeline from claim to terminal state.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	confidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence",
			Help:      "Confidence scores of completed requests.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Pipelines currently running.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		messagesDiscovered,
		requestsFinished,
		extractionAttempts,
		attachmentsRejected,
		pollerHalts,
		pipelineDuration,
		confidence,
		inFlight,
	)
}

func MessageDiscovered(folder string) {
	messagesDiscovered.WithLabelValues(folder).Inc()
}

func RequestFinished(status string, took time.Duration) {
	requestsFinished.WithLabelValues(status).Inc()
	if took > 0 {
		pipelineDuration.Observe(took.Seconds())
	}
}

func ExtractionAttempts(outcome string, attempts int) {
	if attempts <= 0 {
		return
	}
	extractionAttempts.WithLabelValues(outcome).Add(float64(attempts))
}

func AttachmentRejected(reason string) {
	attachmentsRejected.WithLabelValues(reason).Inc()
}

func PollerHalted() {
	pollerHalts.Inc()
}

func ObserveConfidence(score float64) {
	confidence.Observe(score)
}

func PipelineStarted() {
	inFlight.Inc()
}

func PipelineDone() {
	inFlight.Dec()
}
