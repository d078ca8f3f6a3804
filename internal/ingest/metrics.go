package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchesInsertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsloadgen_batches_inserted_total",
		Help: "Total batches acknowledged by the sink",
	})

	batchesLostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsloadgen_batches_lost_total",
		Help: "Total batches dropped after exhausting the retry budget",
	})

	documentsInsertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsloadgen_documents_inserted_total",
		Help: "Total documents acknowledged by the sink",
	})

	documentsLostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsloadgen_documents_lost_total",
		Help: "Total documents in batches dropped after retries",
	})

	insertRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsloadgen_insert_retries_total",
		Help: "Total insert retry attempts",
	})

	insertLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsloadgen_insert_latency_seconds",
		Help:    "Sink insert latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})

	throttleBatchSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsloadgen_throttle_batch_size",
		Help: "Current throttle-controlled batch size in documents",
	})

	throttleConcurrency = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsloadgen_throttle_concurrency",
		Help: "Current throttle-controlled active worker count",
	})

	throttleAdjustmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsloadgen_throttle_adjustments_total",
		Help: "Total throttle adjustments by direction",
	}, []string{"direction"})

	throttleState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsloadgen_throttle_state",
		Help: "Throttle state (0=healthy, 1=degraded, 2=saturated)",
	})
)

func init() {
	prometheus.MustRegister(batchesInsertedTotal)
	prometheus.MustRegister(batchesLostTotal)
	prometheus.MustRegister(documentsInsertedTotal)
	prometheus.MustRegister(documentsLostTotal)
	prometheus.MustRegister(insertRetriesTotal)
	prometheus.MustRegister(insertLatencySeconds)
	prometheus.MustRegister(throttleBatchSize)
	prometheus.MustRegister(throttleConcurrency)
	prometheus.MustRegister(throttleAdjustmentsTotal)
	prometheus.MustRegister(throttleState)

	throttleAdjustmentsTotal.WithLabelValues("up").Add(0)
	throttleAdjustmentsTotal.WithLabelValues("down").Add(0)
}
