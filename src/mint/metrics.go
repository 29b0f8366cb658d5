package mint

import "github.com/prometheus/client_golang/prometheus"

var (
	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thruster_mint_attempts_total",
		Help: "Mint attempts by outcome.",
	}, []string{"outcome"})
	attemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "thruster_mint_attempt_duration_seconds",
		Help:    "Wall time of a mint attempt from claim to final write.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90},
	})
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "thruster_mint_queue_depth",
		Help: "Orders waiting for a mint worker.",
	})
	enqueueRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thruster_mint_enqueue_rejected_total",
		Help: "Enqueues dropped because the queue was full.",
	})
)

func init() {
	prometheus.MustRegister(attemptsTotal, attemptDuration, queueDepth, enqueueRejected)
}
