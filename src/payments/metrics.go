package payments

import "github.com/prometheus/client_golang/prometheus"

var paymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "thruster_payments_total",
	Help: "Payment notifications by provider, outcome and whether they were duplicates.",
}, []string{"provider", "outcome", "duplicate"})

func init() {
	prometheus.MustRegister(paymentsTotal)
}
