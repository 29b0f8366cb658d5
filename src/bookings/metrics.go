package bookings

import "github.com/prometheus/client_golang/prometheus"

var bookingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "thruster_bookings_total",
	Help: "Booking state changes and deferred settlements.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(bookingsTotal)
}
