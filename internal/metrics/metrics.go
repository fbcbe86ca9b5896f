package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "darshan",
			Name:      "bookings_created_total",
			Help:      "Bookings successfully created.",
		},
	)

	bookingsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "darshan",
			Name:      "bookings_cancelled_total",
			Help:      "Bookings cancelled within the policy window.",
		},
	)

	capacityRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "darshan",
			Name:      "capacity_rejections_total",
			Help:      "Reservation attempts rejected because the slot was full.",
		},
	)

	checkins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "darshan",
			Name:      "checkins_total",
			Help:      "Check-in attempts by gate decision.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "darshan",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingsCreated, bookingsCancelled, capacityRejections, checkins, httpRequests)
	})
}

// IncBookingCreated increments the created-bookings counter.
func IncBookingCreated() { bookingsCreated.Inc() }

// IncBookingCancelled increments the cancelled-bookings counter.
func IncBookingCancelled() { bookingsCancelled.Inc() }

// IncCapacityRejection increments the full-slot rejection counter.
func IncCapacityRejection() { capacityRejections.Inc() }

// IncCheckin increments the check-in counter for a gate decision label.
func IncCheckin(result string) { checkins.WithLabelValues(result).Inc() }

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) { httpRequests.WithLabelValues(endpoint).Inc() }
