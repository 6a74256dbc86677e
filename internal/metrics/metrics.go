package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request counters
	entryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitroom_entry_requests_total",
			Help: "Total queue entry requests",
		},
		[]string{"status"},
	)

	statusRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitroom_status_requests_total",
			Help: "Total queue status requests",
		},
		[]string{"status"},
	)

	// Scheduler counters
	promotedUsers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waitroom_promoted_users_total",
			Help: "Total users promoted from the waiting queue",
		},
	)

	ticketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waitroom_tickets_issued_total",
			Help: "Total admission tickets issued",
		},
	)

	ticketsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waitroom_tickets_expired_total",
			Help: "Total admission tickets reaped after expiry",
		},
	)

	waitersEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitroom_waiters_evicted_total",
			Help: "Total waiters evicted without promotion",
		},
		[]string{"reason"},
	)

	// Capacity gauges, refreshed once per scheduling cycle
	waitingUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waitroom_waiting_users",
			Help: "Current number of users in the waiting queue",
		},
	)

	joiningUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waitroom_joining_users",
			Help: "Current number of unexpired admission tickets",
		},
	)

	currentUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waitroom_current_users",
			Help: "Current number of users reported by the protected service",
		},
	)

	softCap = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waitroom_soft_cap",
			Help: "Effective admission capacity in use",
		},
	)

	availableSlots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waitroom_available_slots",
			Help: "Admission slots available in the last scheduling cycle",
		},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waitroom_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

// RecordEntryRequest records a queue entry attempt with its outcome status
func RecordEntryRequest(status string) {
	entryRequests.WithLabelValues(status).Inc()
}

// RecordStatusRequest records a queue status poll with its outcome status
func RecordStatusRequest(status string) {
	statusRequests.WithLabelValues(status).Inc()
}

// RecordPromotions records users promoted to the joining set
func RecordPromotions(count int) {
	if count <= 0 {
		return
	}
	promotedUsers.Add(float64(count))
	ticketsIssued.Add(float64(count))
}

// RecordTicketsExpired records tickets removed by the reaper
func RecordTicketsExpired(count int) {
	if count <= 0 {
		return
	}
	ticketsExpired.Add(float64(count))
}

// RecordEviction records a waiter removed from the queue without promotion
func RecordEviction(reason string) {
	waitersEvicted.WithLabelValues(reason).Inc()
}

// UpdateCapacityGauges refreshes the per-cycle capacity gauges
func UpdateCapacityGauges(waiting, joining, current, capacity, slots int64) {
	waitingUsers.Set(float64(waiting))
	joiningUsers.Set(float64(joining))
	currentUsers.Set(float64(current))
	softCap.Set(float64(capacity))
	availableSlots.Set(float64(slots))
}

// RecordRequestDuration records HTTP request duration for an operation
func RecordRequestDuration(operation string, durationSeconds float64) {
	requestDuration.WithLabelValues(operation).Observe(durationSeconds)
}
