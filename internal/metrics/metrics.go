package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts served requests by route template and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qms",
			Name:      "http_requests_total",
			Help:      "The total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qms",
			Name:      "http_request_duration_seconds",
			Help:      "Time spent serving HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	TicketsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qms",
			Name:      "tickets_created_total",
			Help:      "The total number of tickets issued",
		},
		[]string{"office"},
	)

	// TicketTransitions counts committed state machine moves.
	TicketTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qms",
			Name:      "ticket_transitions_total",
			Help:      "The total number of ticket status transitions",
		},
		[]string{"action"},
	)

	AppointmentsBooked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qms",
			Name:      "appointments_booked_total",
			Help:      "The total number of appointments booked",
		},
		[]string{"office"},
	)

	AppointmentsConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qms",
			Name:      "appointments_confirmed_total",
			Help:      "The total number of appointments converted into tickets",
		},
		[]string{"office"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qms",
			Name:      "notifications_sent_total",
			Help:      "The total number of notify intents handed to the sink",
		},
		[]string{"sink", "kind"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qms",
			Name:      "notifications_failed_total",
			Help:      "The total number of notify intents the sink rejected",
		},
		[]string{"sink", "kind"},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "qms",
			Name:      "notifications_dropped_total",
			Help:      "The total number of notify intents dropped because the buffer was full",
		},
	)
)
