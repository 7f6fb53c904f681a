package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	remoteListeners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "viewsync_remote_listeners",
			Help: "Number of live remote listeners (one per target and predicate).",
		},
	)
	subscriptionHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "viewsync_subscription_handles",
			Help: "Number of subscription handles held by views.",
		},
	)
	snapshotsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsync_snapshots_total",
			Help: "Snapshots received from the remote store, by outcome.",
		},
		[]string{"outcome"},
	)
	recordsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsync_records_dropped_total",
			Help: "Records dropped by reducers because they failed the structural check.",
		},
		[]string{"entity"},
	)
	mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsync_mutations_total",
			Help: "Optimistic mutations by outcome.",
		},
		[]string{"kind", "outcome"},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsync_session_transitions_total",
			Help: "Session state machine transitions.",
		},
		[]string{"from", "to"},
	)
	remoteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsync_remote_errors_total",
			Help: "Errors reported by the remote layer, by kind.",
		},
		[]string{"kind"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "viewsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "viewsync_ws_active_connections",
			Help: "Number of websocket connections receiving view events.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsync_ws_events_total",
			Help: "View events pushed to websocket clients, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		remoteListeners,
		subscriptionHandles,
		snapshotsDelivered,
		recordsDropped,
		mutationsTotal,
		sessionTransitions,
		remoteErrors,
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
	)
}

func IncListeners() { remoteListeners.Inc() }

func DecListeners() { remoteListeners.Dec() }

func IncHandles() { subscriptionHandles.Inc() }

func DecHandles() { subscriptionHandles.Dec() }

// IncSnapshot records a delivered ("delivered") or dropped ("stale") snapshot.
func IncSnapshot(outcome string) { snapshotsDelivered.WithLabelValues(outcome).Inc() }

func IncDropped(entity string) { recordsDropped.WithLabelValues(entity).Inc() }

// IncMutation records a mutation outcome: committed, rolled_back or discarded.
func IncMutation(kind, outcome string) { mutationsTotal.WithLabelValues(kind, outcome).Inc() }

func IncTransition(from, to string) { sessionTransitions.WithLabelValues(from, to).Inc() }

func IncRemoteError(kind string) { remoteErrors.WithLabelValues(kind).Inc() }

func ObserveHTTP(method, route string, status int, took time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(took.Seconds())
}

func IncWSActive() { wsActiveConnections.Inc() }

func DecWSActive() { wsActiveConnections.Dec() }

// IncWSEvent records a pushed ("sent") or dropped ("dropped") event.
func IncWSEvent(outcome string) { wsEventsTotal.WithLabelValues(outcome).Inc() }
