package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide metrics. Registered once on the default registry and scraped
// via the HTTP server in this package.
var (
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowsentry",
		Subsystem: "fetcher",
		Name:      "requests_total",
		Help:      "Provider fetch attempts by venue, data kind and outcome.",
	}, []string{"venue", "kind", "outcome"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowsentry",
		Subsystem: "fetcher",
		Name:      "cache_lookups_total",
		Help:      "Record cache lookups by data kind and result.",
	}, []string{"kind", "result"})

	StreamMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowsentry",
		Subsystem: "fetcher",
		Name:      "stream_messages_total",
		Help:      "Websocket stream messages consumed by venue.",
	}, []string{"venue"})

	ScanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowsentry",
		Subsystem: "scheduler",
		Name:      "scan_cycles_total",
		Help:      "Completed scan cycles by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowsentry",
		Subsystem: "scheduler",
		Name:      "scan_duration_seconds",
		Help:      "Wall-clock duration of a full watchlist scan.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"strategy"})

	SymbolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowsentry",
		Subsystem: "scheduler",
		Name:      "symbol_errors_total",
		Help:      "Per-symbol pipeline errors contained within a scan.",
	}, []string{"strategy", "stage"})

	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowsentry",
		Subsystem: "signals",
		Name:      "emitted_total",
		Help:      "Scored signals handed to the notification sink.",
	}, []string{"strategy", "type"})

	SignalsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowsentry",
		Subsystem: "signals",
		Name:      "suppressed_total",
		Help:      "Signals suppressed by the cooldown tracker.",
	}, []string{"strategy", "type"})

	SupervisorRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowsentry",
		Subsystem: "scheduler",
		Name:      "restarts_total",
		Help:      "Supervised strategy restarts after stall detection.",
	}, []string{"strategy"})

	NotifyDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowsentry",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Notification sink delivery attempts by outcome.",
	}, []string{"sink", "outcome"})
)
