// Package metrics holds the Prometheus instruments for the meetings backend.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aura_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Meeting lifecycle
	MeetingsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_meetings_start_or_join_total",
			Help: "Start-or-join calls by outcome",
		},
		[]string{"outcome"}, // "created", "joined"
	)

	MeetingLeaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_meeting_leaves_total",
			Help: "Recorded participant leaves by result",
		},
		[]string{"result"}, // "continue", "should_finalize", "already_handled"
	)

	MeetingFinalizes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_meeting_finalizes_total",
			Help: "Finalize attempts by outcome",
		},
		[]string{"outcome"}, // "ended", "deleted", "already_handled"
	)

	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aura_postprocess_dispatch_failures_total",
		Help: "Post-processing hand-offs that failed to be accepted",
	})

	StuckMeetingsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aura_meetings_stuck_resolved_total",
		Help: "Meetings resolved by the ending-state sweeper",
	})

	SummariesRedispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aura_summaries_redispatched_total",
		Help: "Ended meetings without a summary handed to post-processing again by the sweeper",
	})

	// Post-processing worker
	SummaryJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aura_summary_jobs_total",
			Help: "Summary jobs processed by result",
		},
		[]string{"result"}, // "ok", "skipped", "retried", "failed"
	)

	SummarizerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aura_summarizer_duration_seconds",
		Help:    "Latency of summary generation calls",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
	})

	SummarizerBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aura_summarizer_breaker_state",
		Help: "Summarizer circuit breaker state (0=closed, 1=half-open, 2=open)",
	})

	// Realtime
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aura_websocket_connections",
		Help: "Currently open meeting event websocket connections",
	})
)

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStartOrJoin counts a successful start-or-join.
func RecordStartOrJoin(created bool) {
	if created {
		MeetingsStarted.WithLabelValues("created").Inc()
		return
	}
	MeetingsStarted.WithLabelValues("joined").Inc()
}

// RecordSummary records one summarizer call.
func RecordSummary(duration time.Duration) {
	SummarizerDuration.Observe(duration.Seconds())
}
