package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/dispatch/internal/dispatcher"
	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/scheduler"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	NotificationsSubmitted *prometheus.CounterVec
	NotificationsSent      *prometheus.CounterVec
	NotificationsFailed    *prometheus.CounterVec
	NotificationsRetried   *prometheus.CounterVec
	NotificationsExpired   prometheus.Counter
	FallbackSends          *prometheus.CounterVec
	RateLimitedRequests    prometheus.Counter
	NotificationLatency    *prometheus.HistogramVec
	QueueDepthHigh         prometheus.Gauge
	QueueDepthNormal       prometheus.Gauge
	QueueDepthLow          prometheus.Gauge
	RetrySweepRequeued     prometheus.Counter
	StaleLeasesReleased    prometheus.Counter
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_submitted_total",
			Help: "Total number of accepted send requests.",
		}, []string{"channel"}),

		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of successfully delivered notifications.",
		}, []string{"channel"}),

		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of permanently failed notifications.",
		}, []string{"channel", "error_code"}),

		NotificationsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_retried_total",
			Help: "Total number of retry attempts scheduled after transient failures.",
		}, []string{"channel"}),

		NotificationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_expired_total",
			Help: "Total number of notifications expired before delivery.",
		}),

		FallbackSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_fallback_sends_total",
			Help: "Total number of sends completed on a fallback channel.",
		}, []string{"from", "to"}),

		RateLimitedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Total number of API requests rejected by the per-client rate limit.",
		}),

		NotificationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_processing_seconds",
			Help:    "Provider send latency per delivery attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		QueueDepthHigh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth_high",
			Help: "Current number of items in the high-priority queue.",
		}),
		QueueDepthNormal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth_normal",
			Help: "Current number of items in the normal-priority queue.",
		}),
		QueueDepthLow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth_low",
			Help: "Current number of items in the low-priority queue.",
		}),

		RetrySweepRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retry_sweep_requeued_total",
			Help: "Total number of due retries re-enqueued by the scheduler sweep.",
		}),

		StaleLeasesReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stale_leases_released_total",
			Help: "Total number of SENDING rows returned to PENDING after a lease timeout.",
		}),
	}

	reg.MustRegister(
		m.NotificationsSubmitted,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.NotificationsRetried,
		m.NotificationsExpired,
		m.FallbackSends,
		m.RateLimitedRequests,
		m.NotificationLatency,
		m.QueueDepthHigh,
		m.QueueDepthNormal,
		m.QueueDepthLow,
		m.RetrySweepRequeued,
		m.StaleLeasesReleased,
	)

	return m
}

// DispatcherHooks centralises the prometheus observation calls so the
// dispatcher stays metrics-agnostic.
func (m *Metrics) DispatcherHooks() dispatcher.Hooks {
	return dispatcher.Hooks{
		OnSubmitted: func(ch domain.Channel) {
			m.NotificationsSubmitted.WithLabelValues(string(ch)).Inc()
		},
		OnSent: func(ch domain.Channel, latency time.Duration) {
			m.NotificationsSent.WithLabelValues(string(ch)).Inc()
			m.NotificationLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
		},
		OnFailed: func(ch domain.Channel, errorCode string) {
			m.NotificationsFailed.WithLabelValues(string(ch), errorCode).Inc()
		},
		OnRetried: func(ch domain.Channel) {
			m.NotificationsRetried.WithLabelValues(string(ch)).Inc()
		},
		OnFallback: func(from, to domain.Channel) {
			m.FallbackSends.WithLabelValues(string(from), string(to)).Inc()
		},
	}
}

// SchedulerHooks wires the sweep counters.
func (m *Metrics) SchedulerHooks() scheduler.Hooks {
	return scheduler.Hooks{
		OnRequeued: func(count int) {
			m.RetrySweepRequeued.Add(float64(count))
		},
		OnExpired: func(count int) {
			m.NotificationsExpired.Add(float64(count))
		},
		OnReleased: func(count int) {
			m.StaleLeasesReleased.Add(float64(count))
		},
	}
}

// ObserveQueueDepths refreshes the queue depth gauges from a snapshot.
func (m *Metrics) ObserveQueueDepths(high, normal, low int) {
	m.QueueDepthHigh.Set(float64(high))
	m.QueueDepthNormal.Set(float64(normal))
	m.QueueDepthLow.Set(float64(low))
}
