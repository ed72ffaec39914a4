// Package api wires the HTTP surface: routes, middleware and handlers.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/api/handler"
	apimw "github.com/notifyhub/dispatch/internal/api/middleware"
	"github.com/notifyhub/dispatch/internal/channel"
	"github.com/notifyhub/dispatch/internal/dispatcher"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *dispatcher.Service,
	chRouter *channel.Router,
	limiter *ratelimiter.ClientLimiter,
	q *queue.PriorityQueue,
	db handler.Pinger,
	reg prometheus.Gatherer,
	onRateLimited apimw.RateLimitObserver,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger(logger))

	nh := handler.NewNotificationHandler(svc, logger)
	hh := handler.NewHealthHandler(chRouter, db)
	mh := handler.NewMetricsHandler(q)

	r.Get("/health", hh.Live)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", hh.Health)
		r.Get("/metrics", mh.GetMetrics)

		// Everything below requires an API key and consumes the client's
		// rate-limit window.
		r.Group(func(r chi.Router) {
			r.Use(apimw.Authenticate(limiter, onRateLimited, logger))

			r.Post("/send", nh.Send)
			r.Get("/status/{id}", nh.Status)
			r.Post("/retry/{id}", nh.ForceRetry)
			r.Get("/notifications", nh.List)
		})
	})

	return r
}
