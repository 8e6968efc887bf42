package http

import (
	"net/http"
	"time"

	"log/slog"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reqgateway/gateway/internal/http/handlers"
	ourMiddleware "github.com/reqgateway/gateway/internal/http/middleware"
	"github.com/reqgateway/gateway/internal/observability"
)

type RouterDeps struct {
	Logger          *slog.Logger
	Metrics         *observability.Metrics
	SentryHandler   *sentryhttp.Handler
	HealthHandler   *handlers.HealthHandler
	RequestsHandler *handlers.RequestsHandler
	PartnerToken    string
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	if deps.Logger != nil {
		r.Use(ourMiddleware.RequestLogger(deps.Logger))
	}
	if deps.Metrics != nil {
		r.Use(ourMiddleware.PrometheusMiddleware(deps.Metrics))
	}
	if deps.SentryHandler != nil {
		r.Use(deps.SentryHandler.Handle)
	}

	if deps.HealthHandler != nil {
		r.Get("/healthz", deps.HealthHandler.Health)
		r.Get("/readyz", deps.HealthHandler.Ready)
	}

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if deps.RequestsHandler != nil {
		r.Group(func(rr chi.Router) {
			rr.Use(ourMiddleware.PartnerAuth(deps.PartnerToken))
			rr.Route("/v1/requests", func(vr chi.Router) {
				vr.Post("/", deps.RequestsHandler.SendRequest)
				vr.Get("/{requestId}", deps.RequestsHandler.GetRequest)
				vr.Post("/{requestId}/cancel", deps.RequestsHandler.CancelRequest)
			})
		})
	}

	return r
}
