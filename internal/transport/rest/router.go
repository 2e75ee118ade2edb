package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/roomshare/internal/cancellation"
	"github.com/frahmantamala/roomshare/internal/payment"
	"github.com/frahmantamala/roomshare/internal/transport/middleware"
	"github.com/frahmantamala/roomshare/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Handlers groups everything RegisterAllRoutes mounts. Nil members are skipped.
type Handlers struct {
	Health       *HealthHandler
	Payment      *payment.Handler
	Webhook      *payment.WebhookHandler
	Cancellation *cancellation.Handler
	// Spec serves the validated OpenAPI document as JSON.
	Spec http.Handler
}

type Options struct {
	AllowedOrigins    string
	AdminUsername     string
	AdminPasswordHash string
	OpenAPIPath       string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, opts Options, logger *slog.Logger) {
	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	if opts.OpenAPIPath != "" {
		router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, opts.OpenAPIPath)
		})
	}
	if h.Spec != nil {
		router.Method(http.MethodGet, swagger.SpecRoute, h.Spec)
		router.Handle("/swagger/*", swagger.Handler())
	}

	// browser-facing pages
	if h.Payment != nil {
		router.Get("/payment/success", h.Payment.SuccessPage)
		router.Get("/payment/failed", h.Payment.FailedPage)
	}
	if h.Cancellation != nil {
		router.Get("/cancellation/request", h.Cancellation.RequestForm)
		router.Get("/cancellation/expired", h.Cancellation.Expired)
	}

	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.healthCheckHandler)
			r.Get("/ping", h.Health.pingHandler)
		}

		r.Route("/payments", func(pr chi.Router) {
			if h.Payment != nil {
				pr.Post("/initialize", h.Payment.Initialize)
				pr.Get("/checkout/{attemptID}", h.Payment.Checkout)
				pr.Get("/callback", h.Payment.Callback)
				pr.Post("/callback", h.Payment.Callback)
				pr.Get("/verify", h.Payment.Verify)
			}
			if h.Webhook != nil {
				pr.Post("/webhook", h.Webhook.HandleWebhook)
			}
		})

		if h.Payment != nil {
			r.Post("/connections", h.Payment.CreateConnection)

			r.Group(func(ar chi.Router) {
				ar.Use(middleware.AdminBasicAuth(opts.AdminUsername, opts.AdminPasswordHash, logger))
				ar.Get("/admin/webhook-events", h.Payment.ListWebhookEvents)
			})
		}

		if h.Cancellation != nil {
			r.Get("/cancellations/check", h.Cancellation.Check)
			r.Post("/cancellations", h.Cancellation.Submit)
		}
	})
}
