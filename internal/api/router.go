/**
 * @description
 * HTTP router setup for the incorporation service using go-chi/chi.
 */
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions carries the middleware settings for NewRouter.
type RouterOptions struct {
	InternalAPIKey      string
	RateLimiter         RateLimiter
	OrderLimitPerMinute int
	Logger              *slog.Logger
}

// NewRouter creates a new Chi router and registers the incorporation routes.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Incorporation service is healthy"))
	})

	r.Get("/resume/redirect", h.handleResumeRedirect)

	r.With(InternalAuthMiddleware(opts.InternalAPIKey)).Handle("/metrics", promhttp.Handler())

	r.Route("/internal/orders", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))
		r.Post("/reminders/run", h.handleRunPaymentReminders)
	})

	orderLimit := RateLimitMiddleware(opts.RateLimiter, "orders", opts.OrderLimitPerMinute, time.Minute, opts.Logger)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireSession)

		r.Get("/resume", h.handleResume)
		r.Get("/incorporations/latest", h.handleLatestIncorporation)

		r.Get("/prospects", h.handleListProspects)
		r.Post("/prospects", h.handleUpsertProspect)

		r.Post("/onboardings", h.handleStartOnboarding)
		r.Route("/onboardings/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetOnboarding)
			r.Patch("/", h.handleUpdateOnboarding)
			r.Put("/documents/{kind}", h.handleAttachDocument)
			r.Post("/complete", h.handleCompleteOnboarding)

			r.Get("/incorporation", h.handleGetIncorporation)
			r.Put("/incorporation", h.handleSaveIncorporation)

			r.Group(func(r chi.Router) {
				r.Use(orderLimit)
				r.Post("/incorporation/submit", h.handleSubmitIncorporation)
				r.Post("/order", h.handleEnsureOrder)
				r.Post("/order/paid", h.handleMarkOrderPaid)
			})
		})
	})

	return r
}
