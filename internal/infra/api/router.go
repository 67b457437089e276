package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lms-payments/internal/config"
)

// NewRouter mounts the public, webhook and admin routes.
func NewRouter(h *Handler, auth *AdminAuth, cfg config.HTTPConfig, logger *zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(TraceID())
	r.Use(RequestLog(logger))
	r.Use(Recover(logger))
	r.Use(Timeout(cfg.RequestTimeout))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TraceHeader},
			ExposedHeaders:   []string{TraceHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.createPayment)
		r.Get("/student/{studentId}", h.listStudentPayments)
		r.With(auth.Require).Get("/statistics", h.paymentStatistics)
		r.Get("/{id}", h.getPayment)
		r.Get("/{id}/invoice", h.getPaymentInvoice)
		r.Post("/{id}/refund", h.refundPayment)
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Get("/number/{number}", h.getInvoiceByNumber)
		r.Get("/student/{studentId}", h.listStudentInvoices)
		r.Get("/{id}", h.getInvoice)
	})

	r.Post("/webhooks/{gateway}", h.webhook)
	r.Get("/webhooks/{gateway}", h.webhook)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.createSubscription)
		r.Get("/student/{studentId}", h.listStudentSubscriptions)
		r.Get("/{id}", h.getSubscription)
		r.Post("/{id}/cancel", h.cancelSubscription)
	})

	r.Post("/discounts/validate", h.validateDiscount)

	r.Group(func(r chi.Router) {
		r.Use(auth.Require)
		r.Post("/discounts", h.createDiscount)
		r.Get("/discounts/{code}", h.getDiscount)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusNotFound, "NotFound", "route not found")
	})
	return r
}
