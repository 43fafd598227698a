/**
 * @description
 * This file sets up the HTTP router for the alumni-service. It defines the API
 * endpoints, associates them with their handlers and applies middleware for
 * logging, recovery, CORS and authentication.
 *
 * News and event listings are public so the landing page can render them
 * signed out; publishing them needs a staff role. Disbursement preparation
 * and approval are also limited to admin and alumni_office accounts, a
 * tightening over any-authenticated-user access.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the browser client.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alumniaid/alumni-service/internal/domain"
)

// NewRouter creates and returns the router for the alumni service.
func NewRouter(h *Handlers, auth func(http.Handler) http.Handler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// The provider calls back without a user token.
	r.Post("/payments/callback", h.PaymentCallbackHandler)

	r.Get("/content/news", h.ListNewsHandler)
	r.Get("/content/events", h.ListEventsHandler)

	staffOnly := RequireRole(domain.RoleAdmin, domain.RoleAlumniOffice)

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Get("/chat/{otherUserId}", h.GetConversationHandler)
		r.Post("/chat", h.SendMessageHandler)

		r.Route("/disburse", func(r chi.Router) {
			r.Use(staffOnly)
			r.Get("/prepare", h.PrepareDisbursementHandler)
			r.Post("/approve", h.ApproveDisbursementHandler)
		})

		r.Post("/payments/initiate", h.InitiatePaymentHandler)
		r.Get("/payments/loan/{loanId}", h.ListLoanPaymentsHandler)
		r.Get("/payments/{paymentId}/receipt", h.DownloadReceiptHandler)
		r.Get("/loans/mine", h.ListMyLoansHandler)

		r.With(staffOnly).Post("/content/news", h.CreateNewsHandler)
		r.With(staffOnly).Post("/content/events", h.CreateEventHandler)

		r.Get("/notifications", h.ListNotificationsHandler)
		r.Post("/notifications/{id}/read", h.MarkNotificationReadHandler)
	})

	return r
}
