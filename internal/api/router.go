/**
 * @description
 * HTTP router setup for the core service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers every core route.
func NewRouter(h *Handler, verifier *TokenVerifier, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Signature", "apikey", "x-client-info"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))
	r.Use(answerOptions)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	r.Post("/payments/webhook", h.handlePaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(OptionalAuth(verifier))
		r.Post("/payments/initiate", h.handleInitiatePayment)
		r.Post("/payments/verify", h.handleVerifyPayment)
		r.Get("/payments/{paymentID}", h.handleGetPayment)
		r.Get("/donations/{donationID}/receipt", h.handleGetReceipt)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(verifier))

		r.Get("/me/role", h.handleGetMyRole)

		r.Route("/admin/users", func(r chi.Router) {
			r.Post("/", h.handleCreateUser)
			r.Get("/", h.handleListUsers)
			r.Put("/{userID}/role", h.handleSetUserRole)
			r.Delete("/{userID}", h.handleDeleteUser)
		})

		r.Route("/2fa", func(r chi.Router) {
			r.Post("/setup", h.handleSetupTwoFactor)
			r.Post("/verify", h.handleVerifyTwoFactor)
			r.Post("/disable", h.handleDisableTwoFactor)
			r.Get("/status", h.handleTwoFactorStatus)
		})
	})

	return r
}

// answerOptions replies to OPTIONS requests that are not CORS preflights.
func answerOptions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
