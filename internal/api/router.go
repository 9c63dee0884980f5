/**
 * @description
 * This file sets up the HTTP router for the earnings-service. User routes sit
 * behind bearer-token auth; internal routes used by the session service sit
 * behind the shared API key.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Routing and standard middleware.
 * - github.com/go-chi/cors: Cross-origin policy for the mobile web client.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the auth secrets and CORS policy.
type RouterConfig struct {
	JWTSecret      string
	InternalAPIKey string
	AllowedOrigins []string
}

// Routes creates and returns the router for the earnings service.
func Routes(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(cfg.JWTSecret))

		r.Get("/wallet", h.GetWalletHandler)
		r.Get("/wallet/transactions", h.ListTransactionsHandler)

		r.Post("/withdrawals", h.RequestWithdrawalHandler)
		r.Get("/withdrawals", h.ListWithdrawalsHandler)
		r.Get("/withdrawals/{id}", h.GetWithdrawalHandler)

		r.Get("/payout-methods", h.ListPayoutMethodsHandler)
		r.Post("/payout-methods", h.AddPayoutMethodHandler)
		r.Put("/payout-methods/{id}/default", h.SetDefaultPayoutMethodHandler)
		r.Delete("/payout-methods/{id}", h.RemovePayoutMethodHandler)

		r.Get("/progression", h.GetProgressionHandler)
		r.Post("/progression/streak", h.UpdateStreakHandler)

		r.Get("/achievements", h.ListAchievementsHandler)
		r.Post("/achievements/{id}/claim", h.ClaimAchievementHandler)

		r.Get("/challenges", h.ListChallengesHandler)
		r.Post("/challenges/{id}/join", h.JoinChallengeHandler)
		r.Post("/challenges/{id}/claim", h.ClaimChallengeHandler)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalKeyMiddleware(cfg.InternalAPIKey))

		r.Post("/sessions/{id}/settle", h.SettleSessionHandler)
		r.Post("/sessions/{id}/process", h.ProcessSessionHandler)
		r.Post("/users/{id}/xp", h.AwardXPHandler)
		r.Post("/users/{id}/achievements/{code}/check", h.CheckAchievementHandler)
	})

	return r
}
