/**
 * @description
 * This file sets up the HTTP router for the issuance-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// IssuanceRoutes creates and returns a new router for the issuance service.
func IssuanceRoutes(h *IssuanceHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		// Apply JWT authentication middleware for production
		r.Use(AuthMiddleware(jwksURL))

		// Issuance endpoints
		r.Post("/deposits", h.DepositHandler)
		r.Post("/redemptions", h.RedeemHandler)

		// Read accessors
		r.Get("/position", h.GetPositionHandler)
		r.Get("/transactions", h.ListTransactionsHandler)
		r.Get("/fees", h.GetFeeConfigHandler)

		// Administrative endpoints. Callers still need the matching role;
		// the engine enforces that on each operation.
		r.Put("/admin/fees", h.SetFeeHandler)
		r.Post("/admin/pause", h.PauseHandler)
		r.Post("/admin/unpause", h.UnpauseHandler)
		r.Post("/admin/roles/grant", h.GrantRoleHandler)
		r.Post("/admin/roles/revoke", h.RevokeRoleHandler)
		r.Get("/admin/roles/{account}/{role}", h.HasRoleHandler)
	})

	return r
}
