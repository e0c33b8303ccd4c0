package transport

import (
	"net/http"

	"storefront-be/internal/logger"
	"storefront-be/internal/middleware"
	"storefront-be/internal/order"
	"storefront-be/internal/telemetry"
	"storefront-be/internal/utils"
	"storefront-be/internal/wallet"

	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	JWTSecret string
	Orders    order.Service
	Wallets   wallet.Service
	Payments  http.Handler
	Metrics   http.Handler
	Limiter   *middleware.RateLimiter
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(telemetry.HTTPMiddleware("storefront-be"))
	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(middleware.Recover)
	r.Use(tagRoute)
	r.Use(middleware.Auth(cfg.JWTSecret))
	r.Use(middleware.IdempotencyKey)
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.Payments != nil {
		r.Method(http.MethodPost, "/webhooks/payments", cfg.Payments)
	}

	orders := NewOrderHandler(cfg.Orders)
	wallets := NewWalletHandler(cfg.Wallets)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.Route("/orders", orders.RegisterRoutes)
		r.Get("/wallet", wallets.GetWallet)

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(utils.RoleAdmin))
			orders.RegisterAdminRoutes(r)
		})
	})

	return r
}

// tagRoute puts the matched chi pattern on the request span once routing is done.
func tagRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if rc := chi.RouteContext(r.Context()); rc != nil {
			telemetry.TagRoute(r.Context(), rc.RoutePattern())
		}
	})
}
