package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"marketplace/internal/apperror"
	"marketplace/internal/client"
	"marketplace/internal/config"
	"marketplace/internal/model"
	"marketplace/internal/repository/postgres"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	Config      *config.Config
	Logger      *zap.Logger
	Auth        *AuthHandler
	Marketplace *MarketplaceHandler
	AuthMW      *AuthMiddleware
	Redis       *client.RedisClient
	Postgres    *postgres.PostgresClient
}

// NewRouter assembles the chi router with the standard middleware stack and
// all /api/v1 routes.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Config.Server.WriteTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler(deps.Redis, deps.Postgres))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/user/register", deps.Auth.Register(model.RoleUser))
			r.Post("/user/verify", deps.Auth.Verify(model.RoleUser))
			r.Post("/user/login", deps.Auth.Login(model.RoleUser))

			r.Post("/seller/register", deps.Auth.Register(model.RoleSeller))
			r.Post("/seller/verify", deps.Auth.Verify(model.RoleSeller))
			r.Post("/seller/login", deps.Auth.Login(model.RoleSeller))

			r.Post("/refresh-token", deps.Auth.RefreshToken)
			r.Post("/forgot-password", deps.Auth.ForgotPassword)
			r.Post("/verify-forgot-password", deps.Auth.VerifyForgotPassword)
			r.Post("/reset-password", deps.Auth.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMW.Authenticate)
				r.Get("/me", deps.Auth.Me)
				r.Post("/logout", deps.Auth.Logout)
			})
		})

		r.Get("/site-config", deps.Marketplace.GetSiteConfig)
		r.Get("/products", deps.Marketplace.ListProducts)
		r.Get("/products/{productID}", deps.Marketplace.GetProduct)
		r.Get("/shops/{shopID}", deps.Marketplace.GetShop)

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMW.Authenticate)
			r.Use(RequireRole(model.RoleSeller))

			r.Post("/shops", deps.Marketplace.CreateShop)
			r.Get("/shops/me", deps.Marketplace.GetMyShop)
			r.Post("/products", deps.Marketplace.CreateProduct)
			r.Get("/products/mine", deps.Marketplace.ListMyProducts)
			r.Delete("/products/{productID}", deps.Marketplace.DeleteProduct)
			r.Post("/discount-codes", deps.Marketplace.CreateDiscountCode)
			r.Get("/discount-codes", deps.Marketplace.ListDiscountCodes)
			r.Delete("/discount-codes/{codeID}", deps.Marketplace.DeleteDiscountCode)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, apperror.NotFound("Route not found."))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Success: false, Error: "method_not_allowed", Message: "Method not allowed."})
	})

	return r
}

func healthHandler(redis *client.RedisClient, pg *postgres.PostgresClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"redis": "ok", "postgres": "ok"}
		healthy := true

		if err := redis.HealthCheck(r.Context()); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}
		if err := pg.HealthCheck(r.Context()); err != nil {
			status["postgres"] = err.Error()
			healthy = false
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Response{Success: healthy, Data: status})
	}
}
