package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/hugh/go-shepherd/internal/api/handlers"
	"github.com/hugh/go-shepherd/internal/api/middleware"
	"github.com/hugh/go-shepherd/internal/auth"
	"github.com/hugh/go-shepherd/internal/directory"
	"github.com/hugh/go-shepherd/internal/followup"
	"github.com/hugh/go-shepherd/internal/inbox"
	"github.com/hugh/go-shepherd/internal/invitation"
)

type Router struct {
	chi.Router
	limiters []*middleware.RateLimiter
}

type RouterConfig struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Logger         *slog.Logger
	Tokens         auth.TokenService
	Directory      *directory.Service
	Invitations    *invitation.Service
	FollowUps      *followup.Service
	Inbox          *inbox.Service
	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()
	router := &Router{Router: r}

	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Auth-Token"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints get their own, per-IP limiter; authenticated
	// callers are limited per principal.
	publicLimit := func(h http.Handler) http.Handler { return h }
	principalLimit := publicLimit
	if cfg.RateLimitReqs > 0 {
		pub := middleware.NewRateLimiter(cfg.RateLimitReqs, cfg.RateLimitSecs)
		priv := middleware.NewRateLimiter(cfg.RateLimitReqs, cfg.RateLimitSecs)
		router.limiters = append(router.limiters, pub, priv)
		publicLimit = pub.ByIP()
		principalLimit = priv.ByPrincipal()
	}

	var healthRedis redis.Cmdable
	if cfg.Redis != nil {
		healthRedis = cfg.Redis
	}
	healthHandler := handlers.NewHealthHandler(cfg.DB, healthRedis)
	tenantHandler := handlers.NewTenantHandler(cfg.Directory, cfg.Tokens, cfg.Logger)
	principalHandler := handlers.NewPrincipalHandler(cfg.Directory, cfg.Logger)
	invitationHandler := handlers.NewInvitationHandler(cfg.Invitations, cfg.Tokens, cfg.Logger)
	followUpHandler := handlers.NewFollowUpHandler(cfg.FollowUps, cfg.Logger)
	notificationHandler := handlers.NewNotificationHandler(cfg.Inbox, cfg.Logger)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(publicLimit)
			r.Post("/tenants", tenantHandler.Bootstrap)
			r.Get("/invitations/preview/{code}", invitationHandler.Preview)
			r.Post("/invitations/redeem", invitationHandler.Redeem)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Tokens))
			r.Use(principalLimit)

			r.Get("/me", tenantHandler.Me)
			r.Get("/authorize", tenantHandler.Authorize)

			r.Get("/tenant", tenantHandler.Get)
			r.Post("/tenant/deactivate", tenantHandler.Deactivate)

			r.Route("/principals", func(r chi.Router) {
				r.Get("/", principalHandler.List)
				r.Post("/", principalHandler.Create)
				r.Get("/{id}", principalHandler.Get)
				r.Put("/{id}/role", principalHandler.ChangeRole)
				r.Put("/{id}/status", principalHandler.SetStatus)
				r.Post("/{id}/grants", principalHandler.Grant)
				r.Delete("/{id}/grants/{permission}", principalHandler.Revoke)
			})

			r.Route("/invitations", func(r chi.Router) {
				r.Get("/", invitationHandler.List)
				r.Post("/", invitationHandler.Issue)
				r.Get("/{id}", invitationHandler.Get)
				r.Post("/{id}/deactivate", invitationHandler.Deactivate)
			})

			r.Route("/followups", func(r chi.Router) {
				r.Get("/", followUpHandler.List)
				r.Post("/", followUpHandler.Assign)
				r.Get("/{id}", followUpHandler.Get)
				r.Put("/{id}/status", followUpHandler.UpdateStatus)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationHandler.List)
				r.Post("/{id}/read", notificationHandler.MarkRead)
			})
		})
	})

	return router
}

// Close stops the rate limiters' cleanup loops.
func (r *Router) Close() {
	for _, l := range r.limiters {
		l.Stop()
	}
}
