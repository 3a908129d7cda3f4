package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"walletguard-lab/internal/api/handlers"
	apimiddleware "walletguard-lab/internal/api/middleware"
	"walletguard-lab/internal/config"
	"walletguard-lab/internal/metrics"
	"walletguard-lab/pkg/logger"
)

const requestTimeout = 60 * time.Second

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	limiter  apimiddleware.RateLimitStore
	logger   *logger.Logger
}

// NewRouter creates a new Router instance. limiter may be nil, which
// disables rate limiting regardless of configuration.
func NewRouter(cfg config.Config, h *handlers.Handlers, limiter apimiddleware.RateLimitStore, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		limiter:  limiter,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)
	router.Use(metrics.Middleware)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Public routes
	router.Group(func(pub chi.Router) {
		pub.Get("/health", r.handlers.Health.Check)
		pub.Get("/ready", r.handlers.Health.Ready)
		pub.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	// WebSocket notifications; long-lived so outside the request timeout
	router.Group(func(ws chi.Router) {
		if r.config.Auth.Enabled {
			ws.Use(apimiddleware.APIKeyAuth(r.config.Auth.APIKeys))
		}
		ws.Get("/ws", r.handlers.Streaming.HandleWebSocket)
	})

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(requestTimeout))
		if r.config.Auth.Enabled {
			api.Use(apimiddleware.APIKeyAuth(r.config.Auth.APIKeys))
		}
		if r.config.RateLimit.Enabled && r.limiter != nil {
			api.Use(apimiddleware.RateLimiter(r.limiter, r.config.RateLimit, r.logger))
		}

		api.Route("/analyze", func(analyze chi.Router) {
			analyze.Post("/signing", r.handlers.Analyze.Signing)
			analyze.Post("/signing/preview", r.handlers.Analyze.SigningPreview)
			analyze.Post("/approval", r.handlers.Analyze.Approval)
			analyze.Post("/approval/decode", r.handlers.Analyze.DecodeApproval)
			analyze.Post("/calldata", r.handlers.Analyze.Calldata)
			analyze.Post("/code", r.handlers.Analyze.Code)
			analyze.Post("/github", r.handlers.Analyze.GitHub)
		})

		api.Route("/domains", func(domains chi.Router) {
			domains.Get("/threats", r.handlers.Domains.Threats)
			domains.Get("/{domain}", r.handlers.Domains.Check)
		})

		api.Route("/emergency", func(emergency chi.Router) {
			emergency.Get("/", r.handlers.Emergency.State)
			emergency.Post("/dismiss", r.handlers.Emergency.Dismiss)
			emergency.Post("/freeze", r.handlers.Emergency.Freeze)
			emergency.Post("/revoke", r.handlers.Emergency.Revoke)
			emergency.Post("/simulate", r.handlers.Emergency.Simulate)
			emergency.Post("/decisions", r.handlers.Emergency.Decision)
			emergency.Post("/events/{id}/annotate", r.handlers.Emergency.Annotate)
		})

		api.Route("/rules", func(rules chi.Router) {
			rules.Get("/", r.handlers.Rules.List)
			rules.Post("/", r.handlers.Rules.Create)
			rules.Patch("/{id}", r.handlers.Rules.Update)
			rules.Delete("/{id}", r.handlers.Rules.Delete)
			rules.Post("/{id}/toggle", r.handlers.Rules.Toggle)
		})

		api.Route("/monitor", func(monitor chi.Router) {
			monitor.Get("/", r.handlers.Monitor.Status)
			monitor.Post("/start", r.handlers.Monitor.Start)
			monitor.Post("/stop", r.handlers.Monitor.Stop)
			monitor.Post("/watch-approval", r.handlers.Monitor.WatchApproval)
		})

		api.Get("/streaming/stats", r.handlers.Streaming.Stats)
	})

	return router
}
