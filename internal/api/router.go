// Package api provides the HTTP API for Cyclick.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/api/handler"
	"github.com/cyclick/cyclick/internal/api/middleware"
	"github.com/cyclick/cyclick/internal/auth"
	"github.com/cyclick/cyclick/internal/provider/resilience"
)

// RouterConfig holds the router's collaborators.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	Tokens      *auth.TokenService
	Tracker     handler.RideTracker
	Feed        handler.PositionFeed
	Streak      handler.StreakReader
	Stats       handler.StatsReader
	Submissions handler.SubmissionReader
	Events      handler.EventSource

	Upstreams       *resilience.Registry
	ReadinessChecks []handler.ReadinessCheck

	RequireTLS   bool
	SSEHeartbeat time.Duration
}

// NewRouter creates a chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Order matters: the request id must exist before tracing and logging.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	ops := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Upstreams, cfg.ReadinessChecks...)
	wallet := handler.NewWalletHandler(cfg.Tokens)
	rides := handler.NewRideHandler(cfg.Tracker, cfg.Feed, cfg.Logger)
	rider := handler.NewRiderHandler(cfg.Streak, cfg.Stats, cfg.Submissions, cfg.Logger)
	events := handler.NewEventsHandler(cfg.Events, cfg.Logger, cfg.SSEHeartbeat)

	authenticated := middleware.Auth(cfg.Tokens)
	perWallet := middleware.RateLimitByWallet(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", ops.HealthCheck)
			r.Get("/ready", ops.ReadinessCheck)
		})

		r.With(middleware.RateLimitByIP(middleware.ConnectRateLimit), middleware.RequireJSON).
			Post("/wallet/connect", wallet.Connect)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)

			r.Route("/ride", func(r chi.Router) {
				r.With(perWallet).Get("/", rides.Get)
				r.With(perWallet).Get("/export.fit", rides.ExportFIT)
				r.With(middleware.RateLimitByWallet(middleware.PositionsRateLimit), middleware.RequireJSON).
					Post("/positions", rides.Positions)

				r.Group(func(r chi.Router) {
					r.Use(perWallet)
					r.Post("/start", rides.Start)
					r.Post("/stop", rides.Stop)
					r.Post("/resume", rides.Resume)
					r.Post("/submit", rides.Submit)
					r.Post("/verify", rides.Verify)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(perWallet)
				r.Get("/streak", rider.Streak)
				r.Get("/stats", rider.Stats)
				r.Get("/challenges", rider.Challenges)
				r.Get("/submissions", rider.Submissions)
				r.Get("/submissions/{rideId}", rider.Submission)
			})

			r.Get("/events", events.Stream)
		})
	})

	return r
}
