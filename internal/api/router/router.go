package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loanly/loanly-platform/internal/http/handlers"
	httpmiddleware "github.com/loanly/loanly-platform/internal/http/middleware"
	"github.com/loanly/loanly-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	InterviewHandler *handlers.InterviewHandler
	MetricsHandler   http.Handler
	AdminAuthSecret  string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: webhooks authenticate themselves via the gateway
	// signature, not a bearer token.
	r.Group(func(public chi.Router) {
		public.Get("/", cfg.InterviewHandler.Index)
		public.Get("/health", cfg.InterviewHandler.HealthCheck)
		public.Route("/webhooks/twilio", func(r chi.Router) {
			r.Post("/voice", cfg.InterviewHandler.VoiceWebhook)
			r.Post("/status", cfg.InterviewHandler.StatusWebhook)
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Call initiation. Protected when an admin secret is configured; open in
	// local development otherwise.
	r.Route("/calls", func(calls chi.Router) {
		if cfg.AdminAuthSecret != "" {
			calls.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		}
		calls.Post("/loan", cfg.InterviewHandler.InitiateLoanCall)
		calls.Post("/credit-card", cfg.InterviewHandler.InitiateCreditCardCall)
	})

	return r
}
