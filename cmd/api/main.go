package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/loanly/loanly-platform/cmd/mainconfig"
	"github.com/loanly/loanly-platform/internal/api/router"
	appconfig "github.com/loanly/loanly-platform/internal/config"
	"github.com/loanly/loanly-platform/internal/decision"
	"github.com/loanly/loanly-platform/internal/http/handlers"
	"github.com/loanly/loanly-platform/internal/interview"
	"github.com/loanly/loanly-platform/internal/notify"
	"github.com/loanly/loanly-platform/internal/observability/metrics"
	"github.com/loanly/loanly-platform/internal/results"
	"github.com/loanly/loanly-platform/internal/telephony"
	"github.com/loanly/loanly-platform/pkg/logging"
)

func main() {
	// Local development convenience; production sets real env vars.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting loanly-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	// Session store: Redis when configured, in-memory otherwise.
	var store interview.Store
	if cfg.RedisAddr != "" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		store = interview.NewRedisStore(redis.NewClient(opts))
		logger.Info("using redis session store", "addr", cfg.RedisAddr)
	} else {
		store = interview.NewMemoryStore()
		logger.Warn("REDIS_ADDR not set, sessions are in-memory and lost on restart")
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	resultsStore := results.NewStore(dynamodb.NewFromConfig(awsCfg), cfg.ResultsTable, logger)

	var llm decision.LLMClient
	decisionModel := cfg.GeminiModelID
	switch cfg.DecisionProvider {
	case "bedrock":
		if cfg.BedrockModelID == "" {
			logger.Error("DECISION_PROVIDER=bedrock requires BEDROCK_MODEL_ID")
			os.Exit(1)
		}
		llm = decision.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
		decisionModel = cfg.BedrockModelID
		logger.Info("using bedrock decision backend", "model", decisionModel)
	default:
		if cfg.GeminiAPIKey != "" {
			geminiClient, err := decision.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
			if err != nil {
				logger.Error("failed to initialize gemini client", "error", err)
				os.Exit(1)
			}
			llm = geminiClient
		} else {
			logger.Warn("GEMINI_API_KEY not set, every application will need manual verification")
		}
	}
	decisionService := decision.NewService(llm, decisionModel, logger)

	twilioClient := telephony.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber, logger)
	notifyService := notify.NewService(twilioClient, cfg.NotifySMS, logger)

	reg := prometheus.NewRegistry()
	interviewMetrics := metrics.NewInterviewMetrics(reg)

	catalog := interview.NewCatalog(cfg.DisabledCCQuestions)
	locks := interview.NewKeyLocks()
	finalizer := interview.NewFinalizer(interview.FinalizerConfig{
		Store:             store,
		Catalog:           catalog,
		Evaluator:         decisionService,
		Results:           resultsStore,
		Notifier:          notifyService,
		Locks:             locks,
		Metrics:           interviewMetrics,
		Logger:            logger.With("component", "finalizer"),
		MinAnswered:       cfg.MinAnsweredQuestions,
		ArchiveIncomplete: cfg.ArchiveIncomplete,
	})
	controller := interview.NewController(store, catalog, finalizer, locks, logger)
	initiator := interview.NewInitiator(interview.InitiatorConfig{
		Store:    store,
		Gateway:  twilioClient,
		Locks:    locks,
		Logger:   logger.With("component", "initiator"),
		BaseURL:  cfg.PublicBaseURL,
		Cooldown: cfg.CallCooldown,
	})

	interviewHandler := handlers.NewInterviewHandler(
		initiator,
		controller,
		finalizer,
		interviewMetrics,
		logger,
		cfg.TwilioWebhookSecret,
	)

	r := router.New(&router.Config{
		Logger:           logger,
		InterviewHandler: interviewHandler,
		MetricsHandler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminAuthSecret:  cfg.AdminJWTSecret,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
