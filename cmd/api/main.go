// Package main provides the entrypoint for the Cyclick API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/achievement"
	"github.com/cyclick/cyclick/internal/api"
	"github.com/cyclick/cyclick/internal/api/handler"
	"github.com/cyclick/cyclick/internal/api/middleware"
	"github.com/cyclick/cyclick/internal/auth"
	"github.com/cyclick/cyclick/internal/kvstore"
	"github.com/cyclick/cyclick/internal/ledger"
	"github.com/cyclick/cyclick/internal/ledger/gateway"
	"github.com/cyclick/cyclick/internal/location"
	"github.com/cyclick/cyclick/internal/notify"
	"github.com/cyclick/cyclick/internal/provider/resilience"
	"github.com/cyclick/cyclick/internal/ride"
	"github.com/cyclick/cyclick/internal/streak"
	"github.com/cyclick/cyclick/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "cyclick-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Cyclick API")

	port := getEnvOrDefault("APP_PORT", "8080")
	env := getEnvOrDefault("APP_ENV", "development")
	otlpEndpoint := getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	sampleRatio, _ := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64)

	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
		SampleRatio:    sampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	// Persistence for streaks and rider stats.
	kvConfig := kvstore.ConfigFromEnv()
	kv, closeKV, err := kvstore.Open(ctx, kvConfig)
	if err != nil {
		log.Fatal().Err(err).Str("backend", string(kvConfig.Backend)).Msg("failed to open kv store")
	}
	defer closeKV()
	log.Info().Str("backend", string(kvConfig.Backend)).Msg("kv store opened")

	loc := time.Local
	if tz := os.Getenv("CYCLICK_TIMEZONE"); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			log.Fatal().Err(err).Str("timezone", tz).Msg("invalid timezone")
		}
	}

	// Ledger: the relayer gateway when configured, otherwise the in-memory
	// ledger for local development.
	upstreams := resilience.NewRegistry()
	var backend ledger.Ledger
	gatewayConfig := gateway.ConfigFromEnv()
	if gatewayConfig.BaseURL != "" {
		clientConfig := resilience.DefaultClientConfig("ledger-gateway")
		clientConfig.Registry = upstreams
		gatewayConfig.Client = resilience.NewClient(clientConfig)
		gatewayConfig.Logger = log

		gw, gwErr := gateway.New(gatewayConfig)
		if gwErr != nil {
			log.Fatal().Err(gwErr).Msg("failed to configure ledger gateway")
		}
		backend = gw
		log.Info().Str("base_url", gatewayConfig.BaseURL).Msg("ledger gateway configured")
	} else {
		backend = ledger.NewMemoryLedger()
		log.Warn().Msg("LEDGER_GATEWAY_URL not set - using in-memory ledger")
	}

	ledgerClient, err := ledger.NewClient(ledger.ClientConfig{
		Ledger:  backend,
		Logger:  log,
		Timeout: 3 * time.Minute,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ledger client")
	}

	// Location: a replayed route for demos, otherwise positions pushed by
	// the device.
	var provider location.Provider
	var feed handler.PositionFeed
	if encoded := os.Getenv("LOCATION_REPLAY_POLYLINE"); encoded != "" {
		replay, replayErr := location.NewReplayProviderFromPolyline(encoded, time.Second)
		if replayErr != nil {
			log.Fatal().Err(replayErr).Msg("invalid replay polyline")
		}
		provider = replay
		log.Info().Msg("replaying location from polyline")
	} else {
		push := location.NewPushProvider(256)
		provider, feed = push, push
	}
	maxAccuracy, _ := strconv.ParseFloat(os.Getenv("LOCATION_MAX_ACCURACY_METERS"), 64)
	source := location.NewSource(location.SourceConfig{
		Provider:          provider,
		Logger:            log,
		MaxAccuracyMeters: maxAccuracy,
	})

	streaks := streak.NewStore(streak.Config{KV: kv, Logger: log, Location: loc})
	achievements := achievement.NewService(achievement.ServiceConfig{KV: kv, Logger: log, Location: loc})

	bus := notify.NewBus(notify.BusConfig{Logger: log})
	defer bus.Close()

	notificationMetrics, err := telemetry.NewNotificationMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize notification metrics")
	}
	notificationMetrics.Attach(bus)

	if projectID := os.Getenv("PUBSUB_PROJECT_ID"); projectID != "" {
		psClient, psErr := pubsub.NewClient(ctx, projectID)
		if psErr != nil {
			log.Fatal().Err(psErr).Msg("failed to create pubsub client")
		}
		defer psClient.Close()

		forwarder := notify.NewPubSubForwarder(notify.ForwarderConfig{
			Client: psClient,
			Topic:  getEnvOrDefault("PUBSUB_TOPIC", "rider-events"),
			Logger: log,
		})
		defer forwarder.Stop()
		forwarder.Attach(bus)
		log.Info().Str("project", projectID).Msg("forwarding notifications to pubsub")
	}

	tracker, err := ride.NewTracker(ride.TrackerConfig{
		Source:       source,
		Ledger:       ledgerClient,
		Streak:       streaks,
		Achievements: achievements,
		Notifier:     bus,
		Logger:       log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ride tracker")
	}

	signingKey := os.Getenv("JWT_SIGNING_KEY")
	if signingKey == "" {
		signingKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	tokens := auth.NewTokenService(auth.TokenConfig{
		SigningKey: signingKey,
		Issuer:     getEnvOrDefault("JWT_ISSUER", "https://api.cyclick.app"),
		Audience:   getEnvOrDefault("JWT_AUDIENCE", "cyclick-api"),
	})

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		Metrics:     metrics,
		Tokens:      tokens,
		Tracker:     tracker,
		Feed:        feed,
		Streak:      streaks,
		Stats:       achievements,
		Submissions: ledgerClient,
		Events:      bus,
		Upstreams:   upstreams,
		ReadinessChecks: []handler.ReadinessCheck{
			{Name: "kvstore", Check: func(ctx context.Context) error { return kvstore.Ping(ctx, kv) }},
		},
		RequireTLS: os.Getenv("REQUIRE_TLS") == "true",
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// The tracker releases its location subscription; in-flight ledger
	// operations finish before the bus and stores close.
	if err := tracker.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close ride tracker")
	}
	ledgerClient.Wait()

	log.Info().Msg("server stopped")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
