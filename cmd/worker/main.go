// Package main provides the entrypoint for the Cyclick notification worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/cyclick/cyclick/internal/kvstore"
	"github.com/cyclick/cyclick/internal/provider/resilience"
	"github.com/cyclick/cyclick/internal/telemetry"
	"github.com/cyclick/cyclick/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "cyclick-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Cyclick worker")

	// The worker exposes a health endpoint for Cloud Run.
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    os.Getenv("APP_ENV"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Enabled:        os.Getenv("OTEL_ENABLED") == "true",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tp.Shutdown(shutdownCtx) //nolint:errcheck // best effort on exit
	}()

	cfg := worker.ConfigFromEnv()
	if cfg.ProjectID == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID is required")
	}

	kv, closeKV, err := kvstore.Open(ctx, kvstore.ConfigFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open kv store")
	}
	defer closeKV()

	upstreams := resilience.NewRegistry()
	sinks := []worker.Sink{worker.NewLogSink(log)}
	if cfg.WebhookURL != "" {
		clientConfig := resilience.DefaultClientConfig("notify-webhook")
		clientConfig.Registry = upstreams
		sinks = append(sinks, worker.NewWebhookSink(cfg.WebhookURL, resilience.NewClient(clientConfig)))
		log.Info().Msg("webhook sink enabled")
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		Sinks:     sinks,
		Delivered: kv,
		DedupeTTL: cfg.DedupeTTL,
		Logger:    log,
	})

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub client")
	}
	defer client.Close()

	receiver := worker.NewReceiver(worker.ReceiverConfig{
		Client:          client,
		Subscription:    cfg.Subscription,
		Dispatcher:      dispatcher,
		Logger:          log,
		MaxOutstanding:  cfg.MaxOutstanding,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "healthy", "version": Version}
		if !upstreams.Healthy() {
			body["status"] = "degraded"
			body["upstreams"] = upstreams.Snapshot()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // client gone
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := receiver.Start(ctx); err != nil {
			log.Error().Err(err).Msg("receiver stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
	}

	log.Info().Msg("shutting down worker")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
