// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/cache"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/cag"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/consent"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/escalation"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/facts"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/guard"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/observability"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/routes"
	"github.com/KhanyaAI/KhanyaGuidance/services/guidance/services"
	"github.com/KhanyaAI/KhanyaGuidance/services/llm"
	"github.com/KhanyaAI/KhanyaGuidance/services/privacy"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceVersion = "0.3.0"

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "khanya-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("guidance-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildProviders turns the configured order into clients. Unknown names are
// skipped with a warning so one typo does not take the whole service down.
func buildProviders(order []string) []llm.LLMClient {
	var clients []llm.LLMClient
	for _, name := range order {
		var client llm.LLMClient
		var err error
		switch name {
		case "openai":
			client, err = llm.NewOpenAIClient()
		case "ollama":
			client, err = llm.NewOllamaClient()
		case "claude", "anthropic":
			client, err = llm.NewAnthropicClient()
		default:
			slog.Warn("Unknown provider in LLM_PROVIDER_ORDER, skipping", "provider", name)
			continue
		}
		if err != nil {
			slog.Warn("Provider failed to initialize, skipping", "provider", name, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients
}

// buildFactStore picks the reference-data backend: Weaviate when a URL is
// configured, a watched YAML snapshot when a path is, an empty static store
// otherwise. With the empty store every fact check is skipped, which biases
// verification away from Accept rather than failing requests.
func buildFactStore() facts.Store {
	if factURL := strings.Trim(os.Getenv("FACT_STORE_URL"), "\"' "); factURL != "" {
		store, err := facts.NewWeaviateStore(factURL)
		if err != nil {
			log.Fatalf("Failed to create the Weaviate fact store: %v", err)
		}
		slog.Info("Using Weaviate fact store", "host", factURL)
		return store
	}
	if path := os.Getenv("FACT_SNAPSHOT_PATH"); path != "" {
		store, err := facts.NewSnapshotStore(path)
		if err != nil {
			log.Fatalf("Failed to load the fact snapshot: %v", err)
		}
		slog.Info("Using snapshot fact store", "path", path, "facts", store.Len())
		return store
	}
	slog.Warn("No fact store configured; fact checks will be skipped")
	return facts.NewStaticStore(nil)
}

func buildSink() escalation.Sink {
	if path := os.Getenv("ESCALATION_DB_PATH"); path != "" {
		sink, err := escalation.OpenBadgerSink(path)
		if err != nil {
			log.Fatalf("Failed to open the escalation database: %v", err)
		}
		slog.Info("Using Badger escalation sink", "path", path)
		return sink
	}
	slog.Warn("ESCALATION_DB_PATH not set; escalation records will not survive a restart")
	return escalation.NewMemorySink()
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default", "name", name, "value", raw)
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Invalid float in environment, using default", "name", name, "value", raw)
		return fallback
	}
	return v
}

func main() {
	port := os.Getenv("GUIDANCE_PORT")
	if port == "" {
		port = "12310"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	sanitiser, err := privacy.NewSanitiser()
	if err != nil {
		log.Fatalf("FATAL: Could not initialize the sanitiser: %v", err)
	}

	providerOrder := strings.Split(os.Getenv("LLM_PROVIDER_ORDER"), ",")
	for i := range providerOrder {
		providerOrder[i] = strings.TrimSpace(providerOrder[i])
	}
	if len(providerOrder) == 1 && providerOrder[0] == "" {
		slog.Warn("LLM_PROVIDER_ORDER not set, defaulting to ollama")
		providerOrder = []string{"ollama"}
	}
	clients := buildProviders(providerOrder)
	if len(clients) == 0 {
		log.Fatalf("FATAL: No usable provider in LLM_PROVIDER_ORDER %v", providerOrder)
	}
	order := make([]string, 0, len(clients))
	for _, c := range clients {
		order = append(order, c.Name())
	}
	slog.Info("Configured provider failover order", "order", order)

	guardCfg := guard.Config{
		AttemptTimeout: time.Duration(envInt("PROVIDER_TIMEOUT_MS", 5000)) * time.Millisecond,
		RateLimit:      rate.Limit(envFloat("PROVIDER_RATE_LIMIT", 0)),
		RateBurst:      envInt("PROVIDER_RATE_BURST", 1),
	}
	guarded := guard.NewGuardedClient(clients, guardCfg)

	cagCfg := cag.DefaultConfig()
	cagCfg.AcceptThreshold = envFloat("CAG_ACCEPT_THRESHOLD", cagCfg.AcceptThreshold)
	cagCfg.ReviseThreshold = envFloat("CAG_REVISE_THRESHOLD", cagCfg.ReviseThreshold)
	verifier := cag.NewVerifier(buildFactStore(), cagCfg)

	consentMaxAge := time.Duration(envInt("CONSENT_MAX_AGE_MONTHS", 12)) * 30 * 24 * time.Hour
	responseCache := cache.NewResponseCache(
		time.Duration(envInt("CACHE_TTL_MINUTES", 360))*time.Minute,
		envInt("CACHE_CAPACITY", cache.DefaultCapacity))
	sink := buildSink()

	svc := services.NewGuidanceService(
		consent.NewGate(consentMaxAge),
		sanitiser,
		guarded,
		verifier,
		responseCache,
		sink,
		services.Config{ProviderOrder: order, Version: serviceVersion},
	)

	router := gin.Default()
	router.Use(otelgin.Middleware("guidance-service"))
	routes.SetupRoutes(router, svc, sink)

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		slog.Info("Starting the guidance server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down the guidance server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}

	// Wipe any locked buffers still alive before the process exits.
	privacy.PurgeAllSecureMemory()
}
