// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway boots the relay gateway service: configuration,
// logging, tracing, the executor registry, and the HTTP server with
// graceful shutdown.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/jinterlante1206/AleutianRelay/pkg/logging"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/clock"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/config"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/executors"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/handlers"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/observability"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/retry"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/routes"
	"github.com/jinterlante1206/AleutianRelay/services/gateway/validation"
)

const serviceName = "relay-gateway"

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
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

// Run boots the gateway and blocks until shutdown. It returns a
// non-nil error when boot fails or the server dies unexpectedly.
func Run() error {
	port := os.Getenv("GATEWAY_PORT")
	if port == "" {
		port = "8085"
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("GATEWAY_LOG_LEVEL")),
		Service: serviceName,
		JSON:    true,
	})
	defer logger.Close()
	logger.SetAsDefault()

	cleanup, err := initTracer()
	if err != nil {
		return err
	}
	defer cleanup(context.Background())

	configPath := os.Getenv("GATEWAY_CONFIG_PATH")
	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configPath = filepath.Join(home, ".aleutian", "relay.yaml")
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	prom := observability.InitMetrics()
	acc := observability.NewAccumulator()
	clk := clock.System{}

	registry := executors.NewRegistry(
		executors.NewHTTPExecutor(cfg),
		executors.NewShellExecutor(cfg),
	)

	engine := retry.NewEngine(retry.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		JitterFraction:    cfg.Retry.JitterFraction,
		PerAttemptTimeout: cfg.PerAttemptTimeout(),
	}, clk)

	dispatcher := handlers.NewDispatcher(cfg,
		validation.New(cfg.MaxBodyBytes()), registry, engine, acc, prom, clk)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, cfg, dispatcher, acc, registry.Names())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("starting the gateway server",
			"port", port, "instance", cfg.Service.InstanceID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down the gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
