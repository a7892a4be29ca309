package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spken/mower-fleet/internal/config"
	"github.com/spken/mower-fleet/internal/dispatch"
	"github.com/spken/mower-fleet/internal/httpapi"
	"github.com/spken/mower-fleet/internal/listener"
	"github.com/spken/mower-fleet/internal/metrics"
	"github.com/spken/mower-fleet/internal/registry"
	"github.com/spken/mower-fleet/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the backend's YAML config file")
	apiKeyHash := flag.String("api-key-hash", os.Getenv("MOWER_API_KEY_HASH"), "bcrypt hash of the operator API key; empty disables auth")
	flag.Parse()

	log.Println("Starting mower fleet backend...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	reg, err := registry.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open device registry: %v", err)
	}
	defer reg.Close()

	cache, err := telemetry.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("connect to redis: %v", err)
	}

	durableSink, err := telemetry.NewSupabaseSink()
	if err != nil {
		log.Fatalf("connect to supabase: %v", err)
	}
	sink := telemetry.NewWriteThroughSink(durableSink, cache)

	m := metrics.NewMetrics()

	sup := listener.New(cfg.Listener.BindHost, sink, logger, m, cfg.Listener.Duration())
	ctx, cancel := context.WithCancel(context.Background())
	if err := sup.Start(ctx, reg); err != nil {
		log.Fatalf("start device listeners: %v", err)
	}

	dispatcher := dispatch.New(reg, cfg.Handshake.Duration())
	facade := dispatch.NewFacade(dispatcher, cache, sink, m)

	handler := httpapi.New(reg, cache, facade, logger, *apiKeyHash)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("operator API listening on :%s", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutdown signal received, stopping gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
	sup.Shutdown()

	log.Println("server stopped")
}
