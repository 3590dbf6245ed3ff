// Package main is the entry point for the manifest gateway server binary.
// It dispatches the serve and version subcommands via a switch on os.Args,
// keeping the binary's full CLI surface readable in one place.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manifest-gateway/manifest-gateway/internal/api"
	"github.com/manifest-gateway/manifest-gateway/internal/buildsys"
	"github.com/manifest-gateway/manifest-gateway/internal/bundle"
	"github.com/manifest-gateway/manifest-gateway/internal/config"
	"github.com/manifest-gateway/manifest-gateway/internal/org"
	"github.com/manifest-gateway/manifest-gateway/internal/policygate"
	"github.com/manifest-gateway/manifest-gateway/internal/registry"
	"github.com/manifest-gateway/manifest-gateway/internal/telemetry"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		configPath := os.Getenv("CONFIG_PATH")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return serve(cfg)
	case "version":
		fmt.Printf("manifest-gateway v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output)

	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not reachable
	// through the public API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Wire the registry client through the bundle courier that builds and
	// uploads release payloads.
	courier := bundle.NewCourier(cfg.Registry.URL, cfg.Registry.Timeout)
	registryClient := registry.NewClient(cfg.Registry.URL, cfg.Registry.Timeout, courier)
	slog.Info("registry configured", "url", cfg.Registry.URL)

	// The build system and the policy gate are optional integrations.
	var buildSystem org.BuildSystem
	var buildsPinger api.BuildSysPinger
	if cfg.BuildSys.HubURL != "" {
		buildClient := buildsys.NewClient(cfg.BuildSys.HubURL, cfg.BuildSys.RootURL, cfg.BuildSys.Timeout)
		buildSystem = buildClient
		buildsPinger = buildClient
		slog.Info("build system configured", "hub_url", cfg.BuildSys.HubURL)
	}
	gate := policygate.NewClient(cfg.PolicyGate.URL, cfg.PolicyGate.Context,
		cfg.PolicyGate.ProductVersion, cfg.PolicyGate.Timeout)
	if gate.Enabled() {
		slog.Info("release policy gate configured",
			"url", cfg.PolicyGate.URL,
			"context", cfg.PolicyGate.Context,
			"product_version", cfg.PolicyGate.ProductVersion)
	}

	gateway := org.NewGateway(
		org.NewTable(cfg.Organizations),
		registryClient,
		buildSystem,
		gate,
		org.Config{
			DefaultReleaseVersion: cfg.Registry.DefaultReleaseVersion,
			MaxUncompressedSize:   cfg.Intake.MaxUncompressedSize,
			AllowedExtensions:     cfg.Intake.AllowedExtensions,
		},
	)

	router := api.NewRouter(gateway, registryClient, buildsPinger, version)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"organizations", len(cfg.Organizations))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
