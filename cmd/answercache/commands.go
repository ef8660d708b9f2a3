package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/developer-mesh/answercache/pkg/answer"
	"github.com/developer-mesh/answercache/pkg/answer/api"
	"github.com/developer-mesh/answercache/pkg/answer/backend"
	"github.com/developer-mesh/answercache/pkg/answer/kvstore"
	"github.com/developer-mesh/answercache/pkg/observability"
)

const probeTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "answercache",
		Short:        "Response cache and cost control for recipe questions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ANSWERCACHE_CONFIG"), "path to the YAML configuration file")

	load := func() (answer.Config, error) {
		cfg, err := answer.LoadConfig(configPath)
		if err != nil {
			return answer.Config{}, err
		}
		observability.Configure(cfg.Observability.Logging, nil)
		return cfg, nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the answer cache HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runServe(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "probe",
			Short: "Check that the configured key-value store is usable",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runProbe(cmd.Context(), cmd, cfg)
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Print persisted cache, rate limit and analytics statistics as JSON",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runStats(cmd.Context(), cmd, cfg)
			},
		},
	)
	return root
}

func runServe(ctx context.Context, cfg answer.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := observability.NewLogger("answercache")

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Observability.Tracing)
	if err != nil {
		logger.Warn("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
		shutdownTracing = func(context.Context) error { return nil }
	}

	store, err := answer.OpenStore(ctx, cfg.Store, logger.WithPrefix("store"))
	if err != nil {
		// the service degrades to pass-through without a store
		logger.Error("Failed to open key-value store", map[string]interface{}{
			"driver": cfg.Store.Driver,
			"error":  err.Error(),
		})
		store = nil
	}

	var gen backend.Generator
	if cfg.Backend.OpenAI.APIKey != "" {
		if gen, err = answer.NewGenerator(cfg.Backend, logger.WithPrefix("backend")); err != nil {
			return err
		}
	} else {
		logger.Warn("No OpenAI API key configured, answers will only come from the cache", nil)
	}

	svc, err := answer.New(ctx, cfg, answer.Deps{
		Store:     store,
		Generator: gen,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	svc.Start(ctx)

	server := api.NewServer(svc, cfg.API, logger.WithPrefix("api"))
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case <-sigChan:
		logger.Info("Received shutdown signal", nil)
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("API server stopped", map[string]interface{}{"error": serveErr.Error()})
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error("Failed to persist state on shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Server stopped gracefully", nil)
	return serveErr
}

func runProbe(ctx context.Context, cmd *cobra.Command, cfg answer.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	store, err := answer.OpenStore(ctx, cfg.Store, observability.NewNoopLogger())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	if closer, ok := store.(kvstore.Closer); ok {
		defer closer.Close()
	}

	if err := kvstore.Probe(ctx, store); err != nil {
		return err
	}
	used, err := store.EstimateUsedBytes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "store %s ok, %d bytes used\n", cfg.Store.Driver, used)
	return nil
}

type statsReport struct {
	Enabled   bool        `json:"enabled"`
	Cache     interface{} `json:"cache"`
	RateLimit interface{} `json:"rate_limit"`
	Analytics interface{} `json:"analytics"`
}

func runStats(ctx context.Context, cmd *cobra.Command, cfg answer.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := answer.OpenStore(ctx, cfg.Store, observability.NewNoopLogger())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	svc, err := answer.New(ctx, cfg, answer.Deps{Store: store, Logger: observability.NewNoopLogger()})
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	report := statsReport{
		Enabled:   svc.Enabled(),
		Cache:     svc.GetCacheStats(),
		RateLimit: svc.GetRateLimitInfo(),
		Analytics: svc.GetAnalyticsSummary(),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
