package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"predictd/internal/config"
	"predictd/internal/httpapi"
	"predictd/internal/manager"
	"predictd/internal/pool"
	"predictd/internal/service"
	"predictd/pkg/types"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP serving daemon",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", envOr("PREDICTD_ADDR", ":8080"), "HTTP listen address")
	cmd.Flags().Int("workers", 0, "inference worker goroutines (0 = default)")
	cmd.Flags().String("result-dir", envOr("PREDICTD_RESULT_DIR", ""), "directory for persisted result snapshots")
	cmd.Flags().String("cors-origins", envOr("PREDICTD_CORS_ORIGINS", ""), "comma-separated allowed CORS origins (empty disables CORS)")
	cmd.Flags().Int64("max-body-bytes", 0, "maximum JSON request body size (0 = default 1MiB)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := newLogger(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") || cfg.Addr == "" {
		cfg.Addr, _ = cmd.Flags().GetString("addr")
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Workers = v
	}
	if v, _ := cmd.Flags().GetString("result-dir"); v != "" {
		cfg.ResultDir = v
	}

	strategy, err := types.ParseEvictionStrategy(cfg.Pool.Strategy)
	if err != nil {
		return err
	}
	reg := buildRegistry(log)
	mgr, err := manager.New(reg, manager.Config{
		Workers:       cfg.Workers,
		MaxConcurrent: cfg.MaxConcurrent,
		Pool: pool.Config{
			MaxCount:    cfg.Pool.MaxCount,
			MaxMemoryMB: cfg.Pool.MaxMemoryMB,
			HeadroomMB:  cfg.Pool.HeadroomMB,
			Strategy:    strategy,
		},
		ResultDir:       cfg.ResultDir,
		ResultTTL:       secs(cfg.ResultTTLSeconds),
		CleanupInterval: secs(cfg.CleanupIntervalSeconds),
		Retention:       secs(cfg.RetentionSeconds),
		LoadTimeout:     secs(cfg.LoadTimeoutSeconds),
		Log:             log,
	})
	if err != nil {
		return err
	}

	httpapi.SetLogger(log)
	if v, _ := cmd.Flags().GetInt64("max-body-bytes"); v > 0 {
		httpapi.SetMaxBodyBytes(v)
	}
	if origins, _ := cmd.Flags().GetString("cors-origins"); origins != "" {
		httpapi.SetCORSOptions(true, splitCSV(origins),
			[]string{"GET", "POST", "DELETE"}, []string{"Content-Type"})
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(mgr)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Strs("services", reg.Kinds()).Msg("predictd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("manager shutdown incomplete")
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// buildRegistry returns the process service registry. Predictor packages
// register their kinds here; the built-in echo service stays available for
// smoke tests.
func buildRegistry(log zerolog.Logger) *service.Registry {
	reg := service.NewRegistry()
	registerEcho(reg)
	log.Debug().Strs("services", reg.Kinds()).Msg("service registry built")
	return reg
}
