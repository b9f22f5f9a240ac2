package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"predictd/internal/broker"
	"predictd/internal/jobs"
	"predictd/internal/pool"
	"predictd/pkg/types"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run distributed job workers against the shared broker",
		RunE:  runWorker,
	}
	cmd.Flags().String("broker-addr", envOr("PREDICTD_BROKER_ADDR", ""), "redis-compatible broker address (empty = in-process broker)")
	cmd.Flags().Int("count", 1, "worker loops to run in this process")
	cmd.Flags().String("name", envOr("PREDICTD_WORKER_NAME", hostnameOr("worker")), "worker name prefix for log attribution")
	cmd.Flags().Bool("async", false, "also claim async submissions")
	cmd.Flags().String("async-dir", envOr("PREDICTD_ASYNC_DIR", ""), "directory for async marker/result artifacts")
	return cmd
}

func runWorker(cmd *cobra.Command, _ []string) error {
	log := newLogger(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("broker-addr"); v != "" {
		cfg.Broker.Addr = v
	}
	if v, _ := cmd.Flags().GetBool("async"); v {
		cfg.Broker.AsyncEnabled = true
	}
	if v, _ := cmd.Flags().GetString("async-dir"); v != "" {
		cfg.Broker.AsyncDir = v
	}

	var br broker.Broker
	if cfg.Broker.Addr != "" {
		br = broker.NewRedis(broker.RedisConfig{
			Addr:     cfg.Broker.Addr,
			Password: cfg.Broker.Password,
			DB:       cfg.Broker.DB,
		})
	} else {
		// In-process broker: fine for a single-process deployment, useless
		// for sharing work across machines.
		log.Warn().Msg("no broker address configured, using the in-process broker")
		br = broker.NewMemory()
	}
	defer br.Close()

	var arts *jobs.Artifacts
	if cfg.Broker.AsyncEnabled {
		if cfg.Broker.AsyncDir == "" {
			return fmt.Errorf("async workers need --async-dir or broker.async_dir")
		}
		arts, err = jobs.NewArtifacts(cfg.Broker.AsyncDir, log)
		if err != nil {
			return err
		}
	}

	mgr := jobs.NewManager(jobs.ManagerConfig{
		Broker:    br,
		Log:       log,
		JobTTL:    secs(cfg.Broker.JobTTLSeconds),
		Artifacts: arts,
	})
	strategy, err := types.ParseEvictionStrategy(cfg.Pool.Strategy)
	if err != nil {
		return err
	}
	shared := pool.New(pool.Config{
		MaxCount:    cfg.Pool.MaxCount,
		MaxMemoryMB: cfg.Pool.MaxMemoryMB,
		HeadroomMB:  cfg.Pool.HeadroomMB,
		Strategy:    strategy,
		Log:         log,
	})
	reg := buildRegistry(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	count, _ := cmd.Flags().GetInt("count")
	if count <= 0 {
		count = 1
	}
	name, _ := cmd.Flags().GetString("name")
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		w := jobs.NewWorker(jobs.WorkerConfig{
			Name:         fmt.Sprintf("%s-%d", name, i+1),
			Manager:      mgr,
			Registry:     reg,
			Pool:         shared,
			Log:          log,
			PollInterval: secs(cfg.Broker.PollIntervalSeconds),
			AsyncEnabled: cfg.Broker.AsyncEnabled,
			SweepAge:     secs(cfg.Broker.SweepAgeSeconds),
		})
		g.Go(func() error { return w.Run(ctx) })
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("workers stopped")
	return nil
}

func hostnameOr(def string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}
