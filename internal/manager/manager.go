// Package manager wires the request queue, the resource pool, and the
// service registry into the local inference manager: a fixed worker pool
// drains the queue, loads resources through the shared pool, runs
// predictions, and persists terminal snapshots for later status queries.
package manager

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"predictd/internal/pool"
	"predictd/internal/queue"
	"predictd/internal/service"
	"predictd/pkg/types"
)

// Config holds manager tunables. Zero values use package defaults.
type Config struct {
	// Workers is the number of inference worker goroutines.
	Workers int
	// MaxConcurrent caps dispatched requests; defaults to Workers.
	MaxConcurrent int
	// Pool configures the shared resource pool.
	Pool pool.Config
	// ResultDir persists terminal snapshots as JSON files; empty disables
	// file persistence (cache only).
	ResultDir string
	// ResultTTL bounds how long terminal snapshots stay queryable.
	ResultTTL time.Duration
	// CleanupInterval is the cadence of the background cleanup pass.
	CleanupInterval time.Duration
	// Retention is how long terminal requests stay in the queue table.
	Retention time.Duration
	// LoadTimeout bounds the wait for a resource load per request.
	LoadTimeout time.Duration
	Log         zerolog.Logger
}

const (
	defaultWorkers         = 4
	defaultResultTTL       = time.Hour
	defaultCleanupInterval = 5 * time.Minute
	defaultRetention       = time.Hour
	defaultLoadTimeout     = 5 * time.Minute
)

// Manager is the local serving engine.
type Manager struct {
	reg     *service.Registry
	queue   *queue.Queue
	pool    *pool.Pool
	results *resultStore
	log     zerolog.Logger

	workers      int
	loadTO       time.Duration
	retention    time.Duration
	cleanupEvery time.Duration

	cancel context.CancelFunc
	group  *errgroup.Group
	closed atomic.Bool
}

// New constructs and starts a manager: worker goroutines begin draining the
// queue immediately.
func New(reg *service.Registry, cfg Config) (*Manager, error) {
	if reg == nil {
		return nil, fmt.Errorf("manager requires a service registry")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = cfg.Workers
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = defaultResultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	cfg.Pool.Log = cfg.Log

	results, err := newResultStore(cfg.ResultDir, cfg.ResultTTL, cfg.Log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	m := &Manager{
		reg:          reg,
		queue:        queue.New(cfg.MaxConcurrent, cfg.Log),
		pool:         pool.New(cfg.Pool),
		results:      results,
		log:          cfg.Log,
		workers:      cfg.Workers,
		loadTO:       cfg.LoadTimeout,
		retention:    cfg.Retention,
		cleanupEvery: cfg.CleanupInterval,
		cancel:       cancel,
		group:        g,
	}
	for i := 0; i < m.workers; i++ {
		name := fmt.Sprintf("infer-%d", i+1)
		g.Go(func() error { return m.run(ctx, name) })
	}
	g.Go(func() error { return m.cleanupLoop(ctx) })
	m.log.Info().Int("workers", m.workers).Msg("inference manager started")
	return m, nil
}

// Pool exposes the shared resource pool so distributed workers in the same
// process reuse loaded resources.
func (m *Manager) Pool() *pool.Pool { return m.pool }

// Submit validates the payload against the registry and enqueues it.
// Admission never blocks; the concurrency cap applies at dispatch.
func (m *Manager) Submit(payload map[string]any, prio types.Priority, timeout time.Duration) (string, error) {
	if m.closed.Load() {
		return "", shuttingDownError{}
	}
	if _, err := m.reg.Resolve(payload); err != nil {
		return "", invalidPayloadError{msg: err.Error()}
	}
	id := m.queue.Add(payload, prio, timeout)
	m.refreshMetrics()
	return id, nil
}

// StatusOf answers from the live queue first, then from the result store.
func (m *Manager) StatusOf(id string) (types.RequestStatus, error) {
	if st, ok := m.queue.StatusOf(id); ok {
		return st, nil
	}
	if st, ok := m.results.get(id); ok {
		return st, nil
	}
	return types.RequestStatus{}, ErrRequestNotFound(id)
}

// Cancel withdraws a still-pending request. Running work is not preempted.
func (m *Manager) Cancel(id string) bool {
	ok := m.queue.Cancel(id)
	if ok {
		if st, found := m.queue.StatusOf(id); found {
			m.results.put(st)
		}
		m.refreshMetrics()
	}
	return ok
}

// Stats reports a combined queue and pool snapshot.
func (m *Manager) Stats() types.StatsResponse {
	return types.StatsResponse{
		Queue:     m.queue.Stats(),
		Resources: m.pool.Stats(),
		Workers:   m.workers,
	}
}

// Ready reports whether the manager accepts work.
func (m *Manager) Ready() bool { return !m.closed.Load() }

// Shutdown stops intake, waits for in-flight work up to ctx, and releases
// pooled resources.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.closed.Swap(true) {
		return nil
	}
	m.log.Info().Msg("inference manager shutting down")
	m.queue.Close()
	m.cancel()

	done := make(chan error, 1)
	go func() { done <- m.group.Wait() }()
	select {
	case <-ctx.Done():
		m.log.Warn().Msg("shutdown deadline hit with workers still running")
		return ctx.Err()
	case <-done:
	}
	m.results.stop()
	m.pool.Clear()
	m.log.Info().Msg("inference manager stopped")
	return nil
}

// cleanupLoop prunes aged terminal requests and expired result snapshots.
func (m *Manager) cleanupLoop(ctx context.Context) error {
	t := time.NewTicker(m.cleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.queue.CleanupTerminal(m.retention)
			m.results.sweep()
			m.refreshMetrics()
		}
	}
}
