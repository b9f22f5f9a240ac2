package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"predictd/internal/pool"
	"predictd/internal/service"
)

// WorkerConfig configures one job worker loop.
type WorkerConfig struct {
	// Name tags this worker's log lines and claimed jobs.
	Name     string
	Manager  *Manager
	Registry *service.Registry
	Pool     *pool.Pool
	Log      zerolog.Logger
	// PollInterval is the idle sleep between empty list checks. Zero uses 1s.
	PollInterval time.Duration
	// LoadTimeout bounds the wait for a resource load. Zero uses 5m.
	LoadTimeout time.Duration
	// AsyncEnabled lets this worker also claim async submissions.
	AsyncEnabled bool
	// SweepAge is the artifact retention for the pre-claim sweep. Zero uses
	// DefaultSweepAge.
	SweepAge time.Duration
}

// Worker claims job ids off the broker lists and executes them. Any number
// of workers across any number of processes can run against the same
// broker; an LPOPed id belongs to exactly one of them.
type Worker struct {
	mgr    *Manager
	reg    *service.Registry
	pool   *pool.Pool
	log    zerolog.Logger
	poll   time.Duration
	loadTO time.Duration
	async  bool
	sweep  time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 5 * time.Minute
	}
	if cfg.SweepAge <= 0 {
		cfg.SweepAge = DefaultSweepAge
	}
	return &Worker{
		mgr:    cfg.Manager,
		reg:    cfg.Registry,
		pool:   cfg.Pool,
		log:    cfg.Log.With().Str("worker", cfg.Name).Logger(),
		poll:   cfg.PollInterval,
		loadTO: cfg.LoadTimeout,
		async:  cfg.AsyncEnabled && cfg.Manager.Artifacts() != nil,
		sweep:  cfg.SweepAge,
	}
}

// Run loops until ctx is done. Sync submissions are always drained before
// async ones; an idle pass sleeps PollInterval.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Bool("async", w.async).Msg("job worker started")
	for {
		if err := ctx.Err(); err != nil {
			w.log.Info().Msg("job worker stopped")
			return err
		}
		id, ok := w.claim(ctx)
		if !ok {
			select {
			case <-ctx.Done():
			case <-time.After(w.poll):
			}
			continue
		}
		w.execute(ctx, id)
	}
}

func (w *Worker) claim(ctx context.Context) (string, bool) {
	id, ok, err := w.mgr.br.LPop(ctx, ListSync)
	if err != nil {
		w.log.Error().Err(err).Msg("broker lpop failed")
		return "", false
	}
	if ok {
		return id, true
	}
	if !w.async {
		return "", false
	}
	w.mgr.Artifacts().Sweep(w.sweep)
	id, ok, err = w.mgr.br.LPop(ctx, ListAsync)
	if err != nil {
		w.log.Error().Err(err).Msg("broker lpop failed")
		return "", false
	}
	return id, ok
}

func (w *Worker) execute(ctx context.Context, id string) {
	doc, err := w.mgr.Get(ctx, id)
	if err != nil {
		// The doc expired or the broker hiccuped after the id was pushed.
		w.log.Warn().Str("job_id", id).Msg("claimed id has no job document, skipping")
		return
	}
	if doc.Status != StatusSubmitted {
		w.log.Warn().Str("job_id", id).Str("status", string(doc.Status)).
			Msg("claimed job not in submitted state, skipping")
		return
	}

	doc.Status = StatusInProgress
	if err := w.mgr.put(ctx, doc); err != nil {
		w.log.Error().Err(err).Str("job_id", id).Msg("failed to mark job in progress")
	}
	if doc.Async {
		if err := w.mgr.Artifacts().WriteRunning(id); err != nil {
			w.log.Error().Err(err).Str("job_id", id).Msg("failed to write running marker")
		}
	}

	start := time.Now()
	result, err := w.invoke(ctx, doc)
	if err != nil {
		doc.Status = StatusError
		doc.Error = err.Error()
		w.log.Error().Err(err).Str("job_id", id).Str("kind", doc.Kind).
			Dur("dur", time.Since(start)).Msg("job failed")
	} else {
		doc.Status = StatusCompleted
		doc.Result = result
		w.log.Info().Str("job_id", id).Str("kind", doc.Kind).
			Dur("dur", time.Since(start)).Msg("job completed")
	}
	if err := w.mgr.put(ctx, doc); err != nil {
		w.log.Error().Err(err).Str("job_id", id).Msg("failed to store job outcome")
	}
	if doc.Async {
		outcome := map[string]any{
			"id":     doc.ID,
			"status": doc.Status,
			"result": doc.Result,
		}
		if doc.Error != "" {
			outcome["error"] = doc.Error
		}
		if err := w.mgr.Artifacts().WriteResult(id, outcome); err != nil {
			w.log.Error().Err(err).Str("job_id", id).Msg("failed to write result artifact")
		}
	}
}

// invoke resolves the job's kind and method, pins the underlying resource,
// and runs the prediction. Panics in predictor code are recovered into a
// job error so the worker loop survives.
func (w *Worker) invoke(ctx context.Context, doc *Document) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	svc, ok := w.reg.Lookup(doc.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown service kind: %q", doc.Kind)
	}
	fn, err := svc.Method(doc.Method)
	if err != nil {
		return nil, err
	}
	key := svc.ResourceKey(doc.Args)
	handle, release, err := w.pool.Acquire(ctx, key, func(ctx context.Context) (any, error) {
		return svc.Load(ctx, doc.Args)
	}, svc.SizeHintMB, true, w.loadTO)
	if err != nil {
		return nil, fmt.Errorf("acquire resource %s: %w", key, err)
	}
	defer release()
	return fn(ctx, handle, doc.Args)
}
