package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"predictd/internal/queue"
)

// run is one inference worker: pop, execute, report, repeat.
func (m *Manager) run(ctx context.Context, name string) error {
	log := m.log.With().Str("worker", name).Logger()
	log.Debug().Msg("inference worker started")
	for {
		r, err := m.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
				log.Debug().Msg("inference worker stopped")
				return nil
			}
			return err
		}
		metricProcessing.Inc()
		m.process(ctx, r, log)
		metricProcessing.Dec()
		m.refreshMetrics()
	}
}

func (m *Manager) process(ctx context.Context, r *queue.Request, log zerolog.Logger) {
	start := time.Now()
	result, err := m.invoke(ctx, r)
	if err != nil {
		m.queue.Complete(r.ID, nil, err.Error())
	} else {
		m.queue.Complete(r.ID, result, "")
	}

	st, ok := m.queue.StatusOf(r.ID)
	if !ok || !st.Status.Terminal() {
		// Complete dropped the report (e.g. the request timed out while
		// executing); nothing durable to record.
		return
	}
	m.results.put(st)
	metricCompletions.WithLabelValues(string(st.Status)).Inc()
	log.Debug().
		Str("request_id", r.ID).
		Str("status", string(st.Status)).
		Dur("dur", time.Since(start)).
		Msg("request processed")
}

// invoke resolves the request's service, pins its resource, and runs the
// prediction. Predictor panics become request failures, not process deaths.
func (m *Manager) invoke(ctx context.Context, r *queue.Request) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("prediction panicked: %v", rec)
		}
	}()

	svc, err := m.reg.Resolve(r.Payload)
	if err != nil {
		return nil, err
	}
	key := svc.ResourceKey(r.Payload)
	handle, release, err := m.pool.Acquire(ctx, key, func(ctx context.Context) (any, error) {
		return svc.Load(ctx, r.Payload)
	}, svc.SizeHintMB, true, m.loadTO)
	if err != nil {
		return nil, fmt.Errorf("acquire resource %s: %w", key, err)
	}
	defer release()
	return svc.Invoke(ctx, handle, r.Payload)
}
