package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"predictd/internal/broker"
)

const (
	// DefaultJobTTL bounds how long a job document survives in the broker.
	DefaultJobTTL = 4 * 24 * time.Hour
	// DefaultResultPoll is the GetResult polling cadence.
	DefaultResultPoll = 500 * time.Millisecond
	// DefaultSweepAge is the artifact retention window.
	DefaultSweepAge = 3 * 24 * time.Hour
)

// ManagerConfig configures a job Manager.
type ManagerConfig struct {
	Broker broker.Broker
	Log    zerolog.Logger
	// JobTTL is the broker expiry for job documents. Zero uses DefaultJobTTL.
	JobTTL time.Duration
	// ResultPoll is the GetResult polling cadence. Zero uses DefaultResultPoll.
	ResultPoll time.Duration
	// Artifacts enables the durable async flow when non-nil.
	Artifacts *Artifacts
}

// Manager submits, tracks, and cancels distributed jobs. It is safe for
// concurrent use; all coordination lives in the broker.
type Manager struct {
	br        broker.Broker
	log       zerolog.Logger
	jobTTL    time.Duration
	poll      time.Duration
	artifacts *Artifacts
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = DefaultJobTTL
	}
	if cfg.ResultPoll <= 0 {
		cfg.ResultPoll = DefaultResultPoll
	}
	return &Manager{
		br:        cfg.Broker,
		log:       cfg.Log,
		jobTTL:    cfg.JobTTL,
		poll:      cfg.ResultPoll,
		artifacts: cfg.Artifacts,
	}
}

// Artifacts returns the async artifact store, nil when async is disabled.
func (m *Manager) Artifacts() *Artifacts { return m.artifacts }

// Submit persists a new job document and enqueues its id. Async jobs also
// get a durable request header file so their existence survives broker
// expiry.
func (m *Manager) Submit(ctx context.Context, kind, method string, args map[string]any, async bool) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("job kind must not be empty")
	}
	if async && m.artifacts == nil {
		return "", fmt.Errorf("async submissions are disabled: no artifact store configured")
	}
	now := time.Now()
	doc := &Document{
		ID:          uuid.NewString(),
		Kind:        kind,
		Method:      method,
		Args:        args,
		Async:       async,
		Status:      StatusSubmitted,
		SubmittedAt: now,
		ExpiresAt:   now.Add(m.jobTTL),
	}
	if err := m.put(ctx, doc); err != nil {
		return "", err
	}
	list := ListSync
	if async {
		list = ListAsync
		if err := m.artifacts.WriteRequest(doc); err != nil {
			return "", err
		}
	}
	if err := m.br.RPush(ctx, list, doc.ID); err != nil {
		// The doc exists but no worker will ever claim it; drop it so the
		// caller can resubmit cleanly.
		_ = m.br.Delete(ctx, jobKey(doc.ID))
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	m.log.Info().
		Str("job_id", doc.ID).
		Str("kind", kind).
		Str("method", method).
		Bool("async", async).
		Msg("job submitted")
	return doc.ID, nil
}

// Get loads a job document. Broker failures are logged and reported as
// not-found so transient broker trouble reads like an expired job, not an
// outage.
func (m *Manager) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	ok, err := m.br.GetJSON(ctx, jobKey(id), &doc)
	if err != nil {
		m.log.Error().Err(err).Str("job_id", id).Msg("broker read failed")
		return nil, notFoundError{id: id}
	}
	if !ok {
		return nil, notFoundError{id: id}
	}
	return &doc, nil
}

// GetResult returns the document once it reaches a terminal status, polling
// until then. The wait is bounded only by ctx.
func (m *Manager) GetResult(ctx context.Context, id string) (*Document, error) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		doc, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Status.Terminal() {
			return doc, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel withdraws a job that no worker has claimed yet. It reports false
// once a worker owns the id; running work is never interrupted.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	doc, err := m.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if doc.Status != StatusSubmitted {
		return false, nil
	}
	list := ListSync
	if doc.Async {
		list = ListAsync
	}
	n, err := m.br.LRem(ctx, list, id)
	if err != nil {
		m.log.Error().Err(err).Str("job_id", id).Msg("broker lrem failed")
		return false, nil
	}
	if n == 0 {
		// A worker popped the id between our read and the LREM.
		return false, nil
	}
	doc.Status = StatusCanceled
	if err := m.put(ctx, doc); err != nil {
		return false, err
	}
	m.log.Info().Str("job_id", id).Msg("job canceled")
	return true, nil
}

// ListJobs scans job:* and returns the surviving documents, newest first.
func (m *Manager) ListJobs(ctx context.Context) ([]*Document, error) {
	keys, err := m.br.Keys(ctx, "job:*")
	if err != nil {
		m.log.Error().Err(err).Msg("broker keys scan failed")
		return nil, nil
	}
	out := make([]*Document, 0, len(keys))
	for _, k := range keys {
		var doc Document
		ok, err := m.br.GetJSON(ctx, k, &doc)
		if err != nil || !ok {
			continue // expired between scan and read
		}
		out = append(out, &doc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out, nil
}

// ResetSubmissions drains the sync submission list, marking each drained
// job canceled. Ops escape hatch for a wedged queue.
func (m *Manager) ResetSubmissions(ctx context.Context) (int, error) {
	n := 0
	for {
		id, ok, err := m.br.LPop(ctx, ListSync)
		if err != nil {
			return n, fmt.Errorf("drain submissions: %w", err)
		}
		if !ok {
			break
		}
		n++
		if doc, err := m.Get(ctx, id); err == nil && doc.Status == StatusSubmitted {
			doc.Status = StatusCanceled
			_ = m.put(ctx, doc)
		}
	}
	if n > 0 {
		m.log.Warn().Int("drained", n).Msg("sync submission queue reset")
	}
	return n, nil
}

// RetrieveAsync answers for an async job from marker files alone.
// For FINISHED jobs the decoded result artifact is returned.
func (m *Manager) RetrieveAsync(id string) (ArtifactState, map[string]any, error) {
	if m.artifacts == nil {
		return ArtifactUnknown, nil, fmt.Errorf("async submissions are disabled: no artifact store configured")
	}
	state := m.artifacts.Status(id)
	if state != ArtifactFinished {
		return state, nil, nil
	}
	var outcome map[string]any
	if err := m.artifacts.ReadResult(id, &outcome); err != nil {
		return state, nil, err
	}
	return state, outcome, nil
}

// put writes the document back with its remaining lifetime. Terminal writes
// on an already expired doc keep a short grace window so the caller that is
// polling can still observe the outcome.
func (m *Manager) put(ctx context.Context, doc *Document) error {
	ttl := time.Until(doc.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := m.br.SetJSON(ctx, jobKey(doc.ID), doc, ttl); err != nil {
		return fmt.Errorf("store job %s: %w", doc.ID, err)
	}
	return nil
}
