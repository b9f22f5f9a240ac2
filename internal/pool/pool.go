// Package pool manages loading, caching, and eviction of heavyweight
// resources under count and memory budgets. Loads are single-flight per
// resource id and always run outside the pool lock; a caller that gives up
// waiting leaves the load running for the next caller.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"predictd/pkg/types"
)

// Loader produces the resource handle. It is invoked exactly once per
// resident entry, no matter how many callers race on the same id.
type Loader func(ctx context.Context) (any, error)

type entry struct {
	id       string
	handle   any
	sizeMB   int
	loadedAt time.Time
	lastUsed time.Time
	useCount int64
	loading  bool
	loadErr  error
	done     chan struct{} // closed when the load finishes either way
	pins     int           // active references; pinned entries are not evicted
}

// Config holds pool tunables. Zero MaxCount uses the package default; zero
// MaxMemoryMB means no memory budget.
type Config struct {
	MaxCount    int
	MaxMemoryMB int
	HeadroomMB  int
	Strategy    types.EvictionStrategy
	Log         zerolog.Logger
}

const defaultMaxCount = 5

// Pool is a bounded cache of loaded resources.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxCount    int
	maxMemoryMB int
	headroomMB  int
	strategy    types.EvictionStrategy
	log         zerolog.Logger

	evictions uint64
	loads     uint64
}

// New constructs a pool from cfg, applying defaults for unset fields.
func New(cfg Config) *Pool {
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = defaultMaxCount
	}
	if cfg.Strategy == "" {
		cfg.Strategy = types.EvictLRU
	}
	return &Pool{
		entries:     make(map[string]*entry),
		maxCount:    cfg.MaxCount,
		maxMemoryMB: cfg.MaxMemoryMB,
		headroomMB:  cfg.HeadroomMB,
		strategy:    cfg.Strategy,
		log:         cfg.Log,
	}
}

// Acquire returns the handle for id, loading it through load if absent.
// sizeHintMB drives admission/eviction accounting until the load commits.
// With block=false an in-flight load returns immediately with a
// still-loading error; with block=true the caller waits up to timeout
// (0 = no bound) for the load. The returned release func unpins the entry
// and must be called once the handle is no longer in use.
func (p *Pool) Acquire(ctx context.Context, id string, load Loader, sizeHintMB int, block bool, timeout time.Duration) (any, func(), error) {
	p.mu.Lock()
	if e, ok := p.entries[id]; ok {
		if !e.loading {
			h, release := p.touchLocked(e)
			p.mu.Unlock()
			return h, release, nil
		}
		if !block {
			p.mu.Unlock()
			return nil, nil, stillLoadingError{id: id}
		}
		p.mu.Unlock()
		return p.awaitLoad(ctx, e, timeout)
	}

	// Admit a new entry, evicting victims first if over budget.
	p.evictForAdmissionLocked(sizeHintMB)
	e := &entry{
		id:       id,
		sizeMB:   sizeHintMB,
		loadedAt: time.Now(),
		lastUsed: time.Now(),
		loading:  true,
		done:     make(chan struct{}),
	}
	p.entries[id] = e
	p.mu.Unlock()

	// The load survives this caller's cancellation so a later Acquire can
	// reuse the result.
	go p.runLoad(context.WithoutCancel(ctx), e, load)

	if !block {
		return nil, nil, stillLoadingError{id: id}
	}
	return p.awaitLoad(ctx, e, timeout)
}

func (p *Pool) runLoad(ctx context.Context, e *entry, load Loader) {
	h, err := load(ctx)
	p.mu.Lock()
	if err != nil {
		e.loadErr = err
		// Remove the entry entirely so the next caller retries the load.
		delete(p.entries, e.id)
		p.mu.Unlock()
		close(e.done)
		p.log.Error().Str("resource", e.id).Err(err).Msg("resource load failed")
		return
	}
	e.handle = h
	e.loading = false
	e.loadedAt = time.Now()
	p.loads++
	p.mu.Unlock()
	close(e.done)
	p.log.Info().Str("resource", e.id).Int("size_mb", e.sizeMB).Msg("resource loaded")
}

// awaitLoad waits for e's in-flight load and returns the pinned handle.
func (p *Pool) awaitLoad(ctx context.Context, e *entry, timeout time.Duration) (any, func(), error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-e.done:
	case <-timer:
		return nil, nil, loadWaitTimeoutError{id: e.id}
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.loadErr != nil {
		return nil, nil, fmt.Errorf("resource load failed: %w", e.loadErr)
	}
	h, release := p.touchLocked(e)
	return h, release, nil
}

// touchLocked marks an entry used and pins it. Caller holds p.mu.
func (p *Pool) touchLocked(e *entry) (any, func()) {
	e.lastUsed = time.Now()
	e.useCount++
	e.pins++
	var once sync.Once
	release := func() {
		once.Do(func() {
			p.mu.Lock()
			e.pins--
			p.mu.Unlock()
		})
	}
	return e.handle, release
}

// Stats reports pool occupancy and per-resource usage.
func (p *Pool) Stats() types.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := types.PoolStats{
		MaxCount:       p.maxCount,
		MaxMemoryMB:    p.maxMemoryMB,
		Strategy:       string(p.strategy),
		EvictionsTotal: p.evictions,
		LoadsTotal:     p.loads,
		Resources:      make(map[string]types.ResourceStat, len(p.entries)),
	}
	for id, e := range p.entries {
		if e.loading {
			st.LoadingCount++
		} else {
			st.LoadedCount++
			st.TotalMB += e.sizeMB
		}
		st.Resources[id] = types.ResourceStat{
			SizeMB:    e.sizeMB,
			LoadedAt:  e.loadedAt.Format(time.RFC3339Nano),
			LastUsed:  e.lastUsed.Format(time.RFC3339Nano),
			UseCount:  e.useCount,
			IsLoading: e.loading,
		}
	}
	return st
}

// victimsLocked returns evictable entries ordered by the configured
// strategy. Loading and pinned entries are never candidates.
func (p *Pool) victimsLocked() []*entry {
	out := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.loading || e.pins > 0 {
			continue
		}
		out = append(out, e)
	}
	switch p.strategy {
	case types.EvictLFU:
		sort.Slice(out, func(i, j int) bool { return out[i].useCount < out[j].useCount })
	case types.EvictSize:
		sort.Slice(out, func(i, j int) bool { return out[i].sizeMB > out[j].sizeMB })
	default: // LRU
		sort.Slice(out, func(i, j int) bool { return out[i].lastUsed.Before(out[j].lastUsed) })
	}
	return out
}
