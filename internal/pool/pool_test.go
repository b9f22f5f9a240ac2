package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"predictd/pkg/types"
)

func newTestPool(cfg Config) *Pool {
	cfg.Log = zerolog.Nop()
	return New(cfg)
}

func staticLoader(v any) Loader {
	return func(context.Context) (any, error) { return v, nil }
}

// acquire wraps Acquire with block=true and releases immediately.
func acquire(t *testing.T, p *Pool, id string, sizeMB int) any {
	t.Helper()
	h, release, err := p.Acquire(context.Background(), id, staticLoader(id+"-handle"), sizeMB, true, time.Second)
	if err != nil {
		t.Fatalf("acquire %s: %v", id, err)
	}
	release()
	return h
}

func TestAcquireLoadsAndReturnsHandle(t *testing.T) {
	p := newTestPool(Config{MaxCount: 2})
	h := acquire(t, p, "a", 10)
	if h != "a-handle" {
		t.Fatalf("handle = %v", h)
	}
	st := p.Stats()
	if st.LoadedCount != 1 || st.LoadsTotal != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Resources["a"].UseCount != 1 {
		t.Fatalf("use count = %d", st.Resources["a"].UseCount)
	}
}

func TestSingleFlightLoad(t *testing.T) {
	p := newTestPool(Config{MaxCount: 2})
	var calls atomic.Int32
	gate := make(chan struct{})
	loader := func(context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return "shared", nil
	}

	const n = 8
	results := make([]any, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, release, err := p.Acquire(context.Background(), "m", loader, 1, true, 2*time.Second)
			results[i], errs[i] = h, err
			if release != nil {
				release()
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("loader ran %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Fatalf("caller %d got %v", i, results[i])
		}
	}
}

func TestLoadFailureSharedThenRetriable(t *testing.T) {
	p := newTestPool(Config{MaxCount: 2})
	boom := errors.New("no such artifact")
	fails := func(context.Context) (any, error) { return nil, boom }

	_, _, err := p.Acquire(context.Background(), "bad", fails, 1, true, time.Second)
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	// Entry must be gone so the next caller can retry with a working loader.
	if st := p.Stats(); len(st.Resources) != 0 {
		t.Fatalf("failed entry still resident: %+v", st.Resources)
	}
	h, release, err := p.Acquire(context.Background(), "bad", staticLoader("fixed"), 1, true, time.Second)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	release()
	if h != "fixed" {
		t.Fatalf("retry handle = %v", h)
	}
}

func TestNonBlockingStillLoading(t *testing.T) {
	p := newTestPool(Config{MaxCount: 2})
	gate := make(chan struct{})
	defer close(gate)
	slow := func(context.Context) (any, error) { <-gate; return "x", nil }

	_, _, err := p.Acquire(context.Background(), "slow", slow, 1, false, 0)
	if !IsStillLoading(err) {
		t.Fatalf("first non-blocking acquire: %v", err)
	}
	_, _, err = p.Acquire(context.Background(), "slow", slow, 1, false, 0)
	if !IsStillLoading(err) {
		t.Fatalf("second non-blocking acquire: %v", err)
	}
}

func TestBlockingWaitTimeoutLeavesLoadRunning(t *testing.T) {
	p := newTestPool(Config{MaxCount: 2})
	gate := make(chan struct{})
	slow := func(context.Context) (any, error) { <-gate; return "x", nil }

	_, _, err := p.Acquire(context.Background(), "slow", slow, 1, true, 20*time.Millisecond)
	if !IsLoadWaitTimeout(err) {
		t.Fatalf("expected load wait timeout, got %v", err)
	}
	// Finish the load; a later caller gets the handle without reloading.
	close(gate)
	h, release, err := p.Acquire(context.Background(), "slow", slow, 1, true, time.Second)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	release()
	if h != "x" {
		t.Fatalf("handle = %v", h)
	}
	if st := p.Stats(); st.LoadsTotal != 1 {
		t.Fatalf("loads = %d, want 1", st.LoadsTotal)
	}
}

func TestEvictionLRUBound(t *testing.T) {
	p := newTestPool(Config{MaxCount: 2, Strategy: types.EvictLRU})
	acquire(t, p, "a", 10)
	time.Sleep(5 * time.Millisecond)
	acquire(t, p, "b", 10)
	time.Sleep(5 * time.Millisecond)
	acquire(t, p, "c", 10)

	st := p.Stats()
	if st.LoadedCount != 2 {
		t.Fatalf("resident = %d, want 2", st.LoadedCount)
	}
	if _, ok := st.Resources["a"]; ok {
		t.Fatalf("expected 'a' (oldest) evicted: %+v", st.Resources)
	}
	for _, id := range []string{"b", "c"} {
		if _, ok := st.Resources[id]; !ok {
			t.Fatalf("expected %q resident", id)
		}
	}
	if st.EvictionsTotal != 1 {
		t.Fatalf("evictions = %d", st.EvictionsTotal)
	}
}

func TestEvictionLFUPicksLeastUsed(t *testing.T) {
	p := newTestPool(Config{MaxCount: 2, Strategy: types.EvictLFU})
	acquire(t, p, "hot", 10)
	acquire(t, p, "cold", 10)
	// Heat up "hot" so "cold" has the lowest use count.
	acquire(t, p, "hot", 10)
	acquire(t, p, "hot", 10)
	acquire(t, p, "new", 10)

	st := p.Stats()
	if _, ok := st.Resources["cold"]; ok {
		t.Fatalf("expected 'cold' evicted: %+v", st.Resources)
	}
	if _, ok := st.Resources["hot"]; !ok {
		t.Fatalf("expected 'hot' resident")
	}
}

func TestEvictionSizePicksLargest(t *testing.T) {
	p := newTestPool(Config{MaxCount: 2, Strategy: types.EvictSize})
	acquire(t, p, "small", 10)
	acquire(t, p, "big", 100)
	acquire(t, p, "new", 10)

	st := p.Stats()
	if _, ok := st.Resources["big"]; ok {
		t.Fatalf("expected 'big' evicted: %+v", st.Resources)
	}
}

func TestMemoryBudgetEviction(t *testing.T) {
	p := newTestPool(Config{MaxCount: 10, MaxMemoryMB: 100, HeadroomMB: 10, Strategy: types.EvictLRU})
	acquire(t, p, "a", 60)
	time.Sleep(5 * time.Millisecond)
	acquire(t, p, "b", 30)
	time.Sleep(5 * time.Millisecond)
	// 60+30+50 > 100: must evict under the LRU strategy until it fits.
	acquire(t, p, "c", 50)

	st := p.Stats()
	if _, ok := st.Resources["a"]; ok {
		t.Fatalf("expected 'a' evicted: %+v", st.Resources)
	}
	if st.TotalMB > 100+10 {
		t.Fatalf("resident memory %dMB exceeds budget+headroom", st.TotalMB)
	}
}

func TestPinnedEntryNotEvicted(t *testing.T) {
	p := newTestPool(Config{MaxCount: 1, Strategy: types.EvictLRU})
	_, release, err := p.Acquire(context.Background(), "pinned", staticLoader("h"), 10, true, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Admitting a second resource would evict "pinned" were it not in use.
	acquire(t, p, "other", 10)
	st := p.Stats()
	if _, ok := st.Resources["pinned"]; !ok {
		t.Fatalf("pinned entry evicted while in use")
	}
	release()
	if !p.Evict("pinned") {
		t.Fatalf("evict after release should succeed")
	}
}

func TestExplicitEvictAndClearRefuseLoading(t *testing.T) {
	p := newTestPool(Config{MaxCount: 4})
	gate := make(chan struct{})
	defer close(gate)
	slow := func(context.Context) (any, error) { <-gate; return "x", nil }
	_, _, _ = p.Acquire(context.Background(), "loading", slow, 1, false, 0)
	acquire(t, p, "done", 1)

	if p.Evict("loading") {
		t.Fatalf("evicted a loading entry")
	}
	if p.Evict("missing") {
		t.Fatalf("evicted a missing entry")
	}
	if n := p.Clear(); n != 1 {
		t.Fatalf("cleared %d, want 1", n)
	}
	st := p.Stats()
	if st.LoadingCount != 1 {
		t.Fatalf("loading entry removed by Clear: %+v", st)
	}
}
