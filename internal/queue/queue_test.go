package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"predictd/pkg/types"
)

func newTestQueue(maxConcurrent int) *Queue {
	return New(maxConcurrent, zerolog.Nop())
}

func mustNext(t *testing.T, q *Queue) *Request {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	return r
}

func TestDispatchOrderByPriorityThenFIFO(t *testing.T) {
	q := newTestQueue(4)
	defer q.Close()

	low := q.Add(map[string]any{"n": 1}, types.PriorityLow, 0)
	crit := q.Add(map[string]any{"n": 2}, types.PriorityCritical, 0)
	norm1 := q.Add(map[string]any{"n": 3}, types.PriorityNormal, 0)
	norm2 := q.Add(map[string]any{"n": 4}, types.PriorityNormal, 0)

	want := []string{crit, norm1, norm2, low}
	for i, id := range want {
		r := mustNext(t, q)
		if r.ID != id {
			t.Fatalf("dispatch %d: got %s want %s", i, r.ID, id)
		}
		if r.State != types.StateProcessing {
			t.Fatalf("dispatch %d: state %s", i, r.State)
		}
		if r.StartedAt.IsZero() {
			t.Fatalf("dispatch %d: StartedAt not set", i)
		}
	}
}

func TestConcurrencyCapBlocksUntilComplete(t *testing.T) {
	q := newTestQueue(1)
	defer q.Close()

	first := q.Add(nil, types.PriorityNormal, 0)
	q.Add(nil, types.PriorityNormal, 0)

	r1 := mustNext(t, q)
	if r1.ID != first {
		t.Fatalf("got %s want %s", r1.ID, first)
	}

	// Second Next must not return while the slot is held.
	got := make(chan *Request, 1)
	go func() {
		r := mustNext(t, q)
		got <- r
	}()
	select {
	case r := <-got:
		t.Fatalf("dispatched %s past the concurrency cap", r.ID)
	case <-time.After(50 * time.Millisecond):
	}
	if st := q.Stats(); st.ProcessingCount != 1 {
		t.Fatalf("processing count = %d, want 1", st.ProcessingCount)
	}

	q.Complete(first, "ok", "")
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("second request never dispatched after slot freed")
	}
}

func TestCompleteRecordsResultAndError(t *testing.T) {
	q := newTestQueue(2)
	defer q.Close()

	okID := q.Add(nil, types.PriorityNormal, 0)
	failID := q.Add(nil, types.PriorityNormal, 0)
	mustNext(t, q)
	mustNext(t, q)

	q.Complete(okID, map[string]any{"v": 42}, "")
	q.Complete(failID, nil, "boom")

	st, ok := q.StatusOf(okID)
	if !ok || st.Status != types.StateCompleted || st.Result == nil || st.Error != "" {
		t.Fatalf("unexpected ok status: %+v", st)
	}
	if st.CompletedAt == "" || st.StartedAt == "" {
		t.Fatalf("timestamps missing: %+v", st)
	}
	st, _ = q.StatusOf(failID)
	if st.Status != types.StateFailed || st.Error != "boom" || st.Result != nil {
		t.Fatalf("unexpected fail status: %+v", st)
	}

	// Completing again must not overwrite the terminal record.
	q.Complete(okID, nil, "late error")
	st, _ = q.StatusOf(okID)
	if st.Status != types.StateCompleted {
		t.Fatalf("terminal state overwritten: %+v", st)
	}
}

func TestCompleteUnknownIsDropped(t *testing.T) {
	q := newTestQueue(1)
	defer q.Close()
	q.Complete("no-such-id", nil, "")
}

func TestCancelPendingOnly(t *testing.T) {
	q := newTestQueue(1)
	defer q.Close()

	id := q.Add(nil, types.PriorityNormal, 0)
	if !q.Cancel(id) {
		t.Fatalf("expected cancel of pending request to succeed")
	}
	if q.Cancel(id) {
		t.Fatalf("expected second cancel to fail")
	}
	st, _ := q.StatusOf(id)
	if st.Status != types.StateCanceled {
		t.Fatalf("status %s, want canceled", st.Status)
	}

	// A dispatched request cannot be canceled.
	id2 := q.Add(nil, types.PriorityNormal, 0)
	r := mustNext(t, q)
	if r.ID != id2 {
		t.Fatalf("dispatched %s, want %s", r.ID, id2)
	}
	if q.Cancel(id2) {
		t.Fatalf("canceled a processing request")
	}
}

func TestCanceledRequestIsNotDispatched(t *testing.T) {
	q := newTestQueue(1)
	defer q.Close()

	victim := q.Add(nil, types.PriorityHigh, 0)
	other := q.Add(nil, types.PriorityLow, 0)
	if !q.Cancel(victim) {
		t.Fatalf("cancel failed")
	}
	r := mustNext(t, q)
	if r.ID != other {
		t.Fatalf("dispatched %s, want %s", r.ID, other)
	}
}

func TestTimeoutResolvedLazilyOnStatus(t *testing.T) {
	q := newTestQueue(1)
	defer q.Close()

	id := q.Add(nil, types.PriorityNormal, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	st, ok := q.StatusOf(id)
	if !ok {
		t.Fatalf("request lost")
	}
	if st.Status != types.StateTimeout {
		t.Fatalf("status %s, want timeout", st.Status)
	}
	if st.Error == "" {
		t.Fatalf("timeout should carry an error message")
	}
}

func TestTimedOutRequestIsSkippedByNext(t *testing.T) {
	q := newTestQueue(1)
	defer q.Close()

	q.Add(nil, types.PriorityCritical, 5*time.Millisecond)
	keep := q.Add(nil, types.PriorityLow, 0)
	time.Sleep(20 * time.Millisecond)

	r := mustNext(t, q)
	if r.ID != keep {
		t.Fatalf("dispatched %s, want %s", r.ID, keep)
	}
}

func TestNextContextCancel(t *testing.T) {
	q := newTestQueue(1)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Next(ctx)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Next did not observe cancellation")
	}
}

func TestNextAfterClose(t *testing.T) {
	q := newTestQueue(1)
	q.Close()
	_, err := q.Next(context.Background())
	if err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestStatsCounts(t *testing.T) {
	q := newTestQueue(2)
	defer q.Close()

	q.Add(nil, types.PriorityHigh, 0)
	q.Add(nil, types.PriorityLow, 0)
	done := q.Add(nil, types.PriorityCritical, 0)
	r := mustNext(t, q)
	if r.ID != done {
		t.Fatalf("dispatched %s, want %s", r.ID, done)
	}
	q.Complete(done, nil, "")

	st := q.Stats()
	if st.QueueLength != 2 || st.ProcessingCount != 0 || st.TotalRequests != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.StatusCounts["pending"] != 2 || st.StatusCounts["completed"] != 1 {
		t.Fatalf("unexpected status counts: %+v", st.StatusCounts)
	}
	if st.PriorityCounts["high"] != 1 || st.PriorityCounts["low"] != 1 {
		t.Fatalf("unexpected priority counts: %+v", st.PriorityCounts)
	}
	if st.MaxConcurrent != 2 {
		t.Fatalf("max concurrent = %d", st.MaxConcurrent)
	}
}

func TestCleanupTerminal(t *testing.T) {
	q := newTestQueue(1)
	defer q.Close()

	id := q.Add(nil, types.PriorityNormal, 0)
	mustNext(t, q)
	q.Complete(id, nil, "")
	keep := q.Add(nil, types.PriorityNormal, 0)

	time.Sleep(10 * time.Millisecond)
	if n := q.CleanupTerminal(time.Millisecond); n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
	if _, ok := q.StatusOf(id); ok {
		t.Fatalf("terminal request not pruned")
	}
	if _, ok := q.StatusOf(keep); !ok {
		t.Fatalf("pending request pruned")
	}
}
