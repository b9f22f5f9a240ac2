// Package queue implements the in-process priority queue of inference
// requests: priority-then-FIFO dispatch, a concurrency cap, queueing
// timeouts, and pre-dispatch cancellation.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"predictd/pkg/types"
)

// ErrClosed is returned by Next once the queue has been shut down.
var ErrClosed = errors.New("request queue closed")

const (
	errTimedOut = "request timed out while waiting in queue"
	errCanceled = "request canceled by caller"
)

// Request is a unit of work tracked by the queue. Fields are mutated only
// under the owning queue's lock; workers receive a popped *Request and must
// report back via Complete rather than mutating state themselves.
type Request struct {
	ID          string
	Payload     map[string]any
	Priority    types.Priority
	State       types.RequestState
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Timeout     time.Duration
	Result      any
	Error       string

	seq   uint64 // submission order, tie-break within a priority
	index int    // heap index, -1 when not pending
}

func (r *Request) timedOut(now time.Time) bool {
	if r.Timeout <= 0 {
		return false
	}
	return now.Sub(r.CreatedAt) > r.Timeout
}

// Queue is a priority queue with a cap on concurrently dispatched requests.
type Queue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	pending    requestHeap
	requests   map[string]*Request
	processing map[string]struct{}

	maxConcurrent int
	seq           uint64
	closed        bool
	stop          chan struct{}
	log           zerolog.Logger
}

const defaultMaxConcurrent = 4

// sweepInterval bounds how stale a queued timeout can go unnoticed while
// every worker is blocked in Next.
const sweepInterval = time.Second

// New constructs a queue with the given concurrency cap (<=0 uses the
// package default) and starts the periodic timeout sweep.
func New(maxConcurrent int, log zerolog.Logger) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	q := &Queue{
		requests:      make(map[string]*Request),
		processing:    make(map[string]struct{}),
		maxConcurrent: maxConcurrent,
		stop:          make(chan struct{}),
		log:           log,
	}
	q.cond = sync.NewCond(&q.mu)
	go q.sweepLoop()
	return q
}

// sweepLoop wakes blocked Next callers so queued timeouts are observed even
// when no new work arrives.
func (q *Queue) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			q.mu.Lock()
			q.expireLocked(time.Now())
			q.mu.Unlock()
			q.cond.Broadcast()
		case <-q.stop:
			return
		}
	}
}

// Close shuts the queue down. Blocked Next callers return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.stop)
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Add enqueues a request and returns its id. Add never rejects work; the
// concurrency cap applies at dispatch, not admission.
func (q *Queue) Add(payload map[string]any, prio types.Priority, timeout time.Duration) string {
	id := uuid.NewString()
	q.mu.Lock()
	q.seq++
	r := &Request{
		ID:        id,
		Payload:   payload,
		Priority:  prio,
		State:     types.StatePending,
		CreatedAt: time.Now(),
		Timeout:   timeout,
		seq:       q.seq,
		index:     -1,
	}
	q.requests[id] = r
	heap.Push(&q.pending, r)
	q.mu.Unlock()
	q.cond.Signal()
	q.log.Info().Str("request_id", id).Stringer("priority", prio).Msg("request queued")
	return id
}

// Next blocks until a dispatchable request exists and a concurrency slot is
// free, then transitions it to processing and returns it. It returns ctx.Err
// when the context ends and ErrClosed after Close.
func (q *Queue) Next(ctx context.Context) (*Request, error) {
	// Wake the cond wait when the caller gives up.
	stop := context.AfterFunc(ctx, q.cond.Broadcast)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.closed {
			return nil, ErrClosed
		}
		q.expireLocked(time.Now())
		if len(q.processing) < q.maxConcurrent && q.pending.Len() > 0 {
			r := heap.Pop(&q.pending).(*Request)
			r.State = types.StateProcessing
			r.StartedAt = time.Now()
			q.processing[r.ID] = struct{}{}
			q.log.Debug().Str("request_id", r.ID).Msg("request dispatched")
			return r, nil
		}
		q.cond.Wait()
	}
}

// Complete records the terminal outcome of a dispatched request and frees
// its concurrency slot. Unknown or already-terminal ids are dropped with a
// warning.
func (q *Queue) Complete(id string, result any, errMsg string) {
	q.mu.Lock()
	r, ok := q.requests[id]
	if !ok {
		q.mu.Unlock()
		q.log.Warn().Str("request_id", id).Msg("complete for unknown request")
		return
	}
	if r.State.Terminal() {
		q.mu.Unlock()
		q.log.Warn().Str("request_id", id).Str("state", string(r.State)).Msg("complete for terminal request")
		return
	}
	r.CompletedAt = time.Now()
	if errMsg != "" {
		r.State = types.StateFailed
		r.Error = errMsg
	} else {
		r.State = types.StateCompleted
		r.Result = result
	}
	delete(q.processing, id)
	q.mu.Unlock()
	q.cond.Signal()
	if errMsg != "" {
		q.log.Error().Str("request_id", id).Str("error", errMsg).Msg("request failed")
	} else {
		q.log.Info().Str("request_id", id).Msg("request completed")
	}
}

// Cancel moves a still-pending request to canceled. In-flight and terminal
// requests are not touched; there is no preemption.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.requests[id]
	if !ok || r.State != types.StatePending {
		return false
	}
	if r.index >= 0 {
		heap.Remove(&q.pending, r.index)
	}
	r.State = types.StateCanceled
	r.CompletedAt = time.Now()
	r.Error = errCanceled
	q.log.Info().Str("request_id", id).Msg("request canceled")
	return true
}

// StatusOf returns a snapshot of the request. A pending request past its
// deadline is flipped to timeout here, not only by the background sweep.
func (q *Queue) StatusOf(id string) (types.RequestStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.requests[id]
	if !ok {
		return types.RequestStatus{}, false
	}
	now := time.Now()
	if r.State == types.StatePending && r.timedOut(now) {
		q.timeoutLocked(r, now)
	}
	return snapshot(r, now), true
}

// Stats reports queue depth, processing count, and per-state/per-priority
// breakdowns.
func (q *Queue) Stats() types.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := types.QueueStats{
		QueueLength:     q.pending.Len(),
		ProcessingCount: len(q.processing),
		TotalRequests:   len(q.requests),
		StatusCounts:    make(map[string]int),
		PriorityCounts:  make(map[string]int),
		MaxConcurrent:   q.maxConcurrent,
	}
	for _, r := range q.requests {
		st.StatusCounts[string(r.State)]++
	}
	for _, r := range q.pending {
		st.PriorityCounts[r.Priority.String()]++
	}
	return st
}

// CleanupTerminal drops terminal requests older than maxAge from the table
// and returns how many were removed.
func (q *Queue) CleanupTerminal(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, r := range q.requests {
		if r.State.Terminal() && !r.CompletedAt.IsZero() && r.CompletedAt.Before(cutoff) {
			delete(q.requests, id)
			removed++
		}
	}
	if removed > 0 {
		q.log.Info().Int("removed", removed).Msg("pruned terminal requests")
	}
	return removed
}

// expireLocked times out overdue pending requests. Caller holds q.mu.
func (q *Queue) expireLocked(now time.Time) {
	for i := 0; i < q.pending.Len(); {
		r := q.pending[i]
		if r.timedOut(now) {
			q.timeoutLocked(r, now)
			// heap.Remove reshuffles; re-examine index i
			continue
		}
		i++
	}
}

// timeoutLocked transitions a pending request to timeout. Caller holds q.mu.
func (q *Queue) timeoutLocked(r *Request, now time.Time) {
	if r.index >= 0 {
		heap.Remove(&q.pending, r.index)
	}
	r.State = types.StateTimeout
	r.CompletedAt = now
	r.Error = errTimedOut
	q.log.Warn().Str("request_id", r.ID).Msg("request timed out in queue")
}

func snapshot(r *Request, now time.Time) types.RequestStatus {
	s := types.RequestStatus{
		RequestID: r.ID,
		Status:    r.State,
		Priority:  r.Priority.String(),
		CreatedAt: r.CreatedAt.Format(time.RFC3339Nano),
	}
	end := now
	if !r.CompletedAt.IsZero() {
		end = r.CompletedAt
		s.CompletedAt = r.CompletedAt.Format(time.RFC3339Nano)
	}
	s.ElapsedSeconds = end.Sub(r.CreatedAt).Seconds()
	if !r.StartedAt.IsZero() {
		s.StartedAt = r.StartedAt.Format(time.RFC3339Nano)
		s.ProcessingSeconds = end.Sub(r.StartedAt).Seconds()
	}
	if r.State == types.StateCompleted {
		s.Result = r.Result
	}
	if r.Error != "" && r.State != types.StateCompleted {
		s.Error = r.Error
	}
	return s
}
