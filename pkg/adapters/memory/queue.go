package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/ports"
	"github.com/google/uuid"
)

const (
	defaultMaxAttempts = 5
	defaultVisibility  = 30 * time.Second
)

type job struct {
	delivery ports.Delivery
	due      time.Time
	seq      uint64
	index    int
}

// jobHeap orders jobs by due time, then by enqueue order.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *jobHeap) Push(x any) {
	j := x.(*job)
	j.index = len(*h)
	*h = append(*h, j)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// QueueOption configures the in-memory queue.
type QueueOption func(*Queue)

// WithMaxAttempts sets how many deliveries a job gets before it is dead-lettered.
func WithMaxAttempts(n int) QueueOption {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithBackoff sets the retry delay after a Nack.
func WithBackoff(b ports.BackoffFunc) QueueOption {
	return func(q *Queue) { q.backoff = b }
}

// WithVisibilityTimeout sets how long a claimed job stays invisible before it is redelivered.
func WithVisibilityTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.visibility = d }
}

// Queue implements ports.Queue in memory with a min-heap of due times.
// Safe for concurrent use by many consumers.
type Queue struct {
	mu          sync.Mutex
	pending     jobHeap
	inflight    map[string]*job
	dead        []ports.Delivery
	changed     chan struct{}
	seq         uint64
	maxAttempts int
	backoff     ports.BackoffFunc
	visibility  time.Duration
}

// NewQueue creates an empty in-memory queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		inflight:    make(map[string]*job),
		changed:     make(chan struct{}),
		maxAttempts: defaultMaxAttempts,
		backoff:     ports.ExponentialBackoff(time.Second, time.Minute),
		visibility:  defaultVisibility,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules the run after delay.
func (q *Queue) Enqueue(ctx context.Context, kind domain.WorkKind, run domain.Run, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	id := uuid.NewString()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(&job{
		delivery: ports.Delivery{ID: id, Kind: kind, Run: run},
		due:      time.Now().Add(delay),
	})
	return id, nil
}

// Claim blocks until a due job is available or ctx is done.
func (q *Queue) Claim(ctx context.Context) (*ports.Delivery, error) {
	for {
		q.mu.Lock()
		now := time.Now()
		q.reclaimExpired(now)

		if len(q.pending) > 0 && !q.pending[0].due.After(now) {
			j := heap.Pop(&q.pending).(*job)
			j.delivery.Attempt++
			j.due = now.Add(q.visibility)
			q.inflight[j.delivery.ID] = j
			d := j.delivery
			q.mu.Unlock()
			return &d, nil
		}

		wait := q.nextWakeup(now)
		changed := q.changed
		q.mu.Unlock()

		var timeout <-chan time.Time
		var timer *time.Timer
		if wait > 0 {
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-changed:
		case <-timeout:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Ack removes a claimed job.
func (q *Queue) Ack(ctx context.Context, d *ports.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.ID)
	return nil
}

// Nack reschedules a claimed job with backoff, or dead-letters it once its attempts are spent.
func (q *Queue) Nack(ctx context.Context, d *ports.Delivery, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.inflight[d.ID]
	if !ok {
		return fmt.Errorf("delivery %s is not in flight", d.ID)
	}
	delete(q.inflight, d.ID)

	if j.delivery.Attempt >= q.maxAttempts {
		q.dead = append(q.dead, j.delivery)
		return nil
	}
	j.due = time.Now().Add(q.backoff(j.delivery.Attempt))
	q.push(j)
	return nil
}

// Dead returns the dead-lettered deliveries.
func (q *Queue) Dead() []ports.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ports.Delivery(nil), q.dead...)
}

// Len returns the number of pending and in-flight jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

// push must be called with mu held.
func (q *Queue) push(j *job) {
	q.seq++
	j.seq = q.seq
	heap.Push(&q.pending, j)
	close(q.changed)
	q.changed = make(chan struct{})
}

// reclaimExpired returns in-flight jobs whose visibility timeout passed. Must be called with mu held.
func (q *Queue) reclaimExpired(now time.Time) {
	for id, j := range q.inflight {
		if j.due.After(now) {
			continue
		}
		delete(q.inflight, id)
		if j.delivery.Attempt >= q.maxAttempts {
			q.dead = append(q.dead, j.delivery)
			continue
		}
		j.due = now
		q.push(j)
	}
}

// nextWakeup returns how long to sleep before something may become claimable; 0 means until signalled.
func (q *Queue) nextWakeup(now time.Time) time.Duration {
	var next time.Time
	if len(q.pending) > 0 {
		next = q.pending[0].due
	}
	for _, j := range q.inflight {
		if next.IsZero() || j.due.Before(next) {
			next = j.due
		}
	}
	if next.IsZero() {
		return 0
	}
	if d := next.Sub(now); d > 0 {
		return d
	}
	return time.Millisecond
}
