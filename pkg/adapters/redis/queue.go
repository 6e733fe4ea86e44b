package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aretw0/journeys/internal/logging"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

const (
	defaultQueueName    = "journey"
	defaultPollInterval = 200 * time.Millisecond
	defaultVisibility   = 30 * time.Second
	defaultMaxAttempts  = 5
)

// claimScript moves the earliest due job from scheduled to processing and bumps its attempt.
// KEYS: scheduled, processing. ARGV: now ms, visibility deadline ms, job key prefix.
var claimScript = backend.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
local job = ARGV[3] .. id
local attempt = redis.call('HINCRBY', job, 'attempt', 1)
local payload = redis.call('HGET', job, 'payload')
return {id, payload, attempt}
`)

// reapScript moves processing entries whose visibility deadline passed back to scheduled.
// KEYS: processing, scheduled. ARGV: now ms.
var reapScript = backend.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], ARGV[1], id)
end
return #ids
`)

type jobPayload struct {
	Kind domain.WorkKind `json:"kind"`
	Run  domain.Run      `json:"run"`
}

// QueueOption configures the Redis queue.
type QueueOption func(*Queue)

// WithQueuePrefix sets the key prefix (default "journeys:").
func WithQueuePrefix(prefix string) QueueOption {
	return func(q *Queue) { q.prefix = prefix }
}

// WithPollInterval sets how often an idle consumer polls for due jobs.
func WithPollInterval(d time.Duration) QueueOption {
	return func(q *Queue) { q.poll = d }
}

// WithVisibilityTimeout sets how long a claimed job stays invisible before it is redelivered.
func WithVisibilityTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.visibility = d }
}

// WithMaxAttempts sets how many deliveries a job gets before it is dead-lettered.
func WithMaxAttempts(n int) QueueOption {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithBackoff sets the retry delay after a Nack.
func WithBackoff(b ports.BackoffFunc) QueueOption {
	return func(q *Queue) { q.backoff = b }
}

// WithQueueLogger configures the structured logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = logger }
}

// Queue implements ports.Queue on Redis.
//
// Keys under <prefix>queue:<name>:
//
//	scheduled   ZSET of job ids scored by due time (unix ms)
//	processing  ZSET of claimed job ids scored by visibility deadline (unix ms)
//	job:<id>    HASH with the JSON payload, the attempt counter and the last error
//	dead        LIST of job ids that exhausted their attempts
type Queue struct {
	client      *backend.Client
	name        string
	prefix      string
	poll        time.Duration
	visibility  time.Duration
	maxAttempts int
	backoff     ports.BackoffFunc
	logger      *slog.Logger
}

// NewQueue creates a queue named name on client. An empty name means "journey".
func NewQueue(client *backend.Client, name string, opts ...QueueOption) *Queue {
	if name == "" {
		name = defaultQueueName
	}
	q := &Queue{
		client:      client,
		name:        name,
		prefix:      defaultPrefix,
		poll:        defaultPollInterval,
		visibility:  defaultVisibility,
		maxAttempts: defaultMaxAttempts,
		backoff:     ports.ExponentialBackoff(time.Second, time.Minute),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) base() string          { return q.prefix + "queue:" + q.name + ":" }
func (q *Queue) scheduledKey() string  { return q.base() + "scheduled" }
func (q *Queue) processingKey() string { return q.base() + "processing" }
func (q *Queue) deadKey() string       { return q.base() + "dead" }
func (q *Queue) jobPrefix() string     { return q.base() + "job:" }
func (q *Queue) jobKey(id string) string {
	return q.jobPrefix() + id
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// dueScore rounds up to the next millisecond so a job is never claimable early.
func dueScore(t time.Time) float64 {
	return float64((t.UnixNano() + int64(time.Millisecond) - 1) / int64(time.Millisecond))
}

// Enqueue stores the job and schedules it after delay.
func (q *Queue) Enqueue(ctx context.Context, kind domain.WorkKind, run domain.Run, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	payload, err := json.Marshal(jobPayload{Kind: kind, Run: run})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	id := uuid.NewString()
	due := time.Now().Add(delay)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), "payload", payload, "attempt", 0, "delay_ms", delay.Milliseconds())
	pipe.ZAdd(ctx, q.scheduledKey(), backend.Z{Score: dueScore(due), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

// Claim polls until a due job is available or ctx is done.
func (q *Queue) Claim(ctx context.Context) (*ports.Delivery, error) {
	for {
		d, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

func (q *Queue) tryClaim(ctx context.Context) (*ports.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	if _, err := q.Reap(ctx, now); err != nil {
		return nil, err
	}

	res, err := claimScript.Run(ctx, q.client,
		[]string{q.scheduledKey(), q.processingKey()},
		millis(now), millis(now.Add(q.visibility)), q.jobPrefix(),
	).Slice()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected claim reply: %v", res)
	}

	id, _ := res[0].(string)
	raw, ok := res[1].(string)
	if !ok {
		// The job hash is gone; drop the dangling id.
		q.logger.Warn("claimed job without payload", "work_id", id)
		return nil, q.client.ZRem(ctx, q.processingKey(), id).Err()
	}
	attempt, _ := res[2].(int64)

	var payload jobPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	d := &ports.Delivery{ID: id, Kind: payload.Kind, Run: payload.Run, Attempt: int(attempt)}

	if d.Attempt > q.maxAttempts {
		// Redelivered by the reaper after its last attempt.
		if err := q.bury(ctx, d, "visibility timeout after last attempt"); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return d, nil
}

// Ack removes a handled job.
func (q *Queue) Ack(ctx context.Context, d *ports.Delivery) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), d.ID)
	pipe.Del(ctx, q.jobKey(d.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", d.ID, err)
	}
	return nil
}

// Nack reschedules the job with backoff, or dead-letters it once its attempts are spent.
func (q *Queue) Nack(ctx context.Context, d *ports.Delivery, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if d.Attempt >= q.maxAttempts {
		return q.bury(ctx, d, reason)
	}

	due := time.Now().Add(q.backoff(d.Attempt))
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), d.ID)
	pipe.HSet(ctx, q.jobKey(d.ID), "error", reason)
	pipe.ZAdd(ctx, q.scheduledKey(), backend.Z{Score: dueScore(due), Member: d.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack job %s: %w", d.ID, err)
	}
	return nil
}

func (q *Queue) bury(ctx context.Context, d *ports.Delivery, reason string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), d.ID)
	pipe.HSet(ctx, q.jobKey(d.ID), "error", reason)
	pipe.RPush(ctx, q.deadKey(), d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", d.ID, err)
	}
	q.logger.Warn("job dead-lettered",
		"work_id", d.ID,
		"run_id", d.Run.RunID,
		"node_id", d.Run.CurrentNodeID,
		"attempt", d.Attempt,
		"err", reason)
	return nil
}

// Reap returns jobs whose visibility deadline passed to the scheduled set.
func (q *Queue) Reap(ctx context.Context, now time.Time) (int, error) {
	n, err := reapScript.Run(ctx, q.client, []string{q.processingKey(), q.scheduledKey()}, millis(now)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired jobs: %w", err)
	}
	if n > 0 {
		q.logger.Info("expired jobs requeued", "count", n)
	}
	return n, nil
}

// Dead returns the ids of dead-lettered jobs.
func (q *Queue) Dead(ctx context.Context) ([]string, error) {
	return q.client.LRange(ctx, q.deadKey(), 0, -1).Result()
}

// Stats returns the number of scheduled, processing and dead jobs.
func (q *Queue) Stats(ctx context.Context) (scheduled, processing, dead int64, err error) {
	pipe := q.client.Pipeline()
	s := pipe.ZCard(ctx, q.scheduledKey())
	p := pipe.ZCard(ctx, q.processingKey())
	dl := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return s.Val(), p.Val(), dl.Val(), nil
}
