// Package queue implements the priority job queue that carries grading work
// from state transitions to worker capacity, built on Redis lists.
//
// One list per priority, popped high → normal → low, gives exact priority
// ordering without scanning. In-flight jobs sit on a per-instance working
// list (moved there atomically with LMOVE) until acked, so a restart can
// recover anything that was mid-flight: delivery is at least once, and the
// grading pipeline's idempotency guards absorb the duplicates.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/inkgrade/inkgrade-backend/internal/config"
)

// Priority orders grading jobs. Higher runs first.
type Priority int

const (
	// PriorityRegrade is a teacher-requested regrade: a human is waiting.
	PriorityRegrade Priority = 10
	// PriorityCompletion is the normal flow after an exam ends.
	PriorityCompletion Priority = 5
	// PriorityRetry is backlog recovery; it must never starve fresh work.
	PriorityRetry Priority = 3
)

// Job reasons carried in payloads and audit events.
const (
	ReasonManualRegrade = "manual_regrade"
	ReasonExamCompleted = "exam_completed"
	ReasonAutoRetry     = "auto_retry"
	ReasonOracleRetry   = "oracle_retry"
)

// GradingJob is the queue payload for one grading attempt.
type GradingJob struct {
	ID           string    `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	Priority     Priority  `json:"priority"`
	Reason       string    `json:"reason"`
	EnqueuedAt   time.Time `json:"enqueued_at"`

	raw string // original payload, needed to ack the working list entry
}

// NewGradingJob builds a job with a fresh id.
func NewGradingJob(submissionID uuid.UUID, priority Priority, reason string) GradingJob {
	return GradingJob{
		ID:           uuid.New().String(),
		SubmissionID: submissionID,
		Priority:     priority,
		Reason:       reason,
		EnqueuedAt:   time.Now().UTC(),
	}
}

// GradingQueue is the Redis-backed priority queue.
type GradingQueue struct {
	rdb        *redis.Client
	workingKey string
	log        zerolog.Logger
}

// NewGradingQueue creates a queue bound to an instance-scoped working list.
// instanceID should be stable across restarts of the same node (hostname) so
// RecoverPending finds its own leftovers.
func NewGradingQueue(rdb *redis.Client, instanceID string, log zerolog.Logger) *GradingQueue {
	return &GradingQueue{
		rdb:        rdb,
		workingKey: config.WorkerKey.GradingWorkingList(instanceID),
		log:        log.With().Str("component", "grading_queue").Logger(),
	}
}

func listFor(p Priority) string {
	switch {
	case p >= PriorityRegrade:
		return config.WorkerKey.GradingHighQueue
	case p >= PriorityCompletion:
		return config.WorkerKey.GradingNormalQueue
	default:
		return config.WorkerKey.GradingLowQueue
	}
}

// Enqueue pushes a job onto its priority list.
func (q *GradingQueue) Enqueue(ctx context.Context, job GradingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.RPush(ctx, listFor(job.Priority), payload).Err(); err != nil {
		return fmt.Errorf("enqueue grading job: %w", err)
	}
	return nil
}

// EnqueueDelayed parks a job until readyAt; PromoteDue moves it onto its
// priority list once the backoff has elapsed.
func (q *GradingQueue) EnqueueDelayed(ctx context.Context, job GradingJob, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	readyAt := time.Now().Add(delay)
	err = q.rdb.ZAdd(ctx, config.WorkerKey.GradingDelayedSet, redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue delayed grading job: %w", err)
	}
	return nil
}

// PromoteDue moves every delayed job whose backoff has elapsed onto its
// priority list. ZREM decides ownership, so concurrent promoters move each
// job exactly once. Returns the number promoted.
func (q *GradingQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, config.WorkerKey.GradingDelayedSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed jobs: %w", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, config.WorkerKey.GradingDelayedSet, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("claim delayed job: %w", err)
		}
		if removed == 0 {
			continue // another promoter won
		}
		var job GradingJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.log.Error().Err(err).Str("payload", member).Msg("Discarding malformed delayed job")
			continue
		}
		if err := q.rdb.RPush(ctx, listFor(job.Priority), member).Err(); err != nil {
			return promoted, fmt.Errorf("promote delayed job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// Dequeue pops the next job by priority, moving it onto the working list in
// the same Redis operation. When every list is empty it blocks on the high
// list for up to block, so urgent work is picked up immediately and the
// others wait at most one block interval. Returns (nil, nil) when nothing
// arrived.
func (q *GradingQueue) Dequeue(ctx context.Context, block time.Duration) (*GradingJob, error) {
	keys := []string{
		config.WorkerKey.GradingHighQueue,
		config.WorkerKey.GradingNormalQueue,
		config.WorkerKey.GradingLowQueue,
	}
	for _, key := range keys {
		raw, err := q.rdb.LMove(ctx, key, q.workingKey, "LEFT", "RIGHT").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("pop grading job: %w", err)
		}
		if err == nil {
			return q.decode(ctx, raw)
		}
	}

	raw, err := q.rdb.BLMove(ctx, config.WorkerKey.GradingHighQueue, q.workingKey, "LEFT", "RIGHT", block).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop grading job: %w", err)
	}
	return q.decode(ctx, raw)
}

func (q *GradingQueue) decode(ctx context.Context, raw string) (*GradingJob, error) {
	var job GradingJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Malformed payloads can never succeed; drop from the working list.
		q.rdb.LRem(ctx, q.workingKey, 1, raw)
		return nil, fmt.Errorf("decode grading job: %w", err)
	}
	job.raw = raw
	return &job, nil
}

// Ack removes a finished job from the working list.
func (q *GradingQueue) Ack(ctx context.Context, job *GradingJob) error {
	if job == nil || job.raw == "" {
		return nil
	}
	return q.rdb.LRem(ctx, q.workingKey, 1, job.raw).Err()
}

// RecoverPending re-queues jobs left on this instance's working list by an
// earlier run. Call once at startup, before workers begin. Recovered jobs go
// to the head of their list since they are the oldest waiting work.
func (q *GradingQueue) RecoverPending(ctx context.Context) (int, error) {
	entries, err := q.rdb.LRange(ctx, q.workingKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read working list: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	recovered := 0
	for _, raw := range entries {
		var job GradingJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.log.Error().Err(err).Msg("Discarding malformed working entry")
			continue
		}
		if err := q.rdb.LPush(ctx, listFor(job.Priority), raw).Err(); err != nil {
			return recovered, fmt.Errorf("requeue working entry: %w", err)
		}
		recovered++
	}
	if err := q.rdb.Del(ctx, q.workingKey).Err(); err != nil {
		return recovered, fmt.Errorf("clear working list: %w", err)
	}
	return recovered, nil
}
