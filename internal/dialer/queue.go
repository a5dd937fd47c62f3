package dialer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Storage keys. One queue instance owns the whole key space.
const (
	keyPriority   = "dialer:priority"
	keyTenants    = "dialer:tenants"
	keyScheduled  = "dialer:scheduled"
	keyProcessing = "dialer:processing"
)

func tenantKey(tenantID string) string { return "dialer:tenant:" + tenantID }

// Queue holds dialer jobs across four structures: a LIFO pre-empt list for
// priority >= PreemptPriority, a FIFO list per tenant for normal jobs, a
// sorted set of timed retries, and a processing set for stall detection. A
// job lives in exactly one of them at a time; only terminal transitions
// remove it entirely.
type Queue struct {
	store QueueStore
	log   *slog.Logger

	mu sync.Mutex
	rr int

	nowFunc func() time.Time
}

// NewQueue creates a queue over the given store.
func NewQueue(store QueueStore, log *slog.Logger) *Queue {
	return &Queue{
		store:   store,
		log:     log.With("component", "dialer.queue"),
		nowFunc: time.Now,
	}
}

// Enqueue places a pending job in its class: the pre-empt LIFO for
// high-priority jobs, the tenant FIFO otherwise.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	job.Status = JobPending
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("dialer: marshal job %s: %w", job.ID, err)
	}

	if job.Priority >= PreemptPriority {
		// LIFO on purpose: the newest urgent job pre-empts older ones.
		return q.store.LPush(ctx, keyPriority, raw)
	}
	if err := q.store.RPush(ctx, tenantKey(job.TenantID), raw); err != nil {
		return err
	}
	return q.store.SAdd(ctx, keyTenants, job.TenantID)
}

// Dequeue pops the next job: the pre-empt list first, then the supplied
// active tenants in round-robin order. The popped job is marked processing.
// Returns ErrEmpty when every queue is empty.
func (q *Queue) Dequeue(ctx context.Context, tenants []string) (*Job, error) {
	raw, err := q.store.LPop(ctx, keyPriority)
	if err != nil && err != ErrEmpty {
		return nil, err
	}

	if err == ErrEmpty && len(tenants) > 0 {
		q.mu.Lock()
		start := q.rr % len(tenants)
		q.rr++
		q.mu.Unlock()

		for i := range tenants {
			tenant := tenants[(start+i)%len(tenants)]
			raw, err = q.store.LPop(ctx, tenantKey(tenant))
			if err == nil {
				break
			}
			if err != ErrEmpty {
				return nil, err
			}
		}
	}
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("dialer: unmarshal job: %w", err)
	}
	job.Status = JobProcessing
	if err := q.store.SAdd(ctx, keyProcessing, job.ID); err != nil {
		return nil, err
	}
	return &job, nil
}

// Tenants lists every tenant that has ever enqueued a normal-priority job.
func (q *Queue) Tenants(ctx context.Context) ([]string, error) {
	return q.store.SMembers(ctx, keyTenants)
}

// ScheduleRetry moves a failed attempt into the scheduled set: the attempt
// counter advances, the status flips to retry_scheduled, and the job becomes
// due at now+delay.
func (q *Queue) ScheduleRetry(ctx context.Context, job *Job, delay time.Duration) error {
	job.AttemptNumber++
	job.Status = JobRetryScheduled
	return q.schedule(ctx, job, delay)
}

// Defer parks a job that could not run right now (window closed, concurrency
// full, campaign paused) without charging it an attempt.
func (q *Queue) Defer(ctx context.Context, job *Job, delay time.Duration) error {
	job.Status = JobSkipped
	return q.schedule(ctx, job, delay)
}

func (q *Queue) schedule(ctx context.Context, job *Job, delay time.Duration) error {
	job.ScheduledAt = q.nowFunc().Add(delay).UTC()
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("dialer: marshal job %s: %w", job.ID, err)
	}
	if err := q.store.SRem(ctx, keyProcessing, job.ID); err != nil {
		return err
	}
	return q.store.ZAdd(ctx, keyScheduled, float64(job.ScheduledAt.Unix()), raw)
}

// ProcessScheduled promotes every due job from the scheduled set back into
// its queue class and returns how many were promoted.
func (q *Queue) ProcessScheduled(ctx context.Context) (int, error) {
	due, err := q.store.ZPopUpTo(ctx, keyScheduled, float64(q.nowFunc().Unix()))
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, raw := range due {
		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			q.log.Error("dropping unreadable scheduled job", "error", err)
			continue
		}
		if err := q.Enqueue(ctx, &job); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Complete removes a job from the processing set with a terminal status.
func (q *Queue) Complete(ctx context.Context, job *Job, status JobStatus) error {
	job.Status = status
	job.CompletedAt = q.nowFunc().UTC()
	return q.store.SRem(ctx, keyProcessing, job.ID)
}

// Processing returns the IDs of jobs currently checked out by workers.
func (q *Queue) Processing(ctx context.Context) ([]string, error) {
	return q.store.SMembers(ctx, keyProcessing)
}
