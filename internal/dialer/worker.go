package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dialcast/dialcast/internal/convo"
)

// ErrQueueUnavailable means the worker could not reach the queue store for
// its whole failure budget. The process should exit with code 2 and let the
// supervisor restart it.
var ErrQueueUnavailable = errors.New("dialer: queue unavailable")

// JobContext is what the worker needs to know about a job's campaign and
// lead before placing the call.
type JobContext struct {
	CampaignRunning  bool
	Rules            CallingRules
	LeadLastCalledAt time.Time
}

// Directory resolves campaign and lead facts from the persistence store.
type Directory interface {
	// ActiveTenants lists tenants with at least one running campaign.
	ActiveTenants(ctx context.Context) ([]string, error)
	// JobContext resolves the job's campaign status, calling rules, and the
	// lead's last-called time.
	JobContext(ctx context.Context, job *Job) (JobContext, error)
}

// CallPlacer asks the telephony layer to start an outbound call. It returns
// the call ID the media path will use; the call's outcome arrives later via
// HandleCallCompletion.
type CallPlacer interface {
	PlaceCall(ctx context.Context, job *Job) (callID string, err error)
}

// WorkerConfig tunes the dial loop.
type WorkerConfig struct {
	// PollInterval is the sleep between empty polls. Default 1s.
	PollInterval time.Duration
	// SweepInterval is how often due scheduled jobs are promoted.
	// Default 60s.
	SweepInterval time.Duration
	// MaxConsecutiveErrors halts the worker when exceeded. Default 10.
	MaxConsecutiveErrors int
	// DeferDelay is the requeue delay for concurrency, cooldown, and paused
	// campaigns. Default 5m.
	DeferDelay time.Duration
	// RetryBackoffCap bounds the exponential retry delay. Default 1h.
	RetryBackoffCap time.Duration
}

func (c *WorkerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 10
	}
	if c.DeferDelay <= 0 {
		c.DeferDelay = 5 * time.Minute
	}
	if c.RetryBackoffCap <= 0 {
		c.RetryBackoffCap = time.Hour
	}
}

// Worker runs the dial loop: promote due retries, dequeue, enforce calling
// rules, place calls. Call outcomes flow back asynchronously through
// HandleCallCompletion.
type Worker struct {
	cfg     WorkerConfig
	queue   *Queue
	dir     Directory
	placer  CallPlacer
	checker *RuleChecker
	limiter *Limiter
	log     *slog.Logger
	nowFunc func() time.Time

	mu     sync.Mutex
	active map[string]*Job // call ID -> in-flight job

	lastSweep   time.Time
	consecutive int
}

// NewWorker wires a worker.
func NewWorker(cfg WorkerConfig, queue *Queue, dir Directory, placer CallPlacer, limiter *Limiter, log *slog.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{
		cfg:     cfg,
		queue:   queue,
		dir:     dir,
		placer:  placer,
		checker: NewRuleChecker(limiter),
		limiter: limiter,
		log:     log.With("component", "dialer.worker"),
		nowFunc: time.Now,
		active:  make(map[string]*Job),
	}
}

// Run drives the loop until ctx is cancelled or the failure budget is spent.
// Returns nil on clean stop, ErrQueueUnavailable (wrapped) when halting.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("dialer worker starting",
		"poll_interval", w.cfg.PollInterval, "sweep_interval", w.cfg.SweepInterval)

	for {
		worked, err := w.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.consecutive++
			w.log.Error("worker step failed", "error", err, "consecutive", w.consecutive)
			if w.consecutive >= w.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("%w: %d consecutive failures, last: %v",
					ErrQueueUnavailable, w.consecutive, err)
			}
		} else {
			w.consecutive = 0
		}

		if worked && err == nil {
			continue
		}
		select {
		case <-time.After(w.cfg.PollInterval):
		case <-ctx.Done():
			w.log.Info("dialer worker stopping")
			return nil
		}
	}
}

// step runs one loop iteration. worked=true means a job was handled and the
// loop should not sleep.
func (w *Worker) step(ctx context.Context) (worked bool, err error) {
	now := w.nowFunc()
	if now.Sub(w.lastSweep) >= w.cfg.SweepInterval {
		w.lastSweep = now
		promoted, err := w.queue.ProcessScheduled(ctx)
		if err != nil {
			return false, err
		}
		if promoted > 0 {
			w.log.Info("promoted scheduled jobs", "count", promoted)
		}
	}

	tenants, err := w.dir.ActiveTenants(ctx)
	if err != nil {
		return false, err
	}

	job, err := w.queue.Dequeue(ctx, tenants)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	jc, err := w.dir.JobContext(ctx, job)
	if err != nil {
		// Park the job rather than lose it while the store is unhappy.
		if derr := w.queue.Defer(ctx, job, w.cfg.DeferDelay); derr != nil {
			return true, derr
		}
		return true, err
	}

	if !jc.CampaignRunning {
		w.log.Debug("campaign not running, deferring job",
			"job_id", job.ID, "campaign_id", job.CampaignID)
		return true, w.queue.Defer(ctx, job, w.cfg.DeferDelay)
	}

	if ok, reason := w.checker.CanMakeCall(job.TenantID, job.CampaignID, jc.Rules, jc.LeadLastCalledAt); !ok {
		delay := w.cfg.DeferDelay
		if reason == ReasonWeekdayNotAllowed || reason == ReasonOutsideTimeWindow {
			delay = w.checker.DelayUntilNextWindow(jc.Rules)
		}
		w.log.Info("call not allowed, deferring job",
			"job_id", job.ID, "reason", reason, "delay", delay)
		return true, w.queue.Defer(ctx, job, delay)
	}

	w.limiter.RegisterCallStart(job.TenantID, job.CampaignID)
	callID, err := w.placer.PlaceCall(ctx, job)
	if err != nil {
		w.limiter.RegisterCallEnd(job.TenantID, job.CampaignID)
		w.log.Error("placing call failed", "job_id", job.ID, "error", err)
		job.LastError = err.Error()
		return true, w.finishAttempt(ctx, job, convo.OutcomeFailed)
	}

	job.Status = JobProcessing
	job.ProcessedAt = w.nowFunc().UTC()
	job.CallID = callID

	w.mu.Lock()
	w.active[callID] = job
	w.mu.Unlock()

	w.log.Info("call placed", "job_id", job.ID, "call_id", callID,
		"phone", job.PhoneNumber, "attempt", job.AttemptNumber+1)
	return true, nil
}

// HandleCallCompletion consumes an asynchronous call outcome (webhook/event
// path or pipeline finish). Unknown call IDs are logged and ignored; the
// event may belong to a previous process lifetime.
func (w *Worker) HandleCallCompletion(ctx context.Context, callID string, outcome convo.CallOutcome) error {
	w.mu.Lock()
	job, ok := w.active[callID]
	delete(w.active, callID)
	w.mu.Unlock()

	if !ok {
		w.log.Warn("completion for unknown call", "call_id", callID, "outcome", outcome)
		return nil
	}

	w.limiter.RegisterCallEnd(job.TenantID, job.CampaignID)
	return w.finishAttempt(ctx, job, outcome)
}

// InFlight returns how many placed calls still await completion.
func (w *Worker) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

// finishAttempt routes a finished attempt: schedule a retry with exponential
// backoff, or settle the job into its terminal status.
func (w *Worker) finishAttempt(ctx context.Context, job *Job, outcome convo.CallOutcome) error {
	job.LastOutcome = outcome

	if ShouldRetry(job, outcome) {
		delay := w.retryDelay(ctx, job)
		w.log.Info("scheduling retry", "job_id", job.ID, "outcome", outcome,
			"attempt", job.AttemptNumber+1, "delay", delay)
		return w.queue.ScheduleRetry(ctx, job, delay)
	}

	status := JobCompleted
	switch {
	case outcome.Goal():
		status = JobGoalAchieved
	case outcome.NonRetryable():
		status = JobNonRetryable
	case outcome.Retryable() || outcome == convo.OutcomeError:
		// Retryable outcome with no retries left, or a hard error.
		status = JobFailed
	}
	w.log.Info("job finished", "job_id", job.ID, "outcome", outcome, "status", status)
	return w.queue.Complete(ctx, job, status)
}

// retryDelay doubles the campaign's base delay per attempt already made,
// bounded by the backoff cap.
func (w *Worker) retryDelay(ctx context.Context, job *Job) time.Duration {
	base := time.Minute
	if jc, err := w.dir.JobContext(ctx, job); err == nil && jc.Rules.RetryDelay > 0 {
		base = jc.Rules.RetryDelay
	}
	delay := base << uint(job.AttemptNumber)
	if delay > w.cfg.RetryBackoffCap || delay <= 0 {
		delay = w.cfg.RetryBackoffCap
	}
	return delay
}
