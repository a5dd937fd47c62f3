// Package dialer schedules outbound call attempts: a queue with a pre-empt
// priority class, per-tenant fairness, and timed retries; calling rules
// (time window, weekday mask, concurrency, cooldown); and the worker loop
// that turns due jobs into placed calls.
package dialer

import (
	"time"

	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/convo"
)

// JobStatus is the lifecycle state of a dialer job.
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobProcessing     JobStatus = "processing"
	JobRetryScheduled JobStatus = "retry_scheduled"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
	JobSkipped        JobStatus = "skipped"
	JobGoalAchieved   JobStatus = "goal_achieved"
	JobNonRetryable   JobStatus = "non_retryable"
)

// Terminal reports whether the job has left the queue for good.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobGoalAchieved, JobNonRetryable:
		return true
	}
	return false
}

// PreemptPriority is the threshold at or above which a job enters the
// pre-empt class: a LIFO list served before any tenant queue, so the newest
// urgent job goes out first.
const PreemptPriority = 8

// Job is one queued intent to place exactly one outbound call attempt.
type Job struct {
	ID               string            `json:"job_id"`
	TenantID         string            `json:"tenant_id"`
	CampaignID       string            `json:"campaign_id"`
	LeadID           string            `json:"lead_id"`
	PhoneNumber      string            `json:"phone_number"`
	Priority         int               `json:"priority"` // 1..10
	Status           JobStatus         `json:"status"`
	AttemptNumber    int               `json:"attempt_number"`
	MaxRetryAttempts int               `json:"max_retry_attempts"`
	ScheduledAt      time.Time         `json:"scheduled_at,omitzero"`
	CreatedAt        time.Time         `json:"created_at"`
	ProcessedAt      time.Time         `json:"processed_at,omitzero"`
	CompletedAt      time.Time         `json:"completed_at,omitzero"`
	LastOutcome      convo.CallOutcome `json:"last_outcome,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	CallID           string            `json:"call_id,omitempty"`
}

// NewJob builds a pending job for one lead.
func NewJob(tenantID, campaignID, leadID, phone string, priority, maxRetryAttempts int) *Job {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	return &Job{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		CampaignID:       campaignID,
		LeadID:           leadID,
		PhoneNumber:      phone,
		Priority:         priority,
		Status:           JobPending,
		MaxRetryAttempts: maxRetryAttempts,
		CreatedAt:        time.Now().UTC(),
	}
}

// ShouldRetry decides whether a completed attempt earns another one: never
// when the campaign already got what it wanted, never for numbers that must
// not be called again, never once attempts are exhausted, and otherwise only
// for outcomes in the retryable class.
func ShouldRetry(job *Job, outcome convo.CallOutcome) bool {
	if outcome.Goal() || outcome.NonRetryable() {
		return false
	}
	if job.AttemptNumber >= job.MaxRetryAttempts {
		return false
	}
	return outcome.Retryable()
}
