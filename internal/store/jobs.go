package store

import (
	"context"
	"fmt"

	"github.com/dialcast/dialcast/internal/dialer"
)

// UpsertDialerJob mirrors a queue job into the audit table. The queue store
// remains the source of truth for scheduling; this row exists so operators
// can see every job's history with plain SQL.
func (s *Store) UpsertDialerJob(ctx context.Context, job *dialer.Job) error {
	const query = `
		INSERT INTO dialer_jobs (
			job_id, tenant_id, campaign_id, lead_id, phone_number,
			priority, status, attempt_number, max_retry_attempts,
			scheduled_at, created_at, processed_at, completed_at,
			last_outcome, last_error, call_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,
		          NULLIF($10,'0001-01-01T00:00:00Z'::timestamptz),$11,
		          NULLIF($12,'0001-01-01T00:00:00Z'::timestamptz),
		          NULLIF($13,'0001-01-01T00:00:00Z'::timestamptz),$14,$15,$16)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt_number = EXCLUDED.attempt_number,
			scheduled_at = EXCLUDED.scheduled_at,
			processed_at = EXCLUDED.processed_at,
			completed_at = EXCLUDED.completed_at,
			last_outcome = EXCLUDED.last_outcome,
			last_error = EXCLUDED.last_error,
			call_id = EXCLUDED.call_id
		WHERE dialer_jobs.tenant_id = EXCLUDED.tenant_id`

	_, err := s.db.Exec(ctx, query,
		job.ID, job.TenantID, job.CampaignID, job.LeadID, job.PhoneNumber,
		job.Priority, string(job.Status), job.AttemptNumber, job.MaxRetryAttempts,
		job.ScheduledAt, job.CreatedAt, job.ProcessedAt, job.CompletedAt,
		string(job.LastOutcome), job.LastError, job.CallID,
	)
	if err != nil {
		return fmt.Errorf("store: upsert dialer job %s: %w", job.ID, err)
	}
	return nil
}
