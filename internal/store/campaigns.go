package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dialcast/dialcast/internal/convo"
	"github.com/dialcast/dialcast/internal/dialer"
)

// GetCampaign fetches one campaign. Returns (nil, nil) when absent.
func (s *Store) GetCampaign(ctx context.Context, tenantID, campaignID string) (*Campaign, error) {
	const query = `
		SELECT id, tenant_id, status, system_prompt_template, greeting,
		       voice_id, goal_description, max_concurrent_calls, max_retries,
		       calling_rules, created_at, updated_at
		FROM campaigns
		WHERE id = $1 AND tenant_id = $2`

	var c Campaign
	var rulesJSON []byte
	err := s.db.QueryRow(ctx, query, campaignID, tenantID).Scan(
		&c.ID, &c.TenantID, &c.Status, &c.SystemPromptTemplate, &c.Greeting,
		&c.VoiceID, &c.GoalDescription, &c.MaxConcurrentCalls, &c.MaxRetries,
		&rulesJSON, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get campaign %s: %w", campaignID, err)
	}
	if err := json.Unmarshal(rulesJSON, &c.Rules); err != nil {
		return nil, fmt.Errorf("store: unmarshal calling_rules for campaign %s: %w", campaignID, err)
	}
	return &c, nil
}

// SetCampaignStatus updates a campaign's lifecycle state.
func (s *Store) SetCampaignStatus(ctx context.Context, tenantID, campaignID, status string) error {
	const query = `
		UPDATE campaigns SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2`

	tag, err := s.db.Exec(ctx, query, campaignID, tenantID, status)
	if err != nil {
		return fmt.Errorf("store: set campaign %s status: %w", campaignID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: set status: campaign %s not found", campaignID)
	}
	return nil
}

// PendingLeads lists leads awaiting their first call, oldest rows first.
func (s *Store) PendingLeads(ctx context.Context, tenantID, campaignID string, limit int) ([]Lead, error) {
	const query = `
		SELECT id, campaign_id, tenant_id, phone_number, status,
		       call_attempts, last_called_at, last_call_result
		FROM leads
		WHERE campaign_id = $1 AND tenant_id = $2 AND status = 'pending'
		ORDER BY id
		LIMIT $3`

	rows, err := s.db.Query(ctx, query, campaignID, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending leads for campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var l Lead
		var result string
		if err := rows.Scan(
			&l.ID, &l.CampaignID, &l.TenantID, &l.PhoneNumber, &l.Status,
			&l.CallAttempts, &l.LastCalledAt, &result,
		); err != nil {
			return nil, fmt.Errorf("store: pending leads scan: %w", err)
		}
		l.LastCallResult = convo.CallOutcome(result)
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: pending leads: %w", err)
	}
	return leads, nil
}

// UpdateLeadAfterCall records a completed attempt on the lead: bump the
// attempt counter, stamp last_called_at, and store the outcome and new
// status.
func (s *Store) UpdateLeadAfterCall(ctx context.Context, tenantID, leadID, status string, outcome convo.CallOutcome, calledAt time.Time) error {
	const query = `
		UPDATE leads SET
			status = $3,
			call_attempts = call_attempts + 1,
			last_called_at = $4,
			last_call_result = $5
		WHERE id = $1 AND tenant_id = $2`

	tag, err := s.db.Exec(ctx, query, leadID, tenantID, status, calledAt, string(outcome))
	if err != nil {
		return fmt.Errorf("store: update lead %s: %w", leadID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: update lead: lead %s not found", leadID)
	}
	return nil
}

// LeadLastCalledAt returns when the lead was last called, or the zero time
// for never-called or unknown leads.
func (s *Store) LeadLastCalledAt(ctx context.Context, tenantID, leadID string) (time.Time, error) {
	const query = `
		SELECT last_called_at FROM leads
		WHERE id = $1 AND tenant_id = $2`

	var last *time.Time
	err := s.db.QueryRow(ctx, query, leadID, tenantID).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("store: lead %s last called: %w", leadID, err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

// ActiveTenants lists tenants that have at least one running campaign. This
// is the dial loop's cross-tenant fan-out query; it reads only tenant IDs.
func (s *Store) ActiveTenants(ctx context.Context) ([]string, error) {
	const query = `
		SELECT DISTINCT tenant_id FROM campaigns
		WHERE status = 'running'
		ORDER BY tenant_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: active tenants scan: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: active tenants: %w", err)
	}
	return tenants, nil
}

// JobContext resolves the campaign status, calling rules, and lead cooldown
// the dial loop needs before placing a job's call.
func (s *Store) JobContext(ctx context.Context, job *dialer.Job) (dialer.JobContext, error) {
	campaign, err := s.GetCampaign(ctx, job.TenantID, job.CampaignID)
	if err != nil {
		return dialer.JobContext{}, err
	}
	if campaign == nil {
		return dialer.JobContext{}, fmt.Errorf("store: campaign %s not found for job %s", job.CampaignID, job.ID)
	}

	lastCalled, err := s.LeadLastCalledAt(ctx, job.TenantID, job.LeadID)
	if err != nil {
		return dialer.JobContext{}, err
	}

	return dialer.JobContext{
		CampaignRunning:  campaign.Status == "running",
		Rules:            campaign.Rules,
		LeadLastCalledAt: lastCalled,
	}, nil
}

// Store satisfies the dial loop's directory contract.
var _ dialer.Directory = (*Store)(nil)
