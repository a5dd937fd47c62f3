// Package store persists tenants, campaigns, leads, calls, and dialer jobs
// in PostgreSQL. Every tenant-scoped query carries an explicit tenant_id
// predicate regardless of any row-level security in the database; the
// service credential may bypass row policies, the predicates may not be
// bypassed.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dialcast/dialcast/internal/convo"
	"github.com/dialcast/dialcast/internal/dialer"
)

// Schema is the SQL DDL for all tables. Execute via [Store.Migrate] or apply
// manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
    id                     TEXT PRIMARY KEY,
    tenant_id              TEXT NOT NULL REFERENCES tenants(id),
    status                 TEXT NOT NULL DEFAULT 'draft',
    system_prompt_template TEXT NOT NULL DEFAULT '',
    greeting               TEXT NOT NULL DEFAULT '',
    voice_id               TEXT NOT NULL DEFAULT '',
    goal_description       TEXT NOT NULL DEFAULT '',
    max_concurrent_calls   INT NOT NULL DEFAULT 0,
    max_retries            INT NOT NULL DEFAULT 3,
    calling_rules          JSONB NOT NULL DEFAULT '{}',
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_campaigns_tenant ON campaigns(tenant_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);

CREATE TABLE IF NOT EXISTS leads (
    id               TEXT PRIMARY KEY,
    campaign_id      TEXT NOT NULL REFERENCES campaigns(id),
    tenant_id        TEXT NOT NULL REFERENCES tenants(id),
    phone_number     TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'pending',
    call_attempts    INT NOT NULL DEFAULT 0,
    last_called_at   TIMESTAMPTZ,
    last_call_result TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_leads_campaign ON leads(tenant_id, campaign_id, status);

CREATE TABLE IF NOT EXISTS calls (
    id                 TEXT PRIMARY KEY,
    external_call_uuid TEXT NOT NULL DEFAULT '',
    tenant_id          TEXT NOT NULL REFERENCES tenants(id),
    campaign_id        TEXT NOT NULL DEFAULT '',
    lead_id            TEXT NOT NULL DEFAULT '',
    phone_number       TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'active',
    outcome            TEXT NOT NULL DEFAULT '',
    started_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    ended_at           TIMESTAMPTZ,
    duration_seconds   INT NOT NULL DEFAULT 0,
    transcript_text    TEXT NOT NULL DEFAULT '',
    transcript_json    JSONB NOT NULL DEFAULT '[]',
    cost               NUMERIC(12,4) NOT NULL DEFAULT 0,
    recording_path     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_calls_tenant ON calls(tenant_id, campaign_id);
CREATE INDEX IF NOT EXISTS idx_calls_external ON calls(external_call_uuid);

CREATE TABLE IF NOT EXISTS recordings (
    call_id     TEXT PRIMARY KEY REFERENCES calls(id),
    tenant_id   TEXT NOT NULL REFERENCES tenants(id),
    path        TEXT NOT NULL,
    sample_rate INT NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dialer_jobs (
    job_id             TEXT PRIMARY KEY,
    tenant_id          TEXT NOT NULL REFERENCES tenants(id),
    campaign_id        TEXT NOT NULL,
    lead_id            TEXT NOT NULL,
    phone_number       TEXT NOT NULL,
    priority           INT NOT NULL,
    status             TEXT NOT NULL,
    attempt_number     INT NOT NULL DEFAULT 0,
    max_retry_attempts INT NOT NULL DEFAULT 3,
    scheduled_at       TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL,
    processed_at       TIMESTAMPTZ,
    completed_at       TIMESTAMPTZ,
    last_outcome       TEXT NOT NULL DEFAULT '',
    last_error         TEXT NOT NULL DEFAULT '',
    call_id            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_dialer_jobs_tenant ON dialer_jobs(tenant_id, campaign_id);
`

// DefaultCostRate is the per-second call cost applied when no rate is
// configured. Flat-rate; per-plan pricing belongs to the billing surface.
const DefaultCostRate = 0.001

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Campaign is a dialing campaign as persisted.
type Campaign struct {
	ID                   string
	TenantID             string
	Status               string // draft, running, paused, completed
	SystemPromptTemplate string
	Greeting             string
	VoiceID              string
	GoalDescription      string
	MaxConcurrentCalls   int
	MaxRetries           int
	Rules                dialer.CallingRules
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Lead is one phone number attached to a campaign.
type Lead struct {
	ID             string
	CampaignID     string
	TenantID       string
	PhoneNumber    string
	Status         string // pending, called, contacted, completed, dnc, deleted
	CallAttempts   int
	LastCalledAt   *time.Time
	LastCallResult convo.CallOutcome
}

// CallRecord is the durable record of one call.
type CallRecord struct {
	ID               string
	ExternalCallUUID string
	TenantID         string
	CampaignID       string
	LeadID           string
	PhoneNumber      string
	Status           string // active, completed, failed
	Outcome          convo.CallOutcome
	StartedAt        time.Time
	EndedAt          *time.Time
	DurationSeconds  int
	TranscriptText   string
	TranscriptJSON   []byte
	Cost             float64
	RecordingPath    string
}

// Store issues all core persistence queries.
type Store struct {
	db       DB
	costRate float64
}

// Option configures a Store.
type Option func(*Store)

// WithCostRate overrides the per-second call cost rate.
func WithCostRate(rate float64) Option {
	return func(s *Store) { s.costRate = rate }
}

// New creates a store over an existing connection or pool.
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, costRate: DefaultCostRate}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateCall inserts an active call row at call start.
func (s *Store) CreateCall(ctx context.Context, call *CallRecord) error {
	const query = `
		INSERT INTO calls (
			id, external_call_uuid, tenant_id, campaign_id, lead_id,
			phone_number, status, started_at
		) VALUES ($1,$2,$3,$4,$5,$6,'active',$7)`

	started := call.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
		call.StartedAt = started
	}
	_, err := s.db.Exec(ctx, query,
		call.ID, call.ExternalCallUUID, call.TenantID, call.CampaignID,
		call.LeadID, call.PhoneNumber, started,
	)
	if err != nil {
		return fmt.Errorf("store: create call %s: %w", call.ID, err)
	}
	call.Status = "active"
	return nil
}

// FlushTranscript updates the call's transcript columns. Called after every
// completed turn; repeated flushes of identical content write identical
// bytes.
func (s *Store) FlushTranscript(ctx context.Context, tenantID, callID, text string, asJSON []byte) error {
	const query = `
		UPDATE calls SET transcript_text = $3, transcript_json = $4
		WHERE id = $1 AND tenant_id = $2`

	tag, err := s.db.Exec(ctx, query, callID, tenantID, text, asJSON)
	if err != nil {
		return fmt.Errorf("store: flush transcript for call %s: %w", callID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: flush transcript: call %s not found", callID)
	}
	return nil
}

// FinalizeCall closes the call row: status, outcome, end time, derived
// duration, and cost (duration x rate). Returns the computed duration.
func (s *Store) FinalizeCall(ctx context.Context, tenantID, callID, status string, outcome convo.CallOutcome, endedAt time.Time, recordingPath string) (int, error) {
	const query = `
		UPDATE calls SET
			status = $3,
			outcome = $4,
			ended_at = $5,
			duration_seconds = GREATEST(FLOOR(EXTRACT(EPOCH FROM ($5::timestamptz - started_at)))::INT, 0),
			cost = GREATEST(FLOOR(EXTRACT(EPOCH FROM ($5::timestamptz - started_at)))::INT, 0) * $6,
			recording_path = $7
		WHERE id = $1 AND tenant_id = $2
		RETURNING duration_seconds`

	var duration int
	err := s.db.QueryRow(ctx, query,
		callID, tenantID, status, string(outcome), endedAt, s.costRate, recordingPath,
	).Scan(&duration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("store: finalize: call %s not found", callID)
		}
		return 0, fmt.Errorf("store: finalize call %s: %w", callID, err)
	}
	return duration, nil
}

// GetCall fetches one call row. Returns (nil, nil) when absent.
func (s *Store) GetCall(ctx context.Context, tenantID, callID string) (*CallRecord, error) {
	const query = `
		SELECT id, external_call_uuid, tenant_id, campaign_id, lead_id,
		       phone_number, status, outcome, started_at, ended_at,
		       duration_seconds, transcript_text, transcript_json, cost,
		       recording_path
		FROM calls
		WHERE id = $1 AND tenant_id = $2`

	var c CallRecord
	var outcome string
	err := s.db.QueryRow(ctx, query, callID, tenantID).Scan(
		&c.ID, &c.ExternalCallUUID, &c.TenantID, &c.CampaignID, &c.LeadID,
		&c.PhoneNumber, &c.Status, &outcome, &c.StartedAt, &c.EndedAt,
		&c.DurationSeconds, &c.TranscriptText, &c.TranscriptJSON, &c.Cost,
		&c.RecordingPath,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get call %s: %w", callID, err)
	}
	c.Outcome = convo.CallOutcome(outcome)
	return &c, nil
}

// CallIDByExternalUUID resolves the internal call ID for a telephony
// provider's call UUID. Returns ("", nil) when unknown.
func (s *Store) CallIDByExternalUUID(ctx context.Context, tenantID, externalUUID string) (string, error) {
	const query = `
		SELECT id FROM calls
		WHERE external_call_uuid = $1 AND tenant_id = $2`

	var id string
	err := s.db.QueryRow(ctx, query, externalUUID, tenantID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("store: resolve external uuid %s: %w", externalUUID, err)
	}
	return id, nil
}

// SaveRecording records where a call's WAV landed.
func (s *Store) SaveRecording(ctx context.Context, tenantID, callID, path string, sampleRate int, duration time.Duration) error {
	const query = `
		INSERT INTO recordings (call_id, tenant_id, path, sample_rate, duration_ms)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (call_id) DO UPDATE SET
			path = EXCLUDED.path,
			sample_rate = EXCLUDED.sample_rate,
			duration_ms = EXCLUDED.duration_ms`

	_, err := s.db.Exec(ctx, query, callID, tenantID, path, sampleRate, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("store: save recording for call %s: %w", callID, err)
	}
	return nil
}
