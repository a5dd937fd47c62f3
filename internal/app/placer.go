package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/store"
)

// PlacementStore is the slice of persistence the placer writes: the call
// record for the new attempt and the job audit row.
type PlacementStore interface {
	CreateCall(ctx context.Context, call *store.CallRecord) error
	UpsertDialerJob(ctx context.Context, job *dialer.Job) error
}

// placer starts outbound calls for the dial loop. It mints the external call
// UUID, persists the call record, and asks the telephony backend to dial.
// The returned UUID is the worker's completion key, so webhook events and
// the pipeline finish path resolve the same job.
type placer struct {
	publicURL string
	from      string
	calls     PlacementStore
	telephony CallStarter
	log       *slog.Logger
}

var _ dialer.CallPlacer = (*placer)(nil)

func newPlacer(publicURL, from string, calls PlacementStore, telephony CallStarter, log *slog.Logger) *placer {
	return &placer{
		publicURL: publicURL,
		from:      from,
		calls:     calls,
		telephony: telephony,
		log:       log.With("component", "placer"),
	}
}

func (p *placer) PlaceCall(ctx context.Context, job *dialer.Job) (string, error) {
	externalUUID := uuid.NewString()
	rec := &store.CallRecord{
		ID:               uuid.NewString(),
		ExternalCallUUID: externalUUID,
		TenantID:         job.TenantID,
		CampaignID:       job.CampaignID,
		LeadID:           job.LeadID,
		PhoneNumber:      job.PhoneNumber,
	}
	if err := p.calls.CreateCall(ctx, rec); err != nil {
		return "", fmt.Errorf("app: create call record: %w", err)
	}

	// The answer URL's query string is echoed by the provider and carried
	// through to the media WebSocket upgrade.
	q := url.Values{}
	q.Set("tenant_id", job.TenantID)
	q.Set("campaign_id", job.CampaignID)
	q.Set("lead_id", job.LeadID)
	q.Set("call_id", rec.ID)
	q.Set("phone_number", job.PhoneNumber)

	err := p.telephony.StartCall(ctx, StartCallRequest{
		UUID:      externalUUID,
		To:        job.PhoneNumber,
		From:      p.from,
		AnswerURL: p.publicURL + "/webhooks/answer?" + q.Encode(),
		EventURL:  p.publicURL + "/webhooks/event",
	})
	if err != nil {
		return "", err
	}

	if err := p.calls.UpsertDialerJob(ctx, job); err != nil {
		p.log.Warn("job audit write failed", "job_id", job.ID, "error", err)
	}
	return externalUUID, nil
}
