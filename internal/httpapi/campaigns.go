package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dialcast/dialcast/internal/dialer"
)

type campaignRequest struct {
	TenantID string `json:"tenant_id"`

	// Priority for the enqueued jobs, [1,10]. Zero means the default.
	Priority int `json:"priority,omitzero"`
}

func decodeCampaignRequest(w http.ResponseWriter, r *http.Request) (campaignRequest, bool) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return campaignRequest{}, false
	}
	return req, true
}

// handleCampaignStart marks the campaign running and enqueues a dial job for
// every pending lead.
func (h *Handler) handleCampaignStart(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	req, ok := decodeCampaignRequest(w, r)
	if !ok {
		return
	}

	campaign, err := h.dir.GetCampaign(r.Context(), req.TenantID, campaignID)
	if err != nil {
		h.log.Error("campaign lookup failed", "campaign_id", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "campaign lookup failed")
		return
	}
	if campaign == nil {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}

	if err := h.dir.SetCampaignStatus(r.Context(), req.TenantID, campaignID, "running"); err != nil {
		h.log.Error("campaign start failed", "campaign_id", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "campaign update failed")
		return
	}

	leads, err := h.dir.PendingLeads(r.Context(), req.TenantID, campaignID, h.cfg.LeadBatchSize)
	if err != nil {
		h.log.Error("pending leads failed", "campaign_id", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "lead listing failed")
		return
	}

	priority := req.Priority
	if priority == 0 {
		priority = h.cfg.DefaultPriority
	}

	enqueued := 0
	for _, lead := range leads {
		job := dialer.NewJob(req.TenantID, campaignID, lead.ID, lead.PhoneNumber,
			priority, campaign.MaxRetries)
		if err := h.queue.Enqueue(r.Context(), job); err != nil {
			h.log.Error("enqueue failed", "campaign_id", campaignID, "lead_id", lead.ID, "error", err)
			continue
		}
		h.metrics.RecordQueueOp(r.Context(), "enqueue")
		enqueued++
	}

	h.log.Info("campaign started", "campaign_id", campaignID, "tenant_id", req.TenantID,
		"leads", len(leads), "enqueued", enqueued)
	writeJSON(w, http.StatusOK, map[string]any{"status": "running", "enqueued": enqueued})
}

func (h *Handler) handleCampaignPause(w http.ResponseWriter, r *http.Request) {
	h.setCampaignStatus(w, r, "paused")
}

// handleCampaignStop marks the campaign completed. Jobs already queued are
// deferred by the worker once the campaign is no longer running.
func (h *Handler) handleCampaignStop(w http.ResponseWriter, r *http.Request) {
	h.setCampaignStatus(w, r, "completed")
}

func (h *Handler) setCampaignStatus(w http.ResponseWriter, r *http.Request, status string) {
	campaignID := chi.URLParam(r, "campaignID")
	req, ok := decodeCampaignRequest(w, r)
	if !ok {
		return
	}

	if err := h.dir.SetCampaignStatus(r.Context(), req.TenantID, campaignID, status); err != nil {
		h.log.Error("campaign status update failed",
			"campaign_id", campaignID, "status", status, "error", err)
		writeError(w, http.StatusInternalServerError, "campaign update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
