package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/dialcast/dialcast/internal/gateway"
)

// closeMissingParams is sent when a voice upgrade omits required query
// parameters. Providers surface the code to their logs, so it is stable.
const closeMissingParams = websocket.StatusCode(4000)

// handleVoice upgrades the media WebSocket for one call. Required query
// parameters: tenant_id, campaign_id, lead_id. Optional: call_id,
// phone_number. A missing required parameter closes the socket with code
// 4000 after a JSON error frame, per the telephony contract.
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	externalUUID := chi.URLParam(r, "uuid")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("voice upgrade failed", "uuid", externalUUID, "error", err)
		return
	}

	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	campaignID := q.Get("campaign_id")
	leadID := q.Get("lead_id")
	if tenantID == "" || campaignID == "" || leadID == "" {
		frame, _ := json.Marshal(gateway.ControlMessage{
			Type: gateway.CtrlError,
			Text: "missing required query parameters: tenant_id, campaign_id, lead_id",
		})
		_ = conn.Write(r.Context(), websocket.MessageText, frame)
		_ = conn.Close(closeMissingParams, "missing required parameters")
		return
	}

	callID := q.Get("call_id")
	if callID == "" && h.resolver != nil {
		callID, err = h.resolver.CallIDByExternalUUID(r.Context(), tenantID, externalUUID)
		if err != nil {
			h.log.Error("call lookup failed", "uuid", externalUUID, "error", err)
		}
	}
	if callID == "" {
		callID = externalUUID
	}

	h.metrics.ActiveCalls.Add(r.Context(), 1)
	defer h.metrics.ActiveCalls.Add(r.Context(), -1)

	h.media.ServeCall(r.Context(), conn, gateway.CallMetadata{
		CallID:      callID,
		TenantID:    tenantID,
		CampaignID:  campaignID,
		LeadID:      leadID,
		PhoneNumber: q.Get("phone_number"),
	})
}
