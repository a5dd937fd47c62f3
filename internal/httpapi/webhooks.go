package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dialcast/dialcast/internal/convo"
)

// terminalStatus maps telephony event statuses to call outcomes. Progress
// statuses (started, ringing, answered) and "completed" are absent on
// purpose: progress events carry no outcome, and completed calls are
// finalised by the voice pipeline with the conversation's own outcome.
var terminalStatus = map[string]convo.CallOutcome{
	"busy":         convo.OutcomeBusy,
	"timeout":      convo.OutcomeNoAnswer,
	"unanswered":   convo.OutcomeNoAnswer,
	"cancelled":    convo.OutcomeNoAnswer,
	"failed":       convo.OutcomeFailed,
	"machine":      convo.OutcomeVoicemail,
	"rejected":     convo.OutcomeRejected,
	"disconnected": convo.OutcomeDisconnected,
	"unavailable":  convo.OutcomeUnavailable,
	"invalid":      convo.OutcomeInvalid,
	"spam":         convo.OutcomeSpam,
}

// progressStatus lists the statuses that are expected but carry no outcome.
var progressStatus = map[string]bool{
	"started":   true,
	"ringing":   true,
	"answered":  true,
	"completed": true,
}

type answerRequest struct {
	UUID string `json:"uuid"`
	To   string `json:"to"`
	From string `json:"from"`
}

// handleAnswer responds to the provider's answer webhook with a control list
// directing it to open the media WebSocket back to this server. The query
// string the placer attached to the answer URL is carried through to the
// voice URI so the required call parameters arrive with the upgrade.
func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == "" {
		writeError(w, http.StatusBadRequest, "invalid answer payload")
		return
	}

	uri := h.cfg.WSBase + "/voice/" + req.UUID
	if r.URL.RawQuery != "" {
		uri += "?" + r.URL.RawQuery
	}

	h.log.Info("answer webhook", "uuid", req.UUID, "to", req.To)

	writeJSON(w, http.StatusOK, []map[string]any{
		{
			"action": "connect",
			"endpoint": []map[string]any{
				{
					"type":         "websocket",
					"uri":          uri,
					"content-type": "audio/l16;rate=16000",
				},
			},
		},
	})
}

type eventRequest struct {
	UUID     string `json:"uuid"`
	Status   string `json:"status"`
	Duration int    `json:"duration,omitzero"`
}

// handleEvent consumes call status events. Terminal statuses translate to a
// CallOutcome and complete the dialer job; everything else is logged and
// acknowledged.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev eventRequest
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.UUID == "" {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	outcome, terminal := terminalStatus[ev.Status]
	if !terminal {
		if !progressStatus[ev.Status] {
			h.log.Warn("ignoring unknown call status", "uuid", ev.UUID, "status", ev.Status)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	h.log.Info("call event", "uuid", ev.UUID, "status", ev.Status, "outcome", string(outcome))
	if err := h.completer.HandleCallCompletion(r.Context(), ev.UUID, outcome); err != nil {
		h.log.Error("call completion failed", "uuid", ev.UUID, "error", err)
		writeError(w, http.StatusInternalServerError, "completion failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
