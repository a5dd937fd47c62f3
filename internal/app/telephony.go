package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dialcast/dialcast/internal/config"
)

// StartCallRequest is one outbound leg handed to the telephony provider.
type StartCallRequest struct {
	UUID      string `json:"uuid"`
	To        string `json:"to"`
	From      string `json:"from"`
	AnswerURL string `json:"answer_url"`
	EventURL  string `json:"event_url"`
}

// CallStarter dials an outbound leg with the telephony provider. The UUID
// keys the provider's answer and event webhooks back to this call.
type CallStarter interface {
	StartCall(ctx context.Context, req StartCallRequest) error
}

// restTelephony places calls through the provider's REST API.
type restTelephony struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

var _ CallStarter = (*restTelephony)(nil)

func newRESTTelephony(cfg config.TelephonyConfig, log *slog.Logger) (*restTelephony, error) {
	key, err := cfg.ResolveKey()
	if err != nil {
		return nil, err
	}
	return &restTelephony{
		baseURL: cfg.BaseURL,
		apiKey:  key,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With("component", "telephony"),
	}, nil
}

func (t *restTelephony) StartCall(ctx context.Context, req StartCallRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("telephony: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("telephony: start call %s: %w", req.UUID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telephony: start call %s: status %d: %s", req.UUID, resp.StatusCode, snippet)
	}

	t.log.Info("outbound call requested", "uuid", req.UUID, "to", req.To)
	return nil
}

// logTelephony is the placement backend when no provider is configured:
// the record exists and the log line says who would have been dialled.
// Media is expected to arrive over SIP or a provider-initiated WebSocket.
type logTelephony struct {
	log *slog.Logger
}

var _ CallStarter = (*logTelephony)(nil)

func (t *logTelephony) StartCall(_ context.Context, req StartCallRequest) error {
	t.log.Info("no telephony backend configured, awaiting inbound media",
		"uuid", req.UUID, "to", req.To)
	return nil
}
