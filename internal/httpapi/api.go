// Package httpapi is the HTTP surface of the server: the voice media
// WebSocket, telephony webhooks, campaign control, metrics, and probes.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dialcast/dialcast/internal/convo"
	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/gateway"
	"github.com/dialcast/dialcast/internal/health"
	"github.com/dialcast/dialcast/internal/observe"
	"github.com/dialcast/dialcast/internal/store"
)

// MediaServer owns an upgraded media connection for the call's lifetime.
// Implemented by gateway.WSGateway.
type MediaServer interface {
	ServeCall(ctx context.Context, conn *websocket.Conn, meta gateway.CallMetadata)
}

// CampaignDirectory is the slice of the store the campaign-control routes
// need.
type CampaignDirectory interface {
	GetCampaign(ctx context.Context, tenantID, campaignID string) (*store.Campaign, error)
	SetCampaignStatus(ctx context.Context, tenantID, campaignID, status string) error
	PendingLeads(ctx context.Context, tenantID, campaignID string, limit int) ([]store.Lead, error)
}

// CallResolver maps a telephony UUID back to the internal call ID.
type CallResolver interface {
	CallIDByExternalUUID(ctx context.Context, tenantID, externalUUID string) (string, error)
}

// Enqueuer accepts new dialer jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *dialer.Job) error
}

// CallCompleter consumes terminal call outcomes. Implemented by the dialer
// worker, keyed by the external call UUID the placer returned.
type CallCompleter interface {
	HandleCallCompletion(ctx context.Context, callUUID string, outcome convo.CallOutcome) error
}

// Config tunes the handler.
type Config struct {
	// WSBase is the externally reachable base URL for the voice WebSocket,
	// e.g. "wss://dialer.example.com". Used in answer-webhook responses.
	WSBase string

	// DefaultPriority is assigned to jobs enqueued by campaign start.
	// Default 5.
	DefaultPriority int

	// LeadBatchSize caps leads enqueued per campaign start. Default 1000.
	LeadBatchSize int
}

// Handler holds the route dependencies.
type Handler struct {
	cfg       Config
	media     MediaServer
	dir       CampaignDirectory
	resolver  CallResolver
	queue     Enqueuer
	completer CallCompleter
	health    *health.Handler
	metrics   *observe.Metrics
	log       *slog.Logger
}

// New assembles the HTTP handler. resolver may be nil, in which case the
// voice route falls back to the external UUID as call ID.
func New(cfg Config, media MediaServer, dir CampaignDirectory, resolver CallResolver,
	queue Enqueuer, completer CallCompleter, hh *health.Handler,
	metrics *observe.Metrics, log *slog.Logger) *Handler {
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = 5
	}
	if cfg.LeadBatchSize == 0 {
		cfg.LeadBatchSize = 1000
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Handler{
		cfg:       cfg,
		media:     media,
		dir:       dir,
		resolver:  resolver,
		queue:     queue,
		completer: completer,
		health:    hh,
		metrics:   metrics,
		log:       log.With("component", "httpapi"),
	}
}

// Router builds the chi router with all routes mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.recordDuration)

	r.Get("/voice/{uuid}", h.handleVoice)
	r.Post("/webhooks/answer", h.handleAnswer)
	r.Post("/webhooks/event", h.handleEvent)
	r.Post("/campaigns/{campaignID}/start", h.handleCampaignStart)
	r.Post("/campaigns/{campaignID}/pause", h.handleCampaignPause)
	r.Post("/campaigns/{campaignID}/stop", h.handleCampaignStop)

	r.Handle("/metrics", promhttp.Handler())
	if h.health != nil {
		r.Get("/healthz", h.health.Healthz)
		r.Get("/readyz", h.health.Readyz)
	}
	return r
}

// recordDuration observes handler latency per method and route pattern.
func (h *Handler) recordDuration(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := nowFunc()
		next.ServeHTTP(w, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		h.metrics.HTTPRequestDuration.Record(r.Context(), nowFunc().Sub(start).Seconds(),
			httpAttrs(r.Method, route))
	})
}

// nowFunc is swapped in tests.
var nowFunc = time.Now

func httpAttrs(method, route string) metric.RecordOption {
	return metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
