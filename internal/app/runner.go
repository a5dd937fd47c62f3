package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/convo"
	"github.com/dialcast/dialcast/internal/gateway"
	"github.com/dialcast/dialcast/internal/guard"
	"github.com/dialcast/dialcast/internal/observe"
	"github.com/dialcast/dialcast/internal/pipeline"
	"github.com/dialcast/dialcast/internal/prompt"
	"github.com/dialcast/dialcast/internal/recording"
	"github.com/dialcast/dialcast/internal/session"
	"github.com/dialcast/dialcast/internal/store"
	"github.com/dialcast/dialcast/pkg/provider/llm"
	"github.com/dialcast/dialcast/pkg/provider/stt"
	"github.com/dialcast/dialcast/pkg/provider/tts"
)

// finalizeTimeout bounds the post-call persistence chain.
const finalizeTimeout = 30 * time.Second

// CallStore is the slice of persistence the per-call path uses.
type CallStore interface {
	GetCampaign(ctx context.Context, tenantID, campaignID string) (*store.Campaign, error)
	GetCall(ctx context.Context, tenantID, callID string) (*store.CallRecord, error)
	FlushTranscript(ctx context.Context, tenantID, callID, text string, asJSON []byte) error
	FinalizeCall(ctx context.Context, tenantID, callID, status string, outcome convo.CallOutcome, endedAt time.Time, recordingPath string) (int, error)
	SaveRecording(ctx context.Context, tenantID, callID, path string, sampleRate int, duration time.Duration) error
	UpdateLeadAfterCall(ctx context.Context, tenantID, leadID, status string, outcome convo.CallOutcome, calledAt time.Time) error
}

// CallCompleter consumes the call's terminal outcome. Implemented by the
// dialer worker.
type CallCompleter interface {
	HandleCallCompletion(ctx context.Context, callID string, outcome convo.CallOutcome) error
}

// runner turns media attachments into running pipelines. It is the gateway
// Handler for both the WebSocket and RTP gateways, and the pipeline's
// persistence sink.
type runner struct {
	store    CallStore
	sessions *session.Registry
	sttP     stt.Provider
	llmP     llm.Provider
	ttsP     tts.Provider
	uploader *recording.Uploader
	metrics  *observe.Metrics
	agent    config.AgentConfig
	pipe     config.PipelineConfig
	log      *slog.Logger

	// completer is bound after the worker exists; nil tolerated for calls
	// that arrive outside the dial loop.
	completer CallCompleter

	mu    sync.Mutex
	gws   []gateway.Gateway
	calls map[string]context.CancelFunc
	base  context.Context

	wg sync.WaitGroup
}

var (
	_ gateway.Handler = (*runner)(nil)
	_ pipeline.Sink   = (*runner)(nil)
)

func newRunner(st CallStore, sessions *session.Registry, sttP stt.Provider, llmP llm.Provider,
	ttsP tts.Provider, uploader *recording.Uploader, metrics *observe.Metrics,
	agent config.AgentConfig, pipe config.PipelineConfig, log *slog.Logger) *runner {
	return &runner{
		store:    st,
		sessions: sessions,
		sttP:     sttP,
		llmP:     llmP,
		ttsP:     ttsP,
		uploader: uploader,
		metrics:  metrics,
		agent:    agent,
		pipe:     pipe,
		log:      log.With("component", "runner"),
		calls:    make(map[string]context.CancelFunc),
		base:     context.Background(),
	}
}

// bindGateway registers a media gateway. Not safe concurrently with live
// calls; call during assembly.
func (r *runner) bindGateway(gw gateway.Gateway) {
	r.gws = append(r.gws, gw)
}

// bindCompleter attaches the dialer worker once it exists.
func (r *runner) bindCompleter(c CallCompleter) { r.completer = c }

// bindContext sets the parent context for per-call pipelines.
func (r *runner) bindContext(ctx context.Context) {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()
}

// gatewayFor returns the gateway holding the call's media, or nil.
func (r *runner) gatewayFor(callID string) gateway.Gateway {
	for _, gw := range r.gws {
		if gw.AudioQueue(callID) != nil {
			return gw
		}
	}
	return nil
}

// OnCallStarted fires when a call's media channel opens. It assembles the
// session, prompts, guardrails, and pipeline, and runs the call in its own
// goroutine; the gateway's pump loops must not block.
func (r *runner) OnCallStarted(meta gateway.CallMetadata) {
	r.mu.Lock()
	base := r.base
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(base)

	lookupCtx, lookupCancel := context.WithTimeout(ctx, 5*time.Second)
	campaign, err := r.store.GetCampaign(lookupCtx, meta.TenantID, meta.CampaignID)
	lookupCancel()
	if err != nil {
		r.log.Error("campaign lookup failed", "call_id", meta.CallID, "error", err)
	}
	if campaign == nil {
		// SIP legs and test calls have no campaign row; run on defaults.
		campaign = &store.Campaign{ID: meta.CampaignID, TenantID: meta.TenantID}
	}

	pm, err := prompt.NewManager(prompt.Params{
		AgentName:       r.agent.Name,
		CompanyName:     r.agent.Company,
		GoalDescription: campaign.GoalDescription,
		Tone:            r.agent.Tone,
		MaxSentences:    r.agent.MaxSentences,
		DoNotSay:        r.agent.DoNotSay,
	}, prompt.Overrides{
		SystemPrompt:   campaign.SystemPromptTemplate,
		Greeting:       campaign.Greeting,
		ComplianceText: r.agent.ComplianceText,
	})
	if err != nil {
		r.log.Error("prompt assembly failed, dropping call", "call_id", meta.CallID, "error", err)
		cancel()
		if gw := r.gatewayFor(meta.CallID); gw != nil {
			gw.EndCall(meta.CallID, "prompt assembly failed")
		}
		return
	}

	sess := session.New(meta.CallID, meta.TenantID, meta.CampaignID, meta.LeadID, meta.PhoneNumber)
	sess.Configure(campaign.VoiceID, r.pipe.Language, campaign.SystemPromptTemplate)
	r.sessions.Put(sess)

	guardrails := guard.New(guard.Rules{
		MaxSentences:     r.agent.MaxSentences,
		ForbiddenPhrases: r.agent.DoNotSay,
		TurnTimeout:      r.pipe.TurnTimeout.Std(),
	})

	gw := r.gatewayFor(meta.CallID)
	pl := pipeline.New(pipeline.Config{
		Language:             r.pipe.Language,
		VoiceID:              campaign.VoiceID,
		Temperature:          pm.Temperature(),
		MaxTokens:            pm.MaxTokens(),
		IdleTimeout:          r.pipe.IdleTimeout.Std(),
		Seed:                 r.pipe.Seed,
		MaxObjectionAttempts: r.pipe.MaxObjectionAttempts,
		MaxConversationTurns: r.pipe.MaxConversationTurns,
	}, pipeline.Deps{
		Gateway: gw,
		STT:     r.sttP,
		LLM:     r.llmP,
		TTS:     r.ttsP,
		Session: sess,
		Prompts: pm,
		Guard:   guardrails,
		Sink:    r,
		Log:     r.log,
	})

	r.mu.Lock()
	r.calls[meta.CallID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runCall(ctx, pl, meta, gw)
}

// OnCallEnded fires when the media channel closes. Cancelling the pipeline
// context unwinds Run; the finish chain still executes from runCall.
func (r *runner) OnCallEnded(callID, reason string) {
	r.mu.Lock()
	cancel, ok := r.calls[callID]
	delete(r.calls, callID)
	r.mu.Unlock()
	if ok {
		r.log.Debug("media detached", "call_id", callID, "reason", reason)
		cancel()
	}
}

// Wait blocks until every in-flight call has finished its post-call chain.
func (r *runner) Wait() { r.wg.Wait() }

func (r *runner) runCall(ctx context.Context, pl *pipeline.Pipeline, meta gateway.CallMetadata, gw gateway.Gateway) {
	defer r.wg.Done()

	err := pl.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.log.Warn("pipeline ended with error", "call_id", meta.CallID, "error", err)
	}

	r.mu.Lock()
	if cancel, ok := r.calls[meta.CallID]; ok {
		delete(r.calls, meta.CallID)
		defer cancel()
	}
	r.mu.Unlock()

	r.finishCall(meta, gw, pl.Outcome(), pl.Latencies(), err)
}

// finishCall runs the post-call chain: recording upload, final transcript
// flush, call finalisation, lead update, dialer completion, metrics. Every
// step is best-effort; one failure never blocks the rest.
func (r *runner) finishCall(meta gateway.CallMetadata, gw gateway.Gateway,
	outcome convo.CallOutcome, latencies []pipeline.TurnLatency, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	var recPath string
	if gw != nil {
		if buf := gw.RecordingBuffer(meta.CallID); buf != nil && buf.Len() > 0 && r.uploader != nil {
			path, err := r.uploader.Upload(ctx, meta.TenantID, meta.CampaignID, meta.CallID, buf)
			if err != nil {
				r.log.Error("recording upload failed", "call_id", meta.CallID, "error", err)
			} else {
				recPath = path
				if err := r.store.SaveRecording(ctx, meta.TenantID, meta.CallID, path,
					buf.SampleRate(), buf.Duration()); err != nil {
					r.log.Error("recording row failed", "call_id", meta.CallID, "error", err)
				}
			}
		}
		gw.EndCall(meta.CallID, "call finished")
	}

	if sess := r.sessions.Remove(meta.CallID); sess != nil {
		sess.SetStatus(session.StatusEnded)
		if err := r.FlushTranscript(ctx, sess); err != nil {
			r.log.Error("final transcript flush failed", "call_id", meta.CallID, "error", err)
		}
	}

	status := "completed"
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		status = "failed"
	}
	seconds, err := r.store.FinalizeCall(ctx, meta.TenantID, meta.CallID, status, outcome,
		time.Now().UTC(), recPath)
	if err != nil {
		r.log.Error("call finalisation failed", "call_id", meta.CallID, "error", err)
	}

	if meta.LeadID != "" {
		if err := r.store.UpdateLeadAfterCall(ctx, meta.TenantID, meta.LeadID,
			leadStatusFor(outcome), outcome, time.Now().UTC()); err != nil {
			r.log.Error("lead update failed", "call_id", meta.CallID, "lead_id", meta.LeadID, "error", err)
		}
	}

	if r.completer != nil {
		if err := r.completer.HandleCallCompletion(ctx, r.completionKey(ctx, meta), outcome); err != nil {
			r.log.Error("dialer completion failed", "call_id", meta.CallID, "error", err)
		}
	}

	r.metrics.RecordCallPlaced(ctx, meta.TenantID, string(outcome))
	for _, lat := range latencies {
		r.metrics.RecordTurn(ctx, lat.LLMEnd.Sub(lat.LLMStart), lat.FirstAudio.Sub(lat.TTSStart), lat.Total())
	}

	r.log.Info("call finished", "call_id", meta.CallID, "outcome", outcome,
		"status", status, "duration_s", seconds, "recording", recPath)
}

// completionKey resolves the dialer worker's tracking key, which is the
// external call UUID the placer returned. Calls that never went through the
// placer fall back to the call ID itself.
func (r *runner) completionKey(ctx context.Context, meta gateway.CallMetadata) string {
	rec, err := r.store.GetCall(ctx, meta.TenantID, meta.CallID)
	if err == nil && rec != nil && rec.ExternalCallUUID != "" {
		return rec.ExternalCallUUID
	}
	return meta.CallID
}

// FlushTranscript persists the session's transcript. Called by the pipeline
// after each completed turn and once more at call end.
func (r *runner) FlushTranscript(ctx context.Context, s *session.Session) error {
	text, asJSON, err := s.Transcript()
	if err != nil {
		return err
	}
	snap := s.Snapshot()
	return r.store.FlushTranscript(ctx, snap.TenantID, snap.CallID, text, asJSON)
}

// leadStatusFor maps the call outcome onto the lead lifecycle. Rejections
// and spam flags park the lead on the do-not-call status.
func leadStatusFor(outcome convo.CallOutcome) string {
	switch {
	case outcome == convo.OutcomeRejected || outcome == convo.OutcomeSpam:
		return "dnc"
	case outcome.Goal():
		return "contacted"
	default:
		return "called"
	}
}
