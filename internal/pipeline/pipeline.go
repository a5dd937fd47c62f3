// Package pipeline runs the per-call voice loop: audio in from the gateway,
// through STT, the conversation engine, the LLM, guardrails, and TTS, and
// back out to the gateway. One Pipeline owns one call; five cooperating tasks
// communicate over bounded channels and share a single cancellation signal.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dialcast/dialcast/internal/convo"
	"github.com/dialcast/dialcast/internal/gateway"
	"github.com/dialcast/dialcast/internal/guard"
	"github.com/dialcast/dialcast/internal/prompt"
	"github.com/dialcast/dialcast/internal/session"
	"github.com/dialcast/dialcast/pkg/provider/llm"
	"github.com/dialcast/dialcast/pkg/provider/stt"
	"github.com/dialcast/dialcast/pkg/provider/tts"
)

// errCallComplete unwinds the task group after the goodbye has been spoken.
var errCallComplete = errors.New("pipeline: call complete")

// errIdle unwinds the task group when neither side has produced audio for
// the idle timeout.
var errIdle = errors.New("pipeline: call idle")

// DefaultIdleTimeout ends calls with no audio in either direction.
const DefaultIdleTimeout = 5 * time.Minute

// Sink receives persistence events from the pipeline. Implementations must
// tolerate repeated flushes of identical content.
type Sink interface {
	// FlushTranscript persists the session's transcript after a completed
	// turn. Best-effort; the pipeline logs and continues on error.
	FlushTranscript(ctx context.Context, s *session.Session) error
}

// Config tunes one call's pipeline.
type Config struct {
	Language    string
	VoiceID     string
	STTModel    string
	Temperature float64
	MaxTokens   int
	Stop        []string
	IdleTimeout time.Duration

	// Seed, when non-zero, pins the LLM for reproducible QA runs and
	// forces temperature 0.
	Seed int64

	// MaxObjectionAttempts and MaxConversationTurns bound the engine.
	MaxObjectionAttempts int
	MaxConversationTurns int
}

// Deps are the collaborators a pipeline drives.
type Deps struct {
	Gateway gateway.Gateway
	STT     stt.Provider
	LLM     llm.Provider
	TTS     tts.Provider
	Session *session.Session
	Prompts *prompt.Manager
	Guard   *guard.Guardrails
	Sink    Sink
	Log     *slog.Logger
}

// utterance is one agent reply queued for synthesis.
type utterance struct {
	text  string
	final bool // the call ends after this is spoken
}

// Pipeline orchestrates one call.
type Pipeline struct {
	cfg    Config
	deps   Deps
	engine *convo.Engine
	lat    *latencyTracker
	log    *slog.Logger

	// bargeMu guards the interrupt channel handed to the active synthesis.
	bargeMu   sync.Mutex
	speaking  bool
	interrupt chan struct{}

	turns chan string    // final transcripts, STT consumer -> turn handler
	speak chan utterance // replies, turn handler -> TTS producer
	out   chan []byte    // PCM, TTS producer -> outbound pump
}

// New builds a pipeline for one call.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	log := deps.Log.With("component", "pipeline", "call_id", deps.Session.CallID())
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		engine: convo.NewEngine(convo.EngineConfig{
			MaxObjectionAttempts: cfg.MaxObjectionAttempts,
			MaxConversationTurns: cfg.MaxConversationTurns,
		}),
		lat:   newLatencyTracker(log),
		log:   log,
		turns: make(chan string, 4),
		speak: make(chan utterance, 1),
		out:   make(chan []byte, 16),
	}
}

// Outcome returns the call outcome once Run has returned.
func (p *Pipeline) Outcome() convo.CallOutcome {
	if p.engine.State().Terminal() {
		return p.engine.DetermineOutcome()
	}
	return convo.OutcomeFailed
}

// Latencies returns the per-turn latency measurements.
func (p *Pipeline) Latencies() []TurnLatency { return p.lat.Turns() }

// Run drives the call until the conversation completes, the media channel
// closes (ctx cancel), or the idle timeout fires. It blocks for the call's
// lifetime and returns nil on a normally completed conversation.
func (p *Pipeline) Run(ctx context.Context) error {
	callID := p.deps.Session.CallID()
	inQueue := p.deps.Gateway.AudioQueue(callID)
	if inQueue == nil {
		return errors.New("pipeline: no media attached for call")
	}
	// Providers with their own VAD can signal barge-in on the control
	// channel; it aborts synthesis exactly like a start-of-turn event.
	p.deps.Gateway.SetBargeIn(callID, p.bargeIn)

	sttSession, err := p.deps.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: 16000,
		Language:   p.cfg.Language,
		Model:      p.cfg.STTModel,
	})
	if err != nil {
		return err
	}
	defer sttSession.Close()

	p.deps.Session.SetStatus(session.StatusActive)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.inboundPump(ctx, inQueue, sttSession) })
	g.Go(func() error { return p.sttConsumer(ctx, sttSession) })
	g.Go(func() error { return p.turnHandler(ctx) })
	g.Go(func() error { return p.ttsProducer(ctx) })
	g.Go(func() error { return p.outboundPump(ctx, callID) })
	g.Go(func() error { return p.idleWatch(ctx) })

	// Campaigns usually open with a fixed greeting so the callee hears a
	// voice immediately instead of waiting out a full LLM round trip.
	if greeting := p.deps.Prompts.Greeting(); greeting != "" {
		select {
		case p.speak <- utterance{text: greeting}:
		case <-ctx.Done():
		}
	}

	err = g.Wait()
	p.deps.Session.SetStatus(session.StatusEnded)
	if errors.Is(err, errCallComplete) || errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		// The peer only learns that the session broke, never why.
		p.notify(context.Background(), gateway.ControlMessage{Type: gateway.CtrlError})
	}
	return err
}

// notify emits a control event on the media channel, best-effort.
func (p *Pipeline) notify(ctx context.Context, msg gateway.ControlMessage) {
	p.deps.Gateway.SendControl(ctx, p.deps.Session.CallID(), msg)
}

// inboundPump forwards decoded 16 kHz PCM from the gateway to STT.
func (p *Pipeline) inboundPump(ctx context.Context, q *gateway.BoundedQueue, s stt.SessionHandle) error {
	for {
		chunk, err := q.Pop(ctx)
		if err != nil {
			return err
		}
		if err := s.SendAudio(chunk); err != nil {
			return err
		}
	}
}

// sttConsumer dispatches transcription events: partials replace the pending
// utterance, finals start a turn, start-of-turn triggers barge-in when the
// agent is mid-sentence.
func (p *Pipeline) sttConsumer(ctx context.Context, s stt.SessionHandle) error {
	var lastPartial string
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return errors.New("pipeline: stt event stream ended")
			}
			switch ev.Type {
			case stt.EventPartial:
				lastPartial = ev.Text
				p.deps.Session.SetUserPartial(ev.Text)

			case stt.EventStartOfTurn:
				p.bargeIn()

			case stt.EventFinal:
				lastPartial = ""
				p.dispatchTurn(ctx, ev.Text)

			case stt.EventStreamClosed:
				// Finalise the in-flight turn from the last partial so
				// the words already heard are not lost.
				if lastPartial != "" {
					p.dispatchTurn(ctx, lastPartial)
				}
				return errors.New("pipeline: stt stream closed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) dispatchTurn(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	p.lat.speechEnd(p.deps.Session.TurnCount() + 1)
	p.notify(ctx, gateway.ControlMessage{Type: gateway.CtrlTranscriptChunk, Text: text})
	p.notify(ctx, gateway.ControlMessage{Type: gateway.CtrlTurnEnd})
	select {
	case p.turns <- text:
	case <-ctx.Done():
	}
}

// bargeIn aborts the active synthesis and clears queued outbound audio. The
// interrupt channel reaches the TTS provider, the drain empties the gateway
// queue, and the discarded reply never enters history.
func (p *Pipeline) bargeIn() {
	p.bargeMu.Lock()
	if !p.speaking {
		p.bargeMu.Unlock()
		return
	}
	p.speaking = false
	if p.interrupt != nil {
		close(p.interrupt)
		p.interrupt = nil
	}
	p.bargeMu.Unlock()

	p.deps.Gateway.ClearOutbound(p.deps.Session.CallID())
	p.notify(context.Background(), gateway.ControlMessage{Type: gateway.CtrlTTSInterrupted})
	p.deps.Session.DiscardAIPartial()
	p.deps.Session.SetStatus(session.StatusListening)
	p.log.Debug("barge-in: synthesis aborted")
}

// turnHandler runs one conversation turn per final transcript.
func (p *Pipeline) turnHandler(ctx context.Context) error {
	for {
		select {
		case text := <-p.turns:
			if err := p.handleTurn(ctx, text); err != nil {
				return err
			}
		case <-ctx.Done():
			// The STT consumer may finalise a transcript in the same
			// instant the group is cancelled; commit anything already
			// queued so words the caller said still reach history.
			for {
				select {
				case text := <-p.turns:
					p.deps.Session.CommitUserTurn(text)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

func (p *Pipeline) handleTurn(ctx context.Context, text string) error {
	sess := p.deps.Session
	sess.CommitUserTurn(text)
	sess.SetStatus(session.StatusProcessing)

	state, intent := p.engine.Advance(text)
	ectx := p.engine.Context()
	sess.SetConversation(state, ectx)
	p.log.Debug("turn advanced", "intent", intent, "state", state, "turn", sess.TurnCount())

	p.notify(ctx, gateway.ControlMessage{Type: gateway.CtrlLLMStart})
	reply, llmOK := p.generateReply(ctx, state, ectx)
	p.notify(ctx, gateway.ControlMessage{Type: gateway.CtrlLLMEnd})
	if llmOK {
		p.engine.RecordLLMSuccess()
	}

	// Re-read the state: a spent failure budget forces goodbye.
	state = p.engine.State()
	sess.SetConversation(state, p.engine.Context())

	select {
	case p.speak <- utterance{text: reply, final: state.Terminal()}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// generateReply runs the LLM under the per-turn timeout and guardrail
// validation. The second return is false when the reply is a fallback.
func (p *Pipeline) generateReply(parent context.Context, state convo.ConvState, ectx convo.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(parent, p.deps.Guard.TurnTimeout())
	defer cancel()

	sysPrompt, err := p.deps.Prompts.Render(state, prompt.TurnData{
		UserConcern:    ectx.LastUserConcern,
		ObjectionCount: ectx.ObjectionCount,
		MaxObjections:  p.cfg.MaxObjectionAttempts,
	})
	if err != nil {
		p.log.Error("prompt render failed", "error", err)
		return p.fallback(state), false
	}

	history := p.deps.Session.History()
	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	req := llm.Request{
		SystemPrompt: sysPrompt,
		Messages:     messages,
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
		Stop:         p.cfg.Stop,
	}
	if p.cfg.Seed != 0 {
		req.Seed = p.cfg.Seed
		req.Temperature = 0
	}

	p.lat.llmStart()
	chunks, err := p.deps.LLM.StreamChat(ctx, req)
	if err != nil {
		p.log.Warn("llm stream failed to start", "error", err)
		return p.fallback(state), false
	}

	var b strings.Builder
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				p.lat.llmEnd()
				raw := b.String()
				cleaned, err := p.deps.Guard.Process(raw, state)
				if err != nil {
					p.log.Warn("reply rejected by guardrails", "error", err)
					return p.fallback(state), false
				}
				return cleaned, true
			}
			if chunk.FinishReason == llm.FinishError {
				p.lat.llmEnd()
				p.log.Warn("llm stream errored", "error", chunk.Text)
				return p.fallback(state), false
			}
			b.WriteString(chunk.Text)
			p.deps.Session.SetAIPartial(b.String())
		case <-ctx.Done():
			p.lat.llmEnd()
			p.log.Warn("llm turn timed out", "timeout", p.deps.Guard.TurnTimeout(), "error", guard.ErrLLMTimeout)
			return p.fallback(state), false
		}
	}
}

// fallback records the failure and, when the budget is spent, drives the
// engine to goodbye so the agent bows out instead of stumbling again.
func (p *Pipeline) fallback(state convo.ConvState) string {
	text, spent := p.deps.Guard.Fallback(state)
	p.engine.RecordLLMError()
	if spent {
		p.engine.ForceGoodbye()
	}
	return text
}

// ttsProducer synthesises queued utterances one at a time. Before forwarding
// each chunk it checks the barge-in state; an aborted utterance is discarded
// from the session without entering history.
func (p *Pipeline) ttsProducer(ctx context.Context) error {
	for {
		var utt utterance
		select {
		case utt = <-p.speak:
		case <-ctx.Done():
			return ctx.Err()
		}

		interrupted, spokenFor, err := p.speakUtterance(ctx, utt)
		if err != nil {
			return err
		}

		if !interrupted {
			p.deps.Session.CommitAgentTurn(utt.text, spokenFor)
			if err := p.deps.Sink.FlushTranscript(ctx, p.deps.Session); err != nil {
				p.log.Warn("transcript flush failed", "error", err)
			}
			if utt.final {
				// Let the tail of the audio drain before hanging up.
				select {
				case <-time.After(500 * time.Millisecond):
				case <-ctx.Done():
				}
				return errCallComplete
			}
			p.deps.Session.SetStatus(session.StatusListening)
		}
	}
}

// speakUtterance streams one reply's audio. Returns interrupted=true when
// barge-in cut it short, plus the playout duration of the audio actually
// forwarded (bytes at 16 kHz mono S16).
func (p *Pipeline) speakUtterance(ctx context.Context, utt utterance) (bool, time.Duration, error) {
	p.bargeMu.Lock()
	p.speaking = true
	p.interrupt = make(chan struct{})
	interrupt := p.interrupt
	p.bargeMu.Unlock()

	p.deps.Session.SetStatus(session.StatusSpeaking)
	p.deps.Session.SetAIPartial(utt.text)
	p.lat.ttsStart()
	p.notify(ctx, gateway.ControlMessage{Type: gateway.CtrlTTSStart})

	chunks, err := p.deps.TTS.StreamSynthesize(ctx, tts.SynthesisRequest{
		Text:       utt.text,
		Voice:      tts.VoiceProfile{ID: p.cfg.VoiceID},
		SampleRate: 16000,
		Interrupt:  interrupt,
	})
	if err != nil {
		p.log.Warn("tts failed to start", "error", err)
		p.clearSpeaking()
		return false, 0, nil
	}

	first := true
	bytesSent := 0
	for chunk := range chunks {
		if p.interrupted(interrupt) {
			break
		}
		if first {
			p.lat.firstAudio()
			first = false
		}
		select {
		case p.out <- chunk:
			bytesSent += len(chunk)
		case <-interrupt:
		case <-ctx.Done():
			return false, 0, ctx.Err()
		}
	}

	// 16 kHz mono S16: 32000 bytes per second of playout.
	spokenFor := time.Duration(bytesSent) * time.Second / 32000
	finished := p.clearSpeaking()
	if finished {
		// The interrupted case announces itself from bargeIn instead.
		p.notify(ctx, gateway.ControlMessage{Type: gateway.CtrlTTSEnd})
	}
	return !finished, spokenFor, nil
}

// interrupted reports whether the given interrupt channel has fired.
func (p *Pipeline) interrupted(interrupt chan struct{}) bool {
	select {
	case <-interrupt:
		return true
	default:
		return false
	}
}

// clearSpeaking resets the speaking flag; it returns true when this utterance
// finished naturally (the flag was still set, meaning no barge-in happened).
func (p *Pipeline) clearSpeaking() bool {
	p.bargeMu.Lock()
	defer p.bargeMu.Unlock()
	was := p.speaking
	p.speaking = false
	p.interrupt = nil
	return was
}

// outboundPump forwards synthesised PCM to the gateway.
func (p *Pipeline) outboundPump(ctx context.Context, callID string) error {
	for {
		select {
		case chunk := <-p.out:
			p.deps.Gateway.SendAudio(callID, chunk)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// idleWatch ends the call when neither direction has produced activity for
// the idle timeout.
func (p *Pipeline) idleWatch(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if p.deps.Session.IdleFor() > p.cfg.IdleTimeout {
				p.log.Warn("call idle timeout", "idle", p.deps.Session.IdleFor())
				return errIdle
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
