package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dialcast/dialcast/internal/convo"
	"github.com/dialcast/dialcast/internal/gateway"
	"github.com/dialcast/dialcast/internal/guard"
	"github.com/dialcast/dialcast/internal/prompt"
	"github.com/dialcast/dialcast/internal/session"
	"github.com/dialcast/dialcast/pkg/audio"
	llmmock "github.com/dialcast/dialcast/pkg/provider/llm/mock"
	sttmock "github.com/dialcast/dialcast/pkg/provider/stt/mock"
	"github.com/dialcast/dialcast/pkg/provider/stt"
	ttsmock "github.com/dialcast/dialcast/pkg/provider/tts/mock"
)

// fakeGateway implements gateway.Gateway with an in-memory input queue.
type fakeGateway struct {
	mu       sync.Mutex
	input    *gateway.BoundedQueue
	sent     [][]byte
	cleared  int
	controls []string
	bargeFn  func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{input: gateway.NewBoundedQueue(gateway.DefaultQueueDepth)}
}

func (f *fakeGateway) SendAudio(callID string, pcm []byte) {
	f.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.sent = append(f.sent, cp)
	f.mu.Unlock()
}

func (f *fakeGateway) AudioQueue(callID string) *gateway.BoundedQueue { return f.input }

func (f *fakeGateway) ClearOutbound(callID string) {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func (f *fakeGateway) SendControl(ctx context.Context, callID string, msg gateway.ControlMessage) {
	f.mu.Lock()
	f.controls = append(f.controls, msg.Type)
	f.mu.Unlock()
}

func (f *fakeGateway) SetBargeIn(callID string, fn func()) {
	f.mu.Lock()
	f.bargeFn = fn
	f.mu.Unlock()
}

func (f *fakeGateway) RecordingBuffer(callID string) *audio.RecordingBuffer { return nil }
func (f *fakeGateway) ClearRecordingBuffer(callID string)                   {}
func (f *fakeGateway) EndCall(callID, reason string)                        {}

func (f *fakeGateway) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeGateway) clearedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

func (f *fakeGateway) controlCount(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.controls {
		if c == typ {
			n++
		}
	}
	return n
}

func (f *fakeGateway) bargeHook() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bargeFn
}

var _ gateway.Gateway = (*fakeGateway)(nil)

type fakeSink struct {
	mu      sync.Mutex
	flushes int
}

func (f *fakeSink) FlushTranscript(ctx context.Context, s *session.Session) error {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

type fixture struct {
	p    *Pipeline
	sess *session.Session
	gw   *fakeGateway
	stt  *sttmock.Session
	llm  *llmmock.Provider
	tts  *ttsmock.Provider
	sink *fakeSink
}

func newFixture(t *testing.T, greeting string, llmP *llmmock.Provider, ttsP *ttsmock.Provider) *fixture {
	t.Helper()
	prompts, err := prompt.NewManager(prompt.Params{
		AgentName:       "Sam",
		CompanyName:     "Acme",
		GoalDescription: "schedule a product demo",
		Tone:            "friendly",
		MaxSentences:    3,
	}, prompt.Overrides{Greeting: greeting})
	if err != nil {
		t.Fatalf("prompt manager: %v", err)
	}

	sess := session.New("call-1", "tenant-1", "camp-1", "lead-1", "+15550001111")
	gw := newFakeGateway()
	sttSess := sttmock.NewSession()
	sink := &fakeSink{}

	p := New(Config{
		Language:    "en",
		VoiceID:     "voice-1",
		IdleTimeout: time.Minute,
	}, Deps{
		Gateway: gw,
		STT:     &sttmock.Provider{Session: sttSess},
		LLM:     llmP,
		TTS:     ttsP,
		Session: sess,
		Prompts: prompts,
		Guard:   guard.New(guard.Rules{TurnTimeout: 2 * time.Second}),
		Sink:    sink,
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &fixture{p: p, sess: sess, gw: gw, stt: sttSess, llm: llmP, tts: ttsP, sink: sink}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHappyPathReachesSuccess(t *testing.T) {
	llmP := &llmmock.Provider{Replies: []string{
		"Great to hear. Do you have about two minutes to talk?",
		"Perfect. I can get a demo on your calendar this week.",
		"Wonderful, you're all set. Have a great day!",
	}}
	f := newFixture(t, "Hi, is now a good time?", llmP, &ttsmock.Provider{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	// Greeting goes out before any user speech.
	waitFor(t, "greeting synthesis", func() bool { return f.tts.CallCount() == 1 })
	if texts := f.tts.SpokenTexts(); texts[0] != "Hi, is now a good time?" {
		t.Errorf("first spoken text = %q, want greeting", texts[0])
	}

	// Caller audio flows through to STT.
	f.gw.input.Push(make([]byte, 640))
	waitFor(t, "audio forwarded to stt", func() bool { return f.stt.SendAudioCallCount() >= 1 })

	f.stt.Emit(stt.Event{Type: stt.EventPartial, Text: "ye"})
	f.stt.Emit(stt.Event{Type: stt.EventFinal, Text: "yes sure"})
	waitFor(t, "first reply", func() bool { return f.tts.CallCount() == 2 })

	f.stt.Emit(stt.Event{Type: stt.EventFinal, Text: "yes that works"})
	waitFor(t, "second reply", func() bool { return f.tts.CallCount() == 3 })

	f.stt.Emit(stt.Event{Type: stt.EventFinal, Text: "yes"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not complete")
	}

	if got := f.p.Outcome(); got != convo.OutcomeSuccess {
		t.Errorf("outcome = %s, want SUCCESS", got)
	}
	if f.llm.CallCount() != 3 {
		t.Errorf("llm calls = %d, want 3", f.llm.CallCount())
	}
	if f.sink.flushCount() < 3 {
		t.Errorf("transcript flushes = %d, want at least 3", f.sink.flushCount())
	}
	if f.gw.sentCount() == 0 {
		t.Error("no audio reached the gateway")
	}
	if len(f.p.Latencies()) == 0 {
		t.Error("no turn latencies recorded")
	}
	if f.sess.Status() != session.StatusEnded {
		t.Errorf("session status = %s, want ended", f.sess.Status())
	}
}

func TestBargeInDiscardsReply(t *testing.T) {
	llmP := &llmmock.Provider{Replies: []string{
		"Let me walk you through everything we offer in detail.",
	}}
	ttsP := &ttsmock.Provider{
		Chunks:     [][]byte{make([]byte, 320), make([]byte, 320), make([]byte, 320), make([]byte, 320)},
		ChunkDelay: 40 * time.Millisecond,
	}
	f := newFixture(t, "", llmP, ttsP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	f.stt.Emit(stt.Event{Type: stt.EventFinal, Text: "hello there"})
	waitFor(t, "synthesis to start", func() bool { return f.tts.CallCount() == 1 })

	// Caller speaks over the agent mid-utterance.
	f.stt.Emit(stt.Event{Type: stt.EventStartOfTurn})
	waitFor(t, "synthesis interrupt", func() bool { return f.tts.Interrupted() == 1 })
	waitFor(t, "outbound clear", func() bool { return f.gw.clearedCount() >= 1 })

	// The aborted reply never enters history.
	waitFor(t, "listening status", func() bool { return f.sess.Status() == session.StatusListening })
	for _, m := range f.sess.History() {
		if m.Role == "assistant" {
			t.Errorf("interrupted reply committed to history: %q", m.Content)
		}
	}

	// The peer was told to start playout and then to flush it.
	if got := f.gw.controlCount(gateway.CtrlTTSStart); got == 0 {
		t.Error("no TTS_START control event emitted")
	}
	if got := f.gw.controlCount(gateway.CtrlTTSInterrupted); got != 1 {
		t.Errorf("tts_interrupted events = %d, want 1", got)
	}
	if got := f.gw.controlCount(gateway.CtrlTTSEnd); got != 0 {
		t.Errorf("TTS_END events = %d for an interrupted utterance, want 0", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil after cancel", err)
	}
}

func TestControlChannelBargeInAbortsSynthesis(t *testing.T) {
	llmP := &llmmock.Provider{Replies: []string{
		"Here is a very thorough answer to your question.",
	}}
	ttsP := &ttsmock.Provider{
		Chunks:     [][]byte{make([]byte, 320), make([]byte, 320), make([]byte, 320), make([]byte, 320)},
		ChunkDelay: 40 * time.Millisecond,
	}
	f := newFixture(t, "", llmP, ttsP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	waitFor(t, "barge-in hook registration", func() bool { return f.gw.bargeHook() != nil })

	f.stt.Emit(stt.Event{Type: stt.EventFinal, Text: "what do you offer"})
	waitFor(t, "synthesis to start", func() bool { return f.tts.CallCount() == 1 })

	// The provider's own VAD signals barge-in on the control channel.
	f.gw.bargeHook()()
	waitFor(t, "synthesis interrupt", func() bool { return f.tts.Interrupted() == 1 })
	waitFor(t, "outbound clear", func() bool { return f.gw.clearedCount() >= 1 })
	waitFor(t, "listening status", func() bool { return f.sess.Status() == session.StatusListening })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil after cancel", err)
	}
}

func TestStreamClosedCommitsQueuedTranscript(t *testing.T) {
	f := newFixture(t, "", &llmmock.Provider{Replies: []string{"Hello."}}, &ttsmock.Provider{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	// The stream dies right after a partial; the finalised words must still
	// land in history even though the group is tearing down.
	f.stt.Emit(stt.Event{Type: stt.EventPartial, Text: "I need more time to"})
	f.stt.CloseStream()

	if err := <-done; err == nil {
		t.Fatal("Run returned nil, want error after media loss")
	}

	found := false
	for _, m := range f.sess.History() {
		if m.Role == "user" && m.Content == "I need more time to" {
			found = true
		}
	}
	if !found {
		t.Errorf("finalised partial missing from history: %+v", f.sess.History())
	}
}

func TestLLMFailureFallsBackThenBowsOut(t *testing.T) {
	llmP := &llmmock.Provider{StreamErr: errors.New("upstream unavailable")}
	f := newFixture(t, "", llmP, &ttsmock.Provider{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	// First failure: a recovery line, call keeps going.
	f.stt.Emit(stt.Event{Type: stt.EventFinal, Text: "yes"})
	waitFor(t, "fallback reply", func() bool { return f.tts.CallCount() == 1 })
	if f.sess.Status() == session.StatusEnded {
		t.Fatal("call ended after a single LLM failure")
	}

	// Second failure spends the budget: graceful goodbye, then hang up.
	f.stt.Emit(stt.Event{Type: stt.EventFinal, Text: "okay"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not bow out")
	}

	if got := f.p.Outcome(); got != convo.OutcomeError {
		t.Errorf("outcome = %s, want ERROR", got)
	}
	if f.llm.CallCount() != 2 {
		t.Errorf("llm calls = %d, want 2", f.llm.CallCount())
	}
	if f.tts.CallCount() != 2 {
		t.Errorf("tts calls = %d, want 2 (fallback + goodbye)", f.tts.CallCount())
	}
}

func TestSTTStreamClosedEndsCallAsFailure(t *testing.T) {
	f := newFixture(t, "", &llmmock.Provider{Replies: []string{"Hello."}}, &ttsmock.Provider{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	f.stt.CloseStream()

	err := <-done
	if err == nil {
		t.Fatal("Run returned nil, want error after media loss")
	}
	if got := f.p.Outcome(); got != convo.OutcomeFailed {
		t.Errorf("outcome = %s, want FAILED", got)
	}
}
