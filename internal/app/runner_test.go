package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/convo"
	"github.com/dialcast/dialcast/internal/gateway"
	"github.com/dialcast/dialcast/internal/observe"
	"github.com/dialcast/dialcast/internal/recording"
	"github.com/dialcast/dialcast/internal/session"
	"github.com/dialcast/dialcast/internal/store"
	"github.com/dialcast/dialcast/pkg/audio"
	llmmock "github.com/dialcast/dialcast/pkg/provider/llm/mock"
	sttmock "github.com/dialcast/dialcast/pkg/provider/stt/mock"
	ttsmock "github.com/dialcast/dialcast/pkg/provider/tts/mock"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type finalizeArgs struct {
	callID        string
	status        string
	outcome       convo.CallOutcome
	recordingPath string
}

type fakeCallStore struct {
	mu sync.Mutex

	campaign *store.Campaign
	call     *store.CallRecord

	transcripts []string
	finalized   []finalizeArgs
	recordings  []string
	leadStatus  []string
}

func (s *fakeCallStore) GetCampaign(_ context.Context, _, _ string) (*store.Campaign, error) {
	return s.campaign, nil
}

func (s *fakeCallStore) GetCall(_ context.Context, _, _ string) (*store.CallRecord, error) {
	return s.call, nil
}

func (s *fakeCallStore) FlushTranscript(_ context.Context, _, _, text string, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, text)
	return nil
}

func (s *fakeCallStore) FinalizeCall(_ context.Context, _, callID, status string, outcome convo.CallOutcome, _ time.Time, recordingPath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, finalizeArgs{callID, status, outcome, recordingPath})
	return 42, nil
}

func (s *fakeCallStore) SaveRecording(_ context.Context, _, _, path string, _ int, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings = append(s.recordings, path)
	return nil
}

func (s *fakeCallStore) UpdateLeadAfterCall(_ context.Context, _, _, status string, _ convo.CallOutcome, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leadStatus = append(s.leadStatus, status)
	return nil
}

type fakeCompleterApp struct {
	mu       sync.Mutex
	keys     []string
	outcomes []convo.CallOutcome
}

func (c *fakeCompleterApp) HandleCallCompletion(_ context.Context, key string, outcome convo.CallOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	c.outcomes = append(c.outcomes, outcome)
	return nil
}

// fakeGateway is a minimal media gateway: one known call with an input queue
// and a recording buffer.
type fakeGateway struct {
	mu        sync.Mutex
	callID    string
	input     *gateway.BoundedQueue
	recording *audio.RecordingBuffer
	ended     []string
}

func newFakeGateway(callID string) *fakeGateway {
	return &fakeGateway{
		callID:    callID,
		input:     gateway.NewBoundedQueue(8),
		recording: audio.NewRecordingBuffer(16000),
	}
}

func (g *fakeGateway) SendAudio(string, []byte) {}

func (g *fakeGateway) AudioQueue(callID string) *gateway.BoundedQueue {
	if callID != g.callID {
		return nil
	}
	return g.input
}

func (g *fakeGateway) ClearOutbound(string) {}

func (g *fakeGateway) SendControl(context.Context, string, gateway.ControlMessage) {}

func (g *fakeGateway) SetBargeIn(string, func()) {}

func (g *fakeGateway) RecordingBuffer(callID string) *audio.RecordingBuffer {
	if callID != g.callID {
		return nil
	}
	return g.recording
}

func (g *fakeGateway) ClearRecordingBuffer(string) {}

func (g *fakeGateway) EndCall(callID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ended = append(g.ended, callID)
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func newTestRunner(t *testing.T, st *fakeCallStore) *runner {
	t.Helper()
	blobs, err := recording.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("dir store: %v", err)
	}
	return newRunner(st, session.NewRegistry(),
		&sttmock.Provider{}, &llmmock.Provider{Replies: []string{"Hi there."}}, &ttsmock.Provider{},
		recording.NewUploader(blobs), observe.DefaultMetrics(),
		config.AgentConfig{Name: "Alex", Company: "Acme"},
		config.PipelineConfig{Language: "en-US"}, quietLog())
}

func testMeta() gateway.CallMetadata {
	return gateway.CallMetadata{
		CallID:      "call-1",
		TenantID:    "tenant-1",
		CampaignID:  "camp-1",
		LeadID:      "lead-1",
		PhoneNumber: "+15550001111",
	}
}

func TestFinishCallPersistsEverything(t *testing.T) {
	st := &fakeCallStore{
		call: &store.CallRecord{ID: "call-1", ExternalCallUUID: "ext-9"},
	}
	comp := &fakeCompleterApp{}
	r := newTestRunner(t, st)
	r.bindCompleter(comp)

	gw := newFakeGateway("call-1")
	gw.recording.Append(make([]byte, 3200))
	r.bindGateway(gw)

	sess := session.New("call-1", "tenant-1", "camp-1", "lead-1", "+15550001111")
	sess.CommitUserTurn("hello")
	r.sessions.Put(sess)

	r.finishCall(testMeta(), gw, convo.OutcomeSuccess, nil, nil)

	if len(st.finalized) != 1 {
		t.Fatalf("finalized = %d, want 1", len(st.finalized))
	}
	fin := st.finalized[0]
	if fin.status != "completed" || fin.outcome != convo.OutcomeSuccess {
		t.Errorf("finalized = %+v", fin)
	}
	if fin.recordingPath == "" || !strings.Contains(fin.recordingPath, "call-1") {
		t.Errorf("recording path = %q", fin.recordingPath)
	}
	if len(st.recordings) != 1 {
		t.Errorf("recordings = %v", st.recordings)
	}
	if len(st.transcripts) != 1 || !strings.Contains(st.transcripts[0], "hello") {
		t.Errorf("transcripts = %v", st.transcripts)
	}
	if len(st.leadStatus) != 1 || st.leadStatus[0] != "contacted" {
		t.Errorf("lead status = %v", st.leadStatus)
	}
	if len(comp.keys) != 1 || comp.keys[0] != "ext-9" {
		t.Errorf("completion keys = %v, want the external UUID", comp.keys)
	}
	if r.sessions.Len() != 0 {
		t.Error("session must be removed after finish")
	}
	if len(gw.ended) != 1 {
		t.Error("gateway media must be torn down")
	}
}

func TestFinishCallWithoutRecordOrRecording(t *testing.T) {
	st := &fakeCallStore{} // GetCall returns nil: no placed record
	comp := &fakeCompleterApp{}
	r := newTestRunner(t, st)
	r.bindCompleter(comp)
	gw := newFakeGateway("call-1") // empty recording buffer
	r.bindGateway(gw)

	r.finishCall(testMeta(), gw, convo.OutcomeNoAnswer, nil, nil)

	if len(st.recordings) != 0 {
		t.Errorf("recordings = %v, want none for an empty buffer", st.recordings)
	}
	if len(comp.keys) != 1 || comp.keys[0] != "call-1" {
		t.Errorf("completion keys = %v, want fallback to the call ID", comp.keys)
	}
	if st.leadStatus[0] != "called" {
		t.Errorf("lead status = %v", st.leadStatus)
	}
}

func TestLeadStatusFor(t *testing.T) {
	cases := []struct {
		outcome convo.CallOutcome
		want    string
	}{
		{convo.OutcomeSuccess, "contacted"},
		{convo.OutcomeGoalAchieved, "contacted"},
		{convo.OutcomeRejected, "dnc"},
		{convo.OutcomeSpam, "dnc"},
		{convo.OutcomeNoAnswer, "called"},
		{convo.OutcomeDeclined, "called"},
	}
	for _, tc := range cases {
		if got := leadStatusFor(tc.outcome); got != tc.want {
			t.Errorf("leadStatusFor(%s) = %q, want %q", tc.outcome, got, tc.want)
		}
	}
}

func TestOnCallStartedMediaDropFinalises(t *testing.T) {
	st := &fakeCallStore{
		campaign: &store.Campaign{
			ID: "camp-1", TenantID: "tenant-1",
			Greeting: "Hello!", GoalDescription: "schedule a demo",
		},
	}
	r := newTestRunner(t, st)
	gw := newFakeGateway("call-1")
	r.bindGateway(gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.bindContext(ctx)

	r.OnCallStarted(testMeta())
	if r.sessions.Get("call-1") == nil {
		t.Fatal("session must be registered while the call runs")
	}

	// Media drops: the pipeline context unwinds and the finish chain runs.
	r.OnCallEnded("call-1", "peer closed")
	r.Wait()

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.finalized) != 1 {
		t.Fatalf("finalized = %d, want 1", len(st.finalized))
	}
	if r.sessions.Len() != 0 {
		t.Error("session must be removed after the call ends")
	}
}
