package session

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/dialcast/dialcast/internal/convo"
)

func TestPartialsReplaceNotConcatenate(t *testing.T) {
	s := New("c1", "t1", "camp1", "l1", "+15551234567")

	s.SetUserPartial("hel")
	s.SetUserPartial("hello th")
	s.SetUserPartial("hello there")

	if got := s.Snapshot().CurrentUserInput; got != "hello there" {
		t.Errorf("current input = %q, want last partial only", got)
	}
}

func TestCommitUserTurn(t *testing.T) {
	s := New("c1", "t1", "camp1", "l1", "+15551234567")
	s.SetUserPartial("yes pl")
	s.CommitUserTurn("yes please")

	snap := s.Snapshot()
	if snap.CurrentUserInput != "" {
		t.Error("current input should clear on commit")
	}
	if snap.TurnID != 1 {
		t.Errorf("turn id = %d, want 1", snap.TurnID)
	}
	if len(snap.History) != 1 || snap.History[0].Role != "user" || snap.History[0].Content != "yes please" {
		t.Errorf("history = %+v", snap.History)
	}
}

func TestDiscardAIPartialOnBargeIn(t *testing.T) {
	s := New("c1", "t1", "camp1", "l1", "+15551234567")
	s.SetAIPartial("Our offer includes")
	s.DiscardAIPartial()

	snap := s.Snapshot()
	if snap.CurrentAIResponse != "" {
		t.Error("aborted reply should be discarded")
	}
	if len(snap.History) != 0 {
		t.Error("aborted reply must not enter history")
	}
}

func TestTranscriptIdempotentFlush(t *testing.T) {
	s := New("c1", "t1", "camp1", "l1", "+15551234567")
	s.CommitUserTurn("Hello")
	s.CommitAgentTurn("Hi, is now a good time?", 2*time.Second)

	text1, json1, err := s.Transcript()
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	text2, json2, err := s.Transcript()
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if text1 != text2 || !bytes.Equal(json1, json2) {
		t.Error("repeated flushes must be byte-for-byte identical")
	}

	want := "user: Hello\nagent: Hi, is now a good time?"
	if text1 != want {
		t.Errorf("transcript text = %q, want %q", text1, want)
	}

	var turns []TranscriptTurn
	if err := json.Unmarshal(json1, &turns); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(turns) != 2 || turns[1].DurationMS != 2000 {
		t.Errorf("turns = %+v", turns)
	}
}

func TestSnapshotRoundTripPreservesFields(t *testing.T) {
	s := New("c1", "t1", "camp1", "l1", "+15551234567")
	s.Configure("v1", "en-US", "You are Sarah.")
	s.SetStatus(StatusListening)
	s.CommitUserTurn("Hello")
	s.SetConversation(convo.StateQualification, convo.Context{ObjectionCount: 1})

	raw, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	restored := FromSnapshot(snap).Snapshot()
	orig := s.Snapshot()
	if restored.CallID != orig.CallID || restored.VoiceID != orig.VoiceID ||
		restored.SystemPrompt != orig.SystemPrompt || restored.Status != orig.Status ||
		restored.TurnID != orig.TurnID || restored.ConvState != orig.ConvState ||
		restored.ConvContext != orig.ConvContext {
		t.Errorf("restored = %+v\norig = %+v", restored, orig)
	}
	if len(restored.History) != len(orig.History) {
		t.Errorf("history length %d != %d", len(restored.History), len(orig.History))
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	s := New("c1", "t1", "camp1", "l1", "+15551234567")

	r.Put(s)
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	if got := r.Get("c1"); got != s {
		t.Error("get returned wrong session")
	}
	if got := r.Get("unknown"); got != nil {
		t.Error("unknown call id should return nil")
	}
	if got := r.Remove("c1"); got != s {
		t.Error("remove returned wrong session")
	}
	if r.Len() != 0 {
		t.Errorf("len = %d after remove, want 0", r.Len())
	}
}
