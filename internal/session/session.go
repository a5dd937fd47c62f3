// Package session holds live call sessions keyed by call ID. A session has an
// in-memory form owning runtime resources, plus a serialisable snapshot
// (history, conversation state, counters) so a reconnecting media channel can
// re-attach after a process restart.
package session

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/dialcast/dialcast/internal/convo"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
	StatusEnding     Status = "ending"
	StatusEnded      Status = "ended"
	StatusError      Status = "error"
)

// Message is one entry of conversation history.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// TranscriptTurn is one spoken turn as persisted.
type TranscriptTurn struct {
	Speaker    string    `json:"speaker"` // "agent" or "user"
	Text       string    `json:"text"`
	TS         time.Time `json:"ts"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

// Snapshot is the serialisable form of a session. Runtime-only resources
// (queues, barge-in signal, recording buffer, gateway handles) are excluded.
type Snapshot struct {
	CallID            string         `json:"call_id"`
	TenantID          string         `json:"tenant_id"`
	CampaignID        string         `json:"campaign_id"`
	LeadID            string         `json:"lead_id"`
	PhoneNumber       string         `json:"phone_number"`
	VoiceID           string         `json:"voice_id"`
	Language          string         `json:"language"`
	SystemPrompt      string         `json:"system_prompt"`
	Status            Status         `json:"status"`
	History           []Message      `json:"history"`
	CurrentUserInput  string         `json:"current_user_input"`
	CurrentAIResponse string         `json:"current_ai_response"`
	TurnID            int            `json:"turn_id"`
	StartedAt         time.Time      `json:"started_at"`
	LastActivityAt    time.Time      `json:"last_activity_at"`
	ConvState         convo.ConvState `json:"conversation_state"`
	ConvContext       convo.Context  `json:"conversation_context"`
}

// Session is the runtime state of one live call. All mutating methods take
// the session lock; the orchestrator's task set is the only expected writer,
// but the store may snapshot concurrently.
type Session struct {
	mu sync.Mutex
	s  Snapshot

	transcript []TranscriptTurn

	nowFunc func() time.Time
}

// New creates a session in the connecting state.
func New(callID, tenantID, campaignID, leadID, phone string) *Session {
	now := time.Now()
	return &Session{
		s: Snapshot{
			CallID:         callID,
			TenantID:       tenantID,
			CampaignID:     campaignID,
			LeadID:         leadID,
			PhoneNumber:    phone,
			Status:         StatusConnecting,
			StartedAt:      now,
			LastActivityAt: now,
			ConvState:      convo.StateGreeting,
		},
		nowFunc: time.Now,
	}
}

// FromSnapshot rebuilds a session from its serialised form, for re-attach.
func FromSnapshot(s Snapshot) *Session {
	return &Session{s: s, nowFunc: time.Now}
}

// CallID returns the session's call ID.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s.CallID
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s.Status
}

// SetStatus advances the lifecycle state and touches the activity clock.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	s.s.Status = st
	s.s.LastActivityAt = s.nowFunc()
	s.mu.Unlock()
}

// Configure sets voice, language, and system prompt before the pipeline runs.
func (s *Session) Configure(voiceID, language, systemPrompt string) {
	s.mu.Lock()
	s.s.VoiceID = voiceID
	s.s.Language = language
	s.s.SystemPrompt = systemPrompt
	s.mu.Unlock()
}

// SetUserPartial replaces the in-flight user utterance. Partials supersede;
// they never concatenate.
func (s *Session) SetUserPartial(text string) {
	s.mu.Lock()
	s.s.CurrentUserInput = text
	s.s.LastActivityAt = s.nowFunc()
	s.mu.Unlock()
}

// CommitUserTurn finalises the current user utterance into history and the
// transcript, and bumps the turn counter.
func (s *Session) CommitUserTurn(text string) {
	now := s.nowFunc()
	s.mu.Lock()
	s.s.CurrentUserInput = ""
	s.s.TurnID++
	s.s.LastActivityAt = now
	s.s.History = append(s.s.History, Message{Role: "user", Content: text, TS: now})
	s.transcript = append(s.transcript, TranscriptTurn{Speaker: "user", Text: text, TS: now})
	s.mu.Unlock()
}

// SetAIPartial replaces the in-flight agent reply.
func (s *Session) SetAIPartial(text string) {
	s.mu.Lock()
	s.s.CurrentAIResponse = text
	s.mu.Unlock()
}

// DiscardAIPartial drops an aborted reply without touching history. Used on
// barge-in: the interrupted utterance never happened as far as the
// conversation record is concerned.
func (s *Session) DiscardAIPartial() {
	s.mu.Lock()
	s.s.CurrentAIResponse = ""
	s.mu.Unlock()
}

// CommitAgentTurn finalises the agent's reply into history and the transcript.
func (s *Session) CommitAgentTurn(text string, spokenFor time.Duration) {
	now := s.nowFunc()
	s.mu.Lock()
	s.s.CurrentAIResponse = ""
	s.s.LastActivityAt = now
	s.s.History = append(s.s.History, Message{Role: "assistant", Content: text, TS: now})
	s.transcript = append(s.transcript, TranscriptTurn{
		Speaker:    "agent",
		Text:       text,
		TS:         now,
		DurationMS: spokenFor.Milliseconds(),
	})
	s.mu.Unlock()
}

// SetConversation records the engine's state and context after a turn.
func (s *Session) SetConversation(state convo.ConvState, ctx convo.Context) {
	s.mu.Lock()
	s.s.ConvState = state
	s.s.ConvContext = ctx
	s.mu.Unlock()
}

// History returns a copy of the conversation history.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.s.History))
	copy(out, s.s.History)
	return out
}

// Snapshot returns the serialisable form of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.s
	snap.History = make([]Message, len(s.s.History))
	copy(snap.History, s.s.History)
	return snap
}

// IdleFor reports how long the session has been without activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowFunc().Sub(s.s.LastActivityAt)
}

// Transcript returns the newline-joined text rendering and the JSON form of
// the transcript. The text form is derived from the JSON form, never
// maintained separately, so repeated flushes are byte-for-byte identical.
func (s *Session) Transcript() (text string, asJSON []byte, err error) {
	s.mu.Lock()
	turns := make([]TranscriptTurn, len(s.transcript))
	copy(turns, s.transcript)
	s.mu.Unlock()

	asJSON, err = json.Marshal(turns)
	if err != nil {
		return "", nil, err
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Speaker+": "+t.Text)
	}
	return strings.Join(lines, "\n"), asJSON, nil
}

// TurnCount returns the number of completed user turns.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s.TurnID
}
