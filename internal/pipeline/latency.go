package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// latencyBudget is the per-turn speech-end to first-audio target. Turns over
// budget are flagged, never dropped.
const latencyBudget = 700 * time.Millisecond

// TurnLatency is the per-turn timing breakdown.
type TurnLatency struct {
	Turn       int
	SpeechEnd  time.Time
	LLMStart   time.Time
	LLMEnd     time.Time
	TTSStart   time.Time
	FirstAudio time.Time
}

// Total is the speech-end to first-audio span, the number the callee feels.
func (t TurnLatency) Total() time.Duration {
	if t.SpeechEnd.IsZero() || t.FirstAudio.IsZero() {
		return 0
	}
	return t.FirstAudio.Sub(t.SpeechEnd)
}

// OverBudget reports whether the turn blew the latency budget.
func (t TurnLatency) OverBudget() bool {
	total := t.Total()
	return total > 0 && total > latencyBudget
}

// latencyTracker accumulates per-turn measurements for one call.
type latencyTracker struct {
	mu      sync.Mutex
	log     *slog.Logger
	current TurnLatency
	turns   []TurnLatency
}

func newLatencyTracker(log *slog.Logger) *latencyTracker {
	return &latencyTracker{log: log}
}

func (l *latencyTracker) speechEnd(turn int) {
	l.mu.Lock()
	l.current = TurnLatency{Turn: turn, SpeechEnd: time.Now()}
	l.mu.Unlock()
}

func (l *latencyTracker) llmStart() {
	l.mu.Lock()
	l.current.LLMStart = time.Now()
	l.mu.Unlock()
}

func (l *latencyTracker) llmEnd() {
	l.mu.Lock()
	l.current.LLMEnd = time.Now()
	l.mu.Unlock()
}

func (l *latencyTracker) ttsStart() {
	l.mu.Lock()
	l.current.TTSStart = time.Now()
	l.mu.Unlock()
}

// firstAudio closes out the current turn's measurement.
func (l *latencyTracker) firstAudio() {
	l.mu.Lock()
	if l.current.SpeechEnd.IsZero() || !l.current.FirstAudio.IsZero() {
		l.mu.Unlock()
		return
	}
	l.current.FirstAudio = time.Now()
	turn := l.current
	l.turns = append(l.turns, turn)
	l.mu.Unlock()

	if turn.OverBudget() {
		l.log.Warn("turn latency over budget",
			"turn", turn.Turn,
			"total_ms", turn.Total().Milliseconds(),
			"budget_ms", latencyBudget.Milliseconds())
	}
}

// Turns returns all completed measurements.
func (l *latencyTracker) Turns() []TurnLatency {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TurnLatency, len(l.turns))
	copy(out, l.turns)
	return out
}
