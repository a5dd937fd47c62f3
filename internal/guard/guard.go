// Package guard protects the voice of the agent: it enforces the per-turn
// LLM timeout, cleans and truncates replies, validates them against campaign
// rules, and supplies human-sounding fallbacks when the model fails. The
// caller never speaks a raw model reply.
package guard

import (
	"errors"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dialcast/dialcast/internal/convo"
)

// ErrLLMTimeout is returned by the pipeline's LLM call when the per-turn
// deadline expires; guardrails match on it to pick a fallback.
var ErrLLMTimeout = errors.New("guard: llm timed out")

// DefaultTurnTimeout is the per-turn LLM deadline.
const DefaultTurnTimeout = 10 * time.Second

// maxFailuresBeforeGoodbye is how many consecutive LLM failures are tolerated
// before the call is driven to a graceful goodbye.
const maxFailuresBeforeGoodbye = 2

// Rules are the per-campaign response constraints.
type Rules struct {
	// MaxSentences caps the reply length; zero means 3.
	MaxSentences int
	// ForbiddenPhrases fail validation when present (case-insensitive).
	ForbiddenPhrases []string
	// RequiredTokens must all be present, used for compliance wording.
	RequiredTokens []string
	// TurnTimeout is the per-turn LLM deadline; zero means DefaultTurnTimeout.
	TurnTimeout time.Duration
}

// revealPhrases would tell the callee they are talking to a machine. They are
// always forbidden regardless of campaign rules.
var revealPhrases = []string{
	"as an ai", "i am an ai", "i'm an ai", "language model",
	"i am a bot", "i'm a bot", "i am automated", "an error occurred",
	"system error",
}

// boilerplatePrefixes are model throat-clearing that reads badly out loud.
var boilerplatePrefixes = []string{
	"sure, ", "sure! ", "certainly, ", "certainly! ", "of course, ",
	"great question. ", "i understand. ", "absolutely! ",
}

// stageDirection strips bracketed asides like "[pauses]" or "(laughs)".
var stageDirection = regexp.MustCompile(`\s*[\[(][^)\]]{0,40}[)\]]`)

// sentenceEnd finds sentence boundaries for truncation. Abbreviations will
// occasionally split early; for spoken text a slightly short reply is the
// cheap side of that trade.
var sentenceEnd = regexp.MustCompile(`[.!?]+(\s|$)`)

// fallbackPools are the per-state recovery utterances. Every entry must sound
// like a person; none may hint at automation.
var fallbackPools = map[convo.ConvState][]string{
	convo.StateGreeting: {
		"Sorry, could you say that again?",
		"Apologies, I didn't catch that. Could you repeat it?",
	},
	convo.StateQualification: {
		"Sorry, could you say that again?",
		"I missed that, sorry. Could you repeat it?",
		"Sorry, the line cut out for a second. What was that?",
	},
	convo.StateObjectionHandling: {
		"Sorry, I didn't quite catch that. Could you say it once more?",
		"I hear you. Could you repeat that last part for me?",
	},
	convo.StateClosing: {
		"Sorry, could you repeat that?",
		"Apologies, I missed that. One more time?",
	},
	convo.StateTransfer: {
		"One moment please, I'm connecting you now.",
	},
	convo.StateGoodbye: {
		"Thanks so much for your time. Have a great day!",
	},
}

// goodbyePool is used once the failure budget is spent: the agent bows out
// gracefully instead of stumbling again.
var goodbyePool = []string{
	"Let me have a colleague call you back shortly. Thanks so much for your time!",
	"I'll have someone from our team follow up with you. Have a great day!",
}

// Guardrails wraps one call's response hygiene. Safe for concurrent use,
// though the turn handler is the only expected caller.
type Guardrails struct {
	rules Rules

	mu       sync.Mutex
	failures int
	rng      *rand.Rand
}

// New builds Guardrails for one call.
func New(rules Rules) *Guardrails {
	if rules.MaxSentences <= 0 {
		rules.MaxSentences = 3
	}
	if rules.TurnTimeout <= 0 {
		rules.TurnTimeout = DefaultTurnTimeout
	}
	return &Guardrails{
		rules: rules,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// TurnTimeout returns the per-turn LLM deadline.
func (g *Guardrails) TurnTimeout() time.Duration { return g.rules.TurnTimeout }

// Process cleans, truncates, and validates a raw model reply. On success the
// failure counter relaxes by one. A validation failure counts as an LLM
// failure and returns a fallback via Fallback.
func (g *Guardrails) Process(raw string, state convo.ConvState) (string, error) {
	cleaned := Clean(raw)
	cleaned = Truncate(cleaned, g.rules.MaxSentences)
	if err := g.validate(cleaned); err != nil {
		return "", err
	}

	g.mu.Lock()
	if g.failures > 0 {
		g.failures--
	}
	g.mu.Unlock()
	return cleaned, nil
}

// validate applies the always-on reveal check plus campaign rules.
func (g *Guardrails) validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("guard: empty response")
	}
	lower := strings.ToLower(text)
	for _, p := range revealPhrases {
		if strings.Contains(lower, p) {
			return errors.New("guard: response reveals automation")
		}
	}
	for _, p := range g.rules.ForbiddenPhrases {
		if strings.Contains(lower, strings.ToLower(p)) {
			return errors.New("guard: response contains forbidden phrase")
		}
	}
	for _, tok := range g.rules.RequiredTokens {
		if !strings.Contains(lower, strings.ToLower(tok)) {
			return errors.New("guard: response missing required token")
		}
	}
	return nil
}

// Fallback records one LLM failure and returns a recovery utterance for the
// current state. The second return is true when the failure budget is spent
// and the caller must drive the conversation to GOODBYE with outcome ERROR.
func (g *Guardrails) Fallback(state convo.ConvState) (string, bool) {
	g.mu.Lock()
	g.failures++
	spent := g.failures >= maxFailuresBeforeGoodbye
	var pool []string
	if spent {
		pool = goodbyePool
	} else {
		pool = fallbackPools[state]
		if len(pool) == 0 {
			pool = fallbackPools[convo.StateQualification]
		}
	}
	text := pool[g.rng.Intn(len(pool))]
	g.mu.Unlock()
	return text, spent
}

// Failures returns the current consecutive-failure count.
func (g *Guardrails) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

// Clean strips boilerplate prefixes, stage directions, quotes, and speaker
// labels that models habitually emit.
func Clean(raw string) string {
	text := strings.TrimSpace(raw)
	text = stageDirection.ReplaceAllString(text, "")

	// Models sometimes prefix replies with a speaker label.
	for _, label := range []string{"Assistant:", "Agent:", "AI:"} {
		text = strings.TrimSpace(strings.TrimPrefix(text, label))
	}

	lower := strings.ToLower(text)
	for _, p := range boilerplatePrefixes {
		if strings.HasPrefix(lower, p) {
			text = strings.TrimSpace(text[len(p):])
			break
		}
	}

	text = strings.Trim(text, `"`)
	return strings.TrimSpace(text)
}

// Truncate caps text at n sentences.
func Truncate(text string, n int) string {
	if n <= 0 {
		return text
	}
	idxs := sentenceEnd.FindAllStringIndex(text, -1)
	if len(idxs) <= n {
		return text
	}
	return strings.TrimSpace(text[:idxs[n-1][1]])
}
