// Package convo implements the goal-tracking conversation engine: intent
// classification over final transcripts, the state machine that drives prompt
// selection, and call outcome determination.
package convo

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// UserIntent classifies a single user utterance.
type UserIntent string

const (
	IntentYes          UserIntent = "YES"
	IntentNo           UserIntent = "NO"
	IntentUncertain    UserIntent = "UNCERTAIN"
	IntentObjection    UserIntent = "OBJECTION"
	IntentRequestHuman UserIntent = "REQUEST_HUMAN"
	IntentRequestInfo  UserIntent = "REQUEST_INFO"
	IntentGreeting     UserIntent = "GREETING"
	IntentGoodbye      UserIntent = "GOODBYE"
	IntentCallback     UserIntent = "CALLBACK"
	IntentUnknown      UserIntent = "UNKNOWN"
)

// intentPattern groups match phrases under one intent. Phrases containing a
// space are matched as substrings of the normalised text; single words are
// matched token-wise with typo tolerance.
type intentPattern struct {
	intent  UserIntent
	phrases []string
	words   []string
}

// intentPriority is the fixed matching order. Specific intents shadow generic
// ones: a "no thanks, bye" classifies as GOODBYE, not NO, because GOODBYE is
// tried first.
var intentPriority = []intentPattern{
	{
		intent: IntentRequestHuman,
		phrases: []string{
			"speak to a human", "talk to a human", "real person",
			"speak to someone", "talk to someone", "speak to a person",
			"talk to an agent", "speak to an agent", "transfer me",
			"a manager", "customer service",
		},
		words: []string{"representative", "operator", "human"},
	},
	{
		intent: IntentGoodbye,
		phrases: []string{
			"good bye", "hang up", "have a good day", "gotta go",
			"got to go", "take me off", "stop calling", "do not call",
			"don't call",
		},
		words: []string{"goodbye", "bye"},
	},
	{
		intent: IntentCallback,
		phrases: []string{
			"call me back", "call back", "call me later", "call later",
			"another time", "try me later", "not a good time",
			"bad time", "call tomorrow", "in a meeting", "i'm driving",
			"im driving", "busy right now",
		},
	},
	{
		intent: IntentNo,
		phrases: []string{
			"no thanks", "no thank you", "not interested",
			"don't want", "do not want", "not for me",
			"no way", "absolutely not",
		},
		words: []string{"no", "nope", "nah"},
	},
	{
		intent: IntentUncertain,
		phrases: []string{
			"not sure", "i don't know", "i dont know", "let me think",
			"have to think", "need to think", "i guess", "hard to say",
			"depends",
		},
		words: []string{"maybe", "possibly", "perhaps", "hmm"},
	},
	{
		intent: IntentObjection,
		phrases: []string{
			"too expensive", "costs too much", "can't afford",
			"cant afford", "already have", "don't need", "dont need",
			"do not need", "don't trust", "is this a scam", "sounds like a scam",
			"waste of time", "not worth",
		},
	},
	{
		intent: IntentGreeting,
		phrases: []string{
			"good morning", "good afternoon", "good evening",
			"who is this", "who's this", "who's calling", "who is calling",
		},
		words: []string{"hello", "hi", "hey"},
	},
	{
		intent: IntentYes,
		phrases: []string{
			"yes please", "of course", "that works", "sounds good",
			"go ahead", "why not", "i'm interested", "im interested",
			"that's fine", "thats fine", "works for me",
		},
		words: []string{"yes", "yeah", "yep", "sure", "ok", "okay", "definitely", "absolutely", "correct", "right"},
	},
	{
		intent: IntentRequestInfo,
		phrases: []string{
			"tell me more", "more information", "how much", "what is this",
			"what's this", "what is it", "how does it work", "more details",
			"send me", "what do you mean",
		},
	},
}

// fuzzyMinLen is the shortest word eligible for edit-distance matching;
// shorter words must match exactly or a one-letter slip would turn "not"
// into "no".
const fuzzyMinLen = 5

// DetectIntent classifies text against the pattern groups in priority order.
// The first matching intent wins; no match returns UNKNOWN.
func DetectIntent(text string) UserIntent {
	norm := normalize(text)
	if norm == "" {
		return IntentUnknown
	}
	tokens := strings.Fields(norm)

	for _, p := range intentPriority {
		if p.matches(norm, tokens) {
			return p.intent
		}
	}
	return IntentUnknown
}

func (p intentPattern) matches(norm string, tokens []string) bool {
	for _, phrase := range p.phrases {
		if strings.Contains(norm, phrase) {
			return true
		}
	}
	for _, w := range p.words {
		for _, tok := range tokens {
			if tok == w {
				return true
			}
			// STT output misspells; tolerate one edit on longer words.
			if len(w) >= fuzzyMinLen && len(tok) >= fuzzyMinLen &&
				matchr.Levenshtein(tok, w) <= 1 {
				return true
			}
		}
	}
	return false
}

// normalize lowercases and strips everything except letters, digits,
// apostrophes, and spaces so punctuation never blocks a phrase match.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
