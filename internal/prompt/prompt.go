// Package prompt renders state-conditional system prompts for the voice
// agent. A base template carries the agent's identity and goal; per-state
// overlays add phase-specific instructions; campaign overrides can replace
// either layer and inject extra template variables.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/dialcast/dialcast/internal/convo"
)

// baseTemplate is the default identity-and-goal layer. Campaigns usually
// replace it wholesale via Overrides.SystemPrompt.
const baseTemplate = `You are {{.AgentName}}, calling on behalf of {{.CompanyName}}.
Your goal: {{.GoalDescription}}
Tone: {{.Tone}}.

Rules:
- Respond in at most {{.MaxSentences}} sentences.
- Never use filler tokens or stage directions.
- Do not open with a greeting; the greeting already happened.
{{- range .DoNotSay}}
- Never say: "{{.}}"
{{- end}}`

// stateOverlays hold per-phase instructions appended below the base.
var stateOverlays = map[convo.ConvState]string{
	convo.StateGreeting: `The call just connected. Confirm you are speaking ` +
		`with the right person and state why you are calling, briefly.`,
	convo.StateQualification: `Ask the qualifying question directly. ` +
		`Keep it to one question per turn.`,
	convo.StateObjectionHandling: `The person raised a concern: "{{.UserConcern}}". ` +
		`This is objection {{.ObjectionCount}} of {{.MaxObjections}}. ` +
		`Acknowledge it genuinely, answer it once, and move back toward the goal. ` +
		`Do not argue.`,
	convo.StateClosing: `They are interested. Confirm the specifics and ` +
		`summarise what happens next in one sentence.`,
	convo.StateTransfer: `Tell them you are connecting them with a colleague ` +
		`now, and thank them for their patience.`,
	convo.StateGoodbye: `Wrap up warmly in one or two sentences and say goodbye. ` +
		`Do not introduce new topics.`,
}

// Params feed the base template.
type Params struct {
	AgentName       string
	CompanyName     string
	GoalDescription string
	Tone            string
	MaxSentences    int
	DoNotSay        []string
}

// Overrides are campaign-level replacements applied on top of the defaults.
// Zero values leave the corresponding default in place.
type Overrides struct {
	SystemPrompt     string            // replaces the base template entirely
	Greeting         string            // opening line spoken before turn 1
	ComplianceText   string            // appended verbatim to every prompt
	Temperature      float64           // forwarded to the LLM layer
	MaxTokens        int               // forwarded to the LLM layer
	MaxSentences     int               // overrides Params.MaxSentences
	ContextVariables map[string]string // extra template namespace entries
}

// Manager renders prompts for one campaign. Safe for concurrent use after
// construction; all fields are read-only once built.
type Manager struct {
	params    Params
	overrides Overrides
	base      *template.Template
	overlays  map[convo.ConvState]*template.Template
}

// NewManager parses the base template (or the campaign's replacement) and all
// state overlays. Template errors surface here, at campaign load, never
// mid-call.
func NewManager(params Params, overrides Overrides) (*Manager, error) {
	if params.MaxSentences <= 0 {
		params.MaxSentences = 3
	}
	if overrides.MaxSentences > 0 {
		params.MaxSentences = overrides.MaxSentences
	}
	if params.Tone == "" {
		params.Tone = "warm, professional, concise"
	}

	baseSrc := baseTemplate
	if overrides.SystemPrompt != "" {
		baseSrc = overrides.SystemPrompt
	}
	base, err := template.New("base").Option("missingkey=zero").Parse(baseSrc)
	if err != nil {
		return nil, fmt.Errorf("prompt: parse base template: %w", err)
	}

	overlays := make(map[convo.ConvState]*template.Template, len(stateOverlays))
	for state, src := range stateOverlays {
		t, err := template.New(string(state)).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("prompt: parse %s overlay: %w", state, err)
		}
		overlays[state] = t
	}

	return &Manager{
		params:    params,
		overrides: overrides,
		base:      base,
		overlays:  overlays,
	}, nil
}

// Greeting returns the campaign's opening line, or empty when the LLM should
// produce the first utterance.
func (m *Manager) Greeting() string {
	return m.overrides.Greeting
}

// Temperature returns the campaign's temperature override, or zero.
func (m *Manager) Temperature() float64 { return m.overrides.Temperature }

// MaxTokens returns the campaign's max-token override, or zero.
func (m *Manager) MaxTokens() int { return m.overrides.MaxTokens }

// TurnData carries the per-turn values available to overlays.
type TurnData struct {
	UserConcern    string
	ObjectionCount int
	MaxObjections  int
}

// Render composes `<base>\n\n<state-overlay>` for the given state. Campaign
// context variables are merged into the namespace under their own names.
func (m *Manager) Render(state convo.ConvState, turn TurnData) (string, error) {
	ns := map[string]any{
		"AgentName":       m.params.AgentName,
		"CompanyName":     m.params.CompanyName,
		"GoalDescription": m.params.GoalDescription,
		"Tone":            m.params.Tone,
		"MaxSentences":    m.params.MaxSentences,
		"DoNotSay":        m.params.DoNotSay,
		"UserConcern":     turn.UserConcern,
		"ObjectionCount":  turn.ObjectionCount,
		"MaxObjections":   turn.MaxObjections,
	}
	for k, v := range m.overrides.ContextVariables {
		ns[k] = v
	}

	var b strings.Builder
	if err := m.base.Execute(&b, ns); err != nil {
		return "", fmt.Errorf("prompt: render base: %w", err)
	}

	if overlay, ok := m.overlays[state]; ok {
		b.WriteString("\n\n")
		if err := overlay.Execute(&b, ns); err != nil {
			return "", fmt.Errorf("prompt: render %s overlay: %w", state, err)
		}
	}

	if m.overrides.ComplianceText != "" {
		b.WriteString("\n\n")
		b.WriteString(m.overrides.ComplianceText)
	}
	return b.String(), nil
}
