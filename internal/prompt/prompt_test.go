package prompt

import (
	"strings"
	"testing"

	"github.com/dialcast/dialcast/internal/convo"
)

func testParams() Params {
	return Params{
		AgentName:       "Sarah",
		CompanyName:     "Acme Dental",
		GoalDescription: "confirm the patient's appointment",
		MaxSentences:    2,
		DoNotSay:        []string{"AI", "bot"},
	}
}

func TestRenderComposesBaseAndOverlay(t *testing.T) {
	m, err := NewManager(testParams(), Overrides{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	out, err := m.Render(convo.StateQualification, TurnData{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "Sarah") || !strings.Contains(out, "Acme Dental") {
		t.Error("base identity missing from rendered prompt")
	}
	if !strings.Contains(out, "at most 2 sentences") {
		t.Error("max sentences rule missing")
	}
	if !strings.Contains(out, `Never say: "AI"`) {
		t.Error("do-not-say rules missing")
	}
	if !strings.Contains(out, "qualifying question") {
		t.Error("state overlay missing")
	}
	if !strings.Contains(out, "\n\n") {
		t.Error("base and overlay should be separated by a blank line")
	}
}

func TestObjectionOverlayReceivesTurnData(t *testing.T) {
	m, err := NewManager(testParams(), Overrides{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := m.Render(convo.StateObjectionHandling, TurnData{
		UserConcern:    "it costs too much",
		ObjectionCount: 1,
		MaxObjections:  2,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "it costs too much") {
		t.Error("user concern missing from objection overlay")
	}
	if !strings.Contains(out, "objection 1 of 2") {
		t.Error("objection counters missing from overlay")
	}
}

func TestCampaignOverrides(t *testing.T) {
	m, err := NewManager(testParams(), Overrides{
		SystemPrompt:   "Custom prompt for {{.CompanyName}}. Product: {{.product}}.",
		Greeting:       "Hi, this is Sarah from Acme Dental.",
		ComplianceText: "This call may be recorded.",
		MaxSentences:   4,
		ContextVariables: map[string]string{
			"product": "whitening plan",
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	out, err := m.Render(convo.StateGreeting, TurnData{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "Custom prompt for Acme Dental") {
		t.Error("system prompt override not applied")
	}
	if !strings.Contains(out, "whitening plan") {
		t.Error("context variable not injected")
	}
	if !strings.Contains(out, "This call may be recorded.") {
		t.Error("compliance text not appended")
	}
	if m.Greeting() != "Hi, this is Sarah from Acme Dental." {
		t.Errorf("greeting = %q", m.Greeting())
	}
}

func TestEveryStateHasAnOverlay(t *testing.T) {
	m, err := NewManager(testParams(), Overrides{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	states := []convo.ConvState{
		convo.StateGreeting, convo.StateQualification,
		convo.StateObjectionHandling, convo.StateClosing,
		convo.StateTransfer, convo.StateGoodbye,
	}
	for _, s := range states {
		out, err := m.Render(s, TurnData{})
		if err != nil {
			t.Fatalf("render %s: %v", s, err)
		}
		if !strings.Contains(out, "\n\n") {
			t.Errorf("state %s rendered without an overlay", s)
		}
	}
}

func TestBadTemplateFailsAtConstruction(t *testing.T) {
	_, err := NewManager(testParams(), Overrides{SystemPrompt: "{{.Broken"})
	if err == nil {
		t.Error("expected parse error at construction, not at render time")
	}
}
