package deepgram

import (
	"strings"
	"testing"

	"github.com/dialcast/dialcast/pkg/provider/stt"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestBuildURLDefaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	u, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	for _, want := range []string{
		"model=nova-3",
		"language=en",
		"encoding=linear16",
		"sample_rate=16000",
		"interim_results=true",
		"vad_events=true",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("URL %q missing %q", u, want)
		}
	}
}

func TestBuildURLOverrides(t *testing.T) {
	p, _ := New("key", WithModel("base"), WithLanguage("de"))
	u, err := p.buildURL(stt.StreamConfig{SampleRate: 8000, Language: "fr", Model: "nova-2"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	// Per-stream config beats provider defaults.
	if !strings.Contains(u, "model=nova-2") || !strings.Contains(u, "language=fr") || !strings.Contains(u, "sample_rate=8000") {
		t.Errorf("URL %q does not reflect stream config overrides", u)
	}
}

func TestParseResponse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want stt.Event
		ok   bool
	}{
		{
			name: "partial",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello wor","confidence":0.8}]}}`,
			want: stt.Event{Type: stt.EventPartial, Text: "hello wor"},
			ok:   true,
		},
		{
			name: "final",
			raw:  `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.95}]}}`,
			want: stt.Event{Type: stt.EventFinal, Text: "hello world"},
			ok:   true,
		},
		{
			name: "speech started",
			raw:  `{"type":"SpeechStarted","timestamp":1.2}`,
			want: stt.Event{Type: stt.EventStartOfTurn},
			ok:   true,
		},
		{
			name: "empty transcript ignored",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":""}]}}`,
			ok:   false,
		},
		{
			name: "metadata ignored",
			raw:  `{"type":"Metadata","request_id":"abc"}`,
			ok:   false,
		},
		{
			name: "garbage ignored",
			raw:  `not json`,
			ok:   false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev, ok := parseResponse([]byte(c.raw))
			if ok != c.ok {
				t.Fatalf("ok = %v, want %v", ok, c.ok)
			}
			if ok && ev != c.want {
				t.Errorf("event = %+v, want %+v", ev, c.want)
			}
		})
	}
}
