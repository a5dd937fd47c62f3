package app

import (
	"strings"
	"testing"

	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/resilience"
	llmmock "github.com/dialcast/dialcast/pkg/provider/llm/mock"
	sttmock "github.com/dialcast/dialcast/pkg/provider/stt/mock"
	ttsmock "github.com/dialcast/dialcast/pkg/provider/tts/mock"
)

func TestBuildMockProviders(t *testing.T) {
	sttP, err := buildSTT(config.ProviderEntry{Name: "mock"}, quietLog())
	if err != nil {
		t.Fatalf("stt: %v", err)
	}
	if _, ok := sttP.(*sttmock.Provider); !ok {
		t.Errorf("stt = %T", sttP)
	}

	llmP, err := buildLLM(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("llm: %v", err)
	}
	if _, ok := llmP.(*llmmock.Provider); !ok {
		t.Errorf("llm = %T", llmP)
	}

	ttsP, err := buildTTS(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("tts: %v", err)
	}
	if _, ok := ttsP.(*ttsmock.Provider); !ok {
		t.Errorf("tts = %T", ttsP)
	}
}

func TestBuildUnknownProviderFails(t *testing.T) {
	if _, err := buildSTT(config.ProviderEntry{Name: "whisperx"}, quietLog()); err == nil {
		t.Error("unknown stt name must fail")
	}
	if _, err := buildLLM(config.ProviderEntry{Name: "llamafile"}); err == nil {
		t.Error("unknown llm name must fail")
	}
	if _, err := buildTTS(config.ProviderEntry{Name: "espeak"}); err == nil {
		t.Error("unknown tts name must fail")
	}
}

func TestBuildDeepgramRequiresKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	_, err := buildSTT(config.ProviderEntry{Name: "deepgram"}, quietLog())
	if err == nil || !strings.Contains(err.Error(), "DEEPGRAM_API_KEY") {
		t.Fatalf("err = %v", err)
	}
}

func TestStackWithoutFallbacksIsBare(t *testing.T) {
	p, err := buildLLMStack(config.ProvidersConfig{
		LLM: config.ProviderEntry{Name: "mock"},
	}, quietLog())
	if err != nil {
		t.Fatalf("stack: %v", err)
	}
	if _, ok := p.(*llmmock.Provider); !ok {
		t.Errorf("no fallbacks must mean no failover wrapper, got %T", p)
	}
}

func TestStackWithFallbacksWrapsFailover(t *testing.T) {
	p, err := buildSTTStack(config.ProvidersConfig{
		STT:          config.ProviderEntry{Name: "mock"},
		STTFallbacks: []config.ProviderEntry{{Name: "mock"}},
	}, quietLog())
	if err != nil {
		t.Fatalf("stack: %v", err)
	}
	if _, ok := p.(*resilience.STTFailover); !ok {
		t.Errorf("stack = %T, want failover", p)
	}

	tp, err := buildTTSStack(config.ProvidersConfig{
		TTS:          config.ProviderEntry{Name: "mock"},
		TTSFallbacks: []config.ProviderEntry{{Name: "mock"}},
	}, quietLog())
	if err != nil {
		t.Fatalf("tts stack: %v", err)
	}
	if _, ok := tp.(*resilience.TTSFailover); !ok {
		t.Errorf("tts stack = %T, want failover", tp)
	}
}
