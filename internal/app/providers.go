package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/resilience"
	"github.com/dialcast/dialcast/pkg/provider/llm"
	"github.com/dialcast/dialcast/pkg/provider/llm/anyllm"
	llmmock "github.com/dialcast/dialcast/pkg/provider/llm/mock"
	"github.com/dialcast/dialcast/pkg/provider/llm/openai"
	"github.com/dialcast/dialcast/pkg/provider/stt"
	"github.com/dialcast/dialcast/pkg/provider/stt/deepgram"
	sttmock "github.com/dialcast/dialcast/pkg/provider/stt/mock"
	"github.com/dialcast/dialcast/pkg/provider/tts"
	"github.com/dialcast/dialcast/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/dialcast/dialcast/pkg/provider/tts/mock"
)

// buildSTT constructs one transcription backend from its config entry.
func buildSTT(entry config.ProviderEntry, log *slog.Logger) (stt.Provider, error) {
	switch entry.Name {
	case "deepgram":
		key, err := entry.ResolveKey()
		if err != nil {
			return nil, err
		}
		opts := []deepgram.Option{deepgram.WithLogger(log)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		return deepgram.New(key, opts...)
	case "mock":
		return &sttmock.Provider{}, nil
	default:
		return nil, fmt.Errorf("app: unknown stt provider %q", entry.Name)
	}
}

// buildLLM constructs one completion backend from its config entry. For the
// anyllm provider the model field selects the backend as "backend/model"
// (e.g. "anthropic/claude-sonnet-4-5"); a bare model name means openai.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		key, err := entry.ResolveKey()
		if err != nil {
			return nil, err
		}
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(key, entry.Model, opts...)
	case "anyllm":
		backend, model, ok := strings.Cut(entry.Model, "/")
		if !ok {
			backend, model = "openai", entry.Model
		}
		// any-llm-go reads the backend's conventional key variable itself.
		return anyllm.New(backend, model)
	case "mock":
		return &llmmock.Provider{}, nil
	default:
		return nil, fmt.Errorf("app: unknown llm provider %q", entry.Name)
	}
}

// buildTTS constructs one synthesis backend from its config entry.
func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "elevenlabs":
		key, err := entry.ResolveKey()
		if err != nil {
			return nil, err
		}
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(key, opts...)
	case "mock":
		return &ttsmock.Provider{}, nil
	default:
		return nil, fmt.Errorf("app: unknown tts provider %q", entry.Name)
	}
}

// buildSTTStack wires the primary backend plus any fallbacks behind
// per-backend circuit breakers. With no fallbacks the bare provider is
// returned.
func buildSTTStack(p config.ProvidersConfig, log *slog.Logger) (stt.Provider, error) {
	primary, err := buildSTT(p.STT, log)
	if err != nil {
		return nil, err
	}
	if len(p.STTFallbacks) == 0 {
		return primary, nil
	}
	fo := resilience.NewSTTFailover(primary, p.STT.Name, resilience.BreakerConfig{}, log)
	for _, entry := range p.STTFallbacks {
		backend, err := buildSTT(entry, log)
		if err != nil {
			return nil, fmt.Errorf("app: stt fallback %q: %w", entry.Name, err)
		}
		fo.Add(entry.Name, backend)
	}
	return fo, nil
}

func buildLLMStack(p config.ProvidersConfig, log *slog.Logger) (llm.Provider, error) {
	primary, err := buildLLM(p.LLM)
	if err != nil {
		return nil, err
	}
	if len(p.LLMFallbacks) == 0 {
		return primary, nil
	}
	fo := resilience.NewLLMFailover(primary, p.LLM.Name, resilience.BreakerConfig{}, log)
	for _, entry := range p.LLMFallbacks {
		backend, err := buildLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: llm fallback %q: %w", entry.Name, err)
		}
		fo.Add(entry.Name, backend)
	}
	return fo, nil
}

func buildTTSStack(p config.ProvidersConfig, log *slog.Logger) (tts.Provider, error) {
	primary, err := buildTTS(p.TTS)
	if err != nil {
		return nil, err
	}
	if len(p.TTSFallbacks) == 0 {
		return primary, nil
	}
	fo := resilience.NewTTSFailover(primary, p.TTS.Name, resilience.BreakerConfig{}, log)
	for _, entry := range p.TTSFallbacks {
		backend, err := buildTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("app: tts fallback %q: %w", entry.Name, err)
		}
		fo.Add(entry.Name, backend)
	}
	return fo, nil
}
