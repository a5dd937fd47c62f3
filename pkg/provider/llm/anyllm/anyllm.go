// Package anyllm adapts github.com/mozilla-ai/any-llm-go to the llm.Provider
// interface, giving campaigns a single fallback backend that can sit in
// front of Anthropic, Gemini, Ollama, and the other supported vendors.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/dialcast/dialcast/pkg/provider/llm"
)

// backends maps vendor names to any-llm-go constructors. Keys are what the
// config's "backend/model" syntax selects.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    asProvider(anyllmoai.New),
	"anthropic": asProvider(anthropic.New),
	"gemini":    asProvider(gemini.New),
	"ollama":    asProvider(ollama.New),
	"deepseek":  asProvider(deepseek.New),
	"mistral":   asProvider(mistral.New),
	"groq":      asProvider(groq.New),
}

// asProvider lifts a vendor constructor's concrete return type to the
// anyllmlib.Provider interface.
func asProvider[P anyllmlib.Provider](newFn func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := newFn(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Provider routes chat completions through one any-llm-go vendor.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New builds a Provider for the named vendor. Without an explicit API key
// option, each vendor reads its conventional environment variable
// (ANTHROPIC_API_KEY, OPENAI_API_KEY, ...).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	build, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s",
			providerName, strings.Join(backendNames(), ", "))
	}
	backend, err := build(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// NewAnthropic builds an Anthropic-backed Provider.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewOllama builds a Provider against a local Ollama server
// (http://localhost:11434 by default).
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// StreamChat opens a streaming completion against the vendor. Stream errors
// arrive in-band as a FinishError chunk after the vendor channel drains.
func (p *Provider) StreamChat(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.params(req))

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			c := llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}
			if c.Text == "" && c.FinishReason == "" {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if err := <-errs; err != nil {
			select {
			case out <- llm.Chunk{FinishReason: llm.FinishError, Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// params maps the provider-neutral request onto any-llm-go parameters. Stop
// sequences and seed are dropped; the unified interface does not carry them.
func (p *Provider) params(req llm.Request) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
