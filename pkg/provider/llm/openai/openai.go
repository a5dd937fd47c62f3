// Package openai implements the llm.Provider interface on the OpenAI chat
// completions API. Replies stream token-by-token so the voice loop can hand
// the first sentence to synthesis before the model finishes.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/dialcast/dialcast/pkg/provider/llm"
)

// chunkBuffer sizes the outbound chunk channel. Deep enough that a consumer
// stalled on synthesis does not backpressure the HTTP stream immediately.
const chunkBuffer = 32

// Provider streams chat completions from OpenAI.
type Provider struct {
	client oai.Client
	model  string

	baseURL string
	org     string
	timeout time.Duration
}

var _ llm.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the client at a compatible endpoint (proxy, Azure,
// vLLM).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithOrganization sets the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(p *Provider) { p.org = org }
}

// WithTimeout bounds each HTTP request. For conversational turns this should
// comfortably exceed the pipeline's own turn deadline, which fires first.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// New builds a Provider for the given model.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	p := &Provider{model: model}
	for _, o := range opts {
		o(p)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	if p.org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(p.org))
	}
	if p.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: p.timeout}))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// StreamChat opens a streaming completion. The returned channel closes when
// the model finishes; transport errors after the stream opened arrive
// in-band as a FinishError chunk, matching the provider contract.
func (p *Provider) StreamChat(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	out := make(chan llm.Chunk, chunkBuffer)
	go func() {
		defer close(out)
		defer stream.Close()
		p.pump(ctx, stream, out)
	}()
	return out, nil
}

// pump copies SDK events onto the chunk channel until the stream ends or the
// caller gives up.
func (p *Provider) pump(ctx context.Context, stream *ssestream.Stream[oai.ChatCompletionChunk], out chan<- llm.Chunk) {
	for stream.Next() {
		ev := stream.Current()
		if len(ev.Choices) == 0 {
			continue
		}
		choice := ev.Choices[0]
		chunk := llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}
		if chunk.Text == "" && chunk.FinishReason == "" {
			continue
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}

	if err := stream.Err(); err != nil {
		select {
		case out <- llm.Chunk{FinishReason: llm.FinishError, Text: err.Error()}:
		case <-ctx.Done():
		}
	}
}

// params maps the provider-neutral request onto SDK parameters. Zero-valued
// tuning fields are omitted so the API's defaults apply.
func (p *Provider) params(req llm.Request) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, oai.SystemMessage(m.Content))
		case "user":
			messages = append(messages, oai.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Seed != 0 {
		params.Seed = param.NewOpt(req.Seed)
	}
	if len(req.Stop) > 0 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	return params, nil
}
