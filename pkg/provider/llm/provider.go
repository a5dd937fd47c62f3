// Package llm defines the Provider interface for streaming chat-completion
// backends.
//
// The voice pipeline consumes token chunks as they arrive so synthesis can
// begin before the full reply exists. Errors that occur mid-stream are
// delivered in-band as a final Chunk with FinishReason "error", so consumers
// have a single exit path per turn.
package llm

import "context"

// Finish reasons carried on the last chunk of a stream.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

// Message is one turn of conversation history.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string
	// Content is the message text.
	Content string
}

// Request describes a single chat completion.
type Request struct {
	// SystemPrompt, when non-empty, is prepended as a system message.
	SystemPrompt string

	// Messages is the conversation history, oldest first.
	Messages []Message

	// Temperature controls sampling; zero means provider default.
	Temperature float64

	// MaxTokens caps the reply length; zero means provider default.
	MaxTokens int

	// Stop lists sequences that end generation early.
	Stop []string

	// Seed, when non-zero, requests deterministic sampling where the
	// backend supports it. Used by replay tooling.
	Seed int64
}

// Chunk is one streamed fragment of a reply. Text may be empty on the final
// chunk. FinishReason is empty until the stream ends; "error" carries the
// error text in Text.
type Chunk struct {
	Text         string
	FinishReason string
}

// Provider is the abstraction over any streaming chat-completion backend.
type Provider interface {
	// StreamChat starts a completion and returns a channel of chunks. The
	// channel is closed after the final chunk. Cancelling ctx aborts the
	// stream. An error return means the stream never started.
	StreamChat(ctx context.Context, req Request) (<-chan Chunk, error)
}
