// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider to feed scripted replies to consumers and to verify the
// requests the pipeline builds.
//
// Example:
//
//	p := &mock.Provider{Replies: []string{"Hello! Is now a good time?"}}
//	ch, _ := p.StreamChat(ctx, req)
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dialcast/dialcast/pkg/provider/llm"
)

// StreamChatCall records a single invocation of StreamChat.
type StreamChatCall struct {
	// Ctx is the context passed to StreamChat.
	Ctx context.Context
	// Req is the Request passed to StreamChat.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
//
// Each StreamChat call consumes the next entry from Replies, splitting it into
// word-sized chunks to exercise streaming consumers. When Replies is
// exhausted, the last entry repeats.
type Provider struct {
	mu sync.Mutex

	// Replies are the scripted reply texts, consumed in order.
	Replies []string

	// ChunkDelay, when non-zero, is slept between chunks to simulate
	// generation latency.
	ChunkDelay time.Duration

	// StreamErr, if non-nil, is returned as the error from StreamChat.
	StreamErr error

	// StreamFinishErr, if non-nil, makes the stream end with an in-band
	// error chunk instead of a normal finish.
	StreamFinishErr error

	// StreamChatCalls records every call to StreamChat in order.
	StreamChatCalls []StreamChatCall

	next int
}

// StreamChat records the call and streams the next scripted reply.
func (p *Provider) StreamChat(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamChatCalls = append(p.StreamChatCalls, StreamChatCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}

	var reply string
	if len(p.Replies) > 0 {
		idx := p.next
		if idx >= len(p.Replies) {
			idx = len(p.Replies) - 1
		}
		reply = p.Replies[idx]
		p.next++
	}
	delay := p.ChunkDelay
	finishErr := p.StreamFinishErr
	p.mu.Unlock()

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		words := strings.SplitAfter(reply, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- llm.Chunk{Text: w}:
			case <-ctx.Done():
				return
			}
		}

		final := llm.Chunk{FinishReason: llm.FinishStop}
		if finishErr != nil {
			final = llm.Chunk{FinishReason: llm.FinishError, Text: finishErr.Error()}
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// CallCount returns the number of StreamChat calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamChatCalls)
}

// LastRequest returns the most recent request, or a zero Request if none.
func (p *Provider) LastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamChatCalls) == 0 {
		return llm.Request{}
	}
	return p.StreamChatCalls[len(p.StreamChatCalls)-1].Req
}

// Reset clears all recorded calls and rewinds the reply script. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamChatCalls = nil
	p.next = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
