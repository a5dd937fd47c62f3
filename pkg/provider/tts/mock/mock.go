// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// which text the pipeline asked to synthesize, including interrupt behaviour.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks:     [][]byte{pcm1, pcm2},
//	    ChunkDelay: 10 * time.Millisecond,
//	}
//	ch, _ := p.StreamSynthesize(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/dialcast/dialcast/pkg/provider/tts"
)

// StreamSynthesizeCall records a single invocation of StreamSynthesize.
type StreamSynthesizeCall struct {
	// Ctx is the context passed to StreamSynthesize.
	Ctx context.Context
	// Req is the SynthesisRequest passed to StreamSynthesize.
	Req tts.SynthesisRequest
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of PCM byte slices emitted per synthesis.
	// If empty, a single 320-byte silent chunk is emitted.
	Chunks [][]byte

	// ChunkDelay, when non-zero, is slept between chunks so tests can
	// interrupt mid-utterance.
	ChunkDelay time.Duration

	// SynthesizeErr, if non-nil, is returned as the error from
	// StreamSynthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// StreamSynthesizeCalls records every call to StreamSynthesize in order.
	StreamSynthesizeCalls []StreamSynthesizeCall

	// InterruptedCount is incremented each time a stream ends because the
	// request's Interrupt channel fired.
	InterruptedCount int
}

// StreamSynthesize records the call and, if SynthesizeErr is nil, returns a
// channel that emits Chunks (with ChunkDelay pacing) then closes. The stream
// honours req.Interrupt and ctx cancellation.
func (p *Provider) StreamSynthesize(ctx context.Context, req tts.SynthesisRequest) (<-chan []byte, error) {
	p.mu.Lock()
	p.StreamSynthesizeCalls = append(p.StreamSynthesizeCalls, StreamSynthesizeCall{Ctx: ctx, Req: req})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	delay := p.ChunkDelay
	p.mu.Unlock()

	if len(chunks) == 0 {
		chunks = [][]byte{make([]byte, 320)}
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, pcm := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-req.Interrupt:
					p.markInterrupted()
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- pcm:
			case <-req.Interrupt:
				p.markInterrupted()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *Provider) markInterrupted() {
	p.mu.Lock()
	p.InterruptedCount++
	p.mu.Unlock()
}

// ListVoices records nothing and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// CallCount returns the number of StreamSynthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamSynthesizeCalls)
}

// SpokenTexts returns the Text of every recorded synthesis request, in order.
func (p *Provider) SpokenTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.StreamSynthesizeCalls))
	for _, c := range p.StreamSynthesizeCalls {
		out = append(out, c.Req.Text)
	}
	return out
}

// Interrupted returns how many streams ended due to an interrupt. Thread-safe.
func (p *Provider) Interrupted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.InterruptedCount
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamSynthesizeCalls = nil
	p.InterruptedCount = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
