// Package tts defines the Provider interface for streaming Text-to-Speech
// backends.
//
// Synthesis is streaming in both directions of time: the provider starts
// emitting PCM before the full utterance is rendered, and the caller can abort
// mid-utterance through the interrupt signal when the callee barges in. On
// interrupt the provider stops emitting promptly and closes the audio channel;
// already-buffered chunks may still be delivered.
package tts

import "context"

// VoiceProfile identifies a synthesis voice at a provider.
type VoiceProfile struct {
	// ID is the provider-side voice identifier.
	ID string
	// Name is the human-readable voice name.
	Name string
	// Provider names the backend this profile belongs to.
	Provider string
	// Metadata carries provider-specific labels (gender, accent, ...).
	Metadata map[string]string
}

// SynthesisRequest describes one utterance to render.
type SynthesisRequest struct {
	// Text is the full utterance to speak.
	Text string

	// Voice selects the synthesis voice.
	Voice VoiceProfile

	// SampleRate is the desired output PCM rate in Hz. Zero means the
	// provider default (16000).
	SampleRate int

	// Interrupt, when non-nil, aborts synthesis as soon as it is closed.
	// Used for barge-in: the caller stops wanting audio the moment the
	// callee starts talking.
	Interrupt <-chan struct{}
}

// Provider is the abstraction over any streaming TTS backend.
type Provider interface {
	// StreamSynthesize renders req.Text and returns a channel of 16-bit LE
	// mono PCM chunks at req.SampleRate. The channel is closed when the
	// utterance completes, req.Interrupt fires, or ctx is cancelled. An
	// error return means synthesis never started.
	StreamSynthesize(ctx context.Context, req SynthesisRequest) (<-chan []byte, error)

	// ListVoices returns the voices available to the configured account.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
