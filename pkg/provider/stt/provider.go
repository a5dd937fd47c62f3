// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. Once opened, a session accepts raw 16 kHz mono
// PCM chunks and emits a single ordered stream of Events: low-latency partials
// that each replace the previous one, authoritative finals that close a turn,
// start-of-turn signals used for barge-in, and a stream-closed marker so the
// pipeline can finalise a turn when the upstream connection drops.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// EventType discriminates the events a session emits.
type EventType int

const (
	// EventPartial is a cumulative best-guess of the current utterance.
	// Each partial replaces the previous one; consumers must not concatenate.
	EventPartial EventType = iota

	// EventFinal is the committed utterance at end of turn.
	EventFinal

	// EventStartOfTurn signals the caller began speaking after silence.
	// Delivered in-band so the pipeline can trigger barge-in.
	EventStartOfTurn

	// EventStreamClosed is synthesised when the provider connection closes
	// before a final, so the pipeline can still finalise the turn.
	EventStreamClosed
)

// String returns the event type's name for logs.
func (t EventType) String() string {
	switch t {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventStartOfTurn:
		return "start_of_turn"
	case EventStreamClosed:
		return "stream_closed"
	default:
		return "unknown"
	}
}

// Event is a single transcription event. Text is set for partials and finals.
type Event struct {
	Type EventType
	Text string
}

// StreamConfig describes the audio format and recognition settings for a new
// session. SampleRate must match the PCM pushed via SendAudio.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The voice pipeline always
	// streams 16000.
	SampleRate int

	// Language is the BCP-47 language tag (e.g., "en-US"). Empty lets the
	// provider auto-detect where supported.
	Language string

	// Model overrides the provider's default recognition model.
	Model string
}

// SessionHandle is an open streaming transcription session.
//
// Callers must call Close when done; failing to do so may leak goroutines and
// network connections inside the provider. All methods are safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit LE mono PCM to the provider.
	// Implementations validate the chunk and silently drop malformed ones
	// (logging the first few per session); only a closed session returns an
	// error.
	SendAudio(chunk []byte) error

	// Events returns the session's ordered event stream. The channel is
	// closed after an EventStreamClosed is delivered or Close is called.
	Events() <-chan Event

	// Close terminates the session, flushes pending audio, and releases
	// resources. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a streaming transcription session. The returned
	// handle is ready to accept audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
