package resilience

import (
	"context"
	"log/slog"

	"github.com/dialcast/dialcast/pkg/provider/llm"
	"github.com/dialcast/dialcast/pkg/provider/stt"
	"github.com/dialcast/dialcast/pkg/provider/tts"
)

// STTFailover implements [stt.Provider] across multiple transcription
// backends. Failover covers stream setup only; once a session is open,
// mid-stream errors surface as EventStreamClosed and the pipeline decides.
type STTFailover struct {
	group *Failover[stt.Provider]
}

var _ stt.Provider = (*STTFailover)(nil)

func NewSTTFailover(primary stt.Provider, name string, cfg BreakerConfig, log *slog.Logger) *STTFailover {
	return &STTFailover{group: NewFailover(primary, name, cfg, log)}
}

// Add registers an additional transcription backend.
func (f *STTFailover) Add(name string, p stt.Provider) { f.group.Add(name, p) }

// StartStream opens a session against the first healthy backend.
func (f *STTFailover) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Try1(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// LLMFailover implements [llm.Provider] across multiple completion backends.
// Only starting the stream is covered; mid-stream errors arrive in-band as a
// FinishError chunk and are handled by the turn loop's fallback line.
type LLMFailover struct {
	group *Failover[llm.Provider]
}

var _ llm.Provider = (*LLMFailover)(nil)

func NewLLMFailover(primary llm.Provider, name string, cfg BreakerConfig, log *slog.Logger) *LLMFailover {
	return &LLMFailover{group: NewFailover(primary, name, cfg, log)}
}

// Add registers an additional completion backend.
func (f *LLMFailover) Add(name string, p llm.Provider) { f.group.Add(name, p) }

// StreamChat starts a completion against the first healthy backend.
func (f *LLMFailover) StreamChat(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	return Try1(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamChat(ctx, req)
	})
}

// TTSFailover implements [tts.Provider] across multiple synthesis backends.
type TTSFailover struct {
	group *Failover[tts.Provider]
}

var _ tts.Provider = (*TTSFailover)(nil)

func NewTTSFailover(primary tts.Provider, name string, cfg BreakerConfig, log *slog.Logger) *TTSFailover {
	return &TTSFailover{group: NewFailover(primary, name, cfg, log)}
}

// Add registers an additional synthesis backend.
func (f *TTSFailover) Add(name string, p tts.Provider) { f.group.Add(name, p) }

// StreamSynthesize renders the utterance on the first healthy backend.
func (f *TTSFailover) StreamSynthesize(ctx context.Context, req tts.SynthesisRequest) (<-chan []byte, error) {
	return Try1(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.StreamSynthesize(ctx, req)
	})
}

// ListVoices queries the first healthy backend.
func (f *TTSFailover) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Try1(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
