package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ChunkError describes why an inbound audio chunk was rejected.
// Gateways drop rejected chunks and count them; they never fail the call.
type ChunkError struct {
	Reason string
	Bytes  int
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("audio: invalid chunk (%s, %d bytes)", e.Reason, e.Bytes)
}

// ValidateChunk checks an inbound 16-bit mono PCM chunk at the given sample
// rate. A zero-length chunk is valid (callers should treat it as a no-op).
// Chunks with an odd byte count, or whose duration falls outside
// [10 ms, 1000 ms], are rejected.
func ValidateChunk(pcm []byte, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}
	if len(pcm)%2 != 0 {
		return &ChunkError{Reason: "odd byte count", Bytes: len(pcm)}
	}
	d := PCMDuration(len(pcm), sampleRate, 1, 16)
	if d < 10*time.Millisecond {
		return &ChunkError{Reason: "shorter than 10ms", Bytes: len(pcm)}
	}
	if d > time.Second {
		return &ChunkError{Reason: "longer than 1s", Bytes: len(pcm)}
	}
	return nil
}

// PCMDuration returns the play time of n bytes of PCM with the given format.
func PCMDuration(n, sampleRate, channels, bitDepth int) time.Duration {
	bytesPerSec := sampleRate * channels * bitDepth / 8
	if bytesPerSec == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bytesPerSec)
}

// F32ToS16 converts 32-bit IEEE float samples in [-1, 1] to 16-bit LE PCM.
// Values outside the unit range are clamped.
func F32ToS16(f32 []byte) ([]byte, error) {
	if len(f32)%4 != 0 {
		return nil, fmt.Errorf("audio: F32 length %d is not a multiple of 4", len(f32))
	}
	out := make([]byte, len(f32)/2)
	for i := 0; i < len(f32); i += 4 {
		f := math.Float32frombits(binary.LittleEndian.Uint32(f32[i:]))
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		s := int16(f * 32767)
		binary.LittleEndian.PutUint16(out[i/2:], uint16(s))
	}
	return out, nil
}

// S16ToF32 converts 16-bit LE PCM to 32-bit IEEE float samples in [-1, 1].
func S16ToF32(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	out := make([]byte, len(pcm)*2)
	for i := 0; i < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		f := float32(s) / 32768
		binary.LittleEndian.PutUint32(out[i*2:], math.Float32bits(f))
	}
	return out, nil
}
