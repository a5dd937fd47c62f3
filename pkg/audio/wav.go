package audio

import (
	"encoding/binary"
	"sync"
	"time"
)

// wavHeaderSize is the size of a canonical RIFF/WAVE header with a single
// "fmt " chunk followed by "data".
const wavHeaderSize = 44

// WAVHeader builds the 44-byte RIFF header for a PCM payload of dataLen bytes.
func WAVHeader(dataLen, sampleRate, channels, bitDepth int) []byte {
	h := make([]byte, wavHeaderSize)
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(bitDepth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// RecordingBuffer accumulates linear PCM for one call and renders it to a WAV
// container on flush. The sample rate is fixed at construction and matches the
// owning gateway: 16 kHz for the WebSocket gateway, 8 kHz for RTP.
//
// Safe for concurrent use; the pipeline appends while the gateway may read
// duration for logging.
type RecordingBuffer struct {
	mu         sync.Mutex
	data       []byte
	sampleRate int
	channels   int
	bitDepth   int
}

// NewRecordingBuffer creates an empty mono 16-bit recording buffer.
func NewRecordingBuffer(sampleRate int) *RecordingBuffer {
	return &RecordingBuffer{
		sampleRate: sampleRate,
		channels:   1,
		bitDepth:   16,
	}
}

// Append adds PCM bytes to the recording. The caller is responsible for the
// bytes matching the buffer's format.
func (b *RecordingBuffer) Append(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, pcm...)
	b.mu.Unlock()
}

// Len returns the number of PCM bytes accumulated so far.
func (b *RecordingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// SampleRate returns the buffer's sample rate in Hz.
func (b *RecordingBuffer) SampleRate() int { return b.sampleRate }

// Duration returns the play time of the accumulated audio.
func (b *RecordingBuffer) Duration() time.Duration {
	b.mu.Lock()
	n := len(b.data)
	b.mu.Unlock()
	return PCMDuration(n, b.sampleRate, b.channels, b.bitDepth)
}

// Render returns the recording as a complete WAV file (header + data).
// The internal buffer is left untouched so Render is idempotent.
func (b *RecordingBuffer) Render() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, wavHeaderSize+len(b.data))
	out = append(out, WAVHeader(len(b.data), b.sampleRate, b.channels, b.bitDepth)...)
	out = append(out, b.data...)
	return out
}

// Reset discards all accumulated audio.
func (b *RecordingBuffer) Reset() {
	b.mu.Lock()
	b.data = nil
	b.mu.Unlock()
}
