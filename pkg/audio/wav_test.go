package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestWAVHeaderFields(t *testing.T) {
	h := WAVHeader(32000, 16000, 1, 16)
	if len(h) != 44 {
		t.Fatalf("header length = %d, want 44", len(h))
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if got := binary.LittleEndian.Uint32(h[4:8]); got != 36+32000 {
		t.Errorf("chunk size = %d, want %d", got, 36+32000)
	}
	if got := binary.LittleEndian.Uint32(h[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(h[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(h[40:44]); got != 32000 {
		t.Errorf("data size = %d, want 32000", got)
	}
}

func TestRecordingBufferDurationLaw(t *testing.T) {
	b := NewRecordingBuffer(16000)
	// 1.5 s of 16 kHz mono 16-bit = 48000 bytes.
	b.Append(make([]byte, 48000))

	got := b.Duration()
	want := 1500 * time.Millisecond
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Millisecond {
		t.Errorf("duration = %v, want %v (±1ms)", got, want)
	}
}

func TestRecordingBufferRenderIdempotent(t *testing.T) {
	b := NewRecordingBuffer(8000)
	b.Append([]byte{1, 2, 3, 4})

	first := b.Render()
	second := b.Render()
	if !bytes.Equal(first, second) {
		t.Error("render is not idempotent")
	}
	if len(first) != 44+4 {
		t.Errorf("rendered %d bytes, want %d", len(first), 44+4)
	}
}

func TestRecordingBufferReset(t *testing.T) {
	b := NewRecordingBuffer(8000)
	b.Append(make([]byte, 160))
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("len after reset = %d, want 0", b.Len())
	}
	if d := b.Duration(); d != 0 {
		t.Errorf("duration after reset = %v, want 0", d)
	}
}
