// Package audio provides the PCM primitives shared by the media gateways and
// the voice pipeline: G.711 µ-law/A-law companding, sample-rate conversion,
// float/int sample conversion, and WAV recording assembly.
//
// All PCM in this package is 16-bit little-endian signed mono unless a function
// says otherwise. Telephony legs carry G.711 at 8 kHz; the STT/TTS legs carry
// linear PCM at 16 kHz.
package audio

import (
	"errors"
	"fmt"

	"github.com/zaf/g711"
)

// SupportedRates lists the sample rates the pipeline accepts, in Hz.
var SupportedRates = []int{8000, 16000, 22050, 24000, 44100}

// ErrOddLength is returned when a buffer that should contain 16-bit samples
// has an odd byte count.
var ErrOddLength = errors.New("audio: PCM length is not a multiple of the sample size")

// ValidRate reports whether rate is one of the supported sample rates.
func ValidRate(rate int) bool {
	for _, r := range SupportedRates {
		if r == rate {
			return true
		}
	}
	return false
}

// EncodeMuLaw compresses 16-bit LE mono PCM to G.711 µ-law, one byte per
// sample. Empty input returns an empty slice. Returns ErrOddLength when the
// input is not sample-aligned.
func EncodeMuLaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	if len(pcm) == 0 {
		return []byte{}, nil
	}
	return g711.EncodeUlaw(pcm), nil
}

// DecodeMuLaw expands G.711 µ-law bytes to 16-bit LE mono PCM. Any input
// length is valid; empty input returns an empty slice.
func DecodeMuLaw(data []byte) []byte {
	if len(data) == 0 {
		return []byte{}
	}
	return g711.DecodeUlaw(data)
}

// EncodeALaw compresses 16-bit LE mono PCM to G.711 A-law.
// Same contract as EncodeMuLaw.
func EncodeALaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	if len(pcm) == 0 {
		return []byte{}, nil
	}
	return g711.EncodeAlaw(pcm), nil
}

// DecodeALaw expands G.711 A-law bytes to 16-bit LE mono PCM.
// Same contract as DecodeMuLaw.
func DecodeALaw(data []byte) []byte {
	if len(data) == 0 {
		return []byte{}
	}
	return g711.DecodeAlaw(data)
}
