package audio

import "fmt"

// Resample converts 16-bit LE mono PCM from srcRate to dstRate.
//
// Downsampling first applies a moving-average low-pass over the source window
// that each output sample covers, then interpolates linearly; upsampling uses
// plain linear interpolation. This keeps aliasing out of the STT path without
// the cost of a full polyphase filter. Nearest-neighbour is deliberately not
// offered — it audibly degrades recognition accuracy.
//
// Both rates must be supported (see SupportedRates). If srcRate == dstRate the
// input is returned unchanged.
func Resample(pcm []byte, srcRate, dstRate int) ([]byte, error) {
	if !ValidRate(srcRate) || !ValidRate(dstRate) {
		return nil, fmt.Errorf("audio: resample %d->%d: unsupported rate", srcRate, dstRate)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(pcm))
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm, nil
	}

	src := bytesToSamples(pcm)
	if dstRate < srcRate {
		src = lowPass(src, srcRate, dstRate)
	}

	dstLen := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return []byte{}, nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := src[idx]
		s1 := s0
		if idx+1 < len(src) {
			s1 = src[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return samplesToBytes(out), nil
}

// lowPass applies a centred moving average sized to the decimation ratio.
// For 16k->8k the window is 2 samples, which halves energy above the new
// Nyquist frequency before interpolation.
func lowPass(src []int16, srcRate, dstRate int) []int16 {
	window := srcRate / dstRate
	if srcRate%dstRate != 0 {
		window++
	}
	if window < 2 {
		return src
	}
	half := window / 2

	out := make([]int16, len(src))
	for i := range src {
		var sum, n int32
		for j := i - half; j <= i+half; j++ {
			if j < 0 || j >= len(src) {
				continue
			}
			sum += int32(src[j])
			n++
		}
		out[i] = int16(sum / n)
	}
	return out
}

func bytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
