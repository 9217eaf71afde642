package audio

import (
	"encoding/binary"
	"fmt"
)

// SamplesToBytes encodes int16 samples as little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples decodes little-endian PCM16 bytes. A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// ApplyGain scales samples in place by gain, clamping to the int16 range.
// A gain of 0 zeroes the buffer; a gain of 1 leaves it untouched.
func ApplyGain(samples []int16, gain float32) {
	switch {
	case gain == 1:
		return
	case gain <= 0:
		clear(samples)
		return
	}
	for i, s := range samples {
		v := float32(s) * gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
