// Package audiotest provides PCM fixtures shared by audio pipeline tests:
// synthesized signals, in-memory WAV files, and fake pipeline components.
package audiotest

import "math"

// BuildWAV constructs a 16-bit PCM WAV file in memory from interleaved
// samples.
func BuildWAV(sampleRate, channels int, samples []int16) []byte {
	dataSize := len(samples) * 2
	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	buf := make([]byte, 0, 44+dataSize)

	buf = append(buf, []byte("RIFF")...)
	buf = appendLE32(buf, uint32(36+dataSize))
	buf = append(buf, []byte("WAVE")...)

	buf = append(buf, []byte("fmt ")...)
	buf = appendLE32(buf, 16)
	buf = appendLE16(buf, 1) // PCM
	buf = appendLE16(buf, uint16(channels))
	buf = appendLE32(buf, uint32(sampleRate))
	buf = appendLE32(buf, uint32(byteRate))
	buf = appendLE16(buf, uint16(blockAlign))
	buf = appendLE16(buf, 16) // bits per sample

	buf = append(buf, []byte("data")...)
	buf = appendLE32(buf, uint32(dataSize))
	for _, s := range samples {
		buf = appendLE16(buf, uint16(s))
	}

	return buf
}

func appendLE16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendLE32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// SineInt16 generates a mono sine wave as 16-bit samples.
func SineInt16(freq float64, sampleRate, frames int, amp float64) []int16 {
	out := make([]int16, frames)
	for i := range out {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		out[i] = int16(v * 32767)
	}
	return out
}

// Sine generates a mono sine wave as float32 samples.
func Sine(freq float64, sampleRate, frames int, amp float64) []float32 {
	out := make([]float32, frames)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// StereoSine generates an interleaved stereo sine wave, same signal on both
// channels.
func StereoSine(freq float64, sampleRate, frames int, amp float64) []float32 {
	mono := Sine(freq, sampleRate, frames, amp)
	out := make([]float32, frames*2)
	for i, v := range mono {
		out[i*2] = v
		out[i*2+1] = v
	}
	return out
}

// RampStereo generates interleaved stereo where the left channel carries
// the frame index scaled to [0, 1) and the right its negation. Useful for
// asserting positions after seeks.
func RampStereo(frames int) []float32 {
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		v := float32(i%32768) / 32768.0
		out[i*2] = v
		out[i*2+1] = -v
	}
	return out
}

// Silence generates interleaved silence.
func Silence(frames, channels int) []float32 {
	return make([]float32, frames*channels)
}

// DCStereo generates interleaved stereo holding a constant value on both
// channels.
func DCStereo(frames int, value float32) []float32 {
	out := make([]float32, frames*2)
	for i := range out {
		out[i] = value
	}
	return out
}

// RMS computes the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}
