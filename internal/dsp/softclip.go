package dsp

import "math"

// softClip limits a sample with an exponential knee. Below |1.0| the curve
// is the identity, so the clipper is transparent in normal operation;
// above it the excess compresses smoothly toward an asymptote instead of
// folding flat at the converter's hard clamp. The knee is slope-continuous
// at the threshold.
func softClip(x float32) float32 {
	switch {
	case x > 1:
		return float32(2 - math.Exp(-(float64(x) - 1)))
	case x < -1:
		return float32(math.Exp(float64(x)+1) - 2)
	default:
		return x
	}
}

// softClipBuffer applies softClip in place.
func softClipBuffer(samples []float32) {
	for i, s := range samples {
		if s > 1 || s < -1 {
			samples[i] = softClip(s)
		}
	}
}
