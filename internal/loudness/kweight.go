package loudness

import "math"

// K-weighting prefilter design values from ITU-R BS.1770-4: a high shelf
// modeling the acoustic effect of the head, then the revised low-frequency
// B-curve highpass. The standard only tabulates coefficients for 48 kHz;
// recomputing from these design values keeps the filter correct at any
// source rate.
const (
	shelfFreq     = 1681.974450955533
	shelfGainDB   = 3.999843853973347
	shelfQ        = 0.7071752369554196
	shelfBandGain = 0.4996667741545416

	highpassFreq = 38.13547087602444
	highpassQ    = 0.5003270373238773
)

// kStage is one direct form I biquad of the prefilter, single channel.
// float64 throughout: the highpass pole sits close to the unit circle at
// high sample rates and float32 state audibly drifts there.
type kStage struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

func (s *kStage) tick(x float64) float64 {
	y := s.b0*x + s.b1*s.x1 + s.b2*s.x2 - s.a1*s.y1 - s.a2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}

// kFilter applies the full two-stage K-weighting prefilter to one channel.
type kFilter struct {
	shelf kStage
	high  kStage
}

// newKFilter computes prefilter coefficients for the given sample rate. At
// 48000 this reproduces the coefficient table in the standard.
func newKFilter(sampleRate int) kFilter {
	var f kFilter
	fs := float64(sampleRate)

	k := math.Tan(math.Pi * shelfFreq / fs)
	vh := math.Pow(10, shelfGainDB/20)
	vb := math.Pow(vh, shelfBandGain)
	a0 := 1 + k/shelfQ + k*k
	f.shelf.b0 = (vh + vb*k/shelfQ + k*k) / a0
	f.shelf.b1 = 2 * (k*k - vh) / a0
	f.shelf.b2 = (vh - vb*k/shelfQ + k*k) / a0
	f.shelf.a1 = 2 * (k*k - 1) / a0
	f.shelf.a2 = (1 - k/shelfQ + k*k) / a0

	k = math.Tan(math.Pi * highpassFreq / fs)
	a0 = 1 + k/highpassQ + k*k
	// Numerator stays {1, -2, 1} unnormalized, matching the standard's
	// coefficient table.
	f.high.b0 = 1
	f.high.b1 = -2
	f.high.b2 = 1
	f.high.a1 = 2 * (k*k - 1) / a0
	f.high.a2 = (1 - k/highpassQ + k*k) / a0

	return f
}

func (f *kFilter) tick(x float64) float64 {
	return f.high.tick(f.shelf.tick(x))
}
