package loudness

import "math"

// True-peak estimation per BS.1770-4 annex 2: oversample 4x through a
// polyphase interpolation FIR and track the largest absolute value. 12 taps
// per phase gives the 48-tap prototype the annex calls for.
const (
	truePeakPhases = 4
	truePeakTaps   = 12
)

// truePeakBank builds the polyphase bank from a Hann-windowed sinc lowpass
// at the original Nyquist. Each phase is normalized to unity DC gain so
// steady-state level interpolates exactly, without coefficient-ripple bias.
func truePeakBank() [truePeakPhases][truePeakTaps]float64 {
	const n = truePeakPhases * truePeakTaps
	center := float64(n-1) / 2

	var proto [n]float64
	for i := range proto {
		t := (float64(i) - center) / truePeakPhases
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		proto[i] = sinc(t) * w
	}

	var bank [truePeakPhases][truePeakTaps]float64
	for p := 0; p < truePeakPhases; p++ {
		var sum float64
		for k := 0; k < truePeakTaps; k++ {
			bank[p][k] = proto[k*truePeakPhases+p]
			sum += bank[p][k]
		}
		for k := 0; k < truePeakTaps; k++ {
			bank[p][k] /= sum
		}
	}
	return bank
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// truePeak tracks the highest absolute oversampled amplitude seen across
// both channels. The raw sample peak is tracked alongside the interpolated
// phases, so the estimate never reads below the plain digital peak.
type truePeak struct {
	bank [truePeakPhases][truePeakTaps]float64
	hist [2][truePeakTaps]float64
	pos  int
	peak float64
}

func newTruePeak() *truePeak {
	return &truePeak{bank: truePeakBank()}
}

// process consumes interleaved stereo samples.
func (tp *truePeak) process(samples []float32) {
	for i := 0; i+1 < len(samples); i += 2 {
		tp.pos = (tp.pos + 1) % truePeakTaps
		tp.hist[0][tp.pos] = float64(samples[i])
		tp.hist[1][tp.pos] = float64(samples[i+1])

		for ch := 0; ch < 2; ch++ {
			if a := math.Abs(tp.hist[ch][tp.pos]); a > tp.peak {
				tp.peak = a
			}
			for p := 0; p < truePeakPhases; p++ {
				var y float64
				for k := 0; k < truePeakTaps; k++ {
					y += tp.bank[p][k] * tp.hist[ch][(tp.pos-k+truePeakTaps)%truePeakTaps]
				}
				if a := math.Abs(y); a > tp.peak {
					tp.peak = a
				}
			}
		}
	}
}

// value returns the peak as linear absolute amplitude.
func (tp *truePeak) value() float64 {
	return tp.peak
}
