package dsp

// The virtualizer widens the stereo image two ways at once: it scales the
// side (L-R) signal up, and it feeds a short interaural delay of each
// channel into the opposite one. Output is normalized against the
// crossfeed level so full strength does not read as a volume boost.
const (
	// virtDelayTenthsMs is the crossfeed delay in tenths of a millisecond,
	// on the order of the interaural time difference.
	virtDelayTenthsMs = 3

	virtMaxWidth     = 1.0
	virtMaxCrossfeed = 0.35
)

type virtualizer struct {
	strength  int
	width     float64
	crossfeed float64
	norm      float64
	delayL    []float32
	delayR    []float32
	pos       int
	active    bool
}

func newVirtualizer(sampleRate int) *virtualizer {
	n := sampleRate * virtDelayTenthsMs / 10000
	if n < 1 {
		n = 1
	}
	return &virtualizer{
		delayL: make([]float32, n),
		delayR: make([]float32, n),
	}
}

func (v *virtualizer) apply(strength int) {
	if strength == v.strength {
		return
	}
	v.strength = strength
	if strength <= 0 {
		v.active = false
		return
	}
	s := float64(strength) / StrengthMax
	v.width = 1 + virtMaxWidth*s
	v.crossfeed = virtMaxCrossfeed * s
	v.norm = 1 / (1 + v.crossfeed)
	if !v.active {
		v.reset()
	}
	v.active = true
}

func (v *virtualizer) process(samples []float32) {
	if !v.active {
		return
	}
	width := float32(v.width)
	cross := float32(v.crossfeed)
	norm := float32(v.norm)
	for i := 0; i+1 < len(samples); i += 2 {
		l, r := samples[i], samples[i+1]
		mid := (l + r) * 0.5
		side := (l - r) * 0.5 * width
		wl := mid + side
		wr := mid - side

		dl := v.delayL[v.pos]
		dr := v.delayR[v.pos]
		v.delayL[v.pos] = wl
		v.delayR[v.pos] = wr
		v.pos++
		if v.pos == len(v.delayL) {
			v.pos = 0
		}

		samples[i] = (wl + cross*dr) * norm
		samples[i+1] = (wr + cross*dl) * norm
	}
}

func (v *virtualizer) reset() {
	clear(v.delayL)
	clear(v.delayR)
	v.pos = 0
}
