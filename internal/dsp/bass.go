package dsp

// Bass boost is a low shelf at 80 Hz whose gain scales linearly with
// strength, topping out at +12 dB.
const (
	bassShelfFreq = 80.0
	bassShelfQ    = 0.707
	bassMaxGainDB = 12.0
)

type bassBoost struct {
	sampleRate float64
	strength   int
	filter     biquad
	active     bool
}

func newBassBoost(sampleRate int) *bassBoost {
	return &bassBoost{sampleRate: float64(sampleRate)}
}

func (b *bassBoost) apply(strength int) {
	if strength == b.strength {
		return
	}
	b.strength = strength
	if strength <= 0 {
		b.active = false
		return
	}
	gain := float64(strength) / StrengthMax * bassMaxGainDB
	wasActive := b.active
	b.filter.setLowShelf(b.sampleRate, bassShelfFreq, bassShelfQ, gain)
	if !wasActive {
		b.filter.reset()
	}
	b.active = true
}

func (b *bassBoost) process(samples []float32) {
	if !b.active {
		return
	}
	b.filter.process(samples)
}

func (b *bassBoost) reset() {
	b.filter.reset()
}
