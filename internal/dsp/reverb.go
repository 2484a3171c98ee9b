package dsp

import (
	"log/slog"
	"math"
	"time"
)

// Schroeder topology: four parallel feedback combs build the tail, two
// series allpasses smear its echo density. Comb delays are mutually prime
// fractions of a second so their echo patterns never align into periodic
// coloration.
var (
	combDelaysMs    = [4]float64{29.7, 37.1, 41.1, 43.7}
	allpassDelaysMs = [2]float64{5.0, 1.7}
)

const (
	// stereoSpread lengthens every right-channel delay line by a few
	// samples so the two tails decorrelate.
	stereoSpread = 23

	allpassGain = 0.5
	combDamp    = 0.25

	// combInputScale compensates the summed steady-state gain of four
	// recirculating combs so a full ReverbLevel drives the tail near
	// unity instead of far past it.
	combInputScale = 0.03
)

// reverbPresets maps the built-in rooms onto the custom parameter space.
var reverbPresets = map[ReverbPreset]ReverbParams{
	ReverbSmallRoom:  {RoomLevel: 0.55, ReverbLevel: 0.60, DecayTime: 500 * time.Millisecond, ReverbDelay: 5 * time.Millisecond},
	ReverbMediumRoom: {RoomLevel: 0.60, ReverbLevel: 0.65, DecayTime: time.Second, ReverbDelay: 10 * time.Millisecond},
	ReverbLargeRoom:  {RoomLevel: 0.65, ReverbLevel: 0.70, DecayTime: 1500 * time.Millisecond, ReverbDelay: 15 * time.Millisecond},
	ReverbHall:       {RoomLevel: 0.70, ReverbLevel: 0.75, DecayTime: 2200 * time.Millisecond, ReverbDelay: 20 * time.Millisecond},
	ReverbPlate:      {RoomLevel: 0.70, ReverbLevel: 0.80, DecayTime: 1300 * time.Millisecond},
}

// comb is a feedback comb filter with a one-pole lowpass in the feedback
// path, so high frequencies die faster the longer they recirculate.
type comb struct {
	buf      []float32
	pos      int
	feedback float32
	damp     float32
	filt     float32
}

func (c *comb) tick(x float32) float32 {
	y := c.buf[c.pos]
	c.filt = y*(1-c.damp) + c.filt*c.damp
	c.buf[c.pos] = x + c.filt*c.feedback
	c.pos++
	if c.pos == len(c.buf) {
		c.pos = 0
	}
	return y
}

// allpass smears echo density without coloring the spectrum.
type allpass struct {
	buf  []float32
	pos  int
	gain float32
}

func (a *allpass) tick(x float32) float32 {
	y := a.buf[a.pos]
	a.buf[a.pos] = x + y*a.gain
	a.pos++
	if a.pos == len(a.buf) {
		a.pos = 0
	}
	return y - x
}

// delayLine is a plain circular delay, used for the pre-delay before the
// tail onset. A zero-length line passes samples through unchanged.
type delayLine struct {
	buf []float32
	pos int
}

func (d *delayLine) tick(x float32) float32 {
	if len(d.buf) == 0 {
		return x
	}
	y := d.buf[d.pos]
	d.buf[d.pos] = x
	d.pos++
	if d.pos == len(d.buf) {
		d.pos = 0
	}
	return y
}

type reverb struct {
	sampleRate int
	preset     ReverbPreset
	params     ReverbParams

	wet   float32
	drive float32

	preL, preR         delayLine
	combL, combR       [4]comb
	allpassL, allpassR [2]allpass

	active bool
}

func newReverb(sampleRate int) *reverb {
	return &reverb{sampleRate: sampleRate}
}

// apply reconfigures the room when the preset or, for ReverbCustom, the
// custom parameters changed since the last call.
func (rv *reverb) apply(preset ReverbPreset, custom ReverbParams) {
	if preset == rv.preset && (preset != ReverbCustom || custom == rv.params) {
		return
	}
	rv.preset = preset
	if preset == ReverbOff {
		rv.active = false
		return
	}
	p := custom
	if preset != ReverbCustom {
		p = reverbPresets[preset]
	}
	rv.params = p
	rv.rebuild(p)
	rv.active = true
}

func (rv *reverb) rebuild(p ReverbParams) {
	sr := float64(rv.sampleRate)
	decay := p.DecayTime.Seconds()
	for i, ms := range combDelaysMs {
		nl := int(ms / 1000 * sr)
		nr := nl + stereoSpread
		rv.combL[i] = comb{buf: make([]float32, nl), damp: combDamp, feedback: combFeedback(float64(nl)/sr, decay)}
		rv.combR[i] = comb{buf: make([]float32, nr), damp: combDamp, feedback: combFeedback(float64(nr)/sr, decay)}
	}
	for i, ms := range allpassDelaysMs {
		nl := int(ms / 1000 * sr)
		rv.allpassL[i] = allpass{buf: make([]float32, nl), gain: allpassGain}
		rv.allpassR[i] = allpass{buf: make([]float32, nl+stereoSpread), gain: allpassGain}
	}
	pre := int(p.ReverbDelay.Seconds() * sr)
	rv.preL = delayLine{buf: make([]float32, pre)}
	rv.preR = delayLine{buf: make([]float32, pre)}
	rv.wet = float32(p.RoomLevel)
	rv.drive = float32(p.ReverbLevel * combInputScale)
	slog.Debug("reverb rebuilt",
		"preset", rv.preset.String(),
		"decay_ms", p.DecayTime.Milliseconds(),
		"delay_ms", p.ReverbDelay.Milliseconds(),
		"room_level", p.RoomLevel,
		"reverb_level", p.ReverbLevel)
}

// combFeedback returns the per-echo gain that makes a comb of the given
// delay decay by 60 dB over decay seconds.
func combFeedback(delaySec, decaySec float64) float32 {
	if decaySec <= 0 {
		return 0
	}
	return float32(math.Pow(10, -3*delaySec/decaySec))
}

// process mixes the wet tail into stereo interleaved samples in place.
func (rv *reverb) process(samples []float32) {
	if !rv.active {
		return
	}
	for i := 0; i+1 < len(samples); i += 2 {
		dryL, dryR := samples[i], samples[i+1]
		inL := rv.preL.tick(dryL * rv.drive)
		inR := rv.preR.tick(dryR * rv.drive)

		var tailL, tailR float32
		for c := range rv.combL {
			tailL += rv.combL[c].tick(inL)
			tailR += rv.combR[c].tick(inR)
		}
		for a := range rv.allpassL {
			tailL = rv.allpassL[a].tick(tailL)
			tailR = rv.allpassR[a].tick(tailR)
		}

		samples[i] = dryL + rv.wet*tailL
		samples[i+1] = dryR + rv.wet*tailR
	}
}

// reset silences the tail without rebuilding the room.
func (rv *reverb) reset() {
	for i := range rv.combL {
		clear(rv.combL[i].buf)
		clear(rv.combR[i].buf)
		rv.combL[i].filt = 0
		rv.combR[i].filt = 0
	}
	for i := range rv.allpassL {
		clear(rv.allpassL[i].buf)
		clear(rv.allpassR[i].buf)
	}
	clear(rv.preL.buf)
	clear(rv.preR.buf)
}
