package dsp

import (
	"log/slog"
	"math"
)

// eqBandQ sets each band's bandwidth. 1.4 gives roughly one-octave bands,
// so adjacent bands hand over near their crossover points.
const eqBandQ = 1.4

// eqActiveThresholdDB is the gain below which a band bypasses its filter
// entirely instead of burning cycles on a near-identity biquad.
const eqActiveThresholdDB = 0.1

// Equalizer is a ten-band peaking equalizer over the ISO 266 centers.
// Band coefficients are recomputed only when that band's gain changes.
type Equalizer struct {
	sampleRate float64
	gains      [EQBands]float64
	filters    [EQBands]biquad
	active     [EQBands]bool
	enabled    bool
}

func newEqualizer(sampleRate int) *Equalizer {
	return &Equalizer{sampleRate: float64(sampleRate)}
}

// apply reconfigures the bands whose gain changed since the last call.
// Unchanged bands keep their coefficients and state.
func (e *Equalizer) apply(enabled bool, gains [EQBands]float64) {
	e.enabled = enabled
	if !enabled {
		return
	}
	for i, g := range gains {
		if g == e.gains[i] {
			continue
		}
		e.gains[i] = g
		if math.Abs(g) < eqActiveThresholdDB {
			e.active[i] = false
			continue
		}
		wasActive := e.active[i]
		e.filters[i].setPeaking(e.sampleRate, eqCenterFreqs[i], eqBandQ, g)
		if !wasActive {
			// State from a long-bypassed band is stale and would thump.
			e.filters[i].reset()
		}
		e.active[i] = true
		slog.Debug("eq band updated", "band", i, "freq_hz", eqCenterFreqs[i], "gain_db", g)
	}
}

// process filters stereo interleaved samples in place through every
// active band.
func (e *Equalizer) process(samples []float32) {
	if !e.enabled {
		return
	}
	for i := range e.filters {
		if e.active[i] {
			e.filters[i].process(samples)
		}
	}
}

func (e *Equalizer) reset() {
	for i := range e.filters {
		e.filters[i].reset()
	}
}
