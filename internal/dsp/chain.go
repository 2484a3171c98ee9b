// Package dsp implements the per-session effect chain: ten-band parametric
// EQ, bass boost, stereo virtualizer, Schroeder reverb, and a soft clipper,
// all operating in place on stereo interleaved float32 PCM in [-1, 1].
//
// Effect settings flow through a ParamStore: the engine publishes clamped
// snapshots and every chain reads exactly one snapshot per buffer, so a
// concurrent settings change is never torn across a processing quantum.
package dsp

import (
	"log/slog"
	"math"
)

// Chain applies the effect stages for one session in a fixed order:
// normalization gain first, then EQ, bass boost, virtualizer, reverb, and
// the soft clipper last. Chains are not safe for concurrent use; each
// session owns one and calls it from its render path only.
type Chain struct {
	sampleRate int
	backend    Backend
	store      *ParamStore

	eq   *Equalizer
	bass *bassBoost
	virt *virtualizer
	rev  *reverb

	gain float64
}

// NewChain builds a chain bound to store, resolving the equalizer backend
// from the sink the chain's output will feed.
func NewChain(sampleRate int, store *ParamStore, sink any) *Chain {
	backend := ResolveBackend(sink)
	c := &Chain{
		sampleRate: sampleRate,
		backend:    backend,
		store:      store,
		eq:         newEqualizer(sampleRate),
		bass:       newBassBoost(sampleRate),
		virt:       newVirtualizer(sampleRate),
		rev:        newReverb(sampleRate),
		gain:       1,
	}
	slog.Debug("dsp chain created",
		"sample_rate", sampleRate,
		"eq_backend", backend.String())
	return c
}

// Backend reports which equalizer implementation this chain resolved at
// construction.
func (c *Chain) Backend() Backend {
	return c.backend
}

// Process runs the full chain in place on stereo interleaved samples,
// under a single parameter snapshot.
func (c *Chain) Process(samples []float32) {
	p := c.store.Load()

	c.applyGain(samples, p)

	if c.backend.Kind == BackendSoftware {
		c.eq.apply(p.EQEnabled, p.EQGains)
		c.eq.process(samples)
	}

	c.bass.apply(p.BassBoost)
	c.bass.process(samples)

	c.virt.apply(p.Virtualizer)
	c.virt.process(samples)

	c.rev.apply(p.ReverbPreset, p.Reverb)
	c.rev.process(samples)

	softClipBuffer(samples)
}

// applyGain applies the normalization gain. When the target moved since
// the previous buffer the gain ramps linearly across this one, so a step
// change never lands as an audible click.
func (c *Chain) applyGain(samples []float32, p *Params) {
	target := 1.0
	if p.NormalizationEnabled {
		target = math.Pow(10, p.NormalizationGainDB/20)
	}
	if target == c.gain {
		if target == 1 {
			return
		}
		g := float32(target)
		for i := range samples {
			samples[i] *= g
		}
		return
	}

	frames := len(samples) / 2
	if frames == 0 {
		c.gain = target
		return
	}
	step := (target - c.gain) / float64(frames)
	g := c.gain
	for i := 0; i+1 < len(samples); i += 2 {
		g += step
		fg := float32(g)
		samples[i] *= fg
		samples[i+1] *= fg
	}
	c.gain = target
}

// Reset clears all filter and delay state. Sessions call it on seek and
// restart so stale tails never bleed into the new position.
func (c *Chain) Reset() {
	c.eq.reset()
	c.bass.reset()
	c.virt.reset()
	c.rev.reset()
}
