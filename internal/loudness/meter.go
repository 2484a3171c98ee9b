package loudness

import (
	"math"
	"sort"
)

// Block geometry per BS.1770-4 and EBU R 128: integrated loudness gates on
// 400 ms blocks at 75 % overlap, loudness range on 3 s blocks. Both are
// whole multiples of a 100 ms sub-block, so the meter accumulates energy
// per sub-block once and sums runs of them for either measurement.
const (
	subBlockMs         = 100
	gatingSubBlocks    = 4  // 400 ms integrated gating block
	gatingHopSubBlocks = 1  // 100 ms hop = 75 % overlap
	rangeSubBlocks     = 30 // 3 s loudness-range block
	rangeHopSubBlocks  = 10 // 1 s hop

	absoluteGateLUFS = -70.0
	relativeGateLU   = -10.0
	rangeGateLU      = -20.0

	rangeLowPercentile  = 0.10
	rangeHighPercentile = 0.95
)

// loudnessOffset is the -0.691 term of the BS.1770-4 loudness equation,
// folding the prefilter's gain at 1 kHz out of the reading.
const loudnessOffset = -0.691

// silenceFloorLUFS is reported when gating leaves no blocks at all: input
// shorter than one gating block, or silent throughout. Keeping the reading
// finite at the absolute-gate floor keeps it storable and comparable.
const silenceFloorLUFS = -70.0

// subBlock holds per-channel sums of squared K-weighted samples over one
// 100 ms span.
type subBlock struct {
	l, r float64
}

// Meter accumulates K-weighted block energies from interleaved stereo PCM.
// Feed it the whole stream with Process, then read Integrated and Range.
type Meter struct {
	sampleRate int
	k          [2]kFilter
	subFrames  int // frames per sub-block

	sumL, sumR float64 // squared-sample sums of the sub-block in progress
	fill       int     // frames accumulated toward it
	subs       []subBlock
	frames     int64
}

// NewMeter creates a meter for the given stream rate.
func NewMeter(sampleRate int) *Meter {
	return &Meter{
		sampleRate: sampleRate,
		k:          [2]kFilter{newKFilter(sampleRate), newKFilter(sampleRate)},
		subFrames:  sampleRate * subBlockMs / 1000,
	}
}

// Process runs interleaved stereo samples through the prefilter and folds
// them into block energies. Call repeatedly; order matters, the prefilter
// carries state across calls.
func (m *Meter) Process(samples []float32) {
	for i := 0; i+1 < len(samples); i += 2 {
		l := m.k[0].tick(float64(samples[i]))
		r := m.k[1].tick(float64(samples[i+1]))
		m.sumL += l * l
		m.sumR += r * r
		m.fill++
		m.frames++
		if m.fill == m.subFrames {
			m.subs = append(m.subs, subBlock{m.sumL, m.sumR})
			m.sumL, m.sumR = 0, 0
			m.fill = 0
		}
	}
}

// Frames returns how many sample frames the meter has consumed.
func (m *Meter) Frames() int64 {
	return m.frames
}

// blockEnergy sums n sub-blocks starting at index i into a mean-square
// energy with unity channel weights (the BS.1770-4 weights for stereo).
func (m *Meter) blockEnergy(i, n int) float64 {
	var l, r float64
	for j := i; j < i+n; j++ {
		l += m.subs[j].l
		r += m.subs[j].r
	}
	frames := float64(n * m.subFrames)
	return l/frames + r/frames
}

// energyToLoudness converts a block's mean-square energy to LUFS. Zero
// energy maps to -Inf, which every gate rejects naturally.
func energyToLoudness(e float64) float64 {
	return loudnessOffset + 10*math.Log10(e)
}

// Integrated returns the gated integrated loudness in LUFS: an absolute
// gate at -70 LUFS, then a relative gate 10 LU below the mean of what
// survived.
func (m *Meter) Integrated() float64 {
	var blocks []float64
	for i := 0; i+gatingSubBlocks <= len(m.subs); i += gatingHopSubBlocks {
		blocks = append(blocks, m.blockEnergy(i, gatingSubBlocks))
	}

	var sum float64
	var n int
	for _, e := range blocks {
		if energyToLoudness(e) > absoluteGateLUFS {
			sum += e
			n++
		}
	}
	if n == 0 {
		return silenceFloorLUFS
	}

	relativeGate := energyToLoudness(sum/float64(n)) + relativeGateLU
	sum, n = 0, 0
	for _, e := range blocks {
		if l := energyToLoudness(e); l > absoluteGateLUFS && l > relativeGate {
			sum += e
			n++
		}
	}
	if n == 0 {
		return silenceFloorLUFS
	}
	return energyToLoudness(sum / float64(n))
}

// Range returns the loudness range in LU: the spread between the 10th and
// 95th percentile of gated 3 s block loudness. Zero when the input is too
// short or too quiet to produce at least two gated blocks.
func (m *Meter) Range() float64 {
	var energies []float64
	for i := 0; i+rangeSubBlocks <= len(m.subs); i += rangeHopSubBlocks {
		energies = append(energies, m.blockEnergy(i, rangeSubBlocks))
	}

	var sum float64
	abs := energies[:0:0]
	for _, e := range energies {
		if energyToLoudness(e) > absoluteGateLUFS {
			abs = append(abs, e)
			sum += e
		}
	}
	if len(abs) == 0 {
		return 0
	}

	relativeGate := energyToLoudness(sum/float64(len(abs))) + rangeGateLU
	var gated []float64
	for _, e := range abs {
		if l := energyToLoudness(e); l > relativeGate {
			gated = append(gated, l)
		}
	}
	if len(gated) < 2 {
		return 0
	}

	sort.Float64s(gated)
	return percentile(gated, rangeHighPercentile) - percentile(gated, rangeLowPercentile)
}

// percentile reads the nearest-rank value at fraction q of a sorted slice.
func percentile(sorted []float64, q float64) float64 {
	idx := int(math.Round(float64(len(sorted)-1) * q))
	return sorted[idx]
}
