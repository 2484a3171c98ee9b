package analyze

import "math"

// Aggregate frequency split points. Bands whose center falls below
// bassCutoffHz feed the bass aggregate and the beat detector; centers
// above trebleCutoffHz feed treble; the rest is mid.
const (
	bassCutoffHz   = 250.0
	trebleCutoffHz = 4000.0

	// bandFloorHz is the lowest frequency the band layout covers.
	bandFloorHz = 20.0
)

// Beat detection: the current bass level is compared against its trailing
// average; a beat fires when it exceeds beatRatio times the average and
// the average itself is above the noise floor.
const (
	beatRatio = 1.5
	beatFloor = 1e-4
)

// bandRange maps one output band onto a half-open FFT bin range.
type bandRange struct {
	lo, hi   int // bins [lo, hi)
	centerHz float64
}

// computeBandRanges lays out count log-spaced bands between bandFloorHz
// and Nyquist over an FFT of windowSize points. Every band covers at
// least one bin, and ranges never run past Nyquist.
func computeBandRanges(windowSize, count, sampleRate int) []bandRange {
	nyquistBin := windowSize / 2
	binHz := float64(sampleRate) / float64(windowSize)
	hi := float64(sampleRate) / 2

	ranges := make([]bandRange, count)
	ratio := hi / bandFloorHz
	prev := int(bandFloorHz / binHz)
	for i := 0; i < count; i++ {
		edge := bandFloorHz * math.Pow(ratio, float64(i+1)/float64(count))
		bin := int(edge / binHz)
		if bin <= prev {
			bin = prev + 1
		}
		if bin > nyquistBin {
			bin = nyquistBin
		}
		lo := prev
		if lo >= bin {
			lo = bin - 1
		}
		center := bandFloorHz * math.Pow(ratio, (float64(i)+0.5)/float64(count))
		ranges[i] = bandRange{lo: lo, hi: bin, centerHz: center}
		prev = bin
	}
	return ranges
}

// bandMagnitudes averages FFT magnitudes into each band's bin range.
// spectrum holds the full complex FFT output; magnitudes are normalized
// by 2/windowSize so a full-scale sine lands near 1.0 before windowing
// loss.
func bandMagnitudes(spectrum []complex128, ranges []bandRange, out []float64) {
	norm := 2 / float64(len(spectrum))
	for i, r := range ranges {
		var sum float64
		for bin := r.lo; bin < r.hi; bin++ {
			c := spectrum[bin]
			sum += math.Hypot(real(c), imag(c))
		}
		width := r.hi - r.lo
		if width < 1 {
			width = 1
		}
		out[i] = sum / float64(width) * norm
	}
}

// aggregates splits band values into bass, mid, and treble means.
func aggregates(bands []float64, ranges []bandRange) (bass, mid, treble float64) {
	var nb, nm, nt int
	for i, r := range ranges {
		switch {
		case r.centerHz < bassCutoffHz:
			bass += bands[i]
			nb++
		case r.centerHz > trebleCutoffHz:
			treble += bands[i]
			nt++
		default:
			mid += bands[i]
			nm++
		}
	}
	if nb > 0 {
		bass /= float64(nb)
	}
	if nm > 0 {
		mid /= float64(nm)
	}
	if nt > 0 {
		treble /= float64(nt)
	}
	return bass, mid, treble
}

// beatHistory is the trailing bass-level window the beat detector
// compares against.
type beatHistory struct {
	vals   []float64
	pos    int
	filled int
}

func newBeatHistory(n int) *beatHistory {
	if n < 2 {
		n = 2
	}
	return &beatHistory{vals: make([]float64, n)}
}

// impulse compares the current bass level against the trailing average
// and then records it. The returned impulse is 0 outside a beat and
// rises toward 1 as the level approaches twice the trigger threshold.
func (h *beatHistory) impulse(bass float64) float64 {
	var beat float64
	if h.filled >= len(h.vals)/2 {
		var sum float64
		for _, v := range h.vals[:h.filled] {
			sum += v
		}
		avg := sum / float64(h.filled)
		if avg > beatFloor && bass > beatRatio*avg {
			beat = (bass/avg - beatRatio) / beatRatio
			if beat > 1 {
				beat = 1
			}
		}
	}

	h.vals[h.pos] = bass
	h.pos = (h.pos + 1) % len(h.vals)
	if h.filled < len(h.vals) {
		h.filled++
	}
	return beat
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
