package dsp

import (
	"math"
	"testing"

	"cadenza.audio/internal/audiotest"
)

func TestBassBoostZeroStrengthPassthrough(t *testing.T) {
	b := newBassBoost(48000)
	b.apply(0)

	samples := audiotest.StereoSine(60, 48000, 4800, 0.5)
	want := make([]float32, len(samples))
	copy(want, samples)

	b.process(samples)

	for i := range samples {
		if samples[i] != want[i] {
			t.Fatalf("zero-strength bass boost altered sample %d", i)
		}
	}
}

func TestBassBoostRaisesLowEnd(t *testing.T) {
	b := newBassBoost(48000)
	b.apply(1000)

	low := measuredGainDB(t, 40, 48000, b.process)
	if low < 9 || low > 12.5 {
		t.Errorf("40 Hz gain at full strength = %.2f dB, want near +12", low)
	}
}

func TestBassBoostLeavesHighEnd(t *testing.T) {
	b := newBassBoost(48000)
	b.apply(1000)

	high := measuredGainDB(t, 5000, 48000, b.process)
	if math.Abs(high) > 0.5 {
		t.Errorf("5 kHz gain at full strength = %.2f dB, want ~0", high)
	}
}

func TestBassBoostScalesWithStrength(t *testing.T) {
	half := newBassBoost(48000)
	half.apply(500)
	gHalf := measuredGainDB(t, 60, 48000, half.process)

	full := newBassBoost(48000)
	full.apply(1000)
	gFull := measuredGainDB(t, 60, 48000, full.process)

	if gHalf <= 1 {
		t.Errorf("half strength gain = %.2f dB, expected an audible boost", gHalf)
	}
	if gFull <= gHalf {
		t.Errorf("gain should grow with strength: full %.2f dB <= half %.2f dB", gFull, gHalf)
	}
}
