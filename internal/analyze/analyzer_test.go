package analyze

import (
	"math"
	"testing"
	"time"

	"cadenza.audio/internal/audiotest"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{SampleRate: 48000}.withDefaults()

	if c.WindowSize != DefaultWindowSize {
		t.Errorf("WindowSize = %d, want %d", c.WindowSize, DefaultWindowSize)
	}
	if c.Bands != DefaultBands {
		t.Errorf("Bands = %d, want %d", c.Bands, DefaultBands)
	}
	if c.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", c.Interval, DefaultInterval)
	}
	if c.Smoothing != DefaultSmoothing {
		t.Errorf("Smoothing = %g, want %g", c.Smoothing, DefaultSmoothing)
	}
}

func TestConfigRoundsWindowToPowerOfTwo(t *testing.T) {
	c := Config{SampleRate: 48000, WindowSize: 3000}.withDefaults()
	if c.WindowSize != 4096 {
		t.Errorf("WindowSize = %d, want 4096", c.WindowSize)
	}
}

func TestConfigCapsBandCount(t *testing.T) {
	c := Config{SampleRate: 48000, WindowSize: 64, Bands: 100}.withDefaults()
	if c.Bands != 16 {
		t.Errorf("Bands = %d, want capped to window/4 = 16", c.Bands)
	}
}

func TestAnalyzerEnableDisableReleasesBuffers(t *testing.T) {
	tap := NewTap()
	a := NewAnalyzer(Config{SampleRate: 48000}, tap)

	if a.Enabled() {
		t.Fatal("analyzer should start disabled")
	}

	a.SetEnabled(true)
	if !a.Enabled() {
		t.Fatal("SetEnabled(true) did not enable")
	}
	if a.hann == nil || a.input == nil || a.ranges == nil {
		t.Error("enable should allocate analysis state")
	}
	if tap.buf == nil {
		t.Error("enable should allocate the tap ring")
	}

	a.SetEnabled(false)
	if a.Enabled() {
		t.Fatal("SetEnabled(false) did not disable")
	}
	if a.hann != nil || a.input != nil || a.smoothed != nil || a.bands != nil || a.ranges != nil || a.history != nil {
		t.Error("disable should release analysis state")
	}
	if tap.buf != nil {
		t.Error("disable should release the tap ring")
	}
}

func TestAnalyzerSetEnabledIdempotent(t *testing.T) {
	a := NewAnalyzer(Config{SampleRate: 48000}, NewTap())

	a.SetEnabled(false) // already disabled, must not panic
	a.SetEnabled(true)
	a.SetEnabled(true) // already enabled, must not double-start
	a.SetEnabled(false)
	a.SetEnabled(false)
}

func TestAnalyzerStepWithoutData(t *testing.T) {
	tap := NewTap()
	a := NewAnalyzer(Config{SampleRate: 48000}, tap)
	a.alloc()

	if _, ok := a.step(); ok {
		t.Error("step should fail while the tap is disabled")
	}
}

func TestAnalyzerStepOnTone(t *testing.T) {
	tap := NewTap()
	a := NewAnalyzer(Config{SampleRate: 48000}, tap)
	a.alloc()
	tap.Enable(a.cfg.WindowSize)

	tap.Push(audiotest.StereoSine(1000, 48000, a.cfg.WindowSize, 0.5))

	frame, ok := a.step()
	if !ok {
		t.Fatal("step failed with a full window available")
	}

	if len(frame.Bands) != a.cfg.Bands {
		t.Errorf("band count = %d, want %d", len(frame.Bands), a.cfg.Bands)
	}
	if math.Abs(frame.Energy-0.5/math.Sqrt2) > 0.02 {
		t.Errorf("energy = %g, want ~%g for a 0.5 amplitude sine", frame.Energy, 0.5/math.Sqrt2)
	}
	if frame.Beat != 0 {
		t.Errorf("beat = %g on the very first frame, want 0", frame.Beat)
	}
	if frame.Mid <= frame.Bass || frame.Mid <= frame.Treble {
		t.Errorf("1 kHz tone should dominate mid: bass=%g mid=%g treble=%g", frame.Bass, frame.Mid, frame.Treble)
	}

	argmax := 0
	for i, v := range frame.Bands {
		if v > frame.Bands[argmax] {
			argmax = i
		}
	}
	r := a.ranges[argmax]
	toneBin := int(1000.0 * float64(a.cfg.WindowSize) / 48000)
	if toneBin < r.lo || toneBin >= r.hi {
		t.Errorf("strongest band %d misses the tone bin %d", argmax, toneBin)
	}
}

func TestAnalyzerBeatOnBassBurst(t *testing.T) {
	tap := NewTap()
	a := NewAnalyzer(Config{SampleRate: 48000}, tap)
	a.alloc()
	tap.Enable(a.cfg.WindowSize)

	// Warm the trailing average with a quiet bass floor.
	for i := 0; i < 30; i++ {
		tap.Push(audiotest.StereoSine(60, 48000, a.cfg.WindowSize, 0.05))
		if _, ok := a.step(); !ok {
			t.Fatal("warmup step failed")
		}
	}

	tap.Push(audiotest.StereoSine(60, 48000, a.cfg.WindowSize, 0.9))
	frame, ok := a.step()
	if !ok {
		t.Fatal("burst step failed")
	}
	if frame.Beat <= 0 {
		t.Errorf("beat = %g after an 18x bass burst, want > 0", frame.Beat)
	}
}

func TestAnalyzerSmoothingConverges(t *testing.T) {
	tap := NewTap()
	a := NewAnalyzer(Config{SampleRate: 48000, Smoothing: 0.5}, tap)
	a.alloc()
	tap.Enable(a.cfg.WindowSize)
	tap.Push(audiotest.StereoSine(1000, 48000, a.cfg.WindowSize, 0.5))

	first, _ := a.step()
	var second PulseFrame
	for i := 0; i < 20; i++ {
		second, _ = a.step()
	}

	argmax := 0
	for i, v := range second.Bands {
		if v > second.Bands[argmax] {
			argmax = i
		}
	}
	// With a steady input the smoothed value climbs toward the raw one.
	if second.Bands[argmax] <= first.Bands[argmax] {
		t.Errorf("smoothed band did not converge upward: first %g, later %g",
			first.Bands[argmax], second.Bands[argmax])
	}
}

func TestAnalyzerEmitsFrames(t *testing.T) {
	tap := NewTap()
	a := NewAnalyzer(Config{SampleRate: 48000, Interval: 5 * time.Millisecond}, tap)

	a.SetEnabled(true)
	defer a.SetEnabled(false)

	tap.Push(audiotest.StereoSine(1000, 48000, a.cfg.WindowSize, 0.5))

	var frames []PulseFrame
	deadline := time.After(2 * time.Second)
	for len(frames) < 3 {
		select {
		case f := <-a.Frames():
			frames = append(frames, f)
		case <-deadline:
			t.Fatalf("only %d frames within deadline", len(frames))
		}
	}

	for i := 1; i < len(frames); i++ {
		if frames[i].Time.Before(frames[i-1].Time) {
			t.Errorf("frame %d timestamp %v before frame %d at %v",
				i, frames[i].Time, i-1, frames[i-1].Time)
		}
	}
}
