// Package analyze turns rendered PCM into a compact visual-feedback
// stream: log-spaced spectrum bands, bass/mid/treble aggregates, signal
// energy, and a beat impulse, emitted as rate-limited PulseFrames.
//
// The analyzer applies exactly one smoothing stage to the bands it
// emits. Consumers that want a different responsiveness should change
// the Smoothing coefficient here rather than stack their own filter on
// top; two cascaded smoothers add perceptible lag.
package analyze

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Defaults for Config fields left zero.
const (
	DefaultWindowSize = 4096
	DefaultBands      = 32
	DefaultInterval   = 40 * time.Millisecond
	DefaultSmoothing  = 0.65
)

// Config sizes the analyzer. The zero value of any field selects its
// default.
type Config struct {
	// SampleRate of the PCM reaching the tap. Required.
	SampleRate int
	// WindowSize is the FFT length in samples; rounded up to the next
	// power of two when it is not one already.
	WindowSize int
	// Bands is the number of log-spaced output bands.
	Bands int
	// Interval is the emit cadence; analysis cost is bounded by it
	// independently of any consumer's frame rate.
	Interval time.Duration
	// Smoothing is the exponential coefficient applied to band values,
	// 0 (none) to 1 (frozen). This is the single smoothing stage.
	Smoothing float64
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		slog.Warn("analyzer config missing sample rate, assuming 48kHz")
		c.SampleRate = 48000
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if next := nextPowerOfTwo(c.WindowSize); next != c.WindowSize {
		slog.Warn("analysis window rounded to power of two", "given", c.WindowSize, "used", next)
		c.WindowSize = next
	}
	if c.Bands <= 0 {
		c.Bands = DefaultBands
	}
	if c.Bands > c.WindowSize/4 {
		c.Bands = c.WindowSize / 4
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Smoothing <= 0 {
		c.Smoothing = DefaultSmoothing
	}
	if c.Smoothing >= 1 {
		c.Smoothing = 0.99
	}
	return c
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// PulseFrame is one analysis cycle's output. Band values are smoothed;
// Beat and Energy are instantaneous.
type PulseFrame struct {
	Time   time.Time
	Bands  []float64
	Bass   float64
	Mid    float64
	Treble float64
	Energy float64
	Beat   float64
}

// Analyzer runs a ticker-driven analysis goroutine over a Tap while
// enabled. While disabled it holds no window, scratch, or FFT buffers
// at all; enabling reallocates them.
type Analyzer struct {
	cfg Config
	tap *Tap

	mu      sync.Mutex
	enabled bool
	done    chan struct{}
	wg      sync.WaitGroup

	// Analysis state, allocated on enable and released on disable. Owned
	// by the run goroutine while it is alive.
	hann     []float64
	input    []float64
	smoothed []float64
	bands    []float64
	ranges   []bandRange
	history  *beatHistory

	out chan PulseFrame
}

// NewAnalyzer builds a disabled analyzer reading from tap.
func NewAnalyzer(cfg Config, tap *Tap) *Analyzer {
	return &Analyzer{
		cfg: cfg.withDefaults(),
		tap: tap,
		out: make(chan PulseFrame, 1),
	}
}

// Frames returns the output stream. Delivery is latest-wins: a slow
// consumer sees the freshest frame, never a backlog.
func (a *Analyzer) Frames() <-chan PulseFrame {
	return a.out
}

// Enabled reports whether the analysis goroutine is running.
func (a *Analyzer) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// SetEnabled starts or stops analysis. Disabling releases every large
// buffer the analyzer and its tap hold.
func (a *Analyzer) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if enabled == a.enabled {
		return
	}
	if enabled {
		a.alloc()
		a.tap.Enable(a.cfg.WindowSize)
		a.done = make(chan struct{})
		a.wg.Add(1)
		go a.run(a.done)
		a.enabled = true
		slog.Info("spectral analyzer enabled",
			"window", a.cfg.WindowSize,
			"bands", a.cfg.Bands,
			"interval_ms", a.cfg.Interval.Milliseconds())
		return
	}

	close(a.done)
	a.wg.Wait()
	a.done = nil
	a.tap.Disable()
	a.free()
	a.enabled = false
	slog.Info("spectral analyzer disabled")
}

// Close stops the analyzer. Equivalent to SetEnabled(false).
func (a *Analyzer) Close() error {
	a.SetEnabled(false)
	return nil
}

func (a *Analyzer) alloc() {
	n := a.cfg.WindowSize
	a.hann = window.Hann(n)
	a.input = make([]float64, n)
	a.smoothed = make([]float64, a.cfg.Bands)
	a.bands = make([]float64, a.cfg.Bands)
	a.ranges = computeBandRanges(n, a.cfg.Bands, a.cfg.SampleRate)
	a.history = newBeatHistory(int(time.Second / a.cfg.Interval))
}

func (a *Analyzer) free() {
	a.hann = nil
	a.input = nil
	a.smoothed = nil
	a.bands = nil
	a.ranges = nil
	a.history = nil
}

func (a *Analyzer) run(done chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if frame, ok := a.step(); ok {
				a.publish(frame)
			}
		}
	}
}

// step runs one analysis cycle: window, FFT, band fold, aggregates,
// beat. It reports false when the tap cannot fill a window yet.
func (a *Analyzer) step() (PulseFrame, bool) {
	if !a.tap.Window(a.input) {
		return PulseFrame{}, false
	}

	energy := rms(a.input)
	for i := range a.input {
		a.input[i] *= a.hann[i]
	}

	spectrum := fft.FFTReal(a.input)
	bandMagnitudes(spectrum, a.ranges, a.bands)

	s := a.cfg.Smoothing
	for i, v := range a.bands {
		a.smoothed[i] = a.smoothed[i]*s + v*(1-s)
	}

	bass, mid, treble := aggregates(a.smoothed, a.ranges)
	rawBass, _, _ := aggregates(a.bands, a.ranges)
	beat := a.history.impulse(rawBass)

	frame := PulseFrame{
		Time:   time.Now(),
		Bands:  append([]float64(nil), a.smoothed...),
		Bass:   bass,
		Mid:    mid,
		Treble: treble,
		Energy: energy,
		Beat:   beat,
	}
	return frame, true
}

// publish delivers latest-wins: a stale undelivered frame is dropped in
// favor of the new one rather than blocking the analysis loop.
func (a *Analyzer) publish(frame PulseFrame) {
	for {
		select {
		case a.out <- frame:
			return
		default:
		}
		select {
		case <-a.out:
		default:
		}
	}
}
