package loudness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/audio"
)

// Defaults for the silence scan folded into a full Scan. Ten seconds of
// tail covers long fade-outs; -60 dB sits below any musical decay but
// above dither and encoder noise.
const (
	DefaultSilenceThresholdDB = -60.0
	DefaultSilenceWindow      = 10 * time.Second

	rmsWindowMs = 50
)

// tailTracker locates where a signal last drops below a threshold and
// stays there. Level is RMS over 50 ms sub-windows across both channels;
// the tracker remembers the frame just past the last loud window, and
// everything after that point is trailing silence.
type tailTracker struct {
	threshold float64 // linear RMS threshold
	winFrames int
	start     int64 // first frame index scanned
	count     int64 // frames consumed
	sum       float64
	fill      int
	lastLoud  int64 // frame just past the last above-threshold window; -1 when none seen
}

func newTailTracker(sampleRate int, thresholdDB float64, start int64) *tailTracker {
	win := sampleRate * rmsWindowMs / 1000
	if win < 1 {
		win = 1
	}
	return &tailTracker{
		threshold: math.Pow(10, thresholdDB/20),
		winFrames: win,
		start:     start,
		lastLoud:  -1,
	}
}

// process consumes interleaved stereo samples.
func (t *tailTracker) process(samples []float32) {
	for i := 0; i+1 < len(samples); i += 2 {
		l := float64(samples[i])
		r := float64(samples[i+1])
		t.sum += (l*l + r*r) / 2
		t.fill++
		t.count++
		if t.fill == t.winFrames {
			t.flushWindow()
		}
	}
}

func (t *tailTracker) flushWindow() {
	rms := math.Sqrt(t.sum / float64(t.fill))
	if rms >= t.threshold {
		t.lastLoud = t.start + t.count
	}
	t.sum = 0
	t.fill = 0
}

// silenceStart returns the frame where trailing silence begins. A partial
// final window is judged like a full one, so a loud last instant cancels
// the result.
func (t *tailTracker) silenceStart() (int64, bool) {
	if t.fill > 0 {
		t.flushWindow()
	}
	end := t.start + t.count
	switch {
	case t.count == 0:
		return 0, false
	case t.lastLoud < 0:
		// Silent through the whole scanned region; it may have gone
		// quiet even earlier.
		return t.start, true
	case t.lastLoud >= end:
		return 0, false
	default:
		return t.lastLoud, true
	}
}

// FindSilenceStart scans the trailing window of a file for the point after
// which the level stays below thresholdDB until the end. It reports where
// that trailing silence begins, or found=false when the file is still
// above threshold at its end. Transitions use it to start a crossfade
// inside actual signal instead of over a silent tail.
//
// The scan runs on its own decoder and releases it on every return path;
// ctx cancels it between frame pulls.
func FindSilenceStart(ctx context.Context, registry *audio.CodecRegistry, fsys afero.Fs, pool *audio.InstancePool, path string, thresholdDB float64, window time.Duration) (time.Duration, bool, error) {
	src, err := audio.OpenFileSource(fsys, path)
	if err != nil {
		return 0, false, err
	}

	dec := audio.NewDecoder(registry, pool)
	if err := dec.Configure(src); err != nil {
		src.Close()
		return 0, false, err
	}
	defer dec.Release()

	if err := dec.Start(); err != nil {
		return 0, false, err
	}

	format := dec.Format()
	start := int64(0)
	if wf := format.FramesFor(window); wf > 0 && dec.Frames() > wf {
		start = dec.Frames() - wf
		if err := dec.Seek(start); err != nil {
			return 0, false, fmt.Errorf("seek to tail: %w", err)
		}
	}

	tracker := newTailTracker(format.SampleRate, thresholdDB, start)
	for {
		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		default:
		}

		frame, err := dec.PullFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, false, err
		}
		tracker.process(frame.Data)
	}

	frameIdx, found := tracker.silenceStart()
	if !found {
		return 0, false, nil
	}
	slog.Debug("trailing silence located",
		"path", path,
		"silence_start_frame", frameIdx,
		"threshold_db", thresholdDB)
	return format.Duration(frameIdx), true, nil
}
