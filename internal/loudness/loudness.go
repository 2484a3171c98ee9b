// Package loudness measures audio files offline: integrated loudness and
// loudness range per ITU-R BS.1770-4, true peak from a 4x polyphase
// oversampler, and the position where a track fades into trailing silence.
// Scans run off the live playback path on their own decoder instances, so
// batch analysis never competes with the player for codec slots.
package loudness

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/audio"
)

// Report is the result of one whole-file scan.
type Report struct {
	Path       string
	Integrated float64 // LUFS
	Range      float64 // LU
	TruePeak   float64 // linear absolute amplitude

	// SilenceStart is where trailing silence begins, measured against
	// DefaultSilenceThresholdDB. Negative when the track is still loud
	// at its end.
	SilenceStart time.Duration

	Duration   time.Duration
	SampleRate int
	AnalyzedAt time.Time
}

// Scan decodes path end to end and measures it. The context is checked
// between frame pulls so a cancelled scan returns promptly, and the
// decoder is released on every return path.
func Scan(ctx context.Context, registry *audio.CodecRegistry, fsys afero.Fs, pool *audio.InstancePool, path string) (*Report, error) {
	src, err := audio.OpenFileSource(fsys, path)
	if err != nil {
		return nil, err
	}

	dec := audio.NewDecoder(registry, pool)
	if err := dec.Configure(src); err != nil {
		src.Close()
		return nil, err
	}
	defer dec.Release()

	if err := dec.Start(); err != nil {
		return nil, err
	}

	format := dec.Format()
	meter := NewMeter(format.SampleRate)
	peak := newTruePeak()
	tail := newTailTracker(format.SampleRate, DefaultSilenceThresholdDB, 0)

	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			slog.Info("loudness scan cancelled",
				"path", path,
				"frames_scanned", meter.Frames())
			return nil, ctx.Err()
		default:
		}

		frame, err := dec.PullFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		meter.Process(frame.Data)
		peak.process(frame.Data)
		tail.process(frame.Data)
	}

	report := &Report{
		Path:         path,
		Integrated:   meter.Integrated(),
		Range:        meter.Range(),
		TruePeak:     peak.value(),
		SilenceStart: -1,
		Duration:     format.Duration(meter.Frames()),
		SampleRate:   format.SampleRate,
		AnalyzedAt:   time.Now(),
	}
	silenceMs := int64(-1)
	if frameIdx, found := tail.silenceStart(); found {
		report.SilenceStart = format.Duration(frameIdx)
		silenceMs = report.SilenceStart.Milliseconds()
	}

	slog.Info("loudness scan complete",
		"path", path,
		"integrated_lufs", report.Integrated,
		"range_lu", report.Range,
		"true_peak", report.TruePeak,
		"silence_start_ms", silenceMs,
		"duration_ms", report.Duration.Milliseconds(),
		"elapsed_ms", time.Since(started).Milliseconds())
	return report, nil
}
