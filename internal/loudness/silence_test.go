package loudness

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/audio"
	"cadenza.audio/internal/audiotest"
)

func TestTailTrackerLocatesSilenceStart(t *testing.T) {
	const rate = 48000
	samples := append(
		audiotest.StereoSine(440, rate, rate, 0.3),
		audiotest.Silence(rate/2, 2)...)

	tr := newTailTracker(rate, -60, 0)
	tr.process(samples)

	frame, found := tr.silenceStart()
	if !found {
		t.Fatal("expected trailing silence to be found")
	}
	// The tone ends exactly on an RMS window boundary, so the location
	// is exact.
	if frame != rate {
		t.Errorf("silence starts at frame %d, want %d", frame, rate)
	}
}

func TestTailTrackerLoudToEnd(t *testing.T) {
	const rate = 48000
	tr := newTailTracker(rate, -60, 0)
	tr.process(audiotest.StereoSine(440, rate, rate, 0.3))

	if _, found := tr.silenceStart(); found {
		t.Error("found silence in a tone that runs to the end")
	}
}

func TestTailTrackerLoudPartialFinalWindow(t *testing.T) {
	const rate = 48000
	// Silence, then a burst shorter than one RMS window right at the
	// end. The partial window must count as loud and cancel the result.
	samples := append(
		audiotest.Silence(rate, 2),
		audiotest.StereoSine(440, rate, rate/100, 0.5)...)

	tr := newTailTracker(rate, -60, 0)
	tr.process(samples)

	if _, found := tr.silenceStart(); found {
		t.Error("found silence despite a loud final instant")
	}
}

func TestTailTrackerAllSilentReportsRegionStart(t *testing.T) {
	const rate = 48000
	tr := newTailTracker(rate, -60, 12345)
	tr.process(audiotest.Silence(rate, 2))

	frame, found := tr.silenceStart()
	if !found {
		t.Fatal("expected an all-silent region to be reported as silence")
	}
	if frame != 12345 {
		t.Errorf("silence starts at frame %d, want the region start 12345", frame)
	}
}

func TestTailTrackerEmptyInput(t *testing.T) {
	tr := newTailTracker(48000, -60, 0)
	if _, found := tr.silenceStart(); found {
		t.Error("found silence in empty input")
	}
}

// silenceFixture builds a mono WAV of a tone followed by zeros.
func silenceFixture(t *testing.T, rate, toneFrames, silentFrames int) afero.Fs {
	t.Helper()
	samples := append(
		audiotest.SineInt16(440, rate, toneFrames, 0.5),
		make([]int16, silentFrames)...)

	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/music/track.wav", audiotest.BuildWAV(rate, 1, samples), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return fsys
}

func TestFindSilenceStartOnFile(t *testing.T) {
	const rate = 44100
	fsys := silenceFixture(t, rate, rate, rate/2)
	registry := audio.NewDefaultRegistry()

	got, found, err := FindSilenceStart(context.Background(), registry, fsys, nil,
		"/music/track.wav", -50, 2*time.Second)
	if err != nil {
		t.Fatalf("FindSilenceStart failed: %v", err)
	}
	if !found {
		t.Fatal("expected trailing silence to be found")
	}
	if got < 940*time.Millisecond || got > 1060*time.Millisecond {
		t.Errorf("silence starts at %v, want about 1s", got)
	}
}

func TestFindSilenceStartWindowLimitsScan(t *testing.T) {
	const rate = 44100
	// 1 s tone + 1 s silence, but only the last 500 ms scanned: the
	// whole window is silent, so the window start is the best answer.
	fsys := silenceFixture(t, rate, rate, rate)
	registry := audio.NewDefaultRegistry()

	got, found, err := FindSilenceStart(context.Background(), registry, fsys, nil,
		"/music/track.wav", -50, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("FindSilenceStart failed: %v", err)
	}
	if !found {
		t.Fatal("expected the silent window to be reported")
	}
	if got < 1450*time.Millisecond || got > 1550*time.Millisecond {
		t.Errorf("silence starts at %v, want the window start at 1.5s", got)
	}
}

func TestFindSilenceStartNoSilence(t *testing.T) {
	const rate = 44100
	fsys := silenceFixture(t, rate, rate, 0)
	registry := audio.NewDefaultRegistry()

	_, found, err := FindSilenceStart(context.Background(), registry, fsys, nil,
		"/music/track.wav", -50, 2*time.Second)
	if err != nil {
		t.Fatalf("FindSilenceStart failed: %v", err)
	}
	if found {
		t.Error("found silence in a file that is loud to its end")
	}
}
