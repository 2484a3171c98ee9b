package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/audio"
	"cadenza.audio/internal/audiotest"
	"cadenza.audio/internal/dsp"
	"cadenza.audio/internal/loudness"
)

// trackSpec describes one fixture track at 8 kHz stereo.
type trackSpec struct {
	frames  int
	level   float32
	samples []float32 // overrides frames/level when set
}

func dcSamples(frames int, level float32) []float32 {
	s := make([]float32, frames*2)
	for i := range s {
		s[i] = level
	}
	return s
}

func sineSamples(frames int, freq, amp float64) []float32 {
	s := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		v := float32(amp * math.Sin(2*math.Pi*freq*float64(i)/8000))
		s[2*i] = v
		s[2*i+1] = v
	}
	return s
}

// newTestEngine builds an engine over a memory filesystem with one fake
// codec per track and a recording sink at 8 kHz. The returned paths
// index the fixtures in order.
func newTestEngine(t *testing.T, cfg Config, writeDelay time.Duration, specs ...trackSpec) (*Engine, *audiotest.FakeSink, []string) {
	t.Helper()

	registry := audio.NewCodecRegistry()
	fsys := afero.NewMemMapFs()
	paths := make([]string, len(specs))
	for i, spec := range specs {
		samples := spec.samples
		if samples == nil {
			samples = dcSamples(spec.frames, spec.level)
		}
		ext := fmt.Sprintf(".t%d", i+1)
		registry.Register(&audiotest.FakeCodec{
			Name: "fake" + ext,
			Ext:  ext,
			Make: func() *audiotest.FakeStream {
				return audiotest.NewFakeStream(audio.Format{SampleRate: 8000, Channels: 2}, samples)
			},
		})
		paths[i] = fmt.Sprintf("/music/track%d%s", i+1, ext)
		if err := afero.WriteFile(fsys, paths[i], []byte("fixture audio payload"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	snk := audiotest.NewFakeSink(audio.Format{SampleRate: 8000, Channels: 2})
	snk.WriteDelay = writeDelay

	cfg.Registry = registry
	cfg.FS = fsys
	cfg.Sink = snk
	if cfg.Params == nil {
		cfg.Params = dsp.NewParamStore()
	}
	if cfg.Loudness == nil {
		cfg.Loudness = loudness.NewRunner(registry, fsys, nil, 2)
	}

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, snk, paths
}

// eventRec drains a subscription into a slice tests can poll.
type eventRec struct {
	mu  sync.Mutex
	evs []Event
}

func recordEvents(t *testing.T, e *Engine) *eventRec {
	t.Helper()
	sub := e.Subscribe(256)
	rec := &eventRec{}
	go func() {
		for ev := range sub.Events() {
			rec.mu.Lock()
			rec.evs = append(rec.evs, ev)
			rec.mu.Unlock()
		}
	}()
	return rec
}

func (r *eventRec) byKind(k EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.evs {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRec) count(k EventKind) int {
	return len(r.byKind(k))
}

func (r *eventRec) last(k EventKind) (Event, bool) {
	evs := r.byKind(k)
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestQueuePlaysThroughInOrder(t *testing.T) {
	e, snk, paths := newTestEngine(t, Config{}, 5*time.Millisecond,
		trackSpec{frames: 8000, level: 0.1},
		trackSpec{frames: 8000, level: 0.2},
		trackSpec{frames: 8000, level: 0.3},
	)
	rec := recordEvents(t, e)

	if err := e.SetQueue(paths, 0, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		ev, ok := rec.last(EventPlayState)
		return ok && !ev.Playing && rec.count(EventTrackChanged) >= 3
	}, "queue to play to the end")

	changed := rec.byKind(EventTrackChanged)
	if len(changed) != 3 {
		t.Fatalf("got %d track changes, want exactly 3: %+v", len(changed), changed)
	}
	for i, ev := range changed {
		if ev.Path != paths[i] || ev.Index != i {
			t.Errorf("track change %d: path %s index %d, want %s index %d", i, ev.Path, ev.Index, paths[i], i)
		}
	}
	autos := rec.byKind(EventAutoTransition)
	if len(autos) != 2 || autos[0].Path != paths[1] || autos[1].Path != paths[2] {
		t.Fatalf("auto transitions %+v, want tracks 2 then 3", autos)
	}
	states := rec.byKind(EventPlayState)
	if !states[0].Playing || states[len(states)-1].Playing {
		t.Fatalf("play states %+v, want playing first and stopped last", states)
	}
	if n := rec.count(EventQueueChanged); n != 1 {
		t.Fatalf("queue changed %d times, want 1", n)
	}

	waitFor(t, time.Second, func() bool { return snk.Frames() == 24576 }, "final quantum to land")
	if e.Playing() || e.CurrentPath() != "" {
		t.Fatalf("engine still active after queue end: playing=%v path=%q", e.Playing(), e.CurrentPath())
	}
}

func TestPlayAtIndexValidation(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{}, 2*time.Millisecond,
		trackSpec{frames: 160000, level: 0.2},
	)
	if err := e.SetQueue(paths, 0, false); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	if err := e.PlayAtIndex(5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("PlayAtIndex(5) = %v, want ErrIndexOutOfRange", err)
	}
	if err := e.PlayAtIndex(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("PlayAtIndex(-1) = %v, want ErrIndexOutOfRange", err)
	}
	if e.Playing() {
		t.Fatal("rejected play started playback")
	}

	if err := e.PlayAtIndex(0); err != nil {
		t.Fatalf("PlayAtIndex(0): %v", err)
	}
	waitFor(t, time.Second, e.Playing, "playback to start")
	if got := e.CurrentPath(); got != paths[0] {
		t.Fatalf("current path %q, want %q", got, paths[0])
	}
}

func TestSkipNextAdvancesAndStops(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{}, 2*time.Millisecond,
		trackSpec{frames: 160000, level: 0.1},
		trackSpec{frames: 160000, level: 0.2},
	)
	rec := recordEvents(t, e)
	if err := e.SetQueue(paths, 0, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}
	waitFor(t, time.Second, func() bool { return e.CurrentPath() == paths[0] }, "first track")

	if err := e.SkipNext(); err != nil {
		t.Fatalf("SkipNext: %v", err)
	}
	waitFor(t, time.Second, func() bool { return e.CurrentPath() == paths[1] }, "second track")

	if err := e.SkipNext(); err != nil {
		t.Fatalf("SkipNext at tail: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !e.Playing() && e.CurrentPath() == "" }, "stop at queue end")

	if n := rec.count(EventTrackChanged); n != 2 {
		t.Fatalf("%d track changes, want 2", n)
	}
}

func TestSkipNextWrapsUnderLoopAll(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{}, 2*time.Millisecond,
		trackSpec{frames: 160000, level: 0.1},
		trackSpec{frames: 160000, level: 0.2},
	)
	if err := e.SetLoopMode(LoopAll); err != nil {
		t.Fatalf("SetLoopMode: %v", err)
	}
	if err := e.SetQueue(paths, 1, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}
	waitFor(t, time.Second, func() bool { return e.CurrentPath() == paths[1] }, "start on second track")

	if err := e.SkipNext(); err != nil {
		t.Fatalf("SkipNext: %v", err)
	}
	waitFor(t, time.Second, func() bool { return e.CurrentPath() == paths[0] }, "wrap to first track")

	st, err := e.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Index != 0 || st.Loop != LoopAll {
		t.Fatalf("status index %d loop %s, want 0 all", st.Index, st.Loop)
	}
}

func TestSkipPreviousRestartsThenStepsBack(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{}, 10*time.Millisecond,
		trackSpec{frames: 160000, level: 0.1},
		trackSpec{frames: 160000, level: 0.2},
	)
	if err := e.SetQueue(paths, 1, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return e.Position() >= previousRestartAfter }, "position past the restart threshold")

	if err := e.SkipPrevious(); err != nil {
		t.Fatalf("SkipPrevious: %v", err)
	}
	if got := e.CurrentPath(); got != paths[1] {
		t.Fatalf("deep skip-previous changed track to %q, want a restart of %q", got, paths[1])
	}
	if pos := e.Position(); pos >= previousRestartAfter {
		t.Fatalf("position %v after restart, want near zero", pos)
	}

	if err := e.SkipPrevious(); err != nil {
		t.Fatalf("second SkipPrevious: %v", err)
	}
	waitFor(t, time.Second, func() bool { return e.CurrentPath() == paths[0] }, "step back to the first track")
}

func TestLoopOneRepeatsUntilModeChanges(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{}, 2*time.Millisecond,
		trackSpec{frames: 4000, level: 0.25},
		trackSpec{frames: 4000, level: 0.5},
	)
	rec := recordEvents(t, e)
	if err := e.SetLoopMode(LoopOne); err != nil {
		t.Fatalf("SetLoopMode: %v", err)
	}
	if err := e.SetQueue(paths, 0, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return rec.count(EventAutoTransition) >= 2 }, "repeats")
	for _, ev := range rec.byKind(EventAutoTransition) {
		if ev.Path != paths[0] {
			t.Fatalf("repeat reported %q, want %q", ev.Path, paths[0])
		}
	}
	if n := rec.count(EventTrackChanged); n != 1 {
		t.Fatalf("%d track changes during repeat, want 1", n)
	}

	if err := e.SetLoopMode(LoopOff); err != nil {
		t.Fatalf("SetLoopMode off: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return e.CurrentPath() == paths[1] }, "advance to the second track")
	waitFor(t, 5*time.Second, func() bool { return !e.Playing() }, "queue end")

	if n := rec.count(EventTrackChanged); n != 2 {
		t.Fatalf("%d track changes total, want 2", n)
	}
}

func TestCrossfadeClampSurfaced(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{}, time.Millisecond, trackSpec{frames: 8000, level: 0.1})
	rec := recordEvents(t, e)

	if err := e.SetCrossfadeDuration(20 * time.Second); err != nil {
		t.Fatalf("SetCrossfadeDuration: %v", err)
	}
	st, _ := e.Status()
	if st.Crossfade != MaxCrossfade {
		t.Fatalf("crossfade %v, want clamped to %v", st.Crossfade, MaxCrossfade)
	}

	if err := e.SetCrossfadeDuration(200 * time.Millisecond); err != nil {
		t.Fatalf("SetCrossfadeDuration: %v", err)
	}
	st, _ = e.Status()
	if st.Crossfade != MinCrossfade {
		t.Fatalf("crossfade %v, want clamped to %v", st.Crossfade, MinCrossfade)
	}

	if err := e.SetCrossfadeDuration(0); err != nil {
		t.Fatalf("SetCrossfadeDuration(0): %v", err)
	}
	st, _ = e.Status()
	if st.Crossfade != 0 {
		t.Fatalf("crossfade %v, want 0 (disabled)", st.Crossfade)
	}

	waitFor(t, time.Second, func() bool { return rec.count(EventModeChanged) >= 3 }, "mode events")
	modes := rec.byKind(EventModeChanged)
	if modes[0].Crossfade != MaxCrossfade || modes[1].Crossfade != MinCrossfade || modes[2].Crossfade != 0 {
		t.Fatalf("mode events carried %v, %v, %v", modes[0].Crossfade, modes[1].Crossfade, modes[2].Crossfade)
	}
}

func TestEffectParametersClampNotice(t *testing.T) {
	store := dsp.NewParamStore()
	e, _, _ := newTestEngine(t, Config{Params: store}, time.Millisecond, trackSpec{frames: 8000, level: 0.1})
	rec := recordEvents(t, e)

	var p dsp.Params
	p.EQEnabled = true
	p.EQGains[0] = 999
	notes, err := e.SetEffectParameters(p)
	if err != nil {
		t.Fatalf("SetEffectParameters: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("%d clamp notes, want 1: %+v", len(notes), notes)
	}
	if notes[0].Field != "eq_band_0" || notes[0].Given != 999 || notes[0].Clamped != dsp.EQMaxGainDB {
		t.Fatalf("clamp note %+v, want eq_band_0 999 -> %v", notes[0], dsp.EQMaxGainDB)
	}
	if got := store.Load().EQGains[0]; got != dsp.EQMaxGainDB {
		t.Fatalf("applied gain %v, want %v", got, dsp.EQMaxGainDB)
	}

	waitFor(t, time.Second, func() bool { return rec.count(EventParamsClamped) == 1 }, "clamp event")
	ev, _ := rec.last(EventParamsClamped)
	if len(ev.Notes) != 1 || ev.Notes[0].Given != 999 || ev.Notes[0].Clamped != dsp.EQMaxGainDB {
		t.Fatalf("clamp event notes %+v", ev.Notes)
	}

	waitFor(t, time.Second, func() bool { return rec.count(EventEffectFallback) == 1 }, "fallback event")
	fb, _ := rec.last(EventEffectFallback)
	if fb.Backend.Kind != dsp.BackendSoftware {
		t.Fatalf("fallback backend %v, want software", fb.Backend)
	}

	// In-range parameters must not repeat either notification.
	p = dsp.Params{EQEnabled: true}
	p.EQGains[0] = -6
	if notes, err = e.SetEffectParameters(p); err != nil || len(notes) != 0 {
		t.Fatalf("clean parameters: notes %+v err %v", notes, err)
	}
	time.Sleep(20 * time.Millisecond)
	if rec.count(EventParamsClamped) != 1 || rec.count(EventEffectFallback) != 1 {
		t.Fatalf("events repeated: clamp %d fallback %d", rec.count(EventParamsClamped), rec.count(EventEffectFallback))
	}
}

func TestAnalyzeLoudnessDuplicateRejected(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{}, time.Millisecond,
		trackSpec{samples: sineSamples(2_000_000, 997, 0.25)},
	)
	rec := recordEvents(t, e)

	start := make(chan struct{})
	results := make(chan error, 2)
	var mu sync.Mutex
	var report *loudness.Report
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			rep, err := e.AnalyzeLoudness(context.Background(), paths[0])
			if rep != nil {
				mu.Lock()
				report = rep
				mu.Unlock()
			}
			results <- err
		}()
	}
	close(start)

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			succeeded++
		case errors.Is(err, loudness.ErrAlreadyInProgress):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("%d succeeded and %d rejected, want exactly one of each", succeeded, rejected)
	}

	mu.Lock()
	rep := report
	mu.Unlock()
	if rep == nil || rep.Path != paths[0] || rep.Duration <= 0 {
		t.Fatalf("winning report %+v", rep)
	}
	if math.IsInf(rep.Integrated, 0) || math.IsNaN(rep.Integrated) || rep.Integrated >= 0 || rep.Integrated < -70 {
		t.Fatalf("integrated loudness %v, want a plausible negative LUFS", rep.Integrated)
	}

	waitFor(t, time.Second, func() bool { return rec.count(EventLoudnessDone) == 1 }, "loudness event")
	ev, _ := rec.last(EventLoudnessDone)
	if ev.Path != paths[0] || ev.Report == nil {
		t.Fatalf("loudness event %+v", ev)
	}
}

func TestFindSilenceStartCachesPoint(t *testing.T) {
	samples := append(dcSamples(4000, 0.5), make([]float32, 8000)...)
	e, _, paths := newTestEngine(t, Config{}, time.Millisecond, trackSpec{samples: samples})

	at, found, err := e.FindSilenceStart(context.Background(), paths[0], 0, 0)
	if err != nil {
		t.Fatalf("FindSilenceStart: %v", err)
	}
	if !found {
		t.Fatal("silence not found in a track with a silent tail")
	}
	if at < 450*time.Millisecond || at > 600*time.Millisecond {
		t.Fatalf("silence start %v, want about 500ms", at)
	}
	if cached, ok := e.silencePoint(paths[0]); !ok || cached != at {
		t.Fatalf("silence point not cached: %v %v", cached, ok)
	}
}

func TestSmartCrossfadeProbesCurrentTrack(t *testing.T) {
	samples := append(dcSamples(6000, 0.2), make([]float32, 4000)...)
	e, _, paths := newTestEngine(t, Config{}, 2*time.Millisecond, trackSpec{samples: samples})

	if err := e.SetSmartCrossfade(true); err != nil {
		t.Fatalf("SetSmartCrossfade: %v", err)
	}
	if err := e.SetQueue(paths, 0, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, ok := e.silencePoint(paths[0])
		return ok
	}, "silence probe")
	at, _ := e.silencePoint(paths[0])
	if at < 700*time.Millisecond || at > 850*time.Millisecond {
		t.Fatalf("probed silence at %v, want about 750ms", at)
	}
}

func TestRestoreResumesFromSavedPosition(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{}, 10*time.Millisecond,
		trackSpec{frames: 160000, level: 0.2},
		trackSpec{frames: 160000, level: 0.4},
	)
	rec := recordEvents(t, e)
	if err := e.SetQueue(paths, 0, false); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	if err := e.Restore(RestoreState{Path: paths[1], Position: 5 * time.Second, QueueIndex: 1}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	waitFor(t, time.Second, e.Playing, "restored playback")
	if pos := e.Position(); pos < 5*time.Second || pos > 12*time.Second {
		t.Fatalf("restored position %v, want just past 5s", pos)
	}

	waitFor(t, time.Second, func() bool { return rec.count(EventTrackChanged) == 1 }, "track change")
	ev, _ := rec.last(EventTrackChanged)
	if ev.Path != paths[1] || ev.Index != 1 {
		t.Fatalf("track change %+v, want %s at index 1", ev, paths[1])
	}
	st, _ := e.Status()
	if st.Index != 1 {
		t.Fatalf("status index %d, want 1", st.Index)
	}
}

func TestRestoreOutsideQueuePlaysOneOff(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{}, 2*time.Millisecond,
		trackSpec{frames: 160000, level: 0.2},
		trackSpec{frames: 160000, level: 0.4},
	)
	rec := recordEvents(t, e)
	if err := e.SetQueue(paths[:1], 0, false); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	if err := e.Restore(RestoreState{Path: paths[1], Position: 0, QueueIndex: 3}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	waitFor(t, time.Second, func() bool { return rec.count(EventTrackChanged) == 1 }, "track change")
	ev, _ := rec.last(EventTrackChanged)
	if ev.Path != paths[1] || ev.Index != -1 {
		t.Fatalf("one-off restore event %+v, want index -1", ev)
	}

	if err := e.Restore(RestoreState{}); err == nil {
		t.Fatal("empty restore succeeded")
	}
}

func TestPrepareFailureSkipsToFollowing(t *testing.T) {
	e, snk, paths := newTestEngine(t, Config{}, 5*time.Millisecond,
		trackSpec{frames: 8000, level: 0.2},
		trackSpec{frames: 8000, level: 0.3},
		trackSpec{frames: 8000, level: 0.4},
	)
	rec := recordEvents(t, e)

	missing := "/music/missing.t2"
	if err := e.SetQueue([]string{paths[0], missing, paths[2]}, 0, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		ev, ok := rec.last(EventPlayState)
		return ok && !ev.Playing
	}, "queue to finish")

	changed := rec.byKind(EventTrackChanged)
	if len(changed) != 2 || changed[0].Path != paths[0] || changed[1].Path != paths[2] {
		t.Fatalf("track changes %+v, want tracks 1 and 3", changed)
	}
	if changed[1].Index != 2 {
		t.Fatalf("skipped-to track at index %d, want 2", changed[1].Index)
	}

	failures := rec.byKind(EventPlaybackError)
	if len(failures) == 0 {
		t.Fatal("no playback error for the missing track")
	}
	for _, ev := range failures {
		if ev.Path != missing {
			t.Fatalf("playback error for %q, want only %q", ev.Path, missing)
		}
	}
	autos := rec.byKind(EventAutoTransition)
	if len(autos) != 1 || autos[0].Path != paths[2] {
		t.Fatalf("auto transitions %+v, want one to track 3", autos)
	}

	waitFor(t, time.Second, func() bool { return snk.Frames() == 16384 }, "both playable tracks rendered")
}

func TestPositionEventsTick(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{PositionInterval: 20 * time.Millisecond}, 2*time.Millisecond,
		trackSpec{frames: 1600000, level: 0.1},
	)
	rec := recordEvents(t, e)
	if err := e.SetQueue(paths, 0, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return rec.count(EventPosition) >= 4 }, "position events")

	var prev time.Duration
	for i, ev := range rec.byKind(EventPosition) {
		if ev.Position < prev {
			t.Fatalf("position event %d went backwards: %v after %v", i, ev.Position, prev)
		}
		prev = ev.Position
		if ev.Duration != 200*time.Second {
			t.Fatalf("position event carried duration %v, want 200s", ev.Duration)
		}
	}
	if n := rec.count(EventDurationKnown); n != 1 {
		t.Fatalf("%d duration events, want 1", n)
	}
	ev, _ := rec.last(EventDurationKnown)
	if ev.Duration != 200*time.Second {
		t.Fatalf("duration %v, want 200s", ev.Duration)
	}
}

func TestModeEventsCarrySettings(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{}, time.Millisecond, trackSpec{frames: 8000, level: 0.1})
	rec := recordEvents(t, e)

	if err := e.SetVolume(0.5); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if err := e.SetShuffle(true); err != nil {
		t.Fatalf("SetShuffle: %v", err)
	}
	if err := e.SetLoopMode(LoopAll); err != nil {
		t.Fatalf("SetLoopMode: %v", err)
	}

	waitFor(t, time.Second, func() bool { return rec.count(EventModeChanged) >= 3 }, "mode events")
	modes := rec.byKind(EventModeChanged)
	if modes[0].Volume != 0.5 || modes[0].Shuffle {
		t.Fatalf("first mode event %+v, want volume 0.5 before shuffle", modes[0])
	}
	if !modes[1].Shuffle || modes[1].Volume != 0.5 {
		t.Fatalf("second mode event %+v, want shuffle on", modes[1])
	}
	if modes[2].Loop != LoopAll || !modes[2].Shuffle {
		t.Fatalf("third mode event %+v, want loop all", modes[2])
	}

	st, err := e.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Volume != 0.5 || !st.Shuffle || st.Loop != LoopAll || st.Backend.Kind != dsp.BackendSoftware {
		t.Fatalf("status %+v", st)
	}
}

func TestNormalizationFollowsLoudness(t *testing.T) {
	store := dsp.NewParamStore()
	// Long enough that the background scan finishes while the track is
	// still the current one.
	e, _, paths := newTestEngine(t, Config{Params: store}, 2*time.Millisecond,
		trackSpec{samples: sineSamples(1_600_000, 997, 0.25)},
	)
	rec := recordEvents(t, e)

	if _, err := e.SetEffectParameters(dsp.Params{NormalizationEnabled: true}); err != nil {
		t.Fatalf("SetEffectParameters: %v", err)
	}
	if err := e.SetQueue(paths, 0, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return rec.count(EventLoudnessDone) >= 1 }, "background analysis")
	ev, _ := rec.last(EventLoudnessDone)
	want := e.target - ev.Report.Integrated
	if want > dsp.NormalizationMaxDB {
		want = dsp.NormalizationMaxDB
	} else if want < -dsp.NormalizationMaxDB {
		want = -dsp.NormalizationMaxDB
	}
	waitFor(t, time.Second, func() bool {
		return store.Load().NormalizationGainDB == want
	}, "normalization gain to follow the report")
	if !store.Load().NormalizationEnabled {
		t.Fatal("normalization flag lost")
	}
}

func TestCommandsSerializeUnderConcurrency(t *testing.T) {
	e, _, paths := newTestEngine(t, Config{}, 2*time.Millisecond,
		trackSpec{frames: 160000, level: 0.1},
		trackSpec{frames: 160000, level: 0.2},
		trackSpec{frames: 160000, level: 0.3},
	)
	if err := e.SetQueue(paths, 0, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				switch (w + i) % 5 {
				case 0:
					e.SetVolume(float64(i) / 25)
				case 1:
					e.SetShuffle(i%2 == 0)
				case 2:
					e.SetLoopMode(LoopMode(i % 3))
				case 3:
					if _, err := e.Status(); err != nil {
						t.Errorf("Status: %v", err)
					}
				case 4:
					e.SetCrossfadeDuration(time.Duration(i) * 200 * time.Millisecond)
				}
			}
		}(w)
	}
	wg.Wait()

	st, err := e.Status()
	if err != nil {
		t.Fatalf("Status after hammering: %v", err)
	}
	if st.Volume < 0 || st.Volume > 1 {
		t.Fatalf("volume out of range: %v", st.Volume)
	}
	if st.Crossfade != 0 && (st.Crossfade < MinCrossfade || st.Crossfade > MaxCrossfade) {
		t.Fatalf("crossfade out of range: %v", st.Crossfade)
	}
	if e.CurrentPath() == "" {
		t.Fatal("playback lost during concurrent commands")
	}
}

func TestCloseRejectsFurtherCommands(t *testing.T) {
	e, snk, paths := newTestEngine(t, Config{}, 2*time.Millisecond,
		trackSpec{frames: 160000, level: 0.1},
	)
	sub := e.Subscribe(8)
	if err := e.SetQueue(paths, 0, true); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}
	waitFor(t, time.Second, func() bool { return snk.Frames() > 0 }, "audio to render")

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := e.PlayAtIndex(0); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("PlayAtIndex after close = %v, want ErrEngineClosed", err)
	}
	if err := e.SetVolume(1); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("SetVolume after close = %v, want ErrEngineClosed", err)
	}
	if _, err := e.Status(); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("Status after close = %v, want ErrEngineClosed", err)
	}
	if _, err := e.AnalyzeLoudness(context.Background(), paths[0]); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("AnalyzeLoudness after close = %v, want ErrEngineClosed", err)
	}

	drained := false
	deadline := time.After(time.Second)
	for !drained {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				drained = true
			}
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
	if snk.Frames() == 0 {
		t.Fatal("nothing rendered before close")
	}
}

func TestAnalysisUnavailableWithoutRunner(t *testing.T) {
	registry := audio.NewCodecRegistry()
	snk := audiotest.NewFakeSink(audio.Format{SampleRate: 8000, Channels: 2})
	e, err := New(Config{Registry: registry, Sink: snk, FS: afero.NewMemMapFs()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.AnalyzeLoudness(context.Background(), "/x.mp3"); !errors.Is(err, ErrAnalysisUnavailable) {
		t.Fatalf("AnalyzeLoudness = %v, want ErrAnalysisUnavailable", err)
	}
	if _, _, err := e.FindSilenceStart(context.Background(), "/x.mp3", -60, time.Second); !errors.Is(err, ErrAnalysisUnavailable) {
		t.Fatalf("FindSilenceStart = %v, want ErrAnalysisUnavailable", err)
	}
}

func TestNewRequiresSinkAndRegistry(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New accepted a config without a sink")
	}
	snk := audiotest.NewFakeSink(audio.Format{SampleRate: 8000, Channels: 2})
	if _, err := New(Config{Sink: snk}); err == nil {
		t.Fatal("New accepted a config without a registry")
	}
}
