// Package engine is the public face of the audio core: one serialized
// command surface over the transition controller, the track queue, the
// effect parameter store, and the analyzers, with an event bus fanning
// state changes out to any number of subscribers.
//
// All queue and mode state lives on a single run goroutine. Public
// methods enqueue commands and wait for the reply, so callers on any
// goroutine observe one consistent engine, and internal notifications
// from the controller travel the same channel as commands, which makes
// their relative order exactly their arrival order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/analyze"
	"cadenza.audio/internal/audio"
	"cadenza.audio/internal/dsp"
	"cadenza.audio/internal/loudness"
	"cadenza.audio/internal/session"
	"cadenza.audio/internal/sink"
)

const (
	// DefaultPositionInterval is the cadence of position events while
	// playing.
	DefaultPositionInterval = 250 * time.Millisecond

	// MinCrossfade and MaxCrossfade bound a non-zero crossfade duration;
	// zero stays zero and means gapless.
	MinCrossfade = time.Second
	MaxCrossfade = 12 * time.Second

	// DefaultTargetLUFS is the loudness normalization target.
	DefaultTargetLUFS = -14.0

	// previousRestartAfter is how far into a track SkipPrevious restarts
	// it instead of stepping back an entry.
	previousRestartAfter = 3 * time.Second

	// commandBuffer bounds queued commands and controller notes.
	commandBuffer = 128
)

// Engine errors.
var (
	ErrEngineClosed        = errors.New("engine is closed")
	ErrIndexOutOfRange     = errors.New("queue index out of range")
	ErrAnalysisUnavailable = errors.New("loudness analysis is not configured")

	// ErrNothingPlaying is the controller's sentinel, re-exported so
	// engine callers match it without importing session.
	ErrNothingPlaying = session.ErrNothingPlaying
)

// Config assembles an Engine's dependencies. Sink and Registry are
// required; the rest default sensibly. Loudness is optional and enables
// the analysis commands, smart-crossfade probing, and normalization.
type Config struct {
	Registry *audio.CodecRegistry
	FS       afero.Fs
	Sink     sink.Sink
	Pool     *audio.InstancePool
	Params   *dsp.ParamStore
	Loudness *loudness.Runner

	// Analysis sizes the spectral analyzer. SampleRate defaults to the
	// sink's.
	Analysis analyze.Config

	// Curve shapes crossfade envelopes; the zero value is smoothstep.
	Curve session.FadeCurve

	// TargetLUFS is the normalization target. Zero selects the default.
	TargetLUFS float64

	// SilenceThresholdDB and SilenceWindow tune smart-crossfade probing.
	SilenceThresholdDB float64
	SilenceWindow      time.Duration

	// PositionInterval overrides the position event cadence.
	PositionInterval time.Duration
}

// RestoreState is externally persisted playback state the engine can
// resume from.
type RestoreState struct {
	Path       string
	Position   time.Duration
	QueueIndex int
}

// Status is one consistent snapshot of transport, queue, and mode state.
type Status struct {
	Path      string
	Index     int
	Playing   bool
	Paused    bool
	Position  time.Duration
	Duration  time.Duration
	Queue     []string
	Shuffle   bool
	Loop      LoopMode
	Crossfade time.Duration
	Smart     bool
	Volume    float64
	Analysis  bool
	Backend   dsp.Backend
}

// command is one serialized unit of work for the run loop. Controller
// notes use the same type with no reply channel.
type command struct {
	name  string
	fn    func() error
	reply chan error
}

// Engine drives the playback core. Create one with New and shut it down
// with Close; every method is safe from any goroutine.
type Engine struct {
	ctrl     *session.Controller
	params   *dsp.ParamStore
	tap      *analyze.Tap
	analyzer *analyze.Analyzer
	loudness *loudness.Runner
	bus      *Bus
	backend  dsp.Backend

	target     float64
	silenceThr float64
	silenceWin time.Duration
	posEvery   time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan command
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	closeErr  error

	// Run-loop state. Touched only on the run goroutine.
	q            *queue
	deckOffset   int
	current      string
	curIndex     int
	durKnown     bool
	lastPlaying  bool
	lastPaused   bool
	fallbackSent bool
	crossfade    time.Duration
	smart        bool
	reports      map[string]*loudness.Report

	// Silence points feed the controller's fade planner from the render
	// goroutine; the run loop writes, so this map has its own lock.
	silenceMu  sync.Mutex
	silencePts map[string]time.Duration
}

// New builds and starts an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Sink == nil {
		return nil, errors.New("engine: config needs a sink")
	}
	if cfg.Registry == nil {
		return nil, errors.New("engine: config needs a codec registry")
	}
	if cfg.Params == nil {
		cfg.Params = dsp.NewParamStore()
	}
	if cfg.TargetLUFS == 0 {
		cfg.TargetLUFS = DefaultTargetLUFS
	}
	if cfg.SilenceThresholdDB == 0 {
		cfg.SilenceThresholdDB = loudness.DefaultSilenceThresholdDB
	}
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = loudness.DefaultSilenceWindow
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = DefaultPositionInterval
	}
	if cfg.Analysis.SampleRate <= 0 {
		cfg.Analysis.SampleRate = cfg.Sink.Format().SampleRate
	}

	ctx, cancel := context.WithCancel(context.Background())
	tap := analyze.NewTap()
	e := &Engine{
		params:     cfg.Params,
		tap:        tap,
		analyzer:   analyze.NewAnalyzer(cfg.Analysis, tap),
		loudness:   cfg.Loudness,
		bus:        NewBus(),
		backend:    dsp.ResolveBackend(cfg.Sink),
		target:     cfg.TargetLUFS,
		silenceThr: cfg.SilenceThresholdDB,
		silenceWin: cfg.SilenceWindow,
		posEvery:   cfg.PositionInterval,
		ctx:        ctx,
		cancel:     cancel,
		cmds:       make(chan command, commandBuffer),
		quit:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		q:          newQueue(),
		deckOffset: 1,
		curIndex:   -1,
		reports:    make(map[string]*loudness.Report),
		silencePts: make(map[string]time.Duration),
	}

	ctrl, err := session.NewController(session.Config{
		Registry:   cfg.Registry,
		FS:         cfg.FS,
		Pool:       cfg.Pool,
		Params:     cfg.Params,
		Sink:       cfg.Sink,
		Tap:        tap,
		SilenceFor: e.silencePoint,
		Events: session.Events{
			TrackStarted: func(path string) {
				e.note("track_started", func() error { e.onTrackStarted(path); return nil })
			},
			TrackEnded: func(path string, err error) {
				e.note("track_ended", func() error { e.onTrackEnded(path, err); return nil })
			},
			AutoAdvanced: func(path string) {
				e.note("auto_advanced", func() error { e.onAutoAdvanced(path); return nil })
			},
			TrackRepeated: func(path string) {
				e.note("track_repeated", func() error { e.onTrackRepeated(path); return nil })
			},
			PrepareFailed: func(path string, err error) {
				e.note("prepare_failed", func() error { e.onPrepareFailed(path, err); return nil })
			},
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	e.ctrl = ctrl
	ctrl.SetCurve(cfg.Curve)

	go e.run()
	slog.Info("engine started",
		"sink_rate", cfg.Sink.Format().SampleRate,
		"eq_backend", e.backend.String(),
		"loudness", e.loudness != nil)
	return e, nil
}

// Subscribe registers an event consumer. buffer <= 0 selects the
// default depth; a consumer that falls behind loses oldest events first.
func (e *Engine) Subscribe(buffer int) *Subscription {
	return e.bus.Subscribe(buffer)
}

// Pulses returns the spectral analyzer's output stream. Delivery is
// latest-wins at the analyzer's own cadence, separate from the event
// bus, so a visualizer never works through a backlog.
func (e *Engine) Pulses() <-chan analyze.PulseFrame {
	return e.analyzer.Frames()
}

// Close shuts down the run loop, the controller and its sink, the
// analyzer, and the event bus, in that order. Safe to call more than
// once; commands after Close fail with ErrEngineClosed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.loopDone
		e.cancel()
		e.closeErr = e.ctrl.Close()
		e.analyzer.Close()
		e.bus.Close()
		slog.Info("engine closed")
	})
	return e.closeErr
}

// SetQueue replaces the track queue. start selects the current entry,
// clamped into range; autoplay starts it immediately. An empty queue
// stops playback.
func (e *Engine) SetQueue(tracks []string, start int, autoplay bool) error {
	return e.do("set_queue", func() error {
		e.q.set(tracks, start)
		e.deckOffset = 1
		e.bus.Publish(Event{Kind: EventQueueChanged, Queue: slices.Clone(e.q.tracks), Index: e.q.index()})
		slog.Info("queue set", "tracks", e.q.len(), "start", e.q.index(), "autoplay", autoplay)
		if e.q.len() == 0 {
			e.stopPlayback()
			return nil
		}
		if autoplay {
			return e.startSelected()
		}
		e.restage()
		return nil
	})
}

// PlayAtIndex plays the queue entry at index i.
func (e *Engine) PlayAtIndex(i int) error {
	return e.do("play_at_index", func() error { return e.playIndex(i) })
}

// SkipNext advances to the next entry in play order. Loop-one is a
// repeat behavior, not a skip behavior, so an explicit skip still moves
// forward; at the end of a non-looping queue playback stops.
func (e *Engine) SkipNext() error {
	return e.do("skip_next", func() error {
		if _, ok := e.q.advance(1); !ok {
			e.stopPlayback()
			return nil
		}
		return e.startSelected()
	})
}

// SkipPrevious restarts the current track when it is more than a few
// seconds in, and steps back one entry in play order otherwise.
func (e *Engine) SkipPrevious() error {
	return e.do("skip_previous", func() error {
		if e.ctrl.CurrentPath() != "" && e.ctrl.Position() >= previousRestartAfter {
			return e.ctrl.Seek(0)
		}
		if _, ok := e.q.previous(); !ok {
			if e.ctrl.CurrentPath() != "" {
				return e.ctrl.Seek(0)
			}
			return ErrNothingPlaying
		}
		return e.startSelected()
	})
}

// Pause halts playback, keeping the track loaded.
func (e *Engine) Pause() error {
	return e.do("pause", func() error {
		if err := e.ctrl.Pause(); err != nil {
			return err
		}
		e.syncPlayState()
		return nil
	})
}

// Resume continues after Pause.
func (e *Engine) Resume() error {
	return e.do("resume", func() error {
		if err := e.ctrl.Resume(); err != nil {
			return err
		}
		e.syncPlayState()
		return nil
	})
}

// Seek jumps the current track to target.
func (e *Engine) Seek(target time.Duration) error {
	return e.do("seek", func() error {
		if err := e.ctrl.Seek(target); err != nil {
			return err
		}
		e.bus.Publish(Event{Kind: EventPosition, Position: e.ctrl.Position(), Duration: e.ctrl.Duration()})
		return nil
	})
}

// Stop releases the current track and idles the engine. The queue and
// all settings survive for the next play command.
func (e *Engine) Stop() error {
	return e.do("stop", func() error {
		e.stopPlayback()
		return nil
	})
}

// SetShuffle toggles shuffled play order. The current track keeps
// playing; only the order of what follows changes.
func (e *Engine) SetShuffle(on bool) error {
	return e.do("set_shuffle", func() error {
		if on == e.q.shuffle {
			return nil
		}
		e.q.setShuffle(on)
		e.deckOffset = 1
		e.restage()
		e.publishMode()
		return nil
	})
}

// SetLoopMode selects what happens at the end of the queue. Loop-one is
// delegated to the controller's gapless repeat and stages nothing.
func (e *Engine) SetLoopMode(mode LoopMode) error {
	return e.do("set_loop_mode", func() error {
		if mode < LoopOff || mode > LoopAll {
			return fmt.Errorf("unknown loop mode %d", mode)
		}
		if mode == e.q.loop {
			return nil
		}
		e.q.loop = mode
		e.ctrl.SetRepeatOne(mode == LoopOne)
		e.deckOffset = 1
		e.restage()
		e.publishMode()
		return nil
	})
}

// SetCrossfadeDuration sets the transition fade length. Zero disables
// crossfading; any other value is clamped into [MinCrossfade,
// MaxCrossfade] and the applied value is surfaced in a mode event.
func (e *Engine) SetCrossfadeDuration(d time.Duration) error {
	return e.do("set_crossfade", func() error {
		applied := clampCrossfade(d)
		if applied != d {
			slog.Warn("crossfade duration clamped",
				"given_ms", d.Milliseconds(),
				"applied_ms", applied.Milliseconds())
		}
		changed := applied != e.crossfade
		e.crossfade = applied
		e.ctrl.SetCrossfade(applied)
		if changed || applied != d {
			e.publishMode()
		}
		return nil
	})
}

// SetSmartCrossfade toggles deriving fade start points from detected
// trailing silence. Turning it on probes the current track right away.
func (e *Engine) SetSmartCrossfade(on bool) error {
	return e.do("set_smart_crossfade", func() error {
		if on == e.smart {
			return nil
		}
		e.smart = on
		e.ctrl.SetSmartCrossfade(on)
		if on {
			e.probeSilence(e.ctrl.CurrentPath())
		}
		e.publishMode()
		return nil
	})
}

// SetEffectParameters publishes a new effect snapshot. Out-of-range
// fields are clamped and reported, both in the returned notes and as a
// ParamsClamped event, so a caller sending bad values can tell what was
// actually applied. While normalization is enabled the engine owns
// NormalizationGainDB, computing it from the loudness target and the
// current track's report; the incoming value of that field is then
// overridden.
func (e *Engine) SetEffectParameters(p dsp.Params) ([]dsp.ClampNote, error) {
	var notes []dsp.ClampNote
	err := e.do("set_effect_parameters", func() error {
		notes = e.params.Store(p)
		if len(notes) > 0 {
			e.bus.Publish(Event{Kind: EventParamsClamped, Notes: notes})
		}
		if p.EQEnabled && !e.fallbackSent && e.backend.Kind == dsp.BackendSoftware {
			e.fallbackSent = true
			e.bus.Publish(Event{Kind: EventEffectFallback, Backend: e.backend})
		}
		if p.NormalizationEnabled {
			if _, ok := e.reports[e.current]; !ok {
				e.analyzeInBackground(e.current)
			}
		}
		e.applyNormalization()
		return nil
	})
	return notes, err
}

// SetAnalysisEnabled starts or stops the spectral analyzer. Disabled,
// it holds no buffers and the pulse stream goes quiet.
func (e *Engine) SetAnalysisEnabled(on bool) error {
	return e.do("set_analysis_enabled", func() error {
		e.analyzer.SetEnabled(on)
		return nil
	})
}

// SetVolume sets the master volume in [0, 1].
func (e *Engine) SetVolume(v float64) error {
	return e.do("set_volume", func() error {
		e.ctrl.SetVolume(v)
		e.publishMode()
		return nil
	})
}

// Restore resumes playback from externally persisted state. When the
// queue entry at QueueIndex matches Path the queue selection follows;
// otherwise the track plays as a one-off and the queue is left alone.
func (e *Engine) Restore(st RestoreState) error {
	return e.do("restore", func() error {
		if st.Path == "" {
			return errors.New("restore: empty path")
		}
		if st.QueueIndex >= 0 && st.QueueIndex < e.q.len() && e.q.tracks[st.QueueIndex] == st.Path {
			e.q.choose(st.QueueIndex)
		}
		e.deckOffset = 1
		pos := st.Position
		if pos < 0 {
			pos = 0
		}
		if err := e.ctrl.Play(st.Path, pos); err != nil {
			e.bus.Publish(Event{Kind: EventPlaybackError, Path: st.Path, Index: -1, Err: err})
			return err
		}
		slog.Info("playback restored",
			"path", st.Path,
			"position_ms", pos.Milliseconds(),
			"queue_index", st.QueueIndex)
		return nil
	})
}

// AnalyzeLoudness measures path and returns its report. The scan runs
// on the loudness runner's own pool, not the engine loop, so transport
// commands stay responsive during it; a scan already running for the
// same path fails with loudness.ErrAlreadyInProgress. The silence cache
// and normalization gain pick the result up.
func (e *Engine) AnalyzeLoudness(ctx context.Context, path string) (*loudness.Report, error) {
	if e.loudness == nil {
		return nil, ErrAnalysisUnavailable
	}
	select {
	case <-e.loopDone:
		return nil, ErrEngineClosed
	default:
	}
	rep, err := e.loudness.Analyze(ctx, path)
	if err != nil {
		return nil, err
	}
	e.note("loudness_done", func() error { e.onReport(rep); return nil })
	return rep, nil
}

// FindSilenceStart locates where path's trailing silence begins. found
// is false when the track stays loud through its end. Zero threshold or
// window select the engine defaults.
func (e *Engine) FindSilenceStart(ctx context.Context, path string, thresholdDB float64, window time.Duration) (time.Duration, bool, error) {
	if e.loudness == nil {
		return 0, false, ErrAnalysisUnavailable
	}
	if thresholdDB == 0 {
		thresholdDB = e.silenceThr
	}
	if window <= 0 {
		window = e.silenceWin
	}
	at, found, err := e.loudness.FindSilenceStart(ctx, path, thresholdDB, window)
	if err != nil {
		return 0, false, err
	}
	if found && at > 0 {
		e.setSilencePoint(path, at)
	}
	return at, found, nil
}

// Status reports the engine's state in one consistent snapshot.
func (e *Engine) Status() (Status, error) {
	var st Status
	err := e.do("status", func() error {
		st = Status{
			Path:      e.ctrl.CurrentPath(),
			Index:     e.liveIndex(),
			Playing:   e.ctrl.Playing(),
			Paused:    e.ctrl.Paused(),
			Position:  e.ctrl.Position(),
			Duration:  e.ctrl.Duration(),
			Queue:     slices.Clone(e.q.tracks),
			Shuffle:   e.q.shuffle,
			Loop:      e.q.loop,
			Crossfade: e.crossfade,
			Smart:     e.smart,
			Volume:    e.ctrl.Volume(),
			Analysis:  e.analyzer.Enabled(),
			Backend:   e.backend,
		}
		return nil
	})
	return st, err
}

// Convenience reads, safe from any goroutine. They reflect the
// controller's live state and can run slightly ahead of events still
// queued in the bus.

func (e *Engine) Playing() bool { return e.ctrl.Playing() }

func (e *Engine) Paused() bool { return e.ctrl.Paused() }

func (e *Engine) Position() time.Duration { return e.ctrl.Position() }

func (e *Engine) Duration() time.Duration { return e.ctrl.Duration() }

func (e *Engine) CurrentPath() string { return e.ctrl.CurrentPath() }

func (e *Engine) Volume() float64 { return e.ctrl.Volume() }

// do runs fn on the run loop and returns its error. Every public
// command funnels through here; that is what serializes the engine.
func (e *Engine) do(name string, fn func() error) error {
	cmd := command{name: name, fn: fn, reply: make(chan error, 1)}
	select {
	case e.cmds <- cmd:
	case <-e.loopDone:
		return ErrEngineClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.loopDone:
		return ErrEngineClosed
	}
}

// note enqueues internal work from controller callbacks and background
// scans. After Close the loop is gone and the note is dropped, which is
// fine because the bus closes with it.
func (e *Engine) note(name string, fn func() error) {
	select {
	case e.cmds <- command{name: name, fn: fn}:
	case <-e.loopDone:
	}
}

func (e *Engine) run() {
	defer close(e.loopDone)

	tick := time.NewTicker(e.posEvery)
	defer tick.Stop()

	for {
		select {
		case <-e.quit:
			return
		case cmd := <-e.cmds:
			err := cmd.fn()
			if cmd.reply != nil {
				cmd.reply <- err
			}
			if err != nil {
				slog.Debug("command failed", "command", cmd.name, "error", err)
			}
		case <-tick.C:
			e.tickPosition()
		}
	}
}

func (e *Engine) tickPosition() {
	// e.current lags ctrl.Play until the started note is processed; do
	// not tick for a track that has not been announced yet.
	if e.current == "" || !e.ctrl.Playing() {
		return
	}
	d := e.ctrl.Duration()
	if !e.durKnown && d > 0 {
		e.durKnown = true
		e.bus.Publish(Event{Kind: EventDurationKnown, Path: e.current, Duration: d})
	}
	e.bus.Publish(Event{Kind: EventPosition, Position: e.ctrl.Position(), Duration: d})
}

// playIndex selects queue index i and starts it.
func (e *Engine) playIndex(i int) error {
	if !e.q.choose(i) {
		return fmt.Errorf("play index %d of %d: %w", i, e.q.len(), ErrIndexOutOfRange)
	}
	return e.startSelected()
}

// startSelected plays the queue's selected entry as-is, without
// reanchoring the play order. The selection stays on a failed entry so
// the caller sees where playback got stuck.
func (e *Engine) startSelected() error {
	i := e.q.index()
	if i < 0 {
		return ErrNothingPlaying
	}
	e.deckOffset = 1
	path := e.q.tracks[i]
	if err := e.ctrl.Play(path, 0); err != nil {
		e.bus.Publish(Event{Kind: EventPlaybackError, Path: path, Index: i, Err: err})
		return err
	}
	return nil
}

func (e *Engine) stopPlayback() {
	e.ctrl.Stop()
	e.current, e.curIndex, e.durKnown = "", -1, false
	e.deckOffset = 1
	e.syncPlayState()
}

// restage points the controller at whatever should play after the
// current track. Under loop-one the controller repeats instead and
// nothing is staged.
func (e *Engine) restage() {
	if e.q.loop == LoopOne {
		e.ctrl.SetOnDeck("")
		return
	}
	if i, ok := e.q.peek(e.deckOffset); ok {
		e.ctrl.SetOnDeck(e.q.tracks[i])
		return
	}
	e.ctrl.SetOnDeck("")
}

// liveIndex maps the controller's current path back to the queue, -1
// for a track playing outside it.
func (e *Engine) liveIndex() int {
	if cur, ok := e.q.current(); ok && cur == e.ctrl.CurrentPath() {
		return e.q.index()
	}
	return -1
}

// syncPlayState publishes a PlayState event when the transport state
// moved since the last one.
func (e *Engine) syncPlayState() {
	playing, paused := e.ctrl.Playing(), e.ctrl.Paused()
	if playing == e.lastPlaying && paused == e.lastPaused {
		return
	}
	e.lastPlaying, e.lastPaused = playing, paused
	e.bus.Publish(Event{
		Kind:    EventPlayState,
		Path:    e.ctrl.CurrentPath(),
		Playing: playing,
		Paused:  paused,
	})
}

func (e *Engine) publishMode() {
	e.bus.Publish(Event{
		Kind:      EventModeChanged,
		Shuffle:   e.q.shuffle,
		Loop:      e.q.loop,
		Crossfade: e.crossfade,
		Smart:     e.smart,
		Volume:    e.ctrl.Volume(),
	})
}

// onTrackStarted runs when a session becomes audible: explicit plays,
// gapless advances, and crossfade promotions all land here.
func (e *Engine) onTrackStarted(path string) {
	e.current = path
	e.curIndex = e.liveIndexFor(path)
	e.durKnown = false
	e.deckOffset = 1
	e.restage()
	if e.smart {
		e.probeSilence(path)
	}
	if e.params.Load().NormalizationEnabled {
		if _, ok := e.reports[path]; !ok {
			e.analyzeInBackground(path)
		}
	}
	e.applyNormalization()

	e.bus.Publish(Event{Kind: EventTrackChanged, Path: path, Index: e.curIndex})
	if d := e.ctrl.Duration(); d > 0 {
		e.durKnown = true
		e.bus.Publish(Event{Kind: EventDurationKnown, Path: path, Duration: d})
	}
	e.syncPlayState()
}

// liveIndexFor is liveIndex against an expected path rather than the
// controller's, avoiding a race when events lag the transport.
func (e *Engine) liveIndexFor(path string) int {
	if cur, ok := e.q.current(); ok && cur == path {
		return e.q.index()
	}
	return -1
}

// onTrackEnded runs when the controller stopped with nothing staged:
// the queue is done, or staging lost a race with a short track. Fall
// forward from the queue while it still has playable entries.
func (e *Engine) onTrackEnded(path string, err error) {
	if err != nil {
		e.bus.Publish(Event{Kind: EventPlaybackError, Path: path, Index: e.curIndex, Err: err})
	}
	for tries := 0; tries < e.q.len(); tries++ {
		i, ok := e.q.advance(e.deckOffset)
		if !ok {
			break
		}
		e.deckOffset = 1
		if e.startSelected() != nil {
			continue
		}
		e.bus.Publish(Event{Kind: EventAutoTransition, Path: e.q.tracks[i], Index: i})
		return
	}
	e.current, e.curIndex, e.durKnown = "", -1, false
	e.deckOffset = 1
	e.syncPlayState()
}

// onAutoAdvanced runs after the controller promoted the staged track on
// its own; the queue selection follows the promotion.
func (e *Engine) onAutoAdvanced(path string) {
	if _, ok := e.q.advanceTo(path); !ok {
		slog.Warn("advanced track not found in queue", "path", path)
	}
	e.deckOffset = 1
	e.bus.Publish(Event{Kind: EventAutoTransition, Path: path, Index: e.liveIndexFor(path)})
}

func (e *Engine) onTrackRepeated(path string) {
	e.bus.Publish(Event{Kind: EventAutoTransition, Path: path, Index: e.curIndex})
}

// onPrepareFailed runs when the staged next track could not open. The
// controller will not retry it, so stage the entry after it instead.
func (e *Engine) onPrepareFailed(path string, err error) {
	e.bus.Publish(Event{Kind: EventPlaybackError, Path: path, Index: -1, Err: err})
	e.deckOffset++
	if e.deckOffset > e.q.len() {
		e.ctrl.SetOnDeck("")
		return
	}
	e.restage()
}

// onReport folds a finished loudness report into the caches and, when
// it describes the current track, the normalization gain.
func (e *Engine) onReport(rep *loudness.Report) {
	e.reports[rep.Path] = rep
	if rep.SilenceStart > 0 {
		e.setSilencePoint(rep.Path, rep.SilenceStart)
	}
	if rep.Path == e.current {
		e.applyNormalization()
	}
	e.bus.Publish(Event{Kind: EventLoudnessDone, Path: rep.Path, Report: rep})
}

// applyNormalization recomputes the normalization gain for the current
// track. Without a report the gain rests at zero until analysis lands;
// a stale gain from the previous track must never carry over.
func (e *Engine) applyNormalization() {
	p := *e.params.Load()
	if !p.NormalizationEnabled {
		return
	}
	gain := 0.0
	if rep, ok := e.reports[e.current]; ok {
		gain = e.target - rep.Integrated
		if gain > dsp.NormalizationMaxDB {
			gain = dsp.NormalizationMaxDB
		} else if gain < -dsp.NormalizationMaxDB {
			gain = -dsp.NormalizationMaxDB
		}
	}
	if p.NormalizationGainDB == gain {
		return
	}
	p.NormalizationGainDB = gain
	e.params.Store(p)
	slog.Debug("normalization gain applied", "path", e.current, "gain_db", gain)
}

// probeSilence resolves path's trailing-silence point in the background
// for the fade planner. Best effort: without a loudness runner, smart
// crossfade falls back to fixed timing.
func (e *Engine) probeSilence(path string) {
	if path == "" || e.loudness == nil {
		return
	}
	if _, ok := e.silencePoint(path); ok {
		return
	}
	go func() {
		at, found, err := e.loudness.FindSilenceStart(e.ctx, path, e.silenceThr, e.silenceWin)
		if err != nil {
			slog.Debug("silence probe failed", "path", path, "error", err)
			return
		}
		if found && at > 0 {
			e.setSilencePoint(path, at)
		}
	}()
}

// analyzeInBackground fills the report cache for path without blocking
// the loop; used when normalization needs a report it does not have.
func (e *Engine) analyzeInBackground(path string) {
	if path == "" || e.loudness == nil {
		return
	}
	go func() {
		rep, err := e.loudness.Analyze(e.ctx, path)
		if err != nil {
			if !errors.Is(err, loudness.ErrAlreadyInProgress) {
				slog.Debug("background loudness scan failed", "path", path, "error", err)
			}
			return
		}
		e.note("loudness_done", func() error { e.onReport(rep); return nil })
	}()
}

func (e *Engine) setSilencePoint(path string, at time.Duration) {
	e.silenceMu.Lock()
	e.silencePts[path] = at
	e.silenceMu.Unlock()
}

// silencePoint answers the controller's fade planner. It runs on the
// render goroutine and must only consult the cache, never scan.
func (e *Engine) silencePoint(path string) (time.Duration, bool) {
	e.silenceMu.Lock()
	defer e.silenceMu.Unlock()
	at, ok := e.silencePts[path]
	return at, ok
}

func clampCrossfade(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d < MinCrossfade {
		return MinCrossfade
	}
	if d > MaxCrossfade {
		return MaxCrossfade
	}
	return d
}
