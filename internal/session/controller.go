package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/analyze"
	"cadenza.audio/internal/audio"
	"cadenza.audio/internal/dsp"
	"cadenza.audio/internal/sink"
)

const (
	// prepareLead is how far ahead of a track boundary the next session
	// is opened, on top of any crossfade window.
	prepareLead = 3 * time.Second

	// notifyBuffer bounds queued event callbacks before emitters block.
	notifyBuffer = 64
)

// Controller errors.
var (
	ErrNothingPlaying   = errors.New("nothing is playing")
	ErrControllerClosed = errors.New("controller is closed")
)

// Events carries the controller's outward notifications. Handlers run in
// order on a dedicated notifier goroutine, after the state change they
// describe has been applied. A handler may call any Controller method
// except Close, which waits for the notifier and would deadlock; keep
// handlers quick, since delivery is single threaded.
type Events struct {
	// TrackStarted fires whenever a session becomes audible: explicit
	// plays and automatic advances alike.
	TrackStarted func(path string)

	// TrackEnded fires when playback stops with nothing to follow. err
	// is non-nil when a decode failure ended the track.
	TrackEnded func(path string, err error)

	// AutoAdvanced fires when the controller moved to the staged next
	// track on its own, before the matching TrackStarted.
	AutoAdvanced func(path string)

	// TrackRepeated fires each time repeat-one rewinds the track.
	TrackRepeated func(path string)

	// PrepareFailed fires when the staged next track could not be
	// opened. Playback of the current track continues.
	PrepareFailed func(path string, err error)
}

// Config assembles a Controller's dependencies. Sink and Registry are
// required; the rest default sensibly.
type Config struct {
	Registry *audio.CodecRegistry
	FS       afero.Fs
	Pool     *audio.InstancePool
	Params   *dsp.ParamStore
	Sink     sink.Sink
	Tap      *analyze.Tap
	Events   Events

	// SilenceFor reports where trailing silence begins in a track, for
	// smart crossfade timing. It must return quickly; report false when
	// the answer is not already known.
	SilenceFor func(path string) (time.Duration, bool)
}

// fadeState tracks crossfade progress in sink frames. Only the render
// loop advances it.
type fadeState struct {
	pos   int
	total int
	curve FadeCurve
}

// Controller renders up to two sessions into the sink: the active track
// and, during a crossfade, the outgoing one. A third staged session may
// exist while the next track is prepared ahead of the boundary. All
// transitions happen on the render goroutine under one mutex, so a
// command arriving mid-transition observes either the old or the new
// active session, never a half-swapped pair.
type Controller struct {
	deps    Deps
	out     sink.Sink
	tap     *analyze.Tap
	events  Events
	silence func(path string) (time.Duration, bool)

	ctx    context.Context
	cancel context.CancelFunc

	vol atomic.Uint64 // math.Float64bits of the master volume

	mu         sync.Mutex
	active     *Session
	fading     *Session
	next       *Session
	fade       *fadeState
	onDeck     string
	preparing  bool
	prepFailed string // on-deck path that failed to open; not retried
	crossfade  time.Duration
	curve      FadeCurve
	smart      bool
	repeatOne  bool
	paused     bool
	closed     bool

	wake       chan struct{}
	quit       chan struct{}
	done       chan struct{}
	notifyCh   chan func()
	notifyDone chan struct{}
}

// NewController starts the sink and the render and notifier goroutines.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Sink == nil {
		return nil, errors.New("session: controller needs a sink")
	}
	if cfg.Registry == nil {
		return nil, errors.New("session: controller needs a codec registry")
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Params == nil {
		cfg.Params = dsp.NewParamStore()
	}
	if cfg.Pool == nil {
		cfg.Pool = audio.NewInstancePool(audio.DefaultInstanceLimit)
	}

	if err := cfg.Sink.Start(); err != nil {
		return nil, fmt.Errorf("start sink: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		deps: Deps{
			Registry: cfg.Registry,
			FS:       cfg.FS,
			Pool:     cfg.Pool,
			Params:   cfg.Params,
			Sink:     cfg.Sink,
		},
		out:        cfg.Sink,
		tap:        cfg.Tap,
		events:     cfg.Events,
		silence:    cfg.SilenceFor,
		ctx:        ctx,
		cancel:     cancel,
		curve:      CurveSmoothstep,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		notifyCh:   make(chan func(), notifyBuffer),
		notifyDone: make(chan struct{}),
	}
	c.vol.Store(math.Float64bits(1.0))

	go c.renderLoop()
	go c.notifyLoop()

	slog.Info("transition controller started",
		"sink_rate", cfg.Sink.Format().SampleRate,
		"quantum_frames", quantumFrames)
	return c, nil
}

// Play replaces whatever is playing with path, starting at startAt. Any
// staged or fading session is released.
func (c *Controller) Play(path string, startAt time.Duration) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrControllerClosed
	}

	s, err := Open(c.deps, path, startAt)
	if err != nil {
		return err
	}
	if err := s.Promote(RoleActive); err != nil {
		s.Release()
		return err
	}

	c.mu.Lock()
	old := c.takeSessionsLocked()
	wasPaused := c.paused
	c.active = s
	c.paused = false
	c.mu.Unlock()

	for _, prev := range old {
		prev.Release()
	}
	if wasPaused {
		if err := c.out.Resume(); err != nil {
			slog.Warn("sink resume failed", "error", err)
		}
	}
	c.poke()
	c.fireTrackStarted(path)

	slog.Info("playback started", "path", path, "start_ms", startAt.Milliseconds())
	return nil
}

// Stop releases every session and idles the render loop. The sink stays
// open for the next Play.
func (c *Controller) Stop() {
	c.mu.Lock()
	old := c.takeSessionsLocked()
	c.onDeck = ""
	c.prepFailed = ""
	c.paused = false
	c.mu.Unlock()

	for _, prev := range old {
		prev.Release()
	}
	if len(old) > 0 {
		slog.Info("playback stopped")
	}
}

// Pause halts rendering and the sink, keeping all sessions intact.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.paused || c.active == nil {
		c.mu.Unlock()
		return nil
	}
	c.paused = true
	c.mu.Unlock()

	if err := c.out.Pause(); err != nil {
		return fmt.Errorf("pause sink: %w", err)
	}
	slog.Info("playback paused")
	return nil
}

// Resume continues after Pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return nil
	}
	c.paused = false
	c.mu.Unlock()

	if err := c.out.Resume(); err != nil {
		return fmt.Errorf("resume sink: %w", err)
	}
	c.poke()
	slog.Info("playback resumed")
	return nil
}

// Seek jumps the active track to target. A crossfade in progress is cut
// short: the outgoing leg is released and the seek lands on the incoming
// track.
func (c *Controller) Seek(target time.Duration) error {
	c.mu.Lock()
	active := c.active
	var drop *Session
	if c.fade != nil {
		drop = c.fading
		c.fading, c.fade = nil, nil
	}
	c.mu.Unlock()

	if drop != nil {
		drop.Release()
	}
	if active == nil {
		return ErrNothingPlaying
	}
	return active.Seek(target)
}

// SetOnDeck names the track to auto-advance into when the active one
// ends. An empty path clears it. A staged session for a different path
// is released.
func (c *Controller) SetOnDeck(path string) {
	c.mu.Lock()
	if c.onDeck == path {
		c.mu.Unlock()
		return
	}
	c.onDeck = path
	c.prepFailed = ""
	var drop *Session
	if c.next != nil && c.next.Path() != path {
		drop = c.next
		c.next = nil
	}
	c.mu.Unlock()

	if drop != nil {
		drop.Release()
	}
	c.poke()
	slog.Debug("on-deck track set", "path", path)
}

// SetCrossfade sets the fade window for automatic transitions. Zero or
// negative disables crossfading; tracks then advance gapless.
func (c *Controller) SetCrossfade(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.crossfade = d
	c.mu.Unlock()
	slog.Debug("crossfade duration set", "fade_ms", d.Milliseconds())
}

// SetCurve selects the crossfade envelope shape.
func (c *Controller) SetCurve(curve FadeCurve) {
	c.mu.Lock()
	c.curve = curve
	c.mu.Unlock()
	slog.Debug("crossfade curve set", "curve", curve.String())
}

// SetSmartCrossfade toggles starting fades where trailing silence begins
// rather than a fixed window before the end.
func (c *Controller) SetSmartCrossfade(on bool) {
	c.mu.Lock()
	c.smart = on
	c.mu.Unlock()
	slog.Debug("smart crossfade set", "enabled", on)
}

// SetRepeatOne toggles rewinding the active track at its end instead of
// advancing.
func (c *Controller) SetRepeatOne(on bool) {
	c.mu.Lock()
	c.repeatOne = on
	c.mu.Unlock()
	slog.Debug("repeat one set", "enabled", on)
}

// SetVolume sets the master volume in [0, 1], applied after the effect
// chain and fade envelopes.
func (c *Controller) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.vol.Store(math.Float64bits(v))
	slog.Debug("volume set", "volume", v)
}

// Volume returns the master volume.
func (c *Controller) Volume() float64 {
	return math.Float64frombits(c.vol.Load())
}

// Position reports the playback position of the active track, adjusted
// for sink latency so it tracks what is audible rather than what has
// been rendered.
func (c *Controller) Position() time.Duration {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return 0
	}
	pos := active.Position() - c.out.Latency()
	if pos < 0 {
		pos = 0
	}
	return pos
}

// Duration reports the active track's length, or zero when idle or
// unknown.
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return 0
	}
	return c.active.Duration()
}

// CurrentPath returns the active track's path, or empty when idle.
func (c *Controller) CurrentPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.Path()
}

// Playing reports whether audio is being rendered.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && !c.paused
}

// Paused reports whether playback is paused with a track loaded.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.paused
}

// Close stops the render and notifier goroutines, releases every
// session, and closes the sink. Safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.quit)
	c.cancel()
	c.poke()
	<-c.done
	<-c.notifyDone

	c.mu.Lock()
	old := c.takeSessionsLocked()
	c.mu.Unlock()
	for _, prev := range old {
		prev.Release()
	}

	err := c.out.Close()
	slog.Info("transition controller closed")
	return err
}

// renderLoop mixes one quantum per pass: the active leg, plus the
// outgoing leg during a crossfade, then the effect of master volume, out
// to the sink. The sink's write backpressure paces it.
func (c *Controller) renderLoop() {
	defer close(c.done)

	bufA := make([]float32, quantumFrames*2)
	bufB := make([]float32, quantumFrames*2)
	mix := make([]float32, quantumFrames*2)

	for {
		select {
		case <-c.quit:
			return
		default:
		}

		c.mu.Lock()
		idle := c.active == nil || c.paused
		c.mu.Unlock()
		if idle {
			select {
			case <-c.quit:
				return
			case <-c.wake:
			}
			continue
		}

		c.checkTransition()

		c.mu.Lock()
		active, fading, fade := c.active, c.fading, c.fade
		c.mu.Unlock()
		if active == nil {
			continue
		}

		// Fill the active leg, crossing track boundaries inside the
		// quantum so gapless junctions stay sample-exact.
		n, alive := active.Read(bufA)
		for !alive {
			succ := c.handleActiveEnd(active)
			if succ == nil {
				break
			}
			active = succ
			var m int
			m, alive = active.Read(bufA[n:])
			n += m
		}
		zeroFill(bufA[n:])

		if fading != nil {
			m, _ := fading.Read(bufB)
			zeroFill(bufB[m:])
		}

		if fade != nil && fading != nil {
			total := float64(fade.total)
			for i := 0; i < quantumFrames; i++ {
				t := (float64(fade.pos) + float64(i)) / total
				gIn, gOut := fade.curve.gains(t)
				mix[2*i] = float32(float64(bufA[2*i])*gIn + float64(bufB[2*i])*gOut)
				mix[2*i+1] = float32(float64(bufA[2*i+1])*gIn + float64(bufB[2*i+1])*gOut)
			}
			fade.pos += quantumFrames
			if fade.pos >= fade.total {
				c.finishFade()
			}
		} else {
			copy(mix, bufA)
		}

		if c.tap != nil {
			c.tap.Push(mix)
		}

		if vol := c.Volume(); vol != 1 {
			v := float32(vol)
			for i := range mix {
				mix[i] *= v
			}
		}

		if err := c.out.Write(c.ctx, mix); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			slog.Error("sink write failed", "error", err)
			c.stopOnWriteError(err)
		}
	}
}

// checkTransition stages the next session when the boundary is near and
// begins a crossfade once the active track reaches the fade window.
func (c *Controller) checkTransition() {
	var began bool
	var to string

	c.mu.Lock()
	active := c.active
	if active == nil || c.fade != nil {
		c.mu.Unlock()
		return
	}

	if c.onDeck != "" && c.onDeck != c.prepFailed && c.next == nil && !c.preparing {
		dur := active.Duration()
		if dur <= 0 || dur-active.Position() <= c.crossfade+prepareLead {
			c.preparing = true
			go c.prepare(c.onDeck)
		}
	}

	if c.next != nil && c.crossfade > 0 {
		if start, length, ok := c.fadeWindow(active); ok && active.Position() >= start {
			to = c.beginFadeLocked(length)
			began = true
		}
	}
	c.mu.Unlock()

	if began {
		c.fireAutoAdvanced(to)
		c.fireTrackStarted(to)
	}
}

// fadeWindow computes where the active track's fade begins and how long
// it runs: min(configured, track length), pulled earlier when smart
// crossfade knows where the trailing silence starts. Callers hold mu.
func (c *Controller) fadeWindow(active *Session) (start, length time.Duration, ok bool) {
	dur := active.Duration()
	if dur <= 0 || c.crossfade <= 0 {
		return 0, 0, false
	}
	length = c.crossfade
	start = dur - length
	if c.smart && c.silence != nil {
		if at, found := c.silence(active.Path()); found && at > 0 && at < dur {
			start = at
			if rem := dur - start; rem < length {
				length = rem
			}
		}
	}
	if start < 0 {
		start = 0
	}
	if length > dur {
		length = dur
	}
	if length <= 0 {
		return 0, 0, false
	}
	return start, length, true
}

// beginFadeLocked promotes the staged session to active and demotes the
// old one to the outgoing fade leg. Callers hold mu and fire the
// advancement events after unlocking.
func (c *Controller) beginFadeLocked(length time.Duration) string {
	old, succ := c.active, c.next
	c.next = nil
	if err := old.Promote(RoleFadingOut); err != nil {
		slog.Warn("fade-out promotion failed", "session_id", old.ID(), "error", err)
	}
	if err := succ.Promote(RoleActive); err != nil {
		slog.Warn("activation failed", "session_id", succ.ID(), "error", err)
	}
	c.fading, c.active = old, succ

	frames := int(c.out.Format().FramesFor(length))
	if frames < 1 {
		frames = 1
	}
	c.fade = &fadeState{total: frames, curve: c.curve}

	slog.Info("crossfade started",
		"from", old.Path(),
		"to", succ.Path(),
		"fade_ms", length.Milliseconds(),
		"curve", c.curve.String())
	return succ.Path()
}

// finishFade releases the outgoing leg once its envelope has run out.
func (c *Controller) finishFade() {
	c.mu.Lock()
	old := c.fading
	c.fading, c.fade = nil, nil
	c.mu.Unlock()

	if old != nil {
		old.Release()
	}
	slog.Debug("crossfade complete")
}

// handleActiveEnd advances past a session whose audio is exhausted:
// repeat-one rewinds it, a staged next track is promoted before anyone
// is told, and otherwise playback stops. It returns the session that
// should keep filling the current quantum, or nil.
func (c *Controller) handleActiveEnd(ended *Session) *Session {
	var fire []func()
	var release []*Session
	var cont *Session

	c.mu.Lock()
	if c.active != ended {
		c.mu.Unlock()
		return nil
	}
	decErr := ended.Err()

	if c.fade != nil {
		// The incoming leg died mid-fade; cut the rest of the fade.
		if c.fading != nil {
			release = append(release, c.fading)
		}
		c.fading, c.fade = nil, nil
	}

	switch {
	// Zero-length and unknown-length tracks never repeat; a rewind that
	// yields no audio would pin the render loop.
	case c.repeatOne && decErr == nil && ended.Duration() > 0:
		cont = ended
		if err := ended.Restart(); err != nil {
			slog.Warn("session restart failed",
				"session_id", ended.ID(),
				"path", ended.Path(),
				"error", err)
			cont = nil
			if errors.Is(err, audio.ErrInvalidState) {
				// One rebuild from scratch before giving up.
				fresh, rerr := Open(c.deps, ended.Path(), 0)
				if rerr != nil {
					slog.Error("session rebuild failed",
						"path", ended.Path(),
						"error", rerr)
				} else {
					if perr := fresh.Promote(RoleActive); perr != nil {
						slog.Warn("activation failed",
							"session_id", fresh.ID(),
							"error", perr)
					}
					c.active = fresh
					release = append(release, ended)
					cont = fresh
				}
			}
			if cont == nil {
				c.active = nil
				release = append(release, ended)
				path, e := ended.Path(), err
				fire = append(fire, func() { c.fireTrackEnded(path, e) })
			}
		}
		if cont != nil {
			path := cont.Path()
			fire = append(fire, func() { c.fireTrackRepeated(path) })
		}

	case c.next != nil:
		succ := c.next
		c.next = nil
		if err := succ.Promote(RoleActive); err != nil {
			slog.Warn("activation failed", "session_id", succ.ID(), "error", err)
		}
		c.active = succ
		release = append(release, ended)
		cont = succ
		if decErr != nil {
			slog.Warn("advancing past failed track",
				"path", ended.Path(),
				"error", decErr)
		}
		path := succ.Path()
		fire = append(fire,
			func() { c.fireAutoAdvanced(path) },
			func() { c.fireTrackStarted(path) })

	default:
		c.active = nil
		release = append(release, ended)
		path := ended.Path()
		fire = append(fire, func() { c.fireTrackEnded(path, decErr) })
	}
	c.mu.Unlock()

	for _, s := range release {
		s.Release()
	}
	for _, fn := range fire {
		fn()
	}
	return cont
}

// prepare opens the staged next session off the render thread.
func (c *Controller) prepare(path string) {
	s, err := Open(c.deps, path, 0)

	c.mu.Lock()
	c.preparing = false
	if err != nil {
		c.prepFailed = path
		c.mu.Unlock()
		slog.Error("failed to prepare next session", "path", path, "error", err)
		c.firePrepareFailed(path, err)
		return
	}
	if c.closed || c.onDeck != path || c.next != nil {
		c.mu.Unlock()
		s.Release()
		return
	}
	c.next = s
	c.mu.Unlock()

	slog.Debug("next session staged", "path", path, "session_id", s.ID())
	c.poke()
}

// stopOnWriteError clears playback after the sink rejected a write.
func (c *Controller) stopOnWriteError(err error) {
	c.mu.Lock()
	var ended string
	if c.active != nil {
		ended = c.active.Path()
	}
	old := c.takeSessionsLocked()
	c.mu.Unlock()

	for _, prev := range old {
		prev.Release()
	}
	if ended != "" {
		c.fireTrackEnded(ended, err)
	}
}

// takeSessionsLocked detaches every session for release. Callers hold
// mu.
func (c *Controller) takeSessionsLocked() []*Session {
	var out []*Session
	for _, s := range []*Session{c.active, c.fading, c.next} {
		if s != nil {
			out = append(out, s)
		}
	}
	c.active, c.fading, c.next = nil, nil, nil
	c.fade = nil
	return out
}

// poke nudges an idle render loop to re-check state.
func (c *Controller) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// emit queues fn for the notifier goroutine. Delivery is in order; a
// full queue blocks the emitter until the notifier catches up.
func (c *Controller) emit(fn func()) {
	select {
	case c.notifyCh <- fn:
	case <-c.quit:
	}
}

func (c *Controller) notifyLoop() {
	defer close(c.notifyDone)
	for {
		select {
		case fn := <-c.notifyCh:
			fn()
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) fireTrackStarted(path string) {
	if h := c.events.TrackStarted; h != nil {
		c.emit(func() { h(path) })
	}
}

func (c *Controller) fireTrackEnded(path string, err error) {
	if h := c.events.TrackEnded; h != nil {
		c.emit(func() { h(path, err) })
	}
}

func (c *Controller) fireAutoAdvanced(path string) {
	if h := c.events.AutoAdvanced; h != nil {
		c.emit(func() { h(path) })
	}
}

func (c *Controller) fireTrackRepeated(path string) {
	if h := c.events.TrackRepeated; h != nil {
		c.emit(func() { h(path) })
	}
}

func (c *Controller) firePrepareFailed(path string, err error) {
	if h := c.events.PrepareFailed; h != nil {
		c.emit(func() { h(path, err) })
	}
}

func zeroFill(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
}
