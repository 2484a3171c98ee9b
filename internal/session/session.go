// Package session manages playback sessions and the transitions between
// them. A Session couples one decoder to one effect chain and buffers
// decoded, sink-rate PCM ahead of the render loop; the Controller owns up
// to two sessions at a time and mixes them into the sink, handling
// gapless advancement, crossfades, repeat-one, and recovery when a
// decoder lands in a bad state mid-transition.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep"
	"github.com/spf13/afero"

	"cadenza.audio/internal/audio"
	"cadenza.audio/internal/dsp"
	"cadenza.audio/internal/sink"
)

const (
	// quantumFrames is how many stereo frames the render loop mixes per
	// pass, and the block size the decode loop hands over.
	quantumFrames = 1024

	// frameChanCap bounds the decoded-audio buffer per session, about
	// half a second at 48 kHz.
	frameChanCap = 24

	// resampleQuality is the sinc interpolation order passed to beep's
	// resampler when the track and sink rates differ.
	resampleQuality = 4
)

// Session errors.
var (
	ErrSessionEnded      = errors.New("session already ended")
	ErrSessionDecoding   = errors.New("session decode loop still running")
	ErrInvalidTransition = errors.New("invalid session role transition")
)

// Role is a session's place in the playback lifecycle. Sessions move
// strictly forward: a released or finished session is never reused for
// another track.
type Role int

const (
	// RoleIdle is the zero value, before Open has run.
	RoleIdle Role = iota

	// RolePreparing means the session is decoding ahead of being heard,
	// as the staged next track.
	RolePreparing

	// RoleActive means the render loop is playing this session.
	RoleActive

	// RoleFadingOut means the session is the outgoing leg of a
	// crossfade.
	RoleFadingOut

	// RoleEnded means the session's decoder has been released.
	RoleEnded
)

func (r Role) String() string {
	switch r {
	case RoleIdle:
		return "idle"
	case RolePreparing:
		return "preparing"
	case RoleActive:
		return "active"
	case RoleFadingOut:
		return "fading_out"
	case RoleEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

var roleTransitions = map[Role][]Role{
	RoleIdle:      {RolePreparing},
	RolePreparing: {RoleActive, RoleEnded},
	RoleActive:    {RoleFadingOut, RoleEnded},
	RoleFadingOut: {RoleEnded},
	RoleEnded:     {},
}

// Deps bundles what every session draws on: the codec registry, the
// source filesystem, the shared decoder pool, the effect parameter store,
// and the sink whose rate decoded audio is resampled to.
type Deps struct {
	Registry *audio.CodecRegistry
	FS       afero.Fs
	Pool     *audio.InstancePool
	Params   *dsp.ParamStore
	Sink     sink.Sink
}

// block is one chunk of decoded sink-rate PCM. gen tags which seek
// generation produced it, so the reader can discard audio decoded before
// a seek was applied. pos is the track time at the block's first frame.
type block struct {
	pcm []float32
	gen uint64
	pos time.Duration
}

type readState struct {
	cur block
	off int    // samples consumed from cur.pcm
	gen uint64 // generation the chain was last reset for
}

// Session owns one decoder, one effect chain, and a decode goroutine
// that keeps a bounded buffer of sink-rate PCM filled. Read, Restart,
// and the chain are single-consumer: only the render loop touches them.
// Seek, Release, and the accessors are safe from other goroutines.
type Session struct {
	id       string
	path     string
	dec      *audio.Decoder
	chain    *dsp.Chain
	srcFmt   audio.Format
	sinkFmt  audio.Format
	duration time.Duration

	gen atomic.Uint64 // bumped on every seek request
	pos atomic.Int64  // reported track position, ns

	seekCh chan time.Duration

	mu        sync.Mutex
	role      Role
	released  bool
	decodeErr error
	startAt   time.Duration
	frames    chan block
	quit      chan struct{}
	done      chan struct{}

	rd readState
}

// Open prepares a playback session for path: it opens the file, starts a
// decoder, optionally seeks to startAt, and begins buffering decoded
// audio at the sink's sample rate. The returned session is in
// RolePreparing; promote it to RoleActive before rendering it.
func Open(deps Deps, path string, startAt time.Duration) (*Session, error) {
	src, err := audio.OpenFileSource(deps.FS, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	dec := audio.NewDecoder(deps.Registry, deps.Pool)
	if err := dec.Configure(src); err != nil {
		src.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	if err := dec.Start(); err != nil {
		dec.Release()
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	srcFmt := dec.Format()
	sinkFmt := deps.Sink.Format()
	duration := dec.Duration()

	if startAt < 0 {
		startAt = 0
	}
	if duration > 0 && startAt > duration {
		startAt = duration
	}
	if startAt > 0 {
		if err := dec.Seek(srcFmt.FramesFor(startAt)); err != nil {
			dec.Release()
			return nil, fmt.Errorf("seek %s to %v: %w", path, startAt, err)
		}
	}

	s := &Session{
		id:       uuid.NewString()[:8],
		path:     path,
		dec:      dec,
		chain:    dsp.NewChain(sinkFmt.SampleRate, deps.Params, deps.Sink),
		srcFmt:   srcFmt,
		sinkFmt:  sinkFmt,
		duration: duration,
		role:     RolePreparing,
		startAt:  startAt,
		seekCh:   make(chan time.Duration, 1),
		frames:   make(chan block, frameChanCap),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.pos.Store(int64(startAt))

	go s.decodeLoop()

	slog.Info("session opened",
		"session_id", s.id,
		"path", path,
		"source_rate", srcFmt.SampleRate,
		"sink_rate", sinkFmt.SampleRate,
		"duration_ms", duration.Milliseconds(),
		"start_ms", startAt.Milliseconds())
	return s, nil
}

// ID returns the session's short identifier.
func (s *Session) ID() string {
	return s.id
}

// Path returns the track path the session is playing.
func (s *Session) Path() string {
	return s.path
}

// Duration returns the track length, or zero when the codec cannot tell.
func (s *Session) Duration() time.Duration {
	return s.duration
}

// Position returns the track time of the last rendered frame. After a
// seek it reports the target immediately, before the first post-seek
// frame arrives.
func (s *Session) Position() time.Duration {
	return time.Duration(s.pos.Load())
}

// Role returns the session's current lifecycle role.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Err returns the decode error that ended the stream, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeErr
}

// Promote moves the session to a new role, rejecting transitions the
// lifecycle does not allow.
func (s *Session) Promote(to Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range roleTransitions[s.role] {
		if allowed != to {
			continue
		}
		slog.Debug("session role changed",
			"session_id", s.id,
			"from", s.role.String(),
			"to", to.String())
		s.role = to
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.role, to)
}

// Seek requests a jump to target. The decode loop applies it
// asynchronously; audio decoded before the jump is discarded by Read, and
// Position reports the target right away. Consecutive seeks collapse to
// the latest target.
func (s *Session) Seek(target time.Duration) error {
	s.mu.Lock()
	ended := s.role == RoleEnded
	s.mu.Unlock()
	if ended {
		return fmt.Errorf("seek %s: %w", s.id, ErrSessionEnded)
	}

	if target < 0 {
		target = 0
	}
	if s.duration > 0 && target > s.duration {
		target = s.duration
	}

	s.gen.Add(1)
	select {
	case s.seekCh <- target:
	default:
		select {
		case <-s.seekCh:
		default:
		}
		s.seekCh <- target
	}
	s.pos.Store(int64(target))

	slog.Debug("session seek requested",
		"session_id", s.id,
		"target_ms", target.Milliseconds())
	return nil
}

// Read copies up to len(dst) samples of decoded, effect-processed audio
// into dst and advances the reported position. It blocks while the
// decode loop refills, returns short only at end of stream, and reports
// false once no more audio will ever come. Only the render loop may call
// it.
func (s *Session) Read(dst []float32) (int, bool) {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()

	filled := 0
	for filled < len(dst) {
		if s.rd.off >= len(s.rd.cur.pcm) {
			b, ok := <-frames
			if !ok {
				if filled > 0 {
					s.chain.Process(dst[:filled])
				}
				return filled, false
			}
			if b.gen != s.gen.Load() {
				continue // decoded before a pending seek
			}
			if b.gen != s.rd.gen {
				s.rd.gen = b.gen
				s.chain.Reset()
			}
			s.rd.cur, s.rd.off = b, 0
		}

		n := copy(dst[filled:], s.rd.cur.pcm[s.rd.off:])
		filled += n
		s.rd.off += n
		s.pos.Store(int64(s.rd.cur.pos + s.sinkFmt.Duration(int64(s.rd.off/2))))
	}

	s.chain.Process(dst[:filled])
	return filled, true
}

// Restart rewinds a finished session to the start and resumes decoding,
// for repeat-one. Valid only after Read has reported false; the decoder
// stays open across the restart.
func (s *Session) Restart() error {
	s.mu.Lock()
	if s.role == RoleEnded {
		s.mu.Unlock()
		return fmt.Errorf("restart %s: %w", s.id, ErrSessionEnded)
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	default:
		return fmt.Errorf("restart %s: %w", s.id, ErrSessionDecoding)
	}

	if err := s.dec.Seek(0); err != nil {
		return fmt.Errorf("restart %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.frames = make(chan block, frameChanCap)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.startAt = 0
	s.decodeErr = nil
	s.mu.Unlock()

	s.rd = readState{gen: s.gen.Load()}
	s.chain.Reset()
	s.pos.Store(0)

	go s.decodeLoop()

	slog.Info("session restarted", "session_id", s.id, "path", s.path)
	return nil
}

// Release stops decoding and tears the decoder down. Safe to call
// repeatedly and from any goroutine; a Read blocked on the session
// returns once the decode loop exits.
func (s *Session) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.role = RoleEnded
	quit, done := s.quit, s.done
	s.mu.Unlock()

	close(quit)
	<-done
	s.dec.Release()

	slog.Info("session released",
		"session_id", s.id,
		"path", s.path,
		"last_position_ms", s.Position().Milliseconds())
}

// decodeLoop pulls from the decoder through the resample pipeline and
// hands fixed-size blocks to Read, applying seek requests between
// blocks. It exits on quit, end of stream, or a decode failure, and
// always closes done before frames so Restart can tell the loop is gone.
func (s *Session) decodeLoop() {
	s.mu.Lock()
	frames, quit, done := s.frames, s.quit, s.done
	base := s.startAt
	s.mu.Unlock()

	defer close(frames)
	defer close(done)

	streamer := s.newPipeline()
	scratch := make([][2]float64, quantumFrames)
	gen := s.gen.Load()
	var produced int64

	applySeek := func(target time.Duration) bool {
		frame := s.srcFmt.FramesFor(target)
		if total := s.dec.Frames(); total > 0 && frame > total {
			frame = total
		}
		if err := s.dec.Seek(frame); err != nil {
			s.setErr(fmt.Errorf("seek to %v: %w", target, err))
			slog.Error("session seek failed",
				"session_id", s.id,
				"path", s.path,
				"error", err)
			return false
		}
		base, produced = target, 0
		gen = s.gen.Load()
		streamer = s.newPipeline()
		return true
	}

	for {
		select {
		case <-quit:
			return
		case target := <-s.seekCh:
			if !applySeek(target) {
				return
			}
			continue
		default:
		}

		n, ok := streamer.Stream(scratch)
		if n > 0 {
			b := block{
				pcm: interleave(scratch[:n]),
				gen: gen,
				pos: base + s.sinkFmt.Duration(produced),
			}
			produced += int64(n)

			select {
			case frames <- b:
			case target := <-s.seekCh:
				// The pending block predates the seek; drop it, and
				// disregard any end-of-stream from the old position.
				if !applySeek(target) {
					return
				}
				continue
			case <-quit:
				return
			}
		}
		if !ok {
			if err := streamer.Err(); err != nil {
				s.setErr(err)
				slog.Error("session decode failed",
					"session_id", s.id,
					"path", s.path,
					"error", err)
			} else {
				slog.Debug("session decoded to end",
					"session_id", s.id,
					"path", s.path,
					"frames", produced)
			}
			return
		}
	}
}

// newPipeline wires the decoder to a fresh resampler. Rebuilt after every
// seek so no pre-seek filter state colors the new position.
func (s *Session) newPipeline() beep.Streamer {
	ds := &decoderStreamer{dec: s.dec}
	if s.srcFmt.SampleRate == s.sinkFmt.SampleRate {
		return ds
	}
	return beep.Resample(resampleQuality,
		beep.SampleRate(s.srcFmt.SampleRate),
		beep.SampleRate(s.sinkFmt.SampleRate),
		ds)
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.decodeErr == nil {
		s.decodeErr = err
	}
	s.mu.Unlock()
}

// decoderStreamer adapts the pull decoder to beep's Streamer interface so
// sessions can reuse beep's resampler between track and sink rates.
type decoderStreamer struct {
	dec *audio.Decoder
	buf *audio.Frame
	off int
	err error
}

func (d *decoderStreamer) Stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) {
		if d.buf == nil || d.off >= d.buf.FrameCount() {
			frame, err := d.dec.PullFrame()
			if err == io.EOF {
				break
			}
			if err != nil {
				d.err = err
				break
			}
			d.buf, d.off = frame, 0
			continue
		}
		samples[n][0] = float64(d.buf.Data[2*d.off])
		samples[n][1] = float64(d.buf.Data[2*d.off+1])
		n++
		d.off++
	}
	return n, n > 0
}

func (d *decoderStreamer) Err() error {
	return d.err
}

func interleave(src [][2]float64) []float32 {
	out := make([]float32, len(src)*2)
	for i, f := range src {
		out[2*i] = float32(f[0])
		out[2*i+1] = float32(f[1])
	}
	return out
}
