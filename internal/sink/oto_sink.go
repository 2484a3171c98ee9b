//go:build !linux || cgo

package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"cadenza.audio/internal/audio"
)

// otoShared holds the process-wide oto context. oto allows exactly one
// context per process, so the first sink's sample rate wins and later
// sinks must match it.
var otoShared struct {
	sync.Mutex
	ctx  *oto.Context
	rate int
}

// acquireOtoContext returns the shared context, creating it on first use.
func acquireOtoContext(format audio.Format) (*oto.Context, error) {
	otoShared.Lock()
	defer otoShared.Unlock()

	if otoShared.ctx != nil {
		if otoShared.rate != format.SampleRate {
			return nil, fmt.Errorf("%w: oto context is fixed at %dHz, requested %dHz",
				ErrReconfigureUnsupported, otoShared.rate, format.SampleRate)
		}
		return otoShared.ctx, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		slog.Error("failed to create oto context", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSinkNotAvailable, err)
	}
	<-ready

	otoShared.ctx = ctx
	otoShared.rate = format.SampleRate

	slog.Info("oto context created", "sample_rate", format.SampleRate, "channels", format.Channels)
	return ctx, nil
}

// OtoSink plays PCM through an oto player fed by a pipe. The pipe gives
// Write its backpressure: the player pulls bytes as the device drains.
type OtoSink struct {
	format audio.Format
	player *oto.Player
	pw     *io.PipeWriter

	mu      sync.Mutex
	started bool
	closed  bool
	scratch []byte
}

// NewOtoSink opens an oto-backed sink at the given format.
func NewOtoSink(format audio.Format) (*OtoSink, error) {
	slog.Debug("creating oto sink", "format", format.String())

	if err := format.Validate(); err != nil {
		return nil, err
	}

	ctx, err := acquireOtoContext(format)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	player := ctx.NewPlayer(pr)

	slog.Info("oto sink created", "format", format.String())

	return &OtoSink{
		format: format,
		player: player,
		pw:     pw,
	}, nil
}

// Start begins pulling from the pipe and playing.
func (s *OtoSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.started {
		return nil
	}

	s.player.Play()
	s.started = true

	slog.Info("oto sink started", "format", s.format.String())
	return nil
}

// Write converts samples to the wire format and pushes them down the pipe.
// Blocks while the player's buffer is full; cancellation is observed
// between writes, not mid-write.
func (s *OtoSink) Write(ctx context.Context, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	want := len(samples) * 2
	if cap(s.scratch) < want {
		s.scratch = make([]byte, want)
	}
	buf := s.scratch[:want]
	s.mu.Unlock()

	convertS16LE(samples, buf)

	if _, err := s.pw.Write(buf); err != nil {
		if err == io.ErrClosedPipe {
			return ErrSinkClosed
		}
		return fmt.Errorf("oto sink write: %w", err)
	}
	return nil
}

// Pause stops playback, retaining buffered samples.
func (s *OtoSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	s.player.Pause()
	slog.Debug("oto sink paused")
	return nil
}

// Resume continues playback after Pause.
func (s *OtoSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	s.player.Play()
	slog.Debug("oto sink resumed")
	return nil
}

// Reconfigure only succeeds for the format the process-wide context was
// created with.
func (s *OtoSink) Reconfigure(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if format == s.format {
		return nil
	}

	slog.Warn("oto sink cannot change format",
		"current_format", s.format.String(),
		"requested_format", format.String())
	return fmt.Errorf("%w: oto context is fixed at %s", ErrReconfigureUnsupported, s.format.String())
}

// Format returns the sink format.
func (s *OtoSink) Format() audio.Format {
	return s.format
}

// Latency reports the unplayed buffer as output delay.
func (s *OtoSink) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	bytes := s.player.BufferedSize()
	frames := int64(bytes) / int64(s.format.Channels*2)
	return s.format.Duration(frames)
}

// Close tears the player down. The shared context stays for later sinks.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Unblock any writer stuck on the pipe first.
	s.pw.CloseWithError(io.ErrClosedPipe)

	if err := s.player.Close(); err != nil {
		slog.Error("failed to close oto player", "error", err)
		return err
	}

	slog.Info("oto sink closed")
	return nil
}
