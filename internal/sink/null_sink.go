package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cadenza.audio/internal/audio"
)

// NullSink discards samples at real-time pace. It keeps the render loop
// honest on machines with no audio device and in headless tests.
type NullSink struct {
	mu       sync.Mutex
	format   audio.Format
	started  bool
	closed   bool
	paused   bool
	resumeCh chan struct{}
	done     chan struct{}

	epoch    time.Time // when pacing started
	consumed int64     // frames accepted since epoch
}

// NewNullSink creates a sink that plays to nowhere at the given format.
func NewNullSink(format audio.Format) (*NullSink, error) {
	slog.Debug("creating null sink", "format", format.String())

	if err := format.Validate(); err != nil {
		return nil, err
	}

	return &NullSink{
		format:   format,
		resumeCh: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins the pacing clock.
func (s *NullSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.started {
		return nil
	}

	s.started = true
	s.epoch = time.Now()
	s.consumed = 0

	slog.Info("null sink started", "format", s.format.String())
	return nil
}

// Write discards samples, sleeping as needed so throughput matches the
// sample rate. While paused it blocks until Resume, cancellation, or Close.
func (s *NullSink) Write(ctx context.Context, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrSinkClosed
		}
		if !s.paused {
			break // keep lock
		}
		ch := s.resumeCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrSinkClosed
		}
	}

	frames := int64(len(samples) / s.format.Channels)
	s.consumed += frames
	target := s.epoch.Add(s.format.Duration(s.consumed))
	s.mu.Unlock()

	wait := time.Until(target)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSinkClosed
	}
}

// Pause blocks subsequent writes until Resume.
func (s *NullSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.paused {
		return nil
	}

	s.paused = true
	slog.Debug("null sink paused")
	return nil
}

// Resume unblocks writers and restarts the pacing clock.
func (s *NullSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if !s.paused {
		return nil
	}

	s.paused = false
	// Reset pacing so the pause gap is not "owed" to writers.
	s.epoch = time.Now()
	s.consumed = 0
	close(s.resumeCh)
	s.resumeCh = make(chan struct{})

	slog.Debug("null sink resumed")
	return nil
}

// Reconfigure switches the pacing format.
func (s *NullSink) Reconfigure(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if err := format.Validate(); err != nil {
		return err
	}

	s.format = format
	s.epoch = time.Now()
	s.consumed = 0

	slog.Debug("null sink reconfigured", "format", format.String())
	return nil
}

// Format returns the pacing format.
func (s *NullSink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Latency is the pacing debt: how far ahead of the clock writes have run.
func (s *NullSink) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return 0
	}
	ahead := time.Until(s.epoch.Add(s.format.Duration(s.consumed)))
	if ahead < 0 {
		return 0
	}
	return ahead
}

// Close releases the sink and unblocks writers.
func (s *NullSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	slog.Info("null sink closed")
	return nil
}
