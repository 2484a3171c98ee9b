package audiotest

import (
	"context"
	"sync"
	"time"

	"cadenza.audio/internal/audio"
)

// FakeSink records every sample written to it and completes writes
// instantly, so render-path tests run faster than real time. An optional
// per-write delay simulates device backpressure.
type FakeSink struct {
	Fmt        audio.Format
	WriteDelay time.Duration // applied to every Write when non-zero
	FixedLag   time.Duration // reported by Latency

	mu      sync.Mutex
	samples []float32
	writes  int
	started bool
	paused  bool
	closed  bool
}

// NewFakeSink creates a recording sink at the given format.
func NewFakeSink(format audio.Format) *FakeSink {
	return &FakeSink{Fmt: format}
}

func (s *FakeSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *FakeSink) Write(ctx context.Context, samples []float32) error {
	if s.WriteDelay > 0 {
		timer := time.NewTimer(s.WriteDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return context.Canceled
	}
	s.samples = append(s.samples, samples...)
	s.writes++
	return nil
}

func (s *FakeSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return nil
}

func (s *FakeSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return nil
}

func (s *FakeSink) Reconfigure(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fmt = format
	return nil
}

func (s *FakeSink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Fmt
}

func (s *FakeSink) Latency() time.Duration {
	return s.FixedLag
}

func (s *FakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Samples returns a copy of everything written so far.
func (s *FakeSink) Samples() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float32, len(s.samples))
	copy(out, s.samples)
	return out
}

// Frames returns how many stereo frames were written.
func (s *FakeSink) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.samples) / s.Fmt.Channels)
}

// Writes returns the number of Write calls.
func (s *FakeSink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Paused reports the pause flag.
func (s *FakeSink) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Reset clears recorded samples.
func (s *FakeSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = s.samples[:0]
	s.writes = 0
}
