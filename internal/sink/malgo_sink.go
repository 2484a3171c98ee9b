//go:build cgo

package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"cadenza.audio/internal/audio"
)

// pendingChunks bounds how many write-sized blocks can queue ahead of the
// device callback. With 1024-frame writes at 44.1kHz this holds roughly a
// quarter second.
const pendingChunks = 12

// MalgoSink plays PCM through a miniaudio playback device. Rendered floats
// queue on a channel; the device callback drains it and converts to the
// device's 16-bit wire format, clamping at full scale.
type MalgoSink struct {
	devCtx *deviceContext

	mu      sync.Mutex
	device  *malgo.Device
	format  audio.Format
	started bool
	paused  bool
	closed  bool

	pending  chan []float32
	done     chan struct{}
	carry    []float32
	buffered atomic.Int64 // frames queued but not yet delivered to the device
}

// NewMalgoSink opens a playback device at the given format.
func NewMalgoSink(format audio.Format) (*MalgoSink, error) {
	slog.Debug("creating malgo sink", "format", format.String())

	if err := format.Validate(); err != nil {
		return nil, err
	}

	devCtx, err := newDeviceContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkNotAvailable, err)
	}

	s := &MalgoSink{
		devCtx:  devCtx,
		format:  format,
		pending: make(chan []float32, pendingChunks),
		done:    make(chan struct{}),
	}

	if err := s.initDevice(format); err != nil {
		devCtx.Close()
		return nil, err
	}

	slog.Info("malgo sink created", "format", format.String())
	return s, nil
}

// initDevice builds and initializes a playback device for the format.
// Caller holds no locks during construction; the callback only touches
// channel state.
func (s *MalgoSink) initDevice(format audio.Format) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	slog.Debug("malgo device configuration",
		"sample_rate", format.SampleRate,
		"channels", format.Channels)

	callbacks := malgo.DeviceCallbacks{
		Data: s.renderCallback,
	}

	device, err := malgo.InitDevice(s.devCtx.Raw().Context, deviceConfig, callbacks)
	if err != nil {
		slog.Error("failed to initialize playback device", "error", err)
		return fmt.Errorf("%w: %v", ErrSinkNotAvailable, err)
	}

	s.device = device
	return nil
}

// renderCallback feeds the device from queued chunks, zero-filling any
// shortfall. Runs on the audio thread; keep it allocation-free on the
// steady path.
func (s *MalgoSink) renderCallback(pOutput, pInput []byte, frameCount uint32) {
	values := int(frameCount) * s.format.Channels
	filled := 0

	for filled < values {
		if len(s.carry) == 0 {
			select {
			case chunk := <-s.pending:
				s.carry = chunk
			default:
			}
			if len(s.carry) == 0 {
				break
			}
		}

		n := len(s.carry)
		if n > values-filled {
			n = values - filled
		}
		convertS16LE(s.carry[:n], pOutput[filled*2:(filled+n)*2])
		s.carry = s.carry[n:]
		filled += n
	}

	if filled < values {
		for i := filled * 2; i < values*2; i++ {
			pOutput[i] = 0
		}
	}

	if filled > 0 {
		s.buffered.Add(-int64(filled / s.format.Channels))
	}
}

// Start begins playback.
func (s *MalgoSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.started {
		return nil
	}

	if err := s.device.Start(); err != nil {
		slog.Error("failed to start playback device", "error", err)
		return fmt.Errorf("%w: %v", ErrSinkNotAvailable, err)
	}

	s.started = true
	s.paused = false
	slog.Info("malgo sink started", "format", s.format.String())
	return nil
}

// Write queues samples for the device callback, blocking while the queue
// is full.
func (s *MalgoSink) Write(ctx context.Context, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.mu.Unlock()

	// The callback holds chunk slices, so the caller's buffer must be
	// copied out.
	chunk := make([]float32, len(samples))
	copy(chunk, samples)

	select {
	case s.pending <- chunk:
		s.buffered.Add(int64(len(chunk) / s.format.Channels))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSinkClosed
	}
}

// Pause stops the device clock, keeping queued samples.
func (s *MalgoSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if !s.started || s.paused {
		return nil
	}

	if err := s.device.Stop(); err != nil {
		slog.Error("failed to pause playback device", "error", err)
		return err
	}

	s.paused = true
	slog.Debug("malgo sink paused")
	return nil
}

// Resume restarts the device clock after Pause.
func (s *MalgoSink) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if !s.paused {
		return nil
	}

	if err := s.device.Start(); err != nil {
		slog.Error("failed to resume playback device", "error", err)
		return err
	}

	s.paused = false
	slog.Debug("malgo sink resumed")
	return nil
}

// Reconfigure tears the device down and rebuilds it at the new format.
// Samples queued at the old rate are dropped.
func (s *MalgoSink) Reconfigure(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if format == s.format {
		return nil
	}
	if err := format.Validate(); err != nil {
		return err
	}

	slog.Info("reconfiguring malgo sink",
		"old_format", s.format.String(),
		"new_format", format.String())

	wasStarted := s.started && !s.paused

	s.device.Uninit()
	s.device = nil
	s.started = false

	s.drainPending()

	s.format = format
	if err := s.initDevice(format); err != nil {
		return err
	}

	if wasStarted {
		if err := s.device.Start(); err != nil {
			return fmt.Errorf("%w: %v", ErrSinkNotAvailable, err)
		}
		s.started = true
	}

	return nil
}

// drainPending empties queued chunks. Caller holds mu and the device must
// be stopped.
func (s *MalgoSink) drainPending() {
	for {
		select {
		case <-s.pending:
		default:
			s.carry = nil
			s.buffered.Store(0)
			return
		}
	}
}

// Format returns the device format.
func (s *MalgoSink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Latency estimates output delay from queued frames.
func (s *MalgoSink) Latency() time.Duration {
	frames := s.buffered.Load()
	if frames < 0 {
		frames = 0
	}
	return s.format.Duration(frames)
}

// Close stops the device and frees the context.
func (s *MalgoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	device := s.device
	s.device = nil
	s.mu.Unlock()

	if device != nil {
		device.Uninit()
	}

	err := s.devCtx.Close()

	slog.Info("malgo sink closed")
	return err
}
