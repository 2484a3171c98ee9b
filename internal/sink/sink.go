// Package sink delivers rendered PCM to an audio output. Implementations
// wrap a playback device (malgo, oto) or discard samples at real-time pace
// (null). Writes carry backpressure: they block while the device's buffer
// is full, which is what paces the render loop upstream.
package sink

import (
	"context"
	"errors"
	"time"

	"cadenza.audio/internal/audio"
)

// Common errors for Sink implementations.
var (
	ErrSinkClosed             = errors.New("audio sink is closed")
	ErrSinkNotAvailable       = errors.New("audio sink not available")
	ErrInvalidSinkType        = errors.New("invalid sink type")
	ErrReconfigureUnsupported = errors.New("sink cannot be reconfigured")
)

// Sink accepts interleaved stereo float32 PCM at a fixed sample rate and
// plays it out. All methods are safe for concurrent use, though a single
// writer is expected.
type Sink interface {
	// Start begins playback. Writes before Start may buffer.
	Start() error

	// Write queues interleaved stereo samples for playback, blocking while
	// the device buffer is full. Returns early with the context's error on
	// cancellation.
	Write(ctx context.Context, samples []float32) error

	// Pause halts playback without dropping buffered samples.
	Pause() error

	// Resume continues playback after Pause.
	Resume() error

	// Reconfigure switches the sink to a new format. Implementations that
	// cannot change format return ErrReconfigureUnsupported.
	Reconfigure(format audio.Format) error

	// Format returns the format the sink currently plays at.
	Format() audio.Format

	// Latency estimates how long a sample written now takes to reach the
	// speaker, based on buffered data.
	Latency() time.Duration

	// Close stops playback and releases the device.
	Close() error
}

// clampS16 converts one float sample to signed 16-bit, clamping to full
// scale.
func clampS16(v float32) int16 {
	scaled := v * 32767.0
	if scaled > 32767.0 {
		return 32767
	}
	if scaled < -32768.0 {
		return -32768
	}
	return int16(scaled)
}

// convertS16LE writes float32 samples into out as signed 16-bit little
// endian. out must hold 2 bytes per sample.
func convertS16LE(samples []float32, out []byte) {
	for i, s := range samples {
		v := clampS16(s)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
}
