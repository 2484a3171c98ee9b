//go:build !cgo

package sink

import (
	"context"
	"fmt"
	"time"

	"cadenza.audio/internal/audio"
)

// MalgoSink is unavailable without cgo; miniaudio is a C library. Builds
// without cgo still get the oto and null sinks.
type MalgoSink struct{}

// NewMalgoSink always fails in no-cgo builds.
func NewMalgoSink(format audio.Format) (*MalgoSink, error) {
	return nil, fmt.Errorf("%w: malgo sink requires a cgo build", ErrSinkNotAvailable)
}

func (s *MalgoSink) Start() error { return ErrSinkNotAvailable }

func (s *MalgoSink) Write(context.Context, []float32) error { return ErrSinkNotAvailable }

func (s *MalgoSink) Pause() error { return ErrSinkNotAvailable }

func (s *MalgoSink) Resume() error { return ErrSinkNotAvailable }

func (s *MalgoSink) Reconfigure(audio.Format) error { return ErrSinkNotAvailable }

func (s *MalgoSink) Format() audio.Format { return audio.Format{} }

func (s *MalgoSink) Latency() time.Duration { return 0 }

func (s *MalgoSink) Close() error { return nil }
