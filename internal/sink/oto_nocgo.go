//go:build linux && !cgo

package sink

import (
	"context"
	"fmt"
	"time"

	"cadenza.audio/internal/audio"
)

// OtoSink is unavailable on Linux without cgo; oto's Linux driver is ALSA
// through cgo. Builds without cgo still get the null sink.
type OtoSink struct{}

// NewOtoSink always fails in no-cgo Linux builds.
func NewOtoSink(format audio.Format) (*OtoSink, error) {
	return nil, fmt.Errorf("%w: oto sink requires a cgo build on linux", ErrSinkNotAvailable)
}

func (s *OtoSink) Start() error { return ErrSinkNotAvailable }

func (s *OtoSink) Write(context.Context, []float32) error { return ErrSinkNotAvailable }

func (s *OtoSink) Pause() error { return ErrSinkNotAvailable }

func (s *OtoSink) Resume() error { return ErrSinkNotAvailable }

func (s *OtoSink) Reconfigure(audio.Format) error { return ErrSinkNotAvailable }

func (s *OtoSink) Format() audio.Format { return audio.Format{} }

func (s *OtoSink) Latency() time.Duration { return 0 }

func (s *OtoSink) Close() error { return nil }
