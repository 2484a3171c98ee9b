package audio

import (
	"fmt"
	"time"
)

// MaxChannels is the widest channel layout the pipeline carries. Sources
// with more channels are rejected at configure time rather than downmixed.
const MaxChannels = 2

// Format describes the PCM layout of a decoded stream.
type Format struct {
	SampleRate int // frames per second
	Channels   int // interleaved channels per frame
}

// Validate checks that the format is one the pipeline can carry.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidData, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channel count %d", ErrInvalidData, f.Channels)
	}
	if f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels exceeds %d channel limit", ErrUnsupportedFormat, f.Channels, MaxChannels)
	}
	return nil
}

// Duration converts a frame count at this format's rate to wall time.
func (f Format) Duration(frames int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// FramesFor converts a wall-time duration to a frame count at this format's rate.
func (f Format) FramesFor(d time.Duration) int64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return int64(d) * int64(f.SampleRate) / int64(time.Second)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}
