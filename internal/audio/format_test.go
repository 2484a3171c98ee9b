package audio

import (
	"errors"
	"testing"
	"time"
)

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		wantErr error
	}{
		{"valid stereo", Format{SampleRate: 44100, Channels: 2}, nil},
		{"valid mono", Format{SampleRate: 48000, Channels: 1}, nil},
		{"zero sample rate", Format{SampleRate: 0, Channels: 2}, ErrInvalidData},
		{"negative sample rate", Format{SampleRate: -1, Channels: 2}, ErrInvalidData},
		{"zero channels", Format{SampleRate: 44100, Channels: 0}, ErrInvalidData},
		{"too many channels", Format{SampleRate: 44100, Channels: 6}, ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 44100, Channels: 2}

	if d := f.Duration(44100); d != time.Second {
		t.Errorf("expected 1s for one rate's worth of frames, got %v", d)
	}
	if d := f.Duration(22050); d != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", d)
	}
	if d := f.Duration(0); d != 0 {
		t.Errorf("expected 0 for zero frames, got %v", d)
	}

	zero := Format{}
	if d := zero.Duration(44100); d != 0 {
		t.Errorf("expected 0 for zero format, got %v", d)
	}
}

func TestFormatFramesFor(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2}

	if n := f.FramesFor(time.Second); n != 48000 {
		t.Errorf("expected 48000 frames per second, got %d", n)
	}
	if n := f.FramesFor(250 * time.Millisecond); n != 12000 {
		t.Errorf("expected 12000 frames for 250ms, got %d", n)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	f := Format{SampleRate: 44100, Channels: 2}

	for _, frames := range []int64{0, 1, 441, 44100, 4410000} {
		got := f.FramesFor(f.Duration(frames))
		if got != frames {
			t.Errorf("round trip of %d frames gave %d", frames, got)
		}
	}
}
