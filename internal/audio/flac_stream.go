package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mewkiz/flac"
)

// FlacCodec opens streaming decoders for FLAC audio.
type FlacCodec struct{}

// NewFlacCodec creates a new FLAC codec instance.
func NewFlacCodec() *FlacCodec {
	slog.Debug("creating new FLAC codec instance")
	return &FlacCodec{}
}

// FormatName returns the name of the format this codec handles.
func (c *FlacCodec) FormatName() string {
	return "FLAC"
}

// CanDecode checks if this codec can handle the given filename.
func (c *FlacCodec) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".flac")

	slog.Debug("FLAC codec file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// seekOnly hides the source's Close from the flac library so stream and
// source lifetimes stay under our control.
type seekOnly struct {
	io.ReadSeeker
}

// NewStream opens a streaming FLAC decoder over src.
func (c *FlacCodec) NewStream(src Source) (StreamDecoder, error) {
	slog.Debug("opening FLAC stream", "source", src.Name())

	stream, err := flac.NewSeek(seekOnly{src})
	if err != nil {
		slog.Error("failed to parse FLAC stream", "source", src.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	info := stream.Info
	if info.BitsPerSample == 0 || info.BitsPerSample > 32 {
		return nil, fmt.Errorf("%w: %d-bit FLAC", ErrUnsupportedFormat, info.BitsPerSample)
	}

	slog.Debug("FLAC stream opened",
		"source", src.Name(),
		"sample_rate", info.SampleRate,
		"channels", info.NChannels,
		"bits_per_sample", info.BitsPerSample,
		"total_frames", info.NSamples)

	return &flacStream{
		src:      src,
		stream:   stream,
		channels: int(info.NChannels),
		scale:    float64(int64(1) << (info.BitsPerSample - 1)),
	}, nil
}

// flacStream interleaves mewkiz/flac's per-channel int32 subframes into
// float32 frames.
type flacStream struct {
	src      Source
	stream   *flac.Stream
	channels int
	scale    float64
	pending  []float32 // interleaved samples decoded but not yet delivered
}

func (s *flacStream) Format() Format {
	return Format{SampleRate: int(s.stream.Info.SampleRate), Channels: s.channels}
}

func (s *flacStream) Frames() int64 {
	return int64(s.stream.Info.NSamples)
}

func (s *flacStream) ReadPCM(dst []float32) (int, error) {
	wantValues := len(dst) / s.channels * s.channels
	copied := 0

	for copied < wantValues {
		if len(s.pending) == 0 {
			if err := s.decodeNext(); err != nil {
				if err == io.EOF && copied > 0 {
					break
				}
				return copied / s.channels, err
			}
		}
		n := copy(dst[copied:wantValues], s.pending)
		s.pending = s.pending[n:]
		copied += n
	}

	return copied / s.channels, nil
}

// decodeNext parses one FLAC frame into the pending buffer.
func (s *flacStream) decodeNext() error {
	f, err := s.stream.ParseNext()
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		slog.Error("FLAC frame parse failed", "source", s.src.Name(), "error", err)
		return fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	if len(f.Subframes) != s.channels {
		return fmt.Errorf("%w: frame has %d subframes, expected %d", ErrInvalidData, len(f.Subframes), s.channels)
	}

	n := len(f.Subframes[0].Samples)
	if cap(s.pending) < n*s.channels {
		s.pending = make([]float32, 0, n*s.channels)
	}
	s.pending = s.pending[:0]
	for i := 0; i < n; i++ {
		for ch := 0; ch < s.channels; ch++ {
			s.pending = append(s.pending, float32(float64(f.Subframes[ch].Samples[i])/s.scale))
		}
	}
	return nil
}

// Seek lands on the frame boundary at or before the target, then decodes
// and discards up to the exact frame.
func (s *flacStream) Seek(frame int64) error {
	if frame < 0 {
		return fmt.Errorf("%w: negative frame %d", ErrInvalidData, frame)
	}

	s.pending = s.pending[:0]
	landed, err := s.stream.Seek(uint64(frame))
	if err != nil {
		slog.Error("FLAC seek failed", "source", s.src.Name(), "frame", frame, "error", err)
		return fmt.Errorf("flac seek to frame %d: %w", frame, err)
	}

	skip := frame - int64(landed)
	for skip > 0 {
		if len(s.pending) == 0 {
			if err := s.decodeNext(); err != nil {
				if err == io.EOF {
					break
				}
				return err
			}
		}
		drop := int64(len(s.pending) / s.channels)
		if drop > skip {
			drop = skip
		}
		s.pending = s.pending[drop*int64(s.channels):]
		skip -= drop
	}

	slog.Debug("FLAC stream seeked", "source", s.src.Name(), "frame", frame, "landed", landed)
	return nil
}

func (s *flacStream) Close() error {
	slog.Debug("closing FLAC stream", "source", s.src.Name())
	if err := s.stream.Close(); err != nil {
		slog.Warn("FLAC stream close reported error", "source", s.src.Name(), "error", err)
	}
	return s.src.Close()
}
