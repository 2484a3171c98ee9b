package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jfreymuth/oggvorbis"
)

// VorbisCodec opens streaming decoders for Ogg Vorbis audio.
type VorbisCodec struct{}

// NewVorbisCodec creates a new Ogg Vorbis codec instance.
func NewVorbisCodec() *VorbisCodec {
	slog.Debug("creating new Vorbis codec instance")
	return &VorbisCodec{}
}

// FormatName returns the name of the format this codec handles.
func (c *VorbisCodec) FormatName() string {
	return "OGG"
}

// CanDecode checks if this codec can handle the given filename.
func (c *VorbisCodec) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".ogg") || strings.HasSuffix(lower, ".oga")

	slog.Debug("Vorbis codec file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// NewStream opens a streaming Vorbis decoder over src.
func (c *VorbisCodec) NewStream(src Source) (StreamDecoder, error) {
	slog.Debug("opening Vorbis stream", "source", src.Name())

	reader, err := oggvorbis.NewReader(src)
	if err != nil {
		slog.Error("failed to create Vorbis reader", "source", src.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	slog.Debug("Vorbis stream opened",
		"source", src.Name(),
		"sample_rate", reader.SampleRate(),
		"channels", reader.Channels(),
		"total_frames", reader.Length())

	return &vorbisStream{
		src:    src,
		reader: reader,
	}, nil
}

// vorbisStream reads already-float samples from oggvorbis, carrying any
// partial frame between calls.
type vorbisStream struct {
	src     Source
	reader  *oggvorbis.Reader
	pending []float32
}

func (s *vorbisStream) Format() Format {
	return Format{SampleRate: s.reader.SampleRate(), Channels: s.reader.Channels()}
}

func (s *vorbisStream) Frames() int64 {
	return s.reader.Length()
}

func (s *vorbisStream) ReadPCM(dst []float32) (int, error) {
	channels := s.reader.Channels()
	wantValues := len(dst) / channels * channels
	copied := copy(dst[:wantValues], s.pending)
	s.pending = s.pending[copied:]

	for copied < wantValues {
		n, err := s.reader.Read(dst[copied:wantValues])
		copied += n
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Error("Vorbis read failed", "source", s.src.Name(), "error", err)
			return copied / channels, fmt.Errorf("%w: %v", ErrReadFailure, err)
		}
	}

	frames := copied / channels
	if rem := copied % channels; rem != 0 {
		// Keep the torn frame for the next call.
		s.pending = append(s.pending[:0], dst[frames*channels:copied]...)
	}

	if frames == 0 {
		return 0, io.EOF
	}
	return frames, nil
}

func (s *vorbisStream) Seek(frame int64) error {
	if frame < 0 {
		return fmt.Errorf("%w: negative frame %d", ErrInvalidData, frame)
	}

	s.pending = s.pending[:0]
	if err := s.reader.SetPosition(frame); err != nil {
		slog.Error("Vorbis seek failed", "source", s.src.Name(), "frame", frame, "error", err)
		return fmt.Errorf("vorbis seek to frame %d: %w", frame, err)
	}

	slog.Debug("Vorbis stream seeked", "source", s.src.Name(), "frame", frame)
	return nil
}

func (s *vorbisStream) Close() error {
	slog.Debug("closing Vorbis stream", "source", s.src.Name())
	return s.src.Close()
}
