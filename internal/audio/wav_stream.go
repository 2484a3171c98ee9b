package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/youpy/go-wav"
)

// WavCodec opens streaming decoders for PCM WAV audio.
type WavCodec struct{}

// NewWavCodec creates a new WAV codec instance.
func NewWavCodec() *WavCodec {
	slog.Debug("creating new WAV codec instance")
	return &WavCodec{}
}

// FormatName returns the name of the format this codec handles.
func (c *WavCodec) FormatName() string {
	return "WAV"
}

// CanDecode checks if this codec can handle the given filename.
func (c *WavCodec) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".wav") || strings.HasSuffix(lower, ".wave")

	slog.Debug("WAV codec file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// NewStream opens a streaming WAV decoder over src.
func (c *WavCodec) NewStream(src Source) (StreamDecoder, error) {
	slog.Debug("opening WAV stream", "source", src.Name())

	reader := wav.NewReader(src)
	format, err := reader.Format()
	if err != nil {
		slog.Error("failed to read WAV format", "source", src.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	if format.AudioFormat != wav.AudioFormatPCM {
		slog.Error("non-PCM WAV encoding", "source", src.Name(), "audio_format", format.AudioFormat)
		return nil, fmt.Errorf("%w: WAV encoding %d", ErrUnsupportedFormat, format.AudioFormat)
	}

	switch format.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		slog.Error("unsupported WAV bit depth", "source", src.Name(), "bits", format.BitsPerSample)
		return nil, fmt.Errorf("%w: %d-bit WAV", ErrUnsupportedFormat, format.BitsPerSample)
	}

	var frames int64
	if reader.WavData != nil && format.BlockAlign > 0 {
		frames = int64(reader.WavData.Size) / int64(format.BlockAlign)
	}

	slog.Debug("WAV stream opened",
		"source", src.Name(),
		"sample_rate", format.SampleRate,
		"channels", format.NumChannels,
		"bits_per_sample", format.BitsPerSample,
		"total_frames", frames)

	return &wavStream{
		src:    src,
		reader: reader,
		format: format,
		frames: frames,
	}, nil
}

// wavStream converts go-wav's raw PCM bytes to float32 frames.
type wavStream struct {
	src     Source
	reader  *wav.Reader
	format  *wav.WavFormat
	frames  int64
	scratch []byte
}

func (s *wavStream) Format() Format {
	return Format{SampleRate: int(s.format.SampleRate), Channels: int(s.format.NumChannels)}
}

func (s *wavStream) Frames() int64 {
	return s.frames
}

func (s *wavStream) ReadPCM(dst []float32) (int, error) {
	channels := int(s.format.NumChannels)
	bytesPerSample := int(s.format.BitsPerSample) / 8
	blockAlign := int(s.format.BlockAlign)
	if blockAlign == 0 {
		blockAlign = channels * bytesPerSample
	}

	wantFrames := len(dst) / channels
	if wantFrames == 0 {
		return 0, nil
	}
	want := wantFrames * blockAlign
	if cap(s.scratch) < want {
		s.scratch = make([]byte, want)
	}
	buf := s.scratch[:want]

	n, err := io.ReadFull(s.reader, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err != nil && err != io.EOF {
		slog.Error("WAV read failed", "source", s.src.Name(), "error", err)
		return 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	frames := n / blockAlign
	for i := 0; i < frames*channels; i++ {
		off := i * bytesPerSample
		dst[i] = decodePCMSample(buf[off:off+bytesPerSample], int(s.format.BitsPerSample))
	}

	if frames == 0 && err == io.EOF {
		return 0, io.EOF
	}
	return frames, nil
}

// Seek rewinds the container and re-parses the header; go-wav has no random
// access of its own.
func (s *wavStream) Seek(frame int64) error {
	if frame < 0 {
		return fmt.Errorf("%w: negative frame %d", ErrInvalidData, frame)
	}

	if _, err := s.src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wav seek rewind: %w", err)
	}

	reader := wav.NewReader(s.src)
	format, err := reader.Format()
	if err != nil {
		return fmt.Errorf("wav seek reparse: %w", err)
	}

	skip := frame * int64(format.BlockAlign)
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, reader, skip); err != nil && err != io.EOF {
			return fmt.Errorf("wav seek to frame %d: %w", frame, err)
		}
	}

	s.reader = reader
	s.format = format

	slog.Debug("WAV stream seeked", "source", s.src.Name(), "frame", frame)
	return nil
}

func (s *wavStream) Close() error {
	slog.Debug("closing WAV stream", "source", s.src.Name())
	return s.src.Close()
}

// decodePCMSample converts one little-endian integer PCM sample to [-1, 1].
func decodePCMSample(b []byte, bits int) float32 {
	switch bits {
	case 8:
		// 8-bit WAV is unsigned
		return (float32(b[0]) - 128.0) / 128.0
	case 16:
		v := int16(uint16(b[0]) | uint16(b[1])<<8)
		return float32(v) / 32768.0
	case 24:
		v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
		return float32(v) / 8388608.0
	case 32:
		v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
		return float32(float64(v) / 2147483648.0)
	default:
		return 0
	}
}
