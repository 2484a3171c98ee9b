package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// mp3 frames from go-mp3 are always 16-bit stereo, 4 bytes per frame.
const mp3BytesPerFrame = 4

// Mp3Codec opens streaming decoders for MP3 audio.
type Mp3Codec struct{}

// NewMp3Codec creates a new MP3 codec instance.
func NewMp3Codec() *Mp3Codec {
	slog.Debug("creating new MP3 codec instance")
	return &Mp3Codec{}
}

// FormatName returns the name of the format this codec handles.
func (c *Mp3Codec) FormatName() string {
	return "MP3"
}

// CanDecode checks if this codec can handle the given filename.
func (c *Mp3Codec) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".mp3")

	slog.Debug("MP3 codec file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// NewStream opens a streaming MP3 decoder over src.
func (c *Mp3Codec) NewStream(src Source) (StreamDecoder, error) {
	slog.Debug("opening MP3 stream", "source", src.Name())

	decoder, err := mp3.NewDecoder(src)
	if err != nil {
		slog.Error("failed to create MP3 decoder", "source", src.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	// Length reports decoded bytes when the source is seekable, -1 otherwise.
	var frames int64
	if length := decoder.Length(); length > 0 {
		frames = length / mp3BytesPerFrame
	}

	slog.Debug("MP3 stream opened",
		"source", src.Name(),
		"sample_rate", decoder.SampleRate(),
		"total_frames", frames)

	return &mp3Stream{
		src:     src,
		decoder: decoder,
		frames:  frames,
	}, nil
}

// mp3Stream adapts go-mp3's byte reader to the float32 frame interface.
type mp3Stream struct {
	src     Source
	decoder *mp3.Decoder
	frames  int64
	scratch []byte
}

func (s *mp3Stream) Format() Format {
	return Format{SampleRate: s.decoder.SampleRate(), Channels: 2}
}

func (s *mp3Stream) Frames() int64 {
	return s.frames
}

func (s *mp3Stream) ReadPCM(dst []float32) (int, error) {
	want := len(dst) / 2 * mp3BytesPerFrame
	if want == 0 {
		return 0, nil
	}
	if cap(s.scratch) < want {
		s.scratch = make([]byte, want)
	}
	buf := s.scratch[:want]

	n, err := io.ReadFull(s.decoder, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err != nil && err != io.EOF {
		slog.Error("MP3 read failed", "source", s.src.Name(), "error", err)
		return 0, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}

	frames := n / mp3BytesPerFrame
	for i := 0; i < frames*2; i++ {
		v := int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
		dst[i] = float32(v) / 32768.0
	}

	if frames == 0 && err == io.EOF {
		return 0, io.EOF
	}
	return frames, nil
}

func (s *mp3Stream) Seek(frame int64) error {
	if frame < 0 {
		return fmt.Errorf("%w: negative frame %d", ErrInvalidData, frame)
	}

	_, err := s.decoder.Seek(frame*mp3BytesPerFrame, io.SeekStart)
	if err != nil {
		slog.Error("MP3 seek failed", "source", s.src.Name(), "frame", frame, "error", err)
		return fmt.Errorf("mp3 seek to frame %d: %w", frame, err)
	}

	slog.Debug("MP3 stream seeked", "source", s.src.Name(), "frame", frame)
	return nil
}

func (s *mp3Stream) Close() error {
	slog.Debug("closing MP3 stream", "source", s.src.Name())
	return s.src.Close()
}
