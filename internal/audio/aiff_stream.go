package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
)

// AiffCodec opens decoders for AIFF audio. go-audio/aiff exposes no
// incremental frame reads, so the whole file is decoded at open time; AIFF
// sources are short enough in practice that the resident buffer is
// acceptable.
type AiffCodec struct{}

// NewAiffCodec creates a new AIFF codec instance.
func NewAiffCodec() *AiffCodec {
	slog.Debug("creating new AIFF codec instance")
	return &AiffCodec{}
}

// FormatName returns the name of the format this codec handles.
func (c *AiffCodec) FormatName() string {
	return "AIFF"
}

// CanDecode checks if this codec can handle the given filename.
func (c *AiffCodec) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	canDecode := strings.HasSuffix(lower, ".aiff") || strings.HasSuffix(lower, ".aif")

	slog.Debug("AIFF codec file check",
		"filename", filename,
		"can_decode", canDecode)

	return canDecode
}

// NewStream decodes the full AIFF file and serves frames from memory.
func (c *AiffCodec) NewStream(src Source) (StreamDecoder, error) {
	slog.Debug("opening AIFF stream", "source", src.Name())

	decoder := aiff.NewDecoder(src)
	decoder.ReadInfo()

	if !decoder.IsValidFile() {
		slog.Error("invalid AIFF file", "source", src.Name())
		return nil, fmt.Errorf("%w: not a valid AIFF file", ErrInvalidData)
	}

	sampleRate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	bitDepth := int(decoder.SampleBitDepth())

	if sampleRate == 0 || channels == 0 || bitDepth == 0 {
		slog.Error("invalid AIFF format parameters",
			"source", src.Name(),
			"sample_rate", sampleRate,
			"channels", channels,
			"bit_depth", bitDepth)
		return nil, fmt.Errorf("%w: zero AIFF format field", ErrInvalidData)
	}

	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		slog.Error("unsupported AIFF bit depth", "source", src.Name(), "bits", bitDepth)
		return nil, fmt.Errorf("%w: %d-bit AIFF", ErrUnsupportedFormat, bitDepth)
	}

	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		slog.Error("failed to read AIFF samples", "source", src.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if pcm == nil || len(pcm.Data) == 0 {
		slog.Error("no audio data in AIFF file", "source", src.Name())
		return nil, fmt.Errorf("%w: empty AIFF data chunk", ErrInvalidData)
	}

	samples := toFloatSamples(pcm, bitDepth)

	slog.Debug("AIFF stream decoded",
		"source", src.Name(),
		"sample_rate", sampleRate,
		"channels", channels,
		"bits_per_sample", bitDepth,
		"total_frames", len(samples)/channels)

	return &aiffStream{
		src:     src,
		format:  Format{SampleRate: sampleRate, Channels: channels},
		samples: samples,
	}, nil
}

// toFloatSamples scales the decoder's integer samples to [-1, 1] at the
// given bit depth.
func toFloatSamples(pcm *audio.IntBuffer, bitDepth int) []float32 {
	scale := float64(int64(1) << (bitDepth - 1))
	samples := make([]float32, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = float32(float64(v) / scale)
	}
	return samples
}

// aiffStream serves eagerly decoded AIFF samples.
type aiffStream struct {
	src     Source
	format  Format
	samples []float32
	pos     int // value offset into samples
}

func (s *aiffStream) Format() Format {
	return s.format
}

func (s *aiffStream) Frames() int64 {
	return int64(len(s.samples) / s.format.Channels)
}

func (s *aiffStream) ReadPCM(dst []float32) (int, error) {
	wantValues := len(dst) / s.format.Channels * s.format.Channels
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(dst[:wantValues], s.samples[s.pos:])
	s.pos += n
	return n / s.format.Channels, nil
}

func (s *aiffStream) Seek(frame int64) error {
	if frame < 0 {
		return fmt.Errorf("%w: negative frame %d", ErrInvalidData, frame)
	}
	pos := frame * int64(s.format.Channels)
	if pos > int64(len(s.samples)) {
		pos = int64(len(s.samples))
	}
	s.pos = int(pos)

	slog.Debug("AIFF stream seeked", "source", s.src.Name(), "frame", frame)
	return nil
}

func (s *aiffStream) Close() error {
	slog.Debug("closing AIFF stream", "source", s.src.Name())
	s.samples = nil
	return s.src.Close()
}
