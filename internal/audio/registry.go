package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// CodecRegistry manages audio format codecs and provides format detection.
type CodecRegistry struct {
	codecs []Codec
}

// NewCodecRegistry creates a new empty codec registry.
func NewCodecRegistry() *CodecRegistry {
	slog.Debug("creating new codec registry")
	return &CodecRegistry{
		codecs: make([]Codec, 0),
	}
}

// NewDefaultRegistry creates a registry with all built-in codecs.
func NewDefaultRegistry() *CodecRegistry {
	slog.Debug("creating default codec registry")

	registry := NewCodecRegistry()

	registry.Register(NewWavCodec())
	registry.Register(NewMp3Codec())
	registry.Register(NewFlacCodec())
	registry.Register(NewVorbisCodec())
	registry.Register(NewAiffCodec())

	slog.Info("default codec registry initialized",
		"supported_formats", registry.SupportedFormats())

	return registry
}

// Register adds a codec to the registry.
func (r *CodecRegistry) Register(codec Codec) {
	if codec == nil {
		slog.Warn("attempted to register nil codec")
		return
	}

	formatName := codec.FormatName()
	slog.Debug("registering codec", "format", formatName)

	r.codecs = append(r.codecs, codec)

	slog.Debug("codec registered",
		"format", formatName,
		"total_codecs", len(r.codecs))
}

// SupportedFormats returns the format names of all registered codecs.
func (r *CodecRegistry) SupportedFormats() []string {
	formats := make([]string, 0, len(r.codecs))
	for _, codec := range r.codecs {
		formats = append(formats, codec.FormatName())
	}
	return formats
}

// DetectByName picks a codec from the filename extension only.
func (r *CodecRegistry) DetectByName(filename string) Codec {
	slog.Debug("detecting format by extension", "filename", filename)

	if filename == "" {
		slog.Debug("empty filename provided")
		return nil
	}

	// Registration order sets priority.
	for _, codec := range r.codecs {
		if codec.CanDecode(filename) {
			slog.Debug("format detected by extension",
				"filename", filename,
				"format", codec.FormatName())
			return codec
		}
	}

	slog.Debug("no codec found for filename", "filename", filename)
	return nil
}

// Detect picks a codec using magic bytes first, falling back to the source
// name's extension. The source is rewound before returning.
func (r *CodecRegistry) Detect(src Source) (Codec, error) {
	slog.Debug("detecting format with content analysis", "source", src.Name())

	header := make([]byte, 512)
	n, err := io.ReadFull(src, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		slog.Error("failed to read header for magic detection", "source", src.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind source after sniff: %w", err)
	}

	if n == 0 {
		slog.Debug("empty content, using extension fallback", "source", src.Name())
		return r.detectFallback(src.Name())
	}

	mtype := mimetype.Detect(header[:n])
	detectedMime := mtype.String()

	slog.Debug("magic byte detection result",
		"source", src.Name(),
		"detected_mime", detectedMime,
		"bytes_analyzed", n)

	var codec Codec
	mimeStr := strings.ToLower(detectedMime)

	switch {
	case strings.Contains(mimeStr, "wav") || mimeStr == "audio/vnd.wave":
		codec = r.findByFormat("WAV")

	case strings.Contains(mimeStr, "mpeg") || strings.Contains(mimeStr, "mp3"):
		codec = r.findByFormat("MP3")

	case strings.Contains(mimeStr, "flac"):
		codec = r.findByFormat("FLAC")

	case strings.Contains(mimeStr, "ogg"):
		codec = r.findByFormat("OGG")

	case strings.Contains(mimeStr, "aiff") || strings.Contains(mimeStr, "audio-interchange-file-format"):
		codec = r.findByFormat("AIFF")

	default:
		slog.Debug("unrecognized magic bytes", "source", src.Name(), "mime_type", detectedMime)
	}

	if codec != nil {
		slog.Debug("format detected by magic bytes",
			"source", src.Name(),
			"detected_format", codec.FormatName(),
			"mime_type", detectedMime)
		return codec, nil
	}

	return r.detectFallback(src.Name())
}

func (r *CodecRegistry) detectFallback(name string) (Codec, error) {
	codec := r.DetectByName(name)
	if codec == nil {
		slog.Warn("no format detection method succeeded", "source", name)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}

	slog.Debug("format detected by extension fallback",
		"source", name,
		"format", codec.FormatName())
	return codec, nil
}

// findByFormat finds a codec by its format name.
func (r *CodecRegistry) findByFormat(formatName string) Codec {
	for _, codec := range r.codecs {
		if strings.EqualFold(codec.FormatName(), formatName) {
			return codec
		}
	}
	return nil
}

// Open detects the format of src and opens a stream decoder for it. On
// success the decoder owns src; on failure src is left open for the caller.
func (r *CodecRegistry) Open(src Source) (StreamDecoder, error) {
	codec, err := r.Detect(src)
	if err != nil {
		return nil, err
	}

	stream, err := codec.NewStream(src)
	if err != nil {
		slog.Error("codec failed to open stream",
			"source", src.Name(),
			"format", codec.FormatName(),
			"error", err)
		return nil, err
	}

	slog.Info("audio stream opened",
		"source", src.Name(),
		"format", codec.FormatName(),
		"stream_format", stream.Format().String(),
		"total_frames", stream.Frames())

	return stream, nil
}
