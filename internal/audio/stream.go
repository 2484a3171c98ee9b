package audio

// StreamDecoder decodes PCM incrementally from an encoded stream. Samples
// come out as interleaved float32 in [-1, 1] at the stream's native format;
// rate conversion and channel normalization happen above this layer.
type StreamDecoder interface {
	// Format returns the stream's native sample rate and channel count.
	Format() Format

	// Frames returns the total frame count, or 0 when the container does
	// not carry a length.
	Frames() int64

	// ReadPCM fills dst with interleaved samples and returns the number of
	// whole frames written. len(dst) must be a multiple of the channel
	// count. Returns io.EOF once the stream is exhausted.
	ReadPCM(dst []float32) (int, error)

	// Seek repositions decoding to the given frame index.
	Seek(frame int64) error

	// Close releases the decoder and its underlying source.
	Close() error
}

// Codec opens stream decoders for one encoded format.
type Codec interface {
	// FormatName returns the name of the format this codec handles.
	FormatName() string

	// CanDecode checks if this codec can handle the given filename.
	CanDecode(filename string) bool

	// NewStream opens a stream decoder over src. On success the decoder
	// takes ownership of src.
	NewStream(src Source) (StreamDecoder, error)
}
