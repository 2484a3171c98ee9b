package audiotest

import (
	"io"
	"strings"
	"sync"

	"cadenza.audio/internal/audio"
)

// FakeStream is an in-memory StreamDecoder over a fixed sample buffer.
type FakeStream struct {
	Fmt     audio.Format
	Samples []float32 // interleaved at Fmt.Channels
	ReadErr error     // returned by ReadPCM when set
	SeekErr error     // returned by Seek when set

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewFakeStream builds a fake stream from interleaved samples.
func NewFakeStream(format audio.Format, samples []float32) *FakeStream {
	return &FakeStream{Fmt: format, Samples: samples}
}

func (s *FakeStream) Format() audio.Format {
	return s.Fmt
}

func (s *FakeStream) Frames() int64 {
	return int64(len(s.Samples) / s.Fmt.Channels)
}

func (s *FakeStream) ReadPCM(dst []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ReadErr != nil {
		return 0, s.ReadErr
	}
	if s.pos >= len(s.Samples) {
		return 0, io.EOF
	}
	want := len(dst) / s.Fmt.Channels * s.Fmt.Channels
	n := copy(dst[:want], s.Samples[s.pos:])
	n = n / s.Fmt.Channels * s.Fmt.Channels
	s.pos += n
	return n / s.Fmt.Channels, nil
}

func (s *FakeStream) Seek(frame int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SeekErr != nil {
		return s.SeekErr
	}
	pos := int(frame) * s.Fmt.Channels
	if pos > len(s.Samples) {
		pos = len(s.Samples)
	}
	s.pos = pos
	return nil
}

func (s *FakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *FakeStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Position returns the current frame index.
func (s *FakeStream) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(s.pos / s.Fmt.Channels)
}

// FakeCodec serves FakeStreams for a fixed extension, for registry and
// decoder tests that need no real container parsing.
type FakeCodec struct {
	Name    string
	Ext     string // extension including dot, e.g. ".fake"
	OpenErr error
	Make    func() *FakeStream

	mu     sync.Mutex
	opened int
}

func (c *FakeCodec) FormatName() string {
	return c.Name
}

func (c *FakeCodec) CanDecode(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), c.Ext)
}

func (c *FakeCodec) NewStream(src audio.Source) (audio.StreamDecoder, error) {
	c.mu.Lock()
	c.opened++
	c.mu.Unlock()

	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	return c.Make(), nil
}

// Opened reports how many streams were requested.
func (c *FakeCodec) Opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

var _ audio.StreamDecoder = (*FakeStream)(nil)
var _ audio.Codec = (*FakeCodec)(nil)
