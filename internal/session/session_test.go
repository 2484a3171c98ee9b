package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"cadenza.audio/internal/audio"
	"cadenza.audio/internal/audiotest"
	"cadenza.audio/internal/dsp"
)

// trackFixture is a registered fake codec serving one fixed PCM buffer,
// remembering every stream it hands out so tests can check they were
// closed.
type trackFixture struct {
	codec *audiotest.FakeCodec

	mu      sync.Mutex
	streams []*audiotest.FakeStream
}

// dcTrack builds a fixture whose stereo samples all sit at level.
func dcTrack(ext string, rate, frames int, level float32) *trackFixture {
	samples := make([]float32, frames*2)
	for i := range samples {
		samples[i] = level
	}
	return sampleTrack(ext, rate, samples)
}

// sampleTrack builds a fixture serving the given interleaved samples.
func sampleTrack(ext string, rate int, samples []float32) *trackFixture {
	f := &trackFixture{}
	f.codec = &audiotest.FakeCodec{
		Name: "fake" + ext,
		Ext:  ext,
		Make: func() *audiotest.FakeStream {
			s := audiotest.NewFakeStream(audio.Format{SampleRate: rate, Channels: 2}, samples)
			f.mu.Lock()
			f.streams = append(f.streams, s)
			f.mu.Unlock()
			return s
		},
	}
	return f
}

func (f *trackFixture) lastStream() *audiotest.FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func (f *trackFixture) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *trackFixture) openStreams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := 0
	for _, s := range f.streams {
		if !s.Closed() {
			open++
		}
	}
	return open
}

// testDeps assembles session dependencies over a memory filesystem and a
// recording sink at sinkRate. Each fixture's file is created under
// /music with the fixture's extension.
func testDeps(t *testing.T, sinkRate int, fixtures ...*trackFixture) (Deps, *audiotest.FakeSink) {
	t.Helper()

	registry := audio.NewCodecRegistry()
	fs := afero.NewMemMapFs()
	for i, f := range fixtures {
		registry.Register(f.codec)
		path := fmt.Sprintf("/music/track%d%s", i+1, f.codec.Ext)
		if err := afero.WriteFile(fs, path, []byte("fixture audio payload"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	snk := audiotest.NewFakeSink(audio.Format{SampleRate: sinkRate, Channels: 2})
	return Deps{
		Registry: registry,
		FS:       fs,
		Pool:     audio.NewInstancePool(audio.DefaultInstanceLimit),
		Params:   dsp.NewParamStore(),
		Sink:     snk,
	}, snk
}

// drain reads the session to end of stream, returning every sample.
func drain(t *testing.T, s *Session) []float32 {
	t.Helper()
	var out []float32
	buf := make([]float32, quantumFrames*2)
	for {
		n, alive := s.Read(buf)
		out = append(out, buf[:n]...)
		if !alive {
			return out
		}
	}
}

func TestOpenPreparesSession(t *testing.T) {
	fix := dcTrack(".t1", 8000, 8000, 0.25)
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.t1", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if got := s.Role(); got != RolePreparing {
		t.Errorf("role = %s, want preparing", got)
	}
	if got := s.Duration(); got != time.Second {
		t.Errorf("duration = %v, want 1s", got)
	}
	if got := s.Position(); got != 0 {
		t.Errorf("position = %v, want 0", got)
	}
	if got := s.Path(); got != "/music/track1.t1" {
		t.Errorf("path = %q", got)
	}
	if len(s.ID()) != 8 {
		t.Errorf("id = %q, want 8 chars", s.ID())
	}

	s.Release()
	if !fix.lastStream().Closed() {
		t.Error("stream not closed after release")
	}
	if got := deps.Pool.Available(); got != audio.DefaultInstanceLimit {
		t.Errorf("pool slots after release = %d, want %d", got, audio.DefaultInstanceLimit)
	}
}

func TestOpenUnknownFormatLeavesPoolFree(t *testing.T) {
	deps, _ := testDeps(t, 8000, dcTrack(".t1", 8000, 100, 0.1))
	if err := afero.WriteFile(deps.FS, "/music/readme.txt", []byte("not audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Open(deps, "/music/readme.txt", 0)
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if got := deps.Pool.Available(); got != audio.DefaultInstanceLimit {
		t.Errorf("pool slots = %d, want %d", got, audio.DefaultInstanceLimit)
	}
}

func TestOpenStartsAtOffset(t *testing.T) {
	fix := dcTrack(".t1", 8000, 16000, 0.25)
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.t1", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Release()

	if got := s.Position(); got != 500*time.Millisecond {
		t.Errorf("position = %v, want 500ms", got)
	}

	buf := make([]float32, quantumFrames*2)
	n, alive := s.Read(buf)
	if n != len(buf) || !alive {
		t.Fatalf("Read = (%d, %v), want full quantum", n, alive)
	}
	// 1024 frames at 8 kHz is exactly 128 ms.
	if got := s.Position(); got != 628*time.Millisecond {
		t.Errorf("position after one quantum = %v, want 628ms", got)
	}
}

func TestSessionReadDeliversEverything(t *testing.T) {
	const frames = 2500
	fix := dcTrack(".t1", 8000, frames, 0.25)
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.t1", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Release()

	out := drain(t, s)
	if len(out) != frames*2 {
		t.Fatalf("drained %d samples, want %d", len(out), frames*2)
	}
	for i, v := range out {
		if v < 0.249 || v > 0.251 {
			t.Fatalf("sample %d = %v, want 0.25", i, v)
		}
	}

	// The stream is done for good.
	buf := make([]float32, 64)
	if n, alive := s.Read(buf); n != 0 || alive {
		t.Errorf("Read after end = (%d, %v), want (0, false)", n, alive)
	}
	if s.Err() != nil {
		t.Errorf("Err = %v, want nil", s.Err())
	}
}

func TestSessionResamplesToSinkRate(t *testing.T) {
	const srcFrames = 2400
	fix := dcTrack(".t1", 24000, srcFrames, 0.5)
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.t1", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Release()

	if got := s.Duration(); got != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", got)
	}

	out := drain(t, s)
	got := len(out) / 2
	// A third of the source frames, give or take resampler edges.
	if got < 700 || got > 900 {
		t.Fatalf("resampled to %d frames, want about 800", got)
	}
	for i := 100; i < len(out)-100; i++ {
		if out[i] < 0.49 || out[i] > 0.51 {
			t.Fatalf("sample %d = %v, want 0.5 through a DC resample", i, out[i])
		}
	}
}

func TestSessionSeekSkipsStaleAudio(t *testing.T) {
	const rate = 8000
	samples := make([]float32, 2*rate*2) // 2 s: first second 0.2, second 0.8
	for i := range samples {
		if i < rate*2 {
			samples[i] = 0.2
		} else {
			samples[i] = 0.8
		}
	}
	fix := sampleTrack(".t1", rate, samples)
	deps, _ := testDeps(t, rate, fix)

	s, err := Open(deps, "/music/track1.t1", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Release()

	buf := make([]float32, quantumFrames*2)
	s.Read(buf)
	if buf[0] != 0.2 {
		t.Fatalf("pre-seek sample = %v, want 0.2", buf[0])
	}

	if err := s.Seek(1500 * time.Millisecond); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if got := s.Position(); got != 1500*time.Millisecond {
		t.Errorf("position right after seek = %v, want 1500ms", got)
	}

	n, alive := s.Read(buf)
	if n != len(buf) || !alive {
		t.Fatalf("post-seek Read = (%d, %v)", n, alive)
	}
	for i := 0; i < n; i++ {
		if buf[i] != 0.8 {
			t.Fatalf("post-seek sample %d = %v, want 0.8 with stale audio dropped", i, buf[i])
		}
	}
	if got := s.Position(); got != 1628*time.Millisecond {
		t.Errorf("position after post-seek quantum = %v, want 1628ms", got)
	}
}

func TestSessionSeekClampsToTrack(t *testing.T) {
	fix := dcTrack(".t1", 8000, 8000, 0.3)
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.t1", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Release()

	if err := s.Seek(-3 * time.Second); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if got := s.Position(); got != 0 {
		t.Errorf("position after negative seek = %v, want 0", got)
	}

	if err := s.Seek(time.Hour); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if got := s.Position(); got != time.Second {
		t.Errorf("position after overlong seek = %v, want 1s", got)
	}
}

func TestSessionRestartRewinds(t *testing.T) {
	const frames = 1000
	fix := dcTrack(".t1", 8000, frames, 0.3)
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.t1", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Release()

	if got := len(drain(t, s)); got != frames*2 {
		t.Fatalf("first pass drained %d samples, want %d", got, frames*2)
	}

	if err := s.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if got := s.Position(); got != 0 {
		t.Errorf("position after restart = %v, want 0", got)
	}
	if got := len(drain(t, s)); got != frames*2 {
		t.Fatalf("second pass drained %d samples, want %d", got, frames*2)
	}
	if fix.streamCount() != 1 {
		t.Errorf("restart opened %d streams, want the original only", fix.streamCount())
	}
}

func TestSessionRestartWhileDecodingFails(t *testing.T) {
	// Enough audio that the decode loop is still parked on its bounded
	// channel when Restart is called.
	fix := dcTrack(".t1", 8000, 200000, 0.1)
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.t1", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Release()

	if err := s.Restart(); !errors.Is(err, ErrSessionDecoding) {
		t.Fatalf("Restart on a live session = %v, want ErrSessionDecoding", err)
	}
}

func TestSessionReleaseIsIdempotent(t *testing.T) {
	fix := dcTrack(".t1", 8000, 200000, 0.1)
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.t1", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	s.Release()
	s.Release()

	if got := s.Role(); got != RoleEnded {
		t.Errorf("role = %s, want ended", got)
	}
	if !fix.lastStream().Closed() {
		t.Error("stream not closed")
	}
	if err := s.Seek(time.Second); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Seek after release = %v, want ErrSessionEnded", err)
	}
	if err := s.Restart(); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Restart after release = %v, want ErrSessionEnded", err)
	}
}

func TestPromoteValidatesTransitions(t *testing.T) {
	fix := dcTrack(".t1", 8000, 200000, 0.1)
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.t1", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Release()

	if err := s.Promote(RoleFadingOut); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("preparing -> fading_out = %v, want ErrInvalidTransition", err)
	}
	if err := s.Promote(RoleActive); err != nil {
		t.Fatalf("preparing -> active failed: %v", err)
	}
	if err := s.Promote(RoleActive); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("active -> active = %v, want ErrInvalidTransition", err)
	}
	if err := s.Promote(RoleFadingOut); err != nil {
		t.Fatalf("active -> fading_out failed: %v", err)
	}
	if err := s.Promote(RolePreparing); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("fading_out -> preparing = %v, want ErrInvalidTransition", err)
	}
}

func TestSessionSurfacesDecodeError(t *testing.T) {
	readErr := errors.New("bitstream corrupt")
	fix := &trackFixture{}
	fix.codec = &audiotest.FakeCodec{
		Name: "fake.bad",
		Ext:  ".bad",
		Make: func() *audiotest.FakeStream {
			s := audiotest.NewFakeStream(audio.Format{SampleRate: 8000, Channels: 2}, nil)
			s.ReadErr = readErr
			return s
		},
	}
	deps, _ := testDeps(t, 8000, fix)

	s, err := Open(deps, "/music/track1.bad", 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Release()

	buf := make([]float32, 256)
	n, alive := s.Read(buf)
	if n != 0 || alive {
		t.Fatalf("Read = (%d, %v), want (0, false)", n, alive)
	}
	if !errors.Is(s.Err(), readErr) {
		t.Errorf("Err = %v, want the stream's read error", s.Err())
	}
}
