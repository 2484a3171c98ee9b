package audio

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CodecState tracks a Decoder through its lifecycle. Transitions follow the
// hardware-codec convention: configure once, start, pull frames, flush to
// reposition, release when done.
type CodecState int

const (
	StateUninitialized CodecState = iota
	StateConfigured
	StateStarted
	StateFlushed
	StateReleased
)

func (s CodecState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateStarted:
		return "started"
	case StateFlushed:
		return "flushed"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// FramesPerPull is how many frames one PullFrame call decodes. At 44.1kHz
// this is about 46ms of audio, small enough to keep transition timing tight.
const FramesPerPull = 2048

// DefaultInstanceLimit bounds concurrently configured decoders: two playing
// sessions plus headroom for one being prepared.
const DefaultInstanceLimit = 4

// Frame is one block of decoded PCM, always interleaved stereo.
type Frame struct {
	Data []float32 // interleaved stereo samples, len = 2 * frame count
	Pos  int64     // stream frame index of the first sample pair
}

// FrameCount returns the number of sample pairs in the frame.
func (f *Frame) FrameCount() int {
	return len(f.Data) / 2
}

// PTS returns the presentation time of the frame's first sample at the
// given stream rate.
func (f *Frame) PTS(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Pos) * time.Second / time.Duration(sampleRate)
}

// InstancePool bounds how many decoders may be configured at once, standing
// in for the fixed supply of hardware codec instances.
type InstancePool struct {
	slots chan struct{}
}

// NewInstancePool creates a pool with the given number of slots.
func NewInstancePool(size int) *InstancePool {
	if size <= 0 {
		size = DefaultInstanceLimit
	}
	slog.Debug("creating decoder instance pool", "slots", size)

	pool := &InstancePool{slots: make(chan struct{}, size)}
	for i := 0; i < size; i++ {
		pool.slots <- struct{}{}
	}
	return pool
}

// Acquire claims a slot without blocking.
func (p *InstancePool) Acquire() error {
	select {
	case <-p.slots:
		return nil
	default:
		slog.Warn("decoder instance pool exhausted")
		return ErrResourceExhausted
	}
}

// Release returns a slot to the pool.
func (p *InstancePool) Release() {
	select {
	case p.slots <- struct{}{}:
	default:
		// Double release; drop rather than grow the pool.
		slog.Warn("decoder instance pool release without acquire")
	}
}

// Available reports how many slots remain.
func (p *InstancePool) Available() int {
	return len(p.slots)
}

// Decoder drives one audio stream through the codec lifecycle and emits
// stereo frames. Mono sources are upmixed here so everything downstream
// sees two channels. All methods are safe for concurrent use.
type Decoder struct {
	id       string
	registry *CodecRegistry
	pool     *InstancePool

	mu      sync.Mutex
	state   CodecState
	stream  StreamDecoder
	format  Format
	pos     int64
	scratch []float32 // native-layout read buffer for mono sources
}

// NewDecoder creates a decoder in the uninitialized state. A nil pool means
// unlimited instances.
func NewDecoder(registry *CodecRegistry, pool *InstancePool) *Decoder {
	id := uuid.NewString()[:8]
	slog.Debug("creating new decoder", "decoder_id", id)

	return &Decoder{
		id:       id,
		registry: registry,
		pool:     pool,
		state:    StateUninitialized,
	}
}

// Configure binds the decoder to an audio source. On success the decoder
// owns src and moves to the configured state; on failure it stays
// uninitialized and src is left open for the caller.
func (d *Decoder) Configure(src Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateUninitialized {
		slog.Warn("configure rejected", "decoder_id", d.id, "state", d.state.String())
		return invalidState("configure", d.state)
	}

	if d.pool != nil {
		if err := d.pool.Acquire(); err != nil {
			return fmt.Errorf("configure %s: %w", src.Name(), err)
		}
	}

	stream, err := d.registry.Open(src)
	if err != nil {
		if d.pool != nil {
			d.pool.Release()
		}
		return err
	}

	format := stream.Format()
	if err := format.Validate(); err != nil {
		stream.Close()
		if d.pool != nil {
			d.pool.Release()
		}
		slog.Error("source format rejected",
			"decoder_id", d.id,
			"source", src.Name(),
			"format", format.String(),
			"error", err)
		return err
	}

	d.stream = stream
	d.format = format
	d.pos = 0
	d.state = StateConfigured

	slog.Info("decoder configured",
		"decoder_id", d.id,
		"source", src.Name(),
		"format", format.String(),
		"total_frames", stream.Frames())

	return nil
}

// Start moves a configured or flushed decoder into the started state.
func (d *Decoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateConfigured && d.state != StateFlushed {
		slog.Warn("start rejected", "decoder_id", d.id, "state", d.state.String())
		return invalidState("start", d.state)
	}

	d.state = StateStarted
	slog.Debug("decoder started", "decoder_id", d.id)
	return nil
}

// PullFrame decodes the next block of audio. Only valid while started.
// Returns io.EOF once the stream is exhausted.
func (d *Decoder) PullFrame() (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateStarted {
		return nil, invalidState("pull frame", d.state)
	}

	data := make([]float32, FramesPerPull*2)

	var frames int
	var err error
	if d.format.Channels == 2 {
		frames, err = d.stream.ReadPCM(data)
	} else {
		if cap(d.scratch) < FramesPerPull {
			d.scratch = make([]float32, FramesPerPull)
		}
		frames, err = d.stream.ReadPCM(d.scratch[:FramesPerPull])
		for i := 0; i < frames; i++ {
			data[i*2] = d.scratch[i]
			data[i*2+1] = d.scratch[i]
		}
	}

	if err != nil && err != io.EOF {
		slog.Error("frame pull failed", "decoder_id", d.id, "position", d.pos, "error", err)
		return nil, err
	}
	if frames == 0 {
		slog.Debug("decoder reached end of stream", "decoder_id", d.id, "position", d.pos)
		return nil, io.EOF
	}

	frame := &Frame{
		Data: data[:frames*2],
		Pos:  d.pos,
	}
	d.pos += int64(frames)

	return frame, nil
}

// Flush drops decode progress, moving a started decoder to the flushed
// state. Decoding resumes with Start or Seek.
func (d *Decoder) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateStarted {
		slog.Warn("flush rejected", "decoder_id", d.id, "state", d.state.String())
		return invalidState("flush", d.state)
	}

	d.state = StateFlushed
	slog.Debug("decoder flushed", "decoder_id", d.id, "position", d.pos)
	return nil
}

// Seek repositions the stream to the given frame and resumes decoding. It
// is valid from the started or flushed state; the decoder passes through
// flushed and comes back started.
func (d *Decoder) Seek(frame int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateStarted && d.state != StateFlushed {
		slog.Warn("seek rejected", "decoder_id", d.id, "state", d.state.String())
		return invalidState("seek", d.state)
	}

	d.state = StateFlushed
	if err := d.stream.Seek(frame); err != nil {
		// Position unknown; stay flushed until the caller seeks again
		// or releases.
		return err
	}

	d.pos = frame
	d.state = StateStarted

	slog.Debug("decoder seeked", "decoder_id", d.id, "frame", frame)
	return nil
}

// Release tears the decoder down from any state. Safe to call repeatedly.
func (d *Decoder) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateReleased {
		return nil
	}

	var err error
	if d.stream != nil {
		err = d.stream.Close()
		d.stream = nil
	}
	if d.pool != nil && d.state != StateUninitialized {
		d.pool.Release()
	}

	prev := d.state
	d.state = StateReleased
	d.scratch = nil

	slog.Debug("decoder released", "decoder_id", d.id, "previous_state", prev.String())
	return err
}

// State returns the current lifecycle state.
func (d *Decoder) State() CodecState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Format returns the source format with the output channel count. Zero
// until configured.
func (d *Decoder) Format() Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return Format{}
	}
	return Format{SampleRate: d.format.SampleRate, Channels: 2}
}

// Frames returns the stream's total frame count, or 0 when unknown.
func (d *Decoder) Frames() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return 0
	}
	return d.stream.Frames()
}

// Position returns the next frame index PullFrame will decode.
func (d *Decoder) Position() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

// Duration returns the stream length as wall time, or 0 when unknown.
func (d *Decoder) Duration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return 0
	}
	return d.format.Duration(d.stream.Frames())
}
