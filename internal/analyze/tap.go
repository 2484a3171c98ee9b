package analyze

import "sync"

// Tap captures a mono mix of rendered output into a fixed ring buffer.
// The render loop pushes every buffer on its way to the sink; the
// analyzer pulls windows at its own cadence. While disabled the tap
// holds no buffer at all and Push is a no-op, so an idle analyzer does
// not pin memory.
type Tap struct {
	mu  sync.Mutex
	buf []float64
	pos int
}

func NewTap() *Tap {
	return &Tap{}
}

// Enable allocates a ring of size samples. Enabling an already enabled
// tap with the same size keeps the current contents.
func (t *Tap) Enable(size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) == size {
		return
	}
	t.buf = make([]float64, size)
	t.pos = 0
}

// Disable releases the ring.
func (t *Tap) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = nil
	t.pos = 0
}

// Push mixes stereo interleaved samples down to mono and appends them to
// the ring. Safe to call unconditionally from the render loop.
func (t *Tap) Push(samples []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buf == nil {
		return
	}
	size := len(t.buf)
	for i := 0; i+1 < len(samples); i += 2 {
		t.buf[t.pos] = float64(samples[i]+samples[i+1]) / 2
		t.pos = (t.pos + 1) % size
	}
}

// Window copies the most recent len(dst) samples into dst in
// chronological order. It reports false when the tap is disabled or
// smaller than the request.
func (t *Tap) Window(dst []float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(dst)
	if t.buf == nil || n > len(t.buf) {
		return false
	}
	size := len(t.buf)
	start := (t.pos - n + size) % size
	for i := 0; i < n; i++ {
		dst[i] = t.buf[(start+i)%size]
	}
	return true
}
