package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"cadenza.audio/internal/dsp"
	"cadenza.audio/internal/loudness"
)

// EventKind discriminates Event payloads.
type EventKind int

const (
	// EventTrackChanged fires when a different track becomes audible.
	EventTrackChanged EventKind = iota
	// EventPlayState fires when playback starts, pauses, resumes, or stops.
	EventPlayState
	// EventPosition is the periodic position report while playing.
	EventPosition
	// EventDurationKnown fires once the current track's length is known.
	EventDurationKnown
	// EventQueueChanged fires when the queue contents are replaced.
	EventQueueChanged
	// EventModeChanged fires when shuffle, loop, crossfade, or volume
	// settings change, carrying the full mode snapshot.
	EventModeChanged
	// EventAutoTransition fires after the engine has already advanced on
	// its own, whether by gapless boundary, crossfade, or repeat.
	EventAutoTransition
	// EventParamsClamped fires when effect parameters arrived out of
	// range and were corrected before being applied.
	EventParamsClamped
	// EventEffectFallback reports which equalizer backend is actually in
	// use when it is not the device's own.
	EventEffectFallback
	// EventPlaybackError reports a track that could not be opened or
	// decoded. Playback continues past it; the event is informational.
	EventPlaybackError
	// EventLoudnessDone fires when a loudness analysis finishes.
	EventLoudnessDone
)

func (k EventKind) String() string {
	switch k {
	case EventTrackChanged:
		return "track_changed"
	case EventPlayState:
		return "play_state"
	case EventPosition:
		return "position"
	case EventDurationKnown:
		return "duration_known"
	case EventQueueChanged:
		return "queue_changed"
	case EventModeChanged:
		return "mode_changed"
	case EventAutoTransition:
		return "auto_transition"
	case EventParamsClamped:
		return "params_clamped"
	case EventEffectFallback:
		return "effect_fallback"
	case EventPlaybackError:
		return "playback_error"
	case EventLoudnessDone:
		return "loudness_done"
	default:
		return "unknown"
	}
}

// Event is one engine notification. Only the fields relevant to Kind
// are set; the rest stay zero.
type Event struct {
	Kind EventKind

	// Track identity: TrackChanged, AutoTransition, PlaybackError,
	// LoudnessDone. Index is -1 for a track playing outside the queue.
	Path  string
	Index int

	// Transport: PlayState, Position, DurationKnown.
	Playing  bool
	Paused   bool
	Position time.Duration
	Duration time.Duration

	// QueueChanged.
	Queue []string

	// ModeChanged.
	Shuffle   bool
	Loop      LoopMode
	Crossfade time.Duration
	Smart     bool
	Volume    float64

	// Diagnostics.
	Notes   []dsp.ClampNote  // ParamsClamped
	Backend dsp.Backend      // EffectFallback
	Err     error            // PlaybackError
	Report  *loudness.Report // LoudnessDone
}

// DefaultSubscriptionBuffer is the channel depth Subscribe uses when the
// caller does not choose one.
const DefaultSubscriptionBuffer = 32

// Bus fans events out to subscribers. Publishing never blocks: when a
// subscriber's channel is full, the oldest queued event is dropped to
// make room, so a slow consumer lags but always sees the newest state.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a consumer. buffer <= 0 selects the default depth.
// On a closed bus the returned subscription's channel is already closed.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	s := &Subscription{bus: b, ch: make(chan Event, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every subscriber. After Close it is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(ev)
	}
}

// Close closes every subscription channel and drops later publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
}

// Events returns the delivery channel. It closes when the subscription
// or its bus closes.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the consumer
// fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.bus.closed {
		return
	}
	if _, ok := s.bus.subs[s]; !ok {
		return
	}
	delete(s.bus.subs, s)
	close(s.ch)
}

// push queues ev, dropping the oldest entry when the channel is full.
// The bus mutex serializes pushers, so after the drop the retry has a
// free slot; the consumer receiving concurrently only adds room.
func (s *Subscription) push(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}
