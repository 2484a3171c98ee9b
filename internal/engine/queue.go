package engine

import (
	"math/rand"
	"slices"
	"strings"
	"time"
)

// LoopMode selects what happens when the queue runs out of tracks.
type LoopMode int

const (
	// LoopOff plays the queue once and stops.
	LoopOff LoopMode = iota
	// LoopOne repeats the current track until the mode changes.
	LoopOne
	// LoopAll wraps from the last entry back to the first.
	LoopAll
)

func (m LoopMode) String() string {
	switch m {
	case LoopOff:
		return "off"
	case LoopOne:
		return "one"
	case LoopAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseLoopMode maps a configuration string to a LoopMode. The empty
// string parses as LoopOff.
func ParseLoopMode(s string) (LoopMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return LoopOff, true
	case "one", "track":
		return LoopOne, true
	case "all", "queue":
		return LoopAll, true
	default:
		return LoopOff, false
	}
}

// queue holds the track list and its play order. It belongs to the
// engine's run goroutine and is never locked; order is the identity
// permutation until shuffle builds a random one.
type queue struct {
	tracks  []string
	order   []int
	pos     int // position within order; -1 when nothing is selected
	shuffle bool
	loop    LoopMode
	rng     *rand.Rand
}

func newQueue() *queue {
	return &queue{
		pos: -1,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (q *queue) len() int {
	return len(q.tracks)
}

// index returns the queue index of the selected track, -1 when none.
func (q *queue) index() int {
	if q.pos < 0 || q.pos >= len(q.order) {
		return -1
	}
	return q.order[q.pos]
}

// current returns the selected track's path.
func (q *queue) current() (string, bool) {
	i := q.index()
	if i < 0 {
		return "", false
	}
	return q.tracks[i], true
}

// set replaces the queue and selects the entry at start, clamped into
// range. An empty queue deselects everything.
func (q *queue) set(tracks []string, start int) {
	q.tracks = slices.Clone(tracks)
	if len(q.tracks) == 0 {
		q.order, q.pos = nil, -1
		return
	}
	if start < 0 {
		start = 0
	}
	if start >= len(q.tracks) {
		start = len(q.tracks) - 1
	}
	q.rebuild(start)
}

// choose selects queue index i, reanchoring the play order so what
// follows is computed from it. Reports false when i is out of range.
func (q *queue) choose(i int) bool {
	if i < 0 || i >= len(q.tracks) {
		return false
	}
	q.rebuild(i)
	return true
}

// setShuffle toggles shuffled order. The selected track stays selected;
// only the order of what follows changes.
func (q *queue) setShuffle(on bool) {
	if on == q.shuffle {
		return
	}
	q.shuffle = on
	if len(q.tracks) == 0 {
		return
	}
	q.rebuild(q.index())
}

// rebuild recomputes the play order with queue index anchor selected.
// Shuffled orders place the anchor first so a rebuild never cuts the
// playing track; anchor -1 keeps nothing selected.
func (q *queue) rebuild(anchor int) {
	n := len(q.tracks)
	q.order = make([]int, n)
	for i := range q.order {
		q.order[i] = i
	}
	if q.shuffle {
		q.rng.Shuffle(n, func(i, j int) {
			q.order[i], q.order[j] = q.order[j], q.order[i]
		})
	}
	if anchor < 0 {
		q.pos = -1
		return
	}
	if q.shuffle {
		for i, idx := range q.order {
			if idx == anchor {
				q.order[0], q.order[i] = q.order[i], q.order[0]
				break
			}
		}
		q.pos = 0
		return
	}
	q.pos = anchor
}

// peek returns the queue index steps ahead of the selection in play
// order. Loop-all wraps; walking a full lap reports false, which bounds
// how far a run of unplayable tracks can push the lookahead.
func (q *queue) peek(steps int) (int, bool) {
	n := len(q.order)
	if n == 0 || q.pos < 0 || steps <= 0 {
		return -1, false
	}
	p := q.pos + steps
	if p < n {
		return q.order[p], true
	}
	if q.loop == LoopAll && steps < n {
		return q.order[p%n], true
	}
	return -1, false
}

// advance moves the selection steps forward in play order and returns
// the new queue index. Position is unchanged when peek would fail.
func (q *queue) advance(steps int) (int, bool) {
	i, ok := q.peek(steps)
	if !ok {
		return -1, false
	}
	p := q.pos + steps
	if p >= len(q.order) {
		p %= len(q.order)
	}
	q.pos = p
	return i, true
}

// advanceTo moves the selection forward to the entry playing path,
// scanning upcoming entries first so duplicate paths resolve to the
// nearest copy ahead, then falling back to a whole-queue search.
func (q *queue) advanceTo(path string) (int, bool) {
	n := len(q.order)
	if n == 0 {
		return -1, false
	}
	for s := 1; s <= n; s++ {
		p := q.pos + s
		if p >= n {
			if q.loop != LoopAll {
				break
			}
			p %= n
		}
		if q.tracks[q.order[p]] == path {
			q.pos = p
			return q.order[p], true
		}
	}
	for p, idx := range q.order {
		if q.tracks[idx] == path {
			q.pos = p
			return idx, true
		}
	}
	return -1, false
}

// previous moves the selection one entry back in play order, wrapping
// under loop-all. At the head of a non-wrapping queue the selection
// stays put and the caller restarts the head track.
func (q *queue) previous() (int, bool) {
	n := len(q.order)
	if n == 0 || q.pos < 0 {
		return -1, false
	}
	p := q.pos - 1
	if p < 0 {
		if q.loop != LoopAll {
			return q.order[q.pos], true
		}
		p = n - 1
	}
	q.pos = p
	return q.order[p], true
}
