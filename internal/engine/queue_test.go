package engine

import (
	"math/rand"
	"testing"
)

func testQueue(tracks ...string) *queue {
	q := newQueue()
	q.rng = rand.New(rand.NewSource(1))
	q.set(tracks, 0)
	return q
}

func TestQueueSetClampsStart(t *testing.T) {
	q := newQueue()

	q.set([]string{"a", "b", "c"}, -5)
	if q.index() != 0 {
		t.Fatalf("negative start selected index %d, want 0", q.index())
	}
	q.set([]string{"a", "b", "c"}, 99)
	if q.index() != 2 {
		t.Fatalf("oversized start selected index %d, want 2", q.index())
	}
	q.set(nil, 0)
	if q.index() != -1 || q.len() != 0 {
		t.Fatalf("empty queue kept a selection: index %d, len %d", q.index(), q.len())
	}
}

func TestQueuePeekAndAdvance(t *testing.T) {
	q := testQueue("a", "b", "c")

	if i, ok := q.peek(1); !ok || i != 1 {
		t.Fatalf("peek(1) = %d, %v", i, ok)
	}
	if _, ok := q.peek(3); ok {
		t.Fatal("peek past the end succeeded with loop off")
	}

	if i, ok := q.advance(1); !ok || i != 1 {
		t.Fatalf("advance(1) = %d, %v", i, ok)
	}
	if i, ok := q.advance(1); !ok || i != 2 {
		t.Fatalf("second advance = %d, %v", i, ok)
	}
	if _, ok := q.advance(1); ok {
		t.Fatal("advance past the end succeeded with loop off")
	}
	if q.index() != 2 {
		t.Fatalf("failed advance moved the selection to %d", q.index())
	}

	q.loop = LoopAll
	if i, ok := q.peek(1); !ok || i != 0 {
		t.Fatalf("peek(1) with loop all = %d, %v, want wrap to 0", i, ok)
	}
	if _, ok := q.peek(3); ok {
		t.Fatal("peek a full lap succeeded; lookahead must stay bounded")
	}
	if i, ok := q.advance(1); !ok || i != 0 {
		t.Fatalf("advance with loop all = %d, %v, want 0", i, ok)
	}
}

func TestQueuePrevious(t *testing.T) {
	q := testQueue("a", "b", "c")
	q.choose(1)

	if i, ok := q.previous(); !ok || i != 0 {
		t.Fatalf("previous = %d, %v, want 0", i, ok)
	}
	// At the head with loop off the selection stays for a restart.
	if i, ok := q.previous(); !ok || i != 0 {
		t.Fatalf("previous at head = %d, %v, want 0", i, ok)
	}

	q.loop = LoopAll
	if i, ok := q.previous(); !ok || i != 2 {
		t.Fatalf("previous at head with loop all = %d, %v, want 2", i, ok)
	}
}

func TestShuffleAnchorsCurrentTrack(t *testing.T) {
	q := testQueue("a", "b", "c", "d", "e")
	q.choose(2)

	q.setShuffle(true)
	if q.index() != 2 {
		t.Fatalf("enabling shuffle moved the selection to %d", q.index())
	}
	if q.pos != 0 {
		t.Fatalf("anchor not first in shuffled order: pos %d", q.pos)
	}
	seen := make(map[int]bool)
	for _, i := range q.order {
		seen[i] = true
	}
	if len(seen) != 5 {
		t.Fatalf("shuffled order is not a permutation: %v", q.order)
	}

	q.setShuffle(false)
	if q.index() != 2 || q.pos != 2 {
		t.Fatalf("disabling shuffle lost the selection: index %d, pos %d", q.index(), q.pos)
	}
}

func TestQueueAdvanceTo(t *testing.T) {
	q := testQueue("a", "b", "a", "c")

	// Duplicate path: resolve to the nearest upcoming copy.
	if i, ok := q.advanceTo("a"); !ok || i != 2 {
		t.Fatalf("advanceTo(a) = %d, %v, want the copy at 2", i, ok)
	}
	if i, ok := q.advanceTo("c"); !ok || i != 3 {
		t.Fatalf("advanceTo(c) = %d, %v", i, ok)
	}
	// Nothing ahead and no wrap: fall back to a whole-queue search.
	if i, ok := q.advanceTo("b"); !ok || i != 1 {
		t.Fatalf("advanceTo(b) = %d, %v", i, ok)
	}
	if _, ok := q.advanceTo("x"); ok {
		t.Fatal("advanceTo found a track not in the queue")
	}
}

func TestParseLoopMode(t *testing.T) {
	cases := []struct {
		in   string
		want LoopMode
		ok   bool
	}{
		{"off", LoopOff, true},
		{"", LoopOff, true},
		{"none", LoopOff, true},
		{"one", LoopOne, true},
		{"track", LoopOne, true},
		{"ALL", LoopAll, true},
		{"  queue  ", LoopAll, true},
		{"forever", LoopOff, false},
	}
	for _, c := range cases {
		got, ok := ParseLoopMode(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseLoopMode(%q) = %v, %v, want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestLoopModeString(t *testing.T) {
	if LoopOff.String() != "off" || LoopOne.String() != "one" || LoopAll.String() != "all" {
		t.Fatalf("mode names wrong: %s %s %s", LoopOff, LoopOne, LoopAll)
	}
	if LoopMode(9).String() != "unknown" {
		t.Fatalf("LoopMode(9) = %s", LoopMode(9))
	}
}
