package queue

import (
	"testing"
	"time"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

func TestAdd_DuplicateReturnsExistingPosition(t *testing.T) {
	m := New(&stepClock{now: time.Now().UTC()})

	first := m.Add("note", "a")
	m.Add("note", "b")
	again := m.Add("note", "a")

	if again.Position != first.Position {
		t.Fatalf("expected re-add to return existing position %d, got %d", first.Position, again.Position)
	}
	if len(m.List("note")) != 2 {
		t.Fatalf("expected no duplicate entry, got %d entries", len(m.List("note")))
	}
}

func TestRemove_RenumbersRemainingPositions(t *testing.T) {
	m := New(&stepClock{now: time.Now().UTC()})
	m.Add("note", "a")
	m.Add("note", "b")
	m.Add("note", "c")

	m.Remove("note", "b")

	list := m.List("note")
	if len(list) != 2 {
		t.Fatalf("expected 2 entries after remove, got %d", len(list))
	}
	for i, e := range list {
		if e.Position != i+1 {
			t.Fatalf("expected position %d at index %d, got %d", i+1, i, e.Position)
		}
	}
	if list[0].EntityID != "a" || list[1].EntityID != "c" {
		t.Fatalf("unexpected remaining order: %+v", list)
	}
}

func TestRemove_AbsentEntityIsNoOp(t *testing.T) {
	m := New(&stepClock{now: time.Now().UTC()})
	m.Add("note", "a")
	m.Remove("note", "does-not-exist")

	if len(m.List("note")) != 1 {
		t.Fatalf("expected list unaffected by removing an absent entity")
	}
}

func TestReorder_ClampsToValidRange(t *testing.T) {
	m := New(&stepClock{now: time.Now().UTC()})
	m.Add("note", "a")
	m.Add("note", "b")
	m.Add("note", "c")

	m.Reorder("note", "c", 1)
	list := m.List("note")
	if list[0].EntityID != "c" {
		t.Fatalf("expected c moved to position 1, got order %+v", list)
	}

	m.Reorder("note", "c", 999) // clamp to len
	list = m.List("note")
	if list[len(list)-1].EntityID != "c" {
		t.Fatalf("expected c clamped to the last position, got order %+v", list)
	}
}

func TestReorder_AbsentEntityIsNoOp(t *testing.T) {
	m := New(&stepClock{now: time.Now().UTC()})
	m.Add("note", "a")
	m.Reorder("note", "missing", 1)

	if len(m.List("note")) != 1 {
		t.Fatalf("expected list unaffected by reordering an absent entity")
	}
}

func TestPopNext_RemovesAndRenumbers(t *testing.T) {
	m := New(&stepClock{now: time.Now().UTC()})
	m.Add("note", "a")
	m.Add("note", "b")

	head, ok := m.PopNext("note")
	if !ok || head.EntityID != "a" {
		t.Fatalf("expected to pop a first, got %+v ok=%v", head, ok)
	}

	remaining := m.List("note")
	if len(remaining) != 1 || remaining[0].Position != 1 {
		t.Fatalf("expected remaining entry renumbered to position 1, got %+v", remaining)
	}
}

func TestGetNextAcrossTypes_PicksOldestQueuedAtAcrossTypes(t *testing.T) {
	clk := &stepClock{now: time.Now().UTC()}
	m := New(clk)

	m.Add("zeta", "first-queued")
	m.Add("alpha", "second-queued")

	entry, ok := m.GetNextAcrossTypes()
	if !ok {
		t.Fatalf("expected a next entry")
	}
	if entry.EntityType != "zeta" || entry.EntityID != "first-queued" {
		t.Fatalf("expected the oldest-queued entry regardless of type, got %+v", entry)
	}
}

func TestGetNextAcrossTypes_TiesBreakByTypeThenID(t *testing.T) {
	fixed := time.Now().UTC()
	m := New(&fixedClock{now: fixed})

	m.Add("beta", "z")
	m.Add("alpha", "z")
	m.Add("alpha", "a")

	entry, ok := m.GetNextAcrossTypes()
	if !ok {
		t.Fatalf("expected a next entry")
	}
	if entry.EntityType != "alpha" || entry.EntityID != "a" {
		t.Fatalf("expected tie-break to pick alpha/a, got %+v", entry)
	}
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func TestGetRegisteredTypes_IncludesTypesEmptiedByRemoval(t *testing.T) {
	m := New(&stepClock{now: time.Now().UTC()})
	m.Add("note", "a")
	m.Remove("note", "a")

	types := m.GetRegisteredTypes()
	if len(types) != 1 || types[0] != "note" {
		t.Fatalf("expected note to remain a registered type even when empty, got %+v", types)
	}

	queued := m.GetQueuedEntityTypes()
	if len(queued) != 0 {
		t.Fatalf("expected no queued types once emptied, got %+v", queued)
	}
}
