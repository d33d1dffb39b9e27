// Package queue is the Publish Queue Manager: per-entityType ordered queues
// of pending publish operations. No teacher analogue exists for an ordered
// in-process queue — grounded on the teacher's repo/memory map-plus-mutex
// discipline (internal/repo/memory's EventsRepo), generalized from a single
// map into one ordered slice per entity type.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/workcore/internal/clock"
)

// Entry is one queued publish operation, position always equal to its
// 1-based index within its entityType's queue.
type Entry struct {
	EntityType string
	EntityID   string
	Position   int
	QueuedAt   time.Time
}

// Manager holds one ordered queue per entityType.
type Manager struct {
	clk clock.Clock

	mu     sync.Mutex
	queues map[string][]Entry
}

func New(clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.Real
	}
	return &Manager{clk: clk, queues: make(map[string][]Entry)}
}

// Add appends entityId to entityType's queue unless it is already present,
// in which case its existing position is returned unchanged — §4.I's
// no-duplication rule.
func (m *Manager) Add(entityType, entityID string) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[entityType]
	for _, e := range q {
		if e.EntityID == entityID {
			return e
		}
	}

	entry := Entry{EntityType: entityType, EntityID: entityID, QueuedAt: m.clk.Now()}
	q = append(q, entry)
	m.renumber(entityType, q)
	return m.queues[entityType][len(q)-1]
}

// Remove drops entityId from entityType's queue. A no-op if absent.
func (m *Manager) Remove(entityType, entityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[entityType]
	for i, e := range q {
		if e.EntityID == entityID {
			q = append(q[:i], q[i+1:]...)
			m.renumber(entityType, q)
			return
		}
	}
}

// Reorder moves entityId to newPosition (1-based, clamped to [1, len]). A
// no-op if entityId is absent from entityType's queue.
func (m *Manager) Reorder(entityType, entityID string, newPosition int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[entityType]
	idx := -1
	for i, e := range q {
		if e.EntityID == entityID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	if newPosition < 1 {
		newPosition = 1
	}
	if newPosition > len(q) {
		newPosition = len(q)
	}

	moved := q[idx]
	q = append(q[:idx], q[idx+1:]...)

	target := newPosition - 1
	q = append(q[:target], append([]Entry{moved}, q[target:]...)...)

	m.renumber(entityType, q)
}

// List returns entityType's queue in position order.
func (m *Manager) List(entityType string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[entityType]
	out := make([]Entry, len(q))
	copy(out, q)
	return out
}

// GetNext returns the head of entityType's queue without removing it.
func (m *Manager) GetNext(entityType string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[entityType]
	if len(q) == 0 {
		return Entry{}, false
	}
	return q[0], true
}

// PopNext removes and returns the head of entityType's queue.
func (m *Manager) PopNext(entityType string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[entityType]
	if len(q) == 0 {
		return Entry{}, false
	}

	head := q[0]
	q = q[1:]
	m.renumber(entityType, q)
	return head, true
}

// GetNextAcrossTypes returns the entry with the oldest QueuedAt across every
// non-empty queue, ties broken by entityType then entityId, both
// lexicographic — §4.I.
func (m *Manager) GetNextAcrossTypes() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best Entry
	found := false

	for _, q := range m.queues {
		for _, e := range q {
			if !found || isOlder(e, best) {
				best = e
				found = true
			}
		}
	}
	return best, found
}

func isOlder(a, b Entry) bool {
	if !a.QueuedAt.Equal(b.QueuedAt) {
		return a.QueuedAt.Before(b.QueuedAt)
	}
	if a.EntityType != b.EntityType {
		return a.EntityType < b.EntityType
	}
	return a.EntityID < b.EntityID
}

// GetRegisteredTypes returns every entityType that has ever had a queue
// created for it, including ones now empty.
func (m *Manager) GetRegisteredTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, 0, len(m.queues))
	for t := range m.queues {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// GetQueuedEntityTypes returns only entityTypes with at least one queued
// entry.
func (m *Manager) GetQueuedEntityTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var types []string
	for t, q := range m.queues {
		if len(q) > 0 {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// renumber rewrites Position to each entry's 1-based index and stores q back
// under entityType — called after every mutation per §3's positional
// invariant.
func (m *Manager) renumber(entityType string, q []Entry) {
	for i := range q {
		q[i].Position = i + 1
	}
	m.queues[entityType] = q
}
