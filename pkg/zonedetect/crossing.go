package zonedetect

import "sync"

// CrossingTracker holds per-tracker-id last-side memory for a single line
// zone. It is never aliased between zones: exactly one inference-thread
// caller touches a given instance, so the internal lock exists only to
// make State()/SetState() safe to call for introspection from other
// threads (e.g. a status handler), not to serialize concurrent Detect calls.
type CrossingTracker struct {
	mu    sync.Mutex
	sides map[int]int // tracker id -> last side (-1, 0, +1)
}

// NewCrossingTracker returns a tracker with empty side memory.
func NewCrossingTracker() *CrossingTracker {
	return &CrossingTracker{sides: make(map[int]int)}
}

// State returns a copy of the current tracker-id -> last-side mapping.
func (c *CrossingTracker) State() map[int]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int]int, len(c.sides))
	for k, v := range c.sides {
		out[k] = v
	}
	return out
}

// SetState replaces the tracker-id -> last-side mapping.
func (c *CrossingTracker) SetState(state map[int]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sides = state
}

// Prune drops tracker ids not present in activeIDs, guarding against
// unbounded growth from departed tracks.
func (c *CrossingTracker) Prune(activeIDs map[int]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.sides {
		if _, ok := activeIDs[id]; !ok {
			delete(c.sides, id)
		}
	}
}
