// Package zonecounter implements the per-zone statistics accumulator (C4).
// UpdatePolygon/UpdateLine are only ever called from the registry's
// Evaluate, on the pipeline's inference thread, but Snapshot is also
// reachable through Registry.Info/Stats, which any goroutine may call;
// Counter guards its state with a mutex so the two never race.
package zonecounter

import (
	"fmt"
	"sync"

	"github.com/cupertinolabs/streamproc/pkg/detection"
)

// ZoneStats is an immutable snapshot of a zone's statistics, safe to share
// across goroutines and to serialize onto the bus.
type ZoneStats struct {
	ZoneID           string
	CurrentCount     int
	TotalEntered     int
	TotalExited      int
	ClasswiseCounts  map[string]int
}

// Counter is a mutable per-zone accumulator. For polygon zones each
// UpdatePolygon call replaces current state; for line zones each
// UpdateLine call accumulates into running totals.
type Counter struct {
	mu              sync.Mutex
	zoneID          string
	currentCount    int
	totalEntered    int
	totalExited     int
	classwiseCounts map[string]int
}

// NewCounter returns a zeroed counter for zoneID.
func NewCounter(zoneID string) *Counter {
	return &Counter{
		zoneID:          zoneID,
		classwiseCounts: make(map[string]int),
	}
}

func className(classNames map[int]string, d detection.Detection) string {
	if d.ClassName != "" {
		return d.ClassName
	}
	if name, ok := classNames[d.ClassID]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", d.ClassID)
}

// UpdatePolygon sets current_count to popcount(mask) and rebuilds
// classwise_counts from the masked subset. Per-frame, not accumulated.
func (c *Counter) UpdatePolygon(mask []bool, batch detection.Batch, classNames map[int]string) {
	count := 0
	counts := make(map[string]int)

	for i, inZone := range mask {
		if !inZone {
			continue
		}
		count++
		counts[className(classNames, batch[i])]++
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentCount = count
	c.classwiseCounts = counts
}

// UpdateLine accumulates total_entered/total_exited and classwise
// "_IN"/"_OUT" suffixed counts from the crossing masks.
func (c *Counter) UpdateLine(crossedIn, crossedOut []bool, batch detection.Batch, classNames map[int]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, in := range crossedIn {
		if in {
			c.totalEntered++
			c.classwiseCounts[className(classNames, batch[i])+"_IN"]++
		}
	}
	for i, out := range crossedOut {
		if out {
			c.totalExited++
			c.classwiseCounts[className(classNames, batch[i])+"_OUT"]++
		}
	}
}

// Snapshot returns an immutable copy of the counter's current state.
func (c *Counter) Snapshot() ZoneStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int, len(c.classwiseCounts))
	for k, v := range c.classwiseCounts {
		counts[k] = v
	}
	return ZoneStats{
		ZoneID:          c.zoneID,
		CurrentCount:    c.currentCount,
		TotalEntered:    c.totalEntered,
		TotalExited:     c.totalExited,
		ClasswiseCounts: counts,
	}
}

// Reset clears all counts.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentCount = 0
	c.totalEntered = 0
	c.totalExited = 0
	c.classwiseCounts = make(map[string]int)
}
