// Package registry implements the thread-safe zone registry (C5): a
// collection of managed zones that can be added, removed, enabled,
// disabled, and swapped at runtime from a control-plane goroutine while
// the inference goroutine evaluates them against every frame.
//
// Grounded on original_source/cupertino_processor/registry.py, generalized
// from Python's GIL-protected threading.Lock to an explicit sync.Mutex and
// from exceptions to Go errors.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cupertinolabs/streamproc/pkg/detection"
	"github.com/cupertinolabs/streamproc/pkg/geometry"
	"github.com/cupertinolabs/streamproc/pkg/zonecounter"
	"github.com/cupertinolabs/streamproc/pkg/zonedetect"
)

// Errors returned by registry operations.
var (
	ErrUnknownZone      = errors.New("registry: unknown zone")
	ErrDuplicateZone    = errors.New("registry: zone already exists")
	ErrZoneTypeMismatch = errors.New("registry: cannot change a zone's kind")
	ErrMissingTracker   = errors.New("registry: line zone missing crossing tracker")
)

// Kind tags which geometry variant a ManagedZone wraps.
type Kind int

const (
	KindPolygon Kind = iota
	KindLine
)

func (k Kind) String() string {
	if k == KindLine {
		return "line"
	}
	return "polygon"
}

// Shape is a tagged sum of the two zone geometries. Exactly one of Polygon
// or Line is non-nil, matching Kind.
type Shape struct {
	Kind    Kind
	Polygon *geometry.PolygonZone
	Line    *geometry.LineZone
}

// PolygonShape wraps a polygon zone as a registry Shape.
func PolygonShape(z *geometry.PolygonZone) Shape { return Shape{Kind: KindPolygon, Polygon: z} }

// LineShape wraps a line zone as a registry Shape.
func LineShape(z *geometry.LineZone) Shape { return Shape{Kind: KindLine, Line: z} }

// managedZone is never reassigned after construction except for its
// Enabled flag: Update() replaces the registry's map entry wholesale
// rather than mutating a shared object's fields, so a reference captured
// by Evaluate's snapshot is never subject to a concurrent field write
// other than Enabled.
type managedZone struct {
	zoneID  string
	shape   Shape
	counter *zonecounter.Counter
	tracker *zonedetect.CrossingTracker // non-nil iff shape.Kind == KindLine
	enabled bool
}

// PolygonResult is the per-zone Evaluate outcome for a polygon zone.
type PolygonResult struct {
	Mask  []bool
	Stats zonecounter.ZoneStats
}

// LineResult is the per-zone Evaluate outcome for a line zone.
type LineResult struct {
	CrossedIn  []bool
	CrossedOut []bool
	Stats      zonecounter.ZoneStats
}

// Result is the tagged outcome of evaluating one zone. Exactly one of
// Polygon or Line is populated, matching Kind.
type Result struct {
	Kind    Kind
	Polygon PolygonResult
	Line    LineResult
}

// ZoneInfo summarizes a zone's kind, enabled flag, and statistics for
// introspection (see Info).
type ZoneInfo struct {
	ZoneID  string
	Kind    Kind
	Enabled bool
	Stats   zonecounter.ZoneStats
}

// Registry is a thread-safe collection of managed zones. The zero value is
// not usable; construct with New.
type Registry struct {
	mu    sync.Mutex
	zones map[string]*managedZone
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{zones: make(map[string]*managedZone)}
}

// AddPolygon registers a new polygon zone under id. Fails ErrDuplicateZone
// if id already exists.
func (r *Registry) AddPolygon(id string, shape *geometry.PolygonZone) error {
	return r.add(id, PolygonShape(shape))
}

// AddLine registers a new line zone under id. Fails ErrDuplicateZone if id
// already exists.
func (r *Registry) AddLine(id string, shape *geometry.LineZone) error {
	return r.add(id, LineShape(shape))
}

func (r *Registry) add(id string, shape Shape) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.zones[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateZone, id)
	}

	r.zones[id] = newManagedZone(id, shape)
	return nil
}

func newManagedZone(id string, shape Shape) *managedZone {
	mz := &managedZone{
		zoneID:  id,
		shape:   shape,
		counter: zonecounter.NewCounter(id),
		enabled: true,
	}
	if shape.Kind == KindLine {
		mz.tracker = zonedetect.NewCrossingTracker()
	}
	return mz
}

// Remove drops a managed zone. Fails ErrUnknownZone if id is absent.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.zones[id]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownZone, id)
	}
	delete(r.zones, id)
	return nil
}

// Update replaces a zone's geometry and resets its counter/tracker,
// keeping Enabled as-is. The new shape's Kind must match the existing
// zone's Kind; no silent polygon<->line swaps are allowed.
func (r *Registry) Update(id string, shape Shape) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.zones[id]
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownZone, id)
	}
	if old.shape.Kind != shape.Kind {
		return fmt.Errorf("%w: zone %q is %s, got %s", ErrZoneTypeMismatch, id, old.shape.Kind, shape.Kind)
	}

	updated := newManagedZone(id, shape)
	updated.enabled = old.enabled
	r.zones[id] = updated
	return nil
}

// Enable sets a zone's enabled flag to true. Fails ErrUnknownZone if id is
// absent. Enabling an already-enabled zone is a no-op.
func (r *Registry) Enable(id string) error {
	return r.setEnabled(id, true)
}

// Disable sets a zone's enabled flag to false. Fails ErrUnknownZone if id
// is absent. Disabling an already-disabled zone is a no-op.
func (r *Registry) Disable(id string) error {
	return r.setEnabled(id, false)
}

func (r *Registry) setEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mz, exists := r.zones[id]
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownZone, id)
	}
	mz.enabled = enabled
	return nil
}

// Evaluate runs every enabled zone against batch under the snapshot
// discipline: the registry lock is held only long enough to copy
// references to currently-enabled managed zones, then released before any
// detector or counter work runs. It is safe to call Evaluate concurrently
// with Add/Remove/Update/Enable/Disable from other goroutines; a zone
// removed or replaced after the snapshot is taken is still evaluated and
// still appears in the returned map, and evaluate never observes a torn
// managedZone because only Enabled is mutated in place.
//
// classNames maps detection class ids to human-readable names for
// classwise counting; it may be nil.
func (r *Registry) Evaluate(batch detection.Batch, classNames map[int]string) (map[string]Result, error) {
	r.mu.Lock()
	snapshot := make([]*managedZone, 0, len(r.zones))
	for _, mz := range r.zones {
		if mz.enabled {
			snapshot = append(snapshot, mz)
		}
	}
	r.mu.Unlock()

	results := make(map[string]Result, len(snapshot))

	for _, mz := range snapshot {
		switch mz.shape.Kind {
		case KindPolygon:
			mask := zonedetect.DetectPolygon(mz.shape.Polygon, batch, detection.BottomCenter)
			mz.counter.UpdatePolygon(mask, batch, classNames)
			results[mz.zoneID] = Result{
				Kind:    KindPolygon,
				Polygon: PolygonResult{Mask: mask, Stats: mz.counter.Snapshot()},
			}

		case KindLine:
			if mz.tracker == nil {
				return nil, fmt.Errorf("%w: zone %q", ErrMissingTracker, mz.zoneID)
			}

			crossedIn, crossedOut, newState, err := zonedetect.DetectLineCrossing(mz.shape.Line, batch, mz.tracker.State(), detection.BottomCenter)
			if err != nil {
				return nil, fmt.Errorf("registry: evaluating zone %q: %w", mz.zoneID, err)
			}
			mz.tracker.SetState(newState)
			mz.counter.UpdateLine(crossedIn, crossedOut, batch, classNames)

			results[mz.zoneID] = Result{
				Kind: KindLine,
				Line: LineResult{CrossedIn: crossedIn, CrossedOut: crossedOut, Stats: mz.counter.Snapshot()},
			}
		}
	}

	return results, nil
}

// List returns a snapshot of zone id -> enabled.
func (r *Registry) List() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]bool, len(r.zones))
	for id, mz := range r.zones {
		out[id] = mz.enabled
	}
	return out
}

// Info returns the current shape summary and statistics for a zone. Fails
// ErrUnknownZone if id is absent.
func (r *Registry) Info(id string) (ZoneInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mz, exists := r.zones[id]
	if !exists {
		return ZoneInfo{}, fmt.Errorf("%w: %q", ErrUnknownZone, id)
	}
	return ZoneInfo{
		ZoneID:  id,
		Kind:    mz.shape.Kind,
		Enabled: mz.enabled,
		Stats:   mz.counter.Snapshot(),
	}, nil
}

// Stats returns the current statistics snapshot for a zone. Fails
// ErrUnknownZone if id is absent.
func (r *Registry) Stats(id string) (zonecounter.ZoneStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mz, exists := r.zones[id]
	if !exists {
		return zonecounter.ZoneStats{}, fmt.Errorf("%w: %q", ErrUnknownZone, id)
	}
	return mz.counter.Snapshot(), nil
}

// Clear removes every zone from the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones = make(map[string]*managedZone)
}

// Count returns the number of zones in the registry, enabled or not.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.zones)
}
