// Package zonedetect applies zone geometry to a detection batch. Every
// function here is pure/stateless: crossing state is passed in and a new
// state is returned rather than mutated, so these functions hold no
// per-zone memory (that lives in this package's CrossingTracker, one per
// line zone, owned by the registry's managedZone).
package zonedetect

import (
	"errors"

	"github.com/cupertinolabs/streamproc/pkg/detection"
	"github.com/cupertinolabs/streamproc/pkg/geometry"
)

// ErrMissingTrackerID is returned by DetectLineCrossing when a detection in
// the batch has no tracker id; line-crossing semantics are undefined
// without one.
var ErrMissingTrackerID = errors.New("zonedetect: all detections must carry a tracker id for line-crossing")

// DetectPolygon returns a boolean mask, one entry per detection, that is
// true where the detection's anchor point falls inside zone. An empty
// batch returns an empty (non-nil) mask.
func DetectPolygon(zone *geometry.PolygonZone, batch detection.Batch, anchor detection.Anchor) []bool {
	mask := make([]bool, len(batch))
	for i, d := range batch {
		x, y := d.BBox.Point(anchor)
		mask[i] = zone.Contains(x, y)
	}
	return mask
}

// DetectLineCrossing evaluates directional crossings for a line zone.
//
// A crossing is recorded only when the tracker id was seen before, its
// remembered side differs from the current side, and the current side is
// strictly ±1 (a transition through side 0 never counts, and a tracker
// first observed on side 0 cannot trigger a crossing until it lands on
// ±1). priorState is never mutated; the returned newState carries forward
// every id in priorState not seen this frame, plus the current side for
// every id seen this frame.
func DetectLineCrossing(zone *geometry.LineZone, batch detection.Batch, priorState map[int]int, anchor detection.Anchor) (crossedIn, crossedOut []bool, newState map[int]int, err error) {
	for _, d := range batch {
		if d.TrackerID == nil {
			return nil, nil, nil, ErrMissingTrackerID
		}
	}

	crossedIn = make([]bool, len(batch))
	crossedOut = make([]bool, len(batch))

	newState = make(map[int]int, len(priorState))
	for k, v := range priorState {
		newState[k] = v
	}

	for i, d := range batch {
		t := *d.TrackerID
		x, y := d.BBox.Point(anchor)
		cur := int(zone.Side(x, y))

		if prior, seen := priorState[t]; seen && prior != cur && cur != 0 {
			switch cur {
			case int(geometry.SideLeft):
				crossedIn[i] = true
			case int(geometry.SideRight):
				crossedOut[i] = true
			}
		}

		newState[t] = cur
	}

	return crossedIn, crossedOut, newState, nil
}
