// Package tracker defines the multi-object-tracker contract (the "external
// MOT" of spec.md §3/§4.9: out of scope for this service beyond the
// interface it consumes) and ships one concrete, greedy IOU-matching
// implementation suitable for development and testing without a heavier
// tracker attached.
//
// The assignment problem is the same one viam-modules' pizza-tracker
// solves with the Hungarian algorithm (other_examples/
// 7d832630_viam-modules-pizza-tracking__tracker-tracker.go.go); this
// package uses greedy highest-IOU-first matching instead of bringing in a
// Hungarian-algorithm dependency nothing else in the pack needs.
package tracker

import (
	"sync"

	"github.com/cupertinolabs/streamproc/pkg/detection"
)

// Tracker assigns persistent tracker ids to a frame's detections. Per
// spec.md §5, a Tracker is not thread-safe and must be invoked only from
// the inference thread.
type Tracker interface {
	// Update assigns TrackerID on every element of batch (in place,
	// returning the same slice) using the detections' positions and
	// class ids. Detections that cannot be matched to an existing track
	// receive a new id.
	Update(batch detection.Batch) (detection.Batch, error)
	// Reset clears all track state.
	Reset()
}

type track struct {
	id      int
	classID int
	bbox    detection.BBox
	misses  int
}

// GreedyIOUTracker is a minimal default Tracker: each frame, detections are
// greedily matched to existing tracks by descending IOU (ties broken by
// track id), subject to a same-class constraint and a minimum IOU
// threshold. Unmatched tracks are kept for maxAge frames before eviction;
// unmatched detections become new tracks.
type GreedyIOUTracker struct {
	mu           sync.Mutex
	iouThreshold float64
	maxAge       int
	nextID       int
	tracks       []*track
}

// NewGreedyIOUTracker builds a tracker with the given IOU acceptance
// threshold (typically 0.3) and the number of consecutive missed frames
// before a track is evicted.
func NewGreedyIOUTracker(iouThreshold float64, maxAge int) *GreedyIOUTracker {
	return &GreedyIOUTracker{iouThreshold: iouThreshold, maxAge: maxAge}
}

// Update implements Tracker.
func (t *GreedyIOUTracker) Update(batch detection.Batch) (detection.Batch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type candidate struct {
		trackIdx, detIdx int
		iou              float64
	}

	matchedTrack := make([]bool, len(t.tracks))
	matchedDet := make([]bool, len(batch))

	var candidates []candidate
	for ti, tr := range t.tracks {
		for di := range batch {
			if batch[di].ClassID != tr.classID {
				continue
			}
			iou := intersectionOverUnion(tr.bbox, batch[di].BBox)
			if iou >= t.iouThreshold {
				candidates = append(candidates, candidate{ti, di, iou})
			}
		}
	}

	for {
		best := -1
		for i, c := range candidates {
			if matchedTrack[c.trackIdx] || matchedDet[c.detIdx] {
				continue
			}
			if best == -1 || c.iou > candidates[best].iou {
				best = i
			}
		}
		if best == -1 {
			break
		}
		c := candidates[best]
		matchedTrack[c.trackIdx] = true
		matchedDet[c.detIdx] = true

		tr := t.tracks[c.trackIdx]
		tr.bbox = batch[c.detIdx].BBox
		tr.misses = 0
		id := tr.id
		batch[c.detIdx].TrackerID = &id
	}

	for di := range batch {
		if matchedDet[di] {
			continue
		}
		t.nextID++
		id := t.nextID
		t.tracks = append(t.tracks, &track{id: id, classID: batch[di].ClassID, bbox: batch[di].BBox})
		batch[di].TrackerID = &id
	}

	kept := t.tracks[:0]
	for ti, tr := range t.tracks {
		// ti only indexes matchedTrack for the pre-update tracks; tracks
		// appended above for unmatched detections are freshly created
		// with misses == 0 and are always kept.
		if ti < len(matchedTrack) && !matchedTrack[ti] {
			tr.misses++
		}
		if tr.misses <= t.maxAge {
			kept = append(kept, tr)
		}
	}
	t.tracks = kept

	return batch, nil
}

// Reset implements Tracker.
func (t *GreedyIOUTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.nextID = 0
}

func intersectionOverUnion(a, b detection.BBox) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.Width, b.X+b.Width)
	y2 := min(a.Y+a.Height, b.Y+b.Height)

	interW := x2 - x1
	interH := y2 - y1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH
	union := a.Width*a.Height + b.Width*b.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
