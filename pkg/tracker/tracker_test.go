package tracker

import (
	"testing"

	"github.com/cupertinolabs/streamproc/pkg/detection"
)

func TestUpdateAssignsNewIDsOnFirstFrame(t *testing.T) {
	tr := NewGreedyIOUTracker(0.3, 2)
	batch := detection.Batch{
		{ClassID: 0, BBox: detection.BBox{X: 0, Y: 0, Width: 10, Height: 10}},
		{ClassID: 1, BBox: detection.BBox{X: 50, Y: 50, Width: 10, Height: 10}},
	}

	out, err := tr.Update(batch)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out[0].TrackerID == nil || out[1].TrackerID == nil {
		t.Fatalf("expected tracker ids assigned, got %+v", out)
	}
	if *out[0].TrackerID == *out[1].TrackerID {
		t.Fatalf("expected distinct tracker ids")
	}
}

func TestUpdatePersistsIDAcrossFrames(t *testing.T) {
	tr := NewGreedyIOUTracker(0.3, 2)

	frame1 := detection.Batch{{ClassID: 0, BBox: detection.BBox{X: 0, Y: 0, Width: 10, Height: 10}}}
	out1, _ := tr.Update(frame1)
	id1 := *out1[0].TrackerID

	// Slightly moved box, still high overlap.
	frame2 := detection.Batch{{ClassID: 0, BBox: detection.BBox{X: 1, Y: 1, Width: 10, Height: 10}}}
	out2, _ := tr.Update(frame2)
	if *out2[0].TrackerID != id1 {
		t.Fatalf("expected persisted tracker id %d, got %d", id1, *out2[0].TrackerID)
	}
}

func TestUpdateDoesNotMatchAcrossClasses(t *testing.T) {
	tr := NewGreedyIOUTracker(0.1, 2)

	frame1 := detection.Batch{{ClassID: 0, BBox: detection.BBox{X: 0, Y: 0, Width: 10, Height: 10}}}
	out1, _ := tr.Update(frame1)
	id1 := *out1[0].TrackerID

	frame2 := detection.Batch{{ClassID: 1, BBox: detection.BBox{X: 0, Y: 0, Width: 10, Height: 10}}}
	out2, _ := tr.Update(frame2)
	if *out2[0].TrackerID == id1 {
		t.Fatalf("expected a new tracker id for a different class at the same position")
	}
}

func TestUpdateEvictsTrackAfterMaxAgeMisses(t *testing.T) {
	tr := NewGreedyIOUTracker(0.3, 1)

	frame1 := detection.Batch{{ClassID: 0, BBox: detection.BBox{X: 0, Y: 0, Width: 10, Height: 10}}}
	out1, _ := tr.Update(frame1)
	id1 := *out1[0].TrackerID

	// Two consecutive frames with no matching detection: track should be evicted.
	_, _ = tr.Update(detection.Batch{})
	_, _ = tr.Update(detection.Batch{})

	// A detection reappearing at the same spot now gets a fresh id.
	out2, _ := tr.Update(detection.Batch{{ClassID: 0, BBox: detection.BBox{X: 0, Y: 0, Width: 10, Height: 10}}})
	if *out2[0].TrackerID == id1 {
		t.Fatalf("expected evicted track to not be reused")
	}
}

func TestResetClearsTracks(t *testing.T) {
	tr := NewGreedyIOUTracker(0.3, 2)
	_, _ = tr.Update(detection.Batch{{ClassID: 0, BBox: detection.BBox{X: 0, Y: 0, Width: 10, Height: 10}}})
	tr.Reset()

	out, _ := tr.Update(detection.Batch{{ClassID: 0, BBox: detection.BBox{X: 0, Y: 0, Width: 10, Height: 10}}})
	if *out[0].TrackerID != 1 {
		t.Fatalf("expected tracker ids to restart from 1 after Reset, got %d", *out[0].TrackerID)
	}
}
