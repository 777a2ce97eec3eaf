package zonecounter

import (
	"testing"

	"github.com/cupertinolabs/streamproc/pkg/detection"
)

func TestUpdatePolygonClasswise(t *testing.T) {
	c := NewCounter("z1")
	batch := detection.Batch{
		{ClassName: "person"},
		{ClassName: "person"},
		{ClassName: "car"},
	}
	mask := []bool{true, true, false}

	c.UpdatePolygon(mask, batch, nil)
	stats := c.Snapshot()

	if stats.CurrentCount != 2 {
		t.Fatalf("CurrentCount = %d, want 2", stats.CurrentCount)
	}
	if stats.ClasswiseCounts["person"] != 2 {
		t.Fatalf("person count = %d, want 2", stats.ClasswiseCounts["person"])
	}
	if _, ok := stats.ClasswiseCounts["car"]; ok {
		t.Fatalf("car must not appear: it was outside the mask")
	}
}

func TestUpdatePolygonReplacesNotAccumulates(t *testing.T) {
	c := NewCounter("z1")
	batch := detection.Batch{{ClassName: "person"}}

	c.UpdatePolygon([]bool{true}, batch, nil)
	c.UpdatePolygon([]bool{false}, batch, nil)

	stats := c.Snapshot()
	if stats.CurrentCount != 0 {
		t.Fatalf("polygon counts must be per-frame, not accumulated; got %d", stats.CurrentCount)
	}
}

func TestUpdateLineAccumulates(t *testing.T) {
	c := NewCounter("z1")
	batch := detection.Batch{{ClassName: "person"}}

	c.UpdateLine([]bool{true}, []bool{false}, batch, nil)
	c.UpdateLine([]bool{true}, []bool{false}, batch, nil)

	stats := c.Snapshot()
	if stats.TotalEntered != 2 {
		t.Fatalf("TotalEntered = %d, want 2", stats.TotalEntered)
	}
	if stats.ClasswiseCounts["person_IN"] != 2 {
		t.Fatalf("person_IN = %d, want 2", stats.ClasswiseCounts["person_IN"])
	}
}

func TestUnknownClassFallsBackToClassID(t *testing.T) {
	c := NewCounter("z1")
	batch := detection.Batch{{ClassID: 42}}
	c.UpdatePolygon([]bool{true}, batch, nil)
	stats := c.Snapshot()
	if stats.ClasswiseCounts["class_42"] != 1 {
		t.Fatalf("expected class_42 fallback name, got %v", stats.ClasswiseCounts)
	}
}

func TestReset(t *testing.T) {
	c := NewCounter("z1")
	c.UpdateLine([]bool{true}, nil, detection.Batch{{ClassName: "car"}}, nil)
	c.Reset()
	stats := c.Snapshot()
	if stats.TotalEntered != 0 || len(stats.ClasswiseCounts) != 0 {
		t.Fatalf("Reset must clear all counts, got %+v", stats)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	c := NewCounter("z1")
	c.UpdatePolygon([]bool{true}, detection.Batch{{ClassName: "car"}}, nil)
	snap := c.Snapshot()
	snap.ClasswiseCounts["car"] = 999
	if c.Snapshot().ClasswiseCounts["car"] == 999 {
		t.Fatalf("mutating a snapshot must not affect the counter's internal state")
	}
}
