// Package detection defines the detection-batch value type shared between
// the model loader, the multi-object tracker, and the zone analytics
// subsystem. It carries no behavior beyond anchor extraction.
package detection

// BBox is an axis-aligned bounding box in absolute pixel coordinates.
type BBox struct {
	X, Y, Width, Height float64
}

// Detection is a single tracked or untracked object produced by the
// detector + tracker pair. TrackerID is nil when the detection has not yet
// been associated with a track.
type Detection struct {
	BBox       BBox
	ClassID    int
	ClassName  string
	Confidence float64
	TrackerID  *int
}

// Batch is an ordered sequence of detections for one frame.
type Batch []Detection

// Anchor selects which representative point of a bounding box is used for
// zone queries.
type Anchor int

const (
	// BottomCenter is the default anchor (typical for people/vehicles).
	BottomCenter Anchor = iota
	Center
	TopLeft
	TopCenter
	TopRight
	BottomLeft
	BottomRight
)

// Point returns the anchor point of a bounding box, truncated to integer
// screen coordinates.
func (b BBox) Point(a Anchor) (x, y int) {
	switch a {
	case Center:
		return int(b.X + b.Width/2), int(b.Y + b.Height/2)
	case TopLeft:
		return int(b.X), int(b.Y)
	case TopCenter:
		return int(b.X + b.Width/2), int(b.Y)
	case TopRight:
		return int(b.X + b.Width), int(b.Y)
	case BottomLeft:
		return int(b.X), int(b.Y + b.Height)
	case BottomRight:
		return int(b.X + b.Width), int(b.Y + b.Height)
	case BottomCenter:
		fallthrough
	default:
		return int(b.X + b.Width/2), int(b.Y + b.Height)
	}
}

// Anchors returns the anchor point of every detection in the batch, in
// order. An empty batch returns a nil slice.
func (batch Batch) Anchors(a Anchor) [][2]int {
	if len(batch) == 0 {
		return nil
	}
	out := make([][2]int, len(batch))
	for i, d := range batch {
		x, y := d.BBox.Point(a)
		out[i] = [2]int{x, y}
	}
	return out
}
