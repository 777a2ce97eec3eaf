// Package schema defines the wire envelopes published to the bus (C11):
// the detection envelope, the zone-event envelope, and the control-plane
// status envelope. Shapes follow spec.md §6 exactly.
//
// Grounded on original_source/cupertino_mqtt/schemas/{common,detection,zone_event}.py.
package schema

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the wire schema version stamped on every data-plane
// envelope.
const SchemaVersion = "1.0"

// BBox is a detection bounding box in absolute pixels.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate checks BBox invariants (width/height strictly positive).
func (b BBox) Validate() error {
	if b.Width <= 0 {
		return fmt.Errorf("schema: bbox width must be > 0, got %v", b.Width)
	}
	if b.Height <= 0 {
		return fmt.Errorf("schema: bbox height must be > 0, got %v", b.Height)
	}
	return nil
}

// Detection is a single detection entry within a DetectionEnvelope.
type Detection struct {
	TrackerID  int     `json:"tracker_id"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// Validate checks Detection invariants: confidence in [0,1], tracker id >= 0.
func (d Detection) Validate() error {
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("schema: confidence must be in [0,1], got %v", d.Confidence)
	}
	if d.TrackerID < 0 {
		return fmt.Errorf("schema: tracker_id must be >= 0, got %d", d.TrackerID)
	}
	return d.BBox.Validate()
}

// DetectionEnvelope is the typed, versioned detection-plane message
// published to cupertino/data/detections/<service_id>.
type DetectionEnvelope struct {
	SchemaVersion string      `json:"schema_version"`
	Timestamp     string      `json:"timestamp"`
	FrameID       int64       `json:"frame_id"`
	SourceID      int         `json:"source_id"`
	Detections    []Detection `json:"detections"`
}

// Validate checks envelope invariants and every contained Detection.
func (e DetectionEnvelope) Validate() error {
	if e.FrameID < 0 {
		return fmt.Errorf("schema: frame_id must be >= 0, got %d", e.FrameID)
	}
	if e.SourceID < 0 {
		return fmt.Errorf("schema: source_id must be >= 0, got %d", e.SourceID)
	}
	for i, d := range e.Detections {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("schema: detection[%d]: %w", i, err)
		}
	}
	return nil
}

// Marshal serializes the envelope to JSON after validating it.
func (e DetectionEnvelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalDetectionEnvelope parses and validates a detection envelope.
func UnmarshalDetectionEnvelope(data []byte) (DetectionEnvelope, error) {
	var e DetectionEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return DetectionEnvelope{}, fmt.Errorf("schema: decoding detection envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return DetectionEnvelope{}, err
	}
	return e, nil
}
