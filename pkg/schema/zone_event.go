package schema

import (
	"encoding/json"
	"fmt"
)

// ZoneType names the kind of zone a ZoneEvent reports on.
type ZoneType string

const (
	ZoneTypePolygon ZoneType = "polygon"
	ZoneTypeLine    ZoneType = "line"
)

// EventType names the kind of zone activity reported.
type EventType string

const (
	EventTypeInside   EventType = "inside"
	EventTypeCrossing EventType = "crossing"
)

// CrossingDirection names the direction of a line-zone crossing.
type CrossingDirection string

const (
	CrossingIn  CrossingDirection = "in"
	CrossingOut CrossingDirection = "out"
)

// ZoneStatsPayload is the wire shape of a zone's statistics. Polygon zones
// populate CurrentCount and leave TotalIn/TotalOut nil; line zones do the
// reverse.
type ZoneStatsPayload struct {
	TotalIn      *int `json:"total_in"`
	TotalOut     *int `json:"total_out"`
	CurrentCount *int `json:"current_count"`
}

// ZoneEvent is one zone's state within a ZoneEventEnvelope.
type ZoneEvent struct {
	ZoneID            string            `json:"zone_id"`
	ZoneType          ZoneType          `json:"zone_type"`
	EventType         EventType         `json:"event_type"`
	Stats             ZoneStatsPayload  `json:"stats"`
	TriggeredBy       []int             `json:"triggered_by"`
	CrossingDirection CrossingDirection `json:"crossing_direction,omitempty"`
}

// Validate checks ZoneEvent invariants: line zones must carry a
// crossing_direction and null current_count; polygon zones must carry a
// non-null current_count and null total_in/total_out.
func (e ZoneEvent) Validate() error {
	switch e.ZoneType {
	case ZoneTypeLine:
		if e.CrossingDirection == "" {
			return fmt.Errorf("schema: line zone %q must set crossing_direction", e.ZoneID)
		}
		if e.Stats.CurrentCount != nil {
			return fmt.Errorf("schema: line zone %q must have a null current_count", e.ZoneID)
		}
		if e.Stats.TotalIn == nil || e.Stats.TotalOut == nil {
			return fmt.Errorf("schema: line zone %q must have non-null total_in/total_out", e.ZoneID)
		}
	case ZoneTypePolygon:
		if e.CrossingDirection != "" {
			return fmt.Errorf("schema: polygon zone %q must not set crossing_direction", e.ZoneID)
		}
		if e.Stats.CurrentCount == nil {
			return fmt.Errorf("schema: polygon zone %q must have a non-null current_count", e.ZoneID)
		}
		if e.Stats.TotalIn != nil || e.Stats.TotalOut != nil {
			return fmt.Errorf("schema: polygon zone %q must have null total_in/total_out", e.ZoneID)
		}
	default:
		return fmt.Errorf("schema: unknown zone_type %q", e.ZoneType)
	}
	return nil
}

// ZoneEventEnvelope is the typed, versioned zone-plane message published
// to cupertino/data/zones/<service_id>.
type ZoneEventEnvelope struct {
	SchemaVersion string      `json:"schema_version"`
	Timestamp     string      `json:"timestamp"`
	FrameID       int64       `json:"frame_id"`
	SourceID      int         `json:"source_id"`
	Zones         []ZoneEvent `json:"zones"`
}

// Validate checks envelope invariants and every contained ZoneEvent.
func (e ZoneEventEnvelope) Validate() error {
	if e.FrameID < 0 {
		return fmt.Errorf("schema: frame_id must be >= 0, got %d", e.FrameID)
	}
	if e.SourceID < 0 {
		return fmt.Errorf("schema: source_id must be >= 0, got %d", e.SourceID)
	}
	for i, z := range e.Zones {
		if err := z.Validate(); err != nil {
			return fmt.Errorf("schema: zones[%d]: %w", i, err)
		}
	}
	return nil
}

// Marshal serializes the envelope to JSON after validating it.
func (e ZoneEventEnvelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalZoneEventEnvelope parses and validates a zone-event envelope.
func UnmarshalZoneEventEnvelope(data []byte) (ZoneEventEnvelope, error) {
	var e ZoneEventEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return ZoneEventEnvelope{}, fmt.Errorf("schema: decoding zone-event envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return ZoneEventEnvelope{}, err
	}
	return e, nil
}
