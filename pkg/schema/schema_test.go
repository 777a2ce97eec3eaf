package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectionEnvelopeRoundTrip(t *testing.T) {
	env := DetectionEnvelope{
		SchemaVersion: SchemaVersion,
		Timestamp:     "2026-07-30T00:00:00Z",
		FrameID:       42,
		SourceID:      0,
		Detections: []Detection{
			{TrackerID: 7, Class: "person", Confidence: 0.91, BBox: BBox{X: 1, Y: 2, Width: 3, Height: 4}},
		},
	}

	data, err := env.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalDetectionEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestDetectionEnvelopeRejectsBadConfidence(t *testing.T) {
	env := DetectionEnvelope{
		SchemaVersion: SchemaVersion,
		Detections:    []Detection{{Confidence: 1.5, BBox: BBox{Width: 1, Height: 1}}},
	}
	_, err := env.Marshal()
	require.Error(t, err)
}

func TestZoneEventEnvelopePolygonRoundTrip(t *testing.T) {
	count := 3
	env := ZoneEventEnvelope{
		SchemaVersion: SchemaVersion,
		Timestamp:     "2026-07-30T00:00:00Z",
		FrameID:       1,
		SourceID:      0,
		Zones: []ZoneEvent{
			{
				ZoneID:      "entrance",
				ZoneType:    ZoneTypePolygon,
				EventType:   EventTypeInside,
				Stats:       ZoneStatsPayload{CurrentCount: &count},
				TriggeredBy: []int{1, 2, 3},
			},
		},
	}

	data, err := env.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalZoneEventEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestZoneEventEnvelopeLineRoundTrip(t *testing.T) {
	in, out := 10, 8
	env := ZoneEventEnvelope{
		SchemaVersion: SchemaVersion,
		FrameID:       2,
		Zones: []ZoneEvent{
			{
				ZoneID:            "doorway",
				ZoneType:          ZoneTypeLine,
				EventType:         EventTypeCrossing,
				Stats:             ZoneStatsPayload{TotalIn: &in, TotalOut: &out},
				TriggeredBy:       []int{5},
				CrossingDirection: CrossingIn,
			},
		},
	}

	data, err := env.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalZoneEventEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestZoneEventRejectsLineWithoutDirection(t *testing.T) {
	in, out := 1, 1
	ev := ZoneEvent{ZoneID: "z", ZoneType: ZoneTypeLine, Stats: ZoneStatsPayload{TotalIn: &in, TotalOut: &out}}
	require.Error(t, ev.Validate())
}

func TestZoneEventRejectsPolygonWithDirection(t *testing.T) {
	count := 1
	ev := ZoneEvent{ZoneID: "z", ZoneType: ZoneTypePolygon, Stats: ZoneStatsPayload{CurrentCount: &count}, CrossingDirection: CrossingIn}
	require.Error(t, ev.Validate())
}

func TestStatusEnvelopeMarshal(t *testing.T) {
	env := StatusEnvelope{Status: "connected", Timestamp: "2026-07-30T00:00:00Z", ClientID: "svc-1"}
	data, err := env.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(data), `"status":"connected"`)
}
