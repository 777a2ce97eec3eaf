package publish

import (
	"testing"

	"github.com/cupertinolabs/streamproc/pkg/bus"
	"github.com/cupertinolabs/streamproc/pkg/schema"
	"github.com/rs/zerolog"
)

type fakeBus struct {
	connected  bool
	publishOK  bool
	lastTopic  string
	lastQoS    bus.QoS
	lastRetain bool
	lastBody   []byte
	calls      int
}

func (f *fakeBus) Publish(topic string, qos bus.QoS, retain bool, payload []byte) bool {
	f.calls++
	f.lastTopic, f.lastQoS, f.lastRetain, f.lastBody = topic, qos, retain, payload
	return f.publishOK
}

func (f *fakeBus) IsConnected() bool { return f.connected }

func TestDetectionPublisherPublishesFireAndForget(t *testing.T) {
	fb := &fakeBus{connected: true, publishOK: true}
	p := NewDetectionPublisher(fb, "cupertino/data/detections/svc", zerolog.Nop())

	env := schema.DetectionEnvelope{
		SchemaVersion: schema.SchemaVersion,
		FrameID:       1,
		Detections: []schema.Detection{
			{Class: "person", Confidence: 0.5, BBox: schema.BBox{Width: 1, Height: 1}},
		},
	}

	if !p.Publish(env) {
		t.Fatalf("expected publish to succeed")
	}
	if fb.lastTopic != "cupertino/data/detections/svc" {
		t.Fatalf("unexpected topic: %s", fb.lastTopic)
	}
	if fb.lastQoS != bus.QoSFireAndForget || fb.lastRetain {
		t.Fatalf("expected fire-and-forget non-retained publish, got qos=%v retain=%v", fb.lastQoS, fb.lastRetain)
	}
}

func TestDetectionPublisherRejectsInvalidEnvelope(t *testing.T) {
	fb := &fakeBus{connected: true, publishOK: true}
	p := NewDetectionPublisher(fb, "topic", zerolog.Nop())

	env := schema.DetectionEnvelope{Detections: []schema.Detection{{Confidence: 2}}}
	if p.Publish(env) {
		t.Fatalf("expected publish to fail for invalid envelope")
	}
	if fb.calls != 0 {
		t.Fatalf("expected bus.Publish to never be called for an invalid envelope")
	}
}

func TestDetectionPublisherReturnsFalseWhenBusRejects(t *testing.T) {
	fb := &fakeBus{connected: true, publishOK: false}
	p := NewDetectionPublisher(fb, "topic", zerolog.Nop())

	env := schema.DetectionEnvelope{Detections: []schema.Detection{{Confidence: 0.9, BBox: schema.BBox{Width: 1, Height: 1}}}}
	if p.Publish(env) {
		t.Fatalf("expected publish to fail when bus rejects")
	}
}

func TestZoneEventPublisherPublishesPolygon(t *testing.T) {
	fb := &fakeBus{connected: true, publishOK: true}
	p := NewZoneEventPublisher(fb, "cupertino/data/zones/svc", zerolog.Nop())

	count := 2
	env := schema.ZoneEventEnvelope{
		SchemaVersion: schema.SchemaVersion,
		Zones: []schema.ZoneEvent{
			{ZoneID: "z1", ZoneType: schema.ZoneTypePolygon, EventType: schema.EventTypeInside, Stats: schema.ZoneStatsPayload{CurrentCount: &count}},
		},
	}

	if !p.Publish(env) {
		t.Fatalf("expected publish to succeed")
	}
}

func TestTopicsNamesMatchSpec(t *testing.T) {
	det, zone := Topics("svc-1")
	if det != "cupertino/data/detections/svc-1" {
		t.Fatalf("unexpected detections topic: %s", det)
	}
	if zone != "cupertino/data/zones/svc-1" {
		t.Fatalf("unexpected zones topic: %s", zone)
	}
}

func TestIsConnectedDelegatesToClient(t *testing.T) {
	fb := &fakeBus{connected: false}
	p := NewDetectionPublisher(fb, "topic", zerolog.Nop())
	if p.IsConnected() {
		t.Fatalf("expected disconnected")
	}
	fb.connected = true
	if !p.IsConnected() {
		t.Fatalf("expected connected")
	}
}
