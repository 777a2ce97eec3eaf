// Package publish implements the data-plane publishers (C10): typed
// envelope publishers for detections and zone events, each publishing
// fire-and-forget over a bus client supplied by the caller (the service
// hands both the same shared connection).
//
// Grounded on original_source/cupertino_mqtt/publishers/{base,detection,
// zone_event}.py: BasePublisher's connection-state tracking becomes the
// shared bus.Client; format_message+publish becomes Marshal+Publish here.
package publish

import (
	"github.com/cupertinolabs/streamproc/pkg/bus"
	"github.com/cupertinolabs/streamproc/pkg/schema"
	"github.com/rs/zerolog"
)

// BusClient is the subset of *bus.Client a publisher needs. Defining it as
// an interface lets tests substitute a fake instead of dialing a broker.
type BusClient interface {
	Publish(topic string, qos bus.QoS, retain bool, payload []byte) bool
	IsConnected() bool
}

// DetectionPublisher publishes DetectionEnvelopes to the detection-data
// topic. Per spec.md §6 the data plane is fire-and-forget (QoS 0),
// non-retained.
type DetectionPublisher struct {
	client BusClient
	topic  string
	logger zerolog.Logger
}

// NewDetectionPublisher builds a publisher bound to topic over client.
func NewDetectionPublisher(client BusClient, topic string, logger zerolog.Logger) *DetectionPublisher {
	return &DetectionPublisher{
		client: client,
		topic:  topic,
		logger: logger.With().Str("component", "detection_publisher").Logger(),
	}
}

// Publish serializes and sends env. Returns false on validation failure,
// disconnection, or broker rejection; the caller does not retry, per
// spec.md §5 ("the next frame supersedes").
func (p *DetectionPublisher) Publish(env schema.DetectionEnvelope) bool {
	data, err := env.Marshal()
	if err != nil {
		p.logger.Error().Err(err).Int64("frame_id", env.FrameID).Msg("failed to serialize detection envelope")
		return false
	}

	ok := p.client.Publish(p.topic, bus.QoSFireAndForget, false, data)
	if ok {
		p.logger.Debug().Int64("frame_id", env.FrameID).Int("count", len(env.Detections)).Msg("published detections")
	}
	return ok
}

// IsConnected reports whether the underlying bus connection is live.
func (p *DetectionPublisher) IsConnected() bool { return p.client.IsConnected() }

// ZoneEventPublisher publishes ZoneEventEnvelopes to the zone-event topic.
type ZoneEventPublisher struct {
	client BusClient
	topic  string
	logger zerolog.Logger
}

// NewZoneEventPublisher builds a publisher bound to topic over client.
func NewZoneEventPublisher(client BusClient, topic string, logger zerolog.Logger) *ZoneEventPublisher {
	return &ZoneEventPublisher{
		client: client,
		topic:  topic,
		logger: logger.With().Str("component", "zone_event_publisher").Logger(),
	}
}

// Publish serializes and sends env.
func (p *ZoneEventPublisher) Publish(env schema.ZoneEventEnvelope) bool {
	data, err := env.Marshal()
	if err != nil {
		p.logger.Error().Err(err).Int64("frame_id", env.FrameID).Msg("failed to serialize zone-event envelope")
		return false
	}

	ok := p.client.Publish(p.topic, bus.QoSFireAndForget, false, data)
	if ok {
		p.logger.Debug().Int64("frame_id", env.FrameID).Int("zones", len(env.Zones)).Msg("published zone events")
	}
	return ok
}

// IsConnected reports whether the underlying bus connection is live.
func (p *ZoneEventPublisher) IsConnected() bool { return p.client.IsConnected() }

// Topics builds the data-plane topic names for a service id, per
// spec.md §6.
func Topics(serviceID string) (detections, zones string) {
	return "cupertino/data/detections/" + serviceID, "cupertino/data/zones/" + serviceID
}
