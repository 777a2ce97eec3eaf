// Package control implements the MQTT control plane (C8): a long-lived bus
// session that subscribes to the command topic, dispatches through a
// command.Registry, and publishes retained status updates.
//
// Grounded on original_source/cupertino_control/plane.py: connection
// lifecycle and QoS policy (commands QoS 1 non-retained, status QoS 1
// retained) carry over unchanged; _on_message becomes handleMessage below.
package control

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cupertinolabs/streamproc/pkg/bus"
	"github.com/cupertinolabs/streamproc/pkg/command"
	"github.com/cupertinolabs/streamproc/pkg/schema"
	"github.com/rs/zerolog"
)

// BusClient is the subset of *bus.Client the control plane depends on.
type BusClient interface {
	Connect(timeout time.Duration) error
	Disconnect(quiesce time.Duration)
	IsConnected() bool
	Subscribe(topic string, qos bus.QoS, handler bus.MessageHandler) error
	Publish(topic string, qos bus.QoS, retain bool, payload []byte) bool
	OnConnect(fn func())
	OnDisconnect(fn func(err error))
}

// Plane is the control-plane session for one service instance.
type Plane struct {
	client       BusClient
	commandTopic string
	statusTopic  string
	clientID     string
	registry     *command.Registry
	logger       zerolog.Logger
	now          func() time.Time
}

// Topics builds the control-plane topic names for a service id, per
// spec.md §6.
func Topics(serviceID string) (commands, status string) {
	return "cupertino/control/" + serviceID + "/commands", "cupertino/control/" + serviceID + "/status"
}

// New builds a control plane bound to client, wiring command dispatch
// through registry. now defaults to time.Now; tests may override it for
// deterministic timestamps.
func New(client BusClient, serviceID string, registry *command.Registry, logger zerolog.Logger) *Plane {
	commandTopic, statusTopic := Topics(serviceID)
	p := &Plane{
		client:       client,
		commandTopic: commandTopic,
		statusTopic:  statusTopic,
		clientID:     serviceID,
		registry:     registry,
		logger:       logger.With().Str("component", "control_plane").Str("service_id", serviceID).Logger(),
		now:          time.Now,
	}

	client.OnConnect(p.handleConnect)
	client.OnDisconnect(p.handleDisconnect)
	return p
}

// Connect dials the broker and blocks until ready or timeout.
func (p *Plane) Connect(timeout time.Duration) error {
	return p.client.Connect(timeout)
}

// IsConnected reports whether the underlying bus connection is live.
func (p *Plane) IsConnected() bool {
	return p.client.IsConnected()
}

// Disconnect publishes "disconnected" and closes the session.
func (p *Plane) Disconnect() {
	p.PublishStatus("disconnected", nil)
	p.client.Disconnect(time.Second)
}

func (p *Plane) handleConnect() {
	if err := p.client.Subscribe(p.commandTopic, bus.QoSAtLeastOnce, p.handleMessage); err != nil {
		p.logger.Error().Err(err).Msg("failed to subscribe to command topic")
		return
	}
	p.PublishStatus("connected", nil)
}

func (p *Plane) handleDisconnect(err error) {
	p.logger.Warn().Err(err).Msg("control plane disconnected; awaiting bus reconnect")
}

// PublishStatus sends a retained status envelope to the status topic.
// Publish failures are logged, never returned — status is best-effort
// observability, not a protocol ack.
func (p *Plane) PublishStatus(status string, detail map[string]any) {
	env := schema.StatusEnvelope{
		Status:    status,
		Timestamp: p.now().UTC().Format(time.RFC3339),
		ClientID:  p.clientID,
		Detail:    detail,
	}

	data, err := env.Marshal()
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to serialize status envelope")
		return
	}

	if !p.client.Publish(p.statusTopic, bus.QoSAtLeastOnce, true, data) {
		p.logger.Warn().Str("status", status).Msg("status publish failed")
	}
}

// handleMessage decodes an inbound command payload and dispatches it
// through the command registry. Failures never propagate past this
// boundary (spec.md §7): they are logged and, where the spec calls for
// it, surfaced via the status topic, matching the Python source's
// _on_message try/except shape. A handler that succeeds is responsible
// for publishing its own outcome status (zone_added, model_changed, ...);
// the plane itself only ever publishes the failure statuses below.
func (p *Plane) handleMessage(_ string, payload []byte) {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		p.logger.Error().Err(err).Msg("malformed command payload, dropping")
		return
	}

	raw, _ := envelope["command"].(string)
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		p.logger.Warn().Msg("empty command received, dropping")
		return
	}

	p.logger.Info().Str("command", name).Msg("executing command")

	if err := p.registry.Execute(name, envelope); err != nil {
		if unknown, ok := err.(*command.ErrUnknownCommand); ok {
			p.logger.Warn().Str("command", name).Strs("available", unknown.Names).Msg("unknown command")
			p.PublishStatus("unknown_command", map[string]any{
				"command":            name,
				"available_commands": unknown.Names,
			})
			return
		}

		p.logger.Error().Err(err).Str("command", name).Msg("command handler failed")
		p.PublishStatus("command_failed", map[string]any{
			"command": name,
			"error":   err.Error(),
		})
		return
	}
}
