// Package bus wraps the paho MQTT client with the connection-state and
// publish/subscribe conveniences shared by the control plane (C8) and the
// data-plane publishers (C10).
//
// Grounded on original_source/cupertino_mqtt/publishers/base.py (connection
// lifecycle, Event-like connected flag) and original_source/cupertino_control/
// plane.py (QoS policy, reconnect/resubscribe).
package bus

import (
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// QoS mirrors the MQTT quality-of-service levels used across this codebase.
type QoS byte

const (
	QoSFireAndForget QoS = 0
	QoSAtLeastOnce   QoS = 1
)

// MessageHandler processes an inbound message on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Client is a connection-managed MQTT client. It tracks connection state
// with an atomic flag (the Go equivalent of the Python source's
// threading.Event) and re-subscribes every topic on reconnect, matching the
// "bus auto-reconnect is expected and the plane re-subscribes" requirement.
type Client struct {
	client mqtt.Client
	logger zerolog.Logger

	connected atomic.Bool
	subs      map[string]subscription

	onConnect    func()
	onDisconnect func(err error)
}

type subscription struct {
	qos     QoS
	handler MessageHandler
}

// Config bundles the broker connection parameters.
type Config struct {
	BrokerHost string
	BrokerPort int
	ClientID   string
	Username   string
	Password   string
	// KeepAlive is the MQTT keep-alive interval. Zero selects the paho
	// default.
	KeepAlive time.Duration
}

// New constructs a Client without connecting. OnConnect/OnDisconnect hooks,
// if set, run synchronously on the paho network goroutine and must be fast.
func New(cfg Config, logger zerolog.Logger) *Client {
	c := &Client{
		logger: logger.With().Str("component", "bus").Str("client_id", cfg.ClientID).Logger(),
		subs:   make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.BrokerHost, cfg.BrokerPort))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(_ mqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = mqtt.NewClient(opts)
	return c
}

// OnConnect registers a callback fired every time the client (re)connects,
// after resubscription has completed.
func (c *Client) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect registers a callback fired when the connection drops.
func (c *Client) OnDisconnect(fn func(err error)) { c.onDisconnect = fn }

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.logger.Info().Msg("connected to broker")

	for topic, sub := range c.subs {
		c.subscribeNow(topic, sub)
	}

	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	c.logger.Warn().Err(err).Msg("disconnected from broker")
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// Connect dials the broker and blocks until the connection completes or
// timeout elapses, mirroring BasePublisher.connect()'s bounded wait.
func (c *Client) Connect(timeout time.Duration) error {
	token := c.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("bus: connect timeout after %s", timeout)
	}
	return token.Error()
}

// Disconnect gracefully closes the connection, waiting up to quiesce for
// in-flight work to drain.
func (c *Client) Disconnect(quiesce time.Duration) {
	c.client.Disconnect(uint(quiesce.Milliseconds()))
	c.connected.Store(false)
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Subscribe registers a handler for topic at the given QoS. The
// subscription survives reconnects; Subscribe itself also (re)subscribes
// immediately if already connected.
func (c *Client) Subscribe(topic string, qos QoS, handler MessageHandler) error {
	sub := subscription{qos: qos, handler: handler}
	c.subs[topic] = sub
	if c.connected.Load() {
		return c.subscribeNow(topic, sub)
	}
	return nil
}

func (c *Client) subscribeNow(topic string, sub subscription) error {
	token := c.client.Subscribe(topic, byte(sub.qos), func(_ mqtt.Client, msg mqtt.Message) {
		sub.handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error().Err(err).Str("topic", topic).Msg("subscribe failed")
		return err
	}
	c.logger.Info().Str("topic", topic).Msg("subscribed")
	return nil
}

// Publish sends payload to topic. Returns false (never an error — callers
// treat publish failure as a boolean per spec) when not connected or when
// the broker rejects the publish.
func (c *Client) Publish(topic string, qos QoS, retain bool, payload []byte) bool {
	if !c.connected.Load() {
		c.logger.Warn().Str("topic", topic).Msg("publish skipped: not connected")
		return false
	}

	token := c.client.Publish(topic, byte(qos), retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error().Err(err).Str("topic", topic).Msg("publish failed")
		return false
	}
	return true
}
