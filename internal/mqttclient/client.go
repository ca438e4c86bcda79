// Package mqttclient connects to the broker that feeds transcription jobs
// and recording commands, and carries job events back out.
package mqttclient

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("mqtt not connected")

const (
	qos            = 1
	connectTimeout = 15 * time.Second
	publishTimeout = 5 * time.Second
	defaultTopic   = "scribe/jobs"
)

// MessageHandler receives messages on the subscribed topics. It runs on the
// client's delivery goroutine.
type MessageHandler func(topic string, payload []byte)

type Options struct {
	BrokerURL string
	ClientID  string
	Topics    string // comma-separated subscription filters
	Username  string
	Password  string

	// StatusTopic, when set, carries a retained "online" while connected
	// and "offline" as the last will.
	StatusTopic string

	Handler MessageHandler
	Log     zerolog.Logger
}

type Client struct {
	conn        mqtt.Client
	filters     map[string]byte
	statusTopic string
	handler     MessageHandler
	connected   atomic.Bool
	log         zerolog.Logger
}

// Connect dials the broker and subscribes. Subscriptions are renewed on
// every reconnect.
func Connect(opts Options) (*Client, error) {
	c := &Client{
		filters:     make(map[string]byte),
		statusTopic: opts.StatusTopic,
		handler:     opts.Handler,
		log:         opts.Log.With().Str("component", "mqtt").Logger(),
	}
	for _, t := range splitTopics(opts.Topics) {
		c.filters[t] = qos
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.connected.Store(false)
			c.log.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
		})
	if c.statusTopic != "" {
		co.SetWill(c.statusTopic, "offline", qos, true)
	}

	c.conn = mqtt.NewClient(co)
	tok := c.conn.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", opts.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", opts.BrokerURL, err)
	}
	return c, nil
}

func (c *Client) onConnect(conn mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Interface("topics", c.filters).Msg("mqtt connected")

	if tok := conn.SubscribeMultiple(c.filters, c.deliver); tok.Wait() && tok.Error() != nil {
		c.log.Error().Err(tok.Error()).Msg("mqtt subscribe failed")
	}
	if c.statusTopic != "" {
		conn.Publish(c.statusTopic, qos, true, "online")
	}
}

func (c *Client) deliver(_ mqtt.Client, msg mqtt.Message) {
	if c.handler == nil {
		c.log.Debug().Str("topic", msg.Topic()).Msg("mqtt message ignored, no handler")
		return
	}
	c.handler(msg.Topic(), msg.Payload())
}

// Publish sends payload at QoS 1 and waits for the broker's acknowledgement.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	tok := c.conn.Publish(topic, qos, false, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return tok.Error()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close marks the engine offline and disconnects, allowing a second for
// in-flight publishes.
func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	if c.statusTopic != "" && c.IsConnected() {
		c.conn.Publish(c.statusTopic, qos, true, "offline").WaitTimeout(time.Second)
	}
	c.connected.Store(false)
	c.conn.Disconnect(1000)
}

// splitTopics parses the comma-separated filter list, falling back to the
// job topic.
func splitTopics(raw string) []string {
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return []string{defaultTopic}
	}
	return topics
}
