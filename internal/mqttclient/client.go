// Package mqttclient publishes orchestration summaries to an MQTT broker so
// other systems can follow provider fallback as it happens.
package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/ai-relay/internal/capability"
	"github.com/snarg/ai-relay/internal/metrics"
	"github.com/snarg/ai-relay/internal/orchestrator"
)

const publishTimeout = 5 * time.Second

// conn is the part of mqtt.Client the publisher uses.
type conn interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Client struct {
	conn      conn
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Log         zerolog.Logger
}

// Connect dials the broker and waits for the first connection. Later
// connection losses are retried in the background.
func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: topicPrefix(opts.TopicPrefix),
		log:    opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	c.conn = client

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("topic_prefix", c.prefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

type orchestrationEvent struct {
	RequestID  string               `json:"requestId"`
	Capability string               `json:"capability"`
	Provider   string               `json:"provider,omitempty"`
	Retried    bool                 `json:"retried"`
	Error      string               `json:"error,omitempty"`
	Attempts   []capability.Attempt `json:"attempts"`
	StartedAt  time.Time            `json:"startedAt"`
	DurationMs int64                `json:"durationMs"`
}

// Record publishes s to {prefix}/orchestrations/{capability} at QoS 0. It
// never blocks on the broker; events raised while disconnected are dropped.
func (c *Client) Record(s orchestrator.Summary) {
	if !c.connected.Load() {
		metrics.EventsDroppedTotal.Inc()
		return
	}
	payload, err := json.Marshal(orchestrationEvent{
		RequestID:  s.RequestID,
		Capability: string(s.Capability),
		Provider:   s.Provider,
		Retried:    s.Retried,
		Error:      s.Error,
		Attempts:   s.Attempts,
		StartedAt:  s.StartedAt.UTC(),
		DurationMs: s.Duration.Milliseconds(),
	})
	if err != nil {
		metrics.EventsDroppedTotal.Inc()
		c.log.Warn().Err(err).Str("request_id", s.RequestID).Msg("encode orchestration event")
		return
	}

	topic := c.prefix + "/orchestrations/" + string(s.Capability)
	token := c.conn.Publish(topic, 0, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			metrics.EventsDroppedTotal.Inc()
			c.log.Debug().Err(token.Error()).Str("topic", topic).Msg("mqtt publish failed")
		}
	}()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

func topicPrefix(raw string) string {
	p := strings.Trim(strings.TrimSpace(raw), "/")
	if p == "" {
		return "ai-relay"
	}
	return p
}
