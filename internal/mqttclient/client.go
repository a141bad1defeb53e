package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/segscribe/internal/pipeline"
)

const publishTimeout = 5 * time.Second

// Client publishes job progress events to an MQTT broker. It implements
// pipeline.Publisher. Publishing is fire-and-forget: a slow or disconnected
// broker never holds up a transcription job.
type Client struct {
	conn      mqtt.Client
	prefix    string
	connected atomic.Bool
	log       zerolog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix: normalizePrefix(opts.TopicPrefix),
		log:    opts.Log.With().Str("component", "mqtt").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetWill(c.statusTopic(), "offline", 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.prefix).Msg("mqtt connected")
	client.Publish(c.statusTopic(), 1, true, "online")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Publish sends e as JSON to <prefix>/jobs/<job_id>/<type>.
func (c *Client) Publish(e pipeline.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		c.failed.Add(1)
		c.log.Error().Err(err).Str("type", string(e.Type)).Msg("failed to encode job event")
		return
	}
	topic := EventTopic(c.prefix, e)
	token := c.conn.Publish(topic, 0, false, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			c.failed.Add(1)
			c.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			c.failed.Add(1)
			c.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
			return
		}
		c.published.Add(1)
	}()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Stats returns publish totals since connect.
func (c *Client) Stats() (published, failed int64) {
	return c.published.Load(), c.failed.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	if c.connected.Load() {
		c.conn.Publish(c.statusTopic(), 1, true, "offline").WaitTimeout(time.Second)
	}
	c.conn.Disconnect(1000)
}

func (c *Client) statusTopic() string {
	return c.prefix + "/status"
}

// EventTopic returns the topic an event is published on.
func EventTopic(prefix string, e pipeline.Event) string {
	return normalizePrefix(prefix) + "/jobs/" + e.JobID + "/" + string(e.Type)
}

func normalizePrefix(raw string) string {
	p := strings.Trim(strings.TrimSpace(raw), "/")
	if p == "" {
		return "segscribe"
	}
	return p
}
