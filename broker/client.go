// Package broker wraps an MQTT broker connection behind the narrow
// contract the gateway's core consumes: connect, disconnect, publish,
// subscribe, and a single inbound listener callback.
package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgelink/gateway/errors"
	"github.com/edgelink/gateway/metric"
)

// Status is the connection state of a Client.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ReconnectDelay is the fixed delay between reconnection attempts.
const ReconnectDelay = 2000 * time.Millisecond

// Listener is invoked once per inbound message, on a single goroutine per
// Client, in the order the broker delivered them.
type Listener func(topic string, payload []byte)

// Client manages one MQTT broker connection. Reconnection is delegated to
// the underlying paho client's connect-retry loop (2s fixed delay, matching
// ReconnectDelay) rather than being re-triggered through the command
// buffer, so a stalled broker never starves other queued work.
type Client struct {
	side   string
	url    string
	logger *slog.Logger
	mqtt   mqtt.Client

	status atomic.Value // Status

	listener     atomic.Value // Listener
	onConnect    func()
	onDisconnect func(error)

	metrics *metric.Metrics

	tlsConfig    *tls.Config
	username     string
	password     string
	clientID     string
	keepAlive    time.Duration
	willTopic    string
	willPayload  []byte
	willQoS      byte
	willRetained bool
	hasWill      bool
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithTLS enables TLS using the given configuration (nil disables TLS).
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = cfg }
}

// WithCredentials sets the username/password used at connect time.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithClientID sets the MQTT client identifier.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// WithKeepAlive sets the MQTT keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(c *Client) { c.keepAlive = d }
}

// WithLastWill registers a last-will message published by the broker if
// this client disconnects uncleanly.
func WithLastWill(topic string, payload []byte, qos byte, retained bool) Option {
	return func(c *Client) {
		c.willTopic = topic
		c.willPayload = payload
		c.willQoS = qos
		c.willRetained = retained
		c.hasWill = true
	}
}

// WithLogger sets the structured logger used for connection lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records connection status to the given registry, labeled
// by side ("platform" or "device").
func WithMetrics(metrics *metric.Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

// WithOnConnect registers a callback invoked after every successful
// (re)connect, including the first.
func WithOnConnect(fn func()) Option {
	return func(c *Client) { c.onConnect = fn }
}

// WithOnDisconnect registers a callback invoked when the connection drops.
func WithOnDisconnect(fn func(error)) Option {
	return func(c *Client) { c.onDisconnect = fn }
}

// NewClient creates a Client for the given MQTT broker URL
// (e.g. "tcp://localhost:1883" or "ssl://platform.example.com:8883").
// side identifies this client in logs and metrics ("platform" or "device").
func NewClient(side, url string, opts ...Option) *Client {
	c := &Client{
		side:      side,
		url:       url,
		logger:    slog.Default(),
		keepAlive: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status.Store(StatusDisconnected)
	c.listener.Store(Listener(nil))
	return c
}

// Side returns the side label ("platform" or "device") this client serves.
func (c *Client) Side() string {
	return c.side
}

// SetListener installs the single inbound message callback. Messages are
// delivered to it in order, on one goroutine.
func (c *Client) SetListener(fn Listener) {
	c.listener.Store(fn)
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	return c.status.Load().(Status)
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// Connect dials the broker. With connect-retry enabled the underlying
// client keeps retrying in the background at ReconnectDelay and its
// connect token completes only once a connection is up, so Connect
// returns on success or when ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.url).
		SetKeepAlive(c.keepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(ReconnectDelay).
		SetMaxReconnectInterval(ReconnectDelay).
		SetOrderMatters(true).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect).
		SetDefaultPublishHandler(c.handleMessage)

	if c.clientID != "" {
		opts.SetClientID(c.clientID)
	}
	if c.username != "" {
		opts.SetUsername(c.username)
		opts.SetPassword(c.password)
	}
	if c.tlsConfig != nil {
		opts.SetTLSConfig(c.tlsConfig)
	}
	if c.hasWill {
		opts.SetWill(c.willTopic, string(c.willPayload), c.willQoS, c.willRetained)
	}

	c.status.Store(StatusConnecting)
	c.mqtt = mqtt.NewClient(opts)

	token := c.mqtt.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		c.status.Store(StatusReconnecting)
		c.recordStatus(false)
		return errors.WrapTransient(err, "broker.Client", "Connect", fmt.Sprintf("%s broker connect", c.side))
	}
	return nil
}

// Disconnect closes the connection, waiting up to quiesce for in-flight
// work to drain.
func (c *Client) Disconnect(quiesce uint) {
	if c.mqtt != nil {
		c.mqtt.Disconnect(quiesce)
	}
	c.status.Store(StatusDisconnected)
	c.recordStatus(false)
}

// Publish sends payload to topic at the given QoS. It blocks until the
// publish token completes, with no timeout of its own.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if c.mqtt == nil || !c.mqtt.IsConnectionOpen() {
		return errors.WrapTransient(errors.ErrNoConnection, "broker.Client", "Publish", fmt.Sprintf("%s broker publish to %s", c.side, topic))
	}
	token := c.mqtt.Publish(topic, qos, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "broker.Client", "Publish", fmt.Sprintf("%s broker publish to %s", c.side, topic))
	}
	return nil
}

// Subscribe registers interest in topic (which may use MQTT wildcards).
// Delivery goes to the listener installed via SetListener, not to a
// per-subscription callback - the inbound handler owns topic matching.
func (c *Client) Subscribe(topic string, qos byte) error {
	if c.mqtt == nil {
		return errors.WrapFatal(errors.ErrNoConnection, "broker.Client", "Subscribe", fmt.Sprintf("%s broker not constructed", c.side))
	}
	token := c.mqtt.Subscribe(topic, qos, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "broker.Client", "Subscribe", fmt.Sprintf("%s broker subscribe to %s", c.side, topic))
	}
	return nil
}

func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	if fn, _ := c.listener.Load().(Listener); fn != nil {
		fn(msg.Topic(), msg.Payload())
	}
}

func (c *Client) handleConnect(_ mqtt.Client) {
	c.status.Store(StatusConnected)
	c.recordStatus(true)
	c.logger.Info("broker connected", "side", c.side, "url", c.url)
	if c.onConnect != nil {
		c.onConnect()
	}
}

func (c *Client) handleConnectionLost(_ mqtt.Client, err error) {
	c.status.Store(StatusReconnecting)
	c.recordStatus(false)
	c.logger.Warn("broker connection lost", "side", c.side, "error", err)
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

func (c *Client) recordStatus(connected bool) {
	if c.metrics != nil {
		c.metrics.RecordBrokerStatus(c.side, connected)
	}
}
