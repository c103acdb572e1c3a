package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/pkg/uuidx"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const disconnectQuiesce = 250 // milliseconds

// MQTTDialer connects to an MQTT broker with the paho client. Automatic
// reconnection is disabled: the supervisor owns the reconnect policy.
type MQTTDialer struct {
	// BrokerURL is tcp://host:port, mqtt://host:port or mqtts://host:port.
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TLSSkipVerify  bool
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// Dial connects to the broker with will registered as last will. It
// returns once the connection is established or failed.
func (d *MQTTDialer) Dial(ctx context.Context, will Will) (Conn, error) {
	brokerURL, err := url.Parse(d.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL %q: %w", d.BrokerURL, err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.BrokerURL)
	clientID := d.ClientID
	if clientID == "" {
		clientID = uuidx.ClientID("mqtt4w")
	}
	opts.SetClientID(clientID)
	if d.Username != "" {
		opts.SetUsername(d.Username)
		opts.SetPassword(d.Password)
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" || brokerURL.Scheme == "tls" {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: d.TLSSkipVerify}) //nolint:gosec
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	if d.ConnectTimeout > 0 {
		opts.SetConnectTimeout(d.ConnectTimeout)
	}
	if d.KeepAlive > 0 {
		opts.SetKeepAlive(d.KeepAlive)
	}
	if will.Topic != "" {
		opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retain)
	}

	conn := &mqttConn{done: make(chan struct{})}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		conn.fail(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	})

	conn.client = mqtt.NewClient(opts)
	if err := wait(ctx, conn.client.Connect()); err != nil {
		conn.client.Disconnect(0)
		return nil, connectionError("connect", err)
	}
	slog.Info("connected to broker", slog.String("broker", d.BrokerURL), slog.String("client_id", clientID))
	return conn, nil
}

type mqttConn struct {
	client mqtt.Client

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func (c *mqttConn) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	select {
	case <-c.done:
		return connectionError("publish", c.closedErr())
	default:
	}
	return connectionError("publish", wait(ctx, c.client.Publish(topic, qos, retain, payload)))
}

func (c *mqttConn) Subscribe(ctx context.Context, filter string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	tok := c.client.Subscribe(filter, 1, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload(), Retained: m.Retained()})
	})
	if err := wait(ctx, tok); err != nil {
		return nil, connectionError("subscribe", err)
	}
	return &mqttSubscription{id: uuidx.New().String(), filter: filter, client: c.client}, nil
}

func (c *mqttConn) Done() <-chan struct{} {
	return c.done
}

func (c *mqttConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *mqttConn) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (c *mqttConn) Close() error {
	c.once.Do(func() {
		c.client.Disconnect(disconnectQuiesce)
		close(c.done)
	})
	return nil
}

func (c *mqttConn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

type mqttSubscription struct {
	id     string
	filter string
	client mqtt.Client
}

func (s *mqttSubscription) ID() string {
	return s.id
}

func (s *mqttSubscription) Unsubscribe() {
	tok := s.client.Unsubscribe(s.filter)
	if !tok.WaitTimeout(time.Second) {
		slog.Warn("unsubscribe timed out", slog.String("filter", s.filter))
		return
	}
	if err := tok.Error(); err != nil {
		slog.Warn("failed to unsubscribe", slogx.Error(err), slog.String("filter", s.filter))
	}
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pahoLogger routes the paho client logs to slog.
type pahoLogger struct {
	level slog.Level
}

func (l pahoLogger) Println(v ...any) {
	slog.Log(context.Background(), l.level, fmt.Sprint(v...), slogx.LoggerName("paho"))
}

func (l pahoLogger) Printf(format string, v ...any) {
	slog.Log(context.Background(), l.level, fmt.Sprintf(format, v...), slogx.LoggerName("paho"))
}

func init() {
	mqtt.ERROR = pahoLogger{level: slog.LevelError}
	mqtt.CRITICAL = pahoLogger{level: slog.LevelError}
	mqtt.WARN = pahoLogger{level: slog.LevelWarn}
}
