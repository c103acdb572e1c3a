package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/pkg/uuidx"
	"github.com/nats-io/nats.go"
)

// NATSDialer connects to a NATS server. Topics are mapped to subjects by
// replacing "/" with "." and the MQTT wildcards "+" and "#" with "*" and
// ">".
//
// NATS has neither last wills nor retained messages: the will is ignored
// and retain flags are dropped, so subscribers only see availability
// changes published while they are connected.
type NATSDialer struct {
	URL  string
	Name string
}

func (d *NATSDialer) Dial(ctx context.Context, will Will) (Conn, error) {
	name := d.Name
	if name == "" {
		name = "mqtt4w"
	}
	conn := &natsConn{done: make(chan struct{})}
	nc, err := nats.Connect(d.URL,
		nats.Name(name),
		nats.NoReconnect(),
		nats.Compression(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = ErrConnectionLost
			} else {
				err = fmt.Errorf("%w: %w", ErrConnectionLost, err)
			}
			conn.fail(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) { conn.fail(nil) }),
	)
	if err != nil {
		return nil, connectionError("connect", err)
	}
	if err := ctx.Err(); err != nil {
		nc.Close()
		return nil, connectionError("connect", err)
	}
	if will.Topic != "" {
		slog.Debug("nats has no last will, ignoring it", slog.String("topic", will.Topic))
	}
	conn.client = nc
	return conn, nil
}

// Subject converts a topic or topic filter to a NATS subject.
func Subject(topic string) string {
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch level {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		}
	}
	return strings.Join(levels, ".")
}

func topicOf(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

type natsConn struct {
	client *nats.Conn

	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

func (c *natsConn) Publish(ctx context.Context, topic string, payload []byte, qos byte, _ bool) error {
	select {
	case <-c.done:
		return connectionError("publish", c.closedErr())
	default:
	}
	if err := c.client.Publish(Subject(topic), payload); err != nil {
		return connectionError("publish", err)
	}
	if qos > 0 {
		return connectionError("publish", c.client.FlushWithContext(ctx))
	}
	return nil
}

func (c *natsConn) Subscribe(_ context.Context, filter string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	nsub, err := c.client.Subscribe(Subject(filter), func(msg *nats.Msg) {
		handler(Message{Topic: topicOf(msg.Subject), Payload: msg.Data})
	})
	if err != nil {
		return nil, connectionError("subscribe", err)
	}
	return &natsSubscription{id: uuidx.New().String(), sub: nsub}, nil
}

func (c *natsConn) Done() <-chan struct{} {
	return c.done
}

func (c *natsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *natsConn) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (c *natsConn) Close() error {
	// mark the shutdown as clean before the disconnect callbacks run
	c.fail(nil)
	c.client.Close()
	return nil
}

func (c *natsConn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

type natsSubscription struct {
	id  string
	sub *nats.Subscription
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	if err := n.sub.Unsubscribe(); err != nil {
		slog.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
	}
}
