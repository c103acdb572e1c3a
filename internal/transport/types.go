package transport

import (
	"context"
)

// Will is the message the broker publishes on our behalf when the
// connection drops without a clean disconnect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Message is an incoming message.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Handler receives messages matching a subscription.
type Handler func(Message)

// Dialer opens broker connections. The will is registered before the
// connection is established.
type Dialer interface {
	Dial(ctx context.Context, will Will) (Conn, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, will Will) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, will Will) (Conn, error) {
	return f(ctx, will)
}

// Conn is one broker connection. A Conn never reconnects by itself: once
// Done is closed it is unusable and Err reports why.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	Subscribe(ctx context.Context, filter string, handler Handler) (Subscription, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Subscription interface {
	ID() string
	Unsubscribe()
}
