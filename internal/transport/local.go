package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/mqtt4w/pkg/uuidx"
)

const defaultSlowSubscriberTimeout = 100 * time.Millisecond

// Local is an in-memory broker with retained messages, wildcard
// subscriptions and last wills. It backs dry runs and tests, and lets tests
// inject failures.
type Local struct {
	conns                 *haxmap.Map[string, *localConn]
	subscriptions         *haxmap.Map[string, *localSubscription]
	retained              *haxmap.Map[string, []byte]
	slowSubscriberTimeout time.Duration

	mu         sync.Mutex
	history    []Message
	historyMax int
	onPublish  func(Message)
	dialErr    error
	publishErr error
	dials      int
}

// NewLocal creates an empty in-memory broker.
func NewLocal() *Local {
	return &Local{
		conns:                 haxmap.New[string, *localConn](),
		subscriptions:         haxmap.New[string, *localSubscription](),
		retained:              haxmap.New[string, []byte](),
		slowSubscriberTimeout: defaultSlowSubscriberTimeout,
	}
}

// WithSlowSubscriberTimeout configures how long a delivery may block before
// the subscriber is dropped.
func (b *Local) WithSlowSubscriberTimeout(timeout time.Duration) *Local {
	b.slowSubscriberTimeout = timeout
	return b
}

// WithHistoryLimit keeps only the last limit published messages. Zero keeps
// them all.
func (b *Local) WithHistoryLimit(limit int) *Local {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyMax = limit
	return b
}

// OnPublish registers a callback invoked for every message the broker
// accepts, wills included.
func (b *Local) OnPublish(fn func(Message)) *Local {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
	return b
}

// FailDial makes every following dial fail with err, until called with nil.
func (b *Local) FailDial(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// FailPublish makes every following publish fail with err, until called
// with nil.
func (b *Local) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Dials returns the number of dial attempts, failed ones included.
func (b *Local) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Connections returns the number of open connections.
func (b *Local) Connections() int {
	return int(b.conns.Len())
}

// Retained returns the retained payload for topic.
func (b *Local) Retained(topic string) ([]byte, bool) {
	return b.retained.Get(topic)
}

// History returns every message accepted so far, in order.
func (b *Local) History() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.history...)
}

// Inject publishes a message as another client would.
func (b *Local) Inject(topic string, payload []byte, retain bool) {
	b.deliver(Message{Topic: topic, Payload: payload, Retained: retain})
}

// Drop breaks every open connection, as a broker restart would. Their wills
// are published.
func (b *Local) Drop() {
	b.conns.ForEach(func(_ string, c *localConn) bool {
		c.Fail(ErrConnectionLost)
		return true
	})
}

func (b *Local) Dial(ctx context.Context, will Will) (Conn, error) {
	b.mu.Lock()
	b.dials++
	dialErr := b.dialErr
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, connectionError("connect", err)
	}
	if dialErr != nil {
		return nil, connectionError("connect", dialErr)
	}

	c := &localConn{
		id:     uuidx.New().String(),
		broker: b,
		will:   will,
		done:   make(chan struct{}),
		subs:   haxmap.New[string, *localSubscription](),
	}
	b.conns.Set(c.id, c)
	return c, nil
}

func (b *Local) deliver(msg Message) {
	if msg.Retained {
		if len(msg.Payload) == 0 {
			b.retained.Del(msg.Topic)
		} else {
			b.retained.Set(msg.Topic, msg.Payload)
		}
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	if b.historyMax > 0 && len(b.history) > b.historyMax {
		b.history = append(b.history[:0], b.history[len(b.history)-b.historyMax:]...)
	}
	onPublish := b.onPublish
	b.mu.Unlock()
	if onPublish != nil {
		onPublish(msg)
	}

	b.subscriptions.ForEach(func(_ string, sub *localSubscription) bool {
		if Match(sub.filter, msg.Topic) {
			sub.send(msg, b.slowSubscriberTimeout)
		}
		return true
	})
}

type localConn struct {
	id     string
	broker *Local
	will   Will
	subs   *haxmap.Map[string, *localSubscription]

	// held for reading while a publish is delivered, so nothing published
	// by this connection is delivered after its will
	inflight sync.RWMutex
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	err      error
}

func (c *localConn) Publish(ctx context.Context, topic string, payload []byte, _ byte, retain bool) error {
	c.inflight.RLock()
	defer c.inflight.RUnlock()

	select {
	case <-c.done:
		return connectionError("publish", c.closedErr())
	default:
	}
	if err := ctx.Err(); err != nil {
		return connectionError("publish", err)
	}

	c.broker.mu.Lock()
	publishErr := c.broker.publishErr
	c.broker.mu.Unlock()
	if publishErr != nil {
		return connectionError("publish", publishErr)
	}

	c.broker.deliver(Message{Topic: topic, Payload: append([]byte(nil), payload...), Retained: retain})
	return nil
}

func (c *localConn) Subscribe(ctx context.Context, filter string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	select {
	case <-c.done:
		return nil, connectionError("subscribe", c.closedErr())
	default:
	}

	subCtx, cancel := context.WithCancel(context.Background())
	id := uuidx.New().String()
	sub := &localSubscription{
		id:      id,
		filter:  filter,
		ctx:     subCtx,
		channel: make(chan Message, 50),
		handler: handler,
		onClose: func() {
			cancel()
			c.subs.Del(id)
			c.broker.subscriptions.Del(id)
		},
	}
	c.subs.Set(id, sub)
	c.broker.subscriptions.Set(id, sub)
	go sub.forwardToHandler()

	c.broker.retained.ForEach(func(topic string, payload []byte) bool {
		if Match(filter, topic) {
			sub.send(Message{Topic: topic, Payload: payload, Retained: true}, c.broker.slowSubscriberTimeout)
		}
		return true
	})
	return sub, nil
}

func (c *localConn) Done() <-chan struct{} {
	return c.done
}

func (c *localConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *localConn) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// Close disconnects cleanly: the will is discarded.
func (c *localConn) Close() error {
	c.shutdown(nil, false)
	return nil
}

// Fail breaks the connection as a network failure would: the broker
// publishes the will.
func (c *localConn) Fail(err error) {
	c.shutdown(err, true)
}

func (c *localConn) shutdown(err error, publishWill bool) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()

		c.inflight.Lock()
		close(c.done)
		c.inflight.Unlock()

		c.broker.conns.Del(c.id)
		c.subs.ForEach(func(_ string, sub *localSubscription) bool {
			sub.Unsubscribe()
			return true
		})
		if publishWill && c.will.Topic != "" {
			c.broker.deliver(Message{Topic: c.will.Topic, Payload: c.will.Payload, Retained: c.will.Retain})
		}
	})
}

type localSubscription struct {
	id        string
	filter    string
	ctx       context.Context
	channel   chan Message
	closeOnce sync.Once
	onClose   func()
	handler   Handler
}

func (s *localSubscription) ID() string {
	return s.id
}

func (s *localSubscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *localSubscription) send(msg Message, timeout time.Duration) {
	select {
	case <-s.ctx.Done():
	case s.channel <- msg:
	case <-time.After(timeout):
		// slow subscriber
		s.Unsubscribe()
	}
}

func (s *localSubscription) forwardToHandler() {
	for {
		select {
		case msg := <-s.channel:
			s.handler(msg)
		case <-s.ctx.Done():
			return
		}
	}
}
