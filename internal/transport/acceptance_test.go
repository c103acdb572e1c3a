package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dialerFactory func(t *testing.T) Dialer

func localDialer(t *testing.T) Dialer {
	return NewLocal()
}

func natsDialer(t *testing.T) Dialer {
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		t.Skipf("no nats server at %s: %v", nats.DefaultURL, err)
	}
	nc.Close()
	return &NATSDialer{URL: nats.DefaultURL, Name: "mqtt4w-test"}
}

type recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *recorder) handle(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		topics = append(topics, m.Topic)
	}
	return topics
}

func TestTransportAcceptance(t *testing.T) {
	implementations := map[string]dialerFactory{
		"local": localDialer,
		"nats":  natsDialer,
	}
	for name, factory := range implementations {
		t.Run(name, func(t *testing.T) {
			t.Run("delivers to matching subscribers", func(t *testing.T) {
				testDeliversToMatchingSubscribers(t, factory)
			})
			t.Run("unsubscribe stops delivery", func(t *testing.T) {
				testUnsubscribeStopsDelivery(t, factory)
			})
			t.Run("publish after close fails", func(t *testing.T) {
				testPublishAfterClose(t, factory)
			})
		})
	}
}

func testDeliversToMatchingSubscribers(t *testing.T, factory dialerFactory) {
	ctx := context.Background()
	conn, err := factory(t).Dial(ctx, Will{})
	require.NoError(t, err)
	defer conn.Close()

	all, single := &recorder{}, &recorder{}
	sub1, err := conn.Subscribe(ctx, "acceptance/#", all.handle)
	require.NoError(t, err)
	defer sub1.Unsubscribe()
	sub2, err := conn.Subscribe(ctx, "acceptance/+/state", single.handle)
	require.NoError(t, err)
	defer sub2.Unsubscribe()

	require.NoError(t, conn.Publish(ctx, "acceptance/camera/state", []byte("ON"), 1, false))
	require.NoError(t, conn.Publish(ctx, "acceptance/commands/lock/press", []byte("PRESS"), 1, false))

	require.Eventually(t, func() bool { return len(all.topics()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(single.topics()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"acceptance/camera/state", "acceptance/commands/lock/press"}, all.topics())
	assert.Equal(t, []string{"acceptance/camera/state"}, single.topics())
}

func testUnsubscribeStopsDelivery(t *testing.T, factory dialerFactory) {
	ctx := context.Background()
	conn, err := factory(t).Dial(ctx, Will{})
	require.NoError(t, err)
	defer conn.Close()

	rec := &recorder{}
	sub, err := conn.Subscribe(ctx, "lifecycle/state", rec.handle)
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())
	sub.Unsubscribe()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, conn.Publish(ctx, "lifecycle/state", []byte("ON"), 1, false))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.topics())
}

func testPublishAfterClose(t *testing.T, factory dialerFactory) {
	ctx := context.Background()
	conn, err := factory(t).Dial(ctx, Will{})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after close")
	}
	err = conn.Publish(ctx, "closed/state", []byte("ON"), 1, false)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.NoError(t, conn.Err(), "a clean close is not an error")
}
