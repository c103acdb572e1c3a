package mqtt4w

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/internal/metrics"
	"github.com/casualjim/mqtt4w/internal/transport"
	"github.com/casualjim/mqtt4w/service"
	"github.com/casualjim/mqtt4w/topic"
	"github.com/facebookgo/clock"
	"github.com/fogfish/opts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const availabilityTopic = "mqtt4w/desk/available"

// tickingService publishes ON every interval until its epoch ends.
type tickingService struct {
	name     string
	interval time.Duration
	fail     error
}

func (s *tickingService) Name() string          { return s.name }
func (s *tickingService) Subtopic() topic.Topic { return topic.MustNew(s.name) }

func (s *tickingService) Run(ctx context.Context, out chan<- service.Event) error {
	if s.fail != nil {
		return s.fail
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			select {
			case out <- service.NewEvent(topic.MustNew(s.name, "tick", "state"), "ON"):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *tickingService) Entities() []discovery.Entity {
	return []discovery.Entity{discovery.BinarySensor("tick", discovery.Subconfig{Name: "tick", StateTopic: "tick/state"})}
}

// windowList is a window enumerator driven by the test.
type windowList struct {
	mu      sync.Mutex
	titles  []string
	calls   int
	changes chan struct{}
}

func (w *windowList) Enumerate(context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return append([]string(nil), w.titles...), nil
}

func (w *windowList) Changes(context.Context) (<-chan struct{}, error) {
	return w.changes, nil
}

func (w *windowList) enumerated() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// set replaces the titles and waits until the tracker has seen them.
func (w *windowList) set(t *testing.T, titles ...string) {
	t.Helper()
	w.mu.Lock()
	w.titles = titles
	before := w.calls
	w.mu.Unlock()
	w.changes <- struct{}{}
	require.Eventually(t, func() bool { return w.enumerated() > before }, 2*time.Second, time.Millisecond)
	// let the service hand the change to its debouncer
	time.Sleep(20 * time.Millisecond)
}

type pressRunner struct {
	mu   sync.Mutex
	runs [][]string
}

func (r *pressRunner) Run(_ context.Context, argv []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, argv)
	return nil
}

func (r *pressRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type harness struct {
	broker *transport.Local
	clock  *clock.Mock
	sup    *Supervisor
	builds atomic.Int32
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, build func() []service.Service, options ...opts.Option[Supervisor]) *harness {
	t.Helper()
	h := &harness{broker: transport.NewLocal(), clock: clock.NewMock()}
	builder := service.BuilderFunc(func(context.Context) ([]service.Service, error) {
		h.builds.Add(1)
		return build(), nil
	})
	base := []opts.Option[Supervisor]{
		WithDialer(h.broker),
		WithBuilder(builder),
		WithIdentity(discovery.Identity{UniqueID: "42", WorkstationName: "desk"}),
		WithRoot(topic.MustNew("mqtt4w", "desk")),
		WithClock(h.clock),
		WithPublishTimeout(time.Second),
	}
	sup, err := New(append(base, options...)...)
	require.NoError(t, err)
	h.sup = sup
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- nil
	case <-time.After(3 * time.Second):
		require.FailNow(t, "supervisor did not stop")
	}
}

func (h *harness) availability() string {
	payload, _ := h.broker.Retained(availabilityTopic)
	return string(payload)
}

func (h *harness) published(topic string) int {
	n := 0
	for _, m := range h.broker.History() {
		if m.Topic == topic {
			n++
		}
	}
	return n
}

func ticking() []service.Service {
	return []service.Service{&tickingService{name: "ticker", interval: 5 * time.Millisecond}}
}

func TestSupervisor_Epoch(t *testing.T) {
	h := newHarness(t, ticking)
	assert.Equal(t, Disconnected, h.sup.State())
	h.start(t)

	require.Eventually(t, func() bool { return h.sup.State() == Active }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "online", h.availability())

	require.Eventually(t, func() bool { return h.published("mqtt4w/desk/ticker/tick/state") > 0 }, 2*time.Second, 5*time.Millisecond)
	_, retained := h.broker.Retained("mqtt4w/desk/ticker/tick/state")
	assert.False(t, retained, "state is not retained by default")

	config, ok := h.broker.Retained("homeassistant/binary_sensor/42_tick/config")
	require.True(t, ok, "discovery config is retained")
	doc := gjson.ParseBytes(config)
	assert.Equal(t, "mqtt4w/desk/ticker/tick/state", doc.Get("state_topic").String())
	assert.Equal(t, availabilityTopic, doc.Get("availability_topic").String())
	assert.Equal(t, Version, doc.Get("device.sw_version").String())

	h.stop(t)
	assert.Equal(t, Terminated, h.sup.State())
	assert.Equal(t, "offline", h.availability())
	assert.Zero(t, h.broker.Connections())
}

func TestSupervisor_Reconnect(t *testing.T) {
	h := newHarness(t, ticking)
	h.start(t)
	require.Eventually(t, func() bool { return h.published("mqtt4w/desk/ticker/tick/state") > 3 }, 2*time.Second, 5*time.Millisecond)

	h.broker.Drop()
	require.Eventually(t, func() bool { return h.sup.State() == BackoffWait }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "offline", h.availability(), "the will is published")
	assert.Equal(t, 1, h.broker.Dials())

	require.Eventually(t, func() bool {
		h.clock.Add(DefaultReconnectInterval)
		return h.sup.State() == Active
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "online", h.availability())
	assert.Equal(t, int32(2), h.builds.Load(), "services are rebuilt for every epoch")
	assert.Equal(t, uint64(2), h.sup.Epoch())

	t.Run("nothing from a dead epoch after offline", func(t *testing.T) {
		h.stop(t)
		history := h.broker.History()
		online := true
		for _, m := range history {
			if m.Topic == availabilityTopic {
				online = string(m.Payload) == "online"
				continue
			}
			if !online {
				assert.Failf(t, "published while offline", "%s=%s", m.Topic, m.Payload)
			}
		}
	})
}

func TestSupervisor_StateTransitions(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	h := newHarness(t, ticking, OnStateChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}))
	h.start(t)
	require.Eventually(t, func() bool { return h.sup.State() == Active }, 2*time.Second, 5*time.Millisecond)

	h.broker.Drop()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1] == BackoffWait
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Active, Disconnected, BackoffWait}, states)
}

func TestSupervisor_PendingDebounceDiesWithEpoch(t *testing.T) {
	const stateTopic = "mqtt4w/desk/windows_tracker/zoom/state"
	windows := &windowList{changes: make(chan struct{}, 1)}
	var h *harness
	h = newHarness(t, func() []service.Service {
		sensors := orderedmap.New[string, []string]()
		sensors.Set("zoom", []string{"Zoom Meeting"})
		tracker := service.NewEnumerationTracker(windows, sensors)
		svc, err := service.NewBinaryService("windows_tracker", topic.MustNew("windows_tracker"), tracker, tracker.Sensors(),
			service.WithClock(h.clock), service.WithDebounce(time.Second))
		if err != nil {
			panic(err)
		}
		return []service.Service{svc}
	})
	payloads := func() []string {
		var out []string
		for _, m := range h.broker.History() {
			if m.Topic == stateTopic {
				out = append(out, string(m.Payload))
			}
		}
		return out
	}

	h.start(t)
	require.Eventually(t, func() bool { return h.published(stateTopic) == 1 }, 2*time.Second, 5*time.Millisecond)

	windows.set(t, "Zoom Meeting")
	h.clock.Add(time.Second)
	require.Eventually(t, func() bool { return h.published(stateTopic) == 2 }, 2*time.Second, 5*time.Millisecond)

	windows.set(t)
	h.clock.Add(500 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"OFF", "ON"}, payloads(), "still debouncing")

	h.broker.Drop()
	require.Eventually(t, func() bool { return h.sup.State() == BackoffWait }, 2*time.Second, 5*time.Millisecond)
	h.clock.Add(5 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"OFF", "ON"}, payloads(), "a change scheduled in a dead epoch is never published")
}

func TestSupervisor_ShutdownIsNotAPublishFailure(t *testing.T) {
	m := metrics.New()
	h := newHarness(t, func() []service.Service {
		return []service.Service{&tickingService{name: "ticker", interval: time.Millisecond}}
	}, WithMetrics(m))
	h.start(t)
	require.Eventually(t, func() bool { return h.published("mqtt4w/desk/ticker/tick/state") > 20 }, 2*time.Second, 5*time.Millisecond)

	h.stop(t)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PublishFailures), 0)
	assert.Equal(t, "offline", h.availability())
}

func TestSupervisor_DialFailure(t *testing.T) {
	h := newHarness(t, ticking)
	h.broker.FailDial(errors.New("connection refused"))
	h.start(t)

	require.Eventually(t, func() bool { return h.sup.State() == BackoffWait }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, h.builds.Load())

	h.broker.FailDial(nil)
	require.Eventually(t, func() bool {
		h.clock.Add(DefaultReconnectInterval)
		return h.sup.State() == Active
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, h.broker.Dials(), 2)
}

func TestSupervisor_PublishFailure(t *testing.T) {
	h := newHarness(t, ticking)
	h.start(t)
	require.Eventually(t, func() bool { return h.sup.State() == Active }, 2*time.Second, 5*time.Millisecond)

	h.broker.FailPublish(errors.New("broken pipe"))
	require.Eventually(t, func() bool { return h.sup.State() == BackoffWait }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, h.broker.Connections(), "the connection is closed")
}

func TestSupervisor_ServiceFailureIsLocal(t *testing.T) {
	h := newHarness(t, func() []service.Service {
		return []service.Service{
			&tickingService{name: "broken", fail: service.ErrSourceUnavailable},
			&tickingService{name: "ticker", interval: 5 * time.Millisecond},
		}
	})
	h.start(t)

	require.Eventually(t, func() bool { return h.published("mqtt4w/desk/ticker/tick/state") > 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, Active, h.sup.State())
	assert.Equal(t, 1, h.broker.Dials())
}

func TestSupervisor_Commands(t *testing.T) {
	runner := &pressRunner{}
	h := newHarness(t, func() []service.Service {
		cmds, err := service.NewCommandService("commands", topic.MustNew("commands"), runner,
			service.Button{ID: "lock", Argv: []string{"loginctl", "lock-session"}})
		if err != nil {
			panic(err)
		}
		return []service.Service{cmds}
	})
	h.start(t)
	require.Eventually(t, func() bool {
		_, ok := h.broker.Retained("homeassistant/button/42_lock/config")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	config, _ := h.broker.Retained("homeassistant/button/42_lock/config")
	assert.Equal(t, "mqtt4w/desk/commands/lock/press", gjson.GetBytes(config, "command_topic").String())

	h.broker.Inject("mqtt4w/desk/commands/lock/press", []byte("PRESS"), false)
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.broker.Inject("mqtt4w/desk/commands/lock/press", []byte("PRESS"), true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, runner.count(), "retained presses are ignored")
}

func TestSupervisor_Options(t *testing.T) {
	t.Run("retained state and custom topics", func(t *testing.T) {
		h := newHarness(t, ticking,
			WithRetainState(true),
			WithAvailability("status"),
			WithDiscovery(topic.MustNew("ha")),
		)
		h.start(t)
		require.Eventually(t, func() bool {
			_, ok := h.broker.Retained("mqtt4w/desk/ticker/tick/state")
			return ok
		}, 2*time.Second, 5*time.Millisecond)

		payload, _ := h.broker.Retained("mqtt4w/desk/status")
		assert.Equal(t, "online", string(payload))
		_, ok := h.broker.Retained("ha/binary_sensor/42_tick/config")
		assert.True(t, ok)
	})

	t.Run("without discovery", func(t *testing.T) {
		h := newHarness(t, ticking, WithoutDiscovery())
		h.start(t)
		require.Eventually(t, func() bool { return h.published("mqtt4w/desk/ticker/tick/state") > 0 }, 2*time.Second, 5*time.Millisecond)
		_, ok := h.broker.Retained("homeassistant/binary_sensor/42_tick/config")
		assert.False(t, ok)
	})

	t.Run("missing required options", func(t *testing.T) {
		_, err := New(WithRoot(topic.MustNew("mqtt4w", "desk")))
		assert.Error(t, err)

		_, err = New(
			WithDialer(transport.NewLocal()),
			WithBuilder(service.BuilderFunc(func(context.Context) ([]service.Service, error) { return nil, nil })),
			WithIdentity(discovery.Identity{UniqueID: "1"}),
		)
		assert.ErrorIs(t, err, topic.ErrInvalidSegment, "root is required")

		_, err = New(WithAvailability(""), WithRoot(topic.MustNew("x")))
		assert.Error(t, err)
	})
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Active:       "active",
		BackoffWait:  "backoff",
		Terminated:   "terminated",
		State(42):    "unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}
