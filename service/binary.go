package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/state"
	"github.com/casualjim/mqtt4w/topic"
	"github.com/facebookgo/clock"
	"github.com/fogfish/opts"
)

// DefaultDebounce is the delay a changed state must be stable for before
// it is published.
const DefaultDebounce = time.Second

// BinaryService publishes the states of a set of binary sensors computed by
// a Tracker.
//
// The initial snapshot is published as is. Afterwards only changed sensors
// are published, each one through a debouncer.
type BinaryService struct {
	name         string
	subtopic     topic.Topic
	tracker      Tracker
	sensors      []string
	stateTopics  map[string]topic.Topic
	template     discovery.Subconfig
	delay        time.Duration
	clock        clock.Clock
	onSuperseded func(string)
	logger       *slog.Logger
}

var (
	// WithDebounce sets the debounce delay, DefaultDebounce by default.
	WithDebounce = opts.ForName[BinaryService, time.Duration]("delay")
	// WithClock sets the clock used by the debouncer.
	WithClock = opts.ForName[BinaryService, clock.Clock]("clock")
	// WithEntityTemplate sets the fields shared by every declared binary
	// sensor, like the icon or device class.
	WithEntityTemplate = opts.ForName[BinaryService, discovery.Subconfig]("template")
)

// OnSuperseded is called with the service name and sensor name every time a
// debounced value is replaced before it was published.
func OnSuperseded(fn func(service, sensor string)) opts.Option[BinaryService] {
	return opts.Type[BinaryService](func(s *BinaryService) error {
		s.onSuperseded = func(sensor string) { fn(s.name, sensor) }
		return nil
	})
}

// NewBinaryService creates a service named name publishing the given sensors
// under subtopic.
func NewBinaryService(name string, subtopic topic.Topic, tracker Tracker, sensors []string, options ...opts.Option[BinaryService]) (*BinaryService, error) {
	if err := subtopic.Validate(); err != nil {
		return nil, fmt.Errorf("subtopic of %s: %w", name, err)
	}
	s := &BinaryService{
		name:        name,
		subtopic:    subtopic,
		tracker:     tracker,
		sensors:     sensors,
		stateTopics: make(map[string]topic.Topic, len(sensors)),
		delay:       DefaultDebounce,
		clock:       clock.New(),
		logger:      slog.Default().With(slogx.Service(name)),
	}
	for _, sensor := range sensors {
		t, err := subtopic.Join(sensor, "state")
		if err != nil {
			return nil, fmt.Errorf("sensor %q of %s: %w", sensor, name, err)
		}
		s.stateTopics[sensor] = t
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the service name.
func (s *BinaryService) Name() string { return s.name }

// Subtopic returns the topic the sensor states are published under.
func (s *BinaryService) Subtopic() topic.Topic { return s.subtopic }

// Entities declares one binary sensor per tracked sensor.
func (s *BinaryService) Entities() []discovery.Entity {
	entities := make([]discovery.Entity, 0, len(s.sensors))
	for _, sensor := range s.sensors {
		sc := s.template
		sc.Name = sensor
		sc.StateTopic = sensor + topic.Separator + "state"
		sc.PayloadOn = state.On
		sc.PayloadOff = state.Off
		entities = append(entities, discovery.BinarySensor(sensor, sc))
	}
	return entities
}

// Run publishes the snapshot of the tracker, then debounces every change
// until ctx is done or the tracker fails. Pending changes are dropped when
// Run returns.
func (s *BinaryService) Run(ctx context.Context, out chan<- Event) error {
	defer func() {
		if err := s.tracker.Close(); err != nil {
			s.logger.Warn("closing tracker", slogx.Error(err))
		}
	}()

	current, err := s.tracker.Snapshot(ctx)
	if err != nil {
		return s.failed(ctx, err)
	}
	for sensor, value := range current.All() {
		if err := s.publish(ctx, out, sensor, value); err != nil {
			return err
		}
	}

	debouncer := state.NewDebouncer(s.delay, func(sensor string, value bool) {
		_ = s.publish(ctx, out, sensor, value)
	}, state.WithClock(s.clock), state.OnSuperseded(s.superseded))
	defer debouncer.Stop()

	for {
		if err := s.tracker.Await(ctx); err != nil {
			return s.failed(ctx, err)
		}
		next, err := s.tracker.Recompute(ctx)
		if err != nil {
			return s.failed(ctx, err)
		}
		changed := state.Diff(current, next)
		for sensor, value := range changed.All() {
			s.logger.Debug("sensor changed", slog.String("sensor", sensor), slog.Bool("value", value))
			debouncer.Schedule(sensor, value)
		}
		current = next
	}
}

func (s *BinaryService) publish(ctx context.Context, out chan<- Event, sensor string, value bool) error {
	t, ok := s.stateTopics[sensor]
	if !ok {
		s.logger.Warn("state for an undeclared sensor", slog.String("sensor", sensor))
		return nil
	}
	return send(ctx, out, NewEvent(t, state.Payload(value)))
}

func (s *BinaryService) superseded(sensor string) {
	if s.onSuperseded != nil {
		s.onSuperseded(sensor)
	}
}

func (s *BinaryService) failed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrSourceUnavailable) {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return fmt.Errorf("%s: %w: %w", s.name, ErrSourceUnavailable, err)
}
