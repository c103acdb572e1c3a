package mqtt4w

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/internal/metrics"
	"github.com/casualjim/mqtt4w/internal/transport"
	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/service"
	"github.com/casualjim/mqtt4w/topic"
	"github.com/facebookgo/clock"
	"github.com/fogfish/opts"
	"golang.org/x/sync/errgroup"
)

const (
	outgoingBuffer = 64
	commandBuffer  = 16
)

// Supervisor owns the broker connection and runs the services of each
// connection epoch.
type Supervisor struct {
	dialer               transport.Dialer
	builder              service.Builder
	identity             discovery.Identity
	root                 topic.Topic
	availabilitySubtopic topic.Topic
	discoveryPrefix      topic.Topic
	discoveryEnabled     bool
	qos                  byte
	retainState          bool
	publishTimeout       time.Duration
	reconnectInterval    time.Duration
	clock                clock.Clock
	metrics              *metrics.Metrics
	onStateChange        func(State)

	availability topic.Topic
	state        atomic.Int32
	epoch        atomic.Uint64
	logger       *slog.Logger
}

// New creates a supervisor. It fails when a required option is missing or
// a topic is invalid.
func New(options ...opts.Option[Supervisor]) (*Supervisor, error) {
	s := &Supervisor{
		availabilitySubtopic: topic.MustNew(DefaultAvailabilitySubtopic),
		discoveryPrefix:      topic.MustNew(DefaultDiscoveryPrefix),
		discoveryEnabled:     true,
		qos:                  DefaultQoS,
		publishTimeout:       DefaultPublishTimeout,
		reconnectInterval:    DefaultReconnectInterval,
		clock:                clock.New(),
		logger:               slog.Default().With(slogx.LoggerName("supervisor")),
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}

	switch {
	case s.dialer == nil:
		return nil, errors.New("supervisor: a dialer is required")
	case s.builder == nil:
		return nil, errors.New("supervisor: a service builder is required")
	case s.identity.UniqueID == "":
		return nil, errors.New("supervisor: the identity needs a unique id")
	}
	if err := s.root.Validate(); err != nil {
		return nil, fmt.Errorf("supervisor root: %w", err)
	}
	if s.identity.Version == "" {
		s.identity.Version = Version
	}
	s.availability = s.root.Append(s.availabilitySubtopic)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Epoch returns the number of connection epochs started so far.
func (s *Supervisor) Epoch() uint64 {
	return s.epoch.Load()
}

// Availability is the absolute availability topic.
func (s *Supervisor) Availability() topic.Topic {
	return s.availability
}

func (s *Supervisor) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	s.metrics.RecordState(int(state))
	if prev != state {
		s.logger.Debug("state changed", slog.String("from", prev.String()), slog.String("to", state.String()))
	}
	if s.onStateChange != nil {
		s.onStateChange(state)
	}
}

// Run supervises connection epochs until ctx is cancelled. Connection
// failures never end Run: the supervisor waits the reconnect interval and
// starts a new epoch. It returns nil on shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(Terminated)

	for {
		s.setState(Connecting)
		err := s.runEpoch(ctx)
		if ctx.Err() != nil {
			s.logger.Info("supervisor stopped")
			return nil
		}
		if err != nil {
			s.logger.Error("connection epoch ended", slogx.Epoch(s.Epoch()), slogx.Error(err))
		}
		s.setState(Disconnected)

		s.setState(BackoffWait)
		s.logger.Info("reconnecting", slog.Duration("in", s.reconnectInterval))
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopped")
			return nil
		case <-s.clock.After(s.reconnectInterval):
		}
	}
}

func (s *Supervisor) will() transport.Will {
	return transport.Will{
		Topic:   s.availability.String(),
		Payload: []byte(discovery.Offline),
		QoS:     s.qos,
		Retain:  true,
	}
}

func (s *Supervisor) runEpoch(ctx context.Context) error {
	epoch := s.epoch.Add(1)
	logger := s.logger.With(slogx.Epoch(epoch))

	conn, err := s.dialer.Dial(ctx, s.will())
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("closing connection", slogx.Error(err))
		}
	}()
	s.metrics.RecordEpoch()

	if err := s.publish(ctx, conn, s.availability, discovery.Online, true, "availability", time.Now()); err != nil {
		return err
	}

	services, err := s.builder.Build(ctx)
	if err != nil {
		s.goOffline(ctx, conn, logger)
		return fmt.Errorf("building services: %w", err)
	}
	s.setState(Active)
	logger.Info("connection epoch started", slog.Int("services", len(services)))

	err = s.runServices(ctx, conn, services, logger)
	s.goOffline(ctx, conn, logger)
	return err
}

// runServices returns once every goroutine of the epoch has stopped, so no
// event of this epoch can be published afterwards.
func (s *Supervisor) runServices(ctx context.Context, conn transport.Conn, services []service.Service, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	out := make(chan service.Event, outgoingBuffer)

	// commands are subscribed before discovery announces the buttons
	subscriptions, err := s.subscribeCommands(gctx, g, conn, services, logger)
	defer func() {
		for _, sub := range subscriptions {
			sub.Unsubscribe()
		}
	}()
	if err != nil {
		g.Go(func() error { return err })
		return g.Wait()
	}

	for _, svc := range services {
		svcLogger := logger.With(slogx.Service(svc.Name()))
		g.Go(func() error {
			svcLogger.Debug("service started")
			err := svc.Run(gctx, out)
			if err != nil && gctx.Err() == nil {
				svcLogger.Error("service stopped", slogx.Error(err))
				s.metrics.RecordServiceFailure(svc.Name())
			}
			return nil
		})

		if d, ok := svc.(service.Discoverable); ok && s.discoveryEnabled {
			g.Go(func() error {
				s.discover(gctx, svc, d, out, svcLogger)
				return nil
			})
		}
	}

	g.Go(func() error {
		select {
		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return &transport.ConnectionError{Op: "watch", Err: err}
			}
			return &transport.ConnectionError{Op: "watch", Err: transport.ErrConnectionLost}
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		for {
			select {
			case ev := <-out:
				// the epoch is over, the event belongs to a stopped service
				if gctx.Err() != nil {
					return nil
				}
				if err := s.publishEvent(gctx, conn, ev); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

func (s *Supervisor) discover(ctx context.Context, svc service.Service, d service.Discoverable, out chan<- service.Event, logger *slog.Logger) {
	base := s.root.Append(svc.Subtopic())
	for _, entity := range d.Entities() {
		cfg, err := discovery.Compile(entity, s.identity, base, s.availability)
		if err != nil {
			logger.Warn("skipping entity", slog.String("entity", entity.ID), slogx.Error(err))
			continue
		}
		select {
		case out <- service.DiscoveryEvent(cfg):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) subscribeCommands(ctx context.Context, g *errgroup.Group, conn transport.Conn, services []service.Service, logger *slog.Logger) ([]transport.Subscription, error) {
	handlers := make(map[string]service.Command)
	for _, svc := range services {
		c, ok := svc.(service.Commander)
		if !ok {
			continue
		}
		for _, cmd := range c.Commands() {
			handlers[s.root.Append(cmd.Topic).String()] = cmd
		}
	}
	if len(handlers) == 0 {
		return nil, nil
	}

	incoming := make(chan transport.Message, commandBuffer)
	g.Go(func() error {
		for {
			select {
			case msg := <-incoming:
				cmd, ok := handlers[msg.Topic]
				if !ok {
					continue
				}
				err := cmd.Handle(ctx, string(msg.Payload))
				s.metrics.RecordCommand(err == nil)
				if err != nil {
					logger.Error("command failed", slog.String("topic", msg.Topic), slogx.Error(err))
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	subscriptions := make([]transport.Subscription, 0, len(handlers))
	for filter := range handlers {
		sub, err := conn.Subscribe(ctx, filter, func(msg transport.Message) {
			if msg.Retained {
				// stale presses must not run again on every reconnect
				return
			}
			select {
			case incoming <- msg:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return subscriptions, fmt.Errorf("subscribing %s: %w", filter, err)
		}
		subscriptions = append(subscriptions, sub)
		logger.Debug("subscribed", slog.String("topic", filter))
	}
	return subscriptions, nil
}

func (s *Supervisor) publishEvent(ctx context.Context, conn transport.Conn, ev service.Event) error {
	if ev.Discovery {
		return s.publish(ctx, conn, s.discoveryPrefix.Append(ev.Topic), ev.Payload, true, "discovery", time.Time(ev.At))
	}
	return s.publish(ctx, conn, s.root.Append(ev.Topic), ev.Payload, s.retainState, "state", time.Time(ev.At))
}

func (s *Supervisor) publish(ctx context.Context, conn transport.Conn, t topic.Topic, payload string, retain bool, kind string, observed time.Time) error {
	pctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	if err := conn.Publish(pctx, t.String(), []byte(payload), s.qos, retain); err != nil {
		// a publish interrupted by the end of the epoch did not fail
		if ctx.Err() == nil {
			s.metrics.RecordPublishFailure()
		}
		if transport.IsConnectionError(err) {
			return err
		}
		return &transport.ConnectionError{Op: "publish", Err: err}
	}
	s.metrics.RecordPublished(kind, observed)
	s.logger.Debug("published", slogx.Topic(t), slog.String("payload", payload), slog.Bool("retain", retain))
	return nil
}

// goOffline publishes the offline availability while the connection is
// still usable. It is best effort: a dead connection already had its will
// published by the broker.
func (s *Supervisor) goOffline(ctx context.Context, conn transport.Conn, logger *slog.Logger) {
	select {
	case <-conn.Done():
		return
	default:
	}
	offlineCtx := context.WithoutCancel(ctx)
	if err := s.publish(offlineCtx, conn, s.availability, discovery.Offline, true, "availability", time.Now()); err != nil {
		logger.Warn("publishing offline", slogx.Error(err))
	}
}
