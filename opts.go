package mqtt4w

import (
	"time"

	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/internal/metrics"
	"github.com/casualjim/mqtt4w/internal/transport"
	"github.com/casualjim/mqtt4w/service"
	"github.com/casualjim/mqtt4w/topic"
	"github.com/facebookgo/clock"
	"github.com/fogfish/opts"
)

// Defaults applied by New.
const (
	DefaultQoS                  byte = 1
	DefaultPublishTimeout            = 5 * time.Second
	DefaultReconnectInterval         = 30 * time.Second
	DefaultAvailabilitySubtopic      = "available"
	DefaultDiscoveryPrefix           = "homeassistant"
)

var (
	// WithDialer sets how broker connections are opened. Required.
	WithDialer = opts.ForName[Supervisor, transport.Dialer]("dialer")

	// WithBuilder sets the factory of the services of each epoch. Required.
	WithBuilder = opts.ForName[Supervisor, service.Builder]("builder")

	// WithIdentity describes the workstation in discovery payloads. The
	// unique id is required.
	WithIdentity = opts.ForName[Supervisor, discovery.Identity]("identity")

	// WithRoot sets the workstation root topic, base topic followed by the
	// workstation name. Required.
	WithRoot = opts.ForName[Supervisor, topic.Topic]("root")

	// WithQoS sets the quality of service of every publish.
	WithQoS = opts.ForName[Supervisor, byte]("qos")

	// WithRetainState publishes state events as retained messages.
	WithRetainState = opts.ForName[Supervisor, bool]("retainState")

	// WithPublishTimeout bounds each publish. A timeout ends the epoch.
	WithPublishTimeout = opts.ForName[Supervisor, time.Duration]("publishTimeout")

	// WithReconnectInterval sets the fixed delay between two epochs.
	WithReconnectInterval = opts.ForName[Supervisor, time.Duration]("reconnectInterval")

	// WithClock sets the clock used to wait between epochs.
	WithClock = opts.ForName[Supervisor, clock.Clock]("clock")

	// WithMetrics instruments the supervisor.
	WithMetrics = opts.ForName[Supervisor, *metrics.Metrics]("metrics")

	// OnStateChange is called with every lifecycle state entered, from the
	// goroutine calling Run.
	OnStateChange = opts.ForName[Supervisor, func(State)]("onStateChange")
)

// WithAvailability sets the availability subtopic, relative to the root.
func WithAvailability(subtopic string) opts.Option[Supervisor] {
	return opts.Type[Supervisor](func(s *Supervisor) error {
		s.availabilitySubtopic = topic.Parse(subtopic)
		return s.availabilitySubtopic.Validate()
	})
}

// WithDiscovery publishes discovery configurations under prefix.
func WithDiscovery(prefix topic.Topic) opts.Option[Supervisor] {
	return opts.Type[Supervisor](func(s *Supervisor) error {
		s.discoveryPrefix = prefix
		s.discoveryEnabled = true
		return prefix.Validate()
	})
}

// WithoutDiscovery disables discovery publication.
func WithoutDiscovery() opts.Option[Supervisor] {
	return opts.Type[Supervisor](func(s *Supervisor) error {
		s.discoveryEnabled = false
		return nil
	})
}
