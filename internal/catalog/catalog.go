// Package catalog builds the workstation services from configuration.
//
// Services hold the state of one connection epoch, so the catalog builds
// fresh instances every time the supervisor asks. Signal sources are
// created on demand and may be replaced, in tests for instance.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/mqtt4w/config"
	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/internal/metrics"
	"github.com/casualjim/mqtt4w/internal/registry"
	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/service"
	"github.com/facebookgo/clock"
	"github.com/fogfish/opts"
)

// Names of the built-in services, in build order.
const (
	FileUsage      = "file_usage"
	WindowsTracker = "windows_tracker"
	ActiveWindow   = "active_window"
	Fullscreen     = "fullscreen"
	DPMS           = "dpms"
	Commands       = "commands"
)

// ActiveWindowSource reads the title of the active window and reports
// source.LabelFullscreen while it is fullscreen.
type ActiveWindowSource interface {
	service.Enumerator
	service.TextSource
}

// Factory builds one service, or nil when there is nothing to run.
type Factory func(ctx context.Context, c *Catalog) (service.Service, error)

// Catalog is a service.Builder over the configured services.
type Catalog struct {
	services  config.Services
	factories *registry.Registry[Factory]
	order     []string

	clock   clock.Clock
	metrics *metrics.Metrics
	usage   service.UsageSource
	windows service.Enumerator
	active  ActiveWindowSource
	display service.Enumerator
	runner  service.Runner
	logger  *slog.Logger
}

var (
	// WithClock drives debouncers and pollers.
	WithClock = opts.ForName[Catalog, clock.Clock]("clock")

	// WithMetrics counts debounce supersessions.
	WithMetrics = opts.ForName[Catalog, *metrics.Metrics]("metrics")

	// WithUsageSource replaces inotify and procfs for file usage.
	WithUsageSource = opts.ForName[Catalog, service.UsageSource]("usage")

	// WithWindows replaces the wmctrl window enumerator.
	WithWindows = opts.ForName[Catalog, service.Enumerator]("windows")

	// WithActiveWindow replaces the xprop active window source.
	WithActiveWindow = opts.ForName[Catalog, ActiveWindowSource]("active")

	// WithDisplayPower replaces the xset display power enumerator.
	WithDisplayPower = opts.ForName[Catalog, service.Enumerator]("display")

	// WithRunner replaces how button commands are run.
	WithRunner = opts.ForName[Catalog, service.Runner]("runner")
)

func New(services config.Services, options ...opts.Option[Catalog]) (*Catalog, error) {
	c := &Catalog{
		services:  services,
		factories: registry.New[Factory](),
		clock:     clock.New(),
		logger:    slog.Default().With(slogx.LoggerName("catalog")),
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, err
	}
	for _, builtin := range []struct {
		name    string
		factory Factory
	}{
		{FileUsage, fileUsage},
		{WindowsTracker, windowsTracker},
		{ActiveWindow, activeWindow},
		{Fullscreen, fullscreen},
		{DPMS, dpms},
		{Commands, commands},
	} {
		if err := c.Register(builtin.name, builtin.factory); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a service built after the ones already registered.
func (c *Catalog) Register(name string, factory Factory) error {
	if err := c.factories.Register(name, factory); err != nil {
		return fmt.Errorf("service %w", err)
	}
	c.order = append(c.order, name)
	return nil
}

// Names lists the registered services in build order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Build creates a fresh instance of every service that has something to
// run.
func (c *Catalog) Build(ctx context.Context) ([]service.Service, error) {
	var services []service.Service
	for _, name := range c.order {
		factory, ok := c.factories.Get(name)
		if !ok {
			continue
		}
		svc, err := factory(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", name, err)
		}
		if svc == nil {
			c.logger.Debug("service skipped", slogx.Service(name))
			continue
		}
		services = append(services, svc)
	}
	return services, nil
}

func (c *Catalog) binaryOptions(delay time.Duration, template discovery.Subconfig) []opts.Option[service.BinaryService] {
	return []opts.Option[service.BinaryService]{
		service.WithClock(c.clock),
		service.WithDebounce(delay),
		service.WithEntityTemplate(template),
		service.OnSuperseded(c.metrics.RecordSuperseded),
	}
}
