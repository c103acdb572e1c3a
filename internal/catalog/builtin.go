package catalog

import (
	"context"

	"github.com/casualjim/mqtt4w/config"
	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/internal/source"
	"github.com/casualjim/mqtt4w/service"
	"github.com/casualjim/mqtt4w/topic"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// activeWindowSubtopic holds the active window topics, below the windows
// tracker subtopic.
const activeWindowSubtopic = "active_window"

func fileUsage(_ context.Context, c *Catalog) (service.Service, error) {
	cfg := c.services.FileUsage
	if !cfg.Enabled || cfg.Sensors.Len() == 0 {
		return nil, nil
	}
	usage := c.usage
	if usage == nil {
		procfs, err := source.NewProcfs(cfg.Procfs)
		if err != nil {
			return nil, err
		}
		usage = source.NewInotify(procfs)
	}
	tracker, err := service.NewUsageTracker(usage, cfg.Sensors.Ordered())
	if err != nil {
		return nil, err
	}
	svc, err := service.NewBinaryService(FileUsage, topic.Parse(cfg.Subtopic), tracker, tracker.Sensors(),
		c.binaryOptions(cfg.Debounce, discovery.Subconfig{})...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func windowsTracker(_ context.Context, c *Catalog) (service.Service, error) {
	cfg := c.services.WindowsTracker
	if !cfg.Enabled || cfg.Sensors.Len() == 0 {
		return nil, nil
	}
	windows := c.windows
	if windows == nil {
		enumerator, err := source.Windows(cfg.Display, cfg.PollInterval, source.WithClock(c.clock))
		if err != nil {
			return nil, err
		}
		windows = enumerator
	}
	tracker := service.NewEnumerationTracker(windows, cfg.Sensors.Ordered())
	svc, err := service.NewBinaryService(WindowsTracker, topic.Parse(cfg.Subtopic), tracker, tracker.Sensors(),
		c.binaryOptions(cfg.Debounce, discovery.Subconfig{Icon: "mdi:application"})...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// activeWindowSource feeds the title and fullscreen services. It is nil
// when the active window is not exposed.
func (c *Catalog) activeWindowSource() (ActiveWindowSource, error) {
	cfg := c.services.WindowsTracker
	if !cfg.Enabled || !cfg.ExposeActiveWindow {
		return nil, nil
	}
	if c.active != nil {
		return c.active, nil
	}
	active, err := source.NewActiveWindow(cfg.Display, cfg.PollInterval, source.WithClock(c.clock))
	if err != nil {
		return nil, err
	}
	return active, nil
}

func activeWindow(_ context.Context, c *Catalog) (service.Service, error) {
	active, err := c.activeWindowSource()
	if err != nil || active == nil {
		return nil, err
	}
	subtopic, err := topic.Parse(c.services.WindowsTracker.Subtopic).Join(activeWindowSubtopic)
	if err != nil {
		return nil, err
	}
	svc, err := service.NewTextService(ActiveWindow, subtopic, config.ActiveWindowTitle, "title", active,
		service.WithTextTemplate(discovery.Subconfig{Name: "Active window", Icon: "mdi:application"}))
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func fullscreen(_ context.Context, c *Catalog) (service.Service, error) {
	active, err := c.activeWindowSource()
	if err != nil || active == nil {
		return nil, err
	}
	cfg := c.services.WindowsTracker
	subtopic, err := topic.Parse(cfg.Subtopic).Join(activeWindowSubtopic)
	if err != nil {
		return nil, err
	}
	sensors := orderedmap.New[string, []string]()
	sensors.Set(config.FullscreenSensor, []string{source.LabelFullscreen})
	tracker := service.NewEnumerationTracker(active, sensors)
	svc, err := service.NewBinaryService(Fullscreen, subtopic, tracker, tracker.Sensors(),
		c.binaryOptions(cfg.Debounce, discovery.Subconfig{Icon: "mdi:fullscreen"})...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func dpms(_ context.Context, c *Catalog) (service.Service, error) {
	cfg := c.services.DPMS
	if !cfg.Enabled {
		return nil, nil
	}
	display := c.display
	if display == nil {
		enumerator, err := source.DisplayPower(cfg.Display, cfg.CheckInterval, source.WithClock(c.clock))
		if err != nil {
			return nil, err
		}
		display = enumerator
	}
	sensors := orderedmap.New[string, []string]()
	sensors.Set(config.DPMSSensor, []string{source.LabelOn})
	tracker := service.NewEnumerationTracker(display, sensors)
	svc, err := service.NewBinaryService(DPMS, topic.Parse(cfg.Subtopic), tracker, tracker.Sensors(),
		c.binaryOptions(cfg.Debounce, discovery.Subconfig{Icon: "mdi:monitor", DeviceClass: "power"})...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func commands(_ context.Context, c *Catalog) (service.Service, error) {
	cfg := c.services.Commands
	if !cfg.Enabled || len(cfg.Buttons) == 0 {
		return nil, nil
	}
	runner := c.runner
	if runner == nil {
		runner = &source.Exec{Timeout: cfg.Timeout}
	}
	buttons := make([]service.Button, 0, len(cfg.Buttons))
	for _, b := range cfg.Buttons {
		buttons = append(buttons, service.Button{ID: b.ID, Name: b.Name, Icon: b.Icon, Argv: b.Command})
	}
	svc, err := service.NewCommandService(Commands, topic.Parse(cfg.Subtopic), runner, buttons...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
