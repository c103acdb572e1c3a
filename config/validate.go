package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/topic"
)

// ErrDuplicateEntity is returned when two services declare an entity of the
// same kind with the same id.
var ErrDuplicateEntity = errors.New("duplicate entity")

// ServiceConfigError reports an invalid service section.
type ServiceConfigError struct {
	Service string
	Err     error
}

func (e *ServiceConfigError) Error() string {
	return fmt.Sprintf("services.%s: %v", e.Service, e.Err)
}

func (e *ServiceConfigError) Unwrap() error { return e.Err }

var logLevels = []string{"CRITICAL", "ERROR", "WARNING", "INFO", "DEBUG"}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.UniqueID == "" {
		errs = append(errs, errors.New("unique_id is empty"))
	}
	if _, err := c.Root(); err != nil {
		errs = append(errs, err)
	}
	if err := topic.Parse(c.MQTT.AvailabilitySubtopic).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mqtt.availability_subtopic: %w", err))
	}
	if c.MQTT.Discovery.Enabled {
		if err := topic.Parse(c.MQTT.Discovery.Prefix).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mqtt.discovery.prefix: %w", err))
		}
	}
	if c.MQTT.Transport != TransportMQTT && c.MQTT.Transport != TransportNATS {
		errs = append(errs, fmt.Errorf("mqtt.transport: unknown transport %q (supported: %s, %s)", c.MQTT.Transport, TransportMQTT, TransportNATS))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos: %d is not 0, 1 or 2", c.MQTT.QoS))
	}
	if c.MQTT.Client.Port < 0 || c.MQTT.Client.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.client.port: %d out of range", c.MQTT.Client.Port))
	}
	if c.MQTT.PublishTimeout <= 0 {
		errs = append(errs, errors.New("mqtt.publish_timeout must be positive"))
	}
	if c.MQTT.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("mqtt.reconnect_interval must be positive"))
	}
	if !slices.Contains(logLevels, strings.ToUpper(c.Logging.Level)) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	errs = append(errs, c.Services.validate()...)
	return errors.Join(errs...)
}

func (s *Services) validate() []error {
	var errs []error
	if s.WindowsTracker.Enabled {
		errs = appendServiceError(errs, "windows_tracker", validateSensors(s.WindowsTracker.Subtopic, s.WindowsTracker.Sensors, false))
		if s.WindowsTracker.PollInterval <= 0 {
			errs = append(errs, &ServiceConfigError{"windows_tracker", errors.New("poll_interval must be positive")})
		}
	}
	if s.FileUsage.Enabled {
		errs = appendServiceError(errs, "file_usage", validateSensors(s.FileUsage.Subtopic, s.FileUsage.Sensors, true))
	}
	if s.DPMS.Enabled {
		errs = appendServiceError(errs, "dpms", topic.Parse(s.DPMS.Subtopic).Validate())
		if s.DPMS.CheckInterval <= 0 {
			errs = append(errs, &ServiceConfigError{"dpms", errors.New("check_interval must be positive")})
		}
	}
	if s.Commands.Enabled {
		errs = appendServiceError(errs, "commands", s.Commands.validate())
	}
	return append(errs, s.validateEntities()...)
}

type entityKey struct {
	kind discovery.Kind
	id   string
}

type declaredEntity struct {
	service string
	key     entityKey
}

// entities lists the entities declared by the enabled services.
func (s *Services) entities() []declaredEntity {
	var out []declaredEntity
	add := func(service string, kind discovery.Kind, id string) {
		out = append(out, declaredEntity{service, entityKey{kind, id}})
	}
	if s.WindowsTracker.Enabled {
		for pair := range s.WindowsTracker.Sensors.pairs() {
			add("windows_tracker", discovery.KindBinarySensor, pair.Key)
		}
		if s.WindowsTracker.ExposeActiveWindow {
			add("windows_tracker", discovery.KindBinarySensor, FullscreenSensor)
			add("windows_tracker", discovery.KindSensor, ActiveWindowTitle)
		}
	}
	if s.FileUsage.Enabled {
		for pair := range s.FileUsage.Sensors.pairs() {
			add("file_usage", discovery.KindBinarySensor, pair.Key)
		}
	}
	if s.DPMS.Enabled {
		add("dpms", discovery.KindBinarySensor, DPMSSensor)
	}
	if s.Commands.Enabled {
		for _, b := range s.Commands.Buttons {
			add("commands", discovery.KindButton, b.ID)
		}
	}
	return out
}

// validateEntities rejects entities of the same kind and id, which would
// share a discovery topic and a unique id. Duplicate button ids are already
// reported by the commands section.
func (s *Services) validateEntities() []error {
	var errs []error
	owners := make(map[entityKey]string)
	for _, e := range s.entities() {
		owner, dup := owners[e.key]
		if !dup {
			owners[e.key] = e.service
			continue
		}
		if owner == e.service && e.key.kind == discovery.KindButton {
			continue
		}
		errs = append(errs, &ServiceConfigError{
			Service: e.service,
			Err:     fmt.Errorf("%w: %s %q is also declared by %s", ErrDuplicateEntity, e.key.kind, e.key.id, owner),
		})
	}
	return errs
}

func appendServiceError(errs []error, service string, err error) []error {
	if err == nil {
		return errs
	}
	return append(errs, &ServiceConfigError{Service: service, Err: err})
}

// validateSensors checks that sensor names are topic segments and that
// every sensor tracks something. With exclusive, a key may belong to a
// single sensor.
func validateSensors(subtopic string, sensors SensorMap, exclusive bool) error {
	var errs []error
	if err := topic.Parse(subtopic).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("subtopic: %w", err))
	}
	owners := make(map[string]string)
	for pair := range sensors.pairs() {
		if _, err := topic.New(pair.Key); err != nil {
			errs = append(errs, fmt.Errorf("sensor name: %w", err))
		}
		if len(pair.Value) == 0 {
			errs = append(errs, fmt.Errorf("sensor %q tracks nothing", pair.Key))
		}
		for _, key := range pair.Value {
			if key == "" {
				errs = append(errs, fmt.Errorf("sensor %q has an empty key", pair.Key))
				continue
			}
			if owner, dup := owners[key]; dup && exclusive {
				errs = append(errs, fmt.Errorf("%q is tracked by %q and %q", key, owner, pair.Key))
			}
			owners[key] = pair.Key
		}
	}
	return errors.Join(errs...)
}

func (c *Commands) validate() error {
	var errs []error
	if err := topic.Parse(c.Subtopic).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("subtopic: %w", err))
	}
	seen := make(map[string]bool, len(c.Buttons))
	for i, b := range c.Buttons {
		if _, err := topic.New(b.ID); err != nil {
			errs = append(errs, fmt.Errorf("buttons[%d].id: %w", i, err))
		}
		if seen[b.ID] {
			errs = append(errs, fmt.Errorf("buttons[%d]: duplicate id %q", i, b.ID))
		}
		seen[b.ID] = true
		if len(b.Command) == 0 || b.Command[0] == "" {
			errs = append(errs, fmt.Errorf("buttons[%d]: command is empty", i))
		}
	}
	return errors.Join(errs...)
}
