package config

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Entity ids declared by the built-in services besides the configured
// sensors and buttons.
const (
	DPMSSensor        = "dpms_state"
	FullscreenSensor  = "fullscreen"
	ActiveWindowTitle = "active_window_title"
)

// Services configures every service the workstation can run.
type Services struct {
	WindowsTracker WindowsTracker `yaml:"windows_tracker,omitempty"`
	FileUsage      FileUsage      `yaml:"file_usage,omitempty"`
	DPMS           DPMS           `yaml:"dpms,omitempty"`
	Commands       Commands       `yaml:"commands,omitempty"`
}

// WindowsTracker turns sensors on while a window with one of their titles
// exists. With ExposeActiveWindow, the title and fullscreen state of the
// active window are published under the active_window subtopic.
type WindowsTracker struct {
	Enabled            bool          `yaml:"enabled" jsonschema:"default=true"`
	Subtopic           string        `yaml:"subtopic,omitempty" jsonschema:"default=windows_tracker"`
	Display            string        `yaml:"display,omitempty" jsonschema:"description=X11 display; defaults to $DISPLAY"`
	PollInterval       time.Duration `yaml:"poll_interval,omitempty" jsonschema:"type=string,example=2s"`
	Debounce           time.Duration `yaml:"debounce,omitempty" jsonschema:"type=string,example=1s"`
	ExposeActiveWindow bool          `yaml:"expose_active_window" jsonschema:"default=true"`
	Sensors            SensorMap     `yaml:"sensors,omitempty" jsonschema:"description=Sensor name to the exact window titles it tracks"`
}

// FileUsage turns sensors on while one of their files is open, a camera or
// a microphone device for instance.
type FileUsage struct {
	Enabled  bool          `yaml:"enabled" jsonschema:"default=true"`
	Subtopic string        `yaml:"subtopic,omitempty" jsonschema:"default=file_usage_tracker"`
	Procfs   string        `yaml:"procfs,omitempty" jsonschema:"default=/proc"`
	Debounce time.Duration `yaml:"debounce,omitempty" jsonschema:"type=string,example=1s"`
	Sensors  SensorMap     `yaml:"sensors,omitempty" jsonschema:"description=Sensor name to the file paths it tracks"`
}

// DPMS exposes the display power state.
type DPMS struct {
	Enabled       bool          `yaml:"enabled"`
	Subtopic      string        `yaml:"subtopic,omitempty" jsonschema:"default=dpms"`
	Display       string        `yaml:"display,omitempty" jsonschema:"description=X11 display; defaults to $DISPLAY"`
	CheckInterval time.Duration `yaml:"check_interval,omitempty" jsonschema:"type=string,example=5s"`
	Debounce      time.Duration `yaml:"debounce,omitempty" jsonschema:"type=string,example=1s"`
}

// Commands exposes buttons running a command line when pressed.
type Commands struct {
	Enabled  bool          `yaml:"enabled" jsonschema:"default=true"`
	Subtopic string        `yaml:"subtopic,omitempty" jsonschema:"default=commands"`
	Timeout  time.Duration `yaml:"timeout,omitempty" jsonschema:"type=string,example=30s"`
	Buttons  []Button      `yaml:"buttons,omitempty"`
}

type Button struct {
	ID      string   `yaml:"id" jsonschema:"required"`
	Name    string   `yaml:"name,omitempty"`
	Icon    string   `yaml:"icon,omitempty" jsonschema:"example=mdi:lock"`
	Command []string `yaml:"command" jsonschema:"required,minItems=1"`
}

func defaultServices() Services {
	return Services{
		WindowsTracker: WindowsTracker{
			Enabled:      true,
			Subtopic:     "windows_tracker",
			PollInterval:       2 * time.Second,
			Debounce:           time.Second,
			ExposeActiveWindow: true,
		},
		FileUsage: FileUsage{
			Enabled:  true,
			Subtopic: "file_usage_tracker",
			Debounce: time.Second,
		},
		DPMS: DPMS{
			Subtopic:      "dpms",
			CheckInterval: 5 * time.Second,
			Debounce:      time.Second,
		},
		Commands: Commands{
			Enabled:  true,
			Subtopic: "commands",
			Timeout:  30 * time.Second,
		},
	}
}

// SensorMap maps sensor names to the keys they track, in file order. A
// single key may be written as a scalar.
type SensorMap struct {
	*orderedmap.OrderedMap[string, []string]
}

// NewSensorMap builds a map of one sensor. Use Set for more.
func NewSensorMap(name string, keys ...string) SensorMap {
	m := SensorMap{orderedmap.New[string, []string]()}
	m.Set(name, keys)
	return m
}

func (m *SensorMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: sensors must be a mapping of name to keys", value.Line)
	}
	m.OrderedMap = orderedmap.New[string, []string]()
	for i := 0; i+1 < len(value.Content); i += 2 {
		var name string
		if err := value.Content[i].Decode(&name); err != nil {
			return err
		}
		keyNode := value.Content[i+1]
		var keys []string
		if keyNode.Kind == yaml.ScalarNode {
			keys = []string{keyNode.Value}
		} else if err := keyNode.Decode(&keys); err != nil {
			return fmt.Errorf("sensor %q: %w", name, err)
		}
		if _, present := m.Set(name, keys); present {
			return fmt.Errorf("line %d: sensor %q declared twice", value.Content[i].Line, name)
		}
	}
	return nil
}

// MarshalYAML keeps the file order.
func (m SensorMap) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for pair := range m.pairs() {
		var keys yaml.Node
		if err := keys.Encode(pair.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: pair.Key}, &keys)
	}
	return node, nil
}

// Len is zero for an unset map.
func (m SensorMap) Len() int {
	if m.OrderedMap == nil {
		return 0
	}
	return m.OrderedMap.Len()
}

// Ordered returns the underlying map, never nil.
func (m SensorMap) Ordered() *orderedmap.OrderedMap[string, []string] {
	if m.OrderedMap == nil {
		return orderedmap.New[string, []string]()
	}
	return m.OrderedMap
}

func (m SensorMap) pairs() func(func(*orderedmap.Pair[string, []string]) bool) {
	return func(yield func(*orderedmap.Pair[string, []string]) bool) {
		if m.OrderedMap == nil {
			return
		}
		for pair := m.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair) {
				return
			}
		}
	}
}

func (SensorMap) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		AdditionalProperties: &jsonschema.Schema{
			OneOf: []*jsonschema.Schema{
				{Type: "string"},
				{Type: "array", Items: &jsonschema.Schema{Type: "string"}, MinItems: ptr(uint64(1))},
			},
		},
	}
}

func ptr[T any](v T) *T { return &v }
