package discovery

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrInvalidEntity is returned when a descriptor cannot be compiled.
var ErrInvalidEntity = errors.New("invalid entity")

// Kind is the entity category understood by the home automation platform.
type Kind string

const (
	KindBinarySensor Kind = "binary_sensor"
	KindButton       Kind = "button"
	KindSensor       Kind = "sensor"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBinarySensor, KindButton, KindSensor:
		return true
	default:
		return false
	}
}

// Subconfig is the set of protocol fields an entity declares for itself.
// StateTopic and CommandTopic are relative to the topic of the service that
// owns the entity. Empty fields are omitted from the compiled payload.
type Subconfig struct {
	Name         string         `yaml:"name" json:"name"`
	Icon         string         `yaml:"icon,omitempty" json:"icon,omitempty"`
	DeviceClass  string         `yaml:"device_class,omitempty" json:"device_class,omitempty"`
	StateTopic   string         `yaml:"state_topic,omitempty" json:"state_topic,omitempty"`
	CommandTopic string         `yaml:"command_topic,omitempty" json:"command_topic,omitempty"`
	PayloadOn    string         `yaml:"payload_on,omitempty" json:"payload_on,omitempty"`
	PayloadOff   string         `yaml:"payload_off,omitempty" json:"payload_off,omitempty"`
	PayloadPress string         `yaml:"payload_press,omitempty" json:"payload_press,omitempty"`
	Extra        map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// fields returns the non empty fields in a stable order: the typed fields
// first, then Extra sorted by key.
func (s Subconfig) fields() *orderedmap.OrderedMap[string, any] {
	out := orderedmap.New[string, any]()
	add := func(key, value string) {
		if value != "" {
			out.Set(key, value)
		}
	}
	add("name", s.Name)
	add("icon", s.Icon)
	add("device_class", s.DeviceClass)
	add("state_topic", s.StateTopic)
	add("command_topic", s.CommandTopic)
	add("payload_on", s.PayloadOn)
	add("payload_off", s.PayloadOff)
	add("payload_press", s.PayloadPress)
	for _, key := range slices.Sorted(maps.Keys(s.Extra)) {
		if _, typed := out.Get(key); typed {
			continue
		}
		out.Set(key, s.Extra[key])
	}
	return out
}

// Entity describes one externally visible entity of a service.
type Entity struct {
	Kind      Kind
	ID        string
	Subconfig Subconfig
}

// BinarySensor declares a binary sensor entity.
func BinarySensor(id string, subconfig Subconfig) Entity {
	return Entity{Kind: KindBinarySensor, ID: id, Subconfig: subconfig}
}

// Sensor declares a sensor entity with a text or numeric state.
func Sensor(id string, subconfig Subconfig) Entity {
	return Entity{Kind: KindSensor, ID: id, Subconfig: subconfig}
}

// Button declares a button entity.
func Button(id string, subconfig Subconfig) Entity {
	return Entity{Kind: KindButton, ID: id, Subconfig: subconfig}
}

// Validate checks the parts of the descriptor the compiler depends on.
func (e Entity) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntity, e.Kind)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEntity)
	}
	if e.Subconfig.Name == "" {
		return fmt.Errorf("%w: %s %q has no name", ErrInvalidEntity, e.Kind, e.ID)
	}
	return nil
}
