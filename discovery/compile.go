// Package discovery compiles entity descriptors into the retained
// configuration messages used for automatic entity discovery.
//
// A compiled payload is the ordered merge, later sources winning, of
//
//	{uniq_id} < entity subconfig < {device} < {availability}
//
// serialized as compact JSON in insertion order, so identical inputs always
// produce byte identical payloads.
package discovery

import (
	"fmt"

	"github.com/casualjim/mqtt4w/topic"
	"github.com/goccy/go-json"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// Defaults for the device block.
const (
	DefaultManufacturer = "Jumper Heavy Industries"
	DefaultModel        = "MQTT4Workstations"
)

// Identity describes the workstation that owns every entity.
type Identity struct {
	UniqueID        string
	WorkstationName string
	Manufacturer    string
	Model           string
	Version         string
}

// ExpandedID is the globally unique id of an entity of this workstation.
func (id Identity) ExpandedID(entityID string) string {
	return id.UniqueID + "_" + entityID
}

// Config is a compiled discovery message. Topic is relative to the
// discovery prefix.
type Config struct {
	Topic   topic.Topic
	Payload []byte
}

// Compile turns an entity into its discovery message.
//
// serviceBase and availability are absolute topics: relative state and
// command topics of the entity are resolved against serviceBase. The entity
// itself is never modified.
func Compile(entity Entity, identity Identity, serviceBase, availability topic.Topic) (Config, error) {
	if err := entity.Validate(); err != nil {
		return Config{}, err
	}
	if identity.UniqueID == "" {
		return Config{}, fmt.Errorf("%w: identity has no unique id", ErrInvalidEntity)
	}

	expanded := identity.ExpandedID(entity.ID)
	configTopic, err := topic.New(string(entity.Kind), expanded, "config")
	if err != nil {
		return Config{}, fmt.Errorf("discovery topic for %s: %w", entity.ID, err)
	}

	fields := entity.Subconfig.fields()
	for _, key := range []string{"state_topic", "command_topic"} {
		v, ok := fields.Get(key)
		if !ok {
			continue
		}
		rel := topic.Parse(v.(string))
		if err := rel.Validate(); err != nil {
			return Config{}, fmt.Errorf("%s of %s: %w", key, entity.ID, err)
		}
		fields.Set(key, serviceBase.Append(rel).String())
	}

	merged := orderedmap.New[string, any]()
	merged.Set("uniq_id", expanded)
	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		merged.Set(pair.Key, pair.Value)
	}
	merged.Set("device", deviceBlock(identity))
	merged.Set("availability_topic", availability.String())
	merged.Set("payload_available", Online)
	merged.Set("payload_not_available", Offline)

	payload, err := json.Marshal(merged)
	if err != nil {
		return Config{}, fmt.Errorf("encode discovery payload for %s: %w", entity.ID, err)
	}
	return Config{Topic: configTopic, Payload: payload}, nil
}

func deviceBlock(identity Identity) *orderedmap.OrderedMap[string, any] {
	manufacturer, model := identity.Manufacturer, identity.Model
	if manufacturer == "" {
		manufacturer = DefaultManufacturer
	}
	if model == "" {
		model = DefaultModel
	}

	device := orderedmap.New[string, any]()
	device.Set("name", identity.WorkstationName)
	device.Set("manufacturer", manufacturer)
	device.Set("model", model)
	device.Set("sw_version", identity.Version)
	device.Set("identifiers", []string{identity.UniqueID})
	return device
}
