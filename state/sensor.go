package state

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Sensor is a named boolean exposed externally, derived from one or more
// tracked keys. It is enabled when any of its keys is true.
type Sensor struct {
	entities *orderedmap.OrderedMap[string, bool]
}

// NewSensor creates a sensor tracking keys, all initially false.
func NewSensor(keys ...string) *Sensor {
	s := &Sensor{entities: orderedmap.New[string, bool]()}
	for _, key := range keys {
		s.entities.Set(key, false)
	}
	return s
}

// Set records the value of a tracked key. It reports false, and does
// nothing, when the key is not tracked by this sensor.
func (s *Sensor) Set(key string, value bool) bool {
	if _, ok := s.entities.Get(key); !ok {
		return false
	}
	s.entities.Set(key, value)
	return true
}

// Get returns the value of a tracked key.
func (s *Sensor) Get(key string) (bool, bool) {
	return s.entities.Get(key)
}

// Enabled is the logical OR of every tracked key.
func (s *Sensor) Enabled() bool {
	for pair := s.entities.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value {
			return true
		}
	}
	return false
}

// Keys returns the tracked keys in declaration order.
func (s *Sensor) Keys() []string {
	keys := make([]string, 0, s.entities.Len())
	for pair := s.entities.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}
