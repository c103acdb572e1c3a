// Package state computes binary sensor states and the changes between two
// observations.
//
// The package has three parts:
//   - Sensor groups several tracked keys into one boolean (logical OR)
//   - States is an insertion ordered mapping of sensor name to value, and
//     Diff computes which sensors changed between two States
//   - Debouncer delays the emission of a changed value until it settles,
//     collapsing rapid flapping into a single event
package state

import (
	"iter"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Binary sensor payloads.
const (
	On  = "ON"
	Off = "OFF"
)

// Payload renders a boolean as a binary sensor payload.
func Payload(v bool) string {
	if v {
		return On
	}
	return Off
}

// States maps sensor names to their boolean value and remembers the order
// in which names were first set.
type States struct {
	values *orderedmap.OrderedMap[string, bool]
}

// NewStates creates an empty States.
func NewStates() *States {
	return &States{values: orderedmap.New[string, bool]()}
}

// StatesOf builds States from alternating name/value pairs, which keeps
// table driven tests readable.
func StatesOf(pairs ...any) *States {
	s := NewStates()
	for i := 0; i+1 < len(pairs); i += 2 {
		s.Set(pairs[i].(string), pairs[i+1].(bool))
	}
	return s
}

// Set stores the value for name. Updating an existing name keeps its position.
func (s *States) Set(name string, value bool) {
	s.values.Set(name, value)
}

// Get returns the value for name and whether it is present.
func (s *States) Get(name string) (bool, bool) {
	if s == nil {
		return false, false
	}
	return s.values.Get(name)
}

// Len returns the number of sensors.
func (s *States) Len() int {
	if s == nil {
		return 0
	}
	return s.values.Len()
}

// All iterates over the sensors in insertion order.
func (s *States) All() iter.Seq2[string, bool] {
	return func(yield func(string, bool) bool) {
		if s == nil {
			return
		}
		for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Names returns the sensor names in insertion order.
func (s *States) Names() []string {
	names := make([]string, 0, s.Len())
	for name := range s.All() {
		names = append(names, name)
	}
	return names
}

// Clone returns an independent copy.
func (s *States) Clone() *States {
	c := NewStates()
	for name, value := range s.All() {
		c.Set(name, value)
	}
	return c
}

// Diff returns the sensors of next whose value differs from prev, in the
// order of next. A sensor missing from prev counts as false.
//
// When prev is empty the observation is the first one and the complete next
// snapshot is returned, so that subscribers learn every value at startup.
// Neither argument is modified: callers replace prev with next themselves
// once the changes are consumed.
func Diff(prev, next *States) *States {
	if prev.Len() == 0 {
		return next.Clone()
	}
	changed := NewStates()
	for name, value := range next.All() {
		old, _ := prev.Get(name)
		if old != value {
			changed.Set(name, value)
		}
	}
	return changed
}
