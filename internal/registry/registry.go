// Package registry holds values registered by name, safe for concurrent
// use.
package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/alphadose/haxmap"
)

// ErrDuplicate is returned when a name is registered twice.
var ErrDuplicate = errors.New("already registered")

type Registry[T any] struct {
	values *haxmap.Map[string, T]
}

func New[T any]() *Registry[T] {
	return &Registry[T]{
		values: haxmap.New[string, T](),
	}
}

// Register adds value under name unless the name is taken.
func (r *Registry[T]) Register(name string, value T) error {
	if _, loaded := r.values.GetOrSet(name, value); loaded {
		return fmt.Errorf("%q %w", name, ErrDuplicate)
	}
	return nil
}

// Replace adds value under name, replacing any previous value.
func (r *Registry[T]) Replace(name string, value T) {
	r.values.Set(name, value)
}

func (r *Registry[T]) Get(name string) (T, bool) {
	return r.values.Get(name)
}

func (r *Registry[T]) Del(name string) {
	r.values.Del(name)
}

// Names returns the registered names, sorted.
func (r *Registry[T]) Names() []string {
	names := make([]string, 0, r.values.Len())
	r.values.ForEach(func(name string, _ T) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}
