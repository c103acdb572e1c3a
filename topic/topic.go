// Package topic implements the hierarchical topic paths used on the broker.
//
// A Topic is an ordered list of segments that renders to a single string
// joined with Separator. Segments are validated when a topic is composed, so
// a rendered topic can always be split back into the segments it was built
// from.
//
// Example usage:
//
//	base := topic.MustNew("mqtt4w", "workstation")
//	state, err := base.Join("dpms", "state")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(state) // mqtt4w/workstation/dpms/state
package topic

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Separator is the character that joins topic segments.
const Separator = "/"

// ErrInvalidSegment is returned when a segment is empty or contains the separator.
var ErrInvalidSegment = errors.New("invalid topic segment")

// Topic is an ordered sequence of path segments.
type Topic []string

// New builds a topic from the provided segments.
func New(segments ...string) (Topic, error) {
	return Join(nil, segments...)
}

// MustNew is like New but panics when a segment is invalid.
func MustNew(segments ...string) Topic {
	t, err := New(segments...)
	if err != nil {
		panic(err)
	}
	return t
}

// Join returns a new topic made of base followed by segments. The base is
// never modified.
func Join(base Topic, segments ...string) (Topic, error) {
	for _, segment := range segments {
		if err := validate(segment); err != nil {
			return nil, err
		}
	}
	joined := make(Topic, 0, len(base)+len(segments))
	joined = append(joined, base...)
	return append(joined, segments...), nil
}

// Parse splits a rendered topic into its segments. Empty segments, such as
// the ones produced by leading, trailing or doubled separators, are dropped.
func Parse(s string) Topic {
	var t Topic
	for _, segment := range strings.Split(s, Separator) {
		if segment != "" {
			t = append(t, segment)
		}
	}
	return t
}

// Join appends segments to the topic and returns the result.
func (t Topic) Join(segments ...string) (Topic, error) {
	return Join(t, segments...)
}

// Append concatenates another topic. Both topics are assumed to be valid.
func (t Topic) Append(other Topic) Topic {
	joined := make(Topic, 0, len(t)+len(other))
	joined = append(joined, t...)
	return append(joined, other...)
}

// String renders the topic.
func (t Topic) String() string {
	return strings.Join(t, Separator)
}

// Equal reports whether both topics have the same segments.
func (t Topic) Equal(other Topic) bool {
	return slices.Equal(t, other)
}

// IsZero reports whether the topic has no segments.
func (t Topic) IsZero() bool {
	return len(t) == 0
}

// Validate checks every segment of an existing topic, for instance one
// assembled from configuration with Parse.
func (t Topic) Validate() error {
	if t.IsZero() {
		return fmt.Errorf("%w: topic is empty", ErrInvalidSegment)
	}
	for _, segment := range t {
		if err := validate(segment); err != nil {
			return err
		}
	}
	return nil
}

func validate(segment string) error {
	if segment == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidSegment)
	}
	if strings.Contains(segment, Separator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidSegment, segment, Separator)
	}
	return nil
}
