// Package service defines the contract between the supervisor and the
// state producing services, together with the generic binary sensor loop
// and the command (button) service.
//
// A service is built fresh for every connection epoch. It exposes its
// capabilities through small interfaces: every service can Run, some are
// Discoverable and some are Commanders.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/topic"
	"github.com/go-openapi/strfmt"
)

// ErrSourceUnavailable is returned by a service when its signal source fails
// or closes. The service ends; it is not restarted within the same epoch.
var ErrSourceUnavailable = errors.New("signal source unavailable")

// Event is an outgoing message.
//
// State topics are relative to the workstation root, discovery topics are
// relative to the discovery prefix.
type Event struct {
	Topic     topic.Topic
	Payload   string
	Discovery bool
	At        strfmt.DateTime
}

// NewEvent creates a state event observed now.
func NewEvent(t topic.Topic, payload string) Event {
	return Event{Topic: t, Payload: payload, At: strfmt.DateTime(time.Now())}
}

// DiscoveryEvent wraps a compiled discovery message.
func DiscoveryEvent(cfg discovery.Config) Event {
	return Event{
		Topic:     cfg.Topic,
		Payload:   string(cfg.Payload),
		Discovery: true,
		At:        strfmt.DateTime(time.Now()),
	}
}

// Service produces events until its context is cancelled or its source
// fails.
type Service interface {
	Name() string
	// Subtopic is the topic of the service relative to the workstation root.
	Subtopic() topic.Topic
	// Run emits events on out. It returns ctx.Err() on cancellation and an
	// error wrapping ErrSourceUnavailable when the source fails.
	Run(ctx context.Context, out chan<- Event) error
}

// Discoverable services declare entities for automatic discovery.
type Discoverable interface {
	Entities() []discovery.Entity
}

// Commander services react to incoming messages.
type Commander interface {
	Commands() []Command
}

// Command binds a handler to a topic relative to the workstation root.
type Command struct {
	Topic  topic.Topic
	Handle func(ctx context.Context, payload string) error
}

// Builder creates a fresh set of services for a connection epoch.
type Builder interface {
	Build(ctx context.Context) ([]Service, error)
}

// BuilderFunc adapts a function to a Builder.
type BuilderFunc func(ctx context.Context) ([]Service, error)

// Build calls f.
func (f BuilderFunc) Build(ctx context.Context) ([]Service, error) {
	return f(ctx)
}

// send delivers an event or gives up when ctx is done.
func send(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
