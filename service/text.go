package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/topic"
	"github.com/fogfish/opts"
)

// TextSource reads a text value, the title of the active window for
// instance, and signals when it may have changed.
type TextSource interface {
	Read(ctx context.Context) (string, error)
	// Changes is signalled when the value may have changed. The channel is
	// closed when the source fails or ctx is done.
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// TextService publishes a text value on a single topic whenever it changes.
type TextService struct {
	name         string
	subtopic     topic.Topic
	entityID     string
	segment      string
	stateTopic   topic.Topic
	source       TextSource
	template     discovery.Subconfig
	failureLimit int
	logger       *slog.Logger
}

var (
	// WithTextTemplate sets the discovery fields of the declared sensor.
	WithTextTemplate = opts.ForName[TextService, discovery.Subconfig]("template")
	// WithTextFailureLimit sets the number of consecutive failed reads
	// tolerated, DefaultFailureLimit by default.
	WithTextFailureLimit = opts.ForName[TextService, int]("failureLimit")
)

// NewTextService creates a service named name publishing the value of source
// on subtopic/segment, declared as the sensor entityID.
func NewTextService(name string, subtopic topic.Topic, entityID, segment string, source TextSource, options ...opts.Option[TextService]) (*TextService, error) {
	if err := subtopic.Validate(); err != nil {
		return nil, fmt.Errorf("subtopic of %s: %w", name, err)
	}
	stateTopic, err := subtopic.Join(segment)
	if err != nil {
		return nil, fmt.Errorf("state topic of %s: %w", name, err)
	}
	s := &TextService{
		name:         name,
		subtopic:     subtopic,
		entityID:     entityID,
		segment:      segment,
		stateTopic:   stateTopic,
		source:       source,
		failureLimit: DefaultFailureLimit,
		logger:       slog.Default().With(slogx.Service(name)),
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the service name.
func (s *TextService) Name() string { return s.name }

// Subtopic returns the topic of the service relative to the workstation root.
func (s *TextService) Subtopic() topic.Topic { return s.subtopic }

// Entities declares the text sensor.
func (s *TextService) Entities() []discovery.Entity {
	sc := s.template
	if sc.Name == "" {
		sc.Name = s.entityID
	}
	sc.StateTopic = s.segment
	return []discovery.Entity{discovery.Sensor(s.entityID, sc)}
}

// Run publishes the current value, then every distinct value read after a
// change signal. A failed read keeps the last published value until
// failureLimit reads in a row have failed.
func (s *TextService) Run(ctx context.Context, out chan<- Event) error {
	changes, err := s.source.Changes(ctx)
	if err != nil {
		return s.failed(ctx, err)
	}

	failures := 0
	read := func() (string, bool, error) {
		value, err := s.source.Read(ctx)
		if err == nil {
			failures = 0
			return value, true, nil
		}
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		failures++
		if failures >= s.failureLimit {
			return "", false, fmt.Errorf("%s: %w: %d consecutive failures: %w", s.name, ErrSourceUnavailable, failures, err)
		}
		s.logger.WarnContext(ctx, "read failed, keeping last value", slog.Int("failures", failures), slogx.Error(err))
		return "", false, nil
	}

	current, _, err := read()
	if err != nil {
		return err
	}
	if err := send(ctx, out, NewEvent(s.stateTopic, current)); err != nil {
		return err
	}

	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return s.failed(ctx, fmt.Errorf("%w: changes closed", ErrSourceUnavailable))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		next, ok, err := read()
		if err != nil {
			return err
		}
		if !ok || next == current {
			continue
		}
		s.logger.Debug("value changed", slog.String("value", next))
		current = next
		if err := send(ctx, out, NewEvent(s.stateTopic, current)); err != nil {
			return err
		}
	}
}

func (s *TextService) failed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w: %w", s.name, ErrSourceUnavailable, err)
}
