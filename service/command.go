package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/topic"
)

// PayloadPress is the payload sent by a pressed button.
const PayloadPress = "PRESS"

// Runner executes a command line.
type Runner interface {
	Run(ctx context.Context, argv []string) error
}

// Button is a command exposed as a button entity.
type Button struct {
	ID   string
	Name string
	Icon string
	Argv []string
}

// CommandService exposes buttons and runs their command when pressed.
type CommandService struct {
	name     string
	subtopic topic.Topic
	buttons  []Button
	topics   []topic.Topic
	runner   Runner
	logger   *slog.Logger
}

// NewCommandService creates a service publishing no state, only buttons.
func NewCommandService(name string, subtopic topic.Topic, runner Runner, buttons ...Button) (*CommandService, error) {
	if err := subtopic.Validate(); err != nil {
		return nil, fmt.Errorf("subtopic of %s: %w", name, err)
	}
	s := &CommandService{
		name:     name,
		subtopic: subtopic,
		buttons:  buttons,
		topics:   make([]topic.Topic, 0, len(buttons)),
		runner:   runner,
		logger:   slog.Default().With(slogx.Service(name)),
	}
	for _, b := range buttons {
		if len(b.Argv) == 0 {
			return nil, fmt.Errorf("button %q of %s has no command", b.ID, name)
		}
		t, err := subtopic.Join(b.ID, "press")
		if err != nil {
			return nil, fmt.Errorf("button %q of %s: %w", b.ID, name, err)
		}
		s.topics = append(s.topics, t)
	}
	return s, nil
}

func (s *CommandService) Name() string { return s.name }

func (s *CommandService) Subtopic() topic.Topic { return s.subtopic }

// Run has nothing to produce and waits for the epoch to end.
func (s *CommandService) Run(ctx context.Context, _ chan<- Event) error {
	<-ctx.Done()
	return ctx.Err()
}

// Entities declares one button per configured command.
func (s *CommandService) Entities() []discovery.Entity {
	entities := make([]discovery.Entity, 0, len(s.buttons))
	for _, b := range s.buttons {
		name := b.Name
		if name == "" {
			name = b.ID
		}
		entities = append(entities, discovery.Button(b.ID, discovery.Subconfig{
			Name:         name,
			Icon:         b.Icon,
			CommandTopic: b.ID + topic.Separator + "press",
			PayloadPress: PayloadPress,
		}))
	}
	return entities
}

// Commands binds the press topic of every button to its command line.
func (s *CommandService) Commands() []Command {
	commands := make([]Command, 0, len(s.buttons))
	for i, b := range s.buttons {
		commands = append(commands, Command{
			Topic:  s.topics[i],
			Handle: s.handler(b),
		})
	}
	return commands
}

func (s *CommandService) handler(b Button) func(context.Context, string) error {
	return func(ctx context.Context, payload string) error {
		if payload != PayloadPress {
			s.logger.DebugContext(ctx, "ignoring payload", slog.String("button", b.ID), slog.String("payload", payload))
			return nil
		}
		s.logger.InfoContext(ctx, "button pressed", slog.String("button", b.ID))
		if err := s.runner.Run(ctx, b.Argv); err != nil {
			return fmt.Errorf("button %s: %w", b.ID, err)
		}
		return nil
	}
}
