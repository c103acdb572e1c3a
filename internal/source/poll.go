package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/fogfish/opts"
)

// Default polling settings.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultCommandTimeout = 10 * time.Second
)

// LabelOn is the label reported by DisplayPower while the monitor is on.
const LabelOn = "on"

// Outputter runs a command and returns its standard output.
type Outputter interface {
	Output(ctx context.Context, argv []string) ([]byte, error)
}

// CommandEnumerator lists labels parsed from the output of a command and
// signals a possible change every interval.
type CommandEnumerator struct {
	argv     []string
	parse    func([]byte) []string
	interval time.Duration
	clock    clock.Clock
	exec     Outputter
}

var (
	// WithClock sets the clock driving the polling ticker.
	WithClock = opts.ForName[CommandEnumerator, clock.Clock]("clock")

	// WithOutputter replaces how the command is run.
	WithOutputter = opts.ForName[CommandEnumerator, Outputter]("exec")
)

// NewCommandEnumerator polls argv every interval. A non-positive interval
// means DefaultPollInterval.
func NewCommandEnumerator(argv []string, parse func([]byte) []string, interval time.Duration, options ...opts.Option[CommandEnumerator]) (*CommandEnumerator, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	if parse == nil {
		return nil, errors.New("command enumerator: a parser is required")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	e := &CommandEnumerator{
		argv:     argv,
		parse:    parse,
		interval: interval,
		clock:    clock.New(),
		exec:     &Exec{Timeout: DefaultCommandTimeout},
	}
	if err := opts.Apply(e, options); err != nil {
		return nil, err
	}
	return e, nil
}

// Windows enumerates the titles of the windows managed on display, using
// wmctrl.
func Windows(display string, interval time.Duration, options ...opts.Option[CommandEnumerator]) (*CommandEnumerator, error) {
	exec := &Exec{Env: DisplayEnv(display), Timeout: DefaultCommandTimeout}
	return NewCommandEnumerator([]string{"wmctrl", "-l"}, ParseWindowTitles, interval,
		append([]opts.Option[CommandEnumerator]{WithOutputter(exec)}, options...)...)
}

// DisplayPower reports LabelOn while the monitor of display is powered on,
// using xset.
func DisplayPower(display string, interval time.Duration, options ...opts.Option[CommandEnumerator]) (*CommandEnumerator, error) {
	exec := &Exec{Env: DisplayEnv(display), Timeout: DefaultCommandTimeout}
	return NewCommandEnumerator([]string{"xset", "q"}, ParseMonitorState, interval,
		append([]opts.Option[CommandEnumerator]{WithOutputter(exec)}, options...)...)
}

// Enumerate runs the command once and parses its output.
func (e *CommandEnumerator) Enumerate(ctx context.Context) ([]string, error) {
	out, err := e.exec.Output(ctx, e.argv)
	if err != nil {
		return nil, err
	}
	return e.parse(out), nil
}

// Changes ticks every interval until ctx is done. Ticks are dropped while
// the previous one has not been consumed.
func (e *CommandEnumerator) Changes(ctx context.Context) (<-chan struct{}, error) {
	ticker := e.clock.Ticker(e.interval)
	changes := make(chan struct{}, 1)
	go func() {
		defer close(changes)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case changes <- struct{}{}:
				default:
				}
			}
		}
	}()
	return changes, nil
}

// ParseWindowTitles extracts titles from `wmctrl -l` lines, formatted as
// window id, desktop, client host then the title.
func ParseWindowTitles(out []byte) []string {
	var titles []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		rest := line
		skipped := 0
		for skipped < 3 {
			rest = strings.TrimLeft(rest, " \t")
			i := strings.IndexAny(rest, " \t")
			if i < 0 {
				rest = ""
				break
			}
			rest = rest[i:]
			skipped++
		}
		if title := strings.TrimSpace(rest); skipped == 3 && title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}

// ParseMonitorState reads the DPMS section of `xset q`.
func ParseMonitorState(out []byte) []string {
	if bytes.Contains(out, []byte("Monitor is On")) {
		return []string{LabelOn}
	}
	return nil
}
