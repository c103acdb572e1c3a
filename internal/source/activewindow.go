package source

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/fogfish/opts"
)

// LabelFullscreen is reported by ActiveWindow while the active window is
// fullscreen.
const LabelFullscreen = "fullscreen"

const fullscreenAtom = "_NET_WM_STATE_FULLSCREEN"

// Window describes the active window.
type Window struct {
	Title      string
	Fullscreen bool
}

// ActiveWindow reads the title and fullscreen state of the active window
// with xprop. It is an Enumerator of LabelFullscreen and a text source of
// the title.
type ActiveWindow struct {
	root   *CommandEnumerator
	logger *slog.Logger
}

// NewActiveWindow polls the active window of display every interval.
func NewActiveWindow(display string, interval time.Duration, options ...opts.Option[CommandEnumerator]) (*ActiveWindow, error) {
	exec := &Exec{Env: DisplayEnv(display), Timeout: DefaultCommandTimeout}
	root, err := NewCommandEnumerator([]string{"xprop", "-root", "_NET_ACTIVE_WINDOW"}, ParseActiveWindowID, interval,
		append([]opts.Option[CommandEnumerator]{WithOutputter(exec)}, options...)...)
	if err != nil {
		return nil, err
	}
	return &ActiveWindow{
		root:   root,
		logger: slog.Default().With(slogx.LoggerName("active-window")),
	}, nil
}

// Current returns the active window, the zero Window when there is none.
func (a *ActiveWindow) Current(ctx context.Context) (Window, error) {
	ids, err := a.root.Enumerate(ctx)
	if err != nil {
		return Window{}, err
	}
	if len(ids) == 0 {
		return Window{}, nil
	}
	out, err := a.root.exec.Output(ctx, []string{"xprop", "-id", ids[0], "_NET_WM_NAME", "_NET_WM_STATE"})
	if err != nil {
		if ctx.Err() != nil {
			return Window{}, ctx.Err()
		}
		// the window was destroyed between both calls
		a.logger.DebugContext(ctx, "active window vanished", slog.String("window", ids[0]), slogx.Error(err))
		return Window{}, nil
	}
	return ParseWindowProperties(out), nil
}

// Enumerate reports LabelFullscreen while the active window is fullscreen.
func (a *ActiveWindow) Enumerate(ctx context.Context) ([]string, error) {
	w, err := a.Current(ctx)
	if err != nil {
		return nil, err
	}
	if w.Fullscreen {
		return []string{LabelFullscreen}, nil
	}
	return nil, nil
}

// Read returns the title of the active window.
func (a *ActiveWindow) Read(ctx context.Context) (string, error) {
	w, err := a.Current(ctx)
	return w.Title, err
}

// Changes ticks every poll interval.
func (a *ActiveWindow) Changes(ctx context.Context) (<-chan struct{}, error) {
	return a.root.Changes(ctx)
}

// ParseActiveWindowID reads `xprop -root _NET_ACTIVE_WINDOW`, which prints
//
//	_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007
//
// Nothing is returned when no window is active.
func ParseActiveWindowID(out []byte) []string {
	_, id, ok := strings.Cut(string(out), "#")
	if !ok {
		return nil
	}
	id = strings.TrimSpace(id)
	if i := strings.IndexAny(id, ", \t\n"); i >= 0 {
		id = id[:i]
	}
	if id == "" || id == "0x0" {
		return nil
	}
	return []string{id}
}

// ParseWindowProperties reads `xprop -id ID _NET_WM_NAME _NET_WM_STATE`.
func ParseWindowProperties(out []byte) Window {
	var w Window
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		name, value, ok := strings.Cut(scanner.Text(), " = ")
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(name, "_NET_WM_NAME"):
			w.Title = unquote(value)
		case strings.HasPrefix(name, "_NET_WM_STATE"):
			for _, atom := range strings.Split(value, ",") {
				if strings.TrimSpace(atom) == fullscreenAtom {
					w.Fullscreen = true
				}
			}
		}
	}
	return w
}

func unquote(value string) string {
	value = strings.TrimSpace(value)
	if s, err := strconv.Unquote(value); err == nil {
		return s
	}
	return strings.Trim(value, `"`)
}
