package state

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/fogfish/opts"
)

// EmitFunc receives a settled value.
type EmitFunc func(key string, value bool)

// Debouncer delays emissions per key. Scheduling a key that already has a
// pending emission cancels it before installing the new one, so only the
// most recent value is emitted once it has been stable for the delay.
type Debouncer struct {
	delay        time.Duration
	clock        clock.Clock
	emit         EmitFunc
	onSuperseded func(key string)

	mu       sync.Mutex
	pending  map[string]*pendingEmit
	stopped  bool
	inflight sync.WaitGroup
}

type pendingEmit struct {
	timer *clock.Timer
	value bool
}

var (
	// WithClock sets the clock used for timers, the wall clock by default.
	WithClock = opts.ForName[Debouncer, clock.Clock]("clock")
	// OnSuperseded registers a callback invoked when a pending value is
	// replaced before it was emitted.
	OnSuperseded = opts.ForName[Debouncer, func(string)]("onSuperseded")
)

// NewDebouncer creates a debouncer calling emit with settled values. A delay
// of zero or less disables debouncing: values are emitted immediately.
func NewDebouncer(delay time.Duration, emit EmitFunc, options ...opts.Option[Debouncer]) *Debouncer {
	d := &Debouncer{
		delay:   delay,
		clock:   clock.New(),
		emit:    emit,
		pending: make(map[string]*pendingEmit),
	}
	if err := opts.Apply(d, options); err != nil {
		panic(err)
	}
	return d
}

// Schedule emits value for key after the delay unless key is scheduled again
// in the meantime.
func (d *Debouncer) Schedule(key string, value bool) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.delay <= 0 {
		d.inflight.Add(1)
		d.mu.Unlock()
		defer d.inflight.Done()
		d.emit(key, value)
		return
	}

	if prev, ok := d.pending[key]; ok {
		prev.timer.Stop()
		delete(d.pending, key)
		if d.onSuperseded != nil {
			d.onSuperseded(key)
		}
	}

	p := &pendingEmit{value: value}
	p.timer = d.clock.AfterFunc(d.delay, func() { d.fire(key, p) })
	d.pending[key] = p
	d.mu.Unlock()
}

// Pending returns the number of keys waiting to be emitted.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending emission and waits for emissions already in
// progress. Nothing is emitted once Stop has returned.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	for key, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.mu.Unlock()
	d.inflight.Wait()
}

func (d *Debouncer) fire(key string, p *pendingEmit) {
	d.mu.Lock()
	// a superseded or cancelled timer may still fire if Stop lost the race
	if d.stopped || d.pending[key] != p {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.inflight.Add(1)
	d.mu.Unlock()

	defer d.inflight.Done()
	d.emit(key, p.value)
}
