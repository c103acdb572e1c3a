package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/state"
	"github.com/fogfish/opts"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrDuplicateKey is returned when a tracked key is assigned to more than
// one sensor of a usage tracker.
var ErrDuplicateKey = errors.New("key tracked by more than one sensor")

// Tracker turns a signal source into sensor states.
type Tracker interface {
	// Snapshot starts observing and returns the initial states.
	Snapshot(ctx context.Context) (*state.States, error)
	// Await blocks until the source reports a change.
	Await(ctx context.Context) error
	// Recompute returns the states after the changes reported so far.
	Recompute(ctx context.Context) (*state.States, error)
	Close() error
}

// SensorMap maps sensor names to the keys (or labels) they track, in
// declaration order.
type SensorMap = *orderedmap.OrderedMap[string, []string]

// UsageChange reports whether a tracked key is in use.
type UsageChange struct {
	Key   string
	InUse bool
}

// UsageSource answers whether a key (a device path for instance) is in use
// and notifies usage changes.
type UsageSource interface {
	Query(ctx context.Context, key string) (bool, error)
	// Watch streams changes for keys. The channel is closed when the
	// source fails or ctx is done.
	Watch(ctx context.Context, keys []string) (<-chan UsageChange, error)
}

// UsageTracker tracks sensors made of usage keys. Every key belongs to
// exactly one sensor; a sensor is on when any of its keys is in use.
type UsageTracker struct {
	source  UsageSource
	sensors *orderedmap.OrderedMap[string, *state.Sensor]
	index   map[string]string
	logger  *slog.Logger

	changes <-chan UsageChange
	pending []UsageChange
	stop    context.CancelFunc
}

// NewUsageTracker indexes sensors by key.
func NewUsageTracker(source UsageSource, sensors SensorMap) (*UsageTracker, error) {
	t := &UsageTracker{
		source:  source,
		sensors: orderedmap.New[string, *state.Sensor](),
		index:   make(map[string]string),
		logger:  slog.Default().With(slogx.LoggerName("usage-tracker")),
	}
	for pair := sensors.Oldest(); pair != nil; pair = pair.Next() {
		for _, key := range pair.Value {
			if owner, dup := t.index[key]; dup {
				return nil, fmt.Errorf("%w: %q in %q and %q", ErrDuplicateKey, key, owner, pair.Key)
			}
			t.index[key] = pair.Key
		}
		t.sensors.Set(pair.Key, state.NewSensor(pair.Value...))
	}
	return t, nil
}

// Sensors returns the sensor names in declaration order.
func (t *UsageTracker) Sensors() []string {
	names := make([]string, 0, t.sensors.Len())
	for pair := t.sensors.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func (t *UsageTracker) keys() []string {
	keys := make([]string, 0, len(t.index))
	for pair := t.sensors.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Value.Keys()...)
	}
	return keys
}

// Snapshot starts watching before querying so no change is lost in between.
func (t *UsageTracker) Snapshot(ctx context.Context) (*state.States, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	changes, err := t.source.Watch(watchCtx, t.keys())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	t.changes = changes
	t.stop = cancel

	for _, key := range t.keys() {
		inUse, err := t.source.Query(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logger.DebugContext(ctx, "usage query failed, assuming unused", slog.String("key", key), slogx.Error(err))
			inUse = false
		}
		t.apply(UsageChange{Key: key, InUse: inUse})
	}
	return t.states(), nil
}

func (t *UsageTracker) Await(ctx context.Context) error {
	if t.changes == nil {
		return fmt.Errorf("%w: tracker not started", ErrSourceUnavailable)
	}
	select {
	case change, ok := <-t.changes:
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: usage watch closed", ErrSourceUnavailable)
		}
		t.pending = append(t.pending, change)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recompute applies the awaited change and every change already queued.
func (t *UsageTracker) Recompute(_ context.Context) (*state.States, error) {
drain:
	for {
		select {
		case change, ok := <-t.changes:
			if !ok {
				break drain
			}
			t.pending = append(t.pending, change)
		default:
			break drain
		}
	}
	for _, change := range t.pending {
		t.apply(change)
	}
	t.pending = t.pending[:0]
	return t.states(), nil
}

func (t *UsageTracker) Close() error {
	if t.stop != nil {
		t.stop()
	}
	return nil
}

func (t *UsageTracker) apply(change UsageChange) {
	name, ok := t.index[change.Key]
	if !ok {
		return
	}
	sensor, _ := t.sensors.Get(name)
	sensor.Set(change.Key, change.InUse)
}

func (t *UsageTracker) states() *state.States {
	states := state.NewStates()
	for pair := t.sensors.Oldest(); pair != nil; pair = pair.Next() {
		states.Set(pair.Key, pair.Value.Enabled())
	}
	return states
}

// Enumerator lists the labels currently present, window titles for
// instance, and signals when the set may have changed.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]string, error)
	// Changes is signalled when the labels may have changed. The channel is
	// closed when the source fails or ctx is done.
	Changes(ctx context.Context) (<-chan struct{}, error)
}

// DefaultFailureLimit is the number of consecutive failed polls after which
// a polled source is considered unavailable.
const DefaultFailureLimit = 5

// EnumerationTracker turns sensors on when one of their labels is present.
// A label may drive several sensors.
//
// A failed enumeration keeps the last known states. The source is only
// reported unavailable after failureLimit consecutive failures.
type EnumerationTracker struct {
	enumerator   Enumerator
	sensors      SensorMap
	labels       map[string][]string
	failureLimit int
	logger       *slog.Logger

	failures int
	last     *state.States

	mu      sync.Mutex
	changes <-chan struct{}
	stop    context.CancelFunc
}

// WithFailureLimit sets the number of consecutive failed enumerations
// tolerated, DefaultFailureLimit by default.
var WithFailureLimit = opts.ForName[EnumerationTracker, int]("failureLimit")

// NewEnumerationTracker builds the label to sensors index.
func NewEnumerationTracker(enumerator Enumerator, sensors SensorMap, options ...opts.Option[EnumerationTracker]) *EnumerationTracker {
	labels := make(map[string][]string)
	for pair := sensors.Oldest(); pair != nil; pair = pair.Next() {
		for _, label := range pair.Value {
			if !slices.Contains(labels[label], pair.Key) {
				labels[label] = append(labels[label], pair.Key)
			}
		}
	}
	t := &EnumerationTracker{
		enumerator:   enumerator,
		sensors:      sensors,
		labels:       labels,
		failureLimit: DefaultFailureLimit,
		logger:       slog.Default().With(slogx.LoggerName("enumeration-tracker")),
	}
	if err := opts.Apply(t, options); err != nil {
		panic(err)
	}
	return t
}

// Sensors returns the sensor names in declaration order.
func (t *EnumerationTracker) Sensors() []string {
	names := make([]string, 0, t.sensors.Len())
	for pair := t.sensors.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func (t *EnumerationTracker) Snapshot(ctx context.Context) (*state.States, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	changes, err := t.enumerator.Changes(watchCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	t.mu.Lock()
	t.changes, t.stop = changes, cancel
	t.mu.Unlock()
	return t.Recompute(ctx)
}

func (t *EnumerationTracker) Await(ctx context.Context) error {
	t.mu.Lock()
	changes := t.changes
	t.mu.Unlock()
	if changes == nil {
		return fmt.Errorf("%w: tracker not started", ErrSourceUnavailable)
	}
	select {
	case _, ok := <-changes:
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: enumeration changes closed", ErrSourceUnavailable)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *EnumerationTracker) Recompute(ctx context.Context) (*state.States, error) {
	present, err := t.enumerator.Enumerate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.failures++
		if t.failures >= t.failureLimit {
			return nil, fmt.Errorf("%w: %d consecutive failures: %w", ErrSourceUnavailable, t.failures, err)
		}
		t.logger.WarnContext(ctx, "enumeration failed, keeping last states",
			slog.Int("failures", t.failures), slogx.Error(err))
		if t.last != nil {
			return t.last, nil
		}
		return t.resolve(nil), nil
	}
	t.failures = 0
	t.last = t.resolve(present)
	return t.last, nil
}

func (t *EnumerationTracker) resolve(present []string) *state.States {
	states := state.NewStates()
	for pair := t.sensors.Oldest(); pair != nil; pair = pair.Next() {
		states.Set(pair.Key, false)
	}
	for _, label := range present {
		for _, sensor := range t.labels[label] {
			states.Set(sensor, true)
		}
	}
	return states
}

func (t *EnumerationTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		t.stop()
	}
	return nil
}
