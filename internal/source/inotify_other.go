//go:build !linux

package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/casualjim/mqtt4w/service"
)

// Querier answers whether a key is in use.
type Querier interface {
	Query(ctx context.Context, key string) (bool, error)
}

// Inotify is only available on linux. Watch always fails elsewhere.
type Inotify struct {
	querier Querier
}

func NewInotify(querier Querier) *Inotify {
	return &Inotify{querier: querier}
}

// Query reports whether a process has key open.
func (n *Inotify) Query(ctx context.Context, key string) (bool, error) {
	return n.querier.Query(ctx, key)
}

func (n *Inotify) Watch(context.Context, []string) (<-chan service.UsageChange, error) {
	return nil, fmt.Errorf("inotify: %w", errors.ErrUnsupported)
}
