package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casualjim/mqtt4w/pkg/slogx"
	"github.com/casualjim/mqtt4w/service"
	"golang.org/x/sys/unix"
)

const pollTimeoutMillis = 100

// Querier answers whether a key is in use.
type Querier interface {
	Query(ctx context.Context, key string) (bool, error)
}

// Inotify reports file usage from open and close notifications. A close
// does not mean the file is unused, another process may still hold it, so
// closes are confirmed with the querier.
type Inotify struct {
	querier Querier
	logger  *slog.Logger
}

// NewInotify creates a usage source answering queries with querier.
func NewInotify(querier Querier) *Inotify {
	return &Inotify{
		querier: querier,
		logger:  slog.Default().With(slogx.LoggerName("inotify")),
	}
}

// Query reports whether a process has key open.
func (n *Inotify) Query(ctx context.Context, key string) (bool, error) {
	return n.querier.Query(ctx, key)
}

// Watch installs one watch per key. Keys that do not exist yet, an
// unplugged camera for instance, are skipped with a warning.
func (n *Inotify) Watch(ctx context.Context, keys []string) (<-chan service.UsageChange, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}

	watches := make(map[int32]string, len(keys))
	for _, key := range keys {
		wd, err := unix.InotifyAddWatch(fd, key, unix.IN_OPEN|unix.IN_CLOSE)
		if errors.Is(err, unix.ENOENT) {
			n.logger.Warn("not watching missing file", slog.String("path", key))
			continue
		}
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("inotify_add_watch on %s: %w", key, err)
		}
		watches[int32(wd)] = key
	}

	out := make(chan service.UsageChange, len(keys)+1)
	go n.readLoop(ctx, fd, watches, out)
	return out, nil
}

// readLoop polls with a timeout so it notices ctx cancellation. It closes
// out and the inotify descriptor when it returns.
func (n *Inotify) readLoop(ctx context.Context, fd int, watches map[int32]string, out chan<- service.UsageChange) {
	defer close(out)
	defer unix.Close(fd)

	buffer := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(fds, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			n.logger.Error("polling inotify", slogx.Error(err))
			return
		}
		if count == 0 {
			continue
		}

		read, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			n.logger.Error("reading inotify", slogx.Error(err))
			return
		}

		for _, ev := range parseEvents(buffer[:read]) {
			key, ok := watches[ev.wd]
			if !ok {
				continue
			}
			change, ok := n.change(ctx, key, ev.mask)
			if !ok {
				continue
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (n *Inotify) change(ctx context.Context, key string, mask uint32) (service.UsageChange, bool) {
	switch {
	case mask&unix.IN_OPEN != 0:
		return service.UsageChange{Key: key, InUse: true}, true
	case mask&unix.IN_CLOSE != 0:
		inUse, err := n.querier.Query(ctx, key)
		if err != nil {
			n.logger.Debug("confirming close", slog.String("path", key), slogx.Error(err))
			inUse = false
		}
		return service.UsageChange{Key: key, InUse: inUse}, true
	case mask&unix.IN_IGNORED != 0:
		// the file was removed, nothing can hold it anymore
		return service.UsageChange{Key: key, InUse: false}, true
	default:
		return service.UsageChange{}, false
	}
}

type inotifyEvent struct {
	wd   int32
	mask uint32
}

// parseEvents decodes raw inotify events. Names are ignored since every
// watch is on a single file.
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16
//	};
func parseEvents(buffer []byte) []inotifyEvent {
	var events []inotifyEvent
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		events = append(events, inotifyEvent{
			wd:   int32(binary.NativeEndian.Uint32(buffer[offset : offset+4])),
			mask: binary.NativeEndian.Uint32(buffer[offset+4 : offset+8]),
		})
		offset += unix.SizeofInotifyEvent + nameLength
	}
	return events
}
