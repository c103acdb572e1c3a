package source

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/prometheus/procfs"
)

// Procfs answers whether a file is held open by any process, the way
// fuser does, by scanning the file descriptors of every process.
type Procfs struct {
	fs procfs.FS
}

// NewProcfs reads processes from the proc filesystem mounted at mountPoint.
// An empty mount point means procfs.DefaultMountPoint.
func NewProcfs(mountPoint string) (*Procfs, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("opening procfs: %w", err)
	}
	return &Procfs{fs: fs}, nil
}

// Query reports whether path is open. Processes that vanish or cannot be
// inspected are skipped.
func (p *Procfs) Query(ctx context.Context, path string) (bool, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return false, fmt.Errorf("listing processes: %w", err)
	}
	candidates := []string{path}
	if resolved, err := filepath.EvalSymlinks(path); err == nil && resolved != path {
		candidates = append(candidates, resolved)
	}

	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		targets, err := proc.FileDescriptorTargets()
		if err != nil {
			continue
		}
		for _, target := range targets {
			if slices.Contains(candidates, target) {
				return true, nil
			}
		}
	}
	return false, nil
}
