package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProc lays out a proc tree where every pid holds the given targets.
func fakeProc(t *testing.T, fds map[string][]string) string {
	t.Helper()
	root := t.TempDir()
	for pid, targets := range fds {
		dir := filepath.Join(root, pid, "fd")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i, target := range targets {
			require.NoError(t, os.Symlink(target, filepath.Join(dir, string(rune('3'+i)))))
		}
	}
	return root
}

func TestProcfs_Query(t *testing.T) {
	root := fakeProc(t, map[string][]string{
		"101": {"/dev/null", "/dev/video0"},
		"202": {"/dev/snd/pcmC0D0c"},
	})
	p, err := NewProcfs(root)
	require.NoError(t, err)
	ctx := context.Background()

	for path, want := range map[string]bool{
		"/dev/video0":       true,
		"/dev/snd/pcmC0D0c": true,
		"/dev/video1":       false,
	} {
		inUse, err := p.Query(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, want, inUse, path)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Query(cancelled, "/dev/video1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProcfs_Missing(t *testing.T) {
	_, err := NewProcfs(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
