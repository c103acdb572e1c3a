package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := New[int]()
	require.NoError(t, r.Register("b", 2))
	require.NoError(t, r.Register("a", 1))
	assert.ErrorIs(t, r.Register("a", 10), ErrDuplicate)

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v, "a duplicate does not replace")

	r.Replace("a", 10)
	v, _ = r.Get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	r.Del("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := New[int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Register("only", i) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
