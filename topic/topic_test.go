package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("renders segments with the separator", func(t *testing.T) {
		tp, err := New("mqtt4w", "host", "dpms", "state")
		require.NoError(t, err)
		assert.Equal(t, "mqtt4w/host/dpms/state", tp.String())
	})

	t.Run("rejects a segment containing the separator", func(t *testing.T) {
		_, err := New("mqtt4w", "host/evil", "state")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidSegment)
	})

	t.Run("rejects an empty segment", func(t *testing.T) {
		_, err := New("mqtt4w", "")
		assert.ErrorIs(t, err, ErrInvalidSegment)
	})

	t.Run("must new panics on invalid input", func(t *testing.T) {
		assert.Panics(t, func() { MustNew("a/b") })
	})
}

func TestJoin(t *testing.T) {
	t.Run("does not modify the base", func(t *testing.T) {
		base := make(Topic, 1, 8)
		base[0] = "mqtt4w"
		first, err := base.Join("one")
		require.NoError(t, err)
		second, err := base.Join("two")
		require.NoError(t, err)

		assert.Equal(t, "mqtt4w/one", first.String())
		assert.Equal(t, "mqtt4w/two", second.String())
		assert.Equal(t, Topic{"mqtt4w"}, base)
	})

	t.Run("joining nothing copies the base", func(t *testing.T) {
		base := MustNew("a", "b")
		joined, err := Join(base)
		require.NoError(t, err)
		assert.True(t, joined.Equal(base))
	})

	t.Run("fails without partial results", func(t *testing.T) {
		joined, err := Join(MustNew("a"), "b", "c/d")
		assert.ErrorIs(t, err, ErrInvalidSegment)
		assert.Nil(t, joined)
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Topic
	}{
		{"mqtt4w", Topic{"mqtt4w"}},
		{"home/mqtt4w", Topic{"home", "mqtt4w"}},
		{"/home//mqtt4w/", Topic{"home", "mqtt4w"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Parse(tt.input))
		})
	}
}

func TestTopic_Append(t *testing.T) {
	root := MustNew("mqtt4w", "host")
	rel := Parse("file_usage_tracker/camera/state")
	assert.Equal(t, "mqtt4w/host/file_usage_tracker/camera/state", root.Append(rel).String())
	assert.Equal(t, "mqtt4w/host", root.String())
}

func TestTopic_Validate(t *testing.T) {
	assert.NoError(t, MustNew("a", "b").Validate())
	assert.ErrorIs(t, Topic{}.Validate(), ErrInvalidSegment)
	assert.ErrorIs(t, Topic{"a", "b/c"}.Validate(), ErrInvalidSegment)
}
