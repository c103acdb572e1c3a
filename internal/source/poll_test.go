package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutput struct {
	out  string
	err  error
	argv []string
}

func (f *fakeOutput) Output(_ context.Context, argv []string) ([]byte, error) {
	f.argv = argv
	return []byte(f.out), f.err
}

const wmctrlOutput = `0x02000003  0 desk Mozilla Firefox
0x03a00004 -1 desk  Viber
0x04200007  1 desk Zoom Meeting   
0x04200008  1 desk
`

func TestParseWindowTitles(t *testing.T) {
	assert.Equal(t, []string{"Mozilla Firefox", "Viber", "Zoom Meeting"}, ParseWindowTitles([]byte(wmctrlOutput)))
	assert.Empty(t, ParseWindowTitles(nil))
}

func TestParseMonitorState(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want []string
	}{
		{"on", "DPMS (Energy Star):\n  Standby: 600    Suspend: 600    Off: 600\n  DPMS is Enabled\n  Monitor is On\n", []string{LabelOn}},
		{"off", "DPMS (Energy Star):\n  DPMS is Enabled\n  Monitor is Off\n", nil},
		{"standby", "  Monitor is in Standby\n", nil},
		{"disabled", "DPMS (Energy Star):\n  DPMS is Disabled\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMonitorState([]byte(tt.out)))
		})
	}
}

func TestCommandEnumerator_Enumerate(t *testing.T) {
	out := &fakeOutput{out: wmctrlOutput}
	e, err := Windows(":1", time.Second, WithOutputter(out))
	require.NoError(t, err)

	titles, err := e.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Contains(t, titles, "Viber")
	assert.Equal(t, []string{"wmctrl", "-l"}, out.argv)

	out.err = errors.New("cannot open display")
	_, err = e.Enumerate(context.Background())
	assert.Error(t, err)
}

func TestCommandEnumerator_Changes(t *testing.T) {
	mock := clock.NewMock()
	e, err := DisplayPower("", 5*time.Second, WithClock(mock), WithOutputter(&fakeOutput{out: "Monitor is On"}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := e.Changes(ctx)
	require.NoError(t, err)

	mock.Add(5 * time.Second)
	select {
	case _, ok := <-changes:
		require.True(t, ok)
	case <-time.After(time.Second):
		require.FailNow(t, "no tick")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestNewCommandEnumerator(t *testing.T) {
	_, err := NewCommandEnumerator(nil, ParseMonitorState, 0)
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = NewCommandEnumerator([]string{"true"}, nil, 0)
	assert.Error(t, err)

	e, err := NewCommandEnumerator([]string{"true"}, ParseMonitorState, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, e.interval)
}
