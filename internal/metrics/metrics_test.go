package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.RecordEpoch()
	m.RecordEpoch()
	assert.InDelta(t, 2, testutil.ToFloat64(m.EpochsStarted), 0)

	m.RecordState(2)
	assert.InDelta(t, 2, testutil.ToFloat64(m.SupervisorState), 0)

	m.RecordPublished("state", time.Now().Add(-time.Second))
	m.RecordPublished("discovery", time.Time{})
	m.RecordPublished("state", time.Now())
	assert.InDelta(t, 2, testutil.ToFloat64(m.EventsPublished.WithLabelValues("state")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EventsPublished.WithLabelValues("discovery")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.PublishLatency))

	m.RecordServiceFailure("dpms")
	m.RecordSuperseded("file_usage", "camera")
	m.RecordCommand(true)
	m.RecordCommand(false)
	m.RecordPublishFailure()
	assert.InDelta(t, 1, testutil.ToFloat64(m.ServiceFailures.WithLabelValues("dpms")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DebounceSuperseded.WithLabelValues("file_usage")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.CommandsHandled.WithLabelValues("error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PublishFailures), 0)
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordEpoch()
		m.RecordState(1)
		m.RecordPublished("state", time.Now())
		m.RecordPublishFailure()
		m.RecordServiceFailure("x")
		m.RecordSuperseded("x", "y")
		m.RecordCommand(true)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordEpoch()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mqtt4w_supervisor_epochs_total 1"))
}
