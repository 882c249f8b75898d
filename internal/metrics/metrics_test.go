package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.CommandApplied("FORWARD", false)
	m.CommandApplied("FORWARD", false)
	m.CommandApplied("RIGHT", true)
	m.CommandRejected("unknown_command")
	m.WatchdogStop()
	m.DriverError("BUSY")
	m.LineReceived("udp")
	m.Superseded("tcp")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("FORWARD", "given")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("RIGHT", "defaulted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("unknown_command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.watchdogStops))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.driverErrors.WithLabelValues("BUSY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lines.WithLabelValues("udp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.superseded.WithLabelValues("tcp")))
}

func TestWatchdogGauge(t *testing.T) {
	m := New()

	m.WatchdogActive(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.watchdogState))
	m.WatchdogActive(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.watchdogState))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ApplyDuration(2 * time.Millisecond)
	m.CommandApplied("STOP", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.True(t, strings.Contains(text, `mcn_commands_total{action="STOP",speed="given"} 1`))
	assert.Contains(t, text, "mcn_driver_apply_seconds_count 1")
	assert.Contains(t, text, "go_goroutines")
}

func TestIndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
