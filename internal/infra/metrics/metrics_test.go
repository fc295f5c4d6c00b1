package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Transition("next", "configure")
	m.Transition("next", "configure")
	m.GateRejected("profiles", "rejected")
	m.VersionSaved()
	m.VersionSkipped()
	m.CheckpointCreated("before-building")
	m.Restore("undo", nil)
	m.Restore("undo", errors.New("x"))
	m.ResumeDecision("degraded")
	m.OperationFinished("reconfigure", "cancelled")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Transitions.WithLabelValues("next", "configure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GateRejections.WithLabelValues("profiles", "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.VersionsSaved))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.VersionsSkipped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Checkpoints.WithLabelValues("before-building")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Restores.WithLabelValues("undo", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Restores.WithLabelValues("undo", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResumeDecisions.WithLabelValues("degraded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues("reconfigure", "cancelled")))
}

func TestInstallPhaseGauge(t *testing.T) {
	m := New(nil)
	all := []string{"building", "starting"}
	m.SetInstallPhase("starting", all)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.InstallPhase.WithLabelValues("building")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InstallPhase.WithLabelValues("starting")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("next", "x")
		m.GateRejected("x", "y")
		m.VersionSaved()
		m.VersionSkipped()
		m.CheckpointCreated("s")
		m.Restore("undo", nil)
		m.ResumeDecision("fresh")
		m.ObserveAuthority("m", time.Now(), nil)
		m.OperationFinished("t", "s")
		m.SetInstallPhase("p", nil)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveAuthority("versions.save", time.Now(), nil)
	m.VersionSaved()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "setupwiz_versions_saved_total 1"))
	assert.True(t, strings.Contains(body, "setupwiz_authority_call_seconds"))
}
