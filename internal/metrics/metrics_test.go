package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IntentCreated()
	m.Confirmation(OutcomeOK)
	m.Confirmation(OutcomeOK)
	m.Confirmation(OutcomeRejected)
	m.Download(OutcomeError)
	m.Migration(OutcomeOK)
	m.ObserveGateway(0.2)

	require.Equal(t, 1.0, testutil.ToFloat64(m.IntentsCreated))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Confirmations.WithLabelValues(OutcomeOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Confirmations.WithLabelValues(OutcomeRejected)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Downloads.WithLabelValues(OutcomeError)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Migrations.WithLabelValues(OutcomeOK)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IntentCreated()
	m.Confirmation(OutcomeOK)
	m.Download(OutcomeOK)
	m.Migration(OutcomeOK)
	m.ObserveGateway(1)
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Download(OutcomeOK)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `vaultshop_downloads_total{outcome="ok"} 1`))
}
