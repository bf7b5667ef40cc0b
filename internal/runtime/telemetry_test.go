package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, tracer, err := SetupTelemetry(context.Background(), config.TelemetryConfig{ServiceName: "deepsearch"})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NoError(t, tel.Shutdown(context.Background()))

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "deepsearch_test_total", Help: "test"})
	tel.Registry.MustRegister(c)
	c.Inc()

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "deepsearch_test_total 1"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestShutdownNil(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}
