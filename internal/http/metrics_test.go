package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/chats/:chat", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("chat")})
	})

	for _, path := range []string{"/api/v1/chats/a", "/api/v1/chats/b", "/nowhere"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			if md.Name != "groundd.http.requests_total" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			var total int64
			byRoute := map[string]int64{}
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value(attribute.Key("route"))
				byRoute[route.AsString()] += dp.Value
				total += dp.Value
			}
			assert.Equal(t, int64(3), total)
			// Ids are not label values; both chats share the route pattern.
			assert.Equal(t, int64(2), byRoute["/api/v1/chats/:chat"])
		}
	}

	assert.True(t, found["groundd.http.requests_total"])
	assert.True(t, found["groundd.http.request_duration_seconds"])
	assert.True(t, found["groundd.http.response_size_bytes"])
	assert.True(t, found["groundd.http.active_requests"])
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "unmatched", normalizePath(""))
	assert.Equal(t, "/health", normalizePath("/health"))
	assert.Equal(t, "/api/v1/testruns/:run/events", normalizePath("/api/v1/testruns/:run/events"))
}
