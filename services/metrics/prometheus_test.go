package metricsvc

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(func() int { return 3 })
	m.IncPublished(2)
	m.IncDegraded()
	m.ObserveScan("late")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.published))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.degraded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.scans.WithLabelValues("late")))

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/v1/ping", func(ctx echo.Context) error { return ctx.NoContent(http.StatusNoContent) })
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("/v1/ping", http.MethodGet, "204")))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "academia_notification_sessions 3")
	assert.Contains(t, rec.Body.String(), "academia_notifications_published_total 2")
}
