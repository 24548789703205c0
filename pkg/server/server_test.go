package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"flightworks/gcs/pkg/logging"
	"flightworks/gcs/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func TestSetupServiceRouter(t *testing.T) {
	logger := logging.NewLogger()
	hc := monitoring.NewHealthChecker("svc", "v1")
	mc := monitoring.NewMetricsCollector("svc", "v1", "abc")
	r := SetupServiceRouter(logger, "svc", hc, mc)
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/ping", nil)
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServiceRouterMetricsAuth(t *testing.T) {
	t.Setenv("SERVICE_TOKEN", "scrape-secret")
	logger := logging.NewLogger()
	hc := monitoring.NewHealthChecker("authsvc", "v1")
	mc := monitoring.NewMetricsCollector("authsvc", "v1", "abc")
	r := SetupServiceRouter(logger, "authsvc", hc, mc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequestWithContext(context.Background(), "GET", "/metrics", nil)
	req.Header.Set("Authorization", "Bearer scrape-secret")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}
