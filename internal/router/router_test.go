package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestRouter() http.Handler {
	return New(&Dependencies{
		Version:       "test",
		FrontendURL:   "*",
		JWTSigningKey: []byte("0123456789abcdef0123456789abcdef"),
	})
}

func TestRouter_HealthIsPublic(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
}

func TestRouter_HealthESReportsDegradedWithoutIndex(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/es", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/es status = %d, want 503 with no index wired", rec.Code)
	}
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	r := newTestRouter()
	protected := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/knowledge/"},
		{http.MethodGet, "/api/v1/documents/"},
		{http.MethodGet, "/api/v1/robots/"},
		{http.MethodPost, "/api/v1/chat/ask"},
		{http.MethodPost, "/api/v1/chat/ask/stream"},
		{http.MethodGet, "/api/v1/chat/sessions"},
		{http.MethodPost, "/api/v1/recall/test"},
		{http.MethodGet, "/api/v1/recall/status/abc"},
	}
	for _, route := range protected {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(route.method, route.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401 without a token", route.method, route.path, rec.Code)
		}
	}
}

func TestRouter_UnknownRouteIs404(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
