package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(ClientFromContext(r.Context())))
})

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(map[string]string{"ci": "s3cret"})(okHandler)

	tests := []struct {
		name   string
		path   string
		header string
		code   int
		body   string
	}{
		{"missing header", "/api/scans/latest", "", http.StatusUnauthorized, ""},
		{"wrong key", "/api/scans/latest", "Bearer nope", http.StatusUnauthorized, ""},
		{"bearer key", "/api/scans/latest", "Bearer s3cret", http.StatusOK, "ci"},
		{"bare key", "/api/scans/latest", "s3cret", http.StatusOK, "ci"},
		{"probe bypass", "/livez", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuthDisabledWithoutKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	APIKeyAuth(nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scans/latest", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst exhausted")
	assert.True(t, rl.Allow("b"), "buckets are per key")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"), "refilled after one second")

	now = now.Add(idleLimiterTTL + time.Second)
	rl.Allow("c")
	rl.mu.Lock()
	_, kept := rl.clients["b"]
	rl.mu.Unlock()
	assert.False(t, kept, "idle bucket swept")
}

func TestRateLimitMiddleware(t *testing.T) {
	h := NewRateLimiter(0.5, 1).Middleware(okHandler)

	do := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.7:5555"
		h.ServeHTTP(rec, req)
		return rec
	}
	assert.Equal(t, http.StatusOK, do("/api/scans/latest").Code)
	rec := do("/api/scans/latest")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do("/health").Code)
}

func TestValidateTarget(t *testing.T) {
	got, err := ValidateTarget("  example.com\x00 ", false)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got)

	for _, raw := range []string{"", "http://localhost:8080", "http://127.0.0.1", "10.1.2.3", "https://192.168.0.10/admin", "http://[::1]/", "http://169.254.169.254/latest"} {
		_, err := ValidateTarget(raw, false)
		assert.ErrorIs(t, err, domain.ErrInvalidTarget, raw)
	}

	got, err = ValidateTarget("http://127.0.0.1:8080", true)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", got)
}

func TestValidateJobID(t *testing.T) {
	assert.NoError(t, ValidateJobID("0b0f8e38-6a4b-4c4e-9f55-4a7f0d7b2d11"))
	assert.Error(t, ValidateJobID(""))
	assert.Error(t, ValidateJobID("../../etc/passwd"))
}

func TestValidateLimit(t *testing.T) {
	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 5, ValidateLimit(5))
	assert.Equal(t, 100, ValidateLimit(1000))
}

func TestHealthHandler(t *testing.T) {
	h := HealthHandler(map[string]HealthChecker{
		"ok":   CheckFunc(func(context.Context) error { return nil }),
		"down": CheckFunc(func(context.Context) error { return errors.New("refused") }),
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "refused", status.Checks["down"].Message)
	assert.Equal(t, "healthy", status.Checks["ok"].Status)
}

type fakeVersion struct {
	v   string
	err error
}

func (f fakeVersion) Version(context.Context) (string, error) { return f.v, f.err }

func TestScannerHealthChecker(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, (&ScannerHealthChecker{Scanner: fakeVersion{v: "v3.4.2"}}).Check(ctx))
	assert.Error(t, (&ScannerHealthChecker{Scanner: fakeVersion{v: "unknown"}}).Check(ctx))
	assert.Error(t, (&ScannerHealthChecker{Scanner: fakeVersion{err: errors.New("exec: not found")}}).Check(ctx))
}

func TestMetricsMiddleware(t *testing.T) {
	m := NewMetrics()
	fail := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) })

	m.Middleware(okHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	m.Middleware(fail).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	m.ScanStarted()
	m.ScanFinished(true, 3)
	m.ScanStarted()

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap["requests_total"])
	assert.Equal(t, uint64(1), snap["requests_success"])
	assert.Equal(t, uint64(1), snap["requests_failed"])
	assert.Equal(t, int64(0), snap["requests_in_progress"])
	assert.Equal(t, uint64(2), snap["scans_total"])
	assert.Equal(t, int64(1), snap["scans_running"])
	assert.Equal(t, uint64(3), snap["findings_total"])
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	fail := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })

	RequestLogger(zap.New(core))(fail).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/scans/x", nil))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.Equal(t, int64(http.StatusNotFound), entry.ContextMap()["status"])
	assert.Equal(t, "/api/scans/x", entry.ContextMap()["path"])
}
