package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/q99/cloudservices/internal/errors"
)

func okCheck() HealthChecker {
	return HealthCheckerFunc(func(context.Context) error { return nil })
}

func failCheck(msg string) HealthChecker {
	return HealthCheckerFunc(func(context.Context) error { return errors.New(msg) })
}

func hangCheck() HealthChecker {
	return HealthCheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func serveHealth(h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// withGlobal swaps the process-wide manager for the test.
func withGlobal(t *testing.T, m *HealthManager) {
	t.Helper()
	globalMu.Lock()
	prev := globalHealthManager
	globalHealthManager = m
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		globalHealthManager = prev
		globalMu.Unlock()
	})
}

func TestHealthManager_AllChecksPass(t *testing.T) {
	m := NewHealthManager("1.2.3")
	m.RegisterChecker("ledger", okCheck())
	m.RegisterChecker("metrics", okCheck())

	rec := serveHealth(m.HealthHandler, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.NotEmpty(t, resp.Uptime)
	assert.Equal(t, map[string]string{"ledger": StatusHealthy, "metrics": StatusHealthy}, resp.Checks)
}

func TestHealthManager_SlowCheckIsDegraded(t *testing.T) {
	m := NewHealthManager("dev")
	m.checkTimeout = 10 * time.Millisecond
	m.RegisterChecker("ledger", hangCheck())

	rec := serveHealth(m.ReadinessHandler, "/health/ready")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestHealthManager_FailingCheckIsUnavailable(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("ledger", failCheck("database is locked"))
	m.RegisterChecker("metrics", okCheck())

	rec := serveHealth(m.HealthHandler, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, apperrors.CodeServiceUnavailable, resp.Error.Code)
	assert.Equal(t, "health", resp.Error.Details["endpoint"])

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, checks["ledger"])
	assert.Equal(t, StatusHealthy, checks["metrics"])
}

func TestHealthManager_LivenessAndStartupSkipChecks(t *testing.T) {
	m := NewHealthManager("dev")
	m.RegisterChecker("ledger", failCheck("down"))

	assert.Equal(t, http.StatusOK, serveHealth(m.LivenessHandler, "/health/live").Code)
	assert.Equal(t, http.StatusOK, serveHealth(m.StartupHandler, "/health/startup").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serveHealth(m.ReadinessHandler, "/health/ready").Code)
}

func TestDetermineOverallStatus(t *testing.T) {
	m := NewHealthManager("dev")
	tests := []struct {
		name   string
		checks map[string]string
		want   string
	}{
		{"none", nil, StatusHealthy},
		{"timeout", map[string]string{"ledger": statusTimeout}, StatusDegraded},
		{"unhealthy wins", map[string]string{"ledger": statusTimeout, "metrics": StatusUnhealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.determineOverallStatus(tt.checks))
		})
	}
}

func TestGlobalHandlers(t *testing.T) {
	withGlobal(t, nil)
	m := InitHealthManager("test-version")
	assert.Same(t, m, GetHealthManager())

	for path, h := range map[string]http.HandlerFunc{
		"/health":         HealthHandler,
		"/health/live":    LivenessHandler,
		"/health/ready":   ReadinessHandler,
		"/health/startup": StartupHandler,
	} {
		assert.Equal(t, http.StatusOK, serveHealth(h, path).Code, path)
	}
}

func TestGlobalHandlers_NotInitialized(t *testing.T) {
	withGlobal(t, nil)
	assert.Nil(t, GetHealthManager())

	for _, h := range []http.HandlerFunc{HealthHandler, LivenessHandler, ReadinessHandler, StartupHandler} {
		rec := serveHealth(h, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), apperrors.CodeServiceUnavailable)
	}
}
