package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	err   error
	calls int
}

func (f *fakeChecker) Ping(ctx context.Context) error {
	f.calls++
	return f.err
}

func (f *fakeChecker) HealthCheck(ctx context.Context) error {
	f.calls++
	return f.err
}

func doGet(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return rec, status
}

func TestHandleLivenessAlwaysReportsHealthy(t *testing.T) {
	hc := NewHealthChecker(HealthCheckerConfig{Logger: zerolog.Nop()})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	hc.HandleLiveness(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadinessHealthyWhenBothComponentsOK(t *testing.T) {
	db := &fakeChecker{}
	storage := &fakeChecker{}
	hc := NewHealthChecker(HealthCheckerConfig{DatabaseChecker: db, StorageChecker: storage, Logger: zerolog.Nop()})

	rec, status := doGet(t, hc.HandleReadiness)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, StatusHealthy, status.Status)
	require.Equal(t, StatusHealthy, status.Components["catalog"].Status)
	require.Equal(t, StatusHealthy, status.Components["storage"].Status)
}

func TestHandleReadinessUnhealthyWhenCatalogFails(t *testing.T) {
	db := &fakeChecker{err: errors.New("db down")}
	storage := &fakeChecker{}
	hc := NewHealthChecker(HealthCheckerConfig{DatabaseChecker: db, StorageChecker: storage, Logger: zerolog.Nop()})

	rec, status := doGet(t, hc.HandleReadiness)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, StatusUnhealthy, status.Status)
	require.Equal(t, "db down", status.Components["catalog"].Error)
}

func TestHandleReadinessMissingCheckersReportsUnhealthy(t *testing.T) {
	hc := NewHealthChecker(HealthCheckerConfig{Logger: zerolog.Nop()})

	rec, status := doGet(t, hc.HandleReadiness)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, StatusUnhealthy, status.Status)
}

func TestHandleHealthCachesResultWithinTTL(t *testing.T) {
	db := &fakeChecker{}
	storage := &fakeChecker{}
	hc := NewHealthChecker(HealthCheckerConfig{
		DatabaseChecker: db, StorageChecker: storage,
		Logger: zerolog.Nop(), CacheTTL: time.Hour,
	})

	_, first := doGet(t, hc.HandleHealth)
	require.Equal(t, StatusHealthy, first.Status)
	require.NotEmpty(t, first.Uptime)

	callsAfterFirst := db.calls
	_, second := doGet(t, hc.HandleHealth)
	require.Equal(t, callsAfterFirst, db.calls, "a cached response must not re-invoke the checkers")
	require.Equal(t, first.Timestamp, second.Timestamp)
}

func TestHandleHealthRefreshesAfterTTLExpires(t *testing.T) {
	db := &fakeChecker{}
	storage := &fakeChecker{}
	hc := NewHealthChecker(HealthCheckerConfig{
		DatabaseChecker: db, StorageChecker: storage,
		Logger: zerolog.Nop(), CacheTTL: time.Millisecond,
	})

	doGet(t, hc.HandleHealth)
	time.Sleep(5 * time.Millisecond)
	callsAfterFirst := db.calls

	doGet(t, hc.HandleHealth)
	require.Greater(t, db.calls, callsAfterFirst, "an expired cache entry must trigger a fresh check")
}
