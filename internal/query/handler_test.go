package query

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid-lab/pulsegrid/internal/auth"
	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

type fakeSummaryStore struct {
	lastQuery storage.MetricQuery
	buckets   []storage.MetricBucket
	err       error
}

func (f *fakeSummaryStore) SaveSummaries(context.Context, []storage.EventSummary) error {
	return nil
}

func (f *fakeSummaryStore) MetricRollup(_ context.Context, query storage.MetricQuery) ([]storage.MetricBucket, error) {
	f.lastQuery = query
	return f.buckets, f.err
}

type fakeAlertStore struct {
	alerts    []storage.AlertRecord
	lastLimit int
	ackTenant string
	ackID     string
	ackErr    error
}

func (f *fakeAlertStore) InsertAlerts(context.Context, []storage.AlertRecord) error {
	return nil
}

func (f *fakeAlertStore) ListAlerts(_ context.Context, _ string, limit int) ([]storage.AlertRecord, error) {
	f.lastLimit = limit
	return f.alerts, nil
}

func (f *fakeAlertStore) AckAlert(_ context.Context, tenantID, alertID, _ string, _ time.Time) error {
	f.ackTenant = tenantID
	f.ackID = alertID
	return f.ackErr
}

type fakeTokenStore struct {
	tokens map[string]*storage.TokenRecord
}

func (f *fakeTokenStore) LookupToken(_ context.Context, token string) (*storage.TokenRecord, error) {
	record, ok := f.tokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

type queryHarness struct {
	router    *gin.Engine
	summaries *fakeSummaryStore
	alerts    *fakeAlertStore
}

func newQueryHarness(t *testing.T) *queryHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &queryHarness{
		summaries: &fakeSummaryStore{},
		alerts:    &fakeAlertStore{},
	}
	authSvc := auth.NewService(&fakeTokenStore{tokens: map[string]*storage.TokenRecord{
		"reader-token": {TenantID: "acme", Scopes: []string{"read"}},
		"admin-token":  {TenantID: "acme", Scopes: []string{"read", ScopeAlertsWrite}},
	}}, time.Minute)

	h.router = gin.New()
	NewService(h.summaries, h.alerts).RegisterRoutes(h.router, authSvc)
	return h
}

func (h *queryHarness) do(t *testing.T, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestQueryMetricsDefaults(t *testing.T) {
	h := newQueryHarness(t)
	h.summaries.buckets = []storage.MetricBucket{
		{Bucket: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), Total: 10, HighPriority: 2},
	}

	w := h.do(t, http.MethodGet, "/v1/metrics", "reader-token")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "acme", h.summaries.lastQuery.TenantID)
	require.Equal(t, storage.GranularityMinute, h.summaries.lastQuery.Granularity)
	require.Equal(t, defaultMetricLimit, h.summaries.lastQuery.Limit)
	require.Contains(t, w.Body.String(), `"total":10`)
}

func TestQueryMetricsFilters(t *testing.T) {
	h := newQueryHarness(t)

	w := h.do(t, http.MethodGet,
		"/v1/metrics?streamId=checkout&granularity=hour&limit=24&from=2026-05-01T00:00:00Z&to=2026-05-02T00:00:00Z",
		"reader-token")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "checkout", h.summaries.lastQuery.StreamID)
	require.Equal(t, storage.GranularityHour, h.summaries.lastQuery.Granularity)
	require.Equal(t, 24, h.summaries.lastQuery.Limit)
	require.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), h.summaries.lastQuery.From)
}

func TestQueryMetricsRejectsBadGranularity(t *testing.T) {
	h := newQueryHarness(t)

	w := h.do(t, http.MethodGet, "/v1/metrics?granularity=fortnight", "reader-token")

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid granularity")
}

func TestQueryMetricsLimitBounds(t *testing.T) {
	tests := []struct {
		name     string
		limit    string
		wantCode int
	}{
		{"below minimum", "5", http.StatusBadRequest},
		{"at minimum", "10", http.StatusOK},
		{"at maximum", "2000", http.StatusOK},
		{"above maximum", "2001", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newQueryHarness(t)

			w := h.do(t, http.MethodGet, "/v1/metrics?limit="+tc.limit, "reader-token")

			require.Equal(t, tc.wantCode, w.Code)
			if tc.wantCode == http.StatusBadRequest {
				require.Contains(t, w.Body.String(), "limit must be between")
			}
		})
	}
}

func TestQueryMetricsRejectsInvertedRange(t *testing.T) {
	h := newQueryHarness(t)

	w := h.do(t, http.MethodGet,
		"/v1/metrics?from=2026-05-02T00:00:00Z&to=2026-05-01T00:00:00Z", "reader-token")

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryMetricsRequiresAuth(t *testing.T) {
	h := newQueryHarness(t)

	w := h.do(t, http.MethodGet, "/v1/metrics", "")

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListAlertsDefaults(t *testing.T) {
	h := newQueryHarness(t)
	h.alerts.alerts = []storage.AlertRecord{{ID: "a-1", TenantID: "acme", Status: "open"}}

	w := h.do(t, http.MethodGet, "/v1/alerts", "reader-token")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, defaultAlertLimit, h.alerts.lastLimit)
	require.Contains(t, w.Body.String(), `"a-1"`)
}

func TestListAlertsCapsLimit(t *testing.T) {
	h := newQueryHarness(t)

	w := h.do(t, http.MethodGet, "/v1/alerts?limit=9999", "reader-token")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, maxAlertLimit, h.alerts.lastLimit)
}

func TestAckAlert(t *testing.T) {
	h := newQueryHarness(t)

	w := h.do(t, http.MethodPost, "/v1/alerts/a-42/ack", "admin-token")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "acme", h.alerts.ackTenant)
	require.Equal(t, "a-42", h.alerts.ackID)
}

func TestAckAlertRequiresScope(t *testing.T) {
	h := newQueryHarness(t)

	w := h.do(t, http.MethodPost, "/v1/alerts/a-42/ack", "reader-token")

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Empty(t, h.alerts.ackID)
}

func TestAckAlertNotFound(t *testing.T) {
	h := newQueryHarness(t)
	h.alerts.ackErr = storage.ErrNotFound

	w := h.do(t, http.MethodPost, "/v1/alerts/ghost/ack", "admin-token")

	require.Equal(t, http.StatusNotFound, w.Code)
}
