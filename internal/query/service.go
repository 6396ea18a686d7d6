// Package query serves the historical read path: metric rollups and alert
// listings over the summaries the ingest path persisted. The live websocket
// path never goes through here.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

const (
	defaultMetricLimit = 200
	minMetricLimit     = 10
	maxMetricLimit     = 2000
	defaultAlertLimit  = 50
	maxAlertLimit      = 200
)

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid query")

// MetricRequest scopes a rollup query. TenantID always comes from the
// authenticated identity, never from the request.
type MetricRequest struct {
	TenantID    string
	StreamID    string
	From        time.Time
	To          time.Time
	Granularity string
	Limit       int
}

// MetricResponse is the rollup result, buckets in ascending time order.
type MetricResponse struct {
	TenantID    string                 `json:"tenantId"`
	StreamID    string                 `json:"streamId,omitempty"`
	Granularity string                 `json:"granularity"`
	Buckets     []storage.MetricBucket `json:"buckets"`
}

// AlertListResponse wraps the alerts newest-first.
type AlertListResponse struct {
	TenantID string                `json:"tenantId"`
	Alerts   []storage.AlertRecord `json:"alerts"`
}

// Service implements the historical query layer over the summary and alert
// stores.
type Service struct {
	summaries storage.SummaryStore
	alerts    storage.AlertStore
	nowFn     func() time.Time
}

// NewService creates a query service.
func NewService(summaries storage.SummaryStore, alerts storage.AlertStore) *Service {
	if summaries == nil {
		panic("query: summary store must not be nil")
	}
	if alerts == nil {
		panic("query: alert store must not be nil")
	}
	return &Service{
		summaries: summaries,
		alerts:    alerts,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// QueryMetrics validates and runs one rollup query.
func (s *Service) QueryMetrics(ctx context.Context, req MetricRequest) (*MetricResponse, error) {
	req, err := normalizeMetricRequest(req)
	if err != nil {
		return nil, err
	}

	buckets, err := s.summaries.MetricRollup(ctx, storage.MetricQuery{
		TenantID:    req.TenantID,
		StreamID:    req.StreamID,
		From:        req.From,
		To:          req.To,
		Granularity: req.Granularity,
		Limit:       req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("metric rollup: %w", err)
	}
	if buckets == nil {
		buckets = []storage.MetricBucket{}
	}

	return &MetricResponse{
		TenantID:    req.TenantID,
		StreamID:    req.StreamID,
		Granularity: req.Granularity,
		Buckets:     buckets,
	}, nil
}

// ListAlerts returns the tenant's most recent alerts.
func (s *Service) ListAlerts(ctx context.Context, tenantID string, limit int) (*AlertListResponse, error) {
	if tenantID == "" {
		return nil, invalidQueryf("tenant is required")
	}
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	alerts, err := s.alerts.ListAlerts(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	if alerts == nil {
		alerts = []storage.AlertRecord{}
	}

	return &AlertListResponse{TenantID: tenantID, Alerts: alerts}, nil
}

// AckAlert acknowledges one alert on behalf of the tenant. Returns
// storage.ErrNotFound when the alert does not exist for the tenant.
func (s *Service) AckAlert(ctx context.Context, tenantID, alertID, actor string) error {
	if tenantID == "" {
		return invalidQueryf("tenant is required")
	}
	if alertID == "" {
		return invalidQueryf("alert id is required")
	}
	return s.alerts.AckAlert(ctx, tenantID, alertID, actor, s.nowFn())
}

func normalizeMetricRequest(req MetricRequest) (MetricRequest, error) {
	if req.TenantID == "" {
		return req, invalidQueryf("tenant is required")
	}
	if req.Granularity == "" {
		req.Granularity = storage.GranularityMinute
	}
	if !storage.ValidGranularity(req.Granularity) {
		return req, invalidQueryf("invalid granularity: %s (must be minute, hour, or day)", req.Granularity)
	}
	if req.Limit == 0 {
		req.Limit = defaultMetricLimit
	}
	if req.Limit < minMetricLimit || req.Limit > maxMetricLimit {
		return req, invalidQueryf("limit must be between %d and %d", minMetricLimit, maxMetricLimit)
	}
	if !req.From.IsZero() && !req.To.IsZero() && !req.To.After(req.From) {
		return req, invalidQueryf("to must be after from")
	}
	return req, nil
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
