package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Rollup granularities for historical metric queries. These are the
// wall-clock analogue of the live path's millisecond window bucketing: both
// truncate the timestamp to the bucket start.
const (
	GranularityMinute = "minute"
	GranularityHour   = "hour"
	GranularityDay    = "day"
)

// ValidGranularity reports whether g is a supported rollup granularity.
func ValidGranularity(g string) bool {
	return g == GranularityMinute || g == GranularityHour || g == GranularityDay
}

// EventSummary is the compact per-event record the ingest path persists for
// the historical query endpoints. The raw payload lives in the archive; only
// the dimensions needed for rollups are kept here.
type EventSummary struct {
	TenantID   string
	StreamID   string
	Topic      string
	Ts         time.Time
	Importance string
	Summary    map[string]interface{} // topic, importance, tags; serialized to JSONB
}

// MetricQuery scopes a historical rollup.
type MetricQuery struct {
	TenantID    string
	StreamID    string // optional; empty means all streams
	From        time.Time
	To          time.Time
	Granularity string // minute, hour, day
	Limit       int
}

// MetricBucket is one rollup row: event totals per time bucket.
type MetricBucket struct {
	Bucket       time.Time `json:"bucket"`
	Total        int64     `json:"total"`
	HighPriority int64     `json:"high_priority"`
}

// AlertRecord is a persisted alert.
type AlertRecord struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	StreamID  string                 `json:"stream_id"`
	RuleID    string                 `json:"rule_id"`
	Severity  string                 `json:"severity"`
	Status    string                 `json:"status"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
	AckedAt   *time.Time             `json:"acked_at,omitempty"`
}

// TokenRecord is the resolved identity behind an API token.
type TokenRecord struct {
	TenantID string
	Scopes   []string
}

// SummaryStore persists per-event summaries and serves rollup queries over
// them.
type SummaryStore interface {
	SaveSummaries(ctx context.Context, summaries []EventSummary) error
	MetricRollup(ctx context.Context, query MetricQuery) ([]MetricBucket, error)
}

// AlertStore persists and serves alerts.
type AlertStore interface {
	InsertAlerts(ctx context.Context, alerts []AlertRecord) error
	ListAlerts(ctx context.Context, tenantID string, limit int) ([]AlertRecord, error)

	// AckAlert marks one alert acknowledged and writes the audit trail in
	// the same transaction. Returns ErrNotFound when the alert does not
	// exist for the tenant.
	AckAlert(ctx context.Context, tenantID, alertID, actor string, at time.Time) error
}

// TokenStore resolves bearer tokens to tenants. Revoked tokens behave as
// missing.
type TokenStore interface {
	LookupToken(ctx context.Context, token string) (*TokenRecord, error)
}
