package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

func newTestAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectPrepare(regexp.QuoteMeta(querySaveSummary))
	adapter, err := newAdapterWithDB(db)
	require.NoError(t, err)
	return adapter, mock
}

func TestSaveSummaries_EmptyBatchIsNoOp(t *testing.T) {
	adapter, mock := newTestAdapter(t)

	require.NoError(t, adapter.SaveSummaries(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSummaries_BatchInOneTransaction(t *testing.T) {
	adapter, mock := newTestAdapter(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(querySaveSummary)).
		WithArgs("tenant-1", "stream-1", "metrics", now, "normal", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(querySaveSummary)).
		WithArgs("tenant-1", "stream-1", "metrics", now, "high", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	summaries := []storage.EventSummary{
		{TenantID: "tenant-1", StreamID: "stream-1", Topic: "metrics", Ts: now, Importance: "normal",
			Summary: map[string]interface{}{"topic": "metrics"}},
		{TenantID: "tenant-1", StreamID: "stream-1", Topic: "metrics", Ts: now, Importance: "high",
			Summary: map[string]interface{}{"topic": "metrics"}},
	}

	require.NoError(t, adapter.SaveSummaries(context.Background(), summaries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricRollup_AppliesFiltersAndReordersAscending(t *testing.T) {
	adapter, mock := newTestAdapter(t)

	from := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	b1 := from.Add(10 * time.Minute)
	b2 := from.Add(20 * time.Minute)

	mock.ExpectQuery("SELECT date_trunc").
		WithArgs("minute", "tenant-1", "stream-1", from, to, 200).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "total", "high_priority"}).
			AddRow(b2, int64(7), int64(2)).
			AddRow(b1, int64(3), int64(0)))

	buckets, err := adapter.MetricRollup(context.Background(), storage.MetricQuery{
		TenantID:    "tenant-1",
		StreamID:    "stream-1",
		From:        from,
		To:          to,
		Granularity: storage.GranularityMinute,
		Limit:       200,
	})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	require.Equal(t, b1, buckets[0].Bucket, "buckets must come back in ascending order")
	require.Equal(t, int64(3), buckets[0].Total)
	require.Equal(t, b2, buckets[1].Bucket)
	require.Equal(t, int64(2), buckets[1].HighPriority)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricRollup_RejectsInvalidGranularity(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.MetricRollup(context.Background(), storage.MetricQuery{
		TenantID:    "tenant-1",
		Granularity: "fortnight",
		Limit:       10,
	})
	require.Error(t, err)
}

func TestBuildRollupQuery_PlaceholderNumbering(t *testing.T) {
	// Optional filters shift the positional placeholders; the limit must
	// always land on the last one.
	sqlText, args := buildRollupQuery(storage.MetricQuery{
		TenantID:    "t",
		Granularity: storage.GranularityHour,
		Limit:       50,
	})
	require.Contains(t, sqlText, "LIMIT $3")
	require.Len(t, args, 3)

	sqlText, args = buildRollupQuery(storage.MetricQuery{
		TenantID:    "t",
		StreamID:    "s",
		From:        time.Now(),
		To:          time.Now(),
		Granularity: storage.GranularityHour,
		Limit:       50,
	})
	require.Contains(t, sqlText, "AND stream_id = $3")
	require.Contains(t, sqlText, "AND ts >= $4")
	require.Contains(t, sqlText, "AND ts <= $5")
	require.Contains(t, sqlText, "LIMIT $6")
	require.Len(t, args, 6)
}

func TestInsertAlerts_Transactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAlertAdapter(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryInsertAlert)).
		WithArgs("alert-1", "tenant-1", "stream-1", "high_latency", "warning", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = adapter.InsertAlerts(context.Background(), []storage.AlertRecord{{
		ID:        "alert-1",
		TenantID:  "tenant-1",
		StreamID:  "stream-1",
		RuleID:    "high_latency",
		Severity:  "warning",
		Payload:   map[string]interface{}{"value": "300"},
		CreatedAt: now,
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAlerts_ScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAlertAdapter(db)
	created := time.Now().UTC()
	acked := created.Add(time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta(queryListAlerts)).
		WithArgs("tenant-1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "stream_id", "rule_id", "severity", "status", "payload", "created_at", "acked_at"}).
			AddRow("alert-2", "stream-1", "rule-a", "critical", "open", []byte(`{"value":"9"}`), created, nil).
			AddRow("alert-1", "stream-1", "rule-a", "warning", "ack", []byte(`{}`), created.Add(-time.Hour), acked))

	alerts, err := adapter.ListAlerts(context.Background(), "tenant-1", 50)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "alert-2", alerts[0].ID)
	require.Equal(t, "tenant-1", alerts[0].TenantID)
	require.Equal(t, "9", alerts[0].Payload["value"])
	require.Nil(t, alerts[0].AckedAt)
	require.NotNil(t, alerts[1].AckedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAckAlert_WritesAuditInSameTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAlertAdapter(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryAckAlert)).
		WithArgs(now, "alert-1", "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertAuditLog)).
		WithArgs("tenant-1", "api", "ALERT_ACK", "alert", "alert-1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, adapter.AckAlert(context.Background(), "tenant-1", "alert-1", "api", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAckAlert_UnknownAlertReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAlertAdapter(db)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryAckAlert)).
		WithArgs(now, "missing", "tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = adapter.AckAlert(context.Background(), "tenant-1", "missing", "api", now)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupToken_ResolvesScopes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewTokenAdapter(db)

	mock.ExpectQuery(regexp.QuoteMeta(queryLookupToken)).
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "scopes"}).
			AddRow("tenant-1", []byte(`["ingest:write","alerts:write"]`)))

	record, err := adapter.LookupToken(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "tenant-1", record.TenantID)
	require.Equal(t, []string{"ingest:write", "alerts:write"}, record.Scopes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupToken_MissingOrRevokedIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewTokenAdapter(db)

	mock.ExpectQuery(regexp.QuoteMeta(queryLookupToken)).
		WithArgs("revoked").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "scopes"}))

	_, err = adapter.LookupToken(context.Background(), "revoked")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
