package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

// AlertAdapter implements storage.AlertStore on the shared connection pool.
type AlertAdapter struct {
	db *sql.DB
}

// NewAlertAdapter wires the alert store onto an existing database handle.
func NewAlertAdapter(db *sql.DB) *AlertAdapter {
	return &AlertAdapter{db: db}
}

// InsertAlerts persists one batch of raised alerts in a single transaction.
func (a *AlertAdapter) InsertAlerts(ctx context.Context, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin alert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, alert := range alerts {
		payloadJSON, err := json.Marshal(alert.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal alert payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryInsertAlert,
			alert.ID,
			alert.TenantID,
			alert.StreamID,
			alert.RuleID,
			alert.Severity,
			payloadJSON,
			alert.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert alert %s: %w", alert.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alerts: %w", err)
	}

	slog.Debug("[Postgres] Inserted alerts", "count", len(alerts))
	return nil
}

// ListAlerts returns a tenant's newest alerts, newest first.
func (a *AlertAdapter) ListAlerts(ctx context.Context, tenantID string, limit int) ([]storage.AlertRecord, error) {
	rows, err := a.db.QueryContext(ctx, queryListAlerts, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []storage.AlertRecord
	for rows.Next() {
		var (
			record      storage.AlertRecord
			payloadJSON []byte
			ackedAt     sql.NullTime
		)
		if err := rows.Scan(
			&record.ID,
			&record.StreamID,
			&record.RuleID,
			&record.Severity,
			&record.Status,
			&payloadJSON,
			&record.CreatedAt,
			&ackedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		record.TenantID = tenantID
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &record.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alert payload: %w", err)
			}
		}
		if ackedAt.Valid {
			t := ackedAt.Time
			record.AckedAt = &t
		}
		alerts = append(alerts, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}
	return alerts, nil
}

// AckAlert marks an alert acknowledged and records the action in audit_logs
// inside one transaction. Returns storage.ErrNotFound when the alert does not
// exist for the tenant.
func (a *AlertAdapter) AckAlert(ctx context.Context, tenantID, alertID, actor string, at time.Time) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ack transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, queryAckAlert, at, alertID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to ack alert %s: %w", alertID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read ack result: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	auditPayload, err := json.Marshal(map[string]string{"id": alertID})
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryInsertAuditLog,
		tenantID,
		actor,
		"ALERT_ACK",
		"alert",
		alertID,
		auditPayload,
		at,
	); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ack: %w", err)
	}
	return nil
}
