package postgres

import (
	"fmt"
	"strings"

	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

const querySaveSummary = `
		INSERT INTO events_recent (tenant_id, stream_id, topic, ts, importance, payload_summary)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

const queryInsertAlert = `
		INSERT INTO alerts (id, tenant_id, stream_id, rule_id, severity, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, 'open', $6, $7)
	`

const queryListAlerts = `
		SELECT id, stream_id, rule_id, severity, status, payload, created_at, acked_at
		FROM alerts
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

const queryAckAlert = `
		UPDATE alerts
		SET status = 'ack', acked_at = $1
		WHERE id = $2 AND tenant_id = $3
	`

const queryInsertAuditLog = `
		INSERT INTO audit_logs (tenant_id, actor, action, entity_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

const queryLookupToken = `
		SELECT tenant_id, scopes
		FROM api_tokens
		WHERE token = $1 AND revoked_at IS NULL
	`

// buildRollupQuery assembles the metric rollup with its optional filters.
// date_trunc gives the same floor-to-bucket semantics the live aggregation
// uses, just at minute/hour/day scale.
func buildRollupQuery(query storage.MetricQuery) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT date_trunc($1, ts) AS bucket,
			COUNT(*) AS total,
			SUM(CASE WHEN importance = 'high' THEN 1 ELSE 0 END) AS high_priority
		FROM events_recent
		WHERE tenant_id = $2`)

	args := []interface{}{query.Granularity, query.TenantID}
	next := 3

	if query.StreamID != "" {
		sb.WriteString(fmt.Sprintf(" AND stream_id = $%d", next))
		args = append(args, query.StreamID)
		next++
	}
	if !query.From.IsZero() {
		sb.WriteString(fmt.Sprintf(" AND ts >= $%d", next))
		args = append(args, query.From)
		next++
	}
	if !query.To.IsZero() {
		sb.WriteString(fmt.Sprintf(" AND ts <= $%d", next))
		args = append(args, query.To)
		next++
	}

	sb.WriteString(fmt.Sprintf(" GROUP BY bucket ORDER BY bucket DESC LIMIT $%d", next))
	args = append(args, query.Limit)

	return sb.String(), args
}
