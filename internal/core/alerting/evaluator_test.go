package alerting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
)

func metricEvent(payload map[string]interface{}) v1.Event {
	return v1.Event{
		TenantID:    "tenant-1",
		StreamID:    "stream-1",
		Topic:       v1.TopicMetrics,
		TimestampMs: 1000,
		Payload:     payload,
		Importance:  v1.ImportanceNormal,
	}
}

func thresholdRule(op string, threshold int64) Rule {
	return Rule{
		Name:      "r",
		Topic:     v1.TopicMetrics,
		Field:     "latency_ms",
		Operator:  op,
		Threshold: decimal.NewFromInt(threshold),
		Severity:  SeverityWarning,
	}
}

func TestEvaluate_RaisesOnThresholdViolation(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	e := NewEvaluator([]Rule{thresholdRule(OpGreaterThan, 250)})

	alerts := e.Evaluate([]v1.Event{metricEvent(map[string]interface{}{"latency_ms": float64(300)})}, now)

	require.Len(t, alerts, 1)
	a := alerts[0]
	require.NotEmpty(t, a.ID)
	require.Equal(t, "tenant-1", a.TenantID)
	require.Equal(t, "stream-1", a.StreamID)
	require.Equal(t, "r", a.RuleID)
	require.Equal(t, SeverityWarning, a.Severity)
	require.Equal(t, now, a.CreatedAt)
	require.Equal(t, "300", a.Payload["value"])
}

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		fires bool
	}{
		{OpGreaterThan, 251, true},
		{OpGreaterThan, 250, false},
		{OpGreaterOrEq, 250, true},
		{OpGreaterOrEq, 249, false},
		{OpLessThan, 249, true},
		{OpLessThan, 250, false},
		{OpLessOrEq, 250, true},
		{OpLessOrEq, 251, false},
	}

	for _, tc := range tests {
		t.Run(tc.op, func(t *testing.T) {
			e := NewEvaluator([]Rule{thresholdRule(tc.op, 250)})
			alerts := e.Evaluate([]v1.Event{metricEvent(map[string]interface{}{"latency_ms": tc.value})}, time.Now())
			if tc.fires {
				require.Len(t, alerts, 1)
			} else {
				require.Empty(t, alerts)
			}
		})
	}
}

func TestEvaluate_TopicMismatchNeverFires(t *testing.T) {
	e := NewEvaluator([]Rule{thresholdRule(OpGreaterThan, 0)})

	evt := metricEvent(map[string]interface{}{"latency_ms": float64(100)})
	evt.Topic = v1.TopicEvents

	require.Empty(t, e.Evaluate([]v1.Event{evt}, time.Now()))
}

func TestEvaluate_MissingOrNonNumericFieldNeverFires(t *testing.T) {
	e := NewEvaluator([]Rule{thresholdRule(OpGreaterThan, 0)})

	events := []v1.Event{
		metricEvent(map[string]interface{}{}),
		metricEvent(map[string]interface{}{"latency_ms": "fast"}),
		metricEvent(map[string]interface{}{"latency_ms": true}),
		metricEvent(nil),
	}

	require.Empty(t, e.Evaluate(events, time.Now()))
}

func TestEvaluate_NoRulesIsCheap(t *testing.T) {
	e := NewEvaluator(nil)
	require.Nil(t, e.Evaluate([]v1.Event{metricEvent(map[string]interface{}{"latency_ms": 1.0})}, time.Now()))
}
