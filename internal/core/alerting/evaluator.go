package alerting

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
)

// Alert is one raised threshold violation, ready for persistence.
type Alert struct {
	ID        string
	TenantID  string
	StreamID  string
	RuleID    string
	Severity  string
	Payload   map[string]interface{}
	CreatedAt time.Time
}

// Evaluator checks events against the loaded rule set.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator creates an evaluator over a fixed rule set.
func NewEvaluator(rules []Rule) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate runs every rule against every event and returns the alerts raised.
// Non-numeric or missing fields never match — a rule cannot fail, only not
// fire.
func (e *Evaluator) Evaluate(events []v1.Event, now time.Time) []Alert {
	if len(e.rules) == 0 {
		return nil
	}

	var alerts []Alert
	for _, event := range events {
		for _, rule := range e.rules {
			if rule.Topic != event.Topic {
				continue
			}
			value, ok := numericField(event.Payload, rule.Field)
			if !ok {
				continue
			}
			if !compare(value, rule.Operator, rule.Threshold) {
				continue
			}
			alerts = append(alerts, Alert{
				ID:       uuid.New().String(),
				TenantID: event.TenantID,
				StreamID: event.StreamID,
				RuleID:   rule.Name,
				Severity: rule.Severity,
				Payload: map[string]interface{}{
					"field":     rule.Field,
					"value":     value.String(),
					"threshold": rule.Threshold.String(),
					"operator":  rule.Operator,
					"eventTs":   event.TimestampMs,
				},
				CreatedAt: now,
			})
		}
	}
	return alerts
}

// numericField extracts a payload field as a decimal. JSON numbers arrive as
// float64 through gin's binding and as json.Number when decoded with UseNumber.
func numericField(payload map[string]interface{}, field string) (decimal.Decimal, bool) {
	raw, ok := payload[field]
	if !ok {
		return decimal.Decimal{}, false
	}
	switch value := raw.(type) {
	case float64:
		return decimal.NewFromFloat(value), true
	case int64:
		return decimal.NewFromInt(value), true
	case int:
		return decimal.NewFromInt(int64(value)), true
	case json.Number:
		d, err := decimal.NewFromString(value.String())
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

func compare(value decimal.Decimal, op string, threshold decimal.Decimal) bool {
	switch op {
	case OpGreaterThan:
		return value.GreaterThan(threshold)
	case OpGreaterOrEq:
		return value.GreaterThanOrEqual(threshold)
	case OpLessThan:
		return value.LessThan(threshold)
	case OpLessOrEq:
		return value.LessThanOrEqual(threshold)
	}
	return false
}
