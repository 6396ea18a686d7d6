package v1

import (
	"fmt"
	"time"
)

// Importance classifies how urgently observers should treat an event.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// ValidImportance reports whether s is a recognized importance level.
func ValidImportance(s Importance) bool {
	switch s {
	case ImportanceLow, ImportanceNormal, ImportanceHigh:
		return true
	}
	return false
}

// Topics a stream can carry. The topic is part of the partition key, so
// "metrics" and "events" for the same stream aggregate independently.
const (
	TopicMetrics = "metrics"
	TopicEvents  = "events"
	TopicAlerts  = "alerts"
)

// ValidTopic reports whether s is a recognized topic.
func ValidTopic(s string) bool {
	return s == TopicMetrics || s == TopicEvents || s == TopicAlerts
}

// Event is the atomic unit of the system: one tagged, timestamped occurrence
// on a (tenant, stream, topic) partition. Immutable once normalized.
type Event struct {
	TenantID string `json:"tenantId"`
	StreamID string `json:"streamId"`
	Topic    string `json:"topic"`

	// TimestampMs is the event time in Unix milliseconds (client clock).
	// Defaulted to receipt time by Normalize when absent.
	TimestampMs int64 `json:"timestamp"`

	// Payload is the opaque domain data. Never interpreted by the core;
	// the alerting path may read individual numeric fields from it.
	Payload map[string]interface{} `json:"payload"`

	// Tags are optional string dimensions folded into per-window tallies.
	Tags map[string]string `json:"tags,omitempty"`

	Importance Importance `json:"importance,omitempty"`
}

// Normalize fills in server-side defaults: the receipt timestamp when the
// client sent none, and normal importance when unset.
func (e *Event) Normalize(receivedAt time.Time) {
	if e.TimestampMs == 0 {
		e.TimestampMs = receivedAt.UnixMilli()
	}
	if e.Importance == "" {
		e.Importance = ImportanceNormal
	}
}

// Validate ensures the event carries all required envelope attributes.
// Expects Normalize to have run, so defaults are already in place.
func (e *Event) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("tenantId is required")
	}
	if e.StreamID == "" {
		return fmt.Errorf("streamId is required")
	}
	if !ValidTopic(e.Topic) {
		return fmt.Errorf("invalid topic %q (must be metrics, events, or alerts)", e.Topic)
	}
	if e.TimestampMs <= 0 {
		return fmt.Errorf("timestamp must be positive")
	}
	if !ValidImportance(e.Importance) {
		return fmt.Errorf("invalid importance %q (must be low, normal, or high)", e.Importance)
	}
	return nil
}

// Key returns the partition key this event belongs to.
func (e *Event) Key() PartitionKey {
	return PartitionKey{TenantID: e.TenantID, StreamID: e.StreamID, Topic: e.Topic}
}

// PartitionKey identifies exactly one coordinator instance and, within it,
// exactly one active aggregation buffer. Two events with the same key must be
// processed by the same coordinator.
type PartitionKey struct {
	TenantID string `json:"tenantId"`
	StreamID string `json:"streamId"`
	Topic    string `json:"topic"`
}

// String returns the canonical routing form of the key.
func (k PartitionKey) String() string {
	return k.TenantID + ":" + k.StreamID + ":" + k.Topic
}
