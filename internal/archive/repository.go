// Package archive provides append-only raw-event archival. The ingest path
// writes every accepted event here before it is summarized; nothing in the
// live aggregation path ever reads it back.
package archive

import (
	"context"
	"time"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
)

// Record is one archived raw event plus its receipt metadata.
type Record struct {
	Event           v1.Event `json:"event"`
	ReceivedAt      int64    `json:"receivedAt"`
	ClientTimestamp int64    `json:"clientTimestamp,omitempty"`
}

// Archiver persists raw event records.
type Archiver interface {
	Archive(ctx context.Context, record Record) error
}

// NewRecord builds a record from an accepted event.
func NewRecord(event v1.Event, receivedAt time.Time, clientTimestamp int64) Record {
	return Record{
		Event:           event,
		ReceivedAt:      receivedAt.UnixMilli(),
		ClientTimestamp: clientTimestamp,
	}
}
