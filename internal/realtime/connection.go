package realtime

import (
	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
)

// Close codes forwarded to the transport when the coordinator drops a
// connection. Values follow RFC 6455.
const (
	CloseNormal        = 1000
	CloseInternalError = 1011
)

// Conn is the transport half of an observer connection. The coordinator only
// ever writes; reads (and close detection) belong to whoever accepted the
// connection, which reports closure back via Coordinator.Disconnect.
type Conn interface {
	// WriteMessage sends one complete text frame.
	WriteMessage(data []byte) error

	// Close terminates the connection with a close code and reason.
	// Must be safe to call more than once.
	Close(code int, reason string) error
}

// joinedMessage is the acknowledgment pushed once, immediately on connect.
type joinedMessage struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenantId"`
	StreamID  string `json:"streamId"`
	Topic     string `json:"topic"`
	Timestamp int64  `json:"timestamp"`
}

// aggregateMessage wraps an envelope for the wire.
type aggregateMessage struct {
	Type string                `json:"type"`
	Data *v1.AggregateEnvelope `json:"data"`
}

// observer is one registered connection plus its outbound queue. The send
// channel decouples broadcast from slow transports: the coordinator enqueues
// without blocking and a dedicated writer goroutine drains.
type observer struct {
	id   string
	key  v1.PartitionKey
	conn Conn
	send chan []byte
}
