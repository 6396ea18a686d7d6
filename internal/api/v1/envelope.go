package v1

// Mode says whether an envelope carries the full event batch or only
// aggregated tallies (the overload-shedding response).
type Mode string

const (
	ModeFull       Mode = "full"
	ModeAggregated Mode = "aggregated"
)

// Window is the half-open interval [From, To) in Unix milliseconds.
type Window struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Metrics carries the per-window tallies that survive degradation.
type Metrics struct {
	Count        int64            `json:"count"`
	HighPriority int64            `json:"highPriority"`
	Tags         map[string]int64 `json:"tags"`
}

// AggregateEnvelope summarizes one completed window for one partition.
// Immutable: built once at flush time and broadcast as-is.
type AggregateEnvelope struct {
	TenantID string  `json:"tenantId"`
	StreamID string  `json:"streamId"`
	Topic    string  `json:"topic"`
	Window   Window  `json:"window"`
	Mode     Mode    `json:"mode"`
	Metrics  Metrics `json:"metrics"`

	// Sample is the first event seen in the window, kept even in
	// aggregated mode so observers always have one concrete example.
	Sample *Event `json:"sample,omitempty"`

	// Batch holds the retained events in full mode. Always empty in
	// aggregated mode; dropping it is what caps payload size under load.
	Batch []Event `json:"batch"`
}

// Key returns the partition key this envelope was aggregated for.
func (a *AggregateEnvelope) Key() PartitionKey {
	return PartitionKey{TenantID: a.TenantID, StreamID: a.StreamID, Topic: a.Topic}
}
