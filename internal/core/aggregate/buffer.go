// Package aggregate implements the per-partition tumbling-window state
// machine. It is pure logic: no I/O, no goroutines, no clocks of its own.
// The owning coordinator is responsible for serializing calls.
package aggregate

import (
	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
)

// Defaults applied when the corresponding option is zero.
const (
	DefaultWindowMs = 1000
	DefaultMaxBatch = 128
)

// Options fixes a buffer's identity and window parameters at construction.
type Options struct {
	Key      v1.PartitionKey
	WindowMs int64 // tumbling window duration in milliseconds
	MaxBatch int   // events retained verbatim per window before degrading
}

// windowState is the single mutable window a buffer may hold. It exists only
// between the first event of a window and that window's flush, and is never
// persisted; a restart loses the partial window.
type windowState struct {
	from         int64
	to           int64
	count        int64
	highPriority int64
	tags         map[string]int64
	sample       *v1.Event
	batch        []v1.Event
	degraded     bool
}

// Buffer maintains at most one open window for one partition.
type Buffer struct {
	opts  Options
	state *windowState
}

// New creates a buffer for one partition, applying defaults for zero options.
func New(opts Options) *Buffer {
	if opts.WindowMs <= 0 {
		opts.WindowMs = DefaultWindowMs
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	return &Buffer{opts: opts}
}

// Append folds one event into the active window, opening a new window when the
// event's bucket starts at or after the current window's end. On such a
// rollover the finished window is flushed and its envelope returned; the new
// event is never folded into the returned envelope; it starts the fresh
// window. Returns nil on an ordinary in-window append.
//
// Events bucketed before the active window (late arrivals) are absorbed into
// the current window rather than rejected: clock skew within a partition is
// tolerated silently, never corrected.
func (b *Buffer) Append(event v1.Event) *v1.AggregateEnvelope {
	bucketFrom := (event.TimestampMs / b.opts.WindowMs) * b.opts.WindowMs
	bucketTo := bucketFrom + b.opts.WindowMs

	var emitted *v1.AggregateEnvelope
	if b.state == nil || bucketFrom >= b.state.to {
		emitted = b.drain()
		b.state = &windowState{
			from: bucketFrom,
			to:   bucketTo,
			tags: make(map[string]int64),
		}
	}

	s := b.state
	s.count++
	if event.Importance == v1.ImportanceHigh {
		s.highPriority++
	}
	if s.sample == nil {
		sample := event
		s.sample = &sample
	}
	for key, value := range event.Tags {
		s.tags[key+":"+value]++
	}
	if len(s.batch) < b.opts.MaxBatch {
		s.batch = append(s.batch, event)
	} else {
		// Over capacity: keep counting, stop retaining. Monotonic for
		// the rest of the window.
		s.degraded = true
	}

	return emitted
}

// Flush closes the active window and returns its envelope, or nil when there
// is nothing to emit. A window that is still legitimately collecting (now is
// before its end, it is not degraded, and its batch is not full) is retained
// untouched. That guard only matters for timer-driven flushes firing slightly
// early; rollover flushes inside Append never consult it.
func (b *Buffer) Flush(nowMs int64) *v1.AggregateEnvelope {
	if b.state == nil {
		return nil
	}
	if b.state.count == 0 {
		// Unreachable through Append (a window is only created by its
		// first event), kept as a drain path.
		b.state = nil
		return nil
	}
	if nowMs < b.state.to && !b.state.degraded && len(b.state.batch) < b.opts.MaxBatch {
		return nil
	}
	return b.drain()
}

// drain unconditionally materializes the envelope for the current window and
// clears the state. Callers have already decided the window is over.
func (b *Buffer) drain() *v1.AggregateEnvelope {
	s := b.state
	if s == nil || s.count == 0 {
		b.state = nil
		return nil
	}

	mode := v1.ModeFull
	batch := s.batch
	if s.degraded {
		mode = v1.ModeAggregated
		batch = []v1.Event{}
	}

	tags := make(map[string]int64, len(s.tags))
	for key, n := range s.tags {
		tags[key] = n
	}

	envelope := &v1.AggregateEnvelope{
		TenantID: b.opts.Key.TenantID,
		StreamID: b.opts.Key.StreamID,
		Topic:    b.opts.Key.Topic,
		Window:   v1.Window{From: s.from, To: s.to},
		Mode:     mode,
		Metrics: v1.Metrics{
			Count:        s.count,
			HighPriority: s.highPriority,
			Tags:         tags,
		},
		Sample: s.sample,
		Batch:  batch,
	}

	b.state = nil
	return envelope
}

// WindowEndMs returns the end of the bucket that contains ts, which is the
// earliest instant a deferred flush for that bucket may fire.
func (b *Buffer) WindowEndMs(ts int64) int64 {
	return (ts/b.opts.WindowMs)*b.opts.WindowMs + b.opts.WindowMs
}

// Empty reports whether the buffer currently holds no open window.
func (b *Buffer) Empty() bool {
	return b.state == nil
}
