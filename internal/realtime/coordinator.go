// Package realtime holds the partitioned live-aggregation core: one
// coordinator per (tenant, stream, topic) partition, each the exclusive owner
// of its window buffers, observer registry, and deferred flush timer, plus a
// router that stably maps partition keys to coordinator instances.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
	"github.com/pulsegrid-lab/pulsegrid/internal/core/aggregate"
)

// sendBufferSize bounds each observer's outbound queue. An observer that
// falls this far behind is dropped rather than awaited.
const sendBufferSize = 32

// Options configures one coordinator instance.
type Options struct {
	Key      v1.PartitionKey
	WindowMs int64
	MaxBatch int

	// Now returns the current time in Unix milliseconds. Nil means wall clock.
	Now func() int64
}

// Coordinator exclusively owns one partition's aggregation buffers and
// observer connections. Every entry point serializes on the coordinator's own
// mutex, the lock form of a single-threaded mailbox, so buffer mutation and
// timer coalescing need no further synchronization. Different partitions run
// fully independently.
type Coordinator struct {
	key      v1.PartitionKey
	windowMs int64
	maxBatch int
	now      func() int64

	mu        sync.Mutex
	buffers   map[string]*aggregate.Buffer
	observers map[string]*observer
	timer     *time.Timer
	// nextDeadline is the armed flush deadline in ms, 0 when no timer is
	// pending. Only ever rearmed to an earlier deadline.
	nextDeadline int64
	// timerGen identifies the current arm. A firing carrying a stale
	// generation was superseded by a rearm after it was scheduled and must
	// not touch the newer timer's state.
	timerGen uint64
	closed   bool
}

// NewCoordinator creates the coordinator for one partition key.
func NewCoordinator(opts Options) *Coordinator {
	if opts.WindowMs <= 0 {
		opts.WindowMs = aggregate.DefaultWindowMs
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = aggregate.DefaultMaxBatch
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Coordinator{
		key:       opts.Key,
		windowMs:  opts.WindowMs,
		maxBatch:  opts.MaxBatch,
		now:       opts.Now,
		buffers:   make(map[string]*aggregate.Buffer),
		observers: make(map[string]*observer),
	}
}

// Key returns the partition key this coordinator was created for.
func (c *Coordinator) Key() v1.PartitionKey {
	return c.key
}

// Publish folds a batch of events into the partition's window state. Rollover
// envelopes are broadcast synchronously; for every event the deferred flush
// timer is (re)armed for one tick past that event's window end, coalescing to
// the earliest pending deadline.
func (c *Coordinator) Publish(events []v1.Event) {
	if len(events) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	for _, event := range events {
		buffer := c.bufferFor(event.Key())
		if envelope := buffer.Append(event); envelope != nil {
			c.broadcastLocked(envelope)
		}
		c.scheduleFlushLocked(buffer.WindowEndMs(event.TimestampMs) + 1)
	}
}

// bufferFor resolves or creates the buffer for a key. Routing already
// guarantees one key per coordinator; the map tolerates a router that does
// not.
func (c *Coordinator) bufferFor(key v1.PartitionKey) *aggregate.Buffer {
	id := key.String()
	buffer, ok := c.buffers[id]
	if !ok {
		buffer = aggregate.New(aggregate.Options{
			Key:      key,
			WindowMs: c.windowMs,
			MaxBatch: c.maxBatch,
		})
		c.buffers[id] = buffer
	}
	return buffer
}

// scheduleFlushLocked arms the flush timer for deadlineMs unless an earlier
// (or equal) deadline is already pending. The coordinator never has more than
// one timer outstanding.
func (c *Coordinator) scheduleFlushLocked(deadlineMs int64) {
	if c.nextDeadline != 0 && c.nextDeadline <= deadlineMs {
		return
	}
	c.nextDeadline = deadlineMs
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerGen++
	gen := c.timerGen
	delay := time.Duration(deadlineMs-c.now()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	c.timer = time.AfterFunc(delay, func() { c.onTimer(gen) })
}

// onTimer flushes every buffer that has left its window. The armed marker is
// cleared before flushing so work done by a concurrent Publish can rearm. A
// stale generation means this firing lost a race with a rearm (Stop cannot
// recall a timer whose callback already started) and leaves the newer arm
// untouched.
func (c *Coordinator) onTimer(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.timerGen {
		return
	}

	c.nextDeadline = 0
	c.timer = nil

	nowMs := c.now()
	for _, buffer := range c.buffers {
		if envelope := buffer.Flush(nowMs); envelope != nil {
			c.broadcastLocked(envelope)
		}
		// A nil result means the window is still collecting or the
		// buffer is empty; a later publish or timer picks it up.
	}
}

// Connect registers an observer connection under id and immediately pushes the
// joined acknowledgment. The caller keeps reading from the transport and
// reports closure via Disconnect; the coordinator owns everything else.
func (c *Coordinator) Connect(id string, conn Conn) {
	obs := &observer{
		id:   id,
		key:  c.key,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	joined, err := json.Marshal(joinedMessage{
		Type:      "joined",
		TenantID:  c.key.TenantID,
		StreamID:  c.key.StreamID,
		Topic:     c.key.Topic,
		Timestamp: c.now(),
	})
	if err != nil {
		// Marshalling a flat struct of strings cannot fail; guard anyway.
		slog.Error("Failed to encode joined ack", "error", err, "partition", c.key.String())
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(CloseNormal, "shutting down")
		return
	}
	c.observers[id] = obs
	obs.send <- joined
	c.mu.Unlock()

	go c.writeLoop(obs)

	slog.Info("Observer connected",
		"connection_id", id,
		"partition", c.key.String())
}

// Disconnect removes a connection from the registry. Idempotent: the write
// loop and the transport's read side may both report the same closure.
func (c *Coordinator) Disconnect(id string) {
	c.mu.Lock()
	obs, ok := c.observers[id]
	if ok {
		delete(c.observers, id)
		close(obs.send)
	}
	c.mu.Unlock()

	if ok {
		obs.conn.Close(CloseNormal, "")
		slog.Info("Observer disconnected",
			"connection_id", id,
			"partition", c.key.String())
	}
}

// broadcastLocked fans an envelope out to every registered connection whose
// key matches the envelope's. By partitioning, every observer on this
// coordinator should match; the filter catches a mis-routed envelope rather
// than pushing foreign-partition data. A connection whose queue is full
// is closed and removed without aborting delivery to the rest.
func (c *Coordinator) broadcastLocked(envelope *v1.AggregateEnvelope) {
	payload, err := json.Marshal(aggregateMessage{Type: "aggregate", Data: envelope})
	if err != nil {
		slog.Error("Failed to encode aggregate envelope", "error", err, "partition", c.key.String())
		return
	}

	var dropped []*observer
	for _, obs := range c.observers {
		if obs.key != envelope.Key() {
			continue
		}
		select {
		case obs.send <- payload:
		default:
			dropped = append(dropped, obs)
		}
	}

	for _, obs := range dropped {
		delete(c.observers, obs.id)
		close(obs.send)
		go obs.conn.Close(CloseInternalError, "send buffer overflow")
		slog.Warn("Dropped slow observer",
			"connection_id", obs.id,
			"partition", c.key.String())
	}
}

// writeLoop drains one observer's queue onto its transport. A write failure
// closes that connection only; the registry entry is cleaned up through
// Disconnect.
func (c *Coordinator) writeLoop(obs *observer) {
	for payload := range obs.send {
		if err := obs.conn.WriteMessage(payload); err != nil {
			obs.conn.Close(CloseInternalError, err.Error())
			c.Disconnect(obs.id)
			return
		}
	}
}

// Close stops the flush timer and drops every observer. In-flight window
// state is discarded: partial windows do not survive a coordinator's end.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.nextDeadline = 0
	observers := make([]*observer, 0, len(c.observers))
	for _, obs := range c.observers {
		observers = append(observers, obs)
	}
	c.observers = make(map[string]*observer)
	for _, obs := range observers {
		close(obs.send)
	}
	c.mu.Unlock()

	for _, obs := range observers {
		obs.conn.Close(CloseNormal, "shutting down")
	}
}

// observerCount reports the registry size. Test hook.
func (c *Coordinator) observerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.observers)
}

// armedDeadline reports the pending flush deadline, 0 when none. Test hook.
func (c *Coordinator) armedDeadline() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextDeadline
}
