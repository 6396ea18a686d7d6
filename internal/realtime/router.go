package realtime

import (
	"sync"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
	"github.com/pulsegrid-lab/pulsegrid/internal/core/partition"
)

// Router maps each partition key to exactly one coordinator instance for the
// lifetime of the process. Coordinators are created lazily on first use; the
// map is striped across a fixed shard count (FNV over the key) so unrelated
// partitions never contend on one lock.
type Router struct {
	windowMs int64
	maxBatch int
	nowMs    func() int64

	shards [partition.Count]routerShard
}

type routerShard struct {
	mu           sync.RWMutex
	coordinators map[string]*Coordinator
}

// NewRouter creates a router whose coordinators use the given window
// parameters. nowMs may be nil for the wall clock.
func NewRouter(windowMs int64, maxBatch int, nowMs func() int64) *Router {
	r := &Router{
		windowMs: windowMs,
		maxBatch: maxBatch,
		nowMs:    nowMs,
	}
	for i := range r.shards {
		r.shards[i].coordinators = make(map[string]*Coordinator)
	}
	return r
}

// Resolve returns the one coordinator that owns key, creating it on first
// resolution. Deterministic: the same key always yields the same instance.
func (r *Router) Resolve(key v1.PartitionKey) *Coordinator {
	shard := &r.shards[partition.For(key)]
	id := key.String()

	shard.mu.RLock()
	coordinator, ok := shard.coordinators[id]
	shard.mu.RUnlock()
	if ok {
		return coordinator
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if coordinator, ok := shard.coordinators[id]; ok {
		return coordinator
	}

	coordinator = NewCoordinator(Options{
		Key:      key,
		WindowMs: r.windowMs,
		MaxBatch: r.maxBatch,
		Now:      r.nowMs,
	})
	shard.coordinators[id] = coordinator
	return coordinator
}

// Publish forwards a pre-grouped event batch to the coordinator owning key.
// Fire-and-forget from the producer's perspective: no acknowledgment beyond
// return.
func (r *Router) Publish(key v1.PartitionKey, events []v1.Event) {
	r.Resolve(key).Publish(events)
}

// Connect registers an observer connection with the coordinator owning key.
func (r *Router) Connect(key v1.PartitionKey, id string, conn Conn) {
	r.Resolve(key).Connect(id, conn)
}

// Disconnect reports a closed transport to the coordinator owning key.
func (r *Router) Disconnect(key v1.PartitionKey, id string) {
	r.Resolve(key).Disconnect(id)
}

// ActivePartitions reports how many coordinators currently exist. Used by
// the health endpoint.
func (r *Router) ActivePartitions() int {
	total := 0
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.RLock()
		total += len(shard.coordinators)
		shard.mu.RUnlock()
	}
	return total
}

// Close shuts down every coordinator. Partial windows are discarded, not
// flushed.
func (r *Router) Close() {
	for i := range r.shards {
		shard := &r.shards[i]
		shard.mu.Lock()
		for _, coordinator := range shard.coordinators {
			coordinator.Close()
		}
		shard.coordinators = make(map[string]*Coordinator)
		shard.mu.Unlock()
	}
}
