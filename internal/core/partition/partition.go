package partition

import (
	"hash/fnv"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
)

// Count is the fixed number of router shards.
// Never changes after initial deployment: it's a capacity decision, not a scaling decision.
const Count = 256

// For returns the shard index for a partition key.
// Stable and deterministic: the same key always maps to the same shard, which
// is what keeps key→coordinator resolution stable for the process lifetime.
// Uses FNV-32a (stdlib, fast, well-distributed).
func For(key v1.PartitionKey) int {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return int(h.Sum32()) % Count
}
