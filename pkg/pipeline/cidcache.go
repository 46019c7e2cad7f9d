package pipeline

// cidCache is a bounded per-user FIFO cache (a lookup does not refresh an
// entry; the oldest-recorded cid is evicted first) of recently accepted (cid ->
// order_id) pairs (§4.3.1), grounded on the teacher's bucketed, bounded
// Mempool (pkg/app/core/mempool) — generalized from the teacher's
// unbounded byte-slice queues into a fixed-capacity eviction cache
// keyed per user, since the spec explicitly calls for "a bounded recent
// cid cache keyed by user" rather than a FIFO admission queue.
type cidCache struct {
	capacity int
	perUser  map[uint64]*lruShard
}

type lruShard struct {
	capacity int
	order    []string          // oldest-first
	index    map[string]uint64 // cid -> order_id
}

func newCidCache(capacityPerUser int) *cidCache {
	if capacityPerUser <= 0 {
		capacityPerUser = 4096
	}
	return &cidCache{capacity: capacityPerUser, perUser: make(map[uint64]*lruShard)}
}

// Lookup returns the order_id previously assigned to (userID, cid), if any.
func (c *cidCache) Lookup(userID uint64, cid string) (uint64, bool) {
	if cid == "" {
		return 0, false
	}
	shard, ok := c.perUser[userID]
	if !ok {
		return 0, false
	}
	orderID, ok := shard.index[cid]
	return orderID, ok
}

// Record remembers that (userID, cid) was assigned orderID, evicting the
// oldest entry for that user if the shard is at capacity.
func (c *cidCache) Record(userID uint64, cid string, orderID uint64) {
	if cid == "" {
		return
	}
	shard, ok := c.perUser[userID]
	if !ok {
		shard = &lruShard{capacity: c.capacity, index: make(map[string]uint64)}
		c.perUser[userID] = shard
	}
	if _, exists := shard.index[cid]; exists {
		return
	}
	if len(shard.order) >= shard.capacity {
		oldest := shard.order[0]
		shard.order = shard.order[1:]
		delete(shard.index, oldest)
	}
	shard.order = append(shard.order, cid)
	shard.index[cid] = orderID
}
