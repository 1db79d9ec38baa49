package blockcache

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/zircuit-labs/ethquery/core/chain"
)

// HeadConsumer is implemented by caches that extend incrementally as blocks
// become canonical (the fee history window).
type HeadConsumer interface {
	Extend(ev chain.HeadEvent)
}

// ReorgConsumer is implemented by caches that hold per-height derived data
// and must drop everything at or above a fork point.
type ReorgConsumer interface {
	InvalidateFrom(forkHeight uint64)
}

// Coordinator turns chain notifications into one logical invalidation event
// across the block/receipt cache and any registered derived caches, applied
// sequentially before the notification is acknowledged. Caches are not
// persisted, so a crash mid-sequence is repaired by reconstruction on restart.
type Coordinator struct {
	cache  *Cache
	heads  []HeadConsumer
	reorgs []ReorgConsumer
}

// NewCoordinator wraps the block/receipt cache. Derived caches register
// through Register before the first notification is processed.
func NewCoordinator(cache *Cache) *Coordinator {
	return &Coordinator{cache: cache}
}

// Register subscribes a derived cache for head extension and/or reorg
// invalidation, depending on which interfaces it implements.
func (c *Coordinator) Register(consumer any) {
	if hc, ok := consumer.(HeadConsumer); ok {
		c.heads = append(c.heads, hc)
	}
	if rc, ok := consumer.(ReorgConsumer); ok {
		c.reorgs = append(c.reorgs, rc)
	}
}

// ProcessHead inserts a newly canonical block and its receipts, then extends
// the registered derived caches.
func (c *Coordinator) ProcessHead(ev chain.HeadEvent) {
	if ev.Block == nil {
		return
	}
	c.cache.AddBlock(ev.Block)
	if ev.Receipts != nil {
		c.cache.AddReceipts(ev.Block.Hash(), ev.Receipts)
	}
	for _, hc := range c.heads {
		hc.Extend(ev)
	}
}

// ProcessReorg invalidates every height mapping at or above the fork point in
// the block/receipt cache and all registered derived caches. Lookups started
// after ProcessReorg returns observe the invalidation; in-flight lookups may
// still answer with the pre-reorg view for that one call.
func (c *Coordinator) ProcessReorg(ev chain.ReorgEvent) {
	log.Debug("Invalidating caches after reorg", "forkHeight", ev.ForkHeight)
	c.cache.InvalidateFrom(ev.ForkHeight)
	for _, rc := range c.reorgs {
		rc.InvalidateFrom(ev.ForkHeight)
	}
}
