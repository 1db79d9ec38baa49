// Package blockcache provides the bounded, recency-biased caches for
// response-ready block and receipt data, plus the coordinator that keeps them
// and the fee caches consistent across chain reorganisations.
package blockcache

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Config bounds the caches by entry count. Zero values fall back to defaults
// sized for a single serving process.
type Config struct {
	BlockCacheSize   int `koanf:"block_cache_size"`
	ReceiptCacheSize int `koanf:"receipt_cache_size"`

	// Registerer receives the cache hit/miss counters. Nil disables metrics,
	// which tests use to construct isolated instances.
	Registerer prometheus.Registerer `koanf:"-"`
}

const (
	defaultBlockCacheSize   = 256
	defaultReceiptCacheSize = 128
)

func (c *Config) sanitize() {
	if c.BlockCacheSize <= 0 {
		c.BlockCacheSize = defaultBlockCacheSize
	}
	if c.ReceiptCacheSize <= 0 {
		c.ReceiptCacheSize = defaultReceiptCacheSize
	}
}

// Cache maps block identity to assembled block and receipt data. Entries are
// keyed by hash and immutable once inserted; a separate height index tracks
// which hash is currently canonical at each height, so a reorg invalidates
// the mapping without touching the hash-keyed entries.
//
// The cache never reaches out to the chain data provider itself; on a miss
// the caller fetches and inserts (see Fetcher).
type Cache struct {
	mu       sync.Mutex
	blocks   *lru.Cache[common.Hash, *types.Block]
	receipts *lru.Cache[common.Hash, types.Receipts]
	heights  *lru.Cache[uint64, common.Hash]

	metrics *cacheMetrics
}

// New constructs a cache pair with the configured capacity bounds.
func New(cfg Config) *Cache {
	cfg.sanitize()

	// The only error paths in lru.New are non-positive sizes, which sanitize
	// has already ruled out.
	blocks, _ := lru.New[common.Hash, *types.Block](cfg.BlockCacheSize)
	receipts, _ := lru.New[common.Hash, types.Receipts](cfg.ReceiptCacheSize)
	heights, _ := lru.New[uint64, common.Hash](cfg.BlockCacheSize)

	return &Cache{
		blocks:   blocks,
		receipts: receipts,
		heights:  heights,
		metrics:  newCacheMetrics(cfg.Registerer),
	}
}

// BlockByHash returns the cached block for hash, refreshing its recency.
func (c *Cache) BlockByHash(hash common.Hash) (*types.Block, bool) {
	block, ok := c.blocks.Get(hash)
	c.metrics.observe(lookupBlock, ok)
	return block, ok
}

// BlockByNumber returns the cached block that is canonical at the given
// height, if both the height mapping and the block entry are still resident.
func (c *Cache) BlockByNumber(number uint64) (*types.Block, bool) {
	hash, ok := c.heights.Get(number)
	if !ok {
		c.metrics.observe(lookupBlock, false)
		return nil, false
	}
	return c.BlockByHash(hash)
}

// CanonicalHash returns the cached canonical hash at a height.
func (c *Cache) CanonicalHash(number uint64) (common.Hash, bool) {
	return c.heights.Get(number)
}

// ReceiptsByHash returns the cached receipts of the block with the given hash.
func (c *Cache) ReceiptsByHash(hash common.Hash) (types.Receipts, bool) {
	receipts, ok := c.receipts.Get(hash)
	c.metrics.observe(lookupReceipts, ok)
	return receipts, ok
}

// AddBlock inserts a block under its hash and records it as canonical at its
// height. Re-inserting a present key only refreshes recency.
func (c *Cache) AddBlock(block *types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks.Add(block.Hash(), block)
	c.heights.Add(block.NumberU64(), block.Hash())
}

// AddSideBlock inserts a block under its hash without touching the canonical
// height index, for blocks fetched by hash that may sit on a side chain.
func (c *Cache) AddSideBlock(block *types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks.Add(block.Hash(), block)
}

// AddReceipts inserts the receipt list for a block hash.
func (c *Cache) AddReceipts(hash common.Hash, receipts types.Receipts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts.Add(hash, receipts)
}

// Invalidate drops the entries stored under hash from both maps. It targets a
// single known-bad block; use InvalidateFrom when a reorg rewrites a range of
// heights.
func (c *Cache) Invalidate(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks.Remove(hash)
	c.receipts.Remove(hash)
}

// InvalidateFrom drops every canonical height mapping at or above forkHeight.
// Hash-keyed entries stay resident: content under a hash never mutates, and
// lookups by stale hash remain answerable until eviction.
func (c *Cache) InvalidateFrom(forkHeight uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, number := range c.heights.Keys() {
		if number >= forkHeight {
			c.heights.Remove(number)
		}
	}
}

// Purge empties all maps; used when the service restarts its view of the chain.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks.Purge()
	c.receipts.Purge()
	c.heights.Purge()
}
