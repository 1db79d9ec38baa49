package blockcache

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"

	"github.com/zircuit-labs/ethquery/core/chain"
)

// Fetcher is the shared fetch path in front of the cache: on a miss it reads
// from the chain data provider, inserts the result and returns it. Concurrent
// requests for the same key are collapsed into a single provider read, so the
// cache structures are never locked for the duration of provider I/O.
type Fetcher struct {
	provider chain.Provider
	cache    *Cache

	blocks   singleflight.Group
	receipts singleflight.Group
}

// NewFetcher wires a provider behind a cache.
func NewFetcher(provider chain.Provider, cache *Cache) *Fetcher {
	return &Fetcher{provider: provider, cache: cache}
}

// Cache exposes the underlying cache for the reorg coordinator.
func (f *Fetcher) Cache() *Cache { return f.cache }

// Provider exposes the wrapped chain data provider.
func (f *Fetcher) Provider() chain.Provider { return f.provider }

// BlockByHash returns the block with the given hash, serving from cache when
// resident. Blocks fetched by hash may sit on a side chain, so the canonical
// height index is left untouched.
func (f *Fetcher) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	if block, ok := f.cache.BlockByHash(hash); ok {
		return block, nil
	}
	v, err, _ := f.blocks.Do(hash.Hex(), func() (any, error) {
		block, err := f.provider.BlockByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, chain.ErrNotFound
		}
		f.cache.AddSideBlock(block)
		return block, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Block), nil
}

// BlockByNumber returns the block that is canonical at the given height.
func (f *Fetcher) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	if block, ok := f.cache.BlockByNumber(number); ok {
		return block, nil
	}
	v, err, _ := f.blocks.Do("n:"+strconv.FormatUint(number, 10), func() (any, error) {
		hash, err := f.provider.CanonicalHash(ctx, number)
		if err != nil {
			return nil, err
		}
		block, err := f.provider.BlockByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, chain.ErrNotFound
		}
		f.cache.AddBlock(block)
		return block, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Block), nil
}

// Receipts returns the ordered receipts of the block with the given hash.
func (f *Fetcher) Receipts(ctx context.Context, hash common.Hash) (types.Receipts, error) {
	if receipts, ok := f.cache.ReceiptsByHash(hash); ok {
		return receipts, nil
	}
	v, err, _ := f.receipts.Do(hash.Hex(), func() (any, error) {
		receipts, err := f.provider.Receipts(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipts == nil {
			return nil, chain.ErrNotFound
		}
		f.cache.AddReceipts(hash, receipts)
		return receipts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(types.Receipts), nil
}

// BlockAndReceipts fetches both halves for a canonical height; the fee history
// backfill path uses it to fill one window entry with a single cache round.
func (f *Fetcher) BlockAndReceipts(ctx context.Context, number uint64) (*types.Block, types.Receipts, error) {
	block, err := f.BlockByNumber(ctx, number)
	if err != nil {
		return nil, nil, err
	}
	receipts, err := f.Receipts(ctx, block.Hash())
	if err != nil {
		return nil, nil, err
	}
	return block, receipts, nil
}
