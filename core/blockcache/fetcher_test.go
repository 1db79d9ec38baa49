package blockcache_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zircuit-labs/ethquery/core/blockcache"
	"github.com/zircuit-labs/ethquery/core/chain"
	"github.com/zircuit-labs/ethquery/core/chain/chaintest"
)

func newFetcher(t *testing.T) (*blockcache.Fetcher, *chaintest.Chain) {
	t.Helper()
	c := chaintest.New(chaintest.Config())
	cache := blockcache.New(blockcache.Config{BlockCacheSize: 16, ReceiptCacheSize: 16})
	return blockcache.NewFetcher(c, cache), c
}

func TestFetcherBlockByNumber(t *testing.T) {
	t.Parallel()

	fetcher, c := newFetcher(t)
	c.ExtendEmpty(3)

	block, err := fetcher.BlockByNumber(t.Context(), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), block.NumberU64())
	assert.Equal(t, 1, c.Calls["BlockByHash"])

	// The second read is served from cache without touching the provider.
	again, err := fetcher.BlockByNumber(t.Context(), 2)
	require.NoError(t, err)
	assert.Equal(t, block.Hash(), again.Hash())
	assert.Equal(t, 1, c.Calls["BlockByHash"])

	// A number fetch records the canonical height, so the hash path hits too.
	_, err = fetcher.BlockByHash(t.Context(), block.Hash())
	require.NoError(t, err)
	assert.Equal(t, 1, c.Calls["BlockByHash"])
}

func TestFetcherBlockByHashStaysSide(t *testing.T) {
	t.Parallel()

	fetcher, c := newFetcher(t)
	c.ExtendEmpty(2)
	head := c.CurrentHeader()

	block, err := fetcher.BlockByHash(t.Context(), head.Hash())
	require.NoError(t, err)
	assert.Equal(t, head.Hash(), block.Hash())

	// Hash fetches must not populate the canonical index.
	_, ok := fetcher.Cache().CanonicalHash(head.Number.Uint64())
	assert.False(t, ok)
}

func TestFetcherReceipts(t *testing.T) {
	t.Parallel()

	fetcher, c := newFetcher(t)
	receipts := types.Receipts{{CumulativeGasUsed: 21000}}
	block := c.Extend(21000, nil, receipts)

	got, err := fetcher.Receipts(t.Context(), block.Hash())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, c.Calls["Receipts"])

	_, err = fetcher.Receipts(t.Context(), block.Hash())
	require.NoError(t, err)
	assert.Equal(t, 1, c.Calls["Receipts"])
}

func TestFetcherNotFound(t *testing.T) {
	t.Parallel()

	fetcher, _ := newFetcher(t)

	_, err := fetcher.BlockByNumber(t.Context(), 99)
	assert.ErrorIs(t, err, chain.ErrNotFound)
}

func TestFetcherBlockAndReceipts(t *testing.T) {
	t.Parallel()

	fetcher, c := newFetcher(t)
	receipts := types.Receipts{{CumulativeGasUsed: 21000}}
	block := c.Extend(21000, nil, receipts)

	gotBlock, gotReceipts, err := fetcher.BlockAndReceipts(t.Context(), block.NumberU64())
	require.NoError(t, err)
	assert.Equal(t, block.Hash(), gotBlock.Hash())
	assert.Len(t, gotReceipts, 1)
}
