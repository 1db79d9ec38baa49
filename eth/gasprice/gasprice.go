// Package gasprice derives gas price suggestions and fee market history from
// recent block contents. Both services read through the shared block fetch
// path, so repeated queries against an unchanged head cost no provider I/O.
package gasprice

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"

	"github.com/zircuit-labs/ethquery/core/blockcache"
	"github.com/zircuit-labs/ethquery/core/chain"
)

// Config parameterizes the oracle sampling and the fee history window.
type Config struct {
	// Blocks is how many recent blocks the oracle samples walking back from
	// the head.
	Blocks int `koanf:"blocks"`
	// Percentile selects the suggestion out of the ascending sample set.
	Percentile int `koanf:"percentile"`
	// MaxTxPerBlock bounds the tip samples taken from a single block.
	MaxTxPerBlock int `koanf:"max_tx_per_block"`
	// MinSamples stops the backward walk early once collected.
	MinSamples int `koanf:"min_samples"`

	Default  *big.Int `koanf:"-"`
	MaxPrice *big.Int `koanf:"-"`
	MinPrice *big.Int `koanf:"-"`

	// MaxFeeHistory caps the block count of a single feeHistory query.
	MaxFeeHistory uint64 `koanf:"max_fee_history"`
	// HistoryCacheSize bounds the per-block fee entry cache.
	HistoryCacheSize int `koanf:"history_cache_size"`
	// BackfillWorkers bounds concurrent provider reads while reconstructing
	// cold window entries.
	BackfillWorkers int `koanf:"backfill_workers"`
}

var (
	defaultMaxPrice = big.NewInt(500 * params.GWei)
	defaultPrice    = big.NewInt(params.GWei)
)

func (c *Config) sanitize() {
	if c.Blocks <= 0 {
		c.Blocks = 20
	}
	if c.Percentile < 0 {
		c.Percentile = 0
	} else if c.Percentile > 100 {
		log.Warn("Sanitizing invalid gasprice oracle percentile", "provided", c.Percentile, "updated", 100)
		c.Percentile = 100
	}
	if c.MaxTxPerBlock <= 0 {
		c.MaxTxPerBlock = 3
	}
	if c.MinSamples <= 0 {
		c.MinSamples = max(1, c.Blocks*c.MaxTxPerBlock/2)
	}
	if c.Default == nil {
		c.Default = defaultPrice
	}
	if c.MaxPrice == nil || c.MaxPrice.Sign() <= 0 {
		c.MaxPrice = defaultMaxPrice
	}
	if c.MinPrice == nil {
		c.MinPrice = big.NewInt(params.Wei)
	}
	if c.MaxFeeHistory == 0 {
		c.MaxFeeHistory = 1024
	}
	if c.HistoryCacheSize <= 0 {
		c.HistoryCacheSize = 2048
	}
	if c.BackfillWorkers <= 0 {
		c.BackfillWorkers = 4
	}
}

// Oracle recommends gas prices from recent block tips. The suggestion is
// memoized per head hash, so repeated calls against a fixed head are
// deterministic and free.
type Oracle struct {
	fetcher *blockcache.Fetcher
	cfg     Config

	cacheLock sync.RWMutex
	lastHead  common.Hash
	lastPrice *big.Int

	// fetchLock serializes recomputation so a burst of calls after a new
	// head triggers a single backward walk.
	fetchLock sync.Mutex
}

// NewOracle returns an oracle reading through the shared fetch path.
func NewOracle(fetcher *blockcache.Fetcher, cfg Config) *Oracle {
	cfg.sanitize()
	return &Oracle{
		fetcher:   fetcher,
		cfg:       cfg,
		lastPrice: cfg.Default,
	}
}

// SuggestTipCap returns a priority fee suggestion sampled from recent blocks,
// capped at the configured maximum and never below the configured floor.
func (o *Oracle) SuggestTipCap(ctx context.Context) (*big.Int, error) {
	head := o.fetcher.Provider().CurrentHeader()
	if head == nil {
		return new(big.Int).Set(o.cfg.Default), nil
	}
	headHash := head.Hash()

	o.cacheLock.RLock()
	lastHead, lastPrice := o.lastHead, o.lastPrice
	o.cacheLock.RUnlock()
	if headHash == lastHead {
		return new(big.Int).Set(lastPrice), nil
	}

	o.fetchLock.Lock()
	defer o.fetchLock.Unlock()

	// A concurrent caller may have recomputed while we waited.
	o.cacheLock.RLock()
	lastHead, lastPrice = o.lastHead, o.lastPrice
	o.cacheLock.RUnlock()
	if headHash == lastHead {
		return new(big.Int).Set(lastPrice), nil
	}

	samples, err := o.collectSamples(ctx, head)
	if err != nil {
		return nil, err
	}

	price := new(big.Int).Set(o.cfg.Default)
	if len(samples) >= o.cfg.MinSamples {
		sort.Slice(samples, func(i, j int) bool { return samples[i].Cmp(samples[j]) < 0 })
		price = new(big.Int).Set(samples[percentileIndex(len(samples), float64(o.cfg.Percentile))])
	}
	if price.Cmp(o.cfg.MaxPrice) > 0 {
		price = new(big.Int).Set(o.cfg.MaxPrice)
	}
	if price.Cmp(o.cfg.MinPrice) < 0 {
		price = new(big.Int).Set(o.cfg.MinPrice)
	}

	o.cacheLock.Lock()
	o.lastHead, o.lastPrice = headHash, price
	o.cacheLock.Unlock()

	return new(big.Int).Set(price), nil
}

// collectSamples walks backward from head for up to cfg.Blocks blocks,
// taking at most cfg.MaxTxPerBlock of the lowest effective tips per block and
// stopping early once the minimum sample size is reached. Tips at or below
// the base fee contribute zero rather than being dropped, so fee models with
// mandatory zero-tip transactions do not skew the distribution upward.
func (o *Oracle) collectSamples(ctx context.Context, head *types.Header) ([]*big.Int, error) {
	var samples []*big.Int
	number := head.Number.Uint64()
	for i := 0; i < o.cfg.Blocks && len(samples) < o.cfg.MinSamples; i++ {
		block, err := o.fetcher.BlockByNumber(ctx, number)
		if err != nil {
			return nil, err
		}
		samples = append(samples, blockTips(block, o.cfg.MaxTxPerBlock)...)
		if number == 0 {
			break
		}
		number--
	}
	return samples, nil
}

// blockTips returns up to limit effective tips of a block, lowest first, so
// one block of outliers cannot dominate the sample set.
func blockTips(block *types.Block, limit int) []*big.Int {
	txs := block.Transactions()
	if len(txs) == 0 {
		return nil
	}
	tips := make([]*big.Int, 0, len(txs))
	for _, tx := range txs {
		tips = append(tips, chain.EffectiveTip(tx, block.BaseFee()))
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].Cmp(tips[j]) < 0 })
	if len(tips) > limit {
		tips = tips[:limit]
	}
	return tips
}

// InvalidateFrom resets the head memoization after a reorg; the next call
// recomputes against the new canonical chain.
func (o *Oracle) InvalidateFrom(uint64) {
	o.cacheLock.Lock()
	o.lastHead = common.Hash{}
	o.cacheLock.Unlock()
}

// percentileIndex maps percentile p (clamped to [0,100]) into an index of an
// ascending sample list of length n: 0 selects the minimum, 100 the maximum,
// everything between rounds down.
func percentileIndex(n int, p float64) int {
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	return int(float64(n-1) * p / 100)
}
