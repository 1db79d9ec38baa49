package gasprice

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zircuit-labs/ethquery/core/blockcache"
	"github.com/zircuit-labs/ethquery/core/chain"
	"github.com/zircuit-labs/ethquery/core/fees"
)

var (
	// ErrInvalidBlockCount rejects feeHistory queries asking for no blocks.
	ErrInvalidBlockCount = errors.New("invalid block count")
	// ErrRangeTooLarge rejects feeHistory queries exceeding the configured
	// maximum window, bounding response size.
	ErrRangeTooLarge = errors.New("requested block range too large")
	// ErrInvalidPercentile rejects percentiles outside [0, 100] or not in
	// ascending order.
	ErrInvalidPercentile = errors.New("invalid reward percentile")
)

// feeEntry is the processed fee data of one block: everything a feeHistory
// response needs, independent of the percentiles any particular query asks
// for. Entries are immutable once computed.
type feeEntry struct {
	number       uint64
	baseFee      *big.Int
	nextBaseFee  *big.Int
	gasUsedRatio float64
	// tips holds the effective priority fees of the block's transactions
	// sorted ascending; percentile sampling indexes into it directly.
	tips []*big.Int
}

// FeeHistory maintains the sliding window of per-block fee data, extended
// incrementally as blocks become canonical and reconstructed on demand for
// colder ranges.
type FeeHistory struct {
	fetcher *blockcache.Fetcher
	cfg     Config

	mu      sync.Mutex
	entries *lru.Cache[common.Hash, *feeEntry]
	pool    pond.Pool
}

// NewFeeHistory builds the fee history service over the shared fetch path.
func NewFeeHistory(fetcher *blockcache.Fetcher, cfg Config) *FeeHistory {
	cfg.sanitize()
	entries, _ := lru.New[common.Hash, *feeEntry](cfg.HistoryCacheSize)
	return &FeeHistory{
		fetcher: fetcher,
		cfg:     cfg,
		entries: entries,
		pool:    pond.NewPool(cfg.BackfillWorkers),
	}
}

// Stop tears down the backfill worker pool.
func (f *FeeHistory) Stop() {
	f.pool.StopAndWait()
}

// Extend appends the fee entry of a newly canonical block. The receipts are
// accepted for contract symmetry with the head notification; tips derive
// from the transactions and the block base fee alone.
func (f *FeeHistory) Extend(ev chain.HeadEvent) {
	if ev.Block == nil {
		return
	}
	f.addEntry(ev.Block)
}

// InvalidateFrom drops every window entry at or above forkHeight after a
// reorg; affected ranges are recomputed on the next query.
func (f *FeeHistory) InvalidateFrom(forkHeight uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, hash := range f.entries.Keys() {
		if entry, ok := f.entries.Peek(hash); ok && entry.number >= forkHeight {
			f.entries.Remove(hash)
		}
	}
}

// FeeHistory returns the fee market data of blockCount blocks ending at
// lastBlock: per-block base fees (plus the predicted next base fee as a final
// extra element), gas-used ratios and, when percentiles are requested, the
// effective tip at each percentile of every block.
func (f *FeeHistory) FeeHistory(ctx context.Context, blockCount uint64, lastBlock rpc.BlockNumber, rewardPercentiles []float64) (*big.Int, [][]*big.Int, []*big.Int, []float64, error) {
	if blockCount < 1 {
		return nil, nil, nil, nil, fmt.Errorf("%w: %d", ErrInvalidBlockCount, blockCount)
	}
	if blockCount > f.cfg.MaxFeeHistory {
		return nil, nil, nil, nil, fmt.Errorf("%w: %d requested, capped at %d", ErrRangeTooLarge, blockCount, f.cfg.MaxFeeHistory)
	}
	if err := validatePercentiles(rewardPercentiles); err != nil {
		return nil, nil, nil, nil, err
	}

	// The pending tag has no settled fee data yet; it resolves to the latest
	// canonical block.
	if lastBlock == rpc.PendingBlockNumber {
		lastBlock = rpc.LatestBlockNumber
	}
	header, err := chain.ResolveNumber(ctx, f.fetcher.Provider(), lastBlock)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	last := header.Number.Uint64()
	if blockCount > last+1 {
		blockCount = last + 1
	}
	first := last + 1 - blockCount

	entries, err := f.resolveEntries(ctx, first, last)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var (
		baseFees = make([]*big.Int, 0, blockCount+1)
		ratios   = make([]float64, 0, blockCount)
		rewards  [][]*big.Int
	)
	if len(rewardPercentiles) != 0 {
		rewards = make([][]*big.Int, 0, blockCount)
	}
	for _, entry := range entries {
		baseFees = append(baseFees, entry.baseFee)
		ratios = append(ratios, entry.gasUsedRatio)
		if len(rewardPercentiles) != 0 {
			rewards = append(rewards, sampleTips(entry.tips, rewardPercentiles))
		}
	}
	baseFees = append(baseFees, entries[len(entries)-1].nextBaseFee)

	return new(big.Int).SetUint64(first), rewards, baseFees, ratios, nil
}

// resolveEntries serves the contiguous [first, last] range from the window,
// reconstructing missing entries in parallel and merging them back instead of
// failing the query on a cold cache.
func (f *FeeHistory) resolveEntries(ctx context.Context, first, last uint64) ([]*feeEntry, error) {
	results := make([]*feeEntry, last-first+1)

	var missing []uint64
	for n := first; n <= last; n++ {
		if entry := f.cachedEntry(ctx, n); entry != nil {
			results[n-first] = entry
			continue
		}
		missing = append(missing, n)
	}
	if len(missing) > 0 {
		log.Debug("Backfilling fee history window", "first", first, "last", last, "missing", len(missing))
		group := f.pool.NewGroup()
		for _, n := range missing {
			group.SubmitErr(func() error {
				block, err := f.fetcher.BlockByNumber(ctx, n)
				if err != nil {
					return err
				}
				results[n-first] = f.addEntry(block)
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// cachedEntry looks the entry up by the canonical hash at number, so entries
// of reorged-out blocks can never serve a canonical range.
func (f *FeeHistory) cachedEntry(ctx context.Context, number uint64) *feeEntry {
	hash, ok := f.fetcher.Cache().CanonicalHash(number)
	if !ok {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.entries.Get(hash); ok {
		return entry
	}
	return nil
}

func (f *FeeHistory) addEntry(block *types.Block) *feeEntry {
	config := f.fetcher.Provider().ChainConfig()
	entry := newFeeEntry(config, block)
	f.mu.Lock()
	f.entries.Add(block.Hash(), entry)
	f.mu.Unlock()
	return entry
}

func newFeeEntry(config *params.ChainConfig, block *types.Block) *feeEntry {
	header := block.Header()
	baseFee := new(big.Int)
	if header.BaseFee != nil {
		baseFee.Set(header.BaseFee)
	}
	txs := block.Transactions()
	tips := make([]*big.Int, 0, len(txs))
	for _, tx := range txs {
		tips = append(tips, chain.EffectiveTip(tx, header.BaseFee))
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].Cmp(tips[j]) < 0 })

	return &feeEntry{
		number:       header.Number.Uint64(),
		baseFee:      baseFee,
		nextBaseFee:  fees.CalcNextBaseFee(config, header),
		gasUsedRatio: float64(header.GasUsed) / float64(header.GasLimit),
		tips:         tips,
	}
}

// sampleTips resolves each requested percentile against the ascending tip
// list. Duplicate percentiles are sampled once and re-expanded to match the
// request order; a block without transactions yields the zero-tip floor for
// every percentile.
func sampleTips(tips []*big.Int, percentiles []float64) []*big.Int {
	out := make([]*big.Int, len(percentiles))
	if len(tips) == 0 {
		for i := range out {
			out[i] = new(big.Int)
		}
		return out
	}
	sampled := make(map[float64]*big.Int, len(percentiles))
	for i, p := range percentiles {
		value, ok := sampled[p]
		if !ok {
			value = tips[percentileIndex(len(tips), p)]
			sampled[p] = value
		}
		out[i] = value
	}
	return out
}

func validatePercentiles(percentiles []float64) error {
	for i, p := range percentiles {
		if p < 0 || p > 100 {
			return fmt.Errorf("%w: %f", ErrInvalidPercentile, p)
		}
		if i > 0 && p < percentiles[i-1] {
			return fmt.Errorf("%w: #%d:%f > #%d:%f", ErrInvalidPercentile, i-1, percentiles[i-1], i, p)
		}
	}
	return nil
}
