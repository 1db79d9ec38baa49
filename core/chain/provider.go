// Package chain defines the read-only contracts this service consumes from the
// node's durable storage layer. The serving layer never writes through these
// interfaces; canonical data is owned by the execution/storage backend.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// Provider is the canonical chain data accessor. Implementations are expected
// to be safe for concurrent use; finalized data is strongly consistent while
// recent heights may change under a reorg until the corresponding ReorgEvent
// has been delivered.
type Provider interface {
	ChainConfig() *params.ChainConfig

	// CurrentHeader returns the canonical chain head. Never nil once the
	// node has a chain.
	CurrentHeader() *types.Header

	// FinalizedHeader and SafeHeader return the consensus checkpoints, or nil
	// when the node has not observed them yet.
	FinalizedHeader() *types.Header
	SafeHeader() *types.Header

	// CanonicalHash maps a height to the current canonical block hash.
	// Returns ErrNotFound for heights above the head or pruned below history.
	CanonicalHash(ctx context.Context, number uint64) (common.Hash, error)

	HeaderByNumber(ctx context.Context, number uint64) (*types.Header, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*types.Header, error)
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)

	// Receipts returns the ordered receipts of the block with the given hash,
	// one per transaction.
	Receipts(ctx context.Context, hash common.Hash) (types.Receipts, error)

	// StateAt opens a read-only state view at the given header. Returns
	// ErrStateUnavailable if the historical state has been pruned.
	StateAt(ctx context.Context, header *types.Header) (StateView, error)
}

// StateView is a point-in-time, read-only view of account and storage state.
// Views are cheap handles; they are borrowed per request and never outlive it.
type StateView interface {
	Balance(addr common.Address) *uint256.Int
	Nonce(addr common.Address) uint64
	Code(addr common.Address) []byte
	CodeHash(addr common.Address) common.Hash
	State(addr common.Address, slot common.Hash) common.Hash
	Exist(addr common.Address) bool
}

// HeadEvent announces a newly canonical block together with its receipts so
// derived caches can extend incrementally without re-fetching.
type HeadEvent struct {
	Block    *types.Block
	Receipts types.Receipts
}

// ReorgEvent announces that the canonical hash at ForkHeight (and every height
// above it) has changed. OldHead and NewHead are informational; invalidation
// is driven by ForkHeight alone.
type ReorgEvent struct {
	ForkHeight uint64
	OldHead    *types.Header
	NewHead    *types.Header
}

// EffectiveTip returns the priority fee a transaction pays on top of baseFee,
// floored at zero so underpriced carry-over transactions from other fee models
// contribute a zero sample instead of a negative one.
func EffectiveTip(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if baseFee == nil {
		return new(big.Int).Set(tx.GasTipCap())
	}
	tip, err := tx.EffectiveGasTip(baseFee)
	if err != nil || tip.Sign() < 0 {
		// Negative means the fee cap sits below the base fee; the
		// transaction pays nothing on top, so it samples as zero.
		return new(big.Int)
	}
	return tip
}
