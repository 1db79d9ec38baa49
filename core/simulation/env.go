package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/zircuit-labs/ethquery/core/chain"
	"github.com/zircuit-labs/ethquery/core/fees"
)

// ErrInvalidCall rejects call parameter combinations before any execution,
// e.g. a legacy gas price mixed with EIP-1559 fee fields.
var ErrInvalidCall = errors.New("invalid call parameters")

// Config bounds simulation resource usage.
type Config struct {
	// GasCap is the global gas ceiling for simulated calls (DoS protection).
	GasCap uint64 `koanf:"gas_cap"`
	// EVMTimeout aborts a single simulation that runs longer than this.
	EVMTimeout time.Duration `koanf:"evm_timeout"`
}

const (
	defaultGasCap     = 50_000_000
	defaultEVMTimeout = 5 * time.Second
)

func (c *Config) sanitize() {
	if c.GasCap == 0 {
		c.GasCap = defaultGasCap
	}
	if c.EVMTimeout == 0 {
		c.EVMTimeout = defaultEVMTimeout
	}
}

// Builder assembles execution environments against resolved chain state and
// drives them through the execution engine. It only supplies the environment;
// callers needing pending-pool semantics provide pending transactions
// themselves.
type Builder struct {
	provider chain.Provider
	engine   Engine
	cfg      Config
}

// NewBuilder wires a builder over the chain data provider and the engine.
func NewBuilder(provider chain.Provider, engine Engine, cfg Config) *Builder {
	cfg.sanitize()
	return &Builder{provider: provider, engine: engine, cfg: cfg}
}

// GasCap returns the configured simulation gas ceiling.
func (b *Builder) GasCap() uint64 { return b.cfg.GasCap }

// Engine returns the wrapped execution engine.
func (b *Builder) Engine() Engine { return b.engine }

// Build resolves the block identity, opens the state view, applies overrides
// and fully defaults the call message. The returned environment is ready for
// Simulate and independent of any later chain progress.
func (b *Builder) Build(ctx context.Context, msg CallMsg, id rpc.BlockNumberOrHash, overrides StateOverrides, blockOverrides *BlockOverrides) (*Environment, error) {
	if msg.GasPrice != nil && (msg.GasFeeCap != nil || msg.GasTipCap != nil) {
		return nil, fmt.Errorf("%w: both gasPrice and (maxFeePerGas or maxPriorityFeePerGas) specified", ErrInvalidCall)
	}
	if err := overrides.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCall, err)
	}

	var (
		blockCtx    BlockContext
		stateHeader *types.Header
	)
	if number, ok := id.Number(); ok && number == rpc.PendingBlockNumber {
		head := b.provider.CurrentHeader()
		if head == nil {
			return nil, chain.ErrNotFound
		}
		blockCtx = b.pendingContext(ctx, head)
		stateHeader = head
	} else {
		header, err := chain.ResolveHeader(ctx, b.provider, id)
		if err != nil {
			return nil, err
		}
		blockCtx = contextFromHeader(header)
		stateHeader = header
	}
	blockOverrides.Apply(&blockCtx)

	state, err := b.provider.StateAt(ctx, stateHeader)
	if err != nil {
		return nil, err
	}
	state = NewOverlayView(state, overrides)

	if msg.Gas == 0 {
		msg.Gas = min(blockCtx.GasLimit, b.cfg.GasCap)
	} else if msg.Gas > b.cfg.GasCap {
		log.Warn("Caller gas above allowance, capping", "requested", msg.Gas, "cap", b.cfg.GasCap)
		msg.Gas = b.cfg.GasCap
	}
	resolveGasPrice(&msg, &blockCtx)

	return &Environment{
		ChainConfig: b.provider.ChainConfig(),
		Block:       blockCtx,
		Call:        msg,
		State:       state,
	}, nil
}

// Simulate runs the environment through the engine under the configured
// timeout. Execution-level failures live inside the result; an error return
// means the environment never ran to completion.
func (b *Builder) Simulate(ctx context.Context, env *Environment) (*Result, error) {
	defer func(start time.Time) {
		log.Debug("Simulation finished", "runtime", time.Since(start))
	}(time.Now())

	timeout := b.cfg.EVMTimeout
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	result, err := b.engine.Execute(ctx, env)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("execution aborted (timeout = %v)", timeout)
		}
		return nil, err
	}
	return result, nil
}

func contextFromHeader(header *types.Header) BlockContext {
	var baseFee *big.Int
	if header.BaseFee != nil {
		baseFee = new(big.Int).Set(header.BaseFee)
	}
	return BlockContext{
		Number:     new(big.Int).Set(header.Number),
		Time:       header.Time,
		GasLimit:   header.GasLimit,
		Coinbase:   header.Coinbase,
		BaseFee:    baseFee,
		Random:     header.MixDigest,
		Difficulty: header.Difficulty,
	}
}

// pendingContext builds the synthetic next-block context on top of the latest
// canonical header: height advances by one, the timestamp is extrapolated
// from the last observed block interval and the base fee follows the
// EIP-1559 adjustment of the head.
func (b *Builder) pendingContext(ctx context.Context, head *types.Header) BlockContext {
	interval := uint64(1)
	if parent, err := b.provider.HeaderByHash(ctx, head.ParentHash); err == nil && parent != nil && head.Time > parent.Time {
		interval = head.Time - parent.Time
	}
	return BlockContext{
		Number:     new(big.Int).Add(head.Number, big.NewInt(1)),
		Time:       head.Time + interval,
		GasLimit:   head.GasLimit,
		Coinbase:   head.Coinbase,
		BaseFee:    fees.CalcNextBaseFee(b.provider.ChainConfig(), head),
		Random:     head.MixDigest,
		Difficulty: head.Difficulty,
	}
}

// resolveGasPrice fills the effective per-gas price. A zero price lowers the
// context base fee to zero so the EVM invariant basefee <= feecap holds for
// unpriced simulations.
func resolveGasPrice(msg *CallMsg, blockCtx *BlockContext) {
	switch {
	case msg.GasPrice != nil:
		// Legacy style, explicit.
	case msg.GasFeeCap != nil || msg.GasTipCap != nil:
		feeCap := msg.GasFeeCap
		if feeCap == nil {
			feeCap = new(big.Int).SetUint64(math.MaxUint64)
		}
		tipCap := msg.GasTipCap
		if tipCap == nil {
			tipCap = new(big.Int)
		}
		if blockCtx.BaseFee == nil {
			msg.GasPrice = feeCap
		} else {
			price := new(big.Int).Add(tipCap, blockCtx.BaseFee)
			if price.Cmp(feeCap) > 0 {
				price.Set(feeCap)
			}
			msg.GasPrice = price
		}
		msg.GasFeeCap, msg.GasTipCap = feeCap, tipCap
	default:
		msg.GasPrice = new(big.Int)
	}
	if msg.GasPrice.Sign() == 0 {
		blockCtx.BaseFee = new(big.Int)
	}
}
