package simulation_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zircuit-labs/ethquery/core/chain/chaintest"
	"github.com/zircuit-labs/ethquery/core/fees"
	"github.com/zircuit-labs/ethquery/core/simulation"
)

// engineFunc adapts a function to the Engine interface.
type engineFunc func(ctx context.Context, env *simulation.Environment) (*simulation.Result, error)

func (f engineFunc) Execute(ctx context.Context, env *simulation.Environment) (*simulation.Result, error) {
	return f(ctx, env)
}

func succeedEngine(usedGas uint64) engineFunc {
	return func(context.Context, *simulation.Environment) (*simulation.Result, error) {
		return &simulation.Result{UsedGas: usedGas}, nil
	}
}

func latest() rpc.BlockNumberOrHash {
	return rpc.BlockNumberOrHashWithNumber(rpc.LatestBlockNumber)
}

func pending() rpc.BlockNumberOrHash {
	return rpc.BlockNumberOrHashWithNumber(rpc.PendingBlockNumber)
}

func TestBuildRejectsMixedFeeFields(t *testing.T) {
	t.Parallel()

	c := chaintest.New(chaintest.Config())
	builder := simulation.NewBuilder(c, succeedEngine(21000), simulation.Config{})

	msg := simulation.CallMsg{
		GasPrice:  big.NewInt(1),
		GasFeeCap: big.NewInt(2),
	}
	_, err := builder.Build(t.Context(), msg, latest(), nil, nil)
	assert.ErrorIs(t, err, simulation.ErrInvalidCall)
}

func TestBuildLatestContext(t *testing.T) {
	t.Parallel()

	c := chaintest.New(chaintest.Config())
	c.ExtendEmpty(3)
	head := c.CurrentHeader()
	builder := simulation.NewBuilder(c, succeedEngine(21000), simulation.Config{})

	// Price the call so the context base fee is not zeroed for a free
	// simulation.
	msg := simulation.CallMsg{GasPrice: big.NewInt(1)}
	env, err := builder.Build(t.Context(), msg, latest(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, head.Number, env.Block.Number)
	assert.Equal(t, head.Time, env.Block.Time)
	assert.Equal(t, head.BaseFee, env.Block.BaseFee)
	assert.Equal(t, simulation.TracePlain, env.Trace)
}

func TestBuildPendingContext(t *testing.T) {
	t.Parallel()

	c := chaintest.New(chaintest.Config())
	c.ExtendEmpty(4)
	head := c.CurrentHeader()
	builder := simulation.NewBuilder(c, succeedEngine(21000), simulation.Config{})

	msg := simulation.CallMsg{GasPrice: big.NewInt(1)}
	env, err := builder.Build(t.Context(), msg, pending(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, head.Number.Uint64()+1, env.Block.Number.Uint64())
	// Timestamp advances by the last observed block interval.
	assert.Equal(t, head.Time+12, env.Block.Time)
	assert.Equal(t, fees.CalcNextBaseFee(c.ChainConfig(), head), env.Block.BaseFee)
	assert.Equal(t, head.GasLimit, env.Block.GasLimit)
}

func TestBuildGasDefaultsAndCap(t *testing.T) {
	t.Parallel()

	c := chaintest.New(chaintest.Config())
	builder := simulation.NewBuilder(c, succeedEngine(21000), simulation.Config{GasCap: 30_000_000})

	// Unset gas defaults to the smaller of block limit and cap.
	env, err := builder.Build(t.Context(), simulation.CallMsg{}, latest(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000_000), env.Call.Gas)

	// Requests above the cap are clamped.
	env, err = builder.Build(t.Context(), simulation.CallMsg{Gas: 90_000_000}, latest(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(30_000_000), env.Call.Gas)
}

func TestBuildResolvesEffectiveGasPrice(t *testing.T) {
	t.Parallel()

	c := chaintest.New(chaintest.Config())
	builder := simulation.NewBuilder(c, succeedEngine(21000), simulation.Config{})
	baseFee := c.CurrentHeader().BaseFee

	// Tip plus base fee, bounded by the fee cap.
	feeCap := new(big.Int).Add(baseFee, big.NewInt(5))
	env, err := builder.Build(t.Context(), simulation.CallMsg{
		GasFeeCap: feeCap,
		GasTipCap: big.NewInt(100),
	}, latest(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, feeCap, env.Call.GasPrice)

	// No fee fields at all simulates for free and zeroes the base fee.
	env, err = builder.Build(t.Context(), simulation.CallMsg{}, latest(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, env.Call.GasPrice.Sign())
	assert.Zero(t, env.Block.BaseFee.Sign())
}

func TestBuildBlockOverrides(t *testing.T) {
	t.Parallel()

	c := chaintest.New(chaintest.Config())
	builder := simulation.NewBuilder(c, succeedEngine(21000), simulation.Config{})

	coinbase := common.HexToAddress("0xc0ffee0000000000000000000000000000000000")
	gasLimit := hexutil.Uint64(1_000_000)
	overrides := &simulation.BlockOverrides{
		Number:   (*hexutil.Big)(big.NewInt(777)),
		GasLimit: &gasLimit,
		Coinbase: &coinbase,
	}
	env, err := builder.Build(t.Context(), simulation.CallMsg{}, latest(), nil, overrides)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(777), env.Block.Number)
	assert.Equal(t, uint64(1_000_000), env.Block.GasLimit)
	assert.Equal(t, coinbase, env.Block.Coinbase)
}

func TestSimulateTimeout(t *testing.T) {
	t.Parallel()

	c := chaintest.New(chaintest.Config())
	slow := engineFunc(func(ctx context.Context, _ *simulation.Environment) (*simulation.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	builder := simulation.NewBuilder(c, slow, simulation.Config{EVMTimeout: 10 * time.Millisecond})

	env, err := builder.Build(t.Context(), simulation.CallMsg{}, latest(), nil, nil)
	require.NoError(t, err)

	_, err = builder.Simulate(t.Context(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution aborted")
}

func TestEnvironmentCopies(t *testing.T) {
	t.Parallel()

	env := &simulation.Environment{Call: simulation.CallMsg{Gas: 100}}

	trimmed := env.WithGas(50)
	assert.Equal(t, uint64(50), trimmed.Call.Gas)
	assert.Equal(t, uint64(100), env.Call.Gas)

	inspected := env.WithInspector(nil)
	assert.Equal(t, simulation.TraceInspected, inspected.Trace)
	assert.Equal(t, simulation.TracePlain, env.Trace)
}
