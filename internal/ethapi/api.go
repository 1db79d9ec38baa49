package ethapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/zircuit-labs/ethquery/core/chain"
	"github.com/zircuit-labs/ethquery/core/simulation"
	"github.com/zircuit-labs/ethquery/eth/gasestimator"
	"github.com/zircuit-labs/ethquery/eth/tracers"
)

// estimateGasErrorRatio is the amount of overestimation eth_estimateGas is
// allowed to produce in order to speed up calculations.
const estimateGasErrorRatio = 0.015

// EthereumAPI provides an API to access Ethereum related information.
type EthereumAPI struct {
	b Backend
}

// NewEthereumAPI creates a new Ethereum protocol API.
func NewEthereumAPI(b Backend) *EthereumAPI {
	return &EthereumAPI{b}
}

// GasPrice returns a suggestion for a gas price for legacy transactions.
func (api *EthereumAPI) GasPrice(ctx context.Context) (*hexutil.Big, error) {
	tipcap, err := api.b.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	if head := api.b.CurrentHeader(); head != nil && head.BaseFee != nil {
		tipcap.Add(tipcap, head.BaseFee)
	}
	return (*hexutil.Big)(tipcap), nil
}

// MaxPriorityFeePerGas returns a suggestion for a gas tip cap for dynamic
// fee transactions.
func (api *EthereumAPI) MaxPriorityFeePerGas(ctx context.Context) (*hexutil.Big, error) {
	tipcap, err := api.b.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(tipcap), nil
}

// Syncing reports the node sync status. The serving layer only runs over a
// provider with a settled head, so it always answers false.
func (api *EthereumAPI) Syncing() (any, error) {
	return false, nil
}

type feeHistoryResult struct {
	OldestBlock  *hexutil.Big     `json:"oldestBlock"`
	Reward       [][]*hexutil.Big `json:"reward,omitempty"`
	BaseFee      []*hexutil.Big   `json:"baseFeePerGas,omitempty"`
	GasUsedRatio []float64        `json:"gasUsedRatio"`
}

// FeeHistory returns the fee market history.
func (api *EthereumAPI) FeeHistory(ctx context.Context, blockCount math.HexOrDecimal64, lastBlock rpc.BlockNumber, rewardPercentiles []float64) (*feeHistoryResult, error) {
	oldest, reward, baseFee, gasUsed, err := api.b.FeeHistory(ctx, uint64(blockCount), lastBlock, rewardPercentiles)
	if err != nil {
		return nil, mapServiceError(err)
	}
	results := &feeHistoryResult{
		OldestBlock:  (*hexutil.Big)(oldest),
		GasUsedRatio: gasUsed,
	}
	if reward != nil {
		results.Reward = make([][]*hexutil.Big, len(reward))
		for i, w := range reward {
			results.Reward[i] = make([]*hexutil.Big, len(w))
			for j, v := range w {
				results.Reward[i][j] = (*hexutil.Big)(v)
			}
		}
	}
	if baseFee != nil {
		results.BaseFee = make([]*hexutil.Big, len(baseFee))
		for i, v := range baseFee {
			results.BaseFee[i] = (*hexutil.Big)(v)
		}
	}
	return results, nil
}

// BlockChainAPI provides an API to access Ethereum blockchain data.
type BlockChainAPI struct {
	b Backend
}

// NewBlockChainAPI creates a new Ethereum blockchain API.
func NewBlockChainAPI(b Backend) *BlockChainAPI {
	return &BlockChainAPI{b}
}

// ChainId is the EIP-155 replay-protection chain id for the current chain.
func (api *BlockChainAPI) ChainId() *hexutil.Big {
	config := api.b.ChainConfig()
	if config == nil || config.ChainID == nil {
		return nil
	}
	return (*hexutil.Big)(config.ChainID)
}

// BlockNumber returns the block number of the chain head.
func (api *BlockChainAPI) BlockNumber() hexutil.Uint64 {
	head := api.b.CurrentHeader()
	if head == nil {
		return 0
	}
	return hexutil.Uint64(head.Number.Uint64())
}

// GetHeaderByNumber returns the requested canonical block header.
//   - When blockNr is -1 the chain pending header is returned.
//   - When blockNr is -2 the chain latest header is returned.
//   - When blockNr is -3 the chain finalized header is returned.
//   - When blockNr is -4 the chain safe header is returned.
func (api *BlockChainAPI) GetHeaderByNumber(ctx context.Context, number rpc.BlockNumber) (map[string]any, error) {
	header, err := api.b.HeaderByNumberOrHash(ctx, rpc.BlockNumberOrHashWithNumber(number))
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, nil
		}
		return nil, mapServiceError(err)
	}
	return RPCMarshalHeader(header), nil
}

// GetHeaderByHash returns the requested header by hash.
func (api *BlockChainAPI) GetHeaderByHash(ctx context.Context, hash common.Hash) map[string]any {
	header, err := api.b.HeaderByNumberOrHash(ctx, rpc.BlockNumberOrHashWithHash(hash, false))
	if header == nil || err != nil {
		return nil
	}
	return RPCMarshalHeader(header)
}

// GetBlockByNumber returns the requested canonical block.
//   - When blockNr is -1 the chain pending block is returned.
//   - When blockNr is -2 the chain latest block is returned.
//   - When blockNr is -3 the chain finalized block is returned.
//   - When blockNr is -4 the chain safe block is returned.
//   - When fullTx is true all transactions in the block are returned in full
//     detail, otherwise only the transaction hash is returned.
func (api *BlockChainAPI) GetBlockByNumber(ctx context.Context, number rpc.BlockNumber, fullTx bool) (map[string]any, error) {
	block, err := api.b.BlockByNumberOrHash(ctx, rpc.BlockNumberOrHashWithNumber(number))
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, nil
		}
		return nil, mapServiceError(err)
	}
	return RPCMarshalBlock(block, true, fullTx, api.b.ChainConfig()), nil
}

// GetBlockByHash returns the requested block. When fullTx is true all
// transactions in the block are returned in full detail, otherwise only the
// transaction hash is returned.
func (api *BlockChainAPI) GetBlockByHash(ctx context.Context, hash common.Hash, fullTx bool) (map[string]any, error) {
	block, err := api.b.BlockByNumberOrHash(ctx, rpc.BlockNumberOrHashWithHash(hash, false))
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, nil
		}
		return nil, mapServiceError(err)
	}
	return RPCMarshalBlock(block, true, fullTx, api.b.ChainConfig()), nil
}

// GetBlockReceipts returns the block receipts for the given block hash or
// number or tag.
func (api *BlockChainAPI) GetBlockReceipts(ctx context.Context, blockNrOrHash rpc.BlockNumberOrHash) ([]map[string]any, error) {
	block, err := api.b.BlockByNumberOrHash(ctx, blockNrOrHash)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, nil
		}
		return nil, mapServiceError(err)
	}
	receipts, err := api.b.GetReceipts(ctx, block.Hash())
	if err != nil {
		return nil, mapServiceError(err)
	}
	txs := block.Transactions()
	if len(txs) != len(receipts) {
		return nil, fmt.Errorf("receipts length mismatch: %d vs %d", len(txs), len(receipts))
	}
	signer := types.MakeSigner(api.b.ChainConfig(), block.Number(), block.Time())
	result := make([]map[string]any, len(receipts))
	for i, receipt := range receipts {
		from, _ := types.Sender(signer, txs[i])
		result[i] = marshalReceipt(receipt, block.Hash(), block.NumberU64(), txs[i], from, i)
	}
	return result, nil
}

// Call executes the given transaction on the state for the given block
// number.
//
// Additionally, the caller can specify a batch of contract for fields
// overriding.
//
// Note, this function doesn't make and changes in the state/blockchain and is
// useful to execute and retrieve values.
func (api *BlockChainAPI) Call(ctx context.Context, args TransactionArgs, blockNrOrHash *rpc.BlockNumberOrHash, overrides *simulation.StateOverrides, blockOverrides *simulation.BlockOverrides) (hexutil.Bytes, error) {
	env, err := api.buildEnv(ctx, args, blockNrOrHash, overrides, blockOverrides)
	if err != nil {
		return nil, err
	}
	result, err := api.b.Simulator().Simulate(ctx, env)
	if err != nil {
		return nil, mapServiceError(err)
	}
	// If the result contains a revert reason, try to unpack and return it.
	if len(result.Revert()) > 0 {
		return nil, newRevertError(result.Revert())
	}
	return result.Return(), result.Err
}

// EstimateGas returns the lowest possible gas limit that allows the
// transaction to run successfully at block blockNrOrHash. It returns an error
// when the transaction would always fail.
func (api *BlockChainAPI) EstimateGas(ctx context.Context, args TransactionArgs, blockNrOrHash *rpc.BlockNumberOrHash, overrides *simulation.StateOverrides) (hexutil.Uint64, error) {
	env, err := api.buildEnv(ctx, args, blockNrOrHash, overrides, nil)
	if err != nil {
		return 0, err
	}
	opts := gasestimator.Options{
		Engine:     api.b.Simulator().Engine(),
		ErrorRatio: estimateGasErrorRatio,
	}
	gas, revert, err := gasestimator.Estimate(ctx, env, opts)
	if err != nil {
		if len(revert) > 0 {
			return 0, newRevertError(revert)
		}
		return 0, mapServiceError(err)
	}
	return hexutil.Uint64(gas), nil
}

// accessListResult returns an optional access list. It's the result of the
// `eth_createAccessList` RPC call. It contains an error if the transaction
// itself failed.
type accessListResult struct {
	Accesslist *types.AccessList `json:"accessList"`
	Error      string            `json:"error,omitempty"`
	GasUsed    hexutil.Uint64    `json:"gasUsed"`
}

// CreateAccessList creates an EIP-2930 type AccessList for the given
// transaction. Reexec and blockNrOrHash can be specified to create the
// accessList on top of a certain state.
func (api *BlockChainAPI) CreateAccessList(ctx context.Context, args TransactionArgs, blockNrOrHash *rpc.BlockNumberOrHash) (*accessListResult, error) {
	env, err := api.buildEnv(ctx, args, blockNrOrHash, nil, nil)
	if err != nil {
		return nil, err
	}

	// The access list excludes the sender, the recipient (or created
	// contract) and the active precompiles: listing those only makes the
	// transaction more expensive.
	exclude := []common.Address{env.Call.From}
	if env.Call.To != nil {
		exclude = append(exclude, *env.Call.To)
	} else {
		nonce := env.State.Nonce(env.Call.From)
		if args.Nonce != nil {
			nonce = uint64(*args.Nonce)
		}
		exclude = append(exclude, crypto.CreateAddress(env.Call.From, nonce))
	}
	rules := env.ChainConfig.Rules(env.Block.Number, true, env.Block.Time)
	exclude = append(exclude, vm.ActivePrecompiles(rules)...)

	// Iterate until the access list stabilises: the access pattern of a run
	// depends on the list it was charged with, so re-run with the produced
	// list until it reproduces itself.
	prev := tracers.NewAccessListInspector(env.Call.AccessList, exclude...)
	for {
		accessList := prev.AccessList()
		insp := tracers.NewAccessListInspector(accessList, exclude...)

		trialEnv := *env
		trialEnv.Call.AccessList = accessList
		result, err := api.b.Simulator().Simulate(ctx, trialEnv.WithInspector(insp))
		if err != nil {
			return nil, mapServiceError(err)
		}
		if insp.Equal(prev) {
			res := &accessListResult{Accesslist: &accessList, GasUsed: hexutil.Uint64(result.UsedGas)}
			if result.Err != nil {
				res.Error = result.Err.Error()
			}
			return res, nil
		}
		prev = insp
	}
}

// buildEnv assembles the simulation environment shared by Call, EstimateGas
// and CreateAccessList, defaulting the block to latest.
func (api *BlockChainAPI) buildEnv(ctx context.Context, args TransactionArgs, blockNrOrHash *rpc.BlockNumberOrHash, overrides *simulation.StateOverrides, blockOverrides *simulation.BlockOverrides) (*simulation.Environment, error) {
	msg, err := args.toCallMsg()
	if err != nil {
		return nil, &invalidParamsError{message: err.Error()}
	}
	id := rpc.BlockNumberOrHashWithNumber(rpc.LatestBlockNumber)
	if blockNrOrHash != nil {
		id = *blockNrOrHash
	}
	var stateOverrides simulation.StateOverrides
	if overrides != nil {
		stateOverrides = *overrides
	}
	env, err := api.b.Simulator().Build(ctx, msg, id, stateOverrides, blockOverrides)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return env, nil
}
