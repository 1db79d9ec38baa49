package simulation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OverrideAccount is a client-supplied hypothetical modification of one
// account for the duration of a single simulation. State replaces the whole
// storage of the account, StateDiff patches individual slots; the two are
// mutually exclusive.
type OverrideAccount struct {
	Nonce     *hexutil.Uint64             `json:"nonce"`
	Code      *hexutil.Bytes              `json:"code"`
	Balance   *hexutil.Big                `json:"balance"`
	State     map[common.Hash]common.Hash `json:"state"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff"`
}

// StateOverrides is the set of per-account overrides of a simulation request.
type StateOverrides map[common.Address]OverrideAccount

// Validate rejects override combinations with ambiguous semantics.
func (so StateOverrides) Validate() error {
	for addr, account := range so {
		if account.State != nil && account.StateDiff != nil {
			return fmt.Errorf("account %s has both 'state' and 'stateDiff'", addr.Hex())
		}
	}
	return nil
}

// BlockOverrides replaces header-derived fields of the execution context.
type BlockOverrides struct {
	Number        *hexutil.Big    `json:"number"`
	Time          *hexutil.Uint64 `json:"time"`
	GasLimit      *hexutil.Uint64 `json:"gasLimit"`
	Coinbase      *common.Address `json:"feeRecipient"`
	Random        *common.Hash    `json:"prevRandao"`
	BaseFeePerGas *hexutil.Big    `json:"baseFeePerGas"`
}

// Apply patches the block context in place.
func (bo *BlockOverrides) Apply(blockCtx *BlockContext) {
	if bo == nil {
		return
	}
	if bo.Number != nil {
		blockCtx.Number = bo.Number.ToInt()
	}
	if bo.Time != nil {
		blockCtx.Time = uint64(*bo.Time)
	}
	if bo.GasLimit != nil {
		blockCtx.GasLimit = uint64(*bo.GasLimit)
	}
	if bo.Coinbase != nil {
		blockCtx.Coinbase = *bo.Coinbase
	}
	if bo.Random != nil {
		blockCtx.Random = *bo.Random
	}
	if bo.BaseFeePerGas != nil {
		blockCtx.BaseFee = bo.BaseFeePerGas.ToInt()
	}
}
