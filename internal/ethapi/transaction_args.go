package ethapi

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/zircuit-labs/ethquery/core/simulation"
)

// TransactionArgs represents the arguments to construct a call message for
// read-only execution. All fields are optional.
type TransactionArgs struct {
	From                 *common.Address `json:"from"`
	To                   *common.Address `json:"to"`
	Gas                  *hexutil.Uint64 `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                *hexutil.Uint64 `json:"nonce"`

	// We accept "data" and "input" for backwards-compatibility reasons.
	// "input" is the newer name and should be preferred by clients.
	Data  *hexutil.Bytes `json:"data"`
	Input *hexutil.Bytes `json:"input"`

	AccessList *types.AccessList `json:"accessList,omitempty"`
	ChainID    *hexutil.Big      `json:"chainId,omitempty"`
}

// from retrieves the transaction sender address.
func (args *TransactionArgs) from() common.Address {
	if args.From == nil {
		return common.Address{}
	}
	return *args.From
}

// data retrieves the transaction calldata. Input field is preferred.
func (args *TransactionArgs) data() []byte {
	if args.Input != nil {
		return *args.Input
	}
	if args.Data != nil {
		return *args.Data
	}
	return nil
}

// toCallMsg converts the arguments into the message shape understood by the
// simulation layer. Legacy gasPrice and 1559 fee fields are mutually
// exclusive.
func (args *TransactionArgs) toCallMsg() (simulation.CallMsg, error) {
	if args.GasPrice != nil && (args.MaxFeePerGas != nil || args.MaxPriorityFeePerGas != nil) {
		return simulation.CallMsg{}, errors.New("both gasPrice and (maxFeePerGas or maxPriorityFeePerGas) specified")
	}
	msg := simulation.CallMsg{
		From: args.from(),
		To:   args.To,
		Data: args.data(),
	}
	if args.Gas != nil {
		msg.Gas = uint64(*args.Gas)
	}
	if args.GasPrice != nil {
		msg.GasPrice = args.GasPrice.ToInt()
	}
	if args.MaxFeePerGas != nil {
		msg.GasFeeCap = args.MaxFeePerGas.ToInt()
	}
	if args.MaxPriorityFeePerGas != nil {
		msg.GasTipCap = args.MaxPriorityFeePerGas.ToInt()
	}
	if args.Value != nil {
		msg.Value = args.Value.ToInt()
	} else {
		msg.Value = new(big.Int)
	}
	if args.AccessList != nil {
		msg.AccessList = *args.AccessList
	}
	return msg, nil
}
