// Package simulation assembles EVM call environments for call, estimateGas
// and createAccessList style requests, and runs them through a black-box
// execution engine. The engine itself (interpreter, precompiles, state
// transition rules) is a collaborator; this package owns the environment.
package simulation

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/zircuit-labs/ethquery/core/chain"
)

// TraceMode selects between the plain execution path and the inspected one.
// The engine branches on this tag exactly once per call, keeping the hot
// plain path free of indirection.
type TraceMode uint8

const (
	// TracePlain executes without any observer attached.
	TracePlain TraceMode = iota
	// TraceInspected invokes the attached Inspector on execution events.
	TraceInspected
)

// Inspector observes execution events for trace assembly. Attaching one must
// not alter the execution outcome; engines treat it as write-only.
type Inspector interface {
	EnterCall(depth int, from common.Address, to common.Address, input []byte, gas uint64, value *big.Int)
	ExitCall(depth int, output []byte, gasUsed uint64, err error, reverted bool)
	AccessAccount(addr common.Address)
	AccessSlot(addr common.Address, slot common.Hash)
}

// BlockContext carries the header-derived fields the EVM needs.
type BlockContext struct {
	Number     *big.Int
	Time       uint64
	GasLimit   uint64
	Coinbase   common.Address
	BaseFee    *big.Int
	Random     common.Hash
	Difficulty *big.Int
}

// CallMsg is a fully defaulted call request: the gas limit is resolved and
// GasPrice holds the effective per-gas price derived from the fee fields.
type CallMsg struct {
	From       common.Address
	To         *common.Address // nil means contract creation
	Gas        uint64
	GasPrice   *big.Int
	GasFeeCap  *big.Int
	GasTipCap  *big.Int
	Value      *big.Int
	Data       []byte
	AccessList types.AccessList
}

// IsCreate reports whether the message deploys a contract.
func (m *CallMsg) IsCreate() bool { return m.To == nil }

// Environment is the consistent (block context, call, state view) triple a
// simulation executes against. Built fresh per request and never cached; the
// state view behind it may be shared.
type Environment struct {
	ChainConfig *params.ChainConfig
	Block       BlockContext
	Call        CallMsg
	State       chain.StateView

	Trace     TraceMode
	Inspector Inspector
}

// WithInspector returns a shallow copy of the environment with the inspector
// attached. The original stays on the plain path.
func (env *Environment) WithInspector(insp Inspector) *Environment {
	cpy := *env
	cpy.Trace = TraceInspected
	cpy.Inspector = insp
	return &cpy
}

// WithGas returns a shallow copy with the call gas limit replaced; the gas
// estimator uses it for its search trials.
func (env *Environment) WithGas(gas uint64) *Environment {
	cpy := *env
	cpy.Call.Gas = gas
	return &cpy
}

// Result is the outcome of one execution. Err carries execution-level
// failures (revert, out of gas); infrastructure failures surface through the
// error return of Engine.Execute instead.
type Result struct {
	UsedGas    uint64
	ReturnData []byte
	Err        error
}

// Failed reports whether execution ended in an execution-level error.
func (r *Result) Failed() bool { return r.Err != nil }

// Return yields the return data of a successful execution, nil otherwise.
func (r *Result) Return() []byte {
	if r.Err != nil {
		return nil
	}
	return common.CopyBytes(r.ReturnData)
}

// Revert yields the raw revert payload when execution reverted, nil otherwise.
func (r *Result) Revert() []byte {
	if errors.Is(r.Err, vm.ErrExecutionReverted) {
		return common.CopyBytes(r.ReturnData)
	}
	return nil
}

// Engine executes a prepared environment and reports the outcome. The result
// must be identical whether or not an inspector is attached. Implementations
// honor context cancellation at opcode granularity.
type Engine interface {
	Execute(ctx context.Context, env *Environment) (*Result, error)
}
