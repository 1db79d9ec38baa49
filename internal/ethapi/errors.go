package ethapi

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/zircuit-labs/ethquery/core/chain"
	"github.com/zircuit-labs/ethquery/core/simulation"
	"github.com/zircuit-labs/ethquery/eth/gasprice"
)

const (
	errCodeInternalError = -32603
	errCodeInvalidParams = -32602
	errCodeReverted      = -32000
	errCodeVMError       = -32015
)

// revertError is an API error that encompasses an EVM revert with JSON error
// code and a binary data blob.
type revertError struct {
	error
	reason string // revert reason hex encoded
}

// ErrorCode returns the JSON error code for a revert.
func (e *revertError) ErrorCode() int {
	return 3
}

// ErrorData returns the hex encoded revert reason.
func (e *revertError) ErrorData() any {
	return e.reason
}

// newRevertError creates a revertError instance with the provided revert
// data, decoding the reason string when the payload is an ABI Error(string).
func newRevertError(revert []byte) *revertError {
	err := vm.ErrExecutionReverted

	reason, errUnpack := abi.UnpackRevert(revert)
	if errUnpack == nil {
		err = fmt.Errorf("%w: %v", vm.ErrExecutionReverted, reason)
	}
	return &revertError{
		error:  err,
		reason: hexutil.Encode(revert),
	}
}

type invalidParamsError struct{ message string }

func (e *invalidParamsError) Error() string  { return e.message }
func (e *invalidParamsError) ErrorCode() int { return errCodeInvalidParams }

type internalError struct{ message string }

func (e *internalError) Error() string  { return e.message }
func (e *internalError) ErrorCode() int { return errCodeInternalError }

// mapServiceError translates core-layer errors into the stable JSON-RPC
// taxonomy. Parameter problems become -32602, collaborator failures an
// internal error; everything else passes through unchanged.
func mapServiceError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, simulation.ErrInvalidCall),
		errors.Is(err, gasprice.ErrInvalidBlockCount),
		errors.Is(err, gasprice.ErrInvalidPercentile),
		errors.Is(err, gasprice.ErrRangeTooLarge):
		return &invalidParamsError{message: err.Error()}
	case errors.Is(err, chain.ErrProviderUnavailable):
		return &internalError{message: err.Error()}
	}
	return err
}
