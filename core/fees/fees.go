// Package fees holds the protocol fee arithmetic shared by the fee-history
// aggregator, the gas price oracle and the simulation environment builder.
// Everything here is a pure function of its inputs.
package fees

import (
	"errors"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
)

// ErrGasUintOverflow is returned when intrinsic gas computation overflows.
var ErrGasUintOverflow = errors.New("gas uint64 overflow")

// CalcNextBaseFee computes the base fee of the block following parent per the
// EIP-1559 adjustment rule: the fee moves toward demand by at most
// 1/BaseFeeChangeDenominator per block, relative to how far parent's gas use
// sat from its target (GasLimit / ElasticityMultiplier).
func CalcNextBaseFee(config *params.ChainConfig, parent *types.Header) *big.Int {
	if !config.IsLondon(new(big.Int).Add(parent.Number, common.Big1)) {
		return new(big.Int).SetUint64(params.InitialBaseFee)
	}

	parentGasTarget := parent.GasLimit / params.DefaultElasticityMultiplier
	// If the parent block used exactly its target, the base fee stays put.
	if parent.GasUsed == parentGasTarget {
		return new(big.Int).Set(parent.BaseFee)
	}

	var (
		num   = new(big.Int)
		denom = new(big.Int)
	)
	if parent.GasUsed > parentGasTarget {
		num.SetUint64(parent.GasUsed - parentGasTarget)
		num.Mul(num, parent.BaseFee)
		num.Div(num, denom.SetUint64(parentGasTarget))
		num.Div(num, denom.SetUint64(params.DefaultBaseFeeChangeDenominator))
		if num.Cmp(common.Big1) < 0 {
			num.Set(common.Big1)
		}
		return num.Add(parent.BaseFee, num)
	}

	num.SetUint64(parentGasTarget - parent.GasUsed)
	num.Mul(num, parent.BaseFee)
	num.Div(num, denom.SetUint64(parentGasTarget))
	num.Div(num, denom.SetUint64(params.DefaultBaseFeeChangeDenominator))
	baseFee := num.Sub(parent.BaseFee, num)
	if baseFee.Sign() < 0 {
		baseFee.SetUint64(0)
	}
	return baseFee
}

// IntrinsicGas is the gas a call consumes before any EVM execution: the base
// transaction cost plus per-byte calldata, access list and init code charges.
// It is the lower bound of the gas estimation search.
func IntrinsicGas(data []byte, accessList types.AccessList, isCreate bool) (uint64, error) {
	var gas uint64
	if isCreate {
		gas = params.TxGasContractCreation
	} else {
		gas = params.TxGas
	}
	dataLen := uint64(len(data))
	if dataLen > 0 {
		var nz uint64
		for _, b := range data {
			if b != 0 {
				nz++
			}
		}
		nonZeroGas := params.TxDataNonZeroGasEIP2028
		if (math.MaxUint64-gas)/nonZeroGas < nz {
			return 0, ErrGasUintOverflow
		}
		gas += nz * nonZeroGas

		z := dataLen - nz
		if (math.MaxUint64-gas)/params.TxDataZeroGas < z {
			return 0, ErrGasUintOverflow
		}
		gas += z * params.TxDataZeroGas

		if isCreate {
			lenWords := toWordSize(dataLen)
			if (math.MaxUint64-gas)/params.InitCodeWordGas < lenWords {
				return 0, ErrGasUintOverflow
			}
			gas += lenWords * params.InitCodeWordGas
		}
	}
	if accessList != nil {
		gas += uint64(len(accessList)) * params.TxAccessListAddressGas
		gas += uint64(accessList.StorageKeys()) * params.TxAccessListStorageKeyGas
	}
	return gas, nil
}

func toWordSize(size uint64) uint64 {
	if size > math.MaxUint64-31 {
		return math.MaxUint64/32 + 1
	}
	return (size + 31) / 32
}
