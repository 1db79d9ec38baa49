package chain_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"

	"github.com/zircuit-labs/ethquery/core/chain"
)

func TestEffectiveTip(t *testing.T) {
	t.Parallel()

	tx := types.NewTx(&types.DynamicFeeTx{
		GasFeeCap: big.NewInt(100),
		GasTipCap: big.NewInt(10),
	})

	tests := []struct {
		name    string
		baseFee *big.Int
		want    int64
	}{
		{name: "tip cap fits under fee cap", baseFee: big.NewInt(50), want: 10},
		{name: "fee cap squeezes the tip", baseFee: big.NewInt(95), want: 5},
		{name: "underwater transaction clamps to zero", baseFee: big.NewInt(150), want: 0},
		{name: "no base fee pays the full tip cap", baseFee: nil, want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, big.NewInt(tt.want), chain.EffectiveTip(tx, tt.baseFee))
		})
	}
}
