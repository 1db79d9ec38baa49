package simulation

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zircuit-labs/ethquery/core/chain/chaintest"
)

var (
	acctA = common.HexToAddress("0xaa00000000000000000000000000000000000001")
	acctB = common.HexToAddress("0xbb00000000000000000000000000000000000002")

	slot1 = common.HexToHash("0x01")
	slot2 = common.HexToHash("0x02")
)

func baseState() *chaintest.State {
	state := chaintest.NewState()
	state.SetBalance(acctA, uint256.NewInt(1000))
	state.SetNonce(acctA, 7)
	state.SetCode(acctA, []byte{0x60, 0x00})
	state.SetStorage(acctA, slot1, common.HexToHash("0x11"))
	state.SetStorage(acctA, slot2, common.HexToHash("0x22"))
	return state
}

func TestOverlayEmptyReturnsBase(t *testing.T) {
	t.Parallel()

	base := baseState()
	assert.Same(t, base, NewOverlayView(base, nil))
	assert.Same(t, base, NewOverlayView(base, StateOverrides{}))
}

func TestOverlayAccountFields(t *testing.T) {
	t.Parallel()

	base := baseState()
	code := hexutil.Bytes{0x60, 0x01}
	nonce := hexutil.Uint64(42)
	view := NewOverlayView(base, StateOverrides{
		acctA: {
			Nonce:   &nonce,
			Code:    &code,
			Balance: (*hexutil.Big)(big.NewInt(5)),
		},
	})

	assert.Equal(t, uint256.NewInt(5), view.Balance(acctA))
	assert.Equal(t, uint64(42), view.Nonce(acctA))
	assert.Equal(t, []byte(code), view.Code(acctA))
	assert.Equal(t, crypto.Keccak256Hash(code), view.CodeHash(acctA))

	// Storage was not overridden and falls through to the base.
	assert.Equal(t, common.HexToHash("0x11"), view.State(acctA, slot1))

	// Untouched accounts read straight from the base.
	assert.Equal(t, uint256.NewInt(0), view.Balance(acctB))

	// The base view itself is unmodified.
	assert.Equal(t, uint256.NewInt(1000), base.Balance(acctA))
	assert.Equal(t, uint64(7), base.Nonce(acctA))
}

func TestOverlayStateDiffPatchesSlots(t *testing.T) {
	t.Parallel()

	view := NewOverlayView(baseState(), StateOverrides{
		acctA: {
			StateDiff: map[common.Hash]common.Hash{slot1: common.HexToHash("0x99")},
		},
	})

	assert.Equal(t, common.HexToHash("0x99"), view.State(acctA, slot1))
	assert.Equal(t, common.HexToHash("0x22"), view.State(acctA, slot2))
}

func TestOverlayStateReplacesStorage(t *testing.T) {
	t.Parallel()

	view := NewOverlayView(baseState(), StateOverrides{
		acctA: {
			State: map[common.Hash]common.Hash{slot1: common.HexToHash("0x99")},
		},
	})

	assert.Equal(t, common.HexToHash("0x99"), view.State(acctA, slot1))
	// Full replacement hides base slots that are not in the override.
	assert.Equal(t, common.Hash{}, view.State(acctA, slot2))
}

func TestOverlayExist(t *testing.T) {
	t.Parallel()

	nonce := hexutil.Uint64(1)
	view := NewOverlayView(baseState(), StateOverrides{
		acctB: {Nonce: &nonce},
	})
	assert.True(t, view.Exist(acctA))
	assert.True(t, view.Exist(acctB))
	assert.False(t, view.Exist(common.HexToAddress("0xcc00000000000000000000000000000000000003")))
}

func TestStateOverridesValidate(t *testing.T) {
	t.Parallel()

	valid := StateOverrides{
		acctA: {State: map[common.Hash]common.Hash{}},
		acctB: {StateDiff: map[common.Hash]common.Hash{}},
	}
	require.NoError(t, valid.Validate())

	invalid := StateOverrides{
		acctA: {
			State:     map[common.Hash]common.Hash{},
			StateDiff: map[common.Hash]common.Hash{},
		},
	}
	assert.Error(t, invalid.Validate())
}
