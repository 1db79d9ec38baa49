package tracers

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	contract = common.HexToAddress("0x2222222222222222222222222222222222222222")
	other    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestAccessListRecordsAccesses(t *testing.T) {
	t.Parallel()

	insp := NewAccessListInspector(nil, sender)
	insp.AccessSlot(contract, common.HexToHash("0x02"))
	insp.AccessSlot(contract, common.HexToHash("0x01"))
	insp.AccessSlot(contract, common.HexToHash("0x01")) // duplicate
	insp.AccessAccount(other)

	acl := insp.AccessList()
	require.Len(t, acl, 2)

	assert.Equal(t, contract, acl[0].Address)
	assert.Equal(t, []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}, acl[0].StorageKeys)

	assert.Equal(t, other, acl[1].Address)
	assert.Empty(t, acl[1].StorageKeys)
}

func TestAccessListExcludesAddresses(t *testing.T) {
	t.Parallel()

	insp := NewAccessListInspector(nil, sender, contract)
	insp.AccessAccount(sender)
	insp.AccessSlot(contract, common.HexToHash("0x01"))
	insp.EnterCall(1, sender, other, nil, 0, new(big.Int))

	acl := insp.AccessList()
	require.Len(t, acl, 1)
	assert.Equal(t, other, acl[0].Address)
}

func TestAccessListSeedsFromPrevious(t *testing.T) {
	t.Parallel()

	prev := types.AccessList{
		{Address: contract, StorageKeys: []common.Hash{common.HexToHash("0x0a")}},
	}
	insp := NewAccessListInspector(prev)
	assert.Equal(t, prev, insp.AccessList())
}

func TestAccessListEqual(t *testing.T) {
	t.Parallel()

	a := NewAccessListInspector(nil)
	b := NewAccessListInspector(nil)
	assert.True(t, a.Equal(b))

	a.AccessSlot(contract, common.HexToHash("0x01"))
	assert.False(t, a.Equal(b))

	b.AccessSlot(contract, common.HexToHash("0x01"))
	assert.True(t, a.Equal(b))

	// Same addresses, different slot sets.
	a.AccessSlot(other, common.HexToHash("0x02"))
	b.AccessSlot(other, common.HexToHash("0x03"))
	assert.False(t, a.Equal(b))
}

func TestAccessListDeterministicOrder(t *testing.T) {
	t.Parallel()

	build := func() types.AccessList {
		insp := NewAccessListInspector(nil)
		insp.AccessSlot(other, common.HexToHash("0x05"))
		insp.AccessSlot(contract, common.HexToHash("0x09"))
		insp.AccessSlot(contract, common.HexToHash("0x03"))
		insp.AccessAccount(sender)
		return insp.AccessList()
	}
	assert.Equal(t, build(), build())
}
