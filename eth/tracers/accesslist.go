// Package tracers contains the inspectors this service attaches to simulated
// executions. Inspectors are observational: attaching one never changes the
// execution outcome.
package tracers

import (
	"math/big"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AccessListInspector records every address and storage slot an execution
// touches, excluding a fixed set of addresses (sender, recipient and
// precompiles) that EIP-2930 lists would only make more expensive.
type AccessListInspector struct {
	exclude mapset.Set[common.Address]
	slots   map[common.Address]mapset.Set[common.Hash]
}

// NewAccessListInspector seeds the inspector with a previous access list so
// the fixed-point iteration in createAccessList converges, plus the addresses
// to keep out of the result.
func NewAccessListInspector(prev types.AccessList, exclude ...common.Address) *AccessListInspector {
	insp := &AccessListInspector{
		exclude: mapset.NewThreadUnsafeSet(exclude...),
		slots:   make(map[common.Address]mapset.Set[common.Hash]),
	}
	for _, tuple := range prev {
		for _, slot := range tuple.StorageKeys {
			insp.AccessSlot(tuple.Address, slot)
		}
	}
	return insp
}

// AccessAccount records a touched account.
func (i *AccessListInspector) AccessAccount(addr common.Address) {
	if i.exclude.Contains(addr) {
		return
	}
	if _, ok := i.slots[addr]; !ok {
		i.slots[addr] = mapset.NewThreadUnsafeSet[common.Hash]()
	}
}

// AccessSlot records a touched storage slot.
func (i *AccessListInspector) AccessSlot(addr common.Address, slot common.Hash) {
	if i.exclude.Contains(addr) {
		return
	}
	i.AccessAccount(addr)
	i.slots[addr].Add(slot)
}

// EnterCall records the callee as accessed.
func (i *AccessListInspector) EnterCall(_ int, _ common.Address, to common.Address, _ []byte, _ uint64, _ *big.Int) {
	i.AccessAccount(to)
}

// ExitCall is part of the inspector contract; access lists keep everything a
// call touched even when it reverted.
func (i *AccessListInspector) ExitCall(int, []byte, uint64, error, bool) {}

// Equal reports whether both inspectors recorded the same accesses. The
// fixed-point loop stops when a run with the previous list produces it again.
func (i *AccessListInspector) Equal(other *AccessListInspector) bool {
	if len(i.slots) != len(other.slots) {
		return false
	}
	for addr, slots := range i.slots {
		otherSlots, ok := other.slots[addr]
		if !ok || !slots.Equal(otherSlots) {
			return false
		}
	}
	return true
}

// AccessList renders the recorded accesses deterministically ordered by
// address and slot, so repeated runs produce byte-identical responses.
func (i *AccessListInspector) AccessList() types.AccessList {
	acl := make(types.AccessList, 0, len(i.slots))
	for addr, slots := range i.slots {
		keys := slots.ToSlice()
		sort.Slice(keys, func(a, b int) bool { return keys[a].Cmp(keys[b]) < 0 })
		acl = append(acl, types.AccessTuple{Address: addr, StorageKeys: keys})
	}
	sort.Slice(acl, func(a, b int) bool { return acl[a].Address.Cmp(acl[b].Address) < 0 })
	return acl
}
