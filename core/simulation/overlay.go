package simulation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/zircuit-labs/ethquery/core/chain"
)

// overlayAccount is the indexed form of one account override.
type overlayAccount struct {
	nonce    *uint64
	code     []byte
	codeHash *common.Hash
	balance  *uint256.Int

	// storage holds patched slots; replaceStorage turns it into the whole
	// storage of the account, hiding the base state entirely.
	storage        map[common.Hash]common.Hash
	replaceStorage bool
}

// overlayView layers client-supplied overrides on top of a base state view.
// Reads consult the overlay first and fall through to the base on miss; the
// base view is never mutated, so cached state snapshots stay intact.
type overlayView struct {
	base     chain.StateView
	accounts map[common.Address]*overlayAccount
}

// NewOverlayView wraps base with the given overrides. A nil or empty override
// set returns base unchanged. Callers validate the overrides beforehand.
func NewOverlayView(base chain.StateView, overrides StateOverrides) chain.StateView {
	if len(overrides) == 0 {
		return base
	}
	accounts := make(map[common.Address]*overlayAccount, len(overrides))
	for addr, o := range overrides {
		acct := &overlayAccount{}
		if o.Nonce != nil {
			nonce := uint64(*o.Nonce)
			acct.nonce = &nonce
		}
		if o.Code != nil {
			acct.code = *o.Code
			hash := crypto.Keccak256Hash(acct.code)
			acct.codeHash = &hash
		}
		if o.Balance != nil {
			acct.balance, _ = uint256.FromBig(o.Balance.ToInt())
		}
		switch {
		case o.State != nil:
			acct.storage = o.State
			acct.replaceStorage = true
		case o.StateDiff != nil:
			acct.storage = o.StateDiff
		}
		accounts[addr] = acct
	}
	return &overlayView{base: base, accounts: accounts}
}

func (v *overlayView) Balance(addr common.Address) *uint256.Int {
	if acct, ok := v.accounts[addr]; ok && acct.balance != nil {
		return new(uint256.Int).Set(acct.balance)
	}
	return v.base.Balance(addr)
}

func (v *overlayView) Nonce(addr common.Address) uint64 {
	if acct, ok := v.accounts[addr]; ok && acct.nonce != nil {
		return *acct.nonce
	}
	return v.base.Nonce(addr)
}

func (v *overlayView) Code(addr common.Address) []byte {
	if acct, ok := v.accounts[addr]; ok && acct.code != nil {
		return acct.code
	}
	return v.base.Code(addr)
}

func (v *overlayView) CodeHash(addr common.Address) common.Hash {
	if acct, ok := v.accounts[addr]; ok && acct.codeHash != nil {
		return *acct.codeHash
	}
	return v.base.CodeHash(addr)
}

func (v *overlayView) State(addr common.Address, slot common.Hash) common.Hash {
	if acct, ok := v.accounts[addr]; ok && acct.storage != nil {
		if value, ok := acct.storage[slot]; ok {
			return value
		}
		if acct.replaceStorage {
			return common.Hash{}
		}
	}
	return v.base.State(addr, slot)
}

func (v *overlayView) Exist(addr common.Address) bool {
	if _, ok := v.accounts[addr]; ok {
		return true
	}
	return v.base.Exist(addr)
}
