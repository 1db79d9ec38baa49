// Package chaintest provides an in-memory chain.Provider for tests: a
// deterministic canonical chain that can be extended block by block,
// reorganised at a chosen height and queried like the real storage backend.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/zircuit-labs/ethquery/core/chain"
	"github.com/zircuit-labs/ethquery/core/fees"
)

// Chain is an in-memory chain.Provider. The zero value is not usable; create
// instances with New.
type Chain struct {
	config *params.ChainConfig

	mu        sync.Mutex
	blocks    map[common.Hash]*types.Block
	receipts  map[common.Hash]types.Receipts
	canonical map[uint64]common.Hash
	head      *types.Header
	finalized *types.Header
	safe      *types.Header
	state     *State

	// Calls counts provider method invocations by name, letting cache tests
	// assert that a hit never reaches the provider.
	Calls map[string]int
}

// Config returns a chain config with London active from genesis.
func Config() *params.ChainConfig {
	config := *params.TestChainConfig
	config.LondonBlock = big.NewInt(0)
	return &config
}

// New creates a chain holding only the genesis block.
func New(config *params.ChainConfig) *Chain {
	c := &Chain{
		config:    config,
		blocks:    make(map[common.Hash]*types.Block),
		receipts:  make(map[common.Hash]types.Receipts),
		canonical: make(map[uint64]common.Hash),
		state:     NewState(),
		Calls:     make(map[string]int),
	}
	genesis := types.NewBlockWithHeader(&types.Header{
		Number:     new(big.Int),
		GasLimit:   20_000_000,
		BaseFee:    big.NewInt(params.InitialBaseFee),
		Time:       1_700_000_000,
		Difficulty: new(big.Int),
	})
	c.insert(genesis, nil)
	return c
}

// Extend appends a block on the current head. The base fee follows the
// EIP-1559 adjustment of the head, the timestamp advances by 12 seconds.
func (c *Chain) Extend(gasUsed uint64, txs types.Transactions, receipts types.Receipts) *types.Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := c.nextHeader(c.head, gasUsed, 0)
	block := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})
	c.insert(block, receipts)
	return block
}

// ExtendEmpty appends n empty blocks at target gas use, keeping the base fee
// constant.
func (c *Chain) ExtendEmpty(n int) {
	for range n {
		c.Extend(10_000_000, nil, nil)
	}
}

// Reorg replaces the canonical chain from forkHeight upward with a single
// alternative block and returns the emitted reorg event. Heights above the
// new head simply vanish.
func (c *Chain) Reorg(forkHeight uint64) chain.ReorgEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldHead := c.head
	parent := c.blocks[c.canonical[forkHeight-1]].Header()
	for number := forkHeight; number <= oldHead.Number.Uint64(); number++ {
		delete(c.canonical, number)
	}
	header := c.nextHeader(parent, 10_000_000, 1)
	block := types.NewBlockWithHeader(header)
	c.insert(block, nil)
	return chain.ReorgEvent{ForkHeight: forkHeight, OldHead: oldHead, NewHead: block.Header()}
}

func (c *Chain) nextHeader(parent *types.Header, gasUsed uint64, fork byte) *types.Header {
	return &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number, big.NewInt(1)),
		GasLimit:   parent.GasLimit,
		GasUsed:    gasUsed,
		BaseFee:    fees.CalcNextBaseFee(c.config, parent),
		Time:       parent.Time + 12,
		Difficulty: new(big.Int),
		Extra:      []byte{fork},
	}
}

func (c *Chain) insert(block *types.Block, receipts types.Receipts) {
	c.blocks[block.Hash()] = block
	c.canonical[block.NumberU64()] = block.Hash()
	if receipts != nil {
		c.receipts[block.Hash()] = receipts
	}
	c.head = block.Header()
}

// SetFinalized marks the finalized checkpoint.
func (c *Chain) SetFinalized(number uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalized = c.blocks[c.canonical[number]].Header()
}

// SetSafe marks the safe checkpoint.
func (c *Chain) SetSafe(number uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.safe = c.blocks[c.canonical[number]].Header()
}

// State returns the mutable state view served by StateAt.
func (c *Chain) State() *State { return c.state }

func (c *Chain) count(method string) {
	c.Calls[method]++
}

func (c *Chain) ChainConfig() *params.ChainConfig { return c.config }

func (c *Chain) CurrentHeader() *types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

func (c *Chain) FinalizedHeader() *types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized
}

func (c *Chain) SafeHeader() *types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.safe
}

func (c *Chain) CanonicalHash(_ context.Context, number uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("CanonicalHash")
	hash, ok := c.canonical[number]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: height %d", chain.ErrNotFound, number)
	}
	return hash, nil
}

func (c *Chain) HeaderByNumber(_ context.Context, number uint64) (*types.Header, error) {
	block, err := c.blockByNumber(number)
	if err != nil {
		return nil, err
	}
	return block.Header(), nil
}

func (c *Chain) HeaderByHash(_ context.Context, hash common.Hash) (*types.Header, error) {
	block, err := c.blockByHash(hash)
	if err != nil {
		return nil, err
	}
	return block.Header(), nil
}

func (c *Chain) BlockByHash(_ context.Context, hash common.Hash) (*types.Block, error) {
	return c.blockByHash(hash)
}

func (c *Chain) Receipts(_ context.Context, hash common.Hash) (types.Receipts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("Receipts")
	receipts, ok := c.receipts[hash]
	if !ok {
		if _, blockKnown := c.blocks[hash]; blockKnown {
			return types.Receipts{}, nil
		}
		return nil, fmt.Errorf("%w: receipts %x", chain.ErrNotFound, hash)
	}
	return receipts, nil
}

func (c *Chain) StateAt(_ context.Context, _ *types.Header) (chain.StateView, error) {
	c.count("StateAt")
	return c.state, nil
}

func (c *Chain) blockByHash(hash common.Hash) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("BlockByHash")
	block, ok := c.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("%w: block %x", chain.ErrNotFound, hash)
	}
	return block, nil
}

func (c *Chain) blockByNumber(number uint64) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, ok := c.canonical[number]
	if !ok {
		return nil, fmt.Errorf("%w: height %d", chain.ErrNotFound, number)
	}
	return c.blocks[hash], nil
}

// State is a map-backed chain.StateView with setters for test fixtures.
type State struct {
	balances map[common.Address]*uint256.Int
	nonces   map[common.Address]uint64
	codes    map[common.Address][]byte
	storage  map[common.Address]map[common.Hash]common.Hash
}

// NewState creates an empty state view.
func NewState() *State {
	return &State{
		balances: make(map[common.Address]*uint256.Int),
		nonces:   make(map[common.Address]uint64),
		codes:    make(map[common.Address][]byte),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// SetBalance sets the balance of addr.
func (s *State) SetBalance(addr common.Address, balance *uint256.Int) {
	s.balances[addr] = balance
}

// SetNonce sets the nonce of addr.
func (s *State) SetNonce(addr common.Address, nonce uint64) {
	s.nonces[addr] = nonce
}

// SetCode sets the code of addr.
func (s *State) SetCode(addr common.Address, code []byte) {
	s.codes[addr] = code
}

// SetStorage sets one storage slot of addr.
func (s *State) SetStorage(addr common.Address, slot, value common.Hash) {
	if s.storage[addr] == nil {
		s.storage[addr] = make(map[common.Hash]common.Hash)
	}
	s.storage[addr][slot] = value
}

func (s *State) Balance(addr common.Address) *uint256.Int {
	if balance, ok := s.balances[addr]; ok {
		return balance
	}
	return uint256.NewInt(0)
}

func (s *State) Nonce(addr common.Address) uint64 { return s.nonces[addr] }

func (s *State) Code(addr common.Address) []byte { return s.codes[addr] }

func (s *State) CodeHash(addr common.Address) common.Hash {
	code := s.codes[addr]
	if len(code) == 0 {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(code)
}

func (s *State) State(addr common.Address, slot common.Hash) common.Hash {
	return s.storage[addr][slot]
}

func (s *State) Exist(addr common.Address) bool {
	_, hasBalance := s.balances[addr]
	_, hasNonce := s.nonces[addr]
	_, hasCode := s.codes[addr]
	return hasBalance || hasNonce || hasCode
}
