// Package ethapi implements the eth namespace of the query serving layer:
// block and receipt retrieval, fee economics and transaction simulation,
// served out of bounded caches in front of the chain data provider.
package ethapi

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/zircuit-labs/ethquery/core/blockcache"
	"github.com/zircuit-labs/ethquery/core/chain"
	"github.com/zircuit-labs/ethquery/core/simulation"
	"github.com/zircuit-labs/ethquery/eth/gasprice"
)

// Backend is what the API handlers need from the rest of the service. The
// split keeps handlers testable against a hand-rolled fake.
type Backend interface {
	ChainConfig() *params.ChainConfig
	CurrentHeader() *types.Header
	HeaderByNumberOrHash(ctx context.Context, id rpc.BlockNumberOrHash) (*types.Header, error)
	BlockByNumberOrHash(ctx context.Context, id rpc.BlockNumberOrHash) (*types.Block, error)
	GetReceipts(ctx context.Context, hash common.Hash) (types.Receipts, error)

	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	FeeHistory(ctx context.Context, blockCount uint64, lastBlock rpc.BlockNumber, rewardPercentiles []float64) (*big.Int, [][]*big.Int, []*big.Int, []float64, error)

	Simulator() *simulation.Builder
	RPCGasCap() uint64
}

// ServiceConfig aggregates the component configurations.
type ServiceConfig struct {
	Cache      blockcache.Config `koanf:"cache"`
	GasPrice   gasprice.Config   `koanf:"gasprice"`
	Simulation simulation.Config `koanf:"simulation"`
}

// Service owns the caches and derived-data services for the lifetime of the
// process: constructed once at service start, stopped at service stop. Tests
// construct isolated instances with small capacities.
type Service struct {
	provider    chain.Provider
	cache       *blockcache.Cache
	fetcher     *blockcache.Fetcher
	coordinator *blockcache.Coordinator
	oracle      *gasprice.Oracle
	history     *gasprice.FeeHistory
	builder     *simulation.Builder
	gasCap      uint64
}

// NewService wires the serving layer over its two collaborators.
func NewService(provider chain.Provider, engine simulation.Engine, cfg ServiceConfig) *Service {
	cache := blockcache.New(cfg.Cache)
	fetcher := blockcache.NewFetcher(provider, cache)
	oracle := gasprice.NewOracle(fetcher, cfg.GasPrice)
	history := gasprice.NewFeeHistory(fetcher, cfg.GasPrice)
	builder := simulation.NewBuilder(provider, engine, cfg.Simulation)

	coordinator := blockcache.NewCoordinator(cache)
	coordinator.Register(history)
	coordinator.Register(oracle)

	return &Service{
		provider:    provider,
		cache:       cache,
		fetcher:     fetcher,
		coordinator: coordinator,
		oracle:      oracle,
		history:     history,
		builder:     builder,
		gasCap:      builder.GasCap(),
	}
}

// Stop tears the service down.
func (s *Service) Stop() {
	s.history.Stop()
}

// ProcessHead feeds a new canonical block into every cache.
func (s *Service) ProcessHead(ev chain.HeadEvent) { s.coordinator.ProcessHead(ev) }

// ProcessReorg invalidates derived data at and above the fork point across
// all caches as one logical event.
func (s *Service) ProcessReorg(ev chain.ReorgEvent) { s.coordinator.ProcessReorg(ev) }

// GetAPIs returns the RPC services of the eth namespace.
func (s *Service) GetAPIs() []rpc.API {
	return []rpc.API{
		{
			Namespace: "eth",
			Service:   NewEthereumAPI(s),
		}, {
			Namespace: "eth",
			Service:   NewBlockChainAPI(s),
		},
	}
}

func (s *Service) ChainConfig() *params.ChainConfig { return s.provider.ChainConfig() }
func (s *Service) CurrentHeader() *types.Header     { return s.provider.CurrentHeader() }
func (s *Service) Simulator() *simulation.Builder   { return s.builder }
func (s *Service) RPCGasCap() uint64                { return s.gasCap }

func (s *Service) HeaderByNumberOrHash(ctx context.Context, id rpc.BlockNumberOrHash) (*types.Header, error) {
	return chain.ResolveHeader(ctx, s.provider, id)
}

// BlockByNumberOrHash resolves the identity and serves the block through the
// cache, fetching and inserting on a miss.
func (s *Service) BlockByNumberOrHash(ctx context.Context, id rpc.BlockNumberOrHash) (*types.Block, error) {
	if hash, ok := id.Hash(); ok && !id.RequireCanonical {
		return s.fetcher.BlockByHash(ctx, hash)
	}
	header, err := chain.ResolveHeader(ctx, s.provider, id)
	if err != nil {
		return nil, err
	}
	return s.fetcher.BlockByHash(ctx, header.Hash())
}

func (s *Service) GetReceipts(ctx context.Context, hash common.Hash) (types.Receipts, error) {
	return s.fetcher.Receipts(ctx, hash)
}

func (s *Service) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return s.oracle.SuggestTipCap(ctx)
}

func (s *Service) FeeHistory(ctx context.Context, blockCount uint64, lastBlock rpc.BlockNumber, rewardPercentiles []float64) (*big.Int, [][]*big.Int, []*big.Int, []float64, error) {
	return s.history.FeeHistory(ctx, blockCount, lastBlock, rewardPercentiles)
}
