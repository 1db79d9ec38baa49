package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// ResolveNumber maps a symbolic or numeric block number to its canonical
// header. The pending tag resolves to the latest canonical header; callers
// that need a synthetic pending environment layer it on top themselves.
func ResolveNumber(ctx context.Context, p Provider, number rpc.BlockNumber) (*types.Header, error) {
	switch number {
	case rpc.PendingBlockNumber, rpc.LatestBlockNumber:
		head := p.CurrentHeader()
		if head == nil {
			return nil, ErrNotFound
		}
		return head, nil
	case rpc.FinalizedBlockNumber:
		header := p.FinalizedHeader()
		if header == nil {
			return nil, fmt.Errorf("%w: finalized block not available", ErrNotFound)
		}
		return header, nil
	case rpc.SafeBlockNumber:
		header := p.SafeHeader()
		if header == nil {
			return nil, fmt.Errorf("%w: safe block not available", ErrNotFound)
		}
		return header, nil
	case rpc.EarliestBlockNumber:
		return p.HeaderByNumber(ctx, 0)
	default:
		if number < 0 {
			return nil, fmt.Errorf("%w: invalid block number %d", ErrNotFound, number)
		}
		return p.HeaderByNumber(ctx, uint64(number))
	}
}

// ResolveHeader resolves a block identity (number, symbolic tag or hash) to a
// concrete header before any cache lookup. When RequireCanonical is set a
// hash identity additionally has to sit on the canonical chain.
func ResolveHeader(ctx context.Context, p Provider, id rpc.BlockNumberOrHash) (*types.Header, error) {
	if hash, ok := id.Hash(); ok {
		header, err := p.HeaderByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if header == nil {
			return nil, ErrNotFound
		}
		if id.RequireCanonical {
			canon, err := p.CanonicalHash(ctx, header.Number.Uint64())
			if err != nil {
				return nil, err
			}
			if canon != hash {
				return nil, fmt.Errorf("%w: hash %s is not currently canonical", ErrNotFound, hash)
			}
		}
		return header, nil
	}
	number, _ := id.Number()
	return ResolveNumber(ctx, p, number)
}
