// Package gasestimator finds the lowest gas limit that lets a call succeed,
// by bisecting over fresh simulations of the same environment.
package gasestimator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"

	"github.com/zircuit-labs/ethquery/core/fees"
	"github.com/zircuit-labs/ethquery/core/simulation"
)

// Options configure one estimation run.
type Options struct {
	Engine simulation.Engine

	// ErrorRatio allows early exit once the remaining search interval is
	// this fraction of the upper bound, trading exactness for speed. Zero
	// means converge to the exact minimum.
	ErrorRatio float64

	// Tolerance is the interval width at which the search stops; the minimum
	// (and default) of 1 converges to the exact sufficient gas.
	Tolerance uint64
}

// Estimate runs the bounded binary search: the lower bound is the intrinsic
// cost of the call, the upper bound its (capped) gas limit. A trial that
// fails is insufficient, one that succeeds is sufficient. If even the upper
// bound fails, the final failing result is returned so the caller can surface
// the revert payload.
func Estimate(ctx context.Context, env *simulation.Environment, opts Options) (uint64, []byte, error) {
	if opts.Tolerance == 0 {
		opts.Tolerance = 1
	}
	hi := env.Call.Gas
	intrinsic, err := fees.IntrinsicGas(env.Call.Data, env.Call.AccessList, env.Call.IsCreate())
	if err != nil {
		return 0, nil, err
	}
	if hi < intrinsic {
		return 0, nil, fmt.Errorf("%w: gas limit %d below intrinsic cost %d", vm.ErrOutOfGas, hi, intrinsic)
	}
	lo := intrinsic - 1

	// Check the highest allowance first: if the call fails there it fails
	// everywhere, and its result carries the revert data to report.
	result, err := execute(ctx, env, opts, hi)
	if err != nil {
		return 0, nil, err
	}
	if result.Failed() {
		if errors.Is(result.Err, vm.ErrOutOfGas) || errors.Is(result.Err, vm.ErrExecutionReverted) {
			return 0, result.Revert(), result.Err
		}
		return 0, nil, result.Err
	}

	// Seed the first probe from the measured gas use; most calls settle just
	// above it, which collapses the interval much faster than pure bisection.
	if probe := result.UsedGas + result.UsedGas/64; probe > lo && probe < hi {
		ok, err := trial(ctx, env, opts, probe)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			hi = probe
		} else {
			lo = probe
		}
	}

	for lo+opts.Tolerance < hi {
		if opts.ErrorRatio > 0 && float64(hi-lo) < float64(hi)*opts.ErrorRatio {
			// Close enough; the result is capped at hi which is known good.
			break
		}
		mid := (hi + lo) / 2
		if mid > lo*2 {
			// Most transactions don't need much more gas than they use;
			// skewing the interval low finds the boundary in fewer trials.
			mid = lo * 2
		}
		if mid <= lo {
			mid = lo + 1
		}
		ok, err := trial(ctx, env, opts, mid)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid
		}
	}
	log.Trace("Gas estimation converged", "estimate", hi)
	return hi, nil, nil
}

// trial reports whether the call succeeds with the given gas limit. Reverts
// and out-of-gas count as insufficient and drive the next midpoint; any other
// execution failure aborts the search.
func trial(ctx context.Context, env *simulation.Environment, opts Options, gas uint64) (bool, error) {
	result, err := execute(ctx, env, opts, gas)
	if err != nil {
		return false, err
	}
	if result.Failed() {
		if !errors.Is(result.Err, vm.ErrOutOfGas) && !errors.Is(result.Err, vm.ErrExecutionReverted) {
			return false, result.Err
		}
		return false, nil
	}
	return true, nil
}

func execute(ctx context.Context, env *simulation.Environment, opts Options, gas uint64) (*simulation.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return opts.Engine.Execute(ctx, env.WithGas(gas))
}
