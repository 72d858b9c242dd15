package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"

	"probity/core/types"
	"probity/native/fixedpoint"
)

// Result records the outcome of one replayed step.
type Result struct {
	Index  int
	Op     string
	Caller common.Address
	Err    error
}

// Runner replays a scenario against a freshly built world on a mock clock.
type Runner struct {
	file   *File
	world  *World
	clock  *clock.Mock
	caller common.Address
}

// NewRunner builds the world described by file and seeds it. Extra options
// such as an emitter or logger are applied on top of the file's settings.
func NewRunner(file *File, opts Options) (*Runner, error) {
	governors := make([]common.Address, 0, len(file.Governors))
	for _, name := range file.Governors {
		addr, err := file.Resolve(name)
		if err != nil {
			return nil, err
		}
		governors = append(governors, addr)
	}
	assets := make([]types.AssetID, 0, len(file.Assets))
	for _, raw := range file.Assets {
		id, err := types.ParseAssetID(raw)
		if err != nil {
			return nil, fmt.Errorf("scenario: asset %q: %w", raw, err)
		}
		assets = append(assets, id)
	}
	self, err := resolveOr(file, file.Coordinator, "0x5d0e")
	if err != nil {
		return nil, err
	}
	pool, err := resolveOr(file, file.ReservePool, "0x7e5e")
	if err != nil {
		return nil, err
	}

	mock := clock.NewMock()
	mock.Add(time.Duration(1_700_000_000) * time.Second)
	opts.Self = self
	opts.ReservePool = pool
	opts.Governors = governors
	opts.Assets = assets
	opts.Clock = mock
	opts.Config.EnsureDefaults()
	if file.HolderRole != "" {
		opts.Config.HolderRole = file.HolderRole
	}
	world, err := NewWorld(opts)
	if err != nil {
		return nil, err
	}
	if err := Seed(world, file); err != nil {
		return nil, err
	}
	return &Runner{file: file, world: world, clock: mock, caller: governors[0]}, nil
}

func resolveOr(file *File, name, fallback string) (common.Address, error) {
	if strings.TrimSpace(name) == "" {
		name = fallback
	}
	return file.Resolve(name)
}

func (r *Runner) World() *World { return r.world }

func (r *Runner) Clock() *clock.Mock { return r.clock }

// Run replays every step in order. A step failing without a matching
// expectError, or an expected error that does not occur, stops the replay.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(r.file.Steps))
	for i, step := range r.file.Steps {
		result, err := r.apply(ctx, step)
		result.Index = i
		results = append(results, result)
		if err != nil {
			return results, fmt.Errorf("scenario: step %d (%s): %w", i, step.Op, err)
		}
		want := strings.TrimSpace(step.ExpectError)
		switch {
		case want == "" && result.Err != nil:
			return results, fmt.Errorf("scenario: step %d (%s): %w", i, step.Op, result.Err)
		case want != "" && result.Err == nil:
			return results, fmt.Errorf("scenario: step %d (%s): expected error containing %q", i, step.Op, want)
		case want != "" && !strings.Contains(result.Err.Error(), want):
			return results, fmt.Errorf("scenario: step %d (%s): expected error containing %q, got %v", i, step.Op, want, result.Err)
		}
	}
	return results, nil
}

// apply executes one step. The returned error reports a malformed step; the
// operation's own outcome is carried in Result.Err.
func (r *Runner) apply(ctx context.Context, step Step) (Result, error) {
	result := Result{Op: step.Op, Caller: r.caller}
	if step.Caller != "" {
		caller, err := r.file.Resolve(step.Caller)
		if err != nil {
			return result, err
		}
		result.Caller = caller
	}
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return result, fmt.Errorf("advance: %w", err)
		}
		r.clock.Add(d)
	}
	if step.Op == "" || step.Op == "advance" {
		return result, nil
	}

	engine := r.world.Engine
	caller := result.Caller
	var (
		asset types.AssetID
		user  common.Address
		err   error
	)
	if step.Asset != "" {
		if asset, err = types.ParseAssetID(step.Asset); err != nil {
			return result, err
		}
	}
	if step.User != "" {
		if user, err = r.file.Resolve(step.User); err != nil {
			return result, err
		}
	}

	switch step.Op {
	case "initiateShutdown":
		result.Err = engine.InitiateShutdown(ctx, caller)
	case "switchAddress":
		result.Err = engine.SwitchAddress(ctx, caller, step.Target, r.world.Replacement(step.Target))
	case "changeWaitPeriod":
		result.Err = engine.ChangeWaitPeriod(ctx, caller, step.Target, step.Seconds)
	case "updatePrice":
		price, perr := fixedpoint.Parse(step.Amount, fixedpoint.UnitRay)
		if perr != nil {
			return result, perr
		}
		result.Err = r.world.Feed.UpdatePrice(asset, price)
	case "setFinalPrice":
		result.Err = engine.SetFinalPrice(ctx, caller, asset)
	case "processUserDebt":
		result.Err = engine.ProcessUserDebt(ctx, caller, asset, user)
	case "freeExcessCollateral":
		result.Err = engine.FreeExcessCollateral(ctx, caller, asset, user)
	case "writeOffFromReserves":
		result.Err = engine.WriteOffFromReserves(ctx, caller)
	case "setFinalDebtBalance":
		result.Err = engine.SetFinalDebtBalance(ctx, caller)
	case "calculateInvestorObligation":
		result.Err = engine.CalculateInvestorObligation(ctx, caller)
	case "processUserEquity":
		result.Err = engine.ProcessUserEquity(ctx, caller, asset, user)
	case "calculateRedemptionRatio":
		result.Err = engine.CalculateRedemptionRatio(ctx, caller, asset)
	case "returnStablecoin":
		amount, perr := fixedpoint.Parse(step.Amount, fixedpoint.UnitRad)
		if perr != nil {
			return result, perr
		}
		result.Err = engine.ReturnStablecoin(ctx, caller, amount)
	case "redeemCollateral":
		result.Err = engine.RedeemCollateral(ctx, caller, asset)
	case "setFinalSystemReserve":
		result.Err = engine.SetFinalSystemReserve(ctx, caller)
	case "redeemVouchers":
		result.Err = engine.RedeemVouchers(ctx, caller)
	default:
		return result, fmt.Errorf("unknown op %q", step.Op)
	}
	return result, nil
}
