package rewards

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var (
	// ErrInvalidPercentage is returned when a split percentage falls outside
	// [0, 100]. Out-of-range values are rejected, never clamped.
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")

	// ErrZeroTransferAmount is returned when the split leaves nothing to
	// transfer. Callers treat it as a no-op, not a failure.
	ErrZeroTransferAmount = errors.New("transfer amount is zero")
)

// bpsPerUnit is the number of basis points in 100%.
const bpsPerUnit = 10_000

// SplitParams are the two percentages applied in sequence to a reward total:
// TotalRewardsPct selects the share of block rewards under consideration, and
// LSTRewardsPct selects the share of that which moves to the stake pool.
type SplitParams struct {
	TotalRewardsPct float64
	LSTRewardsPct   float64
}

// Validate rejects percentages outside [0, 100] as well as NaN and infinities.
func (p SplitParams) Validate() error {
	if !validPercentage(p.TotalRewardsPct) {
		return fmt.Errorf("total rewards pct %v: %w", p.TotalRewardsPct, ErrInvalidPercentage)
	}
	if !validPercentage(p.LSTRewardsPct) {
		return fmt.Errorf("lst rewards pct %v: %w", p.LSTRewardsPct, ErrInvalidPercentage)
	}
	return nil
}

func validPercentage(pct float64) bool {
	return !math.IsNaN(pct) && !math.IsInf(pct, 0) && pct >= 0 && pct <= 100
}

// Split is the lamport breakdown produced by ComputeSplit.
type Split struct {
	TotalRewards      uint64
	ConsideredRewards uint64
	TransferAmount    uint64
}

// ComputeSplit applies the two-stage percentage split to a reward total,
// rounding down at each stage. A zero result returns the breakdown together
// with ErrZeroTransferAmount so callers can report the no-op.
func ComputeSplit(totalRewards uint64, params SplitParams) (Split, error) {
	if err := params.Validate(); err != nil {
		return Split{}, err
	}

	considered := applyBps(totalRewards, percentageToBps(params.TotalRewardsPct))
	transfer := applyBps(considered, percentageToBps(params.LSTRewardsPct))

	split := Split{
		TotalRewards:      totalRewards,
		ConsideredRewards: considered,
		TransferAmount:    transfer,
	}
	if transfer == 0 {
		return split, ErrZeroTransferAmount
	}
	return split, nil
}

// percentageToBps converts a percentage to basis points, rounding to the
// nearest basis point (52.37% -> 5237 bps). Inputs are validated upstream so
// the result never exceeds bpsPerUnit.
func percentageToBps(pct float64) uint64 {
	return uint64(math.Round(pct * 100))
}

// applyBps computes value * bps / 10000 on a 128-bit intermediate, so the
// product cannot overflow for any uint64 value. Division rounds down.
func applyBps(value, bps uint64) uint64 {
	hi, lo := bits.Mul64(value, bps)
	quo, _ := bits.Div64(hi, lo, bpsPerUnit)
	return quo
}
