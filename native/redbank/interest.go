package redbank

import (
	"fmt"
	"math/big"
)

// RateStrategy holds the parameters of the piecewise-linear borrow rate curve
// attached to a market. Rates are pure functions of utilisation; the strategy
// carries no state.
type RateStrategy struct {
	// Base is the borrow rate applied at zero utilisation.
	Base *big.Rat
	// Slope1 is the rate increase accumulated while utilisation climbs from
	// zero to the optimal point.
	Slope1 *big.Rat
	// Slope2 is the rate increase accumulated between the optimal point and
	// full utilisation.
	Slope2 *big.Rat
	// OptimalUtilization is the utilisation ratio where the curve steepens.
	OptimalUtilization *big.Rat
}

// NewRateStrategy constructs a strategy from decimal inputs, e.g. a 2% base
// rate is 0.02 and an 80% optimal utilisation is 0.8.
func NewRateStrategy(base, slope1, slope2, optimal float64) RateStrategy {
	s := RateStrategy{
		Base:               new(big.Rat),
		Slope1:             new(big.Rat),
		Slope2:             new(big.Rat),
		OptimalUtilization: new(big.Rat),
	}
	s.Base.SetFloat64(base)
	s.Slope1.SetFloat64(slope1)
	s.Slope2.SetFloat64(slope2)
	s.OptimalUtilization.SetFloat64(optimal)
	return s
}

// Clone returns a deep copy of the strategy.
func (s RateStrategy) Clone() RateStrategy {
	return RateStrategy{
		Base:               cloneRat(s.Base),
		Slope1:             cloneRat(s.Slope1),
		Slope2:             cloneRat(s.Slope2),
		OptimalUtilization: cloneRat(s.OptimalUtilization),
	}
}

// Validate rejects malformed parameters at market-init time.
func (s RateStrategy) Validate() error {
	one := big.NewRat(1, 1)
	if s.Base == nil || s.Base.Sign() < 0 {
		return fmt.Errorf("%w: base rate must be non-negative", ErrInvalidParameter)
	}
	if s.Slope1 == nil || s.Slope1.Sign() < 0 {
		return fmt.Errorf("%w: slope_1 must be non-negative", ErrInvalidParameter)
	}
	if s.Slope2 == nil || s.Slope2.Sign() < 0 {
		return fmt.Errorf("%w: slope_2 must be non-negative", ErrInvalidParameter)
	}
	if s.OptimalUtilization == nil || s.OptimalUtilization.Sign() < 0 || s.OptimalUtilization.Cmp(one) > 0 {
		return fmt.Errorf("%w: optimal utilization must be within [0, 1]", ErrInvalidParameter)
	}
	return nil
}

// BorrowRate evaluates the curve at utilisation u.
//
// Below the optimal point: base + slope_1 * (u / optimal).
// Above it: base + slope_1 + slope_2 * ((u - optimal) / (1 - optimal)).
func (s RateStrategy) BorrowRate(u *big.Rat) *big.Rat {
	rate := cloneRat(s.Base)
	if u == nil || u.Sign() <= 0 {
		return rate
	}
	optimal := cloneRat(s.OptimalUtilization)
	if optimal.Sign() > 0 && u.Cmp(optimal) <= 0 {
		portion := new(big.Rat).Quo(u, optimal)
		portion.Mul(portion, cloneRat(s.Slope1))
		return rate.Add(rate, portion)
	}
	rate.Add(rate, cloneRat(s.Slope1))
	one := big.NewRat(1, 1)
	span := new(big.Rat).Sub(one, optimal)
	if span.Sign() <= 0 {
		return rate
	}
	excess := new(big.Rat).Sub(u, optimal)
	if excess.Sign() < 0 {
		excess.SetInt64(0)
	}
	excess.Quo(excess, span)
	excess.Mul(excess, cloneRat(s.Slope2))
	return rate.Add(rate, excess)
}

// LiquidityRate is the deposit-side rate: borrow rate scaled by utilisation
// and the share of interest not retained as protocol reserve.
func (s RateStrategy) LiquidityRate(u *big.Rat, reserveFactorBps uint64) *big.Rat {
	if u == nil || u.Sign() <= 0 {
		return new(big.Rat)
	}
	oneMinusReserve := new(big.Rat).Sub(big.NewRat(1, 1), bpsRat(reserveFactorBps))
	if oneMinusReserve.Sign() < 0 {
		oneMinusReserve.SetInt64(0)
	}
	rate := s.BorrowRate(u)
	rate.Mul(rate, u)
	rate.Mul(rate, oneMinusReserve)
	return rate
}

// utilisation computes U = debt / (debt + available liquidity). Zero when the
// market holds no value.
func utilisation(totalDebt, availableLiquidity *big.Int) *big.Rat {
	if totalDebt == nil || totalDebt.Sign() <= 0 {
		return new(big.Rat)
	}
	total := new(big.Int).Set(totalDebt)
	if availableLiquidity != nil && availableLiquidity.Sign() > 0 {
		total.Add(total, availableLiquidity)
	}
	if total.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalDebt, total)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
