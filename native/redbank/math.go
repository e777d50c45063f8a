package redbank

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27, index precision
	// maTokenScalingFactor converts underlying units into ma-token share
	// units at mint time. Shares carry six extra decimals so that interest
	// smaller than one underlying unit still moves balances.
	maTokenScalingFactor = big.NewInt(1_000_000)
	scaleTimesRay        = new(big.Int).Mul(maTokenScalingFactor, ray)
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// rayMul multiplies two ray-scaled values, flooring the result. Index updates
// always multiply by factors >= 1 ray so monotonicity survives the floor.
func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

// ratToRay converts an exact rational into a ray-scaled integer, flooring.
func ratToRay(r *big.Rat) *big.Int {
	if r == nil || r.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(ray))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

// rateFactor returns the ray-scaled simple compounding factor
// 1 + rate * elapsed / secondsPerYear.
func rateFactor(rate *big.Rat, elapsed uint64) *big.Int {
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return new(big.Int).Set(ray)
	}
	perSecond := new(big.Rat).Set(rate)
	perSecond.Quo(perSecond, new(big.Rat).SetUint64(secondsPerYear))
	perSecond.Mul(perSecond, new(big.Rat).SetUint64(elapsed))
	factor := new(big.Rat).Add(big.NewRat(1, 1), perSecond)
	out := ratToRay(factor)
	if out.Cmp(ray) < 0 {
		return new(big.Int).Set(ray)
	}
	return out
}

// linearInterest computes amount * rate * elapsed / secondsPerYear, floored.
func linearInterest(amount *big.Int, rate *big.Rat, elapsed uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return big.NewInt(0)
	}
	interest := new(big.Rat).SetInt(amount)
	interest.Mul(interest, rate)
	interest.Mul(interest, new(big.Rat).SetUint64(elapsed))
	interest.Quo(interest, new(big.Rat).SetUint64(secondsPerYear))
	return new(big.Int).Quo(interest.Num(), interest.Denom())
}

// maTokensFromUnderlying mints share units for a deposit:
// amount * maTokenScalingFactor / liquidityIndex.
func maTokensFromUnderlying(amount, liquidityIndex *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || liquidityIndex == nil || liquidityIndex.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, scaleTimesRay)
	return scaled.Quo(scaled, liquidityIndex)
}

// maTokensFromUnderlyingCeil converts underlying into share units rounding
// up. Burns use it so fractional shares stay with the pool.
func maTokensFromUnderlyingCeil(amount, liquidityIndex *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || liquidityIndex == nil || liquidityIndex.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, scaleTimesRay)
	quo, rem := new(big.Int).QuoRem(scaled, liquidityIndex, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// underlyingFromMaTokens converts share units back into underlying, flooring
// in the protocol's favour.
func underlyingFromMaTokens(shares, liquidityIndex *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 || liquidityIndex == nil || liquidityIndex.Sign() == 0 {
		return big.NewInt(0)
	}
	underlying := new(big.Int).Mul(shares, liquidityIndex)
	return underlying.Quo(underlying, scaleTimesRay)
}

// scaledDebtFromAmount converts a borrow amount into borrow-index scaled
// units. A nonzero amount never rounds to zero scaled debt.
func scaledDebtFromAmount(amount, borrowIndex *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || borrowIndex == nil || borrowIndex.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, ray)
	scaled.Quo(scaled, borrowIndex)
	if scaled.Sign() == 0 {
		return big.NewInt(1)
	}
	return scaled
}

// debtFromScaled converts scaled debt back into current underlying owed.
func debtFromScaled(scaled, borrowIndex *big.Int) *big.Int {
	if scaled == nil || scaled.Sign() == 0 || borrowIndex == nil || borrowIndex.Sign() == 0 {
		return big.NewInt(0)
	}
	actual := new(big.Int).Mul(scaled, borrowIndex)
	return actual.Quo(actual, ray)
}

// bpsRat converts basis points into an exact rational fraction.
func bpsRat(bps uint64) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).SetUint64(bps), basisPoints)
}

// mulBpsFloor scales an amount by a basis-point fraction, flooring.
func mulBpsFloor(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

// mulRatFloor scales an amount by an exact rational, flooring.
func mulRatFloor(amount *big.Int, r *big.Rat) *big.Int {
	if amount == nil || amount.Sign() <= 0 || r == nil || r.Sign() <= 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Rat).SetInt(amount)
	scaled.Mul(scaled, r)
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
