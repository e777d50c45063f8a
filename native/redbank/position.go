package redbank

import (
	"math/big"

	"github.com/0xarbor/mars-core/crypto"
)

// HealthStatus is the tri-state outcome of a position evaluation. A user with
// no collateralized debt is NotBorrowing and has no numeric health factor.
type HealthStatus uint8

const (
	HealthNotBorrowing HealthStatus = iota + 1
	HealthBorrowing
)

func (s HealthStatus) String() string {
	switch s {
	case HealthNotBorrowing:
		return "not_borrowing"
	case HealthBorrowing:
		return "borrowing"
	default:
		return "unknown"
	}
}

// Position aggregates a user's balances across every market into
// reference-currency values.
type Position struct {
	Status HealthStatus
	// HealthFactor is liquidation-threshold weighted collateral value over
	// debt value; nil when not borrowing.
	HealthFactor *big.Rat
	// TotalCollateralValue is the unweighted collateral value.
	TotalCollateralValue *big.Rat
	// MaxDebtValue is the loan-to-value weighted borrow limit.
	MaxDebtValue *big.Rat
	// LiquidationThresholdValue is the maintenance-margin weighted collateral
	// value.
	LiquidationThresholdValue *big.Rat
	// TotalDebtValue sums collateralized debt only; debt covered by an
	// uncollateralized loan limit does not weigh on the health factor.
	TotalDebtValue *big.Rat
}

// WithinBorrowLimit reports whether debt value stays inside the loan-to-value
// weighted borrowing power.
func (p *Position) WithinBorrowLimit() bool {
	return p.TotalDebtValue.Cmp(p.MaxDebtValue) <= 0
}

// Liquidatable reports whether the health factor marks the position for
// liquidation. The uncollateralized-limit exemption is the engine's concern.
func (p *Position) Liquidatable() bool {
	return p.Status == HealthBorrowing && p.HealthFactor.Cmp(big.NewRat(1, 1)) < 0
}

// evaluate walks every asset the user holds collateral or debt in, prices the
// balances and derives the health factor. Markets must already be accrued by
// the caller; evaluation reads through the operation overlay so in-flight
// mutations are visible.
func (e *Engine) evaluate(op *opState, user crypto.Address) (*Position, error) {
	if e.oracle == nil {
		return nil, ErrNilOracle
	}
	positions, err := op.userPositions(user)
	if err != nil {
		return nil, err
	}

	result := &Position{
		Status:                    HealthNotBorrowing,
		TotalCollateralValue:      new(big.Rat),
		MaxDebtValue:              new(big.Rat),
		LiquidationThresholdValue: new(big.Rat),
		TotalDebtValue:            new(big.Rat),
	}

	for _, position := range positions {
		if position.CollateralScaled.Sign() == 0 && position.DebtScaled.Sign() == 0 {
			continue
		}
		market, err := op.market(position.Asset)
		if err != nil {
			return nil, err
		}
		price, err := e.oracle.Price(position.Asset)
		if err != nil {
			return nil, err
		}

		if position.CollateralScaled.Sign() > 0 && position.IsCollateral {
			underlying := underlyingFromMaTokens(position.CollateralScaled, market.LiquidityIndex)
			value := new(big.Rat).SetInt(underlying)
			value.Mul(value, price)
			result.TotalCollateralValue.Add(result.TotalCollateralValue, value)
			result.MaxDebtValue.Add(result.MaxDebtValue,
				new(big.Rat).Mul(value, bpsRat(market.MaxLoanToValueBps)))
			result.LiquidationThresholdValue.Add(result.LiquidationThresholdValue,
				new(big.Rat).Mul(value, bpsRat(market.MaintenanceMarginBps)))
		}

		if position.DebtScaled.Sign() > 0 {
			limit, err := e.state.GetUncollateralizedLimit(user, position.Asset)
			if err != nil {
				return nil, err
			}
			if limit != nil && limit.Sign() > 0 {
				continue
			}
			debt := debtFromScaled(position.DebtScaled, market.BorrowIndex)
			value := new(big.Rat).SetInt(debt)
			value.Mul(value, price)
			result.TotalDebtValue.Add(result.TotalDebtValue, value)
		}
	}

	if result.TotalDebtValue.Sign() > 0 {
		result.Status = HealthBorrowing
		result.HealthFactor = new(big.Rat).Quo(result.LiquidationThresholdValue, result.TotalDebtValue)
	}
	return result, nil
}

// UserPosition evaluates a user's aggregate position at the current block
// time without persisting the interim accrual.
func (e *Engine) UserPosition(user crypto.Address) (*Position, error) {
	op, err := e.newOp()
	if err != nil {
		return nil, err
	}
	positions, err := op.userPositions(user)
	if err != nil {
		return nil, err
	}
	for _, position := range positions {
		market, err := op.market(position.Asset)
		if err != nil {
			return nil, err
		}
		e.accrue(market)
	}
	// The overlay is dropped, never committed: queries must not mutate state.
	return e.evaluate(op, user)
}
