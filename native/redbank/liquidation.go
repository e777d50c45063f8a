package redbank

import (
	"math/big"

	"github.com/0xarbor/mars-core/crypto"
)

// LiquidationRequest describes one liquidation call. AmountSent is the debt
// asset the liquidator has already delivered to the module address, offered
// against the borrower's debt.
type LiquidationRequest struct {
	Liquidator      crypto.Address
	Borrower        crypto.Address
	CollateralAsset Asset
	DebtAsset       Asset
	AmountSent      *big.Int
	// ReceiveMaToken pays the liquidator in collateral shares instead of the
	// underlying, making the liquidator a depositor.
	ReceiveMaToken bool
}

// LiquidationResult carries the observable facts of a completed liquidation.
type LiquidationResult struct {
	// DebtAmountRepaid is the debt-asset amount applied against the
	// borrower's position.
	DebtAmountRepaid *big.Int
	// RefundAmount is any over-payment returned to the liquidator.
	RefundAmount *big.Int
	// CollateralAmountLiquidated is the underlying collateral seized.
	CollateralAmountLiquidated *big.Int
	// CollateralDelivered is the net underlying actually handed to the
	// liquidator; below the seized amount when native transfer tax applies,
	// nil when paid in ma-tokens.
	CollateralDelivered *big.Int
}

// Liquidate repays part of an undercollateralized borrower's debt in exchange
// for discounted collateral. The call is atomic and strictly ordered: accrual,
// then eligibility, then ledger mutation, then payout.
func (e *Engine) Liquidate(req LiquidationRequest) (*LiquidationResult, error) {
	if err := guard(e.pauses, OpLiquidate); err != nil {
		return nil, err
	}
	if e.bank == nil {
		return nil, ErrNilBank
	}
	if req.AmountSent == nil || req.AmountSent.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !req.CollateralAsset.Valid() || !req.DebtAsset.Valid() {
		return nil, ErrInvalidAsset
	}
	op, err := e.newOp()
	if err != nil {
		return nil, err
	}

	// 1. Accrue the debt and collateral markets plus everything the borrower
	// touches, so the health evaluation sees fresh indexes.
	debtMarket, err := op.market(req.DebtAsset)
	if err != nil {
		return nil, err
	}
	e.accrue(debtMarket)
	collateralMarket, err := op.market(req.CollateralAsset)
	if err != nil {
		return nil, err
	}
	e.accrue(collateralMarket)
	if err := op.accrueUserMarkets(req.Borrower); err != nil {
		return nil, err
	}

	// 2. Eligibility. A positive uncollateralized limit on any asset exempts
	// the borrower outright; otherwise the health factor decides.
	exempt, err := e.state.HasUncollateralizedLimit(req.Borrower)
	if err != nil {
		return nil, err
	}
	if exempt {
		return nil, ErrPositiveUncollateralizedLimit
	}
	health, err := e.evaluate(op, req.Borrower)
	if err != nil {
		return nil, err
	}
	if health.Status == HealthNotBorrowing {
		return nil, ErrNoDebtToLiquidate
	}
	if !health.Liquidatable() {
		return nil, ErrHealthFactorOk
	}

	borrowerDebt, err := op.position(req.Borrower, req.DebtAsset)
	if err != nil {
		return nil, err
	}
	outstanding := debtFromScaled(borrowerDebt.DebtScaled, debtMarket.BorrowIndex)
	if outstanding.Sign() == 0 {
		return nil, ErrNoDebtToLiquidate
	}

	borrowerCollateral, err := op.position(req.Borrower, req.CollateralAsset)
	if err != nil {
		return nil, err
	}
	availableCollateral := underlyingFromMaTokens(borrowerCollateral.CollateralScaled, collateralMarket.LiquidityIndex)
	if availableCollateral.Sign() == 0 {
		return nil, ErrInsufficientCollateral
	}

	// 3-6. The close factor caps how much debt one call may repay; the bonus
	// prices repaid debt into seized collateral, floored toward the borrower.
	debtPrice, err := e.oraclePrice(req.DebtAsset)
	if err != nil {
		return nil, err
	}
	collateralPrice, err := e.oraclePrice(req.CollateralAsset)
	if err != nil {
		return nil, err
	}
	bonusFactor := new(big.Rat).Add(big.NewRat(1, 1), bpsRat(collateralMarket.LiquidationBonusBps))

	maxRepayable := mulBpsFloor(outstanding, e.cfg.CloseFactorBps)
	repaid := bigMin(req.AmountSent, maxRepayable)

	seizeRatio := new(big.Rat).Mul(bonusFactor, new(big.Rat).Quo(debtPrice, collateralPrice))
	seized := mulRatFloor(repaid, seizeRatio)

	if seized.Cmp(availableCollateral) > 0 {
		// The borrower cannot cover the full seizure; take everything they
		// have and shrink the repayment to match.
		seized = new(big.Int).Set(availableCollateral)
		inverse := new(big.Rat).Inv(seizeRatio)
		repaid = mulRatFloor(seized, inverse)
		if repaid.Sign() == 0 {
			return nil, ErrInsufficientCollateral
		}
	}
	refund := new(big.Int).Sub(req.AmountSent, repaid)

	// 7. Ledger mutation.
	var scaledRepaid *big.Int
	if repaid.Cmp(outstanding) == 0 {
		scaledRepaid = new(big.Int).Set(borrowerDebt.DebtScaled)
	} else {
		scaledRepaid = scaledDebtFromAmount(repaid, debtMarket.BorrowIndex)
		if scaledRepaid.Cmp(borrowerDebt.DebtScaled) > 0 {
			scaledRepaid = new(big.Int).Set(borrowerDebt.DebtScaled)
		}
	}
	borrowerDebt.DebtScaled = new(big.Int).Sub(borrowerDebt.DebtScaled, scaledRepaid)
	debtMarket.TotalDebtScaled = new(big.Int).Sub(debtMarket.TotalDebtScaled, scaledRepaid)
	if debtMarket.TotalDebtScaled.Sign() < 0 {
		debtMarket.TotalDebtScaled = big.NewInt(0)
	}
	debtMarket.AvailableLiquidity = new(big.Int).Add(debtMarket.AvailableLiquidity, repaid)

	var scaledSeized *big.Int
	if seized.Cmp(availableCollateral) == 0 {
		scaledSeized = new(big.Int).Set(borrowerCollateral.CollateralScaled)
	} else {
		scaledSeized = maTokensFromUnderlying(seized, collateralMarket.LiquidityIndex)
		if scaledSeized.Cmp(borrowerCollateral.CollateralScaled) > 0 {
			scaledSeized = new(big.Int).Set(borrowerCollateral.CollateralScaled)
		}
	}
	borrowerCollateral.CollateralScaled = new(big.Int).Sub(borrowerCollateral.CollateralScaled, scaledSeized)

	// 8. Payout.
	result := &LiquidationResult{
		DebtAmountRepaid:           repaid,
		RefundAmount:               refund,
		CollateralAmountLiquidated: seized,
	}
	if req.ReceiveMaToken {
		liquidatorCollateral, err := op.position(req.Liquidator, req.CollateralAsset)
		if err != nil {
			return nil, err
		}
		liquidatorCollateral.CollateralScaled = new(big.Int).Add(liquidatorCollateral.CollateralScaled, scaledSeized)
	} else {
		collateralMarket.TotalCollateralScaled = new(big.Int).Sub(collateralMarket.TotalCollateralScaled, scaledSeized)
		if collateralMarket.AvailableLiquidity.Cmp(seized) < 0 {
			return nil, ErrInsufficientLiquidity
		}
		collateralMarket.AvailableLiquidity = new(big.Int).Sub(collateralMarket.AvailableLiquidity, seized)
		delivered, err := e.bank.Send(e.moduleAddress, req.Liquidator, req.CollateralAsset, seized)
		if err != nil {
			return nil, err
		}
		result.CollateralDelivered = delivered
	}
	if refund.Sign() > 0 {
		if _, err := e.bank.Send(e.moduleAddress, req.Liquidator, req.DebtAsset, refund); err != nil {
			return nil, err
		}
	}

	if err := op.commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) oraclePrice(asset Asset) (*big.Rat, error) {
	if e.oracle == nil {
		return nil, ErrNilOracle
	}
	price, err := e.oracle.Price(asset)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrNilOracle
	}
	return price, nil
}
