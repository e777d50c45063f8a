package redbank

import (
	"errors"
	"math/big"
	"testing"
)

// liquidationFixture sets up the scenario shared by the liquidation tests:
// 1,000,000 luna collateral priced at 25 with a 0.55 max loan-to-value gives a
// 13,750,000 usd borrow limit, of which 98% (13,475,000) is drawn.
func liquidationFixture(t *testing.T) (*Engine, *mockState, *mockBank, *StaticOracle, Asset, Asset) {
	t.Helper()
	engine, state, bank, oracle := newTestEngine(t)
	luna := NativeAsset("luna")
	usd := NativeAsset("usd")
	initMarket(t, engine, luna, testParams())
	initMarket(t, engine, usd, testParams())
	oracle.SetPrice(luna, big.NewRat(25, 1))
	oracle.SetPrice(usd, big.NewRat(1, 1))

	funder := makeAddress(0x10)
	mustDeposit(t, engine, funder, usd, 20_000_000)
	mustDeposit(t, engine, testBorrower, luna, 1_000_000)
	if err := engine.Borrow(testBorrower, usd, big.NewInt(13_475_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return engine, state, bank, oracle, luna, usd
}

var (
	testBorrower   = makeAddress(0x11)
	testLiquidator = makeAddress(0x12)
)

func TestLiquidateFortyPercentRepaysExactly(t *testing.T) {
	engine, state, bank, oracle, luna, usd := liquidationFixture(t)
	// Crash the collateral price so the maintenance-margin value (13,000,000)
	// falls below the 13,475,000 debt.
	oracle.SetPrice(luna, big.NewRat(20, 1))

	sent := big.NewInt(5_390_000) // 40% of the outstanding debt
	result, err := engine.Liquidate(LiquidationRequest{
		Liquidator:      testLiquidator,
		Borrower:        testBorrower,
		CollateralAsset: luna,
		DebtAsset:       usd,
		AmountSent:      sent,
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.DebtAmountRepaid.Cmp(sent) != 0 {
		t.Fatalf("unexpected repaid amount: %s", result.DebtAmountRepaid)
	}
	if result.RefundAmount.Sign() != 0 {
		t.Fatalf("expected zero refund, got %s", result.RefundAmount)
	}
	// Seized = floor(5,390,000 * 1.1 * 1/20) = 296,450.
	if result.CollateralAmountLiquidated.Cmp(big.NewInt(296_450)) != 0 {
		t.Fatalf("unexpected seized collateral: %s", result.CollateralAmountLiquidated)
	}
	if result.CollateralDelivered.Cmp(big.NewInt(296_450)) != 0 {
		t.Fatalf("unexpected delivered collateral: %s", result.CollateralDelivered)
	}

	payout := bank.transfers[len(bank.transfers)-1]
	if !payout.to.Equal(testLiquidator) || !payout.asset.Equal(luna) || payout.amount.Cmp(big.NewInt(296_450)) != 0 {
		t.Fatalf("unexpected payout transfer: %+v", payout)
	}

	debtPosition := state.positions[positionKey(testBorrower, usd)]
	remaining := debtFromScaled(debtPosition.DebtScaled, state.markets[usd.Key()].BorrowIndex)
	if remaining.Cmp(big.NewInt(8_085_000)) != 0 {
		t.Fatalf("unexpected remaining debt: %s", remaining)
	}
	usdMarket := state.markets[usd.Key()]
	if usdMarket.AvailableLiquidity.Cmp(big.NewInt(20_000_000-13_475_000+5_390_000)) != 0 {
		t.Fatalf("unexpected debt market liquidity: %s", usdMarket.AvailableLiquidity)
	}
}

func TestLiquidateCapsAtCloseFactorAndRefunds(t *testing.T) {
	engine, _, bank, oracle, luna, usd := liquidationFixture(t)
	oracle.SetPrice(luna, big.NewRat(20, 1))

	sent := big.NewInt(8_085_000) // 60% of the debt, above the 0.5 close factor
	result, err := engine.Liquidate(LiquidationRequest{
		Liquidator:      testLiquidator,
		Borrower:        testBorrower,
		CollateralAsset: luna,
		DebtAsset:       usd,
		AmountSent:      sent,
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// Close factor 0.5 caps repayment at floor(13,475,000 * 0.5).
	if result.DebtAmountRepaid.Cmp(big.NewInt(6_737_500)) != 0 {
		t.Fatalf("unexpected repaid amount: %s", result.DebtAmountRepaid)
	}
	if result.RefundAmount.Cmp(big.NewInt(1_347_500)) != 0 {
		t.Fatalf("unexpected refund: %s", result.RefundAmount)
	}
	if result.CollateralAmountLiquidated.Cmp(big.NewInt(370_562)) != 0 {
		t.Fatalf("unexpected seized collateral: %s", result.CollateralAmountLiquidated)
	}

	refundTransfer := bank.lastTransfer()
	if !refundTransfer.to.Equal(testLiquidator) || !refundTransfer.asset.Equal(usd) || refundTransfer.amount.Cmp(big.NewInt(1_347_500)) != 0 {
		t.Fatalf("unexpected refund transfer: %+v", refundTransfer)
	}
}

func TestLiquidateReceiveMaTokenCreditsShares(t *testing.T) {
	engine, state, _, oracle, luna, usd := liquidationFixture(t)
	oracle.SetPrice(luna, big.NewRat(20, 1))

	before := state.markets[luna.Key()].TotalCollateralScaled
	result, err := engine.Liquidate(LiquidationRequest{
		Liquidator:      testLiquidator,
		Borrower:        testBorrower,
		CollateralAsset: luna,
		DebtAsset:       usd,
		AmountSent:      big.NewInt(5_390_000),
		ReceiveMaToken:  true,
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.CollateralDelivered != nil {
		t.Fatalf("ma-token payout must not deliver underlying, got %s", result.CollateralDelivered)
	}

	// Shares move between positions; the market-wide supply stays put.
	after := state.markets[luna.Key()].TotalCollateralScaled
	if before.Cmp(after) != 0 {
		t.Fatalf("total collateral shares changed: %s -> %s", before, after)
	}
	liquidatorShares := state.positions[positionKey(testLiquidator, luna)]
	wantShares := new(big.Int).Mul(big.NewInt(296_450), maTokenScalingFactor)
	if liquidatorShares == nil || liquidatorShares.CollateralScaled.Cmp(wantShares) != 0 {
		t.Fatalf("unexpected liquidator shares: %+v", liquidatorShares)
	}
}

func TestLiquidateSeizesAllCollateralWhenShort(t *testing.T) {
	engine, state, _, oracle, luna, usd := liquidationFixture(t)
	// A deep crash leaves the collateral worth less than the close-factor cap
	// can absorb at the bonus-adjusted rate.
	oracle.SetPrice(luna, big.NewRat(1, 1))

	result, err := engine.Liquidate(LiquidationRequest{
		Liquidator:      testLiquidator,
		Borrower:        testBorrower,
		CollateralAsset: luna,
		DebtAsset:       usd,
		AmountSent:      big.NewInt(6_737_500),
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if result.CollateralAmountLiquidated.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected full collateral seizure, got %s", result.CollateralAmountLiquidated)
	}
	// Repayment shrinks to what the seized collateral covers at the 1.1 ratio.
	if result.DebtAmountRepaid.Cmp(big.NewInt(909_090)) != 0 {
		t.Fatalf("unexpected repaid amount: %s", result.DebtAmountRepaid)
	}
	if result.RefundAmount.Cmp(big.NewInt(6_737_500-909_090)) != 0 {
		t.Fatalf("unexpected refund: %s", result.RefundAmount)
	}

	// The emptied collateral record is gone while the residual debt stays on
	// the books.
	if _, ok := state.positions[positionKey(testBorrower, luna)]; ok {
		t.Fatalf("exhausted collateral position should be deleted")
	}
	debtPosition := state.positions[positionKey(testBorrower, usd)]
	if debtPosition == nil || debtPosition.DebtScaled.Sign() == 0 {
		t.Fatalf("residual debt should remain, got %+v", debtPosition)
	}

	// A follow-up attempt finds nothing left to seize.
	_, err = engine.Liquidate(LiquidationRequest{
		Liquidator:      testLiquidator,
		Borrower:        testBorrower,
		CollateralAsset: luna,
		DebtAsset:       usd,
		AmountSent:      big.NewInt(1_000),
	})
	if err != ErrInsufficientCollateral {
		t.Fatalf("expected insufficient collateral, got %v", err)
	}
}

func TestLiquidateRejectsHealthyBorrower(t *testing.T) {
	engine, _, _, _, luna, usd := liquidationFixture(t)
	// Price unchanged: health factor 16,250,000 / 13,475,000 > 1.
	_, err := engine.Liquidate(LiquidationRequest{
		Liquidator:      testLiquidator,
		Borrower:        testBorrower,
		CollateralAsset: luna,
		DebtAsset:       usd,
		AmountSent:      big.NewInt(1_000),
	})
	if err != ErrHealthFactorOk {
		t.Fatalf("expected health factor ok, got %v", err)
	}
}

func TestLiquidateRejectsExemptBorrower(t *testing.T) {
	engine, _, _, oracle, luna, usd := liquidationFixture(t)
	oracle.SetPrice(luna, big.NewRat(20, 1))
	if err := engine.UpdateUncollateralizedLoanLimit(testOwner, testBorrower, usd, big.NewInt(1)); err != nil {
		t.Fatalf("grant limit: %v", err)
	}

	_, err := engine.Liquidate(LiquidationRequest{
		Liquidator:      testLiquidator,
		Borrower:        testBorrower,
		CollateralAsset: luna,
		DebtAsset:       usd,
		AmountSent:      big.NewInt(1_000),
	})
	if err != ErrPositiveUncollateralizedLimit {
		t.Fatalf("expected exemption error, got %v", err)
	}
}

func TestLiquidateRejectsBorrowerWithoutDebt(t *testing.T) {
	engine, _, _, oracle := newTestEngine(t)
	luna := NativeAsset("luna")
	usd := NativeAsset("usd")
	initMarket(t, engine, luna, testParams())
	initMarket(t, engine, usd, testParams())
	oracle.SetPrice(luna, big.NewRat(25, 1))
	oracle.SetPrice(usd, big.NewRat(1, 1))
	mustDeposit(t, engine, testBorrower, luna, 1_000)

	_, err := engine.Liquidate(LiquidationRequest{
		Liquidator:      testLiquidator,
		Borrower:        testBorrower,
		CollateralAsset: luna,
		DebtAsset:       usd,
		AmountSent:      big.NewInt(100),
	})
	if err != ErrNoDebtToLiquidate {
		t.Fatalf("expected no-debt error, got %v", err)
	}
	// Every liquidation rejection belongs to the not-liquidatable class.
	if !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("no-debt rejection should unwrap to not-liquidatable, got %v", err)
	}
}

func TestLiquidateReportsNetDeliveryUnderTax(t *testing.T) {
	engine, _, bank, oracle, luna, usd := liquidationFixture(t)
	oracle.SetPrice(luna, big.NewRat(20, 1))
	bank.taxBps = 100 // 1% transfer tax on native assets

	result, err := engine.Liquidate(LiquidationRequest{
		Liquidator:      testLiquidator,
		Borrower:        testBorrower,
		CollateralAsset: luna,
		DebtAsset:       usd,
		AmountSent:      big.NewInt(5_390_000),
	})
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// The ledger seizes 296,450 but the liquidator receives the taxed net.
	if result.CollateralAmountLiquidated.Cmp(big.NewInt(296_450)) != 0 {
		t.Fatalf("unexpected seized collateral: %s", result.CollateralAmountLiquidated)
	}
	want := big.NewInt(296_450 - 2_964)
	if result.CollateralDelivered.Cmp(want) != 0 {
		t.Fatalf("unexpected net delivery: got %s want %s", result.CollateralDelivered, want)
	}
}
