package redbank

import (
	"math/big"
	"testing"
)

func TestUserPositionAggregatesAcrossMarkets(t *testing.T) {
	engine, _, _, oracle := newTestEngine(t)
	luna := NativeAsset("luna")
	usd := NativeAsset("usd")
	initMarket(t, engine, luna, testParams())
	initMarket(t, engine, usd, testParams())
	oracle.SetPrice(luna, big.NewRat(25, 1))
	oracle.SetPrice(usd, big.NewRat(1, 1))

	funder := makeAddress(0x10)
	user := makeAddress(0x11)
	mustDeposit(t, engine, funder, usd, 20_000_000)
	mustDeposit(t, engine, user, luna, 1_000_000)
	if err := engine.Borrow(user, usd, big.NewInt(13_475_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	position, err := engine.UserPosition(user)
	if err != nil {
		t.Fatalf("user position: %v", err)
	}
	if position.Status != HealthBorrowing {
		t.Fatalf("unexpected status: %v", position.Status)
	}
	if position.TotalCollateralValue.Cmp(big.NewRat(25_000_000, 1)) != 0 {
		t.Fatalf("unexpected collateral value: %s", position.TotalCollateralValue.RatString())
	}
	if position.MaxDebtValue.Cmp(big.NewRat(13_750_000, 1)) != 0 {
		t.Fatalf("unexpected borrow limit: %s", position.MaxDebtValue.RatString())
	}
	if position.LiquidationThresholdValue.Cmp(big.NewRat(16_250_000, 1)) != 0 {
		t.Fatalf("unexpected threshold value: %s", position.LiquidationThresholdValue.RatString())
	}
	if position.TotalDebtValue.Cmp(big.NewRat(13_475_000, 1)) != 0 {
		t.Fatalf("unexpected debt value: %s", position.TotalDebtValue.RatString())
	}
	wantHF := big.NewRat(16_250_000, 13_475_000)
	if position.HealthFactor.Cmp(wantHF) != 0 {
		t.Fatalf("unexpected health factor: %s", position.HealthFactor.RatString())
	}
	if position.Liquidatable() {
		t.Fatalf("healthy position flagged liquidatable")
	}
}

func TestUserPositionWithoutDebtIsNotBorrowing(t *testing.T) {
	engine, _, _, oracle := newTestEngine(t)
	luna := NativeAsset("luna")
	initMarket(t, engine, luna, testParams())
	oracle.SetPrice(luna, big.NewRat(25, 1))
	user := makeAddress(0x11)
	mustDeposit(t, engine, user, luna, 100)

	position, err := engine.UserPosition(user)
	if err != nil {
		t.Fatalf("user position: %v", err)
	}
	if position.Status != HealthNotBorrowing {
		t.Fatalf("unexpected status: %v", position.Status)
	}
	if position.HealthFactor != nil {
		t.Fatalf("not-borrowing position must carry no health factor")
	}
}

func TestUncollateralizedDebtDoesNotWeighOnHealth(t *testing.T) {
	engine, _, _, oracle := newTestEngine(t)
	usd := NativeAsset("usd")
	initMarket(t, engine, usd, testParams())
	oracle.SetPrice(usd, big.NewRat(1, 1))

	funder := makeAddress(0x10)
	user := makeAddress(0x11)
	mustDeposit(t, engine, funder, usd, 10_000)
	if err := engine.UpdateUncollateralizedLoanLimit(testOwner, user, usd, big.NewInt(5_000)); err != nil {
		t.Fatalf("grant limit: %v", err)
	}
	if err := engine.Borrow(user, usd, big.NewInt(4_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	position, err := engine.UserPosition(user)
	if err != nil {
		t.Fatalf("user position: %v", err)
	}
	if position.TotalDebtValue.Sign() != 0 {
		t.Fatalf("limit-covered debt leaked into the debt value: %s", position.TotalDebtValue.RatString())
	}
	if position.Status != HealthNotBorrowing {
		t.Fatalf("unexpected status: %v", position.Status)
	}
}

func TestDisabledCollateralIsExcluded(t *testing.T) {
	engine, _, _, oracle := newTestEngine(t)
	luna := NativeAsset("luna")
	initMarket(t, engine, luna, testParams())
	oracle.SetPrice(luna, big.NewRat(25, 1))
	user := makeAddress(0x11)
	mustDeposit(t, engine, user, luna, 1_000)

	if err := engine.ToggleCollateral(user, luna, false); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	position, err := engine.UserPosition(user)
	if err != nil {
		t.Fatalf("user position: %v", err)
	}
	if position.TotalCollateralValue.Sign() != 0 || position.MaxDebtValue.Sign() != 0 {
		t.Fatalf("disabled collateral still counted: %+v", position)
	}
}
