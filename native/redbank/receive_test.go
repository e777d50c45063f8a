package redbank

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func TestReceiveTokenDispatchesDeposit(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	contract := makeAddress(0x40)
	token := TokenAsset(contract)
	initMarket(t, engine, token, testParams())
	sender := makeAddress(0x10)

	outcome, err := engine.ReceiveToken(contract, TokenReceiveMsg{
		Sender: sender.String(),
		Amount: big.NewInt(5_000),
		Msg:    json.RawMessage(`{"deposit":{}}`),
	})
	if err != nil {
		t.Fatalf("receive deposit: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(5_000), maTokenScalingFactor)
	if outcome.MintedShares == nil || outcome.MintedShares.Cmp(want) != 0 {
		t.Fatalf("unexpected minted shares: %+v", outcome)
	}
}

func TestReceiveTokenDispatchesRepay(t *testing.T) {
	engine, _, _, oracle := newTestEngine(t)
	contract := makeAddress(0x40)
	token := TokenAsset(contract)
	luna := NativeAsset("luna")
	initMarket(t, engine, token, testParams())
	initMarket(t, engine, luna, testParams())
	oracle.SetPrice(token, big.NewRat(1, 1))
	oracle.SetPrice(luna, big.NewRat(25, 1))

	funder := makeAddress(0x10)
	borrower := makeAddress(0x11)
	mustDeposit(t, engine, funder, token, 10_000)
	mustDeposit(t, engine, borrower, luna, 1_000)
	if err := engine.Borrow(borrower, token, big.NewInt(1_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	outcome, err := engine.ReceiveToken(contract, TokenReceiveMsg{
		Sender: borrower.String(),
		Amount: big.NewInt(1_200),
		Msg:    json.RawMessage(`{"repay":{}}`),
	})
	if err != nil {
		t.Fatalf("receive repay: %v", err)
	}
	if outcome.Repaid.Cmp(big.NewInt(1_000)) != 0 || outcome.Refund.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected repay outcome: %+v", outcome)
	}
}

func TestReceiveTokenDispatchesLiquidation(t *testing.T) {
	engine, _, _, oracle := newTestEngine(t)
	contract := makeAddress(0x40)
	token := TokenAsset(contract)
	luna := NativeAsset("luna")
	initMarket(t, engine, token, testParams())
	initMarket(t, engine, luna, testParams())
	oracle.SetPrice(token, big.NewRat(1, 1))
	oracle.SetPrice(luna, big.NewRat(25, 1))

	funder := makeAddress(0x10)
	borrower := makeAddress(0x11)
	liquidator := makeAddress(0x12)
	mustDeposit(t, engine, funder, token, 20_000_000)
	mustDeposit(t, engine, borrower, luna, 1_000_000)
	if err := engine.Borrow(borrower, token, big.NewInt(13_475_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	oracle.SetPrice(luna, big.NewRat(20, 1))

	payload, err := json.Marshal(map[string]any{
		"liquidate": map[string]any{
			"collateral_asset": luna,
			"borrower":         borrower.String(),
			"receive_ma_token": false,
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	outcome, err := engine.ReceiveToken(contract, TokenReceiveMsg{
		Sender: liquidator.String(),
		Amount: big.NewInt(5_390_000),
		Msg:    payload,
	})
	if err != nil {
		t.Fatalf("receive liquidate: %v", err)
	}
	if outcome.Liquidation == nil {
		t.Fatalf("expected liquidation outcome")
	}
	if outcome.Liquidation.DebtAmountRepaid.Cmp(big.NewInt(5_390_000)) != 0 {
		t.Fatalf("unexpected repaid amount: %s", outcome.Liquidation.DebtAmountRepaid)
	}
	if outcome.Liquidation.CollateralAmountLiquidated.Cmp(big.NewInt(296_450)) != 0 {
		t.Fatalf("unexpected seized collateral: %s", outcome.Liquidation.CollateralAmountLiquidated)
	}
}

func TestReceiveTokenRejectsUnknownPayload(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	contract := makeAddress(0x40)
	initMarket(t, engine, TokenAsset(contract), testParams())
	sender := makeAddress(0x10)

	_, err := engine.ReceiveToken(contract, TokenReceiveMsg{
		Sender: sender.String(),
		Amount: big.NewInt(1),
		Msg:    json.RawMessage(`{"stake":{}}`),
	})
	if !errors.Is(err, ErrUnknownReceivePayload) {
		t.Fatalf("expected unknown payload error, got %v", err)
	}

	_, err = engine.ReceiveToken(contract, TokenReceiveMsg{
		Sender: sender.String(),
		Amount: big.NewInt(0),
		Msg:    json.RawMessage(`{"deposit":{}}`),
	})
	if err != ErrInvalidAmount {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}
