package redbank

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/0xarbor/mars-core/crypto"
)

// TokenReceiveMsg is the transfer notification a token contract delivers when
// funds arrive with attached instructions. The embedded message is decoded and
// dispatched through the same handlers as direct calls, as a fresh atomic
// operation nested inside the transfer.
type TokenReceiveMsg struct {
	Sender string          `json:"sender"`
	Amount *big.Int        `json:"amount"`
	Msg    json.RawMessage `json:"msg"`
}

type receiveEnvelope struct {
	Deposit   *receiveDeposit   `json:"deposit,omitempty"`
	Repay     *receiveRepay     `json:"repay,omitempty"`
	Liquidate *receiveLiquidate `json:"liquidate,omitempty"`
}

type receiveDeposit struct{}

type receiveRepay struct{}

type receiveLiquidate struct {
	CollateralAsset Asset  `json:"collateral_asset"`
	Borrower        string `json:"borrower"`
	ReceiveMaToken  bool   `json:"receive_ma_token"`
}

// TokenReceiveOutcome reports what the dispatched inner operation produced.
type TokenReceiveOutcome struct {
	MintedShares *big.Int
	Repaid       *big.Int
	Refund       *big.Int
	Liquidation  *LiquidationResult
}

// ErrUnknownReceivePayload rejects transfer notifications whose payload names
// no supported operation.
var ErrUnknownReceivePayload = errors.New("redbank: unknown receive payload")

// ReceiveToken handles a token-standard transfer notification. The funds are
// already held by the module when this runs; the payload decides whether they
// become a deposit, a repayment or a liquidation offer denominated in the
// sending token.
func (e *Engine) ReceiveToken(contract crypto.Address, msg TokenReceiveMsg) (*TokenReceiveOutcome, error) {
	if contract.IsZero() {
		return nil, ErrInvalidAsset
	}
	if msg.Amount == nil || msg.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	sender, err := crypto.DecodeAddress(msg.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	var envelope receiveEnvelope
	if err := json.Unmarshal(msg.Msg, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownReceivePayload, err)
	}
	asset := TokenAsset(contract)

	switch {
	case envelope.Deposit != nil:
		minted, err := e.Deposit(sender, asset, msg.Amount)
		if err != nil {
			return nil, err
		}
		return &TokenReceiveOutcome{MintedShares: minted}, nil
	case envelope.Repay != nil:
		repaid, refund, err := e.Repay(sender, asset, msg.Amount)
		if err != nil {
			return nil, err
		}
		return &TokenReceiveOutcome{Repaid: repaid, Refund: refund}, nil
	case envelope.Liquidate != nil:
		borrower, err := crypto.DecodeAddress(envelope.Liquidate.Borrower)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		result, err := e.Liquidate(LiquidationRequest{
			Liquidator:      sender,
			Borrower:        borrower,
			CollateralAsset: envelope.Liquidate.CollateralAsset,
			DebtAsset:       asset,
			AmountSent:      msg.Amount,
			ReceiveMaToken:  envelope.Liquidate.ReceiveMaToken,
		})
		if err != nil {
			return nil, err
		}
		return &TokenReceiveOutcome{Liquidation: result}, nil
	default:
		return nil, ErrUnknownReceivePayload
	}
}
