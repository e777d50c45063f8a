package redbank

import (
	"math/big"

	"github.com/0xarbor/mars-core/crypto"
)

// State is the persistence surface the engine mutates. Implementations return
// (nil, nil) for absent records. Every top-level operation loads through an
// in-memory overlay and persists only on success, so partially applied calls
// are never visible.
type State interface {
	GetMarket(asset Asset) (*Market, error)
	PutMarket(market *Market) error
	ListMarkets() ([]*Market, error)

	GetPosition(user crypto.Address, asset Asset) (*UserPosition, error)
	PutPosition(position *UserPosition) error
	DeletePosition(user crypto.Address, asset Asset) error
	// ListPositions returns every position held by the user, in any order.
	ListPositions(user crypto.Address) ([]*UserPosition, error)

	GetUncollateralizedLimit(user crypto.Address, asset Asset) (*big.Int, error)
	PutUncollateralizedLimit(user crypto.Address, asset Asset, limit *big.Int) error
	// HasUncollateralizedLimit reports whether the user holds a positive
	// limit on any asset; such users are exempt from liquidation.
	HasUncollateralizedLimit(user crypto.Address) (bool, error)
}

// BankKeeper is the external token-transfer collaborator. Send moves value out
// of the red bank and returns the amount actually delivered: native transfers
// may be taxed at the transport layer, so the net can be below the request.
type BankKeeper interface {
	Send(from, to crypto.Address, asset Asset, amount *big.Int) (*big.Int, error)
}

// PauseView exposes per-operation pause switches controlled by the operator.
type PauseView interface {
	IsPaused(operation string) bool
}

func guard(p PauseView, operation string) error {
	if p == nil || operation == "" {
		return nil
	}
	if p.IsPaused(operation) {
		return ErrModulePaused
	}
	return nil
}
