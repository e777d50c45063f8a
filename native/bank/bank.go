// Package bank is the token-transfer collaborator the red bank moves funds
// through. It keeps account balances per asset and applies the network-level
// tax charged on native transfers, so the amount delivered can fall below the
// amount requested.
package bank

import (
	"errors"
	"math/big"
	"sync"

	"github.com/0xarbor/mars-core/crypto"
	"github.com/0xarbor/mars-core/native/redbank"
)

var (
	ErrInvalidAmount     = errors.New("bank: amount must be positive")
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
)

var basisPoints = big.NewInt(10_000)

// Keeper is an in-memory balance ledger. Production deployments replace it
// with the chain's bank module; the red bank only sees redbank.BankKeeper.
type Keeper struct {
	mu         sync.Mutex
	balances   map[string]map[string]*big.Int
	taxRateBps uint64
	taxCaps    map[string]*big.Int
}

var _ redbank.BankKeeper = (*Keeper)(nil)

func NewKeeper() *Keeper {
	return &Keeper{
		balances: make(map[string]map[string]*big.Int),
		taxCaps:  make(map[string]*big.Int),
	}
}

// SetNativeTaxRate configures the tax charged on native transfers.
func (k *Keeper) SetNativeTaxRate(bps uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.taxRateBps = bps
}

// SetNativeTaxCap bounds the absolute tax charged per transfer of a denom.
func (k *Keeper) SetNativeTaxCap(denom string, cap *big.Int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if cap == nil || cap.Sign() < 0 {
		delete(k.taxCaps, denom)
		return
	}
	k.taxCaps[denom] = new(big.Int).Set(cap)
}

// Mint credits an account out of thin air; used for genesis and tests.
func (k *Keeper) Mint(addr crypto.Address, asset redbank.Asset, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.credit(addr, asset, amount)
}

// Balance returns the account's holdings of an asset.
func (k *Keeper) Balance(addr crypto.Address, asset redbank.Asset) *big.Int {
	k.mu.Lock()
	defer k.mu.Unlock()
	account, ok := k.balances[addr.String()]
	if !ok {
		return big.NewInt(0)
	}
	balance, ok := account[asset.Key()]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balance)
}

// Send debits the sender by the full amount and credits the receiver net of
// any native transfer tax. The net delivered amount is returned.
func (k *Keeper) Send(from, to crypto.Address, asset redbank.Asset, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	balance := k.balanceLocked(from, asset)
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientFunds
	}

	net := new(big.Int).Set(amount)
	if asset.Kind() == redbank.AssetNative {
		net.Sub(net, k.taxLocked(asset.Denom(), amount))
	}

	k.debit(from, asset, amount)
	k.credit(to, asset, net)
	return net, nil
}

// taxLocked computes floor(amount * rate), capped per denom. The tax is
// withheld from the transfer, not charged on top.
func (k *Keeper) taxLocked(denom string, amount *big.Int) *big.Int {
	if k.taxRateBps == 0 {
		return big.NewInt(0)
	}
	tax := new(big.Int).Mul(amount, new(big.Int).SetUint64(k.taxRateBps))
	tax.Quo(tax, basisPoints)
	if cap, ok := k.taxCaps[denom]; ok && tax.Cmp(cap) > 0 {
		tax.Set(cap)
	}
	return tax
}

func (k *Keeper) balanceLocked(addr crypto.Address, asset redbank.Asset) *big.Int {
	account, ok := k.balances[addr.String()]
	if !ok {
		return big.NewInt(0)
	}
	balance, ok := account[asset.Key()]
	if !ok {
		return big.NewInt(0)
	}
	return balance
}

func (k *Keeper) credit(addr crypto.Address, asset redbank.Asset, amount *big.Int) {
	account, ok := k.balances[addr.String()]
	if !ok {
		account = make(map[string]*big.Int)
		k.balances[addr.String()] = account
	}
	current, ok := account[asset.Key()]
	if !ok {
		current = big.NewInt(0)
	}
	account[asset.Key()] = new(big.Int).Add(current, amount)
}

func (k *Keeper) debit(addr crypto.Address, asset redbank.Asset, amount *big.Int) {
	account := k.balances[addr.String()]
	account[asset.Key()] = new(big.Int).Sub(account[asset.Key()], amount)
}
