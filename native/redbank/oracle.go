package redbank

import (
	"fmt"
	"math/big"
	"sync"
)

// PriceOracle supplies the reference-currency price per asset. The red bank
// consumes prices as-is; freshness policy belongs to the oracle operator.
type PriceOracle interface {
	Price(asset Asset) (*big.Rat, error)
}

// StaticOracle is an in-process price table. It backs tests and single-node
// deployments where prices are pushed by an external feeder.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Rat
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]*big.Rat)}
}

// SetPrice pins the reference price for an asset.
func (o *StaticOracle) SetPrice(asset Asset, price *big.Rat) {
	if !asset.Valid() || price == nil || price.Sign() <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset.Key()] = new(big.Rat).Set(price)
}

func (o *StaticOracle) Price(asset Asset) (*big.Rat, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ErrNilOracle, asset)
	}
	return new(big.Rat).Set(price), nil
}
