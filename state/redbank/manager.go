// Package redbankstate persists the red bank ledger on a storage.Database.
// Records are JSON-encoded under prefixed keys so per-user listings are a
// single prefix scan.
package redbankstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/0xarbor/mars-core/crypto"
	"github.com/0xarbor/mars-core/native/redbank"
	"github.com/0xarbor/mars-core/storage"
)

const (
	marketPrefix   = "redbank/market/"
	positionPrefix = "redbank/position/"
	limitPrefix    = "redbank/limit/"
)

// Manager implements redbank.State.
type Manager struct {
	db storage.Database
}

var _ redbank.State = (*Manager)(nil)

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func marketKey(asset redbank.Asset) []byte {
	return []byte(marketPrefix + asset.Key())
}

func positionKey(user crypto.Address, asset redbank.Asset) []byte {
	return []byte(positionPrefix + user.String() + "/" + asset.Key())
}

func userPositionPrefix(user crypto.Address) []byte {
	return []byte(positionPrefix + user.String() + "/")
}

func limitKey(user crypto.Address, asset redbank.Asset) []byte {
	return []byte(limitPrefix + user.String() + "/" + asset.Key())
}

func userLimitPrefix(user crypto.Address) []byte {
	return []byte(limitPrefix + user.String() + "/")
}

func (m *Manager) GetMarket(asset redbank.Asset) (*redbank.Market, error) {
	raw, err := m.db.Get(marketKey(asset))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var market redbank.Market
	if err := json.Unmarshal(raw, &market); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", asset, err)
	}
	return &market, nil
}

func (m *Manager) PutMarket(market *redbank.Market) error {
	if market == nil {
		return nil
	}
	raw, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("encode market %s: %w", market.Asset, err)
	}
	return m.db.Put(marketKey(market.Asset), raw)
}

func (m *Manager) ListMarkets() ([]*redbank.Market, error) {
	var out []*redbank.Market
	err := m.db.IteratePrefix([]byte(marketPrefix), func(_, value []byte) error {
		var market redbank.Market
		if err := json.Unmarshal(value, &market); err != nil {
			return err
		}
		out = append(out, &market)
		return nil
	})
	return out, err
}

func (m *Manager) GetPosition(user crypto.Address, asset redbank.Asset) (*redbank.UserPosition, error) {
	raw, err := m.db.Get(positionKey(user, asset))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var position redbank.UserPosition
	if err := json.Unmarshal(raw, &position); err != nil {
		return nil, fmt.Errorf("decode position %s/%s: %w", user, asset, err)
	}
	return &position, nil
}

func (m *Manager) PutPosition(position *redbank.UserPosition) error {
	if position == nil {
		return nil
	}
	raw, err := json.Marshal(position)
	if err != nil {
		return fmt.Errorf("encode position %s/%s: %w", position.User, position.Asset, err)
	}
	return m.db.Put(positionKey(position.User, position.Asset), raw)
}

func (m *Manager) DeletePosition(user crypto.Address, asset redbank.Asset) error {
	return m.db.Delete(positionKey(user, asset))
}

func (m *Manager) ListPositions(user crypto.Address) ([]*redbank.UserPosition, error) {
	var out []*redbank.UserPosition
	err := m.db.IteratePrefix(userPositionPrefix(user), func(_, value []byte) error {
		var position redbank.UserPosition
		if err := json.Unmarshal(value, &position); err != nil {
			return err
		}
		out = append(out, &position)
		return nil
	})
	return out, err
}

func (m *Manager) GetUncollateralizedLimit(user crypto.Address, asset redbank.Asset) (*big.Int, error) {
	raw, err := m.db.Get(limitKey(user, asset))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	limit := new(big.Int)
	if err := limit.UnmarshalText(raw); err != nil {
		return nil, fmt.Errorf("decode limit %s/%s: %w", user, asset, err)
	}
	return limit, nil
}

func (m *Manager) PutUncollateralizedLimit(user crypto.Address, asset redbank.Asset, limit *big.Int) error {
	if limit == nil || limit.Sign() <= 0 {
		return m.db.Delete(limitKey(user, asset))
	}
	raw, err := limit.MarshalText()
	if err != nil {
		return err
	}
	return m.db.Put(limitKey(user, asset), raw)
}

func (m *Manager) HasUncollateralizedLimit(user crypto.Address) (bool, error) {
	found := false
	err := m.db.IteratePrefix(userLimitPrefix(user), func(_, value []byte) error {
		limit := new(big.Int)
		if err := limit.UnmarshalText(value); err != nil {
			return err
		}
		if limit.Sign() > 0 {
			found = true
			return errStopIteration
		}
		return nil
	})
	if errors.Is(err, errStopIteration) {
		err = nil
	}
	return found, err
}

var errStopIteration = errors.New("stop iteration")
