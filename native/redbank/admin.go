package redbank

import (
	"fmt"
	"math/big"

	"github.com/0xarbor/mars-core/crypto"
)

// InitAsset creates the market for an asset, minting the deterministic
// ma-token handle. Fails when the asset is already initialised.
func (e *Engine) InitAsset(caller crypto.Address, asset Asset, params InitAssetParams) (*Market, error) {
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if !asset.Valid() {
		return nil, ErrInvalidAsset
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, ErrNilState
	}
	existing, err := e.state.GetMarket(asset)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetAlreadyInitialized, asset)
	}
	maToken := crypto.DeriveAddress(crypto.MarsPrefix, "ma/"+asset.Key())
	market := newMarket(asset, maToken, params, e.now)
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	return market.Clone(), nil
}

// UpdateAsset replaces a market's risk parameters after accruing interest at
// the old configuration.
func (e *Engine) UpdateAsset(caller crypto.Address, asset Asset, params InitAssetParams) (*Market, error) {
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	op, err := e.newOp()
	if err != nil {
		return nil, err
	}
	market, err := op.market(asset)
	if err != nil {
		return nil, err
	}
	e.accrue(market)
	market.MaxLoanToValueBps = params.MaxLoanToValueBps
	market.MaintenanceMarginBps = params.MaintenanceMarginBps
	market.LiquidationBonusBps = params.LiquidationBonusBps
	market.ReserveFactorBps = params.ReserveFactorBps
	market.Strategy = params.Strategy.Clone()
	if err := op.commit(); err != nil {
		return nil, err
	}
	return market.Clone(), nil
}

// UpdateUncollateralizedLoanLimit grants or revokes a user's allowance to
// borrow an asset without collateral. Any positive limit also exempts the
// user from liquidation.
func (e *Engine) UpdateUncollateralizedLoanLimit(caller, user crypto.Address, asset Asset, limit *big.Int) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.state == nil {
		return ErrNilState
	}
	market, err := e.state.GetMarket(asset)
	if err != nil {
		return err
	}
	if market == nil {
		return fmt.Errorf("%w: %s", ErrAssetNotInitialized, asset)
	}
	if limit == nil || limit.Sign() < 0 {
		limit = big.NewInt(0)
	}
	return e.state.PutUncollateralizedLimit(user, asset, new(big.Int).Set(limit))
}

// ToggleCollateral switches whether a deposit counts toward borrowing power.
// Disabling requires the remaining position to stay healthy.
func (e *Engine) ToggleCollateral(user crypto.Address, asset Asset, enabled bool) error {
	op, err := e.newOp()
	if err != nil {
		return err
	}
	market, err := op.market(asset)
	if err != nil {
		return err
	}
	e.accrue(market)
	if err := op.accrueUserMarkets(user); err != nil {
		return err
	}
	position, err := op.position(user, asset)
	if err != nil {
		return err
	}
	if position.CollateralScaled.Sign() == 0 {
		return ErrInsufficientCollateral
	}
	position.IsCollateral = enabled
	if !enabled {
		health, err := e.evaluate(op, user)
		if err != nil {
			return err
		}
		if health.Status == HealthBorrowing && health.HealthFactor.Cmp(big.NewRat(1, 1)) < 0 {
			return ErrHealthFactorTooLow
		}
	}
	return op.commit()
}

// ProtocolIncomeDistribution reports how withdrawn reserve income was split.
type ProtocolIncomeDistribution struct {
	Asset         Asset
	InsuranceFund *big.Int
	Treasury      *big.Int
}

// WithdrawProtocolIncome distributes the accrued reserve share for a market
// between the insurance fund and the treasury. Income is only distributable
// up to the liquidity actually sitting in the pool.
func (e *Engine) WithdrawProtocolIncome(caller crypto.Address, asset Asset) (*ProtocolIncomeDistribution, error) {
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if e.bank == nil {
		return nil, ErrNilBank
	}
	op, err := e.newOp()
	if err != nil {
		return nil, err
	}
	market, err := op.market(asset)
	if err != nil {
		return nil, err
	}
	e.accrue(market)

	if market.ProtocolIncome.Sign() == 0 {
		return nil, ErrNoProtocolIncome
	}
	amount := bigMin(market.ProtocolIncome, market.AvailableLiquidity)
	if amount.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}

	insurance := mulBpsFloor(amount, e.cfg.InsuranceFundFeeShareBps)
	treasury := new(big.Int).Sub(amount, insurance)

	market.ProtocolIncome = new(big.Int).Sub(market.ProtocolIncome, amount)
	market.AvailableLiquidity = new(big.Int).Sub(market.AvailableLiquidity, amount)

	if insurance.Sign() > 0 {
		if _, err := e.bank.Send(e.moduleAddress, e.cfg.InsuranceFund, asset, insurance); err != nil {
			return nil, err
		}
	}
	if treasury.Sign() > 0 {
		if _, err := e.bank.Send(e.moduleAddress, e.cfg.Treasury, asset, treasury); err != nil {
			return nil, err
		}
	}
	if err := op.commit(); err != nil {
		return nil, err
	}
	return &ProtocolIncomeDistribution{Asset: asset, InsuranceFund: insurance, Treasury: treasury}, nil
}

// Market returns a snapshot of the stored market, including the ma-token
// handle.
func (e *Engine) Market(asset Asset) (*Market, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	market, err := e.state.GetMarket(asset)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotInitialized, asset)
	}
	market.ensureDefaults()
	return market.Clone(), nil
}

// Markets returns snapshots of every stored market.
func (e *Engine) Markets() ([]*Market, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	markets, err := e.state.ListMarkets()
	if err != nil {
		return nil, err
	}
	out := make([]*Market, 0, len(markets))
	for _, market := range markets {
		market.ensureDefaults()
		out = append(out, market.Clone())
	}
	return out, nil
}

// UncollateralizedLoanLimit returns the granted limit, zero when none is set.
func (e *Engine) UncollateralizedLoanLimit(user crypto.Address, asset Asset) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	limit, err := e.state.GetUncollateralizedLimit(user, asset)
	if err != nil {
		return nil, err
	}
	if limit == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(limit), nil
}

func (e *Engine) requireOwner(caller crypto.Address) error {
	if !caller.Equal(e.cfg.Owner) {
		return ErrUnauthorized
	}
	return nil
}
