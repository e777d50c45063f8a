package redbank

import (
	"fmt"
	"math/big"

	"github.com/0xarbor/mars-core/crypto"
)

// Market captures the global accounting state for a single asset pool. Amounts
// are integer base units; indexes are ray-scaled and start at one ray.
type Market struct {
	// Asset identifies the market's underlying.
	Asset Asset
	// MaToken is the handle of the share token minted against deposits.
	MaToken crypto.Address
	// MaxLoanToValueBps caps borrowing power per unit of collateral value.
	MaxLoanToValueBps uint64
	// MaintenanceMarginBps is the liquidation threshold weight; must exceed
	// the max loan-to-value.
	MaintenanceMarginBps uint64
	// LiquidationBonusBps is the extra collateral fraction awarded to
	// liquidators.
	LiquidationBonusBps uint64
	// ReserveFactorBps is the share of accrued interest retained as protocol
	// reserve.
	ReserveFactorBps uint64
	// Strategy maps utilisation to borrow and liquidity rates.
	Strategy RateStrategy
	// BorrowIndex is the cumulative interest index applied to scaled debt.
	BorrowIndex *big.Int
	// LiquidityIndex is the cumulative interest index applied to ma-token
	// balances.
	LiquidityIndex *big.Int
	// BorrowRate and LiquidityRate are the rates in force since the last
	// accrual, kept for queries.
	BorrowRate    *big.Rat
	LiquidityRate *big.Rat
	// TotalDebtScaled is the market-wide debt in borrow-index scaled units.
	TotalDebtScaled *big.Int
	// TotalCollateralScaled is the market-wide ma-token supply.
	TotalCollateralScaled *big.Int
	// AvailableLiquidity is the underlying held by the pool and not lent out.
	AvailableLiquidity *big.Int
	// ProtocolIncome is the reserve-factor share of interest pending
	// distribution.
	ProtocolIncome *big.Int
	// LastAccrualTime is the unix timestamp of the last index update.
	LastAccrualTime uint64
}

// InitAssetParams carries the per-market risk configuration supplied when a
// market is created or updated.
type InitAssetParams struct {
	MaxLoanToValueBps    uint64
	MaintenanceMarginBps uint64
	LiquidationBonusBps  uint64
	ReserveFactorBps     uint64
	Strategy             RateStrategy
}

// Validate rejects malformed market parameters.
func (p InitAssetParams) Validate() error {
	if p.MaxLoanToValueBps == 0 || p.MaxLoanToValueBps >= 10_000 {
		return fmt.Errorf("%w: max loan-to-value must be within (0, 1)", ErrInvalidParameter)
	}
	if p.MaintenanceMarginBps > 10_000 {
		return fmt.Errorf("%w: maintenance margin must not exceed 1", ErrInvalidParameter)
	}
	if p.MaintenanceMarginBps <= p.MaxLoanToValueBps {
		return fmt.Errorf("%w: maintenance margin must exceed max loan-to-value", ErrInvalidParameter)
	}
	if p.ReserveFactorBps > 10_000 {
		return fmt.Errorf("%w: reserve factor must not exceed 1", ErrInvalidParameter)
	}
	return p.Strategy.Validate()
}

// newMarket initialises a market with indexes at one ray.
func newMarket(asset Asset, maToken crypto.Address, params InitAssetParams, now uint64) *Market {
	return &Market{
		Asset:                 asset,
		MaToken:               maToken,
		MaxLoanToValueBps:     params.MaxLoanToValueBps,
		MaintenanceMarginBps:  params.MaintenanceMarginBps,
		LiquidationBonusBps:   params.LiquidationBonusBps,
		ReserveFactorBps:      params.ReserveFactorBps,
		Strategy:              params.Strategy.Clone(),
		BorrowIndex:           new(big.Int).Set(ray),
		LiquidityIndex:        new(big.Int).Set(ray),
		BorrowRate:            new(big.Rat),
		LiquidityRate:         new(big.Rat),
		TotalDebtScaled:       big.NewInt(0),
		TotalCollateralScaled: big.NewInt(0),
		AvailableLiquidity:    big.NewInt(0),
		ProtocolIncome:        big.NewInt(0),
		LastAccrualTime:       now,
	}
}

// ensureDefaults backfills nil numeric fields after decoding from storage.
func (m *Market) ensureDefaults() {
	if m.BorrowIndex == nil || m.BorrowIndex.Sign() == 0 {
		m.BorrowIndex = new(big.Int).Set(ray)
	}
	if m.LiquidityIndex == nil || m.LiquidityIndex.Sign() == 0 {
		m.LiquidityIndex = new(big.Int).Set(ray)
	}
	if m.BorrowRate == nil {
		m.BorrowRate = new(big.Rat)
	}
	if m.LiquidityRate == nil {
		m.LiquidityRate = new(big.Rat)
	}
	m.TotalDebtScaled = bigOrZero(m.TotalDebtScaled)
	m.TotalCollateralScaled = bigOrZero(m.TotalCollateralScaled)
	m.AvailableLiquidity = bigOrZero(m.AvailableLiquidity)
	m.ProtocolIncome = bigOrZero(m.ProtocolIncome)
}

// TotalDebt converts the scaled total into current underlying owed.
func (m *Market) TotalDebt() *big.Int {
	return debtFromScaled(m.TotalDebtScaled, m.BorrowIndex)
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Strategy = m.Strategy.Clone()
	clone.BorrowIndex = new(big.Int).Set(bigOrZero(m.BorrowIndex))
	clone.LiquidityIndex = new(big.Int).Set(bigOrZero(m.LiquidityIndex))
	clone.BorrowRate = cloneRat(m.BorrowRate)
	clone.LiquidityRate = cloneRat(m.LiquidityRate)
	clone.TotalDebtScaled = new(big.Int).Set(bigOrZero(m.TotalDebtScaled))
	clone.TotalCollateralScaled = new(big.Int).Set(bigOrZero(m.TotalCollateralScaled))
	clone.AvailableLiquidity = new(big.Int).Set(bigOrZero(m.AvailableLiquidity))
	clone.ProtocolIncome = new(big.Int).Set(bigOrZero(m.ProtocolIncome))
	return &clone
}

// UserPosition maintains one user's balances in one market. A record exists
// only while either balance is nonzero.
type UserPosition struct {
	// User is the position owner.
	User crypto.Address
	// Asset identifies the market.
	Asset Asset
	// CollateralScaled is the user's ma-token balance.
	CollateralScaled *big.Int
	// DebtScaled is the user's debt in borrow-index scaled units.
	DebtScaled *big.Int
	// IsCollateral marks whether the deposit counts toward borrowing power.
	IsCollateral bool
}

func (p *UserPosition) ensureDefaults() {
	p.CollateralScaled = bigOrZero(p.CollateralScaled)
	p.DebtScaled = bigOrZero(p.DebtScaled)
}

// empty reports whether both balances reached zero and the record can be
// removed.
func (p *UserPosition) empty() bool {
	return p.CollateralScaled.Sign() == 0 && p.DebtScaled.Sign() == 0
}

// Clone returns a deep copy of the position.
func (p *UserPosition) Clone() *UserPosition {
	if p == nil {
		return nil
	}
	clone := *p
	clone.CollateralScaled = new(big.Int).Set(bigOrZero(p.CollateralScaled))
	clone.DebtScaled = new(big.Int).Set(bigOrZero(p.DebtScaled))
	return &clone
}

// Config groups the protocol-wide parameters passed into the engine at
// construction.
type Config struct {
	// Owner is the admin allowed to initialise markets, grant
	// uncollateralized limits and withdraw protocol income.
	Owner crypto.Address
	// CloseFactorBps caps the fraction of one debt position repayable in a
	// single liquidation call.
	CloseFactorBps uint64
	// InsuranceFundFeeShareBps and TreasuryFeeShareBps split distributed
	// protocol income; their sum must not exceed one.
	InsuranceFundFeeShareBps uint64
	TreasuryFeeShareBps      uint64
	// InsuranceFund and Treasury receive the distributed income.
	InsuranceFund crypto.Address
	Treasury      crypto.Address
}

// Validate rejects malformed protocol configuration.
func (c Config) Validate() error {
	if c.Owner.IsZero() {
		return fmt.Errorf("%w: owner address required", ErrInvalidParameter)
	}
	if c.CloseFactorBps == 0 || c.CloseFactorBps > 10_000 {
		return fmt.Errorf("%w: close factor must be within (0, 1]", ErrInvalidParameter)
	}
	if c.InsuranceFundFeeShareBps+c.TreasuryFeeShareBps > 10_000 {
		return fmt.Errorf("%w: combined fee shares exceed 1", ErrInvalidParameter)
	}
	return nil
}
