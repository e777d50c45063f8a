package redbank

import (
	"fmt"
	"math/big"

	"github.com/0xarbor/mars-core/crypto"
)

// Operation names used with the pause guard.
const (
	OpDeposit   = "deposit"
	OpWithdraw  = "withdraw"
	OpBorrow    = "borrow"
	OpRepay     = "repay"
	OpLiquidate = "liquidate"
)

// Engine orchestrates the red bank's state transitions. It owns no funds
// itself: underlying moves through the BankKeeper against the module address,
// while the ledger records scaled balances.
type Engine struct {
	state         State
	oracle        PriceOracle
	bank          BankKeeper
	cfg           Config
	moduleAddress crypto.Address
	pauses        PauseView
	now           uint64
}

// NewEngine constructs an engine with the protocol configuration and the
// module treasury address holding pooled funds.
func NewEngine(cfg Config, moduleAddr crypto.Address) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if moduleAddr.IsZero() {
		return nil, fmt.Errorf("%w: module address required", ErrInvalidParameter)
	}
	return &Engine{cfg: cfg, moduleAddress: moduleAddr}, nil
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetOracle wires the price feed consumed during position evaluation.
func (e *Engine) SetOracle(oracle PriceOracle) { e.oracle = oracle }

// SetBank wires the token-transfer collaborator.
func (e *Engine) SetBank(bank BankKeeper) { e.bank = bank }

// SetPauses installs the operator pause switches.
func (e *Engine) SetPauses(p PauseView) { e.pauses = p }

// SetBlockTime records the unix timestamp used for interest accrual deltas.
func (e *Engine) SetBlockTime(now uint64) { e.now = now }

// BlockTime returns the timestamp accruals are currently pinned to.
func (e *Engine) BlockTime() uint64 { return e.now }

// Config returns the protocol configuration.
func (e *Engine) Config() Config { return e.cfg }

// ModuleAddress returns the pool treasury address.
func (e *Engine) ModuleAddress() crypto.Address { return e.moduleAddress }

// opState is the copy-on-write overlay one top-level operation works against.
// Loads go through the overlay, mutations touch only cached records, and
// commit persists everything at once. Abandoning the overlay on error is the
// all-or-nothing rollback.
type opState struct {
	engine    *Engine
	markets   map[string]*Market
	positions map[string]*UserPosition
}

func (e *Engine) newOp() (*opState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return &opState{
		engine:    e,
		markets:   make(map[string]*Market),
		positions: make(map[string]*UserPosition),
	}, nil
}

func positionKey(user crypto.Address, asset Asset) string {
	return user.String() + "/" + asset.Key()
}

// market loads a market into the overlay, failing when absent.
func (op *opState) market(asset Asset) (*Market, error) {
	if !asset.Valid() {
		return nil, ErrInvalidAsset
	}
	if cached, ok := op.markets[asset.Key()]; ok {
		return cached, nil
	}
	market, err := op.engine.state.GetMarket(asset)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotInitialized, asset)
	}
	market.ensureDefaults()
	op.markets[asset.Key()] = market
	return market, nil
}

// position loads or creates a user's position record for an asset.
func (op *opState) position(user crypto.Address, asset Asset) (*UserPosition, error) {
	key := positionKey(user, asset)
	if cached, ok := op.positions[key]; ok {
		return cached, nil
	}
	position, err := op.engine.state.GetPosition(user, asset)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &UserPosition{User: user, Asset: asset, IsCollateral: true}
	}
	position.ensureDefaults()
	op.positions[key] = position
	return position, nil
}

// userPositions lists a user's positions through the overlay so freshly
// mutated records shadow their stored counterparts.
func (op *opState) userPositions(user crypto.Address) ([]*UserPosition, error) {
	stored, err := op.engine.state.ListPositions(user)
	if err != nil {
		return nil, err
	}
	out := make([]*UserPosition, 0, len(stored))
	seen := make(map[string]bool, len(stored))
	for _, position := range stored {
		position.ensureDefaults()
		key := positionKey(user, position.Asset)
		if cached, ok := op.positions[key]; ok {
			position = cached
		} else {
			op.positions[key] = position
		}
		seen[key] = true
		out = append(out, position)
	}
	for key, position := range op.positions {
		if !seen[key] && position.User.Equal(user) {
			out = append(out, position)
		}
	}
	return out, nil
}

// accrueUserMarkets brings every market the user participates in up to date
// before a cross-asset health evaluation.
func (op *opState) accrueUserMarkets(user crypto.Address) error {
	positions, err := op.userPositions(user)
	if err != nil {
		return err
	}
	for _, position := range positions {
		market, err := op.market(position.Asset)
		if err != nil {
			return err
		}
		op.engine.accrue(market)
	}
	return nil
}

// commit persists the overlay. Records whose balances reached zero are
// removed rather than stored.
func (op *opState) commit() error {
	for _, market := range op.markets {
		if err := op.engine.state.PutMarket(market); err != nil {
			return err
		}
	}
	for _, position := range op.positions {
		if position.empty() {
			if err := op.engine.state.DeletePosition(position.User, position.Asset); err != nil {
				return err
			}
			continue
		}
		if err := op.engine.state.PutPosition(position); err != nil {
			return err
		}
	}
	return nil
}

// accrue applies simple per-second compounding to the market's indexes. It
// must run before any balance read or mutation within the same operation.
func (e *Engine) accrue(market *Market) {
	if market == nil {
		return
	}
	market.ensureDefaults()
	if e.now <= market.LastAccrualTime {
		return
	}
	elapsed := e.now - market.LastAccrualTime
	market.LastAccrualTime = e.now

	totalDebt := market.TotalDebt()
	u := utilisation(totalDebt, market.AvailableLiquidity)
	borrowRate := market.Strategy.BorrowRate(u)
	liquidityRate := market.Strategy.LiquidityRate(u, market.ReserveFactorBps)
	market.BorrowRate = borrowRate
	market.LiquidityRate = liquidityRate

	if totalDebt.Sign() == 0 {
		return
	}

	market.BorrowIndex = rayMul(market.BorrowIndex, rateFactor(borrowRate, elapsed))
	market.LiquidityIndex = rayMul(market.LiquidityIndex, rateFactor(liquidityRate, elapsed))

	interest := linearInterest(totalDebt, borrowRate, elapsed)
	if interest.Sign() > 0 {
		reserve := mulBpsFloor(interest, market.ReserveFactorBps)
		market.ProtocolIncome = new(big.Int).Add(market.ProtocolIncome, reserve)
	}
}

// Deposit credits the user with ma-tokens for underlying that has already
// been delivered to the module address. Deposits need no health check; they
// only improve the position. The minted share amount is returned.
func (e *Engine) Deposit(user crypto.Address, asset Asset, amount *big.Int) (*big.Int, error) {
	if err := guard(e.pauses, OpDeposit); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
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

	minted := maTokensFromUnderlying(amount, market.LiquidityIndex)
	if minted.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	position, err := op.position(user, asset)
	if err != nil {
		return nil, err
	}
	position.CollateralScaled = new(big.Int).Add(position.CollateralScaled, minted)
	market.TotalCollateralScaled = new(big.Int).Add(market.TotalCollateralScaled, minted)
	market.AvailableLiquidity = new(big.Int).Add(market.AvailableLiquidity, amount)

	if err := op.commit(); err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw burns ma-tokens and releases underlying back to the user. When the
// user has outstanding debt the remaining position must stay healthy. A nil
// amount withdraws the full balance. The redeemed underlying is returned.
func (e *Engine) Withdraw(user crypto.Address, asset Asset, amount *big.Int) (*big.Int, error) {
	if err := guard(e.pauses, OpWithdraw); err != nil {
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
	if err := op.accrueUserMarkets(user); err != nil {
		return nil, err
	}

	position, err := op.position(user, asset)
	if err != nil {
		return nil, err
	}
	maxUnderlying := underlyingFromMaTokens(position.CollateralScaled, market.LiquidityIndex)
	if amount == nil {
		amount = maxUnderlying
	}
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(maxUnderlying) > 0 {
		return nil, ErrInsufficientCollateral
	}
	if market.AvailableLiquidity.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	burned := maTokensFromUnderlyingCeil(amount, market.LiquidityIndex)
	if amount.Cmp(maxUnderlying) == 0 || burned.Cmp(position.CollateralScaled) > 0 {
		burned = new(big.Int).Set(position.CollateralScaled)
	}
	position.CollateralScaled = new(big.Int).Sub(position.CollateralScaled, burned)
	market.TotalCollateralScaled = new(big.Int).Sub(market.TotalCollateralScaled, burned)
	market.AvailableLiquidity = new(big.Int).Sub(market.AvailableLiquidity, amount)

	if position.DebtScaled.Sign() > 0 || hasAnyDebt(op, user) {
		health, err := e.evaluate(op, user)
		if err != nil {
			return nil, err
		}
		if health.Status == HealthBorrowing && health.HealthFactor.Cmp(big.NewRat(1, 1)) < 0 {
			return nil, ErrHealthFactorTooLow
		}
	}

	if _, err := e.bank.Send(e.moduleAddress, user, asset, amount); err != nil {
		return nil, err
	}
	if err := op.commit(); err != nil {
		return nil, err
	}
	return amount, nil
}

// Borrow lends underlying out of the pool against the caller's collateral, or
// against an uncollateralized loan limit when one is granted for the asset.
// The requested mutation is applied first and the post-mutation position must
// stay within the loan-to-value borrow limit, otherwise the whole call fails
// with ErrBorrowLimitExceeded.
func (e *Engine) Borrow(user crypto.Address, asset Asset, amount *big.Int) error {
	if err := guard(e.pauses, OpBorrow); err != nil {
		return err
	}
	if e.bank == nil {
		return ErrNilBank
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
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

	if market.AvailableLiquidity.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	position, err := op.position(user, asset)
	if err != nil {
		return err
	}
	scaled := scaledDebtFromAmount(amount, market.BorrowIndex)
	position.DebtScaled = new(big.Int).Add(position.DebtScaled, scaled)
	market.TotalDebtScaled = new(big.Int).Add(market.TotalDebtScaled, scaled)
	market.AvailableLiquidity = new(big.Int).Sub(market.AvailableLiquidity, amount)

	limit, err := e.state.GetUncollateralizedLimit(user, asset)
	if err != nil {
		return err
	}
	if limit != nil && limit.Sign() > 0 {
		newDebt := debtFromScaled(position.DebtScaled, market.BorrowIndex)
		if newDebt.Cmp(limit) > 0 {
			return ErrBorrowLimitExceeded
		}
	} else {
		health, err := e.evaluate(op, user)
		if err != nil {
			return err
		}
		if !health.WithinBorrowLimit() {
			return ErrBorrowLimitExceeded
		}
	}

	if _, err := e.bank.Send(e.moduleAddress, user, asset, amount); err != nil {
		return err
	}
	return op.commit()
}

// Repay applies attached funds against the caller's debt. Over-payment is
// refunded, never retained. The repaid principal and refund are returned.
func (e *Engine) Repay(user crypto.Address, asset Asset, amountSent *big.Int) (*big.Int, *big.Int, error) {
	if err := guard(e.pauses, OpRepay); err != nil {
		return nil, nil, err
	}
	if amountSent == nil || amountSent.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	op, err := e.newOp()
	if err != nil {
		return nil, nil, err
	}
	market, err := op.market(asset)
	if err != nil {
		return nil, nil, err
	}
	e.accrue(market)

	position, err := op.position(user, asset)
	if err != nil {
		return nil, nil, err
	}
	debt := debtFromScaled(position.DebtScaled, market.BorrowIndex)
	if debt.Sign() == 0 {
		return nil, nil, ErrNoDebt
	}

	repaid := bigMin(amountSent, debt)
	refund := new(big.Int).Sub(amountSent, repaid)

	var scaledRepaid *big.Int
	if repaid.Cmp(debt) == 0 {
		scaledRepaid = new(big.Int).Set(position.DebtScaled)
	} else {
		scaledRepaid = scaledDebtFromAmount(repaid, market.BorrowIndex)
		if scaledRepaid.Cmp(position.DebtScaled) > 0 {
			scaledRepaid = new(big.Int).Set(position.DebtScaled)
		}
	}
	position.DebtScaled = new(big.Int).Sub(position.DebtScaled, scaledRepaid)
	market.TotalDebtScaled = new(big.Int).Sub(market.TotalDebtScaled, scaledRepaid)
	if market.TotalDebtScaled.Sign() < 0 {
		market.TotalDebtScaled = big.NewInt(0)
	}
	market.AvailableLiquidity = new(big.Int).Add(market.AvailableLiquidity, repaid)

	if refund.Sign() > 0 {
		if e.bank == nil {
			return nil, nil, ErrNilBank
		}
		if _, err := e.bank.Send(e.moduleAddress, user, asset, refund); err != nil {
			return nil, nil, err
		}
	}
	if err := op.commit(); err != nil {
		return nil, nil, err
	}
	return repaid, refund, nil
}

func hasAnyDebt(op *opState, user crypto.Address) bool {
	positions, err := op.userPositions(user)
	if err != nil {
		return false
	}
	for _, position := range positions {
		if position.DebtScaled.Sign() > 0 {
			return true
		}
	}
	return false
}
