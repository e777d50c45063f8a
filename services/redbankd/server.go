// Package redbankd exposes the red bank's execute and query surface over
// HTTP. Every execute call runs as one exclusive ledger operation pinned to
// the request's block time.
package redbankd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xarbor/mars-core/crypto"
	"github.com/0xarbor/mars-core/native/redbank"
	"github.com/0xarbor/mars-core/observability/metrics"
)

// Server wires the engine and the bank keeper behind the HTTP surface.
type Server struct {
	mu      sync.Mutex
	engine  *redbank.Engine
	bank    redbank.BankKeeper
	log     *slog.Logger
	metrics *metrics.RedBankMetrics
	clock   func() time.Time
}

func NewServer(engine *redbank.Engine, bank redbank.BankKeeper, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		bank:    bank,
		log:     logger,
		metrics: metrics.RedBank(),
		clock:   time.Now,
	}
}

// SetClock overrides the time source; tests pin accrual timestamps with it.
func (s *Server) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Router builds the chi handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/execute", s.handleExecute)
	r.Get("/v1/markets", s.handleListMarkets)
	r.Get("/v1/market/native/{denom}", s.handleNativeMarket)
	r.Get("/v1/market/token/{contract}", s.handleTokenMarket)
	r.Get("/v1/position/{user}", s.handlePosition)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type executeRequest struct {
	Caller string     `json:"caller"`
	Msg    executeMsg `json:"msg"`
}

// executeMsg is a one-of; exactly one field must be set.
type executeMsg struct {
	InitAsset              *initAssetMsg   `json:"init_asset,omitempty"`
	UpdateAsset            *initAssetMsg   `json:"update_asset,omitempty"`
	Deposit                *assetAmountMsg `json:"deposit,omitempty"`
	Withdraw               *withdrawMsg    `json:"withdraw,omitempty"`
	Borrow                 *assetAmountMsg `json:"borrow,omitempty"`
	Repay                  *assetAmountMsg `json:"repay,omitempty"`
	Liquidate              *liquidateMsg   `json:"liquidate,omitempty"`
	ToggleCollateral       *toggleMsg      `json:"toggle_collateral,omitempty"`
	UpdateLoanLimit        *loanLimitMsg   `json:"update_uncollateralized_loan_limit,omitempty"`
	WithdrawProtocolIncome *assetOnlyMsg   `json:"withdraw_protocol_income,omitempty"`
	Receive                *receiveMsg     `json:"receive,omitempty"`
}

type initAssetMsg struct {
	Asset                redbank.Asset `json:"asset"`
	MaxLoanToValueBps    uint64        `json:"max_loan_to_value_bps"`
	MaintenanceMarginBps uint64        `json:"maintenance_margin_bps"`
	LiquidationBonusBps  uint64        `json:"liquidation_bonus_bps"`
	ReserveFactorBps     uint64        `json:"reserve_factor_bps"`
	BaseRate             float64       `json:"base_rate"`
	Slope1               float64       `json:"slope_1"`
	Slope2               float64       `json:"slope_2"`
	OptimalUtilization   float64       `json:"optimal_utilization"`
}

type assetAmountMsg struct {
	Asset  redbank.Asset `json:"asset"`
	Amount *big.Int      `json:"amount"`
}

type withdrawMsg struct {
	Asset  redbank.Asset `json:"asset"`
	Amount *big.Int      `json:"amount,omitempty"`
}

type liquidateMsg struct {
	CollateralAsset redbank.Asset `json:"collateral_asset"`
	DebtAsset       redbank.Asset `json:"debt_asset"`
	Borrower        string        `json:"borrower"`
	Amount          *big.Int      `json:"amount"`
	ReceiveMaToken  bool          `json:"receive_ma_token"`
}

type toggleMsg struct {
	Asset   redbank.Asset `json:"asset"`
	Enabled bool          `json:"enabled"`
}

type loanLimitMsg struct {
	User  string        `json:"user"`
	Asset redbank.Asset `json:"asset"`
	Limit *big.Int      `json:"limit"`
}

type assetOnlyMsg struct {
	Asset redbank.Asset `json:"asset"`
}

type receiveMsg struct {
	Contract string          `json:"contract"`
	Sender   string          `json:"sender"`
	Amount   *big.Int        `json:"amount"`
	Msg      json.RawMessage `json:"msg"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_caller", err.Error())
		return
	}

	// One logical operation at a time against the shared ledger.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.SetBlockTime(uint64(s.clock().Unix()))

	operation, result, err := s.dispatch(caller, req.Msg)
	s.metrics.ObserveOperation(operation, err)
	if err != nil {
		status, code := errorStatus(err)
		s.log.Warn("execute rejected",
			slog.String("operation", operation),
			slog.String("caller", req.Caller),
			slog.String("reason", code),
		)
		writeError(w, status, code, err.Error())
		return
	}
	s.log.Info("execute applied",
		slog.String("operation", operation),
		slog.String("caller", req.Caller),
	)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) dispatch(caller crypto.Address, msg executeMsg) (string, any, error) {
	switch {
	case msg.InitAsset != nil:
		market, err := s.engine.InitAsset(caller, msg.InitAsset.Asset, msg.InitAsset.params())
		if err != nil {
			return "init_asset", nil, err
		}
		return "init_asset", marketResponseFrom(market), nil

	case msg.UpdateAsset != nil:
		market, err := s.engine.UpdateAsset(caller, msg.UpdateAsset.Asset, msg.UpdateAsset.params())
		if err != nil {
			return "update_asset", nil, err
		}
		return "update_asset", marketResponseFrom(market), nil

	case msg.Deposit != nil:
		received, err := s.moveIn(caller, msg.Deposit.Asset, msg.Deposit.Amount)
		if err != nil {
			return "deposit", nil, err
		}
		minted, err := s.engine.Deposit(caller, msg.Deposit.Asset, received)
		if err != nil {
			s.returnAttached(caller, msg.Deposit.Asset, received)
			return "deposit", nil, err
		}
		return "deposit", map[string]any{
			"amount_received": received,
			"minted_shares":   minted,
		}, nil

	case msg.Withdraw != nil:
		redeemed, err := s.engine.Withdraw(caller, msg.Withdraw.Asset, msg.Withdraw.Amount)
		if err != nil {
			return "withdraw", nil, err
		}
		return "withdraw", map[string]any{"redeemed": redeemed}, nil

	case msg.Borrow != nil:
		if err := s.engine.Borrow(caller, msg.Borrow.Asset, msg.Borrow.Amount); err != nil {
			return "borrow", nil, err
		}
		return "borrow", map[string]any{"borrowed": msg.Borrow.Amount}, nil

	case msg.Repay != nil:
		received, err := s.moveIn(caller, msg.Repay.Asset, msg.Repay.Amount)
		if err != nil {
			return "repay", nil, err
		}
		repaid, refund, err := s.engine.Repay(caller, msg.Repay.Asset, received)
		if err != nil {
			s.returnAttached(caller, msg.Repay.Asset, received)
			return "repay", nil, err
		}
		return "repay", map[string]any{
			"repaid": repaid,
			"refund": refund,
		}, nil

	case msg.Liquidate != nil:
		return s.dispatchLiquidate(caller, msg.Liquidate)

	case msg.ToggleCollateral != nil:
		err := s.engine.ToggleCollateral(caller, msg.ToggleCollateral.Asset, msg.ToggleCollateral.Enabled)
		if err != nil {
			return "toggle_collateral", nil, err
		}
		return "toggle_collateral", map[string]any{"enabled": msg.ToggleCollateral.Enabled}, nil

	case msg.UpdateLoanLimit != nil:
		user, err := crypto.DecodeAddress(msg.UpdateLoanLimit.User)
		if err != nil {
			return "update_uncollateralized_loan_limit", nil, redbank.ErrInvalidParameter
		}
		err = s.engine.UpdateUncollateralizedLoanLimit(caller, user, msg.UpdateLoanLimit.Asset, msg.UpdateLoanLimit.Limit)
		if err != nil {
			return "update_uncollateralized_loan_limit", nil, err
		}
		return "update_uncollateralized_loan_limit", map[string]any{"updated": true}, nil

	case msg.WithdrawProtocolIncome != nil:
		dist, err := s.engine.WithdrawProtocolIncome(caller, msg.WithdrawProtocolIncome.Asset)
		if err != nil {
			return "withdraw_protocol_income", nil, err
		}
		return "withdraw_protocol_income", map[string]any{
			"insurance_fund": dist.InsuranceFund,
			"treasury":       dist.Treasury,
		}, nil

	case msg.Receive != nil:
		return s.dispatchReceive(msg.Receive)

	default:
		return "unknown", nil, redbank.ErrInvalidParameter
	}
}

func (s *Server) dispatchLiquidate(caller crypto.Address, msg *liquidateMsg) (string, any, error) {
	borrower, err := crypto.DecodeAddress(msg.Borrower)
	if err != nil {
		return "liquidate", nil, redbank.ErrInvalidParameter
	}
	received, err := s.moveIn(caller, msg.DebtAsset, msg.Amount)
	if err != nil {
		return "liquidate", nil, err
	}
	result, err := s.engine.Liquidate(redbank.LiquidationRequest{
		Liquidator:      caller,
		Borrower:        borrower,
		CollateralAsset: msg.CollateralAsset,
		DebtAsset:       msg.DebtAsset,
		AmountSent:      received,
		ReceiveMaToken:  msg.ReceiveMaToken,
	})
	if err != nil {
		s.returnAttached(caller, msg.DebtAsset, received)
		return "liquidate", nil, err
	}
	repaid, _ := new(big.Float).SetInt(result.DebtAmountRepaid).Float64()
	seized, _ := new(big.Float).SetInt(result.CollateralAmountLiquidated).Float64()
	s.metrics.ObserveLiquidation(msg.DebtAsset.String(), msg.CollateralAsset.String(), repaid, seized)
	return "liquidate", map[string]any{
		"debt_amount_repaid":           result.DebtAmountRepaid,
		"refund_amount":                result.RefundAmount,
		"collateral_amount_liquidated": result.CollateralAmountLiquidated,
		"collateral_delivered":         result.CollateralDelivered,
	}, nil
}

func (s *Server) dispatchReceive(msg *receiveMsg) (string, any, error) {
	contract, err := crypto.DecodeAddress(msg.Contract)
	if err != nil {
		return "receive", nil, redbank.ErrInvalidParameter
	}
	sender, err := crypto.DecodeAddress(msg.Sender)
	if err != nil {
		return "receive", nil, redbank.ErrInvalidParameter
	}
	// Phase one: the token transfer itself. Phase two: the embedded payload
	// dispatched as a fresh operation by the engine.
	received, err := s.moveIn(sender, redbank.TokenAsset(contract), msg.Amount)
	if err != nil {
		return "receive", nil, err
	}
	outcome, err := s.engine.ReceiveToken(contract, redbank.TokenReceiveMsg{
		Sender: msg.Sender,
		Amount: received,
		Msg:    msg.Msg,
	})
	if err != nil {
		s.returnAttached(sender, redbank.TokenAsset(contract), received)
		return "receive", nil, err
	}
	resp := map[string]any{}
	if outcome.MintedShares != nil {
		resp["minted_shares"] = outcome.MintedShares
	}
	if outcome.Repaid != nil {
		resp["repaid"] = outcome.Repaid
		resp["refund"] = outcome.Refund
	}
	if outcome.Liquidation != nil {
		resp["debt_amount_repaid"] = outcome.Liquidation.DebtAmountRepaid
		resp["refund_amount"] = outcome.Liquidation.RefundAmount
		resp["collateral_amount_liquidated"] = outcome.Liquidation.CollateralAmountLiquidated
	}
	return "receive", resp, nil
}

// moveIn transfers attached funds from the caller to the module address and
// returns the amount that actually arrived.
func (s *Server) moveIn(from crypto.Address, asset redbank.Asset, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, redbank.ErrInvalidAmount
	}
	return s.bank.Send(from, s.engine.ModuleAddress(), asset, amount)
}

// returnAttached sends back funds that were moved in ahead of an operation
// the engine rejected. A rejected call must not retain the caller's money.
func (s *Server) returnAttached(to crypto.Address, asset redbank.Asset, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	if _, err := s.bank.Send(s.engine.ModuleAddress(), to, asset, amount); err != nil {
		s.log.Error("returning attached funds failed",
			slog.String("recipient", to.String()),
			slog.String("asset", asset.String()),
			slog.String("amount", amount.String()),
			slog.Any("error", err),
		)
	}
}

func (m *initAssetMsg) params() redbank.InitAssetParams {
	return redbank.InitAssetParams{
		MaxLoanToValueBps:    m.MaxLoanToValueBps,
		MaintenanceMarginBps: m.MaintenanceMarginBps,
		LiquidationBonusBps:  m.LiquidationBonusBps,
		ReserveFactorBps:     m.ReserveFactorBps,
		Strategy:             redbank.NewRateStrategy(m.BaseRate, m.Slope1, m.Slope2, m.OptimalUtilization),
	}
}

func (s *Server) handleListMarkets(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	markets, err := s.engine.Markets()
	s.mu.Unlock()
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	out := make([]*marketResponse, 0, len(markets))
	for _, market := range markets {
		out = append(out, marketResponseFrom(market))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNativeMarket(w http.ResponseWriter, r *http.Request) {
	s.writeMarket(w, redbank.NativeAsset(chi.URLParam(r, "denom")))
}

func (s *Server) handleTokenMarket(w http.ResponseWriter, r *http.Request) {
	contract, err := crypto.DecodeAddress(chi.URLParam(r, "contract"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_contract", err.Error())
		return
	}
	s.writeMarket(w, redbank.TokenAsset(contract))
}

func (s *Server) writeMarket(w http.ResponseWriter, asset redbank.Asset) {
	s.mu.Lock()
	market, err := s.engine.Market(asset)
	s.mu.Unlock()
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, marketResponseFrom(market))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	user, err := crypto.DecodeAddress(chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error())
		return
	}
	s.mu.Lock()
	s.engine.SetBlockTime(uint64(s.clock().Unix()))
	position, err := s.engine.UserPosition(user)
	s.mu.Unlock()
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, positionResponseFrom(position))
}

type marketResponse struct {
	Asset                 redbank.Asset `json:"asset"`
	MaToken               string        `json:"ma_token"`
	MaxLoanToValueBps     uint64        `json:"max_loan_to_value_bps"`
	MaintenanceMarginBps  uint64        `json:"maintenance_margin_bps"`
	LiquidationBonusBps   uint64        `json:"liquidation_bonus_bps"`
	ReserveFactorBps      uint64        `json:"reserve_factor_bps"`
	BorrowIndex           string        `json:"borrow_index"`
	LiquidityIndex        string        `json:"liquidity_index"`
	BorrowRate            string        `json:"borrow_rate"`
	LiquidityRate         string        `json:"liquidity_rate"`
	TotalDebt             *big.Int      `json:"total_debt"`
	TotalCollateralScaled *big.Int      `json:"total_collateral_scaled"`
	AvailableLiquidity    *big.Int      `json:"available_liquidity"`
	ProtocolIncome        *big.Int      `json:"protocol_income"`
	LastAccrualTime       uint64        `json:"last_accrual_time"`
}

func marketResponseFrom(market *redbank.Market) *marketResponse {
	return &marketResponse{
		Asset:                 market.Asset,
		MaToken:               market.MaToken.String(),
		MaxLoanToValueBps:     market.MaxLoanToValueBps,
		MaintenanceMarginBps:  market.MaintenanceMarginBps,
		LiquidationBonusBps:   market.LiquidationBonusBps,
		ReserveFactorBps:      market.ReserveFactorBps,
		BorrowIndex:           market.BorrowIndex.String(),
		LiquidityIndex:        market.LiquidityIndex.String(),
		BorrowRate:            market.BorrowRate.FloatString(8),
		LiquidityRate:         market.LiquidityRate.FloatString(8),
		TotalDebt:             market.TotalDebt(),
		TotalCollateralScaled: market.TotalCollateralScaled,
		AvailableLiquidity:    market.AvailableLiquidity,
		ProtocolIncome:        market.ProtocolIncome,
		LastAccrualTime:       market.LastAccrualTime,
	}
}

type positionResponse struct {
	HealthStatus                 string `json:"health_status"`
	HealthFactor                 string `json:"health_factor,omitempty"`
	TotalCollateralValue         string `json:"total_collateral_value"`
	MaxDebtValue                 string `json:"max_debt_value"`
	LiquidationThresholdValue    string `json:"liquidation_threshold_value"`
	TotalCollateralizedDebtValue string `json:"total_collateralized_debt_value"`
}

func positionResponseFrom(position *redbank.Position) *positionResponse {
	out := &positionResponse{
		HealthStatus:                 position.Status.String(),
		TotalCollateralValue:         position.TotalCollateralValue.FloatString(6),
		MaxDebtValue:                 position.MaxDebtValue.FloatString(6),
		LiquidationThresholdValue:    position.LiquidationThresholdValue.FloatString(6),
		TotalCollateralizedDebtValue: position.TotalDebtValue.FloatString(6),
	}
	if position.Status == redbank.HealthBorrowing {
		out.HealthFactor = position.HealthFactor.FloatString(6)
	}
	return out
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, redbank.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, redbank.ErrAssetNotInitialized):
		return http.StatusNotFound, "asset_not_initialized"
	case errors.Is(err, redbank.ErrAssetAlreadyInitialized):
		return http.StatusConflict, "asset_already_initialized"
	case errors.Is(err, redbank.ErrBorrowLimitExceeded):
		return http.StatusUnprocessableEntity, "borrow_limit_exceeded"
	case errors.Is(err, redbank.ErrHealthFactorOk):
		return http.StatusUnprocessableEntity, "not_liquidatable_health_factor_ok"
	case errors.Is(err, redbank.ErrPositiveUncollateralizedLimit):
		return http.StatusUnprocessableEntity, "not_liquidatable_positive_uncollateralized_limit"
	case errors.Is(err, redbank.ErrNoDebtToLiquidate):
		return http.StatusUnprocessableEntity, "not_liquidatable_no_debt"
	case errors.Is(err, redbank.ErrNotLiquidatable):
		return http.StatusUnprocessableEntity, "not_liquidatable"
	case errors.Is(err, redbank.ErrHealthFactorTooLow):
		return http.StatusUnprocessableEntity, "health_factor_too_low"
	case errors.Is(err, redbank.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity, "insufficient_liquidity"
	case errors.Is(err, redbank.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity, "insufficient_collateral"
	case errors.Is(err, redbank.ErrNoDebt):
		return http.StatusUnprocessableEntity, "no_debt"
	case errors.Is(err, redbank.ErrNoProtocolIncome):
		return http.StatusUnprocessableEntity, "no_protocol_income"
	case errors.Is(err, redbank.ErrModulePaused):
		return http.StatusServiceUnavailable, "module_paused"
	case errors.Is(err, redbank.ErrInvalidAmount),
		errors.Is(err, redbank.ErrInvalidAsset),
		errors.Is(err, redbank.ErrInvalidParameter),
		errors.Is(err, redbank.ErrUnknownReceivePayload):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
