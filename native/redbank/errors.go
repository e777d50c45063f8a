package redbank

import "errors"

var (
	ErrNilState                = errors.New("redbank: state not configured")
	ErrNilOracle               = errors.New("redbank: price oracle not configured")
	ErrNilBank                 = errors.New("redbank: bank keeper not configured")
	ErrInvalidAsset            = errors.New("redbank: invalid asset identifier")
	ErrInvalidAmount           = errors.New("redbank: amount must be positive")
	ErrInvalidParameter        = errors.New("redbank: invalid parameter")
	ErrAssetNotInitialized     = errors.New("redbank: asset not initialized")
	ErrAssetAlreadyInitialized = errors.New("redbank: asset already initialized")
	ErrInsufficientLiquidity   = errors.New("redbank: insufficient liquidity")
	ErrInsufficientCollateral  = errors.New("redbank: insufficient collateral balance")
	ErrBorrowLimitExceeded     = errors.New("redbank: borrow limit exceeded")
	ErrHealthFactorTooLow      = errors.New("redbank: operation would leave health factor below 1")
	ErrNoDebt                  = errors.New("redbank: no outstanding debt")
	ErrUnauthorized            = errors.New("redbank: unauthorized")
	ErrNoProtocolIncome        = errors.New("redbank: no protocol income to distribute")
	ErrModulePaused            = errors.New("redbank: module paused")

	// Liquidation rejection reasons. Each unwraps to ErrNotLiquidatable so
	// callers can branch on the class or on the specific cause.
	ErrNotLiquidatable               = errors.New("redbank: borrower not liquidatable")
	ErrHealthFactorOk                = newNotLiquidatable("health factor is not below 1")
	ErrPositiveUncollateralizedLimit = newNotLiquidatable("borrower holds a positive uncollateralized loan limit")
	ErrNoDebtToLiquidate             = newNotLiquidatable("borrower has no outstanding debt")
)

type notLiquidatableError struct {
	reason string
}

func newNotLiquidatable(reason string) error {
	return &notLiquidatableError{reason: reason}
}

func (e *notLiquidatableError) Error() string {
	return ErrNotLiquidatable.Error() + ": " + e.reason
}

func (e *notLiquidatableError) Unwrap() error { return ErrNotLiquidatable }
