package redbankstate

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xarbor/mars-core/crypto"
	"github.com/0xarbor/mars-core/native/redbank"
	"github.com/0xarbor/mars-core/storage"
)

func addr(suffix byte) crypto.Address {
	b := make([]byte, 20)
	b[19] = suffix
	return crypto.NewAddress(crypto.MarsPrefix, b)
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db)
}

func TestMarketRoundTrip(t *testing.T) {
	manager := newManager(t)
	luna := redbank.NativeAsset("luna")

	absent, err := manager.GetMarket(luna)
	require.NoError(t, err)
	require.Nil(t, absent)

	market := &redbank.Market{
		Asset:                 luna,
		MaToken:               addr(0x50),
		MaxLoanToValueBps:     5_500,
		MaintenanceMarginBps:  6_500,
		LiquidationBonusBps:   1_000,
		ReserveFactorBps:      2_000,
		BorrowIndex:           big.NewInt(1),
		LiquidityIndex:        big.NewInt(1),
		BorrowRate:            big.NewRat(1, 10),
		LiquidityRate:         big.NewRat(4, 100),
		TotalDebtScaled:       big.NewInt(123),
		TotalCollateralScaled: big.NewInt(456),
		AvailableLiquidity:    big.NewInt(789),
		ProtocolIncome:        big.NewInt(5),
		LastAccrualTime:       42,
	}
	require.NoError(t, manager.PutMarket(market))

	loaded, err := manager.GetMarket(luna)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.True(t, loaded.Asset.Equal(luna))
	require.Equal(t, market.MaToken.String(), loaded.MaToken.String())
	require.Zero(t, loaded.TotalDebtScaled.Cmp(big.NewInt(123)))
	require.Zero(t, loaded.BorrowRate.Cmp(big.NewRat(1, 10)))
	require.Equal(t, uint64(42), loaded.LastAccrualTime)

	markets, err := manager.ListMarkets()
	require.NoError(t, err)
	require.Len(t, markets, 1)
}

func TestPositionRoundTripAndListing(t *testing.T) {
	manager := newManager(t)
	user := addr(0x01)
	other := addr(0x02)
	luna := redbank.NativeAsset("luna")
	usd := redbank.NativeAsset("usd")

	require.NoError(t, manager.PutPosition(&redbank.UserPosition{
		User: user, Asset: luna,
		CollateralScaled: big.NewInt(1_000), DebtScaled: big.NewInt(0), IsCollateral: true,
	}))
	require.NoError(t, manager.PutPosition(&redbank.UserPosition{
		User: user, Asset: usd,
		CollateralScaled: big.NewInt(0), DebtScaled: big.NewInt(500), IsCollateral: true,
	}))
	require.NoError(t, manager.PutPosition(&redbank.UserPosition{
		User: other, Asset: luna,
		CollateralScaled: big.NewInt(7), DebtScaled: big.NewInt(0), IsCollateral: true,
	}))

	positions, err := manager.ListPositions(user)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	loaded, err := manager.GetPosition(user, usd)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Zero(t, loaded.DebtScaled.Cmp(big.NewInt(500)))
	require.True(t, loaded.IsCollateral)

	require.NoError(t, manager.DeletePosition(user, usd))
	gone, err := manager.GetPosition(user, usd)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestUncollateralizedLimits(t *testing.T) {
	manager := newManager(t)
	user := addr(0x01)
	usd := redbank.NativeAsset("usd")

	has, err := manager.HasUncollateralizedLimit(user)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, manager.PutUncollateralizedLimit(user, usd, big.NewInt(5_000)))
	limit, err := manager.GetUncollateralizedLimit(user, usd)
	require.NoError(t, err)
	require.Zero(t, limit.Cmp(big.NewInt(5_000)))

	has, err = manager.HasUncollateralizedLimit(user)
	require.NoError(t, err)
	require.True(t, has)

	// Storing a non-positive limit removes the record.
	require.NoError(t, manager.PutUncollateralizedLimit(user, usd, big.NewInt(0)))
	limit, err = manager.GetUncollateralizedLimit(user, usd)
	require.NoError(t, err)
	require.Nil(t, limit)
}
