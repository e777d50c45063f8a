package bank

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xarbor/mars-core/crypto"
	"github.com/0xarbor/mars-core/native/redbank"
)

func addr(suffix byte) crypto.Address {
	b := make([]byte, 20)
	b[19] = suffix
	return crypto.NewAddress(crypto.MarsPrefix, b)
}

func TestSendMovesFullAmountWithoutTax(t *testing.T) {
	keeper := NewKeeper()
	luna := redbank.NativeAsset("luna")
	alice, bob := addr(0x01), addr(0x02)
	keeper.Mint(alice, luna, big.NewInt(1_000))

	net, err := keeper.Send(alice, bob, luna, big.NewInt(400))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), net)
	require.Equal(t, big.NewInt(600), keeper.Balance(alice, luna))
	require.Equal(t, big.NewInt(400), keeper.Balance(bob, luna))
}

func TestSendWithholdsNativeTax(t *testing.T) {
	keeper := NewKeeper()
	keeper.SetNativeTaxRate(100) // 1%
	luna := redbank.NativeAsset("luna")
	alice, bob := addr(0x01), addr(0x02)
	keeper.Mint(alice, luna, big.NewInt(10_000))

	net, err := keeper.Send(alice, bob, luna, big.NewInt(10_000))
	require.NoError(t, err)
	// Tax floors: 10,000 * 1% = 100 withheld from the delivery.
	require.Equal(t, big.NewInt(9_900), net)
	require.Zero(t, keeper.Balance(alice, luna).Sign())
	require.Equal(t, big.NewInt(9_900), keeper.Balance(bob, luna))
}

func TestSendCapsNativeTaxPerDenom(t *testing.T) {
	keeper := NewKeeper()
	keeper.SetNativeTaxRate(100)
	keeper.SetNativeTaxCap("luna", big.NewInt(10))
	luna := redbank.NativeAsset("luna")
	alice, bob := addr(0x01), addr(0x02)
	keeper.Mint(alice, luna, big.NewInt(10_000))

	net, err := keeper.Send(alice, bob, luna, big.NewInt(10_000))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9_990), net)
}

func TestSendSkipsTaxForTokens(t *testing.T) {
	keeper := NewKeeper()
	keeper.SetNativeTaxRate(100)
	token := redbank.TokenAsset(addr(0x40))
	alice, bob := addr(0x01), addr(0x02)
	keeper.Mint(alice, token, big.NewInt(1_000))

	net, err := keeper.Send(alice, bob, token, big.NewInt(1_000))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000), net)
}

func TestSendRejectsOverdraftAndZero(t *testing.T) {
	keeper := NewKeeper()
	luna := redbank.NativeAsset("luna")
	alice, bob := addr(0x01), addr(0x02)
	keeper.Mint(alice, luna, big.NewInt(10))

	_, err := keeper.Send(alice, bob, luna, big.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = keeper.Send(alice, bob, luna, big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, big.NewInt(10), keeper.Balance(alice, luna))
}
