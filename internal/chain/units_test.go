package chain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestToRaw covers the usual decimal widths and fraction truncation.
func TestToRaw(t *testing.T) {
	assert.Equal(t, "10000000", ToRaw(decimal.RequireFromString("10"), 6).String())
	assert.Equal(t, "10500000", ToRaw(decimal.RequireFromString("10.5"), 6).String())
	assert.Equal(t, "3000000000000000", ToRaw(decimal.RequireFromString("0.003"), 18).String())
	// sub-unit precision beyond the token's decimals is truncated, not rounded
	assert.Equal(t, "1", ToRaw(decimal.RequireFromString("0.0000019"), 6).String())
}

// TestFromRaw is the inverse direction, including the nil guard.
func TestFromRaw(t *testing.T) {
	assert.True(t, FromRaw(big.NewInt(10_200_000), 6).Equal(decimal.RequireFromString("10.2")))
	assert.True(t, FromRaw(big.NewInt(3_000_000_000_000_000), 18).Equal(decimal.RequireFromString("0.003")))
	assert.True(t, FromRaw(nil, 18).IsZero())
}

// TestFromWei checks the native 18-decimal shortcut.
func TestFromWei(t *testing.T) {
	wei, ok := new(big.Int).SetString("1500000000000000000", 10)
	assert.True(t, ok)
	assert.True(t, FromWei(wei).Equal(decimal.RequireFromString("1.5")))
}

// TestRoundTripStability: converting back and forth keeps the value.
func TestRoundTripStability(t *testing.T) {
	amount := decimal.RequireFromString("123.456789")
	assert.True(t, FromRaw(ToRaw(amount, 6), 6).Equal(amount))
}
