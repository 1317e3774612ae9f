// Package ledger is the custody side of payouts: the hot wallet balances and
// the outgoing stable-coin transfers.
package ledger

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// Client is the capability the payout engine needs from a chain. The signing
// credential lives inside the implementation; callers only see the address
// it controls.
type Client interface {
	HotAddress() string
	GetBalances(ctx context.Context, address string) (Balances, error)
	// Transfer sends amount of the stable asset and returns the chain
	// transaction id once it is observed.
	Transfer(ctx context.Context, destination string, amount decimal.Decimal) (string, error)
}

// Balances are human units: Native pays fees, Stable pays withdrawals.
type Balances struct {
	Native decimal.Decimal `json:"native"`
	Stable decimal.Decimal `json:"stable"`
}

// ToUnits converts a human amount into the smallest indivisible units.
// Digits below the unit are truncated.
func ToUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromUnits is the inverse of ToUnits.
func FromUnits(units *big.Int, decimals int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -int32(decimals))
}
