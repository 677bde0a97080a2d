package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var weiPerEther = decimal.New(1, 18)

// ParseEther converts a decimal amount of the native coin ("0.1") to wei.
// Amounts with more than 18 fractional digits are rejected.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("chain: parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("chain: negative amount %q", amount)
	}
	wei := d.Mul(weiPerEther)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("chain: amount %q is finer than 1 wei", amount)
	}
	return wei.BigInt(), nil
}

// FormatEther renders wei as a decimal amount of the native coin.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
