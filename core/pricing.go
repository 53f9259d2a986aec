package core

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// MinIncrementPercent is the step every bid must clear over the current highest bid.
	MinIncrementPercent = 5
	// FeePercent is the share of the winning bid kept by the owner at settlement.
	FeePercent = 2

	etherDecimals int32 = 18
)

// percentOf returns floor(x * pct / 100) without intermediate overflow.
// floor(x*p/100) == (x/100)*p + floor((x%100)*p/100) for p <= 100.
func percentOf(x *uint256.Int, pct uint64) *uint256.Int {
	hundred := uint256.NewInt(100)
	p := uint256.NewInt(pct)

	quo := new(uint256.Int).Div(x, hundred)
	rem := new(uint256.Int).Mod(x, hundred)

	result := new(uint256.Int).Mul(quo, p)
	rem.Mul(rem, p)
	rem.Div(rem, hundred)
	return result.Add(result, rem)
}

// MinimumBid returns the smallest value the next bid must carry given the current highest
// bid. With no prior bid the minimum is zero, so any positive value clears it.
// The increment is floor-rounded. overflow is true when the minimum does not fit in 256 bits,
// in which case no bid can satisfy it.
func MinimumBid(highest *uint256.Int) (minBid *uint256.Int, overflow bool) {
	if highest.IsZero() {
		return new(uint256.Int), false
	}
	return new(uint256.Int).AddOverflow(highest, percentOf(highest, MinIncrementPercent))
}

// SplitSettlement divides the winning bid into the owner's fee and the payout.
// fee + payout == amount always holds.
func SplitSettlement(amount *uint256.Int) (fee, payout *uint256.Int) {
	fee = percentOf(amount, FeePercent)
	payout = new(uint256.Int).Sub(amount, fee)
	return fee, payout
}

// FormatEther renders a wei amount as an ether decimal string.
func FormatEther(wei *uint256.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei.ToBig(), -etherDecimals).String()
}

// ParseEther converts an ether decimal string ("1.05") into wei.
func ParseEther(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse ether amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("ether amount %q is negative", s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("ether amount %q has more than %d decimals", s, etherDecimals)
	}
	return fromBig(wei.BigInt())
}

// ParseWei converts a base-10 wei string into an amount.
func ParseWei(s string) (*uint256.Int, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse wei amount %q: not a base-10 integer", s)
	}
	if b.Sign() < 0 {
		return nil, fmt.Errorf("wei amount %q is negative", s)
	}
	return fromBig(b)
}

func fromBig(b *big.Int) (*uint256.Int, error) {
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("amount %s overflows 256 bits", b.String())
	}
	return v, nil
}
