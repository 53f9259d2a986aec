package core

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestMinimumBid(t *testing.T) {
	tests := []struct {
		name     string
		highest  uint64
		expected uint64
	}{
		{"no bid yet - zero minimum", 0, 0},
		{"exact five percent", 100, 105},
		{"increment floors down", 99, 103},
		{"increment rounds to zero", 19, 19},
		{"first nonzero increment", 20, 21},
		{"large value", 1_000_000_000_000_000_000, 1_050_000_000_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, overflow := MinimumBid(uint256.NewInt(tt.highest))
			check.False(t, overflow)
			check.Equal(t, tt.expected, got.Uint64())
		})
	}
}

func TestMinimumBid_Overflow(t *testing.T) {
	largest := new(uint256.Int).SetAllOne()
	_, overflow := MinimumBid(largest)
	check.True(t, overflow)
}

func TestSplitSettlement(t *testing.T) {
	tests := []struct {
		name   string
		amount uint64
		fee    uint64
		payout uint64
	}{
		{"zero", 0, 0, 0},
		{"fee floors to zero", 49, 0, 49},
		{"smallest nonzero fee", 50, 1, 49},
		{"round hundred", 100, 2, 98},
		{"odd amount", 1234, 24, 1210},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, payout := SplitSettlement(uint256.NewInt(tt.amount))
			check.Equal(t, tt.fee, fee.Uint64())
			check.Equal(t, tt.payout, payout.Uint64())
			check.Equal(t, tt.amount, new(uint256.Int).Add(fee, payout).Uint64())
		})
	}
}

func TestSplitSettlement_OneEtherFiveCents(t *testing.T) {
	fee, payout := SplitSettlement(mustEther(t, "1.05"))
	check.Equal(t, "0.021", FormatEther(fee))
	check.Equal(t, "1.029", FormatEther(payout))
}

func TestSplitSettlement_HugeAmountConserves(t *testing.T) {
	amount := new(uint256.Int).SetAllOne()
	fee, payout := SplitSettlement(amount)
	sum, overflow := new(uint256.Int).AddOverflow(fee, payout)
	check.False(t, overflow)
	check.True(t, sum.Eq(amount))
}

func TestParseEther(t *testing.T) {
	tests := []struct {
		input   string
		wei     string
		wantErr bool
	}{
		{"1", "1000000000000000000", false},
		{"1.05", "1050000000000000000", false},
		{"0.000000000000000001", "1", false},
		{"0", "0", false},
		{"0.0000000000000000001", "", true},
		{"-1", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEther(tt.input)
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			assert.NoError(t, err)
			check.Equal(t, tt.wei, got.ToBig().String())
		})
	}
}

func TestParseWei(t *testing.T) {
	v, err := ParseWei("1050000000000000000")
	assert.NoError(t, err)
	check.Equal(t, "1.05", FormatEther(v))

	_, err = ParseWei("1.5")
	check.Error(t, err)

	_, err = ParseWei("-3")
	check.Error(t, err)

	// 2^256
	_, err = ParseWei("115792089237316195423570985008687907853269984665640564039457584007913129639936")
	check.Error(t, err)
}

func TestFormatEther(t *testing.T) {
	check.Equal(t, "0", FormatEther(nil))
	check.Equal(t, "0", FormatEther(new(uint256.Int)))
	check.Equal(t, "1", FormatEther(uint256.NewInt(1_000_000_000_000_000_000)))
	check.Equal(t, "0.000000000000000001", FormatEther(uint256.NewInt(1)))
}
