package chain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBaseUnitsRoundtrip(t *testing.T) {
	v := decimal.RequireFromString("1.234567")
	raw := ToBaseUnits(v, 6)
	if raw.Cmp(big.NewInt(1234567)) != 0 {
		t.Fatalf("ToBaseUnits = %s, want 1234567", raw)
	}
	back := FromBaseUnits(raw, 6)
	if !back.Equal(v) {
		t.Fatalf("FromBaseUnits = %s, want %s", back, v)
	}
}

func TestToBaseUnitsTruncates(t *testing.T) {
	// 超出 token 精度的小数位直接截断，不四舍五入
	v := decimal.RequireFromString("0.0000019")
	raw := ToBaseUnits(v, 6)
	if raw.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("ToBaseUnits = %s, want 1", raw)
	}
}

func TestFromBaseUnitsNil(t *testing.T) {
	if !FromBaseUnits(nil, 18).IsZero() {
		t.Fatal("nil 应换算为 0")
	}
}

func TestIsNonceError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("nonce too low"), true},
		{errors.New("replacement transaction underpriced"), true},
		{errors.New("already known"), true},
		{errors.New("insufficient funds for gas"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isNonceError(c.err); got != c.want {
			t.Fatalf("isNonceError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
