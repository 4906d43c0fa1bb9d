package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := map[string]string{
		"1.005":  "1.01",
		"-1.005": "-1.01",
		"2.004":  "2.00",
		"0.001":  "0.00",
	}
	for in, want := range cases {
		got := Round(decimal.RequireFromString(in))
		if got.String() != decimal.RequireFromString(want).String() {
			t.Fatalf("Round(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestIsZeroUnderPrecision(t *testing.T) {
	if !IsZero(decimal.RequireFromString("0.004")) {
		t.Fatalf("0.004 should be zero at money precision")
	}
	if IsZero(decimal.RequireFromString("0.01")) {
		t.Fatalf("0.01 is not zero at money precision")
	}
}

func TestDiff(t *testing.T) {
	a := decimal.RequireFromString("10.503")
	b := decimal.RequireFromString("10.50")
	if got := Diff(a, b); !got.IsZero() {
		t.Fatalf("expected zero diff, got %s", got)
	}
}
