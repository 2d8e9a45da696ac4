package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{"0", "0", true},
		{" 2.50 ", "2.5", true},
		{"1000.005", "1000.005", true},
		{"-1", "", false},
		{"+1", "", false},
		{"1e3", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{".", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected ErrInvalidAmount, got %v", tc.in, err)
		}
	}
}

func TestRoundToCurrency(t *testing.T) {
	cases := []struct {
		amount   string
		currency string
		want     string
	}{
		{"300.004", "USD", "300"},
		{"300.005", "USD", "300.01"},
		{"0.125", "EUR", "0.13"},
		{"1234.5", "JPY", "1235"},
		{"1.0005", "KWD", "1.001"},
		{"9.995", "XXX", "10"}, // unknown currency defaults to 2 places
	}
	for _, tc := range cases {
		got := RoundToCurrency(decimal.RequireFromString(tc.amount), tc.currency)
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("RoundToCurrency(%s, %s) = %s, want %s", tc.amount, tc.currency, got, tc.want)
		}
	}
}

func TestPercentOfIsExact(t *testing.T) {
	got := PercentOf(decimal.RequireFromString("0.10"), decimal.RequireFromString("33.33"))
	if !got.Equal(decimal.RequireFromString("0.03333")) {
		t.Fatalf("PercentOf = %s, want 0.03333", got)
	}
}

func TestMinorUnitsAndFormat(t *testing.T) {
	if MinorUnits("usd") != 2 || MinorUnits("JPY") != 0 || MinorUnits("BHD") != 3 {
		t.Fatal("unexpected minor units")
	}
	if MinorUnits("ABC") != 2 {
		t.Fatal("unknown currency should default to 2")
	}
	if got := FormatAmount(decimal.NewFromInt(300), "USD"); got != "300.00" {
		t.Fatalf("FormatAmount = %q", got)
	}
}

func TestValidateCurrency(t *testing.T) {
	for _, ok := range []string{"USD", "eur", "ABC"} {
		if err := ValidateCurrency(ok); err != nil {
			t.Errorf("%q: unexpected error %v", ok, err)
		}
	}
	for _, bad := range []string{"", "US", "USDT", "U$D"} {
		err := ValidateCurrency(bad)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%q: expected validation error, got %v", bad, err)
		}
	}
	if NormalizeCurrency(" usd ") != "USD" || NormalizeCurrency("") != DefaultCurrency {
		t.Fatal("NormalizeCurrency mismatch")
	}
}
