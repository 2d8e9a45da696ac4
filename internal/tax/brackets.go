package tax

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Bracket applies Rate to annualised income strictly below Threshold.
type Bracket struct {
	Threshold decimal.Decimal
	Rate      decimal.Decimal
}

// BracketTable selects a single income-tax rate from annualised income.
//
// This is deliberately a one-bracket lookup: the whole quarter is taxed at the
// rate of the bracket its annualised total falls into. It is not marginal
// stacking.
type BracketTable struct {
	Brackets []Bracket // strictly ascending by Threshold
	TopRate  decimal.Decimal
}

// DefaultBrackets is the simplified 2024 US schedule.
func DefaultBrackets() BracketTable {
	return BracketTable{
		Brackets: []Bracket{
			{Threshold: decimal.NewFromInt(11000), Rate: decimal.RequireFromString("0.10")},
			{Threshold: decimal.NewFromInt(44725), Rate: decimal.RequireFromString("0.12")},
			{Threshold: decimal.NewFromInt(95375), Rate: decimal.RequireFromString("0.22")},
			{Threshold: decimal.NewFromInt(182100), Rate: decimal.RequireFromString("0.24")},
		},
		TopRate: decimal.RequireFromString("0.32"),
	}
}

// Rate returns the rate for an annualised income amount.
func (t BracketTable) Rate(annualised decimal.Decimal) decimal.Decimal {
	for _, b := range t.Brackets {
		if annualised.LessThan(b.Threshold) {
			return b.Rate
		}
	}
	return t.TopRate
}

// Validate checks thresholds strictly ascend and rates lie in [0, 1]. A
// repeated threshold would leave the later bracket unreachable.
func (t BracketTable) Validate() error {
	one := decimal.NewFromInt(1)
	for i := 1; i < len(t.Brackets); i++ {
		if !t.Brackets[i].Threshold.GreaterThan(t.Brackets[i-1].Threshold) {
			return fmt.Errorf("bracket thresholds must strictly ascend: %s follows %s",
				t.Brackets[i].Threshold, t.Brackets[i-1].Threshold)
		}
	}
	for _, b := range t.Brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThan(one) {
			return fmt.Errorf("bracket rate %s out of range", b.Rate)
		}
	}
	if t.TopRate.IsNegative() || t.TopRate.GreaterThan(one) {
		return fmt.Errorf("top rate %s out of range", t.TopRate)
	}
	return nil
}

type bracketFile struct {
	TopRate  string `toml:"top_rate"`
	Brackets []struct {
		Below string `toml:"below"`
		Rate  string `toml:"rate"`
	} `toml:"bracket"`
}

// ParseBrackets reads a bracket table from TOML. Amounts and rates are
// quoted decimal strings so they never pass through float64:
//
//	top_rate = "0.32"
//
//	[[bracket]]
//	below = "11000"
//	rate  = "0.10"
func ParseBrackets(data []byte) (BracketTable, error) {
	var f bracketFile
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return BracketTable{}, fmt.Errorf("decode brackets: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return BracketTable{}, fmt.Errorf("unknown bracket keys: %v", undecoded)
	}
	if f.TopRate == "" {
		return BracketTable{}, fmt.Errorf("top_rate is required")
	}

	var t BracketTable
	if t.TopRate, err = decimal.NewFromString(f.TopRate); err != nil {
		return BracketTable{}, fmt.Errorf("top_rate %q: %w", f.TopRate, err)
	}
	for i, b := range f.Brackets {
		threshold, err := decimal.NewFromString(b.Below)
		if err != nil {
			return BracketTable{}, fmt.Errorf("bracket %d below %q: %w", i+1, b.Below, err)
		}
		rate, err := decimal.NewFromString(b.Rate)
		if err != nil {
			return BracketTable{}, fmt.Errorf("bracket %d rate %q: %w", i+1, b.Rate, err)
		}
		t.Brackets = append(t.Brackets, Bracket{Threshold: threshold, Rate: rate})
	}
	if err := t.Validate(); err != nil {
		return BracketTable{}, err
	}
	return t, nil
}

// LoadBrackets reads a TOML bracket table from path. An empty path yields
// DefaultBrackets.
func LoadBrackets(path string) (BracketTable, error) {
	if path == "" {
		return DefaultBrackets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return BracketTable{}, fmt.Errorf("read brackets file: %w", err)
	}
	return ParseBrackets(data)
}
