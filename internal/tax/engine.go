// Package tax withholds a share of taxable income into a creator's tax
// savings balance and estimates quarterly and year-to-date liabilities.
package tax

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"creatorbank/internal/core"
)

// Store is the persistence the engine needs. ApplyWithholding must commit the
// earning update, the balance increment and the ledger insert atomically and
// report a second withholding for the same earning as a core.ConflictError.
type Store interface {
	GetUser(ctx context.Context, userID int64) (core.User, error)
	GetEarning(ctx context.Context, earningID int64) (core.Earning, error)
	ScanEarnings(ctx context.Context, userID int64, q core.EarningQuery) ([]core.Earning, error)
	ApplyWithholding(ctx context.Context, w core.Withholding) (core.LedgerTransaction, error)
}

// Recorder observes withholding outcomes. Metrics implement it.
type Recorder interface {
	ObserveWithholding(currency string, amount decimal.Decimal)
	ObserveWithholdingSkipped(reason string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveWithholding(string, decimal.Decimal) {}
func (noopRecorder) ObserveWithholdingSkipped(string)           {}

// Config carries the tax parameters. It is built once at start-up.
type Config struct {
	SelfEmploymentRate decimal.Decimal
	Brackets           BracketTable
}

// DefaultConfig uses a 15.3% self-employment rate and DefaultBrackets.
func DefaultConfig() Config {
	return Config{
		SelfEmploymentRate: decimal.RequireFromString("0.153"),
		Brackets:           DefaultBrackets(),
	}
}

// Engine is stateless apart from its collaborators.
type Engine struct {
	store    Store
	config   Config
	now      func() time.Time
	recorder Recorder
}

type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func NewEngine(store Store, config Config, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		config:   config,
		now:      time.Now,
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithholdingAmount computes round(amount * rate / 100) at the currency's
// minor-unit precision. Rounding happens once, after the multiplication.
func WithholdingAmount(amount, ratePercent decimal.Decimal, currency string) decimal.Decimal {
	return core.RoundToCurrency(core.PercentOf(amount, ratePercent), currency)
}

// Withhold sets aside tax for one earning. Non-taxable earnings are skipped
// and yield a nil transaction. An earning that was already withheld yields a
// ConflictError and nothing changes.
func (e *Engine) Withhold(ctx context.Context, earning core.Earning, user core.User) (*core.LedgerTransaction, error) {
	if !earning.IsTaxable {
		e.recorder.ObserveWithholdingSkipped("exempt")
		return nil, nil
	}
	if earning.UserID != user.ID {
		return nil, core.NewValidationError("user_id", "earning belongs to another user")
	}
	if earning.Amount.IsNegative() {
		return nil, core.NewValidationError("amount", "negative amounts are not supported")
	}
	if earning.TaxStatus == core.TaxWithheld {
		e.recorder.ObserveWithholdingSkipped("conflict")
		return nil, core.NewConflictError("earning", earning.ID, core.ErrAlreadyWithheld)
	}

	currency := core.NormalizeCurrency(earning.Currency)
	amount := WithholdingAmount(earning.Amount, user.WithholdingRate, currency)

	description := "Tax withholding for earning"
	if earning.EarningType != "" {
		description = "Tax withholding for " + earning.EarningType
	}

	tx, err := e.store.ApplyWithholding(ctx, core.Withholding{
		TransactionID: uuid.New(),
		EarningID:     earning.ID,
		UserID:        user.ID,
		Amount:        amount,
		Currency:      currency,
		Date:          e.now().UTC(),
		Description:   description,
	})
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			e.recorder.ObserveWithholdingSkipped("conflict")
		}
		return nil, err
	}

	e.recorder.ObserveWithholding(currency, amount)
	slog.InfoContext(ctx, "Tax withheld",
		"earning_id", earning.ID,
		"user_id", user.ID,
		"amount", amount.String(),
		"currency", currency,
		"balance_after", tx.BalanceAfter.String(),
		"transaction_id", tx.ID.String())

	return &tx, nil
}

// WithholdByID loads the earning and its owner, then withholds.
func (e *Engine) WithholdByID(ctx context.Context, earningID int64) (*core.LedgerTransaction, error) {
	earning, err := e.store.GetEarning(ctx, earningID)
	if err != nil {
		return nil, err
	}
	user, err := e.store.GetUser(ctx, earning.UserID)
	if err != nil {
		return nil, err
	}
	return e.Withhold(ctx, earning, user)
}

// EstimateQuarter estimates the tax owed for one quarter. A zero quarter or
// year means the current one in UTC.
func (e *Engine) EstimateQuarter(ctx context.Context, userID int64, quarter, year int) (core.QuarterlyEstimate, error) {
	now := e.now().UTC()
	if year == 0 {
		year = now.Year()
	}
	if quarter == 0 {
		quarter = core.QuarterOf(now.Month())
	}
	start, end, err := core.QuarterRange(quarter, year)
	if err != nil {
		return core.QuarterlyEstimate{}, err
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return core.QuarterlyEstimate{}, err
	}

	totalEarnings, totalWithheld, err := e.sumTaxable(ctx, userID, start, end)
	if err != nil {
		return core.QuarterlyEstimate{}, err
	}

	currency := core.NormalizeCurrency(user.Currency)
	return e.estimate(quarter, year, currency, totalEarnings, totalWithheld), nil
}

func (e *Engine) estimate(quarter, year int, currency string, totalEarnings, totalWithheld decimal.Decimal) core.QuarterlyEstimate {
	selfEmployment := totalEarnings.Mul(e.config.SelfEmploymentRate)
	rate := e.config.Brackets.Rate(totalEarnings.Mul(decimal.NewFromInt(4)))
	incomeTax := totalEarnings.Mul(rate)
	total := selfEmployment.Add(incomeTax)

	additional := decimal.Max(total.Sub(totalWithheld), decimal.Zero)
	overpayment := decimal.Max(totalWithheld.Sub(total), decimal.Zero)

	round := func(d decimal.Decimal) decimal.Decimal { return core.RoundToCurrency(d, currency) }
	return core.QuarterlyEstimate{
		Quarter:                 quarter,
		Year:                    year,
		Currency:                currency,
		TotalEarnings:           totalEarnings,
		SelfEmploymentTax:       round(selfEmployment),
		IncomeTaxRate:           rate,
		IncomeTax:               round(incomeTax),
		TotalTaxEstimate:        round(total),
		TotalWithheld:           totalWithheld,
		AdditionalPaymentNeeded: round(additional),
		Overpayment:             round(overpayment),
	}
}

// YearToDate sums taxable earnings from January 1 (UTC) up to now.
func (e *Engine) YearToDate(ctx context.Context, userID int64) (core.YearToDate, error) {
	now := e.now().UTC()

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return core.YearToDate{}, err
	}

	totalEarnings, totalWithheld, err := e.sumTaxable(ctx, userID, core.YearStart(now), now)
	if err != nil {
		return core.YearToDate{}, err
	}

	return core.YearToDate{
		Year:                  now.Year(),
		Currency:              core.NormalizeCurrency(user.Currency),
		TotalEarnings:         totalEarnings,
		TotalWithheld:         totalWithheld,
		CurrentSavingsBalance: user.TaxSavingsBalance,
		WithholdingRate:       user.WithholdingRate,
	}, nil
}

// sumTaxable totals amount and tax withheld over taxable earnings in [from, until).
func (e *Engine) sumTaxable(ctx context.Context, userID int64, from, until time.Time) (decimal.Decimal, decimal.Decimal, error) {
	earnings, err := e.store.ScanEarnings(ctx, userID, core.EarningQuery{
		From:        from,
		Until:       until,
		TaxableOnly: true,
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("scan taxable earnings: %w", err)
	}

	total, withheld := decimal.Zero, decimal.Zero
	for _, earning := range earnings {
		total = total.Add(earning.Amount)
		withheld = withheld.Add(earning.TaxWithheld)
	}
	return total, withheld, nil
}
