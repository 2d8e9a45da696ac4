package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// EarningsSummary is a point-in-time view over a user's earnings.
type EarningsSummary struct {
	AsOf             time.Time
	Currency         string
	TotalAllTime     decimal.Decimal
	TotalThisMonth   decimal.Decimal
	TotalLastMonth   decimal.Decimal
	TotalThisYear    decimal.Decimal
	ByPlatform       map[PlatformType]decimal.Decimal
	TaxWithheldTotal decimal.Decimal
}

// PayoutDay is the sum of amounts paid out on one UTC calendar day.
type PayoutDay struct {
	Date   time.Time
	Amount decimal.Decimal
}

// QuarterlyEstimate is derived on demand and never persisted.
type QuarterlyEstimate struct {
	Quarter                 int
	Year                    int
	Currency                string
	TotalEarnings           decimal.Decimal
	SelfEmploymentTax       decimal.Decimal
	IncomeTaxRate           decimal.Decimal
	IncomeTax               decimal.Decimal
	TotalTaxEstimate        decimal.Decimal
	TotalWithheld           decimal.Decimal
	AdditionalPaymentNeeded decimal.Decimal
	Overpayment             decimal.Decimal
}

// YearToDate summarises taxable income from January 1 up to now.
type YearToDate struct {
	Year                  int
	Currency              string
	TotalEarnings         decimal.Decimal
	TotalWithheld         decimal.Decimal
	CurrentSavingsBalance decimal.Decimal
	WithholdingRate       decimal.Decimal
}

// Dashboard is the compact financial overview for a creator.
type Dashboard struct {
	UserID                  int64
	Email                   string
	FullName                string
	Tier                    UserTier
	Currency                string
	EarningsThisMonth       decimal.Decimal
	TaxSavingsBalance       decimal.Decimal
	WithholdingRate         decimal.Decimal
	ConnectedPlatformsCount int
	UpcomingPayouts         []PayoutDay
}
