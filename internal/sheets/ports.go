// Package sheets defines the report export ports. Adapters live in
// subpackages: google for a real spreadsheet, memory for tests and local runs.
package sheets

import (
	"context"

	"github.com/shopspring/decimal"

	"creatorbank/internal/core"
)

type (
	// EstimateExporter appends a quarterly estimate to the "<year> Tax Estimates" tab.
	EstimateExporter interface {
		ExportQuarter(ctx context.Context, userID int64, est core.QuarterlyEstimate) (rowRef string, err error)
	}

	// LedgerExporter appends ledger transactions to the "<year> Ledger" tab.
	LedgerExporter interface {
		ExportLedger(ctx context.Context, year int, txs []core.LedgerTransaction) (rowRef string, err error)
	}

	Exporter interface {
		EstimateExporter
		LedgerExporter
	}
)

// EstimateHeader and LedgerHeader name the columns the adapters write.
var (
	EstimateHeader = []string{
		"User", "Quarter", "Year", "Currency", "Total Earnings", "Self-Employment Tax",
		"Income Tax Rate", "Income Tax", "Total Estimate", "Total Withheld",
		"Additional Payment", "Overpayment",
	}
	LedgerHeader = []string{
		"Transaction", "User", "Date", "Kind", "Amount", "Currency",
		"Balance Before", "Balance After", "Earning", "Description",
	}
)

// EstimateRow renders an estimate as spreadsheet cells. Money stays a
// decimal string so nothing passes through float64.
func EstimateRow(userID int64, est core.QuarterlyEstimate) []string {
	places := core.MinorUnits(est.Currency)
	money := func(d decimal.Decimal) string { return d.StringFixed(places) }
	return []string{
		itoa(userID),
		"Q" + itoa(int64(est.Quarter)),
		itoa(int64(est.Year)),
		est.Currency,
		money(est.TotalEarnings),
		money(est.SelfEmploymentTax),
		est.IncomeTaxRate.String(),
		money(est.IncomeTax),
		money(est.TotalTaxEstimate),
		money(est.TotalWithheld),
		money(est.AdditionalPaymentNeeded),
		money(est.Overpayment),
	}
}

func LedgerRow(tx core.LedgerTransaction) []string {
	places := core.MinorUnits(tx.Currency)
	earning := ""
	if tx.RelatedEarningID != nil {
		earning = itoa(*tx.RelatedEarningID)
	}
	return []string{
		tx.ID.String(),
		itoa(tx.UserID),
		tx.Date.UTC().Format("2006-01-02 15:04:05"),
		string(tx.Kind),
		tx.Amount.StringFixed(places),
		tx.Currency,
		tx.BalanceBefore.StringFixed(places),
		tx.BalanceAfter.StringFixed(places),
		earning,
		tx.Description,
	}
}
