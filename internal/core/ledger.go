package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Withholding is the instruction the tax engine hands to the persistence
// layer. The store applies it atomically: mark the earning withheld, raise the
// user's balance and append one tax_savings ledger transaction.
type Withholding struct {
	TransactionID uuid.UUID
	EarningID     int64
	UserID        int64
	Amount        decimal.Decimal
	Currency      string
	Date          time.Time
	Description   string
}

// Transaction builds the ledger row for a withholding given the balance the
// store observed inside its transaction.
func (w Withholding) Transaction(balanceBefore decimal.Decimal) LedgerTransaction {
	earningID := w.EarningID
	return LedgerTransaction{
		ID:               w.TransactionID,
		UserID:           w.UserID,
		Amount:           w.Amount,
		Currency:         w.Currency,
		Kind:             TxTaxSavings,
		Date:             w.Date,
		Description:      w.Description,
		BalanceBefore:    balanceBefore,
		BalanceAfter:     balanceBefore.Add(w.Amount),
		RelatedEarningID: &earningID,
	}
}
