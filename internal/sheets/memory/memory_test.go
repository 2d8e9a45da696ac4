package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"creatorbank/internal/core"
)

func TestStore_ExportQuarter(t *testing.T) {
	s := New()
	est := core.QuarterlyEstimate{
		Quarter:          2,
		Year:             2024,
		Currency:         "USD",
		TotalEarnings:    decimal.NewFromInt(500),
		TotalTaxEstimate: decimal.RequireFromString("126.5"),
	}

	ref, err := s.ExportQuarter(context.Background(), 9, est)
	if err != nil {
		t.Fatalf("ExportQuarter() error = %v", err)
	}
	if ref != "mem:2024 Tax Estimates:2" {
		t.Fatalf("ref = %q", ref)
	}
	if _, err := s.ExportQuarter(context.Background(), 9, est); err != nil {
		t.Fatalf("ExportQuarter() error = %v", err)
	}

	rows := s.Rows("2024 Tax Estimates")
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[1][0] != "9" || rows[1][1] != "Q2" || rows[1][8] != "126.50" {
		t.Errorf("unexpected estimate row %v", rows[1])
	}
}

func TestStore_ExportLedger(t *testing.T) {
	s := New()

	ref, err := s.ExportLedger(context.Background(), 2024, nil)
	if err != nil || ref != "" {
		t.Fatalf("ExportLedger(nil) = %q, %v", ref, err)
	}

	tx := core.LedgerTransaction{
		ID:       uuid.New(),
		UserID:   1,
		Kind:     core.TxTaxSavings,
		Amount:   decimal.NewFromInt(30),
		Currency: "JPY",
		Date:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if _, err := s.ExportLedger(context.Background(), 2024, []core.LedgerTransaction{tx, tx}); err != nil {
		t.Fatalf("ExportLedger() error = %v", err)
	}

	rows := s.Rows("2024 Ledger")
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[1][4] != "30" {
		t.Errorf("JPY amount should have no decimals, got %q", rows[1][4])
	}
	if len(s.Rows("2023 Ledger")) != 0 {
		t.Error("other years must stay empty")
	}
}
