package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"creatorbank/internal/core"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{SpreadsheetID: "test-id"})
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	if !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	_, err := New(context.Background(), Config{
		SpreadsheetID:      "test-id",
		ServiceAccountFile: "/non/existent/credentials.json",
	})
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestClient_NilService(t *testing.T) {
	c := &Client{spreadsheetID: "test", estimatesBase: "Tax Estimates", ledgerBase: "Ledger"}

	if _, err := c.ExportQuarter(context.Background(), 1, core.QuarterlyEstimate{Quarter: 1, Year: 2024}); err == nil {
		t.Error("expected error with nil service")
	}
	tx := core.LedgerTransaction{ID: uuid.New(), Date: time.Now()}
	if _, err := c.ExportLedger(context.Background(), 2024, []core.LedgerTransaction{tx}); err == nil {
		t.Error("expected error with nil service")
	}
}

func TestClient_ExportLedgerEmpty(t *testing.T) {
	c := &Client{}
	ref, err := c.ExportLedger(context.Background(), 2024, nil)
	if err != nil || ref != "" {
		t.Fatalf("ExportLedger(nil) = %q, %v; want empty, nil", ref, err)
	}
}

func TestQuoteSheet(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024 Ledger", "'2024 Ledger'"},
		{"Bob's Taxes", "'Bob''s Taxes'"},
	}
	for _, tt := range tests {
		if got := quoteSheet(tt.in); got != tt.want {
			t.Errorf("quoteSheet(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// fakeSheets serves the two Values endpoints the client calls.
type fakeSheets struct {
	mu       sync.Mutex
	rows     map[string][][]any
	appended []string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	idx := strings.Index(path, "/values/")
	if idx < 0 {
		http.NotFound(w, r)
		return
	}
	rng := path[idx+len("/values/"):]
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet:
		sheet := rng[:strings.Index(rng, "!")]
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": f.rows[sheet]})
	case r.Method == http.MethodPost && strings.HasSuffix(rng, ":append"):
		rng = strings.TrimSuffix(rng, ":append")
		sheet := rng[:strings.Index(rng, "!")]
		var body gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.rows[sheet] = append(f.rows[sheet], body.Values...)
		f.appended = append(f.appended, sheet)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"updates": map[string]any{"updatedRange": sheet + "!A1"},
		})
	default:
		http.Error(w, "unexpected request", http.StatusBadRequest)
	}
}

func newFakeClient(t *testing.T) (*Client, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{rows: map[string][][]any{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithoutAuthentication(),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return newWithService(svc, Config{SpreadsheetID: "sheet-1"}), fake
}

func TestClient_ExportQuarterWritesHeaderOnce(t *testing.T) {
	c, fake := newFakeClient(t)
	est := core.QuarterlyEstimate{
		Quarter:                 1,
		Year:                    2024,
		Currency:                "USD",
		TotalEarnings:           decimal.NewFromInt(10000),
		SelfEmploymentTax:       decimal.NewFromInt(1530),
		IncomeTaxRate:           decimal.RequireFromString("0.12"),
		IncomeTax:               decimal.NewFromInt(1200),
		TotalTaxEstimate:        decimal.NewFromInt(2730),
		TotalWithheld:           decimal.Zero,
		AdditionalPaymentNeeded: decimal.NewFromInt(2730),
		Overpayment:             decimal.Zero,
	}

	ref, err := c.ExportQuarter(context.Background(), 7, est)
	if err != nil {
		t.Fatalf("ExportQuarter() error = %v", err)
	}
	if ref != "'2024 Tax Estimates'!A1" {
		t.Errorf("ExportQuarter() ref = %q", ref)
	}
	if _, err := c.ExportQuarter(context.Background(), 7, est); err != nil {
		t.Fatalf("second ExportQuarter() error = %v", err)
	}

	rows := fake.rows["'2024 Tax Estimates'"]
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d rows", len(rows))
	}
	if rows[0][0] != "User" {
		t.Errorf("first row should be the header, got %v", rows[0])
	}
	if rows[1][8] != "2730.00" {
		t.Errorf("total estimate cell = %v, want 2730.00", rows[1][8])
	}
}

func TestClient_ExportLedgerUsesYearTab(t *testing.T) {
	c, fake := newFakeClient(t)
	earningID := int64(3)
	txs := []core.LedgerTransaction{
		{
			ID:               uuid.New(),
			UserID:           1,
			Kind:             core.TxTaxSavings,
			Amount:           decimal.NewFromInt(300),
			Currency:         "USD",
			BalanceBefore:    decimal.Zero,
			BalanceAfter:     decimal.NewFromInt(300),
			RelatedEarningID: &earningID,
			Description:      "Tax withholding for sponsorship",
			Date:             time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC),
		},
	}

	if _, err := c.ExportLedger(context.Background(), 2023, txs); err != nil {
		t.Fatalf("ExportLedger() error = %v", err)
	}
	if len(fake.appended) != 1 || fake.appended[0] != "'2023 Ledger'" {
		t.Fatalf("appended to %v, want ['2023 Ledger']", fake.appended)
	}
	rows := fake.rows["'2023 Ledger'"]
	if len(rows) != 2 {
		t.Fatalf("expected header plus 1 row, got %d", len(rows))
	}
	if rows[1][4] != "300.00" || rows[1][8] != "3" {
		t.Errorf("unexpected ledger row %v", rows[1])
	}
}
