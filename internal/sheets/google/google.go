// Package google exports tax estimates and ledger rows to a Google
// spreadsheet through the Sheets v4 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"creatorbank/internal/core"
	ports "creatorbank/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base tab names without year (e.g. "Ledger"); the year is prefixed per export.
	estimatesBase string
	ledgerBase    string
}

var (
	_ ports.EstimateExporter = (*Client)(nil)
	_ ports.LedgerExporter   = (*Client)(nil)
)

type Config struct {
	SpreadsheetID      string
	ServiceAccountJSON string
	ServiceAccountFile string
	EstimatesSheet     string
	LedgerSheet        string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx, cfg.ServiceAccountJSON, cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newWithService(svc, cfg), nil
}

func newWithService(svc *gsheet.Service, cfg Config) *Client {
	estimates := strings.TrimSpace(cfg.EstimatesSheet)
	if estimates == "" {
		estimates = "Tax Estimates"
	}
	ledger := strings.TrimSpace(cfg.LedgerSheet)
	if ledger == "" {
		ledger = "Ledger"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		estimatesBase: estimates,
		ledgerBase:    ledger,
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Inline JSON wins over the file path.
func newSheetsService(ctx context.Context, serviceAccountJSON, serviceAccountFile string) (*gsheet.Service, error) {
	serviceAccountJSON = strings.TrimSpace(serviceAccountJSON)
	serviceAccountFile = strings.TrimSpace(serviceAccountFile)

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ExportQuarter appends one estimate row to "<year> Tax Estimates".
func (c *Client) ExportQuarter(ctx context.Context, userID int64, est core.QuarterlyEstimate) (string, error) {
	sheet := ports.YearPrefixedName(c.estimatesBase, est.Year)
	return c.appendRows(ctx, sheet, ports.EstimateHeader, [][]string{ports.EstimateRow(userID, est)})
}

// ExportLedger appends the transactions to "<year> Ledger". An empty slice
// writes nothing.
func (c *Client) ExportLedger(ctx context.Context, year int, txs []core.LedgerTransaction) (string, error) {
	if len(txs) == 0 {
		return "", nil
	}
	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, ports.LedgerRow(tx))
	}
	sheet := ports.YearPrefixedName(c.ledgerBase, year)
	return c.appendRows(ctx, sheet, ports.LedgerHeader, rows)
}

// appendRows writes the header first when the tab is empty, then appends
// rows below the existing table.
func (c *Client) appendRows(ctx context.Context, sheet string, header []string, rows [][]string) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	probe := fmt.Sprintf("%s!A1:A1", quoteSheet(sheet))
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, probe).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	values := make([][]any, 0, len(rows)+1)
	if len(resp.Values) == 0 {
		values = append(values, toCells(header))
	}
	for _, row := range rows {
		values = append(values, toCells(row))
	}

	rng := fmt.Sprintf("%s!A1", quoteSheet(sheet))
	out, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to append to sheet %s: %w", sheet, err)
	}

	ref := sheet
	if out.Updates != nil && out.Updates.UpdatedRange != "" {
		ref = out.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Rows exported to sheet",
		"sheet", sheet,
		"rows", len(rows),
		"range", ref)
	return ref, nil
}

// quoteSheet wraps a tab name for A1 notation; names with spaces need quotes.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func toCells(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
