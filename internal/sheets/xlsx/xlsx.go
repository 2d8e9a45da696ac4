// Package xlsx writes exported report rows to a local Excel workbook, one tab
// per "<year> Tax Estimates" / "<year> Ledger" sheet.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"creatorbank/internal/core"
	ports "creatorbank/internal/sheets"
)

var _ ports.Exporter = (*Workbook)(nil)

const defaultSheet = "Sheet1"

// Workbook appends rows to the file at path, creating it on first export.
type Workbook struct {
	path          string
	estimatesBase string
	ledgerBase    string

	mu sync.Mutex
}

func New(path, estimatesSheet, ledgerSheet string) (*Workbook, error) {
	if path == "" {
		return nil, errors.New("missing XLSX_EXPORT_PATH")
	}
	if estimatesSheet == "" {
		estimatesSheet = "Tax Estimates"
	}
	if ledgerSheet == "" {
		ledgerSheet = "Ledger"
	}
	return &Workbook{path: path, estimatesBase: estimatesSheet, ledgerBase: ledgerSheet}, nil
}

func (w *Workbook) ExportQuarter(ctx context.Context, userID int64, est core.QuarterlyEstimate) (string, error) {
	sheet := ports.YearPrefixedName(w.estimatesBase, est.Year)
	return w.appendRows(ctx, sheet, ports.EstimateHeader, [][]string{ports.EstimateRow(userID, est)})
}

// ExportLedger writes nothing for an empty slice.
func (w *Workbook) ExportLedger(ctx context.Context, year int, txs []core.LedgerTransaction) (string, error) {
	if len(txs) == 0 {
		return "", nil
	}
	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, ports.LedgerRow(tx))
	}
	return w.appendRows(ctx, ports.YearPrefixedName(w.ledgerBase, year), ports.LedgerHeader, rows)
}

func (w *Workbook) open() (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(w.path)
	if err == nil {
		return f, false, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), true, nil
	}
	return nil, false, fmt.Errorf("open workbook %s: %w", w.path, err)
}

func (w *Workbook) appendRows(ctx context.Context, sheet string, header []string, rows [][]string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, created, err := w.open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return "", fmt.Errorf("look up sheet %s: %w", sheet, err)
	}
	if idx == -1 {
		if idx, err = f.NewSheet(sheet); err != nil {
			return "", fmt.Errorf("create sheet %s: %w", sheet, err)
		}
		if created {
			f.SetActiveSheet(idx)
			if err := f.DeleteSheet(defaultSheet); err != nil {
				return "", fmt.Errorf("drop default sheet: %w", err)
			}
		}
	}

	existing, err := f.GetRows(sheet)
	if err != nil {
		return "", fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	next := len(existing) + 1
	if len(existing) == 0 {
		if err := setRow(f, sheet, next, header); err != nil {
			return "", err
		}
		next++
	}

	first := next
	for _, row := range rows {
		if err := setRow(f, sheet, next, row); err != nil {
			return "", err
		}
		next++
	}

	if err := f.SaveAs(w.path); err != nil {
		return "", fmt.Errorf("save workbook %s: %w", w.path, err)
	}

	ref := fmt.Sprintf("%s!A%d:A%d", sheet, first, next-1)
	slog.InfoContext(ctx, "Rows exported to workbook",
		"path", w.path,
		"sheet", sheet,
		"rows", len(rows),
		"range", ref)
	return ref, nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
	}
	return nil
}
