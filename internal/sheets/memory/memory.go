// Package memory keeps exported report rows in process. It backs local runs
// without a spreadsheet and the export tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"creatorbank/internal/core"
	ports "creatorbank/internal/sheets"
)

var _ ports.Exporter = (*Store)(nil)

type Store struct {
	mu     sync.Mutex
	sheets map[string][][]string
}

func New() *Store {
	return &Store{sheets: make(map[string][][]string)}
}

// ExportQuarter stores the estimate row and returns a synthetic row reference.
func (s *Store) ExportQuarter(_ context.Context, userID int64, est core.QuarterlyEstimate) (string, error) {
	sheet := ports.YearPrefixedName("Tax Estimates", est.Year)
	return s.append(sheet, ports.EstimateHeader, [][]string{ports.EstimateRow(userID, est)}), nil
}

func (s *Store) ExportLedger(_ context.Context, year int, txs []core.LedgerTransaction) (string, error) {
	if len(txs) == 0 {
		return "", nil
	}
	rows := make([][]string, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, ports.LedgerRow(tx))
	}
	return s.append(ports.YearPrefixedName("Ledger", year), ports.LedgerHeader, rows), nil
}

func (s *Store) append(sheet string, header []string, rows [][]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sheets[sheet]) == 0 {
		s.sheets[sheet] = append(s.sheets[sheet], header)
	}
	s.sheets[sheet] = append(s.sheets[sheet], rows...)
	return fmt.Sprintf("mem:%s:%d", sheet, len(s.sheets[sheet]))
}

// Rows returns a copy of a tab including its header row.
func (s *Store) Rows(sheet string) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.sheets[sheet]))
	for i, row := range s.sheets[sheet] {
		out[i] = append([]string(nil), row...)
	}
	return out
}
