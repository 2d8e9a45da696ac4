package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"creatorbank/internal/backend"
	"creatorbank/internal/cli"
	"creatorbank/internal/config"
	"creatorbank/internal/core"
	ports "creatorbank/internal/sheets"
	gsheet "creatorbank/internal/sheets/google"
	mem "creatorbank/internal/sheets/memory"
	"creatorbank/internal/sheets/xlsx"
	"creatorbank/internal/tax"
)

var rootCmd = &cobra.Command{
	Use:   "tax-export",
	Short: "Append a quarterly tax estimate to the export sheet",
	Long: `Compute a creator's quarterly tax estimate and append it to the
"<year> Tax Estimates" tab. With --ledger the year's ledger transactions are
appended to the "<year> Ledger" tab as well. Without GOOGLE_SPREADSHEET_ID the
rows go to the XLSX_EXPORT_PATH workbook, or are only kept in memory when that
is unset too, which is useful as a dry run.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runExport,
}

func init() {
	rootCmd.Flags().Int64P("user", "u", 0, "user id to export (required)")
	rootCmd.Flags().IntP("quarter", "q", 0, "quarter 1-4 (default: current)")
	rootCmd.Flags().IntP("year", "y", 0, "tax year (default: current)")
	rootCmd.Flags().Bool("ledger", false, "also export the user's ledger for the year")
	_ = rootCmd.MarkFlagRequired("user")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetInt64("user")
	quarter, _ := cmd.Flags().GetInt("quarter")
	year, _ := cmd.Flags().GetInt("year")
	withLedger, _ := cmd.Flags().GetBool("ledger")
	if userID <= 0 {
		return fmt.Errorf("--user must be a positive id")
	}

	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, logger, cfg, userID, quarter, year, withLedger); err != nil {
		logger.Error("Export failed", "error", err, "user_id", userID)
		return err
	}
	return nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, userID int64, quarter, year int, withLedger bool) error {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer result.Cleanup()

	exporter, err := newExporter(ctx, logger, cfg)
	if err != nil {
		return err
	}

	engine := tax.NewEngine(result.Store, cli.TaxConfig(logger, cfg))
	est, err := engine.EstimateQuarter(ctx, userID, quarter, year)
	if err != nil {
		return fmt.Errorf("estimate quarter: %w", err)
	}
	ref, err := exporter.ExportQuarter(ctx, userID, est)
	if err != nil {
		return fmt.Errorf("export estimate: %w", err)
	}
	logger.Info("Quarterly estimate exported",
		"user_id", userID,
		"quarter", est.Quarter,
		"year", est.Year,
		"total_tax_estimate", est.TotalTaxEstimate.String(),
		"sheets_ref", ref)

	if !withLedger {
		return nil
	}
	txs, err := transactionsInYear(ctx, result.Store, userID, est.Year)
	if err != nil {
		return err
	}
	ref, err = exporter.ExportLedger(ctx, est.Year, txs)
	if err != nil {
		return fmt.Errorf("export ledger: %w", err)
	}
	logger.Info("Ledger exported", "user_id", userID, "year", est.Year, "transactions", len(txs), "sheets_ref", ref)
	return nil
}

func newExporter(ctx context.Context, logger *slog.Logger, cfg *config.Config) (ports.Exporter, error) {
	if !cfg.SheetsEnabled() {
		if cfg.XLSXExportPath != "" {
			workbook, err := xlsx.New(cfg.XLSXExportPath, cfg.GoogleEstimatesSheet, cfg.GoogleLedgerSheet)
			if err != nil {
				return nil, err
			}
			logger.Info("Google Sheets disabled - exporting to workbook", "path", cfg.XLSXExportPath)
			return workbook, nil
		}
		logger.Info("Google Sheets disabled - exporting to memory only")
		return mem.New(), nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:      cfg.GoogleSpreadsheetID,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
		EstimatesSheet:     cfg.GoogleEstimatesSheet,
		LedgerSheet:        cfg.GoogleLedgerSheet,
	})
	if err != nil {
		return nil, fmt.Errorf("init google sheets: %w", err)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}

type transactionLister interface {
	ListTransactions(ctx context.Context, userID int64, page core.Page) ([]core.LedgerTransaction, error)
}

// transactionsInYear pages through the ledger, newest first, and keeps the
// transactions dated in year. It stops at the first page that reaches an
// earlier year.
func transactionsInYear(ctx context.Context, store transactionLister, userID int64, year int) ([]core.LedgerTransaction, error) {
	var out []core.LedgerTransaction
	page := core.Page{Limit: core.MaxPageLimit}
	for {
		batch, err := store.ListTransactions(ctx, userID, page)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		older := false
		for _, tx := range batch {
			switch y := tx.Date.UTC().Year(); {
			case y == year:
				out = append(out, tx)
			case y < year:
				older = true
			}
		}
		if older || len(batch) < page.Limit {
			return out, nil
		}
		page.Offset += len(batch)
	}
}
