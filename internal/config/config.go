package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string
	MetricsPort        string // withholding-worker metrics listener

	// Database
	SQLiteDBPath string

	// AMQP. An empty URL disables messaging and withholding runs inline.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleEstimatesSheet     string
	GoogleLedgerSheet        string

	// Local workbook export, used when no spreadsheet is configured
	XLSXExportPath string

	// Worker
	SyncBatchSize int
	SyncInterval  time.Duration

	// Tax
	DefaultWithholdingRate decimal.Decimal
	SelfEmploymentRate     decimal.Decimal
	TaxBracketsFile        string // TOML; empty means the built-in table

	// Earnings
	MaxPageSize      int
	PayoutWindowDays int

	// Backend selection
	DataBackend string

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		MetricsPort:        getEnv("METRICS_PORT", "9091"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/creatorbank.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "creatorbank"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "earning.recorded"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")),
		GoogleEstimatesSheet:     getEnv("GOOGLE_ESTIMATES_SHEET_NAME", "Tax Estimates"),
		GoogleLedgerSheet:        getEnv("GOOGLE_LEDGER_SHEET_NAME", "Ledger"),

		XLSXExportPath: getEnv("XLSX_EXPORT_PATH", ""),

		SyncBatchSize: getEnvInt("SYNC_BATCH_SIZE", 10),
		SyncInterval:  getEnvDuration("SYNC_INTERVAL", 30*time.Second),

		DefaultWithholdingRate: getEnvDecimal("DEFAULT_WITHHOLDING_RATE", decimal.NewFromInt(30)),
		SelfEmploymentRate:     getEnvDecimal("SELF_EMPLOYMENT_RATE", decimal.RequireFromString("0.153")),
		TaxBracketsFile:        getEnv("TAX_BRACKETS_FILE", ""),

		MaxPageSize:      getEnvInt("MAX_PAGE_SIZE", 1000),
		PayoutWindowDays: getEnvInt("PAYOUT_WINDOW_DAYS", 7),

		DataBackend: getEnv("DATA_BACKEND", "memory"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// MessagingEnabled reports whether an AMQP broker is configured.
func (c *Config) MessagingEnabled() bool {
	return strings.TrimSpace(c.AMQPURL) != ""
}

// SheetsEnabled reports whether the Google Sheets export is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	for _, p := range []struct{ name, value string }{{"port", c.Port}, {"metrics port", c.MetricsPort}} {
		if port, err := strconv.Atoi(p.value); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': must be a number", p.name, p.value))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid %s %d: must be between 1 and 65535", p.name, port))
		}
	}

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.XLSXExportPath != "" && filepath.Ext(c.XLSXExportPath) != ".xlsx" {
		errors = append(errors, fmt.Sprintf("invalid XLSX export path '%s': must end in .xlsx", c.XLSXExportPath))
	}

	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid CORS origin '%s': must be '*' or scheme://host", origin))
		}
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	hundred := decimal.NewFromInt(100)
	if c.DefaultWithholdingRate.IsNegative() || c.DefaultWithholdingRate.GreaterThan(hundred) {
		errors = append(errors, fmt.Sprintf("invalid default withholding rate %s: must be between 0 and 100", c.DefaultWithholdingRate))
	}
	if c.SelfEmploymentRate.IsNegative() || c.SelfEmploymentRate.GreaterThan(decimal.NewFromInt(1)) {
		errors = append(errors, fmt.Sprintf("invalid self-employment rate %s: must be a fraction between 0 and 1", c.SelfEmploymentRate))
	}

	if c.TaxBracketsFile != "" {
		if _, err := os.Stat(c.TaxBracketsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("tax brackets file does not exist: %s", c.TaxBracketsFile))
		}
	}

	if c.MaxPageSize < 1 || c.MaxPageSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid max page size %d: must be between 1 and 1000", c.MaxPageSize))
	}
	if c.PayoutWindowDays < 0 || c.PayoutWindowDays > 366 {
		errors = append(errors, fmt.Sprintf("invalid payout window %d days: must be between 0 and 366", c.PayoutWindowDays))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
