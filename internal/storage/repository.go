package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"creatorbank/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that TEXT comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const earningColumns = `e.id, e.user_id, e.platform_id, p.platform_type, e.amount, e.currency,
	e.earning_date, e.payout_date, e.earning_type, e.description, e.is_taxable,
	e.tax_withheld, e.tax_status, e.metadata, e.created_at`

const userColumns = `id, email, full_name, tier, currency, withholding_rate, tax_savings_balance, created_at`

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serialises them anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (core.User, error) {
	var (
		u                      core.User
		tier, rate, balance, c string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &tier, &u.Currency, &rate, &balance, &c); err != nil {
		return core.User{}, err
	}
	u.Tier = core.UserTier(tier)

	var err error
	if u.WithholdingRate, err = decimal.NewFromString(rate); err != nil {
		return core.User{}, fmt.Errorf("parse withholding rate: %w", err)
	}
	if u.TaxSavingsBalance, err = decimal.NewFromString(balance); err != nil {
		return core.User{}, fmt.Errorf("parse balance: %w", err)
	}
	if u.CreatedAt, err = parseTime(c); err != nil {
		return core.User{}, err
	}
	return u, nil
}

func scanEarning(row rowScanner) (core.Earning, error) {
	var (
		e                              core.Earning
		platformType, amount, withheld string
		earningDate, status, created   string
		payoutDate, metadata           sql.NullString
	)
	err := row.Scan(&e.ID, &e.UserID, &e.PlatformID, &platformType, &amount, &e.Currency,
		&earningDate, &payoutDate, &e.EarningType, &e.Description, &e.IsTaxable,
		&withheld, &status, &metadata, &created)
	if err != nil {
		return core.Earning{}, err
	}
	e.PlatformType = core.PlatformType(platformType)
	e.TaxStatus = core.TaxStatus(status)

	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Earning{}, fmt.Errorf("parse amount: %w", err)
	}
	if e.TaxWithheld, err = decimal.NewFromString(withheld); err != nil {
		return core.Earning{}, fmt.Errorf("parse tax withheld: %w", err)
	}
	if e.EarningDate, err = parseTime(earningDate); err != nil {
		return core.Earning{}, err
	}
	if payoutDate.Valid {
		t, err := parseTime(payoutDate.String)
		if err != nil {
			return core.Earning{}, err
		}
		e.PayoutDate = &t
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return core.Earning{}, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return core.Earning{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return e, nil
}

func scanTransaction(row rowScanner) (core.LedgerTransaction, error) {
	var (
		tx                                    core.LedgerTransaction
		id, amount, kind, date, before, after string
		related                               sql.NullInt64
	)
	if err := row.Scan(&id, &tx.UserID, &amount, &tx.Currency, &kind, &date, &tx.Description, &before, &after, &related); err != nil {
		return core.LedgerTransaction{}, err
	}
	var err error
	if tx.ID, err = uuid.Parse(id); err != nil {
		return core.LedgerTransaction{}, fmt.Errorf("parse transaction id: %w", err)
	}
	tx.Kind = core.TransactionKind(kind)
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.LedgerTransaction{}, fmt.Errorf("parse amount: %w", err)
	}
	if tx.BalanceBefore, err = decimal.NewFromString(before); err != nil {
		return core.LedgerTransaction{}, fmt.Errorf("parse balance before: %w", err)
	}
	if tx.BalanceAfter, err = decimal.NewFromString(after); err != nil {
		return core.LedgerTransaction{}, fmt.Errorf("parse balance after: %w", err)
	}
	if tx.Date, err = parseTime(date); err != nil {
		return core.LedgerTransaction{}, err
	}
	if related.Valid {
		id := related.Int64
		tx.RelatedEarningID = &id
	}
	return tx, nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}
	u.Currency = core.NormalizeCurrency(u.Currency)
	if u.Tier == "" {
		u.Tier = core.TierFree
	}
	u.TaxSavingsBalance = decimal.Zero
	u.CreatedAt = r.now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (email, full_name, tier, currency, withholding_rate, tax_savings_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.FullName, string(u.Tier), u.Currency, u.WithholdingRate.String(),
		u.TaxSavingsBalance.String(), formatTime(u.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, core.NewValidationError("email", "already registered")
		}
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return core.User{}, fmt.Errorf("user id: %w", err)
	}

	slog.InfoContext(ctx, "User created", "user_id", u.ID, "tier", u.Tier, "currency", u.Currency)
	return u, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, userID int64) (core.User, error) {
	return getUser(ctx, r.db, userID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getUser(ctx context.Context, q querier, userID int64) (core.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.NewNotFoundError("user", userID)
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	return u, nil
}

func (r *SQLiteRepository) UpdateWithholdingRate(ctx context.Context, userID int64, rate decimal.Decimal) (core.User, error) {
	if err := core.ValidateWithholdingRate(rate); err != nil {
		return core.User{}, err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET withholding_rate = ? WHERE id = ?`, rate.String(), userID)
	if err != nil {
		return core.User{}, fmt.Errorf("update withholding rate: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return core.User{}, fmt.Errorf("update withholding rate: %w", err)
	} else if n == 0 {
		return core.User{}, core.NewNotFoundError("user", userID)
	}
	return r.GetUser(ctx, userID)
}

func (r *SQLiteRepository) CreatePlatform(ctx context.Context, p core.ConnectedPlatform) (core.ConnectedPlatform, error) {
	if err := p.Validate(); err != nil {
		return core.ConnectedPlatform{}, err
	}
	if _, err := r.GetUser(ctx, p.UserID); err != nil {
		return core.ConnectedPlatform{}, err
	}
	p.CreatedAt = r.now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO connected_platforms (user_id, platform_type, username, is_active, last_synced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.UserID, string(p.Type), p.Username, p.IsActive, nullTime(p.LastSyncedAt), formatTime(p.CreatedAt))
	if err != nil {
		return core.ConnectedPlatform{}, fmt.Errorf("insert platform: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return core.ConnectedPlatform{}, fmt.Errorf("platform id: %w", err)
	}
	return p, nil
}

const platformColumns = `id, user_id, platform_type, username, is_active, last_synced_at, created_at`

func scanPlatform(row rowScanner) (core.ConnectedPlatform, error) {
	var (
		p            core.ConnectedPlatform
		platformType string
		synced       sql.NullString
		created      string
	)
	if err := row.Scan(&p.ID, &p.UserID, &platformType, &p.Username, &p.IsActive, &synced, &created); err != nil {
		return core.ConnectedPlatform{}, err
	}
	p.Type = core.PlatformType(platformType)
	if synced.Valid {
		t, err := parseTime(synced.String)
		if err != nil {
			return core.ConnectedPlatform{}, err
		}
		p.LastSyncedAt = &t
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return core.ConnectedPlatform{}, err
	}
	return p, nil
}

func (r *SQLiteRepository) GetPlatform(ctx context.Context, platformID int64) (core.ConnectedPlatform, error) {
	p, err := scanPlatform(r.db.QueryRowContext(ctx,
		`SELECT `+platformColumns+` FROM connected_platforms WHERE id = ?`, platformID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.ConnectedPlatform{}, core.NewNotFoundError("platform", platformID)
	}
	if err != nil {
		return core.ConnectedPlatform{}, fmt.Errorf("get platform %d: %w", platformID, err)
	}
	return p, nil
}

// ListPlatforms returns the user's active platforms in connection order.
func (r *SQLiteRepository) ListPlatforms(ctx context.Context, userID int64) ([]core.ConnectedPlatform, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+platformColumns+` FROM connected_platforms WHERE user_id = ? AND is_active = 1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}
	defer rows.Close()

	var out []core.ConnectedPlatform
	for rows.Next() {
		p, err := scanPlatform(rows)
		if err != nil {
			return nil, fmt.Errorf("scan platform: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeactivatePlatform marks one of the user's platforms inactive. A platform
// owned by someone else is reported as not found. Deactivating twice is a
// no-op.
func (r *SQLiteRepository) DeactivatePlatform(ctx context.Context, userID, platformID int64) (core.ConnectedPlatform, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE connected_platforms SET is_active = 0 WHERE id = ? AND user_id = ?`, platformID, userID)
	if err != nil {
		return core.ConnectedPlatform{}, fmt.Errorf("deactivate platform %d: %w", platformID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return core.ConnectedPlatform{}, fmt.Errorf("deactivate platform %d: %w", platformID, err)
	} else if n == 0 {
		return core.ConnectedPlatform{}, core.NewNotFoundError("platform", platformID)
	}
	return r.GetPlatform(ctx, platformID)
}

func (r *SQLiteRepository) CountActivePlatforms(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM connected_platforms WHERE user_id = ? AND is_active = 1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count platforms: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) CreateEarning(ctx context.Context, e core.Earning) (core.Earning, error) {
	if err := e.Validate(); err != nil {
		return core.Earning{}, err
	}
	p, err := r.GetPlatform(ctx, e.PlatformID)
	if err != nil {
		return core.Earning{}, err
	}
	if p.UserID != e.UserID {
		return core.Earning{}, core.NewValidationError("platform_id", "platform belongs to another user")
	}

	e.PlatformType = p.Type
	e.Currency = core.NormalizeCurrency(e.Currency)
	e.EarningDate = e.EarningDate.UTC()
	if e.PayoutDate != nil {
		payout := e.PayoutDate.UTC()
		e.PayoutDate = &payout
	}
	e.TaxWithheld = decimal.Zero
	e.TaxStatus = core.InitialTaxStatus(e.IsTaxable)
	e.CreatedAt = r.now().UTC()

	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return core.Earning{}, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO earnings (user_id, platform_id, amount, currency, earning_date, payout_date,
			earning_type, description, is_taxable, tax_withheld, tax_status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.PlatformID, e.Amount.String(), e.Currency, formatTime(e.EarningDate), nullTime(e.PayoutDate),
		e.EarningType, e.Description, e.IsTaxable, e.TaxWithheld.String(), string(e.TaxStatus), metadata,
		formatTime(e.CreatedAt))
	if err != nil {
		return core.Earning{}, fmt.Errorf("insert earning: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return core.Earning{}, fmt.Errorf("earning id: %w", err)
	}

	slog.InfoContext(ctx, "Earning saved to SQLite",
		"id", e.ID,
		"user_id", e.UserID,
		"platform", e.PlatformType,
		"amount", e.Amount.String(),
		"currency", e.Currency,
		"tax_status", e.TaxStatus)

	return e, nil
}

func (r *SQLiteRepository) GetEarning(ctx context.Context, earningID int64) (core.Earning, error) {
	e, err := scanEarning(r.db.QueryRowContext(ctx, `
		SELECT `+earningColumns+`
		FROM earnings e JOIN connected_platforms p ON p.id = e.platform_id
		WHERE e.id = ?`, earningID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Earning{}, core.NewNotFoundError("earning", earningID)
	}
	if err != nil {
		return core.Earning{}, fmt.Errorf("get earning %d: %w", earningID, err)
	}
	return e, nil
}

// ScanEarnings returns one user's earnings matching q, ordered by earning date.
func (r *SQLiteRepository) ScanEarnings(ctx context.Context, userID int64, q core.EarningQuery) ([]core.Earning, error) {
	var (
		where = []string{"e.user_id = ?"}
		args  = []any{userID}
	)
	if q.PlatformID != 0 {
		where = append(where, "e.platform_id = ?")
		args = append(args, q.PlatformID)
	}
	if q.TaxableOnly {
		where = append(where, "e.is_taxable = 1")
	}
	if !q.From.IsZero() {
		where = append(where, "e.earning_date >= ?")
		args = append(args, formatTime(q.From))
	}
	if !q.Until.IsZero() {
		where = append(where, "e.earning_date < ?")
		args = append(args, formatTime(q.Until))
	}
	if !q.PayoutFrom.IsZero() || !q.PayoutUntil.IsZero() {
		where = append(where, "e.payout_date IS NOT NULL")
	}
	if !q.PayoutFrom.IsZero() {
		where = append(where, "e.payout_date >= ?")
		args = append(args, formatTime(q.PayoutFrom))
	}
	if !q.PayoutUntil.IsZero() {
		where = append(where, "e.payout_date < ?")
		args = append(args, formatTime(q.PayoutUntil))
	}

	order := "e.earning_date ASC, e.id ASC"
	if q.NewestFirst {
		order = "e.earning_date DESC, e.id DESC"
	}

	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}
	args = append(args, limit, q.Offset)

	query := `SELECT ` + earningColumns + `
		FROM earnings e JOIN connected_platforms p ON p.id = e.platform_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + order + `
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query earnings: %w", err)
	}
	defer rows.Close()

	var out []core.Earning
	for rows.Next() {
		e, err := scanEarning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate earnings: %w", err)
	}
	return out, nil
}

// PendingWithholdings returns taxable earnings still awaiting withholding,
// oldest first.
func (r *SQLiteRepository) PendingWithholdings(ctx context.Context, limit int) ([]core.Earning, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+earningColumns+`
		FROM earnings e JOIN connected_platforms p ON p.id = e.platform_id
		WHERE e.tax_status = 'unprocessed'
		ORDER BY e.id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending withholdings: %w", err)
	}
	defer rows.Close()

	var out []core.Earning
	for rows.Next() {
		e, err := scanEarning(rows)
		if err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ApplyWithholding marks the earning withheld, raises the user's balance and
// appends the tax_savings ledger row in one transaction. The status-guarded
// UPDATE and the partial unique index on the ledger both turn a second
// attempt into a ConflictError.
func (r *SQLiteRepository) ApplyWithholding(ctx context.Context, w core.Withholding) (core.LedgerTransaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.LedgerTransaction{}, fmt.Errorf("begin withholding: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE earnings SET tax_status = 'withheld', tax_withheld = ?
		WHERE id = ? AND user_id = ? AND tax_status = 'unprocessed' AND is_taxable = 1`,
		w.Amount.String(), w.EarningID, w.UserID)
	if err != nil {
		return core.LedgerTransaction{}, fmt.Errorf("mark earning withheld: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.LedgerTransaction{}, fmt.Errorf("mark earning withheld: %w", err)
	}
	if n == 0 {
		var owner int64
		err := tx.QueryRowContext(ctx, `SELECT user_id FROM earnings WHERE id = ?`, w.EarningID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != w.UserID) {
			return core.LedgerTransaction{}, core.NewNotFoundError("earning", w.EarningID)
		}
		if err != nil {
			return core.LedgerTransaction{}, fmt.Errorf("check earning: %w", err)
		}
		return core.LedgerTransaction{}, core.NewConflictError("earning", w.EarningID, core.ErrAlreadyWithheld)
	}

	user, err := getUser(ctx, tx, w.UserID)
	if err != nil {
		return core.LedgerTransaction{}, err
	}
	ledger := w.Transaction(user.TaxSavingsBalance)

	if _, err := tx.ExecContext(ctx, `UPDATE users SET tax_savings_balance = ? WHERE id = ?`,
		ledger.BalanceAfter.String(), w.UserID); err != nil {
		return core.LedgerTransaction{}, fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, user_id, amount, currency, kind, date, description,
			balance_before, balance_after, related_earning_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_transactions))`,
		ledger.ID.String(), ledger.UserID, ledger.Amount.String(), ledger.Currency, string(ledger.Kind),
		formatTime(ledger.Date), ledger.Description, ledger.BalanceBefore.String(), ledger.BalanceAfter.String(),
		w.EarningID)
	if err != nil {
		if isUniqueViolation(err) {
			return core.LedgerTransaction{}, core.NewConflictError("earning", w.EarningID, core.ErrAlreadyWithheld)
		}
		return core.LedgerTransaction{}, fmt.Errorf("insert ledger transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.LedgerTransaction{}, fmt.Errorf("commit withholding: %w", err)
	}
	return ledger, nil
}

// ListTransactions returns ledger rows newest first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID int64, page core.Page) ([]core.LedgerTransaction, error) {
	limit := -1
	if page.Limit > 0 {
		limit = page.Limit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, amount, currency, kind, date, description, balance_before, balance_after, related_earning_id
		FROM ledger_transactions
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`, userID, limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.LedgerTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
