// Package memory is an in-process store used for local development and tests.
// It mirrors the SQLite repository's semantics, including the withholding
// guard, under a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"creatorbank/internal/core"
)

type Store struct {
	mu           sync.Mutex
	now          func() time.Time
	users        map[int64]core.User
	platforms    map[int64]core.ConnectedPlatform
	earnings     map[int64]core.Earning
	transactions []core.LedgerTransaction
	nextID       int64
}

func New() *Store {
	return &Store{
		now:       time.Now,
		users:     make(map[int64]core.User),
		platforms: make(map[int64]core.ConnectedPlatform),
		earnings:  make(map[int64]core.Earning),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateUser(_ context.Context, u core.User) (core.User, error) {
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == u.Email {
			return core.User{}, core.NewValidationError("email", "already registered")
		}
	}
	u.ID = s.id()
	u.Currency = core.NormalizeCurrency(u.Currency)
	if u.Tier == "" {
		u.Tier = core.TierFree
	}
	u.TaxSavingsBalance = decimal.Zero
	u.CreatedAt = s.now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, userID int64) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return core.User{}, core.NewNotFoundError("user", userID)
	}
	return u, nil
}

func (s *Store) UpdateWithholdingRate(_ context.Context, userID int64, rate decimal.Decimal) (core.User, error) {
	if err := core.ValidateWithholdingRate(rate); err != nil {
		return core.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return core.User{}, core.NewNotFoundError("user", userID)
	}
	u.WithholdingRate = rate
	s.users[userID] = u
	return u, nil
}

func (s *Store) CreatePlatform(_ context.Context, p core.ConnectedPlatform) (core.ConnectedPlatform, error) {
	if err := p.Validate(); err != nil {
		return core.ConnectedPlatform{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.UserID]; !ok {
		return core.ConnectedPlatform{}, core.NewNotFoundError("user", p.UserID)
	}
	p.ID = s.id()
	p.CreatedAt = s.now().UTC()
	s.platforms[p.ID] = p
	return p, nil
}

func (s *Store) GetPlatform(_ context.Context, platformID int64) (core.ConnectedPlatform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.platforms[platformID]
	if !ok {
		return core.ConnectedPlatform{}, core.NewNotFoundError("platform", platformID)
	}
	return p, nil
}

// ListPlatforms returns the user's active platforms in connection order.
func (s *Store) ListPlatforms(_ context.Context, userID int64) ([]core.ConnectedPlatform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ConnectedPlatform
	for _, p := range s.platforms {
		if p.UserID == userID && p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeactivatePlatform marks one of the user's platforms inactive. A platform
// owned by someone else is reported as not found.
func (s *Store) DeactivatePlatform(_ context.Context, userID, platformID int64) (core.ConnectedPlatform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.platforms[platformID]
	if !ok || p.UserID != userID {
		return core.ConnectedPlatform{}, core.NewNotFoundError("platform", platformID)
	}
	p.IsActive = false
	s.platforms[platformID] = p
	return p, nil
}

func (s *Store) CountActivePlatforms(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.platforms {
		if p.UserID == userID && p.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateEarning(_ context.Context, e core.Earning) (core.Earning, error) {
	if err := e.Validate(); err != nil {
		return core.Earning{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.platforms[e.PlatformID]
	if !ok {
		return core.Earning{}, core.NewNotFoundError("platform", e.PlatformID)
	}
	if p.UserID != e.UserID {
		return core.Earning{}, core.NewValidationError("platform_id", "platform belongs to another user")
	}

	e.ID = s.id()
	e.PlatformType = p.Type
	e.Currency = core.NormalizeCurrency(e.Currency)
	e.EarningDate = e.EarningDate.UTC()
	if e.PayoutDate != nil {
		payout := e.PayoutDate.UTC()
		e.PayoutDate = &payout
	}
	e.TaxWithheld = decimal.Zero
	e.TaxStatus = core.InitialTaxStatus(e.IsTaxable)
	e.Metadata = copyMetadata(e.Metadata)
	e.CreatedAt = s.now().UTC()
	s.earnings[e.ID] = e
	return e, nil
}

func (s *Store) GetEarning(_ context.Context, earningID int64) (core.Earning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.earnings[earningID]
	if !ok {
		return core.Earning{}, core.NewNotFoundError("earning", earningID)
	}
	e.Metadata = copyMetadata(e.Metadata)
	return e, nil
}

func (s *Store) ScanEarnings(_ context.Context, userID int64, q core.EarningQuery) ([]core.Earning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Earning
	for _, e := range s.earnings {
		if e.UserID != userID || !matches(e, q) {
			continue
		}
		e.Metadata = copyMetadata(e.Metadata)
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.EarningDate.Equal(b.EarningDate) {
			if q.NewestFirst {
				return a.ID > b.ID
			}
			return a.ID < b.ID
		}
		if q.NewestFirst {
			return a.EarningDate.After(b.EarningDate)
		}
		return a.EarningDate.Before(b.EarningDate)
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(e core.Earning, q core.EarningQuery) bool {
	if q.PlatformID != 0 && e.PlatformID != q.PlatformID {
		return false
	}
	if q.TaxableOnly && !e.IsTaxable {
		return false
	}
	if !q.From.IsZero() && e.EarningDate.Before(q.From) {
		return false
	}
	if !q.Until.IsZero() && !e.EarningDate.Before(q.Until) {
		return false
	}
	if !q.PayoutFrom.IsZero() || !q.PayoutUntil.IsZero() {
		if e.PayoutDate == nil {
			return false
		}
		if !q.PayoutFrom.IsZero() && e.PayoutDate.Before(q.PayoutFrom) {
			return false
		}
		if !q.PayoutUntil.IsZero() && !e.PayoutDate.Before(q.PayoutUntil) {
			return false
		}
	}
	return true
}

// PendingWithholdings returns taxable earnings still awaiting withholding,
// oldest first.
func (s *Store) PendingWithholdings(_ context.Context, limit int) ([]core.Earning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Earning
	for _, e := range s.earnings {
		if e.TaxStatus == core.TaxUnprocessed {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ApplyWithholding marks the earning withheld, raises the balance and appends
// the ledger row as one step. A second attempt for the same earning fails with
// a ConflictError and leaves everything untouched.
func (s *Store) ApplyWithholding(_ context.Context, w core.Withholding) (core.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.earnings[w.EarningID]
	if !ok || e.UserID != w.UserID {
		return core.LedgerTransaction{}, core.NewNotFoundError("earning", w.EarningID)
	}
	if e.TaxStatus != core.TaxUnprocessed || !e.IsTaxable {
		return core.LedgerTransaction{}, core.NewConflictError("earning", e.ID, core.ErrAlreadyWithheld)
	}
	u, ok := s.users[w.UserID]
	if !ok {
		return core.LedgerTransaction{}, core.NewNotFoundError("user", w.UserID)
	}

	tx := w.Transaction(u.TaxSavingsBalance)

	e.TaxWithheld = w.Amount
	e.TaxStatus = core.TaxWithheld
	u.TaxSavingsBalance = tx.BalanceAfter

	s.earnings[e.ID] = e
	s.users[u.ID] = u
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

// ListTransactions returns ledger rows newest first.
func (s *Store) ListTransactions(_ context.Context, userID int64, page core.Page) ([]core.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.LedgerTransaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID == userID {
			out = append(out, s.transactions[i])
		}
	}
	if page.Offset > 0 {
		if page.Offset >= len(out) {
			return nil, nil
		}
		out = out[page.Offset:]
	}
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
