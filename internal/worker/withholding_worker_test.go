package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"creatorbank/internal/amqp"
	"creatorbank/internal/core"
	"creatorbank/internal/storage/memory"
	"creatorbank/internal/tax"
)

type stubEngine struct {
	err   error
	calls []int64
}

func (s *stubEngine) WithholdByID(_ context.Context, earningID int64) (*core.LedgerTransaction, error) {
	s.calls = append(s.calls, earningID)
	return nil, s.err
}

func TestHandleEarningRecordedOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		requeue bool
	}{
		{"success", nil, false},
		{"already withheld", core.NewConflictError("earning", 1, core.ErrAlreadyWithheld), false},
		{"missing earning", core.NewNotFoundError("earning", 1), false},
		{"invalid earning", core.NewValidationError("amount", "negative"), false},
		{"storage failure", errors.New("database is locked"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{err: tt.err}
			w := NewWithholdingWorker(engine, memory.New(), 10)

			err := w.HandleEarningRecorded(context.Background(), &amqp.EarningRecordedMessage{EarningID: 1})
			if (err != nil) != tt.requeue {
				t.Fatalf("err = %v, requeue = %v", err, tt.requeue)
			}
			if len(engine.calls) != 1 || engine.calls[0] != 1 {
				t.Fatalf("calls = %v", engine.calls)
			}
		})
	}
}

func newPipeline(t *testing.T) (*memory.Store, *WithholdingWorker, core.User, core.ConnectedPlatform) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	user, err := store.CreateUser(ctx, core.User{Email: "w@example.com", Currency: "USD", WithholdingRate: decimal.NewFromInt(30)})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	platform, err := store.CreatePlatform(ctx, core.ConnectedPlatform{UserID: user.ID, Type: core.PlatformYouTube, IsActive: true})
	if err != nil {
		t.Fatalf("create platform: %v", err)
	}
	engine := tax.NewEngine(store, tax.DefaultConfig())
	return store, NewWithholdingWorker(engine, store, 2), user, platform
}

func record(t *testing.T, store *memory.Store, user core.User, platform core.ConnectedPlatform, amount string, taxable bool) core.Earning {
	t.Helper()
	e, err := store.CreateEarning(context.Background(), core.Earning{
		UserID:      user.ID,
		PlatformID:  platform.ID,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		EarningDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		IsTaxable:   taxable,
	})
	if err != nil {
		t.Fatalf("create earning: %v", err)
	}
	return e
}

func TestRedeliveryWithholdsOnce(t *testing.T) {
	store, w, user, platform := newPipeline(t)
	ctx := context.Background()
	e := record(t, store, user, platform, "1000.00", true)

	msg := amqp.NewEarningRecordedMessage(e)
	for i := 0; i < 3; i++ {
		if err := w.HandleEarningRecorded(ctx, msg); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	u, _ := store.GetUser(ctx, user.ID)
	if !u.TaxSavingsBalance.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("balance = %s, want 300", u.TaxSavingsBalance)
	}
	txs, _ := store.ListTransactions(ctx, user.ID, core.Page{})
	if len(txs) != 1 {
		t.Fatalf("transactions = %d, want 1", len(txs))
	}
}

func TestProcessPendingBatches(t *testing.T) {
	store, w, user, platform := newPipeline(t)
	ctx := context.Background()
	for _, amount := range []string{"100", "200", "300"} {
		record(t, store, user, platform, amount, true)
	}
	record(t, store, user, platform, "999", false)

	n, err := w.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if n != 2 {
		t.Fatalf("first batch processed %d, want 2", n)
	}

	n, err = w.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("second batch processed %d, want 1", n)
	}

	if n, _ := w.ProcessPending(ctx); n != 0 {
		t.Fatalf("third batch processed %d, want 0", n)
	}

	u, _ := store.GetUser(ctx, user.ID)
	if !u.TaxSavingsBalance.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("balance = %s, want 180", u.TaxSavingsBalance)
	}
}

func TestProcessPendingCountsOnlyWithheld(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"conflict", core.NewConflictError("earning", 1, core.ErrAlreadyWithheld)},
		{"not found", core.NewNotFoundError("earning", 1)},
		{"invalid", core.NewValidationError("amount", "negative amounts are not supported")},
		{"not taxable", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _, user, platform := newPipeline(t)
			record(t, store, user, platform, "10", true)
			record(t, store, user, platform, "20", true)

			engine := &stubEngine{err: tt.err}
			n, err := NewWithholdingWorker(engine, store, 10).ProcessPending(context.Background())
			if err != nil {
				t.Fatalf("ProcessPending: %v", err)
			}
			if n != 0 {
				t.Fatalf("withheld = %d, want 0", n)
			}
			if len(engine.calls) != 2 {
				t.Fatalf("engine calls = %d, want 2", len(engine.calls))
			}
		})
	}
}

func TestStartupCheckUsesLargerBatch(t *testing.T) {
	store, w, user, platform := newPipeline(t)
	for i := 0; i < 7; i++ {
		record(t, store, user, platform, "10", true)
	}

	n, err := w.StartupCheck(context.Background())
	if err != nil {
		t.Fatalf("StartupCheck: %v", err)
	}
	if n != 7 {
		t.Fatalf("processed = %d, want 7", n)
	}
}

func TestSweeperLifecycle(t *testing.T) {
	store, w, user, platform := newPipeline(t)
	record(t, store, user, platform, "50", true)

	var swept atomic.Int64
	s := NewSweeper(w, SweeperConfig{
		PollInterval: 10 * time.Millisecond,
		OnSweep:      func(n int) { swept.Add(int64(n)) },
	})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		u, _ := store.GetUser(ctx, user.ID)
		if u.TaxSavingsBalance.Equal(decimal.NewFromInt(15)) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not withhold, balance = %s", u.TaxSavingsBalance)
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if got := swept.Load(); got != 1 {
		t.Fatalf("OnSweep saw %d withholdings, want 1", got)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop after restart: %v", err)
	}
}
