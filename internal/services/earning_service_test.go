package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"creatorbank/internal/amqp"
	"creatorbank/internal/core"
	"creatorbank/internal/storage/memory"
	"creatorbank/internal/tax"
)

type fakePublisher struct {
	messages []*amqp.EarningRecordedMessage
	err      error
	closed   bool
}

func (p *fakePublisher) PublishEarningRecorded(_ context.Context, msg *amqp.EarningRecordedMessage) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func setup(t *testing.T, publisher Publisher) (*EarningService, *memory.Store, core.User, core.ConnectedPlatform) {
	t.Helper()
	store := memory.New()
	engine := tax.NewEngine(store, tax.DefaultConfig())
	svc := NewEarningService(store, publisher, engine, decimal.NewFromInt(30))

	ctx := context.Background()
	user, err := svc.RegisterUser(ctx, NewUser{Email: "c@example.com", FullName: "C"})
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	platform, err := svc.ConnectPlatform(ctx, core.ConnectedPlatform{UserID: user.ID, Type: core.PlatformTwitch, IsActive: true})
	if err != nil {
		t.Fatalf("ConnectPlatform: %v", err)
	}
	return svc, store, user, platform
}

func earning(user core.User, platform core.ConnectedPlatform, amount string, taxable bool) core.Earning {
	return core.Earning{
		UserID:      user.ID,
		PlatformID:  platform.ID,
		Amount:      decimal.RequireFromString(amount),
		EarningDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EarningType: "tip",
		IsTaxable:   taxable,
	}
}

func TestRegisterUserDefaults(t *testing.T) {
	svc, _, user, _ := setup(t, nil)
	if !user.WithholdingRate.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("default rate = %s, want 30", user.WithholdingRate)
	}
	if user.Currency != "USD" {
		t.Fatalf("currency = %s", user.Currency)
	}

	zero := decimal.Zero
	u, err := svc.RegisterUser(context.Background(), NewUser{Email: "z@example.com", WithholdingRate: &zero})
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if !u.WithholdingRate.IsZero() {
		t.Fatalf("explicit zero rate = %s", u.WithholdingRate)
	}
}

func TestRecordEarningInline(t *testing.T) {
	svc, store, user, platform := setup(t, nil)
	ctx := context.Background()

	saved, err := svc.RecordEarning(ctx, earning(user, platform, "1000.00", true))
	if err != nil {
		t.Fatalf("RecordEarning: %v", err)
	}
	if saved.TaxStatus != core.TaxWithheld || !saved.TaxWithheld.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("earning = %+v", saved)
	}
	u, _ := store.GetUser(ctx, user.ID)
	if !u.TaxSavingsBalance.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("balance = %s, want 300", u.TaxSavingsBalance)
	}

	exempt, err := svc.RecordEarning(ctx, earning(user, platform, "50", false))
	if err != nil {
		t.Fatalf("RecordEarning exempt: %v", err)
	}
	if exempt.TaxStatus != core.TaxExempt {
		t.Fatalf("status = %s, want exempt", exempt.TaxStatus)
	}
	u, _ = store.GetUser(ctx, user.ID)
	if !u.TaxSavingsBalance.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("balance changed on exempt earning: %s", u.TaxSavingsBalance)
	}
}

func TestRecordEarningPublishes(t *testing.T) {
	pub := &fakePublisher{}
	svc, store, user, platform := setup(t, pub)
	ctx := context.Background()

	saved, err := svc.RecordEarning(ctx, earning(user, platform, "10", true))
	if err != nil {
		t.Fatalf("RecordEarning: %v", err)
	}
	if len(pub.messages) != 1 || pub.messages[0].EarningID != saved.ID {
		t.Fatalf("messages = %+v", pub.messages)
	}
	if saved.TaxStatus != core.TaxUnprocessed {
		t.Fatalf("status = %s, want unprocessed until the worker runs", saved.TaxStatus)
	}
	u, _ := store.GetUser(ctx, user.ID)
	if !u.TaxSavingsBalance.IsZero() {
		t.Fatalf("balance = %s, want 0", u.TaxSavingsBalance)
	}

	if _, err := svc.RecordEarning(ctx, earning(user, platform, "10", false)); err != nil {
		t.Fatalf("RecordEarning exempt: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("exempt earning should not be published, got %d messages", len(pub.messages))
	}
}

func TestRecordEarningPublishFailureKeepsEarning(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	svc, store, user, platform := setup(t, pub)

	saved, err := svc.RecordEarning(context.Background(), earning(user, platform, "10", true))
	if err != nil {
		t.Fatalf("RecordEarning: %v", err)
	}
	pending, _ := store.PendingWithholdings(context.Background(), 10)
	if len(pending) != 1 || pending[0].ID != saved.ID {
		t.Fatalf("pending = %+v, want the saved earning", pending)
	}
}

func TestRecordEarningValidation(t *testing.T) {
	svc, _, user, platform := setup(t, nil)

	tests := []struct {
		name   string
		mutate func(*core.Earning)
		target error
	}{
		{"negative amount", func(e *core.Earning) { e.Amount = decimal.NewFromInt(-1) }, core.ErrValidation},
		{"bad currency", func(e *core.Earning) { e.Currency = "DOLLARS" }, core.ErrValidation},
		{"missing date", func(e *core.Earning) { e.EarningDate = time.Time{} }, core.ErrValidation},
		{"unknown platform", func(e *core.Earning) { e.PlatformID = 9999 }, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := earning(user, platform, "10", true)
			tt.mutate(&e)
			if _, err := svc.RecordEarning(context.Background(), e); !errors.Is(err, tt.target) {
				t.Fatalf("err = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestUpdateWithholdingRate(t *testing.T) {
	svc, _, user, _ := setup(t, nil)
	ctx := context.Background()

	u, err := svc.UpdateWithholdingRate(ctx, user.ID, decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("UpdateWithholdingRate: %v", err)
	}
	if !u.WithholdingRate.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("rate = %s", u.WithholdingRate)
	}

	for _, bad := range []string{"-0.01", "100.01"} {
		if _, err := svc.UpdateWithholdingRate(ctx, user.ID, decimal.RequireFromString(bad)); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("rate %s err = %v, want validation", bad, err)
		}
	}
	if _, err := svc.UpdateWithholdingRate(ctx, 999, decimal.NewFromInt(10)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown user err = %v, want not found", err)
	}
}

func TestDisconnectPlatform(t *testing.T) {
	svc, store, user, platform := setup(t, nil)
	ctx := context.Background()

	if _, err := svc.ConnectedPlatforms(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown user err = %v, want not found", err)
	}

	stranger, err := svc.RegisterUser(ctx, NewUser{Email: "s@example.com"})
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if _, err := svc.DisconnectPlatform(ctx, stranger.ID, platform.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("foreign disconnect err = %v, want not found", err)
	}

	if _, err := svc.RecordEarning(ctx, earning(user, platform, "100", true)); err != nil {
		t.Fatalf("RecordEarning: %v", err)
	}
	p, err := svc.DisconnectPlatform(ctx, user.ID, platform.ID)
	if err != nil {
		t.Fatalf("DisconnectPlatform: %v", err)
	}
	if p.IsActive {
		t.Fatalf("platform still active: %+v", p)
	}

	listed, err := svc.ConnectedPlatforms(ctx, user.ID)
	if err != nil {
		t.Fatalf("ConnectedPlatforms: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("listed = %+v, want none", listed)
	}

	// Earnings from a disconnected platform stay on record.
	kept, _ := store.ScanEarnings(ctx, user.ID, core.EarningQuery{PlatformID: platform.ID})
	if len(kept) != 1 {
		t.Fatalf("earnings after disconnect = %d, want 1", len(kept))
	}

	profile, err := svc.Profile(ctx, user.ID)
	if err != nil || profile.Email != "c@example.com" {
		t.Fatalf("Profile = %+v, %v", profile, err)
	}
}

func TestCloseClosesPublisher(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewEarningService(memory.New(), pub, nil, decimal.NewFromInt(30))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pub.closed {
		t.Fatal("publisher not closed")
	}
	if err := NewEarningService(memory.New(), nil, nil, decimal.Zero).Close(); err != nil {
		t.Fatalf("Close without publisher: %v", err)
	}
}
