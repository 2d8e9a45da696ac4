package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"creatorbank/internal/amqp"
	"creatorbank/internal/core"
)

// Store is the write side of persistence used for intake.
type Store interface {
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	GetUser(ctx context.Context, userID int64) (core.User, error)
	UpdateWithholdingRate(ctx context.Context, userID int64, rate decimal.Decimal) (core.User, error)
	CreatePlatform(ctx context.Context, p core.ConnectedPlatform) (core.ConnectedPlatform, error)
	ListPlatforms(ctx context.Context, userID int64) ([]core.ConnectedPlatform, error)
	DeactivatePlatform(ctx context.Context, userID, platformID int64) (core.ConnectedPlatform, error)
	CreateEarning(ctx context.Context, e core.Earning) (core.Earning, error)
}

// Publisher announces recorded earnings to the withholding worker.
type Publisher interface {
	PublishEarningRecorded(ctx context.Context, msg *amqp.EarningRecordedMessage) error
	Close() error
}

// Withholder runs withholding for one earning.
type Withholder interface {
	Withhold(ctx context.Context, earning core.Earning, user core.User) (*core.LedgerTransaction, error)
}

// NewUser is the input for RegisterUser. A nil WithholdingRate takes the
// configured default.
type NewUser struct {
	Email           string
	FullName        string
	Tier            core.UserTier
	Currency        string
	WithholdingRate *decimal.Decimal
}

// EarningService records users, platforms and earnings, and makes sure every
// new earning reaches the tax engine exactly once: through an earning.recorded
// message when a publisher is configured, inline otherwise.
type EarningService struct {
	store       Store
	publisher   Publisher
	withholder  Withholder
	defaultRate decimal.Decimal
}

func NewEarningService(store Store, publisher Publisher, withholder Withholder, defaultRate decimal.Decimal) *EarningService {
	return &EarningService{
		store:       store,
		publisher:   publisher,
		withholder:  withholder,
		defaultRate: defaultRate,
	}
}

func (s *EarningService) RegisterUser(ctx context.Context, in NewUser) (core.User, error) {
	rate := s.defaultRate
	if in.WithholdingRate != nil {
		rate = *in.WithholdingRate
	}
	return s.store.CreateUser(ctx, core.User{
		Email:           in.Email,
		FullName:        in.FullName,
		Tier:            in.Tier,
		Currency:        in.Currency,
		WithholdingRate: rate,
	})
}

func (s *EarningService) ConnectPlatform(ctx context.Context, p core.ConnectedPlatform) (core.ConnectedPlatform, error) {
	return s.store.CreatePlatform(ctx, p)
}

func (s *EarningService) Profile(ctx context.Context, userID int64) (core.User, error) {
	return s.store.GetUser(ctx, userID)
}

// ConnectedPlatforms lists the user's active platforms. An unknown user is a
// NotFoundError rather than an empty list.
func (s *EarningService) ConnectedPlatforms(ctx context.Context, userID int64) ([]core.ConnectedPlatform, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListPlatforms(ctx, userID)
}

// DisconnectPlatform deactivates a platform. Its earnings are kept and still
// count toward summaries and tax.
func (s *EarningService) DisconnectPlatform(ctx context.Context, userID, platformID int64) (core.ConnectedPlatform, error) {
	p, err := s.store.DeactivatePlatform(ctx, userID, platformID)
	if err != nil {
		return core.ConnectedPlatform{}, err
	}
	slog.InfoContext(ctx, "Platform disconnected",
		"user_id", userID, "platform_id", platformID, "platform", p.Type)
	return p, nil
}

// RecordEarning stores a new earning and hands it to withholding. A failure to
// publish or withhold does not fail the request: the earning stays
// unprocessed and the worker's sweep picks it up.
func (s *EarningService) RecordEarning(ctx context.Context, e core.Earning) (core.Earning, error) {
	if e.Currency == "" {
		e.Currency = core.DefaultCurrency
	}
	saved, err := s.store.CreateEarning(ctx, e)
	if err != nil {
		return core.Earning{}, fmt.Errorf("save earning: %w", err)
	}

	slog.InfoContext(ctx, "Earning recorded",
		"earning_id", saved.ID,
		"user_id", saved.UserID,
		"platform", saved.PlatformType,
		"amount", saved.Amount.String(),
		"taxable", saved.IsTaxable)

	if !saved.IsTaxable {
		return saved, nil
	}

	if s.publisher != nil {
		if err := s.publisher.PublishEarningRecorded(ctx, amqp.NewEarningRecordedMessage(saved)); err != nil {
			slog.ErrorContext(ctx, "Failed to publish earning recorded message",
				"earning_id", saved.ID, "error", err)
		}
		return saved, nil
	}

	return s.withholdInline(ctx, saved), nil
}

func (s *EarningService) withholdInline(ctx context.Context, e core.Earning) core.Earning {
	if s.withholder == nil {
		slog.WarnContext(ctx, "No publisher or withholder configured, earning left unprocessed",
			"earning_id", e.ID)
		return e
	}

	user, err := s.store.GetUser(ctx, e.UserID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load user for withholding", "earning_id", e.ID, "error", err)
		return e
	}

	tx, err := s.withholder.Withhold(ctx, e, user)
	switch {
	case errors.Is(err, core.ErrConflict):
		return e
	case err != nil:
		slog.ErrorContext(ctx, "Inline withholding failed", "earning_id", e.ID, "error", err)
		return e
	case tx != nil:
		e.TaxWithheld = tx.Amount
		e.TaxStatus = core.TaxWithheld
	}
	return e
}

func (s *EarningService) UpdateWithholdingRate(ctx context.Context, userID int64, rate decimal.Decimal) (core.User, error) {
	if err := core.ValidateWithholdingRate(rate); err != nil {
		return core.User{}, err
	}
	u, err := s.store.UpdateWithholdingRate(ctx, userID, rate)
	if err != nil {
		return core.User{}, err
	}
	slog.InfoContext(ctx, "Withholding rate updated", "user_id", userID, "rate", rate.String())
	return u, nil
}

func (s *EarningService) Close() error {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			return fmt.Errorf("close publisher: %w", err)
		}
	}
	return nil
}
