// Package earnings reduces a creator's earning records into summaries,
// filtered listings and payout schedules.
//
// All reductions use exact decimal arithmetic and never mutate records.
package earnings

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"creatorbank/internal/core"
)

// Store is the read side of the persistence layer used by the aggregator.
type Store interface {
	GetUser(ctx context.Context, userID int64) (core.User, error)
	ScanEarnings(ctx context.Context, userID int64, q core.EarningQuery) ([]core.Earning, error)
	CountActivePlatforms(ctx context.Context, userID int64) (int, error)
}

// Config bounds the aggregator's scans.
type Config struct {
	MaxPageSize      int
	PayoutWindowDays int
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxPageSize:      core.MaxPageLimit,
		PayoutWindowDays: 7,
	}
}

// Aggregator computes earnings summaries. It holds no state between calls.
type Aggregator struct {
	store  Store
	config Config
}

func NewAggregator(store Store, config Config) *Aggregator {
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = core.MaxPageLimit
	}
	if config.PayoutWindowDays < 0 {
		config.PayoutWindowDays = DefaultConfig().PayoutWindowDays
	}
	return &Aggregator{store: store, config: config}
}

// Summarize returns all-time, this-month, last-month and this-year totals,
// the per-platform-type breakdown and the tax withheld, as of asOf.
//
// Every bucket only sees earnings dated at or before asOf. Lower bounds are
// inclusive, so an earning at exactly the month start counts toward the month.
func (a *Aggregator) Summarize(ctx context.Context, userID int64, asOf time.Time) (core.EarningsSummary, error) {
	asOf = asOf.UTC()

	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return core.EarningsSummary{}, err
	}

	earnings, err := a.store.ScanEarnings(ctx, userID, core.EarningQuery{
		Until: core.InclusiveUntil(asOf),
	})
	if err != nil {
		return core.EarningsSummary{}, fmt.Errorf("scan earnings: %w", err)
	}

	return reduceSummary(earnings, asOf, core.NormalizeCurrency(user.Currency)), nil
}

func reduceSummary(earnings []core.Earning, asOf time.Time, currency string) core.EarningsSummary {
	monthStart := core.MonthStart(asOf)
	lastMonthStart := core.PreviousMonthStart(asOf)
	yearStart := core.YearStart(asOf)

	summary := core.EarningsSummary{
		AsOf:             asOf,
		Currency:         currency,
		TotalAllTime:     decimal.Zero,
		TotalThisMonth:   decimal.Zero,
		TotalLastMonth:   decimal.Zero,
		TotalThisYear:    decimal.Zero,
		ByPlatform:       make(map[core.PlatformType]decimal.Decimal),
		TaxWithheldTotal: decimal.Zero,
	}

	for _, e := range earnings {
		date := e.EarningDate.UTC()
		if date.After(asOf) {
			continue
		}

		summary.TotalAllTime = summary.TotalAllTime.Add(e.Amount)
		if !date.Before(monthStart) {
			summary.TotalThisMonth = summary.TotalThisMonth.Add(e.Amount)
		} else if !date.Before(lastMonthStart) {
			summary.TotalLastMonth = summary.TotalLastMonth.Add(e.Amount)
		}
		if !date.Before(yearStart) {
			summary.TotalThisYear = summary.TotalThisYear.Add(e.Amount)
		}

		platform := e.PlatformType
		if platform == "" {
			platform = core.PlatformOther
		}
		summary.ByPlatform[platform] = summary.ByPlatform[platform].Add(e.Amount)

		if e.IsTaxable {
			summary.TaxWithheldTotal = summary.TaxWithheldTotal.Add(e.TaxWithheld)
		}
	}

	return summary
}

// ListEarnings returns a page of earnings, newest first by earning date.
func (a *Aggregator) ListEarnings(ctx context.Context, userID int64, filter core.EarningFilter, page core.Page) ([]core.Earning, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	page, err := page.Normalize(a.config.MaxPageSize)
	if err != nil {
		return nil, err
	}

	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	earnings, err := a.store.ScanEarnings(ctx, userID, filter.Query(page))
	if err != nil {
		return nil, fmt.Errorf("list earnings: %w", err)
	}
	if earnings == nil {
		earnings = []core.Earning{}
	}
	return earnings, nil
}

// UpcomingPayouts groups earnings paid out within [now, now+windowDays] by
// UTC calendar day, ascending.
func (a *Aggregator) UpcomingPayouts(ctx context.Context, userID int64, now time.Time, windowDays int) ([]core.PayoutDay, error) {
	if windowDays < 0 {
		return nil, core.NewValidationError("window_days", "must not be negative")
	}
	now = now.UTC()
	end := now.AddDate(0, 0, windowDays)

	if _, err := a.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	earnings, err := a.store.ScanEarnings(ctx, userID, core.EarningQuery{
		PayoutFrom:  now,
		PayoutUntil: core.InclusiveUntil(end),
	})
	if err != nil {
		return nil, fmt.Errorf("scan payouts: %w", err)
	}

	return groupPayouts(earnings), nil
}

func groupPayouts(earnings []core.Earning) []core.PayoutDay {
	byDay := make(map[time.Time]decimal.Decimal)
	for _, e := range earnings {
		if e.PayoutDate == nil {
			continue
		}
		day := core.DayStart(*e.PayoutDate)
		byDay[day] = byDay[day].Add(e.Amount)
	}

	payouts := make([]core.PayoutDay, 0, len(byDay))
	for day, amount := range byDay {
		payouts = append(payouts, core.PayoutDay{Date: day, Amount: amount})
	}
	sort.Slice(payouts, func(i, j int) bool {
		return payouts[i].Date.Before(payouts[j].Date)
	})
	return payouts
}

// Dashboard assembles the creator overview. The independent reads run
// concurrently and the first failure cancels the rest.
func (a *Aggregator) Dashboard(ctx context.Context, userID int64, now time.Time) (core.Dashboard, error) {
	now = now.UTC()

	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return core.Dashboard{}, err
	}

	var (
		platforms int
		month     []core.Earning
		payouts   []core.PayoutDay
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.store.CountActivePlatforms(gctx, userID)
		if err != nil {
			return fmt.Errorf("count platforms: %w", err)
		}
		platforms = n
		return nil
	})
	g.Go(func() error {
		es, err := a.store.ScanEarnings(gctx, userID, core.EarningQuery{
			From:  core.MonthStart(now),
			Until: core.InclusiveUntil(now),
		})
		if err != nil {
			return fmt.Errorf("scan month earnings: %w", err)
		}
		month = es
		return nil
	})
	g.Go(func() error {
		p, err := a.UpcomingPayouts(gctx, userID, now, a.config.PayoutWindowDays)
		if err != nil {
			return err
		}
		payouts = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.Dashboard{}, err
	}

	monthTotal := decimal.Zero
	for _, e := range month {
		monthTotal = monthTotal.Add(e.Amount)
	}

	return core.Dashboard{
		UserID:                  user.ID,
		Email:                   user.Email,
		FullName:                user.FullName,
		Tier:                    user.Tier,
		Currency:                core.NormalizeCurrency(user.Currency),
		EarningsThisMonth:       monthTotal,
		TaxSavingsBalance:       user.TaxSavingsBalance,
		WithholdingRate:         user.WithholdingRate,
		ConnectedPlatformsCount: platforms,
		UpcomingPayouts:         payouts,
	}, nil
}
