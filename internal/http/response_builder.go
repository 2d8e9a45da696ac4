package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"creatorbank/internal/core"
	applog "creatorbank/internal/log"
)

const timeLayout = time.RFC3339Nano

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to status codes. Internal errors are logged
// and never echoed to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, core.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		ctx := r.Context()
		applog.FromContext(ctx).ErrorContext(ctx, "Request failed",
			append(applog.ErrorAttrs(err), applog.FieldPath, r.URL.Path)...)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func money(d decimal.Decimal, currency string) string {
	return core.FormatAmount(d, currency)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

type userResponse struct {
	ID                int64  `json:"id"`
	Email             string `json:"email"`
	FullName          string `json:"full_name"`
	Tier              string `json:"tier"`
	Currency          string `json:"currency"`
	WithholdingRate   string `json:"withholding_rate"`
	TaxSavingsBalance string `json:"tax_savings_balance"`
	CreatedAt         string `json:"created_at"`
}

func newUserResponse(u core.User) userResponse {
	return userResponse{
		ID:                u.ID,
		Email:             u.Email,
		FullName:          u.FullName,
		Tier:              string(u.Tier),
		Currency:          u.Currency,
		WithholdingRate:   u.WithholdingRate.String(),
		TaxSavingsBalance: money(u.TaxSavingsBalance, u.Currency),
		CreatedAt:         formatTime(u.CreatedAt),
	}
}

type platformResponse struct {
	ID           int64   `json:"id"`
	UserID       int64   `json:"user_id"`
	PlatformType string  `json:"platform_type"`
	Username     string  `json:"username"`
	IsActive     bool    `json:"is_active"`
	LastSyncedAt *string `json:"last_synced_at"`
	CreatedAt    string  `json:"created_at"`
}

func newPlatformResponse(p core.ConnectedPlatform) platformResponse {
	return platformResponse{
		ID:           p.ID,
		UserID:       p.UserID,
		PlatformType: string(p.Type),
		Username:     p.Username,
		IsActive:     p.IsActive,
		LastSyncedAt: formatTimePtr(p.LastSyncedAt),
		CreatedAt:    formatTime(p.CreatedAt),
	}
}

type earningResponse struct {
	ID           int64             `json:"id"`
	UserID       int64             `json:"user_id"`
	PlatformID   int64             `json:"platform_id"`
	PlatformType string            `json:"platform_type,omitempty"`
	Amount       string            `json:"amount"`
	Currency     string            `json:"currency"`
	EarningDate  string            `json:"earning_date"`
	PayoutDate   *string           `json:"payout_date"`
	EarningType  string            `json:"earning_type,omitempty"`
	Description  string            `json:"description,omitempty"`
	IsTaxable    bool              `json:"is_taxable"`
	TaxWithheld  string            `json:"tax_withheld"`
	TaxStatus    string            `json:"tax_status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    string            `json:"created_at"`
}

func newEarningResponse(e core.Earning) earningResponse {
	return earningResponse{
		ID:           e.ID,
		UserID:       e.UserID,
		PlatformID:   e.PlatformID,
		PlatformType: string(e.PlatformType),
		Amount:       money(e.Amount, e.Currency),
		Currency:     e.Currency,
		EarningDate:  formatTime(e.EarningDate),
		PayoutDate:   formatTimePtr(e.PayoutDate),
		EarningType:  e.EarningType,
		Description:  e.Description,
		IsTaxable:    e.IsTaxable,
		TaxWithheld:  money(e.TaxWithheld, e.Currency),
		TaxStatus:    string(e.TaxStatus),
		Metadata:     e.Metadata,
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

type summaryResponse struct {
	AsOf             string            `json:"as_of"`
	Currency         string            `json:"currency"`
	TotalAllTime     string            `json:"total_all_time"`
	TotalThisMonth   string            `json:"total_this_month"`
	TotalLastMonth   string            `json:"total_last_month"`
	TotalThisYear    string            `json:"total_this_year"`
	ByPlatform       map[string]string `json:"by_platform"`
	TaxWithheldTotal string            `json:"tax_withheld_total"`
}

func newSummaryResponse(s core.EarningsSummary) summaryResponse {
	byPlatform := make(map[string]string, len(s.ByPlatform))
	for p, amount := range s.ByPlatform {
		byPlatform[string(p)] = money(amount, s.Currency)
	}
	return summaryResponse{
		AsOf:             formatTime(s.AsOf),
		Currency:         s.Currency,
		TotalAllTime:     money(s.TotalAllTime, s.Currency),
		TotalThisMonth:   money(s.TotalThisMonth, s.Currency),
		TotalLastMonth:   money(s.TotalLastMonth, s.Currency),
		TotalThisYear:    money(s.TotalThisYear, s.Currency),
		ByPlatform:       byPlatform,
		TaxWithheldTotal: money(s.TaxWithheldTotal, s.Currency),
	}
}

type payoutDayResponse struct {
	Date   string `json:"date"`
	Amount string `json:"amount"`
}

func newPayoutResponse(days []core.PayoutDay, currency string) []payoutDayResponse {
	out := make([]payoutDayResponse, 0, len(days))
	for _, d := range days {
		out = append(out, payoutDayResponse{
			Date:   d.Date.UTC().Format(time.DateOnly),
			Amount: money(d.Amount, currency),
		})
	}
	return out
}

type dashboardResponse struct {
	UserID                  int64               `json:"user_id"`
	Email                   string              `json:"email"`
	FullName                string              `json:"full_name"`
	Tier                    string              `json:"tier"`
	Currency                string              `json:"currency"`
	EarningsThisMonth       string              `json:"earnings_this_month"`
	TaxSavingsBalance       string              `json:"tax_savings_balance"`
	WithholdingRate         string              `json:"withholding_rate"`
	ConnectedPlatformsCount int                 `json:"connected_platforms_count"`
	UpcomingPayouts         []payoutDayResponse `json:"upcoming_payouts"`
}

func newDashboardResponse(d core.Dashboard) dashboardResponse {
	return dashboardResponse{
		UserID:                  d.UserID,
		Email:                   d.Email,
		FullName:                d.FullName,
		Tier:                    string(d.Tier),
		Currency:                d.Currency,
		EarningsThisMonth:       money(d.EarningsThisMonth, d.Currency),
		TaxSavingsBalance:       money(d.TaxSavingsBalance, d.Currency),
		WithholdingRate:         d.WithholdingRate.String(),
		ConnectedPlatformsCount: d.ConnectedPlatformsCount,
		UpcomingPayouts:         newPayoutResponse(d.UpcomingPayouts, d.Currency),
	}
}

type transactionResponse struct {
	ID               string `json:"id"`
	UserID           int64  `json:"user_id"`
	Kind             string `json:"kind"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Date             string `json:"date"`
	Description      string `json:"description"`
	BalanceBefore    string `json:"balance_before"`
	BalanceAfter     string `json:"balance_after"`
	RelatedEarningID *int64 `json:"related_earning_id"`
}

func newTransactionResponse(tx core.LedgerTransaction) transactionResponse {
	return transactionResponse{
		ID:               tx.ID.String(),
		UserID:           tx.UserID,
		Kind:             string(tx.Kind),
		Amount:           money(tx.Amount, tx.Currency),
		Currency:         tx.Currency,
		Date:             formatTime(tx.Date),
		Description:      tx.Description,
		BalanceBefore:    money(tx.BalanceBefore, tx.Currency),
		BalanceAfter:     money(tx.BalanceAfter, tx.Currency),
		RelatedEarningID: tx.RelatedEarningID,
	}
}

type withholdResponse struct {
	Withheld    bool                 `json:"withheld"`
	Reason      string               `json:"reason,omitempty"`
	Transaction *transactionResponse `json:"transaction,omitempty"`
}

type estimateResponse struct {
	Quarter                 int    `json:"quarter"`
	Year                    int    `json:"year"`
	Currency                string `json:"currency"`
	TotalEarnings           string `json:"total_earnings"`
	SelfEmploymentTax       string `json:"self_employment_tax"`
	IncomeTaxRate           string `json:"income_tax_rate"`
	IncomeTax               string `json:"income_tax"`
	TotalTaxEstimate        string `json:"total_tax_estimate"`
	TotalWithheld           string `json:"total_withheld"`
	AdditionalPaymentNeeded string `json:"additional_payment_needed"`
	Overpayment             string `json:"overpayment"`
}

func newEstimateResponse(e core.QuarterlyEstimate) estimateResponse {
	return estimateResponse{
		Quarter:                 e.Quarter,
		Year:                    e.Year,
		Currency:                e.Currency,
		TotalEarnings:           money(e.TotalEarnings, e.Currency),
		SelfEmploymentTax:       money(e.SelfEmploymentTax, e.Currency),
		IncomeTaxRate:           e.IncomeTaxRate.String(),
		IncomeTax:               money(e.IncomeTax, e.Currency),
		TotalTaxEstimate:        money(e.TotalTaxEstimate, e.Currency),
		TotalWithheld:           money(e.TotalWithheld, e.Currency),
		AdditionalPaymentNeeded: money(e.AdditionalPaymentNeeded, e.Currency),
		Overpayment:             money(e.Overpayment, e.Currency),
	}
}

type yearToDateResponse struct {
	Year                  int    `json:"year"`
	Currency              string `json:"currency"`
	TotalEarnings         string `json:"total_earnings"`
	TotalWithheld         string `json:"total_withheld"`
	CurrentSavingsBalance string `json:"current_savings_balance"`
	WithholdingRate       string `json:"withholding_rate"`
}

func newYearToDateResponse(y core.YearToDate) yearToDateResponse {
	return yearToDateResponse{
		Year:                  y.Year,
		Currency:              y.Currency,
		TotalEarnings:         money(y.TotalEarnings, y.Currency),
		TotalWithheld:         money(y.TotalWithheld, y.Currency),
		CurrentSavingsBalance: money(y.CurrentSavingsBalance, y.Currency),
		WithholdingRate:       y.WithholdingRate.String(),
	}
}
