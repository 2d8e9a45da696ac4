package http

import (
	"net/http"
	"strings"
	"time"

	"creatorbank/internal/core"
	applog "creatorbank/internal/log"
)

type recordEarningRequest struct {
	PlatformID  int64             `json:"platform_id"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	EarningDate string            `json:"earning_date"`
	PayoutDate  *string           `json:"payout_date"`
	EarningType string            `json:"earning_type"`
	Description string            `json:"description"`
	IsTaxable   *bool             `json:"is_taxable"`
	Metadata    map[string]string `json:"metadata"`
}

// toEarning validates the wire form. Earnings are taxable unless the caller
// says otherwise.
func (req recordEarningRequest) toEarning(userID int64) (core.Earning, error) {
	amount, err := parseMoney(req.Amount, "amount")
	if err != nil {
		return core.Earning{}, err
	}
	earningDate, err := parseTimeParam(req.EarningDate, "earning_date", false)
	if err != nil {
		return core.Earning{}, err
	}
	if earningDate == nil {
		return core.Earning{}, core.NewValidationError("earning_date", "required")
	}
	var payoutDate *time.Time
	if req.PayoutDate != nil {
		if payoutDate, err = parseTimeParam(*req.PayoutDate, "payout_date", false); err != nil {
			return core.Earning{}, err
		}
	}
	taxable := true
	if req.IsTaxable != nil {
		taxable = *req.IsTaxable
	}

	return core.Earning{
		UserID:      userID,
		PlatformID:  req.PlatformID,
		Amount:      amount,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		EarningDate: *earningDate,
		PayoutDate:  payoutDate,
		EarningType: strings.TrimSpace(req.EarningType),
		Description: strings.TrimSpace(req.Description),
		IsTaxable:   taxable,
		Metadata:    req.Metadata,
	}, nil
}

func (s *Server) handleRecordEarning(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req recordEarningRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := req.toEarning(userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := s.deps.Intake.RecordEarning(r.Context(), e)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.NewStructuredLogger(applog.FromContext(r.Context())).LogEarningRecorded(r.Context(), saved)
	writeJSON(w, http.StatusCreated, newEarningResponse(saved))
}

func (s *Server) handleListEarnings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter, err := parseEarningFilter(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := parsePage(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.deps.Earnings.ListEarnings(r.Context(), userID, filter, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]earningResponse, 0, len(list))
	for _, e := range list {
		out = append(out, newEarningResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	asOf := s.deps.Now().UTC()
	if t, err := parseTimeParam(r.URL.Query().Get("as_of"), "as_of", true); err != nil {
		writeError(w, r, err)
		return
	} else if t != nil {
		asOf = *t
	}

	summary, err := s.deps.Earnings.Summarize(r.Context(), userID, asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(summary))
}

func (s *Server) handleUpcomingPayouts(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	days, err := queryInt(r.URL.Query(), "days", s.deps.PayoutWindowDays)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if days < 0 || days > 366 {
		writeError(w, r, core.NewValidationError("days", "must be between 0 and 366"))
		return
	}

	payouts, err := s.deps.Earnings.UpcomingPayouts(r.Context(), userID, s.deps.Now(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	currency := core.DefaultCurrency
	if u, err := s.deps.Ledger.GetUser(r.Context(), userID); err == nil {
		currency = u.Currency
	}
	writeJSON(w, http.StatusOK, newPayoutResponse(payouts, currency))
}
