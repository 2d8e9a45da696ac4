package http

import (
	"net/http"

	"creatorbank/internal/core"
)

// handleWithhold runs withholding for one earning on demand. The earning must
// belong to the user in the path.
func (s *Server) handleWithhold(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	earningID, err := pathID(r, "earningID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	e, err := s.deps.Ledger.GetEarning(r.Context(), earningID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if e.UserID != userID {
		writeError(w, r, core.NewNotFoundError("earning", earningID))
		return
	}

	tx, err := s.deps.Tax.WithholdByID(r.Context(), earningID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tx == nil {
		writeJSON(w, http.StatusOK, withholdResponse{Withheld: false, Reason: string(core.TaxExempt)})
		return
	}
	resp := newTransactionResponse(*tx)
	writeJSON(w, http.StatusOK, withholdResponse{Withheld: true, Transaction: &resp})
}

func (s *Server) handleQuarterlyEstimate(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	quarter, err := queryInt(q, "quarter", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	year, err := queryInt(q, "year", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	est, err := s.deps.Tax.EstimateQuarter(r.Context(), userID, quarter, year)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEstimateResponse(est))
}

func (s *Server) handleYearToDate(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ytd, err := s.deps.Tax.YearToDate(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newYearToDateResponse(ytd))
}
