package http

import (
	"net/http"
	"strings"

	"creatorbank/internal/core"
	applog "creatorbank/internal/log"
	"creatorbank/internal/services"
)

type createUserRequest struct {
	Email           string  `json:"email"`
	FullName        string  `json:"full_name"`
	Tier            string  `json:"tier"`
	Currency        string  `json:"currency"`
	WithholdingRate *string `json:"withholding_rate"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := services.NewUser{
		Email:    strings.TrimSpace(req.Email),
		FullName: strings.TrimSpace(req.FullName),
		Tier:     core.UserTier(strings.ToLower(strings.TrimSpace(req.Tier))),
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
	}
	if req.WithholdingRate != nil {
		rate, err := parseRate(*req.WithholdingRate)
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.WithholdingRate = &rate
	}

	u, err := s.deps.Intake.RegisterUser(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "User registered", applog.FieldUserID, u.ID)
	writeJSON(w, http.StatusCreated, newUserResponse(u))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.deps.Intake.Profile(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

type connectPlatformRequest struct {
	PlatformType string `json:"platform_type"`
	Username     string `json:"username"`
	IsActive     *bool  `json:"is_active"`
}

func (s *Server) handleConnectPlatform(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req connectPlatformRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	p, err := s.deps.Intake.ConnectPlatform(r.Context(), core.ConnectedPlatform{
		UserID:   userID,
		Type:     core.PlatformType(strings.ToLower(strings.TrimSpace(req.PlatformType))),
		Username: strings.TrimSpace(req.Username),
		IsActive: active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPlatformResponse(p))
}

func (s *Server) handleListPlatforms(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	platforms, err := s.deps.Intake.ConnectedPlatforms(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]platformResponse, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, newPlatformResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDisconnectPlatform(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	platformID, err := pathID(r, "platformID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.deps.Intake.DisconnectPlatform(r.Context(), userID, platformID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlatformResponse(p))
}

type withholdingRateRequest struct {
	WithholdingRate string `json:"withholding_rate"`
}

func (s *Server) handleUpdateWithholdingRate(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req withholdingRateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rate, err := parseRate(req.WithholdingRate)
	if err != nil {
		writeError(w, r, err)
		return
	}

	u, err := s.deps.Intake.UpdateWithholdingRate(r.Context(), userID, rate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.deps.Earnings.Dashboard(r.Context(), userID, s.deps.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDashboardResponse(d))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := parsePage(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err = page.Normalize(s.deps.MaxPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.deps.Ledger.GetUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.deps.Ledger.ListTransactions(r.Context(), userID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionResponse(tx))
	}
	writeJSON(w, http.StatusOK, out)
}
