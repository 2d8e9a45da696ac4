package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"creatorbank/internal/earnings"
	"creatorbank/internal/metrics"
	"creatorbank/internal/services"
	"creatorbank/internal/storage/memory"
	"creatorbank/internal/tax"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()
	store := memory.New()
	clock := func() time.Time { return testNow }
	engine := tax.NewEngine(store, tax.DefaultConfig(), tax.WithClock(clock))

	deps := Deps{
		Earnings:         earnings.NewAggregator(store, earnings.DefaultConfig()),
		Tax:              engine,
		Intake:           services.NewEarningService(store, nil, engine, decimal.NewFromInt(30)),
		Ledger:           store,
		PayoutWindowDays: 7,
		Now:              clock,
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := NewServer(":0", deps)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

// seedUser registers a user with one platform and returns their ids.
func seedUser(t *testing.T, srv *Server, email string) (int64, int64) {
	t.Helper()
	rr := do(t, srv, http.MethodPost, "/api/v1/users", fmt.Sprintf(`{"email":%q,"full_name":"Test Creator"}`, email))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user status=%d body=%s", rr.Code, rr.Body.String())
	}
	u := decode[userResponse](t, rr)

	rr = do(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/users/%d/platforms", u.ID), `{"platform_type":"youtube","username":"chan"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("connect platform status=%d body=%s", rr.Code, rr.Body.String())
	}
	p := decode[platformResponse](t, rr)
	return u.ID, p.ID
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	notReady := newTestServer(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("db down") }
	})
	if rr := do(t, notReady, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
}

func TestRecordEarningWithholdsInline(t *testing.T) {
	srv := newTestServer(t, nil)
	userID, platformID := seedUser(t, srv, "a@example.com")
	base := fmt.Sprintf("/api/v1/users/%d", userID)

	rr := do(t, srv, http.MethodPost, base+"/earnings", fmt.Sprintf(
		`{"platform_id":%d,"amount":"1000.00","earning_date":"2024-03-10T09:00:00Z","earning_type":"sponsorship"}`, platformID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("record status=%d body=%s", rr.Code, rr.Body.String())
	}
	e := decode[earningResponse](t, rr)
	if e.TaxStatus != "withheld" || e.TaxWithheld != "300.00" || e.Amount != "1000.00" {
		t.Fatalf("unexpected earning %+v", e)
	}

	rr = do(t, srv, http.MethodGet, base+"/dashboard", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status=%d", rr.Code)
	}
	d := decode[dashboardResponse](t, rr)
	if d.TaxSavingsBalance != "300.00" || d.EarningsThisMonth != "1000.00" || d.ConnectedPlatformsCount != 1 {
		t.Fatalf("unexpected dashboard %+v", d)
	}

	rr = do(t, srv, http.MethodGet, base+"/transactions", "")
	txs := decode[[]transactionResponse](t, rr)
	if len(txs) != 1 || txs[0].Kind != "tax_savings" || txs[0].BalanceBefore != "0.00" || txs[0].BalanceAfter != "300.00" {
		t.Fatalf("unexpected transactions %+v", txs)
	}

	rr = do(t, srv, http.MethodPost, fmt.Sprintf("%s/earnings/%d/withhold", base, e.ID), "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("second withhold status=%d, want 409", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, base+"/transactions", "")
	if txs := decode[[]transactionResponse](t, rr); len(txs) != 1 {
		t.Fatalf("conflict must not add a transaction, got %d", len(txs))
	}
}

func TestNonTaxableEarning(t *testing.T) {
	srv := newTestServer(t, nil)
	userID, platformID := seedUser(t, srv, "b@example.com")
	base := fmt.Sprintf("/api/v1/users/%d", userID)

	rr := do(t, srv, http.MethodPost, base+"/earnings", fmt.Sprintf(
		`{"platform_id":%d,"amount":"50","earning_date":"2024-03-01","is_taxable":false}`, platformID))
	if rr.Code != http.StatusCreated {
		t.Fatalf("record status=%d body=%s", rr.Code, rr.Body.String())
	}
	e := decode[earningResponse](t, rr)
	if e.TaxStatus != "exempt" || e.TaxWithheld != "0.00" {
		t.Fatalf("unexpected earning %+v", e)
	}

	rr = do(t, srv, http.MethodPost, fmt.Sprintf("%s/earnings/%d/withhold", base, e.ID), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("withhold status=%d", rr.Code)
	}
	if w := decode[withholdResponse](t, rr); w.Withheld || w.Reason != "exempt" {
		t.Fatalf("unexpected withhold response %+v", w)
	}
}

func TestWithholdForeignEarningIsNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	ownerID, platformID := seedUser(t, srv, "owner@example.com")
	otherID, _ := seedUser(t, srv, "other@example.com")

	rr := do(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/users/%d/earnings", ownerID), fmt.Sprintf(
		`{"platform_id":%d,"amount":"10","earning_date":"2024-03-01","is_taxable":false}`, platformID))
	e := decode[earningResponse](t, rr)

	rr = do(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/users/%d/earnings/%d/withhold", otherID, e.ID), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rr.Code)
	}
}

func TestProfileAndPlatformLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	userID, youtubeID := seedUser(t, srv, "p@example.com")
	_, foreignID := seedUser(t, srv, "q@example.com")
	base := fmt.Sprintf("/api/v1/users/%d", userID)

	rr := do(t, srv, http.MethodGet, base, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("profile status=%d body=%s", rr.Code, rr.Body.String())
	}
	if u := decode[userResponse](t, rr); u.ID != userID || u.Email != "p@example.com" || u.WithholdingRate != "30" {
		t.Fatalf("unexpected profile %+v", u)
	}

	rr = do(t, srv, http.MethodPost, base+"/platforms", `{"platform_type":"twitch","username":"streams"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("connect status=%d", rr.Code)
	}
	twitch := decode[platformResponse](t, rr)

	rr = do(t, srv, http.MethodGet, base+"/platforms", "")
	if listed := decode[[]platformResponse](t, rr); len(listed) != 2 || listed[0].ID != youtubeID || listed[1].ID != twitch.ID {
		t.Fatalf("unexpected platforms %+v", listed)
	}

	rr = do(t, srv, http.MethodDelete, fmt.Sprintf("%s/platforms/%d", base, foreignID), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("foreign disconnect status=%d, want 404", rr.Code)
	}

	rr = do(t, srv, http.MethodDelete, fmt.Sprintf("%s/platforms/%d", base, twitch.ID), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("disconnect status=%d body=%s", rr.Code, rr.Body.String())
	}
	if p := decode[platformResponse](t, rr); p.IsActive {
		t.Fatalf("platform still active %+v", p)
	}

	rr = do(t, srv, http.MethodGet, base+"/platforms", "")
	if listed := decode[[]platformResponse](t, rr); len(listed) != 1 || listed[0].ID != youtubeID {
		t.Fatalf("unexpected platforms after disconnect %+v", listed)
	}
	rr = do(t, srv, http.MethodGet, base+"/dashboard", "")
	if d := decode[dashboardResponse](t, rr); d.ConnectedPlatformsCount != 1 {
		t.Fatalf("dashboard platforms=%d, want 1", d.ConnectedPlatformsCount)
	}
}

func TestSummaryListAndTax(t *testing.T) {
	srv := newTestServer(t, nil)
	userID, platformID := seedUser(t, srv, "c@example.com")
	base := fmt.Sprintf("/api/v1/users/%d", userID)

	for _, body := range []string{
		`{"platform_id":%d,"amount":"4000","earning_date":"2024-01-20T00:00:00Z"}`,
		`{"platform_id":%d,"amount":"6000","earning_date":"2024-03-01T00:00:00Z","payout_date":"2024-03-18T10:00:00Z"}`,
		`{"platform_id":%d,"amount":"99","earning_date":"2024-04-01T00:00:00Z"}`,
	} {
		if rr := do(t, srv, http.MethodPost, base+"/earnings", fmt.Sprintf(body, platformID)); rr.Code != http.StatusCreated {
			t.Fatalf("record status=%d body=%s", rr.Code, rr.Body.String())
		}
	}

	rr := do(t, srv, http.MethodGet, base+"/earnings/summary", "")
	s := decode[summaryResponse](t, rr)
	if s.TotalThisMonth != "6000.00" || s.TotalThisYear != "10000.00" || s.ByPlatform["youtube"] != "10000.00" {
		t.Fatalf("unexpected summary %+v", s)
	}

	rr = do(t, srv, http.MethodGet, base+"/earnings?start_date=2024-01-01&end_date=2024-01-31", "")
	if list := decode[[]earningResponse](t, rr); len(list) != 1 || list[0].Amount != "4000.00" {
		t.Fatalf("unexpected filtered list %+v", list)
	}

	rr = do(t, srv, http.MethodGet, base+"/earnings?limit=1", "")
	if list := decode[[]earningResponse](t, rr); len(list) != 1 || list[0].Amount != "99.00" {
		t.Fatalf("expected newest earning first, got %+v", list)
	}

	rr = do(t, srv, http.MethodGet, base+"/payouts/upcoming", "")
	payouts := decode[[]payoutDayResponse](t, rr)
	if len(payouts) != 1 || payouts[0].Date != "2024-03-18" || payouts[0].Amount != "6000.00" {
		t.Fatalf("unexpected payouts %+v", payouts)
	}

	rr = do(t, srv, http.MethodGet, base+"/tax/quarterly?quarter=1&year=2024", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("quarterly status=%d body=%s", rr.Code, rr.Body.String())
	}
	est := decode[estimateResponse](t, rr)
	if est.TotalEarnings != "10000.00" || est.TotalWithheld != "3000.00" || est.TotalTaxEstimate != "2730.00" || est.Overpayment != "270.00" {
		t.Fatalf("unexpected estimate %+v", est)
	}

	rr = do(t, srv, http.MethodGet, base+"/tax/ytd", "")
	ytd := decode[yearToDateResponse](t, rr)
	if ytd.Year != 2024 || ytd.TotalEarnings != "10000.00" || ytd.CurrentSavingsBalance != "3029.70" {
		t.Fatalf("unexpected ytd %+v", ytd)
	}
}

func TestUpdateWithholdingRate(t *testing.T) {
	srv := newTestServer(t, nil)
	userID, _ := seedUser(t, srv, "d@example.com")
	path := fmt.Sprintf("/api/v1/users/%d/withholding-rate", userID)

	rr := do(t, srv, http.MethodPut, path, `{"withholding_rate":"25.5"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if u := decode[userResponse](t, rr); u.WithholdingRate != "25.5" {
		t.Fatalf("rate=%s", u.WithholdingRate)
	}

	if rr := do(t, srv, http.MethodPut, path, `{"withholding_rate":"101"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rr.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, nil)
	userID, platformID := seedUser(t, srv, "e@example.com")
	base := fmt.Sprintf("/api/v1/users/%d", userID)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		field  string
	}{
		{"malformed json", http.MethodPost, base + "/earnings", `{"amount":`, http.StatusBadRequest, "body"},
		{"unknown field", http.MethodPost, base + "/earnings", `{"amountt":"1"}`, http.StatusBadRequest, "body"},
		{"negative amount", http.MethodPost, base + "/earnings", fmt.Sprintf(`{"platform_id":%d,"amount":"-5","earning_date":"2024-03-01"}`, platformID), http.StatusBadRequest, "amount"},
		{"missing date", http.MethodPost, base + "/earnings", fmt.Sprintf(`{"platform_id":%d,"amount":"5"}`, platformID), http.StatusBadRequest, "earning_date"},
		{"bad user id", http.MethodGet, "/api/v1/users/abc/dashboard", "", http.StatusBadRequest, "userID"},
		{"unknown user", http.MethodGet, "/api/v1/users/999/dashboard", "", http.StatusNotFound, ""},
		{"unknown user profile", http.MethodGet, "/api/v1/users/999", "", http.StatusNotFound, ""},
		{"unknown user platforms", http.MethodGet, "/api/v1/users/999/platforms", "", http.StatusNotFound, ""},
		{"bad platform id", http.MethodDelete, base + "/platforms/x", "", http.StatusBadRequest, "platformID"},
		{"unknown user transactions", http.MethodGet, "/api/v1/users/999/transactions", "", http.StatusNotFound, ""},
		{"end before start", http.MethodGet, base + "/earnings?start_date=2024-02-01&end_date=2024-01-01", "", http.StatusBadRequest, "end_date"},
		{"negative skip", http.MethodGet, base + "/earnings?skip=-1", "", http.StatusBadRequest, "skip"},
		{"bad quarter", http.MethodGet, base + "/tax/quarterly?quarter=5", "", http.StatusBadRequest, "quarter"},
		{"bad payout window", http.MethodGet, base + "/payouts/upcoming?days=-1", "", http.StatusBadRequest, "days"},
		{"unknown earning", http.MethodPost, base + "/earnings/12345/withhold", "", http.StatusNotFound, ""},
		{"unknown platform type", http.MethodPost, base + "/platforms", `{"platform_type":"myspace"}`, http.StatusBadRequest, "platform_type"},
		{"duplicate email", http.MethodPost, "/api/v1/users", `{"email":"e@example.com"}`, http.StatusBadRequest, "email"},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, ""},
		{"method not allowed", http.MethodDelete, "/healthz", "", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d, want %d, body=%s", rr.Code, tt.want, rr.Body.String())
			}
			if tt.field != "" {
				if resp := decode[errorResponse](t, rr); resp.Field != tt.field {
					t.Fatalf("field=%q, want %q (%s)", resp.Field, tt.field, resp.Error)
				}
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	srv := newTestServer(t, func(d *Deps) {
		d.Metrics = m.Handler()
		d.Observer = m
	})

	do(t, srv, http.MethodGet, "/healthz", "")
	rr := do(t, srv, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `route="/healthz"`) {
		t.Fatalf("healthz request not recorded:\n%s", rr.Body.String())
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	srv := newTestServer(t, nil)
	rr := do(t, srv, http.MethodGet, "/healthz", "")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing nosniff header")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("missing request id header")
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, func(d *Deps) {
		d.CORSOrigins = []string{"https://app.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/users", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q for foreign origin", got)
	}
}
