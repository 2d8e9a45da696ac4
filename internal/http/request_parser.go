package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"creatorbank/internal/core"
)

const maxBodyBytes = 1 << 20

// pathID reads a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, core.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}

// queryInt returns def when the parameter is absent.
func queryInt(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.NewValidationError(name, "must be an integer")
	}
	return v, nil
}

// parseTimeParam accepts RFC 3339 timestamps or YYYY-MM-DD dates, both read
// as UTC. A bare date used as an inclusive upper bound covers the whole day.
func parseTimeParam(raw, field string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return nil, core.NewValidationError(field, "must be YYYY-MM-DD or an RFC 3339 timestamp")
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &d, nil
}

// parsePage reads skip and limit.
func parsePage(q url.Values) (core.Page, error) {
	skip, err := queryInt(q, "skip", 0)
	if err != nil {
		return core.Page{}, err
	}
	limit, err := queryInt(q, "limit", 0)
	if err != nil {
		return core.Page{}, err
	}
	return core.Page{Offset: skip, Limit: limit}, nil
}

// parseEarningFilter reads platform_id, start_date and end_date.
func parseEarningFilter(q url.Values) (core.EarningFilter, error) {
	var f core.EarningFilter
	if raw := strings.TrimSpace(q.Get("platform_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, core.NewValidationError("platform_id", "must be a positive integer")
		}
		f.PlatformID = id
	}
	start, err := parseTimeParam(q.Get("start_date"), "start_date", false)
	if err != nil {
		return f, err
	}
	end, err := parseTimeParam(q.Get("end_date"), "end_date", true)
	if err != nil {
		return f, err
	}
	f.Start, f.End = start, end
	return f, f.Validate()
}

// decodeJSON reads a single JSON object into dst and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return core.NewValidationError("body", "too large")
		case errors.Is(err, io.EOF):
			return core.NewValidationError("body", "required")
		default:
			return core.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
		}
	}
	if dec.More() {
		return core.NewValidationError("body", "must contain a single JSON object")
	}
	return nil
}

// parseMoney parses a non-negative decimal amount.
func parseMoney(raw, field string) (decimal.Decimal, error) {
	d, err := core.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, core.NewValidationError(field, "must be a non-negative decimal number")
	}
	return d, nil
}

// parseRate parses a percentage in [0, 100].
func parseRate(raw string) (decimal.Decimal, error) {
	d, err := parseMoney(raw, "withholding_rate")
	if err != nil {
		return decimal.Zero, err
	}
	return d, core.ValidateWithholdingRate(d)
}
