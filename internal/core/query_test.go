package core

import (
	"errors"
	"testing"
	"time"
)

func TestPageNormalize(t *testing.T) {
	tests := []struct {
		name      string
		in        Page
		max       int
		wantLimit int
		wantErr   bool
	}{
		{"default limit", Page{}, 1000, 100, false},
		{"capped", Page{Limit: 5000}, 1000, 1000, false},
		{"config cap", Page{Limit: 600}, 500, 500, false},
		{"cap never above hard max", Page{Limit: 5000}, 10000, MaxPageLimit, false},
		{"small default cap", Page{}, 20, 20, false},
		{"negative offset", Page{Offset: -1}, 1000, 0, true},
		{"negative limit", Page{Limit: -3}, 1000, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize(tt.max)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if got.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", got.Limit, tt.wantLimit)
			}
		})
	}
}

func TestEarningFilterValidate(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	if err := (EarningFilter{Start: &start, End: &end}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("end before start must be rejected, got %v", err)
	}
	same := start
	if err := (EarningFilter{Start: &start, End: &same}).Validate(); err != nil {
		t.Fatalf("equal bounds are valid: %v", err)
	}
}

func TestEarningFilterQueryEndIsInclusive(t *testing.T) {
	end := time.Date(2024, 5, 31, 23, 59, 59, 0, time.UTC)
	q := EarningFilter{End: &end}.Query(Page{Limit: 10})
	if !q.Until.After(end) || !q.NewestFirst || q.Limit != 10 {
		t.Fatalf("unexpected query %+v", q)
	}
}
