package core

import "time"

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// EarningQuery describes a scan over one user's earnings. Zero-valued bounds
// are open. Lower bounds are inclusive, upper bounds exclusive.
type EarningQuery struct {
	From        time.Time
	Until       time.Time
	PayoutFrom  time.Time
	PayoutUntil time.Time
	PlatformID  int64
	TaxableOnly bool
	NewestFirst bool
	Offset      int
	Limit       int // 0 means no limit
}

// EarningFilter is the caller-facing filter for listing earnings. Start and
// End are both inclusive.
type EarningFilter struct {
	PlatformID int64
	Start      *time.Time
	End        *time.Time
}

// Page is offset/limit pagination.
type Page struct {
	Offset int
	Limit  int
}

func (f EarningFilter) Validate() error {
	if f.PlatformID < 0 {
		return NewValidationError("platform_id", "must be positive")
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return NewValidationError("end_date", "must not be before start_date")
	}
	return nil
}

// Normalize applies the default limit and caps it at maxLimit.
func (p Page) Normalize(maxLimit int) (Page, error) {
	if p.Offset < 0 {
		return p, NewValidationError("skip", "must not be negative")
	}
	if p.Limit < 0 {
		return p, NewValidationError("limit", "must not be negative")
	}
	if maxLimit <= 0 || maxLimit > MaxPageLimit {
		maxLimit = MaxPageLimit
	}
	if p.Limit == 0 {
		p.Limit = min(DefaultPageLimit, maxLimit)
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	return p, nil
}

// Query converts the filter and page into a newest-first earnings scan.
func (f EarningFilter) Query(p Page) EarningQuery {
	q := EarningQuery{
		PlatformID:  f.PlatformID,
		NewestFirst: true,
		Offset:      p.Offset,
		Limit:       p.Limit,
	}
	if f.Start != nil {
		q.From = f.Start.UTC()
	}
	if f.End != nil {
		q.Until = InclusiveUntil(*f.End)
	}
	return q
}

// InclusiveUntil turns an inclusive upper bound into the exclusive form used
// by EarningQuery. Stored timestamps have nanosecond resolution.
func InclusiveUntil(t time.Time) time.Time {
	return t.UTC().Add(time.Nanosecond)
}
