package core

import "time"

// Calendar boundaries are always computed in UTC.

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PreviousMonthStart returns the first instant of the month before t's month.
func PreviousMonthStart(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, -1, 0)
}

// YearStart returns midnight UTC on January 1 of t's year.
func YearStart(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

// DayStart truncates t to its UTC calendar day.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// QuarterOf maps a month to its quarter: Jan-Mar is 1, Oct-Dec is 4.
func QuarterOf(month time.Month) int {
	return (int(month)-1)/3 + 1
}

// QuarterRange returns the half-open interval [start, end) of a quarter.
// Quarter 4 ends on January 1 of the following year.
func QuarterRange(quarter, year int) (start, end time.Time, err error) {
	if quarter < 1 || quarter > 4 {
		return time.Time{}, time.Time{}, NewValidationError("quarter", "must be between 1 and 4")
	}
	if year < 1 || year > 9999 {
		return time.Time{}, time.Time{}, NewValidationError("year", "out of range")
	}
	start = time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, 0), nil
}
