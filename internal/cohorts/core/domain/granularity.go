package domain

import (
	"fmt"
	"strings"
	"time"
)

// BucketCount is the number of retention buckets tracked after a cohort period.
const BucketCount = 12

// Granularity is the calendar alignment of cohort and bucket periods.
type Granularity int

const (
	Daily Granularity = iota + 1
	Weekly
	Monthly
)

// boundaryStrategy aligns timestamps to period starts and steps between them.
// All arithmetic happens in UTC.
type boundaryStrategy interface {
	floor(t time.Time) time.Time
	advance(start time.Time, n int) time.Time
}

type dayBoundaries struct{}

func (dayBoundaries) floor(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (dayBoundaries) advance(start time.Time, n int) time.Time {
	return start.AddDate(0, 0, n)
}

// weekBoundaries starts weeks on Monday (ISO week).
type weekBoundaries struct{}

func (weekBoundaries) floor(t time.Time) time.Time {
	day := dayBoundaries{}.floor(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func (weekBoundaries) advance(start time.Time, n int) time.Time {
	return start.AddDate(0, 0, 7*n)
}

type monthBoundaries struct{}

func (monthBoundaries) floor(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// advance is safe from day-of-month normalization because start is always the 1st.
func (monthBoundaries) advance(start time.Time, n int) time.Time {
	return start.AddDate(0, n, 0)
}

var strategies = map[Granularity]boundaryStrategy{
	Daily:   dayBoundaries{},
	Weekly:  weekBoundaries{},
	Monthly: monthBoundaries{},
}

// AllGranularities lists every supported granularity in processing order.
func AllGranularities() []Granularity {
	return []Granularity{Daily, Weekly, Monthly}
}

// ParseGranularity accepts daily/weekly/monthly and their short forms.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "day", "d", "1":
		return Daily, nil
	case "weekly", "week", "w", "7":
		return Weekly, nil
	case "monthly", "month", "m", "30":
		return Monthly, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidGranularity, s)
	}
}

// ParseGranularities expands "all" to every granularity.
func ParseGranularities(s string) ([]Granularity, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return AllGranularities(), nil
	}
	var out []Granularity
	for _, part := range strings.Split(s, ",") {
		g, err := ParseGranularity(part)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (g Granularity) Valid() bool {
	_, ok := strategies[g]
	return ok
}

func (g Granularity) String() string {
	switch g {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// Table is the destination table holding rows of this granularity.
func (g Granularity) Table() string {
	return "cohorts_" + g.String()
}

func (g Granularity) strategy() (boundaryStrategy, error) {
	s, ok := strategies[g]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidGranularity, int(g))
	}
	return s, nil
}
