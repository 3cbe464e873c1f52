package domain

import (
	"fmt"
	"time"
)

var epoch = time.Unix(0, 0).UTC()

// Period is the half-open interval [Start, End) aligned to its granularity.
type Period struct {
	Granularity Granularity
	Start       time.Time
	End         time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

func (p Period) String() string {
	return fmt.Sprintf("%s[%s,%s)", p.Granularity, p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
}

// Boundaries holds a cohort period and the BucketCount periods that follow it.
// Buckets[0] is bucket b1 and starts at Cohort.End.
type Boundaries struct {
	Cohort  Period
	Buckets [BucketCount]Period
}

// Period returns the period of granularity g containing ref.
func (g Granularity) Period(ref time.Time) (Period, error) {
	s, err := g.strategy()
	if err != nil {
		return Period{}, err
	}
	if ref.IsZero() || ref.Before(epoch) {
		return Period{}, fmt.Errorf("%w: reference date %s is before epoch", ErrInvalidPeriod, ref.Format(time.DateOnly))
	}
	start := s.floor(ref)
	return Period{Granularity: g, Start: start, End: s.advance(start, 1)}, nil
}

// Boundaries floors ref to its cohort period and derives the following twelve
// bucket periods. Buckets reaching past now are returned as-is.
func (g Granularity) Boundaries(ref time.Time) (Boundaries, error) {
	cohort, err := g.Period(ref)
	if err != nil {
		return Boundaries{}, err
	}
	s, _ := g.strategy()

	b := Boundaries{Cohort: cohort}
	for i := range BucketCount {
		b.Buckets[i] = Period{
			Granularity: g,
			Start:       s.advance(cohort.Start, i+1),
			End:         s.advance(cohort.Start, i+2),
		}
	}
	return b, nil
}

// CohortPeriods lists the cohort periods touching the inclusive date range [from, to].
func (g Granularity) CohortPeriods(from, to time.Time) ([]Period, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: range end %s is before start %s",
			ErrInvalidPeriod, to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	first, err := g.Period(from)
	if err != nil {
		return nil, err
	}
	last, err := g.Period(to)
	if err != nil {
		return nil, err
	}
	s, _ := g.strategy()

	var out []Period
	for start := first.Start; !start.After(last.Start); start = s.advance(start, 1) {
		out = append(out, Period{Granularity: g, Start: start, End: s.advance(start, 1)})
	}
	return out, nil
}
