package domain

import (
	"context"
	"errors"
)

var (
	ErrSourceUnavailable  = errors.New("activity source unavailable")
	ErrSinkUnavailable    = errors.New("aggregation sink unavailable")
	ErrMalformedRecord    = errors.New("malformed record")
	ErrInvalidPeriod      = errors.New("invalid period")
	ErrInvalidGranularity = errors.New("invalid granularity")
)

// Kind is the failure class reported per cohort period.
type Kind string

const (
	KindNone              Kind = ""
	KindSourceUnavailable Kind = "SourceUnavailable"
	KindSinkUnavailable   Kind = "SinkUnavailable"
	KindMalformedRecord   Kind = "MalformedRecord"
	KindInvalidPeriod     Kind = "InvalidPeriod"
	KindCanceled          Kind = "Canceled"
	KindInternal          Kind = "Internal"
)

// KindOf classifies err. A nil error has KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrSinkUnavailable):
		return KindSinkUnavailable
	case errors.Is(err, ErrMalformedRecord):
		return KindMalformedRecord
	case errors.Is(err, ErrInvalidPeriod), errors.Is(err, ErrInvalidGranularity):
		return KindInvalidPeriod
	case errors.Is(err, context.DeadlineExceeded):
		return KindSourceUnavailable
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the unit that produced err may be re-attempted.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrSinkUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
