package domain

import (
	"fmt"
	"sort"
	"time"
)

// MaxKeyLength bounds client and sso_idp values in the sink.
const MaxKeyLength = 16

// SliceKey partitions a cohort. An empty SSOIdP means the user registered without SSO.
type SliceKey struct {
	Client string
	SSOIdP string
}

func (k SliceKey) String() string {
	if k.SSOIdP == "" {
		return k.Client
	}
	return k.Client + "/" + k.SSOIdP
}

// Cohort is the extracted membership of one cohort period.
// Members values are sorted, de-duplicated and must not be mutated once shared.
type Cohort struct {
	Period   Period
	Members  map[SliceKey][]string
	Excluded int
}

// Size returns the total number of members across slices.
func (c *Cohort) Size() int {
	n := 0
	for _, ids := range c.Members {
		n += len(ids)
	}
	return n
}

// NewIdentitySet sorts and de-duplicates ids.
func NewIdentitySet(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	w := 0
	for i, id := range out {
		if i > 0 && id == out[w-1] {
			continue
		}
		out[w] = id
		w++
	}
	return out[:w]
}

// SortSliceKeys orders keys by client, then sso_idp.
func SortSliceKeys(keys []SliceKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Client != keys[j].Client {
			return keys[i].Client < keys[j].Client
		}
		return keys[i].SSOIdP < keys[j].SSOIdP
	})
}

// Row is one persisted cohort result, unique per (Client, SSOIdP, Date) within
// the table of its granularity.
type Row struct {
	Granularity Granularity
	Date        time.Time
	Client      string
	SSOIdP      string
	Buckets     [BucketCount]int64
	CohortSize  int64
}

func (r Row) Key() SliceKey {
	return SliceKey{Client: r.Client, SSOIdP: r.SSOIdP}
}

// Validate checks the storage and counting invariants of the row.
func (r Row) Validate() error {
	if !r.Granularity.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidGranularity, int(r.Granularity))
	}
	if r.Client == "" || len(r.Client) > MaxKeyLength {
		return fmt.Errorf("%w: client %q", ErrMalformedRecord, r.Client)
	}
	if len(r.SSOIdP) > MaxKeyLength {
		return fmt.Errorf("%w: sso_idp %q", ErrMalformedRecord, r.SSOIdP)
	}
	if r.CohortSize < 0 {
		return fmt.Errorf("negative cohort size %d", r.CohortSize)
	}
	for i, b := range r.Buckets {
		if b < 0 || b > r.CohortSize {
			return fmt.Errorf("bucket b%d=%d outside [0, %d]", i+1, b, r.CohortSize)
		}
	}
	return nil
}
