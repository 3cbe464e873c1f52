package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cohort-retention-service/internal/cohorts/core/domain"
	"cohort-retention-service/internal/cohorts/core/ports"
)

var ErrNoGranularity = errors.New("at least one granularity is required")

// Recorder receives per-period outcomes. The platform metrics package implements it.
type Recorder interface {
	PeriodDone(g domain.Granularity, kind domain.Kind, d time.Duration)
	RowsWritten(g domain.Granularity, n int)
}

type nopRecorder struct{}

func (nopRecorder) PeriodDone(domain.Granularity, domain.Kind, time.Duration) {}
func (nopRecorder) RowsWritten(domain.Granularity, int)                       {}

type Options struct {
	// Clients always receive a row per cohort period, zero-filled when empty.
	Clients []string

	QueryTimeout  time.Duration
	Retries       int
	PeriodWorkers int
	OffsetWorkers int

	Logger   *zap.Logger
	Recorder Recorder

	// NewBackOff overrides the retry schedule; tests use a zero backoff.
	NewBackOff func() backoff.BackOff
}

type RunInput struct {
	Granularities []domain.Granularity
	From          time.Time
	To            time.Time
}

type PeriodResult struct {
	Granularity domain.Granularity
	CohortStart time.Time
	Rows        int
	Kind        domain.Kind
	Err         error
	Duration    time.Duration
}

func (r PeriodResult) OK() bool { return r.Err == nil }

type RunReport struct {
	RunID   string
	Results []PeriodResult
}

// Failed lists the periods that need re-attempting.
func (r *RunReport) Failed() []PeriodResult {
	var out []PeriodResult
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// ComputeCohortsUseCase drives extraction, measurement and writing for every
// (granularity, cohort period) unit of a run.
type ComputeCohortsUseCase struct {
	source ports.ActivitySourcePort
	sink   ports.CohortSinkPort
	opts   Options
	log    *zap.Logger
}

func NewComputeCohortsUseCase(source ports.ActivitySourcePort, sink ports.CohortSinkPort, opts Options) *ComputeCohortsUseCase {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Minute
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.PeriodWorkers <= 0 {
		opts.PeriodWorkers = 1
	}
	if opts.OffsetWorkers <= 0 {
		opts.OffsetWorkers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &ComputeCohortsUseCase{source: source, sink: sink, opts: opts, log: opts.Logger}
}

// Execute validates the request and processes every cohort period in it. A
// failing period is recorded in the report and never stops its siblings; only
// an invalid request returns an error. Cancellation of ctx is observed between
// periods, in-flight periods run to completion.
func (uc *ComputeCohortsUseCase) Execute(ctx context.Context, in RunInput) (*RunReport, error) {
	if len(in.Granularities) == 0 {
		return nil, ErrNoGranularity
	}

	var units []domain.Period
	for _, g := range in.Granularities {
		periods, err := g.CohortPeriods(in.From, in.To)
		if err != nil {
			return nil, err
		}
		units = append(units, periods...)
	}

	report := &RunReport{
		RunID:   uuid.NewString(),
		Results: make([]PeriodResult, len(units)),
	}
	log := uc.log.With(zap.String("run_id", report.RunID))
	log.Info("cohort run started",
		zap.Time("from", in.From),
		zap.Time("to", in.To),
		zap.Int("periods", len(units)),
	)

	var g errgroup.Group
	g.SetLimit(uc.opts.PeriodWorkers)
	for i, p := range units {
		g.Go(func() error {
			report.Results[i] = uc.runUnit(ctx, log, p)
			return nil
		})
	}
	_ = g.Wait()

	failed := len(report.Failed())
	log.Info("cohort run finished",
		zap.Int("periods", len(units)),
		zap.Int("failed", failed),
	)
	return report, nil
}

func (uc *ComputeCohortsUseCase) runUnit(ctx context.Context, log *zap.Logger, p domain.Period) PeriodResult {
	res := PeriodResult{Granularity: p.Granularity, CohortStart: p.Start}
	log = log.With(
		zap.Stringer("granularity", p.Granularity),
		zap.String("cohort_date", p.Start.Format(time.DateOnly)),
	)

	if err := ctx.Err(); err != nil {
		res.Err = err
		res.Kind = domain.KindOf(err)
		uc.opts.Recorder.PeriodDone(p.Granularity, res.Kind, 0)
		return res
	}

	// Units that started finish regardless of cancellation so no row is left
	// half-computed; every query still carries its own timeout.
	unitCtx := context.WithoutCancel(ctx)
	start := time.Now()

	var rows []domain.Row
	err := uc.retry(unitCtx, log, "compute", func() error {
		var err error
		rows, err = uc.computePeriod(unitCtx, log, p)
		return err
	})
	if err == nil {
		err = uc.writeRows(unitCtx, log, rows)
	}

	res.Duration = time.Since(start)
	res.Err = err
	res.Kind = domain.KindOf(err)
	if err == nil {
		res.Rows = len(rows)
		uc.opts.Recorder.RowsWritten(p.Granularity, len(rows))
		log.Info("cohort period written", zap.Int("rows", len(rows)), zap.Duration("took", res.Duration))
	} else {
		log.Error("cohort period failed", zap.String("kind", string(res.Kind)), zap.Error(err))
	}
	uc.opts.Recorder.PeriodDone(p.Granularity, res.Kind, res.Duration)
	return res
}

// computePeriod extracts the cohort and measures its twelve buckets for every
// slice. Slices are returned in key order.
func (uc *ComputeCohortsUseCase) computePeriod(ctx context.Context, log *zap.Logger, p domain.Period) ([]domain.Row, error) {
	b, err := p.Granularity.Boundaries(p.Start)
	if err != nil {
		return nil, err
	}

	var providers []string
	err = uc.withTimeout(ctx, func(ctx context.Context) error {
		providers, err = uc.source.IdentityProviders(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var cohort *domain.Cohort
	err = uc.withTimeout(ctx, func(ctx context.Context) error {
		cohort, err = uc.source.ExtractCohort(ctx, b.Cohort)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cohort.Excluded > 0 {
		log.Warn("users without a recorded client excluded from cohort",
			zap.Int("excluded", cohort.Excluded),
			zap.Error(domain.ErrMalformedRecord),
		)
	}

	keys := sliceUniverse(uc.opts.Clients, providers, cohort)
	rows := make([]domain.Row, len(keys))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(uc.opts.OffsetWorkers)
	for i, key := range keys {
		ids := cohort.Members[key]
		rows[i] = domain.Row{
			Granularity: p.Granularity,
			Date:        b.Cohort.Start,
			Client:      key.Client,
			SSOIdP:      key.SSOIdP,
			CohortSize:  int64(len(ids)),
		}
		if len(ids) == 0 {
			continue
		}
		for n := range domain.BucketCount {
			eg.Go(func() error {
				return uc.withTimeout(egCtx, func(ctx context.Context) error {
					count, err := uc.source.CountActive(ctx, ids, b.Buckets[n])
					if err != nil {
						return fmt.Errorf("b%d %s: %w", n+1, key, err)
					}
					rows[i].Buckets[n] = count
					return nil
				})
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return nil, fmt.Errorf("slice %s: %w", row.Key(), err)
		}
	}
	return rows, nil
}

func (uc *ComputeCohortsUseCase) writeRows(ctx context.Context, log *zap.Logger, rows []domain.Row) error {
	for _, row := range rows {
		err := uc.retry(ctx, log, "upsert", func() error {
			return uc.withTimeout(ctx, func(ctx context.Context) error {
				return uc.sink.UpsertCohort(ctx, row)
			})
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", row.Key(), err)
		}
	}
	return nil
}

func (uc *ComputeCohortsUseCase) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, uc.opts.QueryTimeout)
	defer cancel()
	return fn(ctx)
}

func (uc *ComputeCohortsUseCase) retry(ctx context.Context, log *zap.Logger, op string, fn func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(uc.opts.NewBackOff(), uint64(uc.opts.Retries)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}

// sliceUniverse returns the configured clients crossed with the no-SSO slice
// and every known provider, plus any extracted slice outside that set.
func sliceUniverse(clientList, providers []string, cohort *domain.Cohort) []domain.SliceKey {
	seen := make(map[domain.SliceKey]struct{})
	var keys []domain.SliceKey
	add := func(k domain.SliceKey) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	idps := append([]string{""}, providers...)
	for _, c := range clientList {
		for _, idp := range idps {
			add(domain.SliceKey{Client: c, SSOIdP: idp})
		}
	}
	for k := range cohort.Members {
		add(k)
	}
	domain.SortSliceKeys(keys)
	return keys
}
