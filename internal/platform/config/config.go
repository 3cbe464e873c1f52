// Package config holds the process configuration for cohort runs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"cohort-retention-service/internal/cohorts/core/clients"
	"cohort-retention-service/internal/cohorts/core/domain"
)

// Config is passed explicitly to everything that needs it; nothing reads the
// environment after Load.
type Config struct {
	SourceDriver string `env:"COHORTS_SOURCE_DRIVER" envDefault:"postgres"`
	SourceDSN    string `env:"COHORTS_SOURCE_DSN"`
	SinkDriver   string `env:"COHORTS_SINK_DRIVER" envDefault:"mysql"`
	SinkDSN      string `env:"COHORTS_SINK_DSN"`

	Granularity string `env:"COHORTS_GRANULARITY" envDefault:"weekly"`
	From        string `env:"COHORTS_FROM"`
	To          string `env:"COHORTS_TO"`

	Clients []string `env:"COHORTS_CLIENTS" envSeparator:","`

	QueryTimeout  time.Duration `env:"COHORTS_QUERY_TIMEOUT" envDefault:"5m"`
	Retries       int           `env:"COHORTS_RETRIES" envDefault:"3"`
	PeriodWorkers int           `env:"COHORTS_PERIOD_WORKERS" envDefault:"2"`
	OffsetWorkers int           `env:"COHORTS_OFFSET_WORKERS" envDefault:"4"`

	HTTPAddr string `env:"COHORTS_HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"COHORTS_LOG_LEVEL" envDefault:"info"`
	DryRun   bool   `env:"COHORTS_DRY_RUN" envDefault:"false"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.Clients) == 0 {
		cfg.Clients = clients.Defaults()
	}
	return cfg, nil
}

// Validate checks the options every command needs. The date range is
// validated separately by DateRange since serve mode takes it per request.
func (c Config) Validate() error {
	var errs []error
	if c.SourceDSN == "" {
		errs = append(errs, errors.New("COHORTS_SOURCE_DSN is not set"))
	}
	if c.SinkDSN == "" && !c.DryRun {
		errs = append(errs, errors.New("COHORTS_SINK_DSN is not set"))
	}
	if _, err := c.Granularities(); err != nil {
		errs = append(errs, err)
	}
	for _, cl := range c.Clients {
		if cl == "" || len(cl) > domain.MaxKeyLength {
			errs = append(errs, fmt.Errorf("client %q must be 1-%d characters", cl, domain.MaxKeyLength))
		}
	}
	if c.Retries < 0 {
		errs = append(errs, errors.New("COHORTS_RETRIES must not be negative"))
	}
	if c.PeriodWorkers < 1 || c.OffsetWorkers < 1 {
		errs = append(errs, errors.New("worker counts must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c Config) Granularities() ([]domain.Granularity, error) {
	return domain.ParseGranularities(c.Granularity)
}

// DateRange parses From and To as YYYY-MM-DD. An empty To means From.
func (c Config) DateRange() (time.Time, time.Time, error) {
	return ParseDateRange(c.From, c.To)
}

func ParseDateRange(fromStr, toStr string) (time.Time, time.Time, error) {
	fromStr, toStr = strings.TrimSpace(fromStr), strings.TrimSpace(toStr)
	if fromStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start date is required", domain.ErrInvalidPeriod)
	}
	if toStr == "" {
		toStr = fromStr
	}
	from, err := time.Parse(time.DateOnly, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start date: %w", domain.ErrInvalidPeriod, err)
	}
	to, err := time.Parse(time.DateOnly, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end date: %w", domain.ErrInvalidPeriod, err)
	}
	return from, to, nil
}
