package fiber

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"cohort-retention-service/internal/cohorts/core/domain"
	"cohort-retention-service/internal/cohorts/core/usecase"
	"cohort-retention-service/internal/platform/config"
)

type ComputeCohortsUseCase interface {
	Execute(ctx context.Context, in usecase.RunInput) (*usecase.RunReport, error)
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RunHandler struct {
	uc     ComputeCohortsUseCase
	checks map[string]Pinger
	log    *zap.Logger

	// defaultGranularity applies when a request leaves granularity empty.
	defaultGranularity string
}

func NewRunHandler(uc ComputeCohortsUseCase, checks map[string]Pinger, defaultGranularity string, log *zap.Logger) *RunHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if defaultGranularity == "" {
		defaultGranularity = domain.Weekly.String()
	}
	return &RunHandler{uc: uc, checks: checks, log: log, defaultGranularity: defaultGranularity}
}

// CreateRun godoc
// @Summary Compute retention cohorts
// @Description Computes and upserts cohort rows for every period in the date range. Runs synchronously.
// @Tags Runs
// @Accept json
// @Produce json
// @Param request body CreateRunRequest true "Run request"
// @Success 200 {object} RunResponse
// @Success 207 {object} RunResponse "Some periods failed"
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /runs [post]
func (h *RunHandler) CreateRun(c *fiber.Ctx) error {
	var req CreateRunRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_json",
			Message: "request body must be valid JSON",
		})
	}

	if req.Granularity == "" {
		req.Granularity = h.defaultGranularity
	}
	granularities, err := domain.ParseGranularities(req.Granularity)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_run",
			Message: err.Error(),
		})
	}
	from, to, err := config.ParseDateRange(req.From, req.To)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_run",
			Message: err.Error(),
		})
	}

	report, err := h.uc.Execute(c.UserContext(), usecase.RunInput{
		Granularities: granularities,
		From:          from,
		To:            to,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPeriod),
			errors.Is(err, domain.ErrInvalidGranularity),
			errors.Is(err, usecase.ErrNoGranularity):
			return c.Status(http.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_run",
				Message: err.Error(),
			})
		default:
			h.log.Error("cohort run failed", zap.Error(err))
			return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
				Error: "internal_server_error",
			})
		}
	}

	resp := RunResponse{
		RunID:   report.RunID,
		Periods: len(report.Results),
		Failed:  len(report.Failed()),
		Results: make([]PeriodResultResponse, 0, len(report.Results)),
	}
	for _, r := range report.Results {
		pr := PeriodResultResponse{
			Granularity: r.Granularity.String(),
			CohortStart: r.CohortStart.Format(time.DateOnly),
			Rows:        r.Rows,
			Status:      "ok",
			DurationSec: r.Duration.Seconds(),
		}
		if !r.OK() {
			pr.Status = string(r.Kind)
			pr.Error = r.Err.Error()
		}
		resp.Results = append(resp.Results, pr)
	}

	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	return c.Status(status).JSON(resp)
}

// Health godoc
// @Summary Health check
// @Description Pings the activity source and the cohort sink
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /healthz [get]
func (h *RunHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "ok" {
		return c.Status(http.StatusServiceUnavailable).JSON(resp)
	}
	return c.Status(http.StatusOK).JSON(resp)
}
