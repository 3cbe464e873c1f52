package fiber

// CreateRunRequest triggers a cohort computation
// @Description Cohort run request DTO
type CreateRunRequest struct {
	Granularity string `json:"granularity" example:"weekly"`
	From        string `json:"from" example:"2024-01-01"`
	To          string `json:"to" example:"2024-01-31"`
}

type PeriodResultResponse struct {
	Granularity string  `json:"granularity"`
	CohortStart string  `json:"cohort_start"`
	Rows        int     `json:"rows"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
	DurationSec float64 `json:"duration_seconds"`
}

type RunResponse struct {
	RunID   string                 `json:"run_id"`
	Periods int                    `json:"periods"`
	Failed  int                    `json:"failed"`
	Results []PeriodResultResponse `json:"results"`
}

type HealthResponse struct {
	Status string            `json:"status" example:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error" example:"invalid_run"`
	Message string `json:"message" example:"start date is required"`
}
