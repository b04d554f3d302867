package api

import (
	"time"

	"github.com/kwonjuyong/stagehand/internal/core/domain"
)

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RunResponse is the API representation of a run.
type RunResponse struct {
	ID         string     `json:"id"`
	Project    string     `json:"project"`
	Ref        string     `json:"ref,omitempty"`
	Commit     string     `json:"commit,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// StageResponse is the API representation of a stage record.
type StageResponse struct {
	Seq        int        `json:"seq"`
	Stage      string     `json:"stage"`
	Status     string     `json:"status"`
	Message    string     `json:"message,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunListResponse wraps a page of runs.
type RunListResponse struct {
	Runs []RunResponse `json:"runs"`
}

// RunDetailResponse is a run with its stage records.
type RunDetailResponse struct {
	RunResponse
	Stages []StageResponse `json:"stages"`
}

func runToResponse(r *domain.Run) RunResponse {
	return RunResponse{
		ID:         r.ID,
		Project:    r.Project,
		Ref:        r.Ref,
		Commit:     r.Commit,
		Status:     string(r.Status),
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMS: r.Duration().Milliseconds(),
	}
}

func stageToResponse(s *domain.StageRecord) StageResponse {
	return StageResponse{
		Seq:        s.Seq,
		Stage:      string(s.Stage),
		Status:     string(s.Status),
		Message:    s.Message,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
}
