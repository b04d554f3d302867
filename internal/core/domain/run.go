// Package domain holds the persisted entities of the run history:
// pipeline runs and their per-stage records.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kwonjuyong/stagehand/internal/core/pipeline"
)

// =============================================================================
// Run Errors
// =============================================================================

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRunNotStarted     = errors.New("run has not started")
)

// =============================================================================
// Run
// =============================================================================

// Run is one execution of a pipeline for a project.
type Run struct {
	ID         string             `json:"id"`
	Project    string             `json:"project"`
	Ref        string             `json:"ref,omitempty"`
	Commit     string             `json:"commit,omitempty"`
	Status     pipeline.RunStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// NewRun creates a pending run for a project.
func NewRun(project, ref string) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Project:   project,
		Ref:       ref,
		Status:    pipeline.RunPending,
		StartedAt: time.Now().UTC(),
	}
}

// Start marks the run as executing.
func (r *Run) Start() error {
	if r.Status != pipeline.RunPending {
		return ErrInvalidTransition
	}
	r.Status = pipeline.RunRunning
	r.StartedAt = time.Now().UTC()
	return nil
}

// Finish records the terminal status and, on failure, the message of the
// stage that ended the run.
func (r *Run) Finish(status pipeline.RunStatus, errMessage string) error {
	if r.Status != pipeline.RunRunning {
		return ErrRunNotStarted
	}
	if status != pipeline.RunSucceeded && status != pipeline.RunFailed {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	r.Status = status
	r.Error = errMessage
	r.FinishedAt = &now
	return nil
}

// Duration returns how long the run took, or zero if still in flight.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// =============================================================================
// Stage Record
// =============================================================================

// StageRecord is the persisted outcome of one stage within a run.
type StageRecord struct {
	RunID      string               `json:"run_id"`
	Seq        int                  `json:"seq"`
	Stage      pipeline.StageName   `json:"stage"`
	Status     pipeline.StageStatus `json:"status"`
	Message    string               `json:"message,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
}

// NewStageRecord creates a running record for the stage at position seq.
func NewStageRecord(runID string, seq int, stage pipeline.StageName) *StageRecord {
	return &StageRecord{
		RunID:     runID,
		Seq:       seq,
		Stage:     stage,
		Status:    pipeline.StageRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Finish records the stage outcome.
func (s *StageRecord) Finish(status pipeline.StageStatus, message string) error {
	if !status.Terminal() {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	s.Status = status
	s.Message = message
	s.FinishedAt = &now
	return nil
}
