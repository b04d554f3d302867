// Package runner executes pipeline runs: it walks the planned stages in
// order, drives the engine, git and workspace adapters, and records every
// stage outcome in the run history.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kwonjuyong/stagehand/internal/core/compose"
	"github.com/kwonjuyong/stagehand/internal/core/domain"
	"github.com/kwonjuyong/stagehand/internal/core/pipeline"
	"github.com/kwonjuyong/stagehand/internal/core/release"
	"github.com/kwonjuyong/stagehand/internal/shell/docker"
	"github.com/kwonjuyong/stagehand/internal/shell/store"
	"github.com/kwonjuyong/stagehand/internal/shell/workspace"
)

// =============================================================================
// Adapter Interfaces
// =============================================================================

// Engine is the container engine surface the runner needs.
type Engine interface {
	PullImage(ctx context.Context, ref string) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	BuildImage(ctx context.Context, spec docker.BuildSpec) error
	CreateNetwork(ctx context.Context, spec docker.NetworkSpec) error
	RemoveNetwork(ctx context.Context, name string) error
	CreateVolume(ctx context.Context, spec docker.VolumeSpec) error
	RemoveVolume(ctx context.Context, name string, force bool) error
	CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string, removeVolumes bool) error
	ListContainersByLabel(ctx context.Context, labels map[string]string) ([]docker.ContainerInfo, error)
	PruneContainers(ctx context.Context, labels map[string]string) error
	Exec(ctx context.Context, containerName string, cmd []string) (docker.ExecResult, error)
}

// SourceSyncer places a git ref on disk and reports the resulting commit.
type SourceSyncer interface {
	Sync(ctx context.Context, repoURL, ref, dir string) (string, error)
}

// =============================================================================
// Runner
// =============================================================================

// stopTimeout is the grace period given to containers during teardown.
const stopTimeout = 10 * time.Second

// Runner executes pipeline runs against a container engine.
type Runner struct {
	engine     Engine
	source     SourceSyncer
	history    store.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a runner. The source syncer may be nil when no spec with a
// source section will be run.
func New(engine Engine, source SourceSyncer, history store.Store, logger *slog.Logger) *Runner {
	return &Runner{
		engine:     engine,
		source:     source,
		history:    history,
		httpClient: &http.Client{},
		logger:     logger.With("component", "runner"),
	}
}

// runState carries artifacts produced by earlier stages to later ones.
type runState struct {
	ws      *workspace.Workspace
	staged  *workspace.StagedEnv
	parsed  *compose.ParsedSpec
	release *release.Plan
}

// Run executes the full pipeline described by spec and returns the
// persisted run. The run itself is returned even when it failed; the
// error is non-nil only when the runner could not execute at all.
func (r *Runner) Run(ctx context.Context, spec *pipeline.Spec) (*domain.Run, error) {
	if err := pipeline.Validate(spec); err != nil {
		return nil, err
	}

	plan := pipeline.BuildPlan(spec)

	ref := ""
	if spec.Source != nil {
		ref = spec.Source.Branch
	}

	run := domain.NewRun(spec.Project, ref)
	if err := r.history.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	if err := run.Start(); err != nil {
		return nil, err
	}
	if err := r.history.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	r.logger.Info("run started", "run_id", run.ID, "project", spec.Project)

	ws, err := workspace.New(spec.Workspace)
	if err != nil {
		return r.finishRun(ctx, run, nil, fmt.Sprintf("workspace: %v", err))
	}
	state := &runState{ws: ws}

	var results []pipeline.StageResult
	fatalIdx := -1
	fatalMsg := ""

	for i, st := range plan.Stages {
		if st.Name == pipeline.StageCleanup {
			continue
		}

		if !st.Enabled {
			results = append(results, r.recordSkipped(ctx, run, i, st.Name))
			continue
		}

		result := r.executeStage(ctx, run, i, st, plan, spec, state)
		results = append(results, result)

		if result.Status == pipeline.StageFailed && !st.Probe {
			fatalIdx = i
			fatalMsg = fmt.Sprintf("%s: %s", st.Name, result.Message)
			r.logger.Error("stage failed", "run_id", run.ID, "stage", st.Name, "error", result.Message)
			break
		}
	}

	if fatalIdx >= 0 {
		for _, st := range pipeline.RemainingSkipped(plan, fatalIdx) {
			seq := stageSeq(plan, st.Name)
			results = append(results, r.recordSkipped(ctx, run, seq, st.Name))
		}
	}

	// Cleanup always runs, whatever happened above
	cleanupIdx := stageSeq(plan, pipeline.StageCleanup)
	cleanup := plan.Stages[cleanupIdx]
	if cleanup.Enabled {
		results = append(results, r.executeStage(ctx, run, cleanupIdx, cleanup, plan, spec, state))
	} else {
		results = append(results, r.recordSkipped(ctx, run, cleanupIdx, pipeline.StageCleanup))
	}

	return r.finishRun(ctx, run, results, fatalMsg)
}

// finishRun persists the terminal run state.
func (r *Runner) finishRun(ctx context.Context, run *domain.Run, results []pipeline.StageResult, failMsg string) (*domain.Run, error) {
	status := pipeline.AggregateRunStatus(results)

	if failMsg == "" && status == pipeline.RunFailed {
		for _, res := range results {
			if res.Status == pipeline.StageFailed {
				failMsg = fmt.Sprintf("%s: %s", res.Name, res.Message)
				break
			}
		}
	}

	if err := run.Finish(status, failMsg); err != nil {
		return run, err
	}
	if err := r.history.UpdateRun(ctx, run); err != nil {
		return run, err
	}

	r.logger.Info("run finished", "run_id", run.ID, "status", status)
	return run, nil
}

// executeStage runs one stage and records its outcome.
func (r *Runner) executeStage(ctx context.Context, run *domain.Run, seq int, st pipeline.PlannedStage, plan pipeline.Plan, spec *pipeline.Spec, state *runState) pipeline.StageResult {
	logger := r.logger.With("run_id", run.ID, "stage", st.Name)
	logger.Info("stage started")

	rec := domain.NewStageRecord(run.ID, seq, st.Name)
	if err := r.history.CreateStageRecord(ctx, rec); err != nil {
		logger.Error("failed to record stage", "error", err)
	}

	status, message := r.dispatch(ctx, run, plan, spec, state, st.Name, logger)

	if err := rec.Finish(status, message); err == nil {
		if err := r.history.UpdateStageRecord(ctx, rec); err != nil {
			logger.Error("failed to update stage record", "error", err)
		}
	}

	logger.Info("stage finished", "status", status)
	return pipeline.StageResult{Name: st.Name, Status: status, Message: message}
}

// recordSkipped persists a skipped stage so every run has the same shape.
func (r *Runner) recordSkipped(ctx context.Context, run *domain.Run, seq int, name pipeline.StageName) pipeline.StageResult {
	rec := domain.NewStageRecord(run.ID, seq, name)
	rec.Status = pipeline.StageSkipped
	now := rec.StartedAt
	rec.FinishedAt = &now

	if err := r.history.CreateStageRecord(ctx, rec); err != nil {
		r.logger.Error("failed to record skipped stage", "run_id", run.ID, "stage", name, "error", err)
	}
	return pipeline.StageResult{Name: name, Status: pipeline.StageSkipped}
}

// dispatch routes a stage name to its implementation.
func (r *Runner) dispatch(ctx context.Context, run *domain.Run, plan pipeline.Plan, spec *pipeline.Spec, state *runState, name pipeline.StageName, logger *slog.Logger) (pipeline.StageStatus, string) {
	switch name {
	case pipeline.StageCheckout:
		return r.runCheckout(ctx, run, spec, state)
	case pipeline.StageEnvSetup:
		return r.runEnvSetup(spec, state)
	case pipeline.StagePull:
		return r.runPull(ctx, spec, logger)
	case pipeline.StageTeardown:
		return r.runTeardown(ctx, spec, state, logger)
	case pipeline.StageUp:
		return r.runUp(ctx, spec, state, logger)
	case pipeline.StageHTTPProbe:
		return r.runHTTPProbe(ctx, plan, spec, logger)
	case pipeline.StageDBProbe:
		return r.runDBProbe(ctx, plan, spec, logger)
	case pipeline.StageCleanup:
		return r.runCleanup(state)
	}
	return pipeline.StageFailed, fmt.Sprintf("unknown stage %q", name)
}

// stageSeq returns the position of a stage in the plan.
func stageSeq(plan pipeline.Plan, name pipeline.StageName) int {
	for i, st := range plan.Stages {
		if st.Name == name {
			return i
		}
	}
	return -1
}
