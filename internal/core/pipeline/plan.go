package pipeline

// =============================================================================
// Run Planning
// =============================================================================

// PlannedStage is one entry in a run plan.
type PlannedStage struct {
	Name StageName

	// Enabled is false when the spec does not configure the stage.
	// Disabled stages are still recorded (as skipped) so every run has
	// the same shape.
	Enabled bool

	// Probe marks a best-effort stage whose failure never aborts the
	// run and, unless strict mode is on, never fails it either.
	Probe bool
}

// Plan is the ordered list of stages for a run.
type Plan struct {
	Stages []PlannedStage

	// Strict promotes a down probe outcome to a run failure.
	Strict bool
}

// BuildPlan derives the run plan from a validated spec.
// This is a pure function: the plan depends only on the spec.
//
// The stage order is fixed (StageOrder); configuration only toggles
// whether each stage is enabled. This is what guarantees that images
// are pulled before teardown and that teardown precedes up.
func BuildPlan(spec *Spec) Plan {
	enabled := map[StageName]bool{
		StageCheckout:  spec.Source != nil,
		StageEnvSetup:  spec.EnvFile != nil,
		StagePull:      len(spec.Images) > 0,
		StageTeardown:  spec.ComposeFile != "",
		StageUp:        spec.ComposeFile != "",
		StageHTTPProbe: spec.Probes.HTTP != nil,
		StageDBProbe:   spec.Probes.Database != nil,
		StageCleanup:   spec.EnvFile != nil,
	}

	plan := Plan{
		Stages: make([]PlannedStage, 0, len(StageOrder)),
		Strict: spec.Probes.Strict,
	}
	for _, name := range StageOrder {
		plan.Stages = append(plan.Stages, PlannedStage{
			Name:    name,
			Enabled: enabled[name],
			Probe:   name == StageHTTPProbe || name == StageDBProbe,
		})
	}
	return plan
}

// =============================================================================
// Run Status Aggregation
// =============================================================================

// StageResult is the recorded outcome of one stage.
type StageResult struct {
	Name    StageName
	Status  StageStatus
	Message string
}

// AggregateRunStatus determines the run status from recorded stage results.
// This is a pure function.
//
// A failed stage fails the run. Degraded probe stages leave the run
// succeeded: strict-mode promotion happens earlier, when the runner maps a
// probe outcome to a stage status.
func AggregateRunStatus(results []StageResult) RunStatus {
	if len(results) == 0 {
		return RunFailed
	}
	for _, r := range results {
		if r.Status == StageFailed {
			return RunFailed
		}
	}
	return RunSucceeded
}

// RemainingSkipped marks every non-cleanup stage after a fatal failure as
// skipped. The cleanup stage is exempt: it always runs (deferred), so it
// keeps whatever status its execution produces.
func RemainingSkipped(plan Plan, failedIdx int) []PlannedStage {
	var skipped []PlannedStage
	for i := failedIdx + 1; i < len(plan.Stages); i++ {
		if plan.Stages[i].Name == StageCleanup {
			continue
		}
		skipped = append(skipped, plan.Stages[i])
	}
	return skipped
}
