package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// BuildPlan Tests
// =============================================================================

func fullSpec(t *testing.T) *Spec {
	t.Helper()
	spec, err := ParseSpec([]byte(fullSpecYAML))
	require.NoError(t, err)
	return spec
}

func TestBuildPlan_FixedOrder(t *testing.T) {
	plan := BuildPlan(fullSpec(t))

	var names []StageName
	for _, s := range plan.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, StageOrder, names)
}

func TestBuildPlan_AllEnabled(t *testing.T) {
	plan := BuildPlan(fullSpec(t))

	for _, s := range plan.Stages {
		assert.True(t, s.Enabled, "stage %s should be enabled", s.Name)
	}
}

func TestBuildPlan_PullPrecedesTeardownPrecedesUp(t *testing.T) {
	plan := BuildPlan(fullSpec(t))

	idx := make(map[StageName]int)
	for i, s := range plan.Stages {
		idx[s.Name] = i
	}
	assert.Less(t, idx[StagePull], idx[StageTeardown])
	assert.Less(t, idx[StageTeardown], idx[StageUp])
	assert.Less(t, idx[StageUp], idx[StageHTTPProbe])
}

func TestBuildPlan_DisabledStages(t *testing.T) {
	spec, err := ParseSpec([]byte(minimalSpecYAML))
	require.NoError(t, err)

	plan := BuildPlan(spec)

	enabled := make(map[StageName]bool)
	for _, s := range plan.Stages {
		enabled[s.Name] = s.Enabled
	}
	assert.False(t, enabled[StageCheckout])
	assert.False(t, enabled[StageEnvSetup])
	assert.True(t, enabled[StagePull])
	assert.False(t, enabled[StageTeardown])
	assert.False(t, enabled[StageUp])
	assert.False(t, enabled[StageHTTPProbe])
	assert.False(t, enabled[StageDBProbe])
	assert.False(t, enabled[StageCleanup])
}

func TestBuildPlan_ProbeFlags(t *testing.T) {
	plan := BuildPlan(fullSpec(t))

	for _, s := range plan.Stages {
		probe := s.Name == StageHTTPProbe || s.Name == StageDBProbe
		assert.Equal(t, probe, s.Probe, "stage %s", s.Name)
	}
	assert.False(t, plan.Strict)
}

func TestBuildPlan_Strict(t *testing.T) {
	spec := fullSpec(t)
	spec.Probes.Strict = true

	plan := BuildPlan(spec)
	assert.True(t, plan.Strict)
}

// =============================================================================
// AggregateRunStatus Tests
// =============================================================================

func TestAggregateRunStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []StageResult
		want    RunStatus
	}{
		{
			name:    "empty",
			results: nil,
			want:    RunFailed,
		},
		{
			name: "all succeeded",
			results: []StageResult{
				{Name: StagePull, Status: StageSucceeded},
				{Name: StageUp, Status: StageSucceeded},
			},
			want: RunSucceeded,
		},
		{
			name: "degraded probe does not fail run",
			results: []StageResult{
				{Name: StageUp, Status: StageSucceeded},
				{Name: StageHTTPProbe, Status: StageDegraded},
				{Name: StageDBProbe, Status: StageDegraded},
				{Name: StageCleanup, Status: StageSucceeded},
			},
			want: RunSucceeded,
		},
		{
			name: "skipped stages do not fail run",
			results: []StageResult{
				{Name: StageCheckout, Status: StageSkipped},
				{Name: StagePull, Status: StageSucceeded},
			},
			want: RunSucceeded,
		},
		{
			name: "failed stage fails run",
			results: []StageResult{
				{Name: StagePull, Status: StageFailed},
				{Name: StageCleanup, Status: StageSucceeded},
			},
			want: RunFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateRunStatus(tt.results))
		})
	}
}

// =============================================================================
// RemainingSkipped Tests
// =============================================================================

func TestRemainingSkipped_CleanupExempt(t *testing.T) {
	plan := BuildPlan(fullSpec(t))

	// Fail at pull (index 2)
	skipped := RemainingSkipped(plan, 2)

	var names []StageName
	for _, s := range skipped {
		names = append(names, s.Name)
	}
	assert.Equal(t, []StageName{StageTeardown, StageUp, StageHTTPProbe, StageDBProbe}, names)
}

func TestRemainingSkipped_LastStage(t *testing.T) {
	plan := BuildPlan(fullSpec(t))
	skipped := RemainingSkipped(plan, len(plan.Stages)-1)
	assert.Empty(t, skipped)
}

// =============================================================================
// StageStatus Tests
// =============================================================================

func TestStageStatus_Terminal(t *testing.T) {
	assert.True(t, StageSucceeded.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.True(t, StageSkipped.Terminal())
	assert.True(t, StageDegraded.Terminal())
	assert.False(t, StagePending.Terminal())
	assert.False(t, StageRunning.Terminal())
}
