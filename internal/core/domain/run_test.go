package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonjuyong/stagehand/internal/core/pipeline"
)

func TestNewRun(t *testing.T) {
	run := NewRun("aprofi", "main")

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "aprofi", run.Project)
	assert.Equal(t, "main", run.Ref)
	assert.Equal(t, pipeline.RunPending, run.Status)
	assert.Nil(t, run.FinishedAt)
}

func TestRunLifecycle(t *testing.T) {
	run := NewRun("aprofi", "main")

	require.NoError(t, run.Start())
	assert.Equal(t, pipeline.RunRunning, run.Status)

	require.NoError(t, run.Finish(pipeline.RunSucceeded, ""))
	assert.Equal(t, pipeline.RunSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)
	assert.GreaterOrEqual(t, run.Duration(), time.Duration(0))
}

func TestRunFinishWithError(t *testing.T) {
	run := NewRun("aprofi", "main")
	require.NoError(t, run.Start())

	require.NoError(t, run.Finish(pipeline.RunFailed, "up: image build failed"))
	assert.Equal(t, pipeline.RunFailed, run.Status)
	assert.Equal(t, "up: image build failed", run.Error)
}

func TestRunInvalidTransitions(t *testing.T) {
	run := NewRun("aprofi", "main")

	// Finish before Start
	assert.ErrorIs(t, run.Finish(pipeline.RunSucceeded, ""), ErrRunNotStarted)

	require.NoError(t, run.Start())

	// Double start
	assert.ErrorIs(t, run.Start(), ErrInvalidTransition)

	// Non-terminal status
	assert.ErrorIs(t, run.Finish(pipeline.RunRunning, ""), ErrInvalidTransition)
}

func TestStageRecord(t *testing.T) {
	run := NewRun("aprofi", "main")
	rec := NewStageRecord(run.ID, 3, pipeline.StageTeardown)

	assert.Equal(t, run.ID, rec.RunID)
	assert.Equal(t, 3, rec.Seq)
	assert.Equal(t, pipeline.StageRunning, rec.Status)

	require.NoError(t, rec.Finish(pipeline.StageSucceeded, ""))
	assert.Equal(t, pipeline.StageSucceeded, rec.Status)
	require.NotNil(t, rec.FinishedAt)
}

func TestStageRecordRejectsNonTerminalStatus(t *testing.T) {
	rec := NewStageRecord("run-1", 0, pipeline.StageCheckout)
	assert.ErrorIs(t, rec.Finish(pipeline.StageRunning, ""), ErrInvalidTransition)
}
