package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_Terminal(t *testing.T) {
	assert.True(t, RunStatusComplete.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
	assert.True(t, RunStatusCancelled.Terminal())
	assert.False(t, RunStatusQueued.Terminal())
	assert.False(t, RunStatusAnalyzing.Terminal())
}

func TestStages_Order(t *testing.T) {
	want := []Stage{StageSearch, StageParse, StageAnalyze, StageSynthesize, StagePersist}
	assert.Equal(t, want, Stages())
}

func TestRunResult_Record(t *testing.T) {
	r := NewRunResult()
	r.RecordStage(StageSearch, StageCounts{Found: 10, Succeeded: 8, Failed: 2})
	r.RecordFailure("timeout")
	r.RecordFailure("timeout")
	r.RecordFailure("rate_limit")

	assert.Equal(t, 10, r.Stages[StageSearch].Found)
	assert.Equal(t, 2, r.FailureKinds["timeout"])
	assert.Equal(t, 1, r.FailureKinds["rate_limit"])
}
