package model

import "time"

// RunStatus tracks a digest run through the pipeline stages.
type RunStatus string

// Run statuses. Complete, Failed, and Cancelled are terminal.
const (
	RunStatusQueued       RunStatus = "queued"
	RunStatusSearching    RunStatus = "searching"
	RunStatusParsing      RunStatus = "parsing"
	RunStatusAnalyzing    RunStatus = "analyzing"
	RunStatusSynthesizing RunStatus = "synthesizing"
	RunStatusPersisting   RunStatus = "persisting"
	RunStatusComplete     RunStatus = "complete"
	RunStatusFailed       RunStatus = "failed"
	RunStatusCancelled    RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusComplete, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Stage names the pipeline stages for counts and progress events.
type Stage string

// Pipeline stages in execution order.
const (
	StageSearch     Stage = "search"
	StageParse      Stage = "parse"
	StageAnalyze    Stage = "analyze"
	StageSynthesize Stage = "synthesize"
	StagePersist    Stage = "persist"
)

// Stages lists the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageSearch, StageParse, StageAnalyze, StageSynthesize, StagePersist}
}

// StageCounts records item progress through one stage. Found is the number
// of inputs handed to the stage; Succeeded+Failed always equals Found once
// the stage has drained.
type StageCounts struct {
	Found     int `json:"found"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Run is the top-level aggregate for one digest generation.
type Run struct {
	ID        string     `json:"id"`
	Topics    []string   `json:"topics"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult is the final snapshot of a drained run. A run always reports
// per-stage counts and classified failure frequencies, never a bare
// succeeded/failed verdict.
type RunResult struct {
	Stages       map[Stage]StageCounts `json:"stages"`
	FailureKinds map[string]int        `json:"failure_kinds,omitempty"`
	TotalTokens  int64                 `json:"total_tokens"`
	TotalCostUSD float64               `json:"total_cost_usd"`
	DurationMS   int64                 `json:"duration_ms"`
	DigestID     string                `json:"digest_id,omitempty"`
	Error        string                `json:"error,omitempty"`
}

// NewRunResult returns a RunResult with initialized maps.
func NewRunResult() *RunResult {
	return &RunResult{
		Stages:       make(map[Stage]StageCounts),
		FailureKinds: make(map[string]int),
	}
}

// RecordStage stores the counts for a drained stage.
func (r *RunResult) RecordStage(stage Stage, counts StageCounts) {
	r.Stages[stage] = counts
}

// RecordFailure increments the frequency counter for a classified
// failure kind.
func (r *RunResult) RecordFailure(kind string) {
	r.FailureKinds[kind]++
}
