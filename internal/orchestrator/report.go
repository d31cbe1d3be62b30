package orchestrator

import (
	"time"
)

// Report statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// StageResult records one delegation stage's outcome on the report. Stages
// are attached as soon as they resolve, so a failed execution still carries
// every stage that ran before the abort.
type StageResult struct {
	AgentID  string                 `json:"agent_id"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// Report is the aggregated record of one orchestrated execution. It is
// mutated only by the engine's execution flow and immutable once returned.
type Report struct {
	ExecutionID string `json:"execution_id"`
	Target      string `json:"target"`
	Strategy    string `json:"strategy"`
	Action      string `json:"action"`
	ReadOnly    bool   `json:"read_only"`

	PositionSizeUSD float64 `json:"position_size_usd"`

	Risk       *StageResult `json:"risk,omitempty"`
	Hedging    *StageResult `json:"hedging,omitempty"`
	Settlement *StageResult `json:"settlement,omitempty"`
	Reporting  *StageResult `json:"reporting,omitempty"`

	Attestations []string `json:"attestations"`

	Status   string        `json:"status"`
	Summary  string        `json:"summary,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`

	// Cause classifies the failure for errors.Is matching. Nil on success.
	Cause error `json:"-"`
}