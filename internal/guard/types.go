package guard

import (
	"fmt"
	"time"
)

// ConsensusSizeThresholdUSD is the position size above which consensus is
// required whenever the limits globally require it.
const ConsensusSizeThresholdUSD = 100_000

// FailureThreshold is the number of consecutive failed executions that trips
// the circuit breaker.
const FailureThreshold = 3

// ApprovalConsensus is the approval tag signaling the orchestrator to run
// the multi-agent consensus step before proceeding.
const ApprovalConsensus = "multi_agent_consensus"

// ApprovalRiskOfficer is the extra approval tag attached to positions above
// half the hard cap.
const ApprovalRiskOfficer = "risk_officer_review"

// Limits is the guard's admission configuration. It is immutable per guard
// instance and replaced wholesale via UpdateLimits - never merged
// field-by-field.
type Limits struct {
	MaxPositionSizeUSD      float64       `json:"max_position_size_usd"`
	MaxDailyVolumeUSD       float64       `json:"max_daily_volume_usd"`
	MaxSlippagePct          float64       `json:"max_slippage_pct"`
	MaxLeverage             float64       `json:"max_leverage"`
	RequireConsensus        bool          `json:"require_consensus"`
	ConsensusQuorum         float64       `json:"consensus_quorum"` // fraction of required agents, (0, 1]
	CooldownPeriod          time.Duration `json:"cooldown_period"`
	MaxConcurrent           int           `json:"max_concurrent"`
	AttestationThresholdUSD float64       `json:"attestation_threshold_usd"`
}

// DefaultLimits returns the deployment defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizeUSD:      10_000_000,
		MaxDailyVolumeUSD:       50_000_000,
		MaxSlippagePct:          1.0,
		MaxLeverage:             5,
		RequireConsensus:        true,
		ConsensusQuorum:         0.67,
		CooldownPeriod:          30 * time.Second,
		MaxConcurrent:           3,
		AttestationThresholdUSD: 250_000,
	}
}

// Validate checks if the Limits have valid field values.
func (l *Limits) Validate() error {
	if l.MaxPositionSizeUSD <= 0 {
		return fmt.Errorf("max_position_size_usd must be positive")
	}
	if l.MaxDailyVolumeUSD <= 0 {
		return fmt.Errorf("max_daily_volume_usd must be positive")
	}
	if l.MaxSlippagePct < 0 {
		return fmt.Errorf("max_slippage_pct cannot be negative")
	}
	if l.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be positive")
	}
	if l.ConsensusQuorum <= 0 || l.ConsensusQuorum > 1 {
		return fmt.Errorf("consensus_quorum must be in (0, 1], got %.2f", l.ConsensusQuorum)
	}
	if l.CooldownPeriod < 0 {
		return fmt.Errorf("cooldown_period cannot be negative")
	}
	if l.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if l.AttestationThresholdUSD < 0 {
		return fmt.Errorf("attestation_threshold_usd cannot be negative")
	}
	return nil
}

// ValidationRequest describes one proposed execution for admission control.
type ValidationRequest struct {
	ExecutionID     string  `json:"execution_id"`
	AgentID         string  `json:"agent_id"`
	Action          string  `json:"action"`
	PositionSizeUSD float64 `json:"position_size_usd"`
	Leverage        float64 `json:"leverage,omitempty"`
	SlippagePct     float64 `json:"slippage_pct,omitempty"`

	// ReadOnly is declared by the caller (ultimately the external intent
	// parser); the guard never infers it from the action name.
	ReadOnly bool `json:"read_only"`
}

// ValidationResult is the admission decision. IsValid is true iff Errors is
// empty; Warnings and approval tags never invalidate a request on their own.
type ValidationResult struct {
	IsValid             bool     `json:"is_valid"`
	CircuitOpen         bool     `json:"circuit_open"` // breaker was open at validation time
	Errors              []string `json:"errors"`
	Warnings            []string `json:"warnings"`
	RiskScore           float64  `json:"risk_score"`
	RequiredApprovals   []string `json:"required_approvals"`
	AttestationRequired bool     `json:"attestation_required"`
}

// BreakerState is the circuit breaker's externally visible state.
// IsOpen transitions back to false only after the cooldown elapses (checked
// lazily on the next validation) or an explicit reset.
type BreakerState struct {
	IsOpen              bool      `json:"is_open"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	Reason              string    `json:"reason,omitempty"`
}

// Status is the guard's administrative snapshot.
type Status struct {
	Breaker         BreakerState `json:"breaker"`
	InFlight        []string     `json:"in_flight"` // execution IDs currently admitted
	DailyVolumeUSD  float64      `json:"daily_volume_usd"`
	VolumeDay       string       `json:"volume_day"` // UTC calendar day the counter belongs to
	LastExecutionAt time.Time    `json:"last_execution_at,omitzero"`
	OpenProposals   int          `json:"open_proposals"`
	Limits          Limits       `json:"limits"`
}

// Vote is one agent's recorded position on a consensus proposal.
type Vote struct {
	Approved bool      `json:"approved"`
	Reason   string    `json:"reason"`
	CastAt   time.Time `json:"cast_at"`
}

// Proposal tracks one consensus round, keyed by execution ID. Votes cast
// after the deadline are rejected.
type Proposal struct {
	ExecutionID   string          `json:"execution_id"`
	Text          string          `json:"text"`
	Votes         map[string]Vote `json:"votes"` // voter ID -> vote
	RequiredVotes int             `json:"required_votes"`
	Deadline      time.Time       `json:"deadline"`
}

// ConsensusStatus is the outcome of a consensus check. A proposal is reached
// only once total votes >= RequiredVotes, and approved only if approving
// votes >= RequiredVotes.
type ConsensusStatus struct {
	Reached       bool `json:"reached"`
	Approved      bool `json:"approved"`
	ApproveVotes  int  `json:"approve_votes"`
	RejectVotes   int  `json:"reject_votes"`
	RequiredVotes int  `json:"required_votes"`
}
