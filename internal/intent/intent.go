// Package intent defines the structured intent the orchestrator consumes.
//
// Intents are produced by an external natural-language parser; the
// orchestrator never parses free text itself. The ReadOnly flag is decided
// by that parser - downstream components never infer read-onlyness by
// matching action names.
package intent

import "fmt"

// Well-known actions. The set is open: validation only requires an action to
// be non-empty, since the parser may introduce new ones.
const (
	ActionAnalyze      = "analyze"
	ActionOpenPosition = "open_position"
	ActionRebalance    = "rebalance"
	ActionMoveFunds    = "move_funds"
)

// Objectives carries the strategy's yield/risk parameters. The position-size
// estimate the orchestrator derives is a deterministic function of these.
type Objectives struct {
	Strategy      string  `json:"strategy" yaml:"strategy"`
	TargetAPY     float64 `json:"target_apy" yaml:"target_apy"`
	RiskTolerance string  `json:"risk_tolerance" yaml:"risk_tolerance"` // "low", "medium", "high"
	CapitalUSD    float64 `json:"capital_usd" yaml:"capital_usd"`
	AllocationPct float64 `json:"allocation_pct" yaml:"allocation_pct"` // share of capital to deploy, 0-100
}

// Constraints bounds the execution the caller will accept.
type Constraints struct {
	MaxLeverage    float64 `json:"max_leverage" yaml:"max_leverage"`
	MaxSlippagePct float64 `json:"max_slippage_pct" yaml:"max_slippage_pct"`
}

// Intent is one structured request from the external parser.
type Intent struct {
	Action             string      `json:"action" yaml:"action"`
	Target             string      `json:"target" yaml:"target"` // portfolio identifier
	Objectives         Objectives  `json:"objectives" yaml:"objectives"`
	Constraints        Constraints `json:"constraints" yaml:"constraints"`
	RequiredAgentTypes []string    `json:"required_agent_types" yaml:"required_agent_types"`
	ReadOnly           bool        `json:"read_only" yaml:"read_only"`
}

// RequiresRiskAssessment reports whether the risk stage must run. Every
// intent that names the risk agent type, and every read-only analysis,
// requires one.
func (in *Intent) RequiresRiskAssessment() bool {
	if in.ReadOnly {
		return true
	}
	for _, t := range in.RequiredAgentTypes {
		if t == "risk" {
			return true
		}
	}
	return false
}

// Validate checks if the Intent has valid field values.
func (in *Intent) Validate() error {
	if in.Action == "" {
		return fmt.Errorf("intent action cannot be empty")
	}
	if in.Target == "" {
		return fmt.Errorf("intent target cannot be empty")
	}

	switch in.Objectives.RiskTolerance {
	case "low", "medium", "high":
	case "":
		return fmt.Errorf("risk tolerance cannot be empty")
	default:
		return fmt.Errorf("unknown risk tolerance %q", in.Objectives.RiskTolerance)
	}

	if !in.ReadOnly {
		if in.Objectives.CapitalUSD <= 0 {
			return fmt.Errorf("capital_usd must be positive for state-changing intents")
		}
		if in.Objectives.AllocationPct <= 0 || in.Objectives.AllocationPct > 100 {
			return fmt.Errorf("allocation_pct must be in (0, 100], got %.2f", in.Objectives.AllocationPct)
		}
	}

	if in.Constraints.MaxLeverage < 0 {
		return fmt.Errorf("max_leverage cannot be negative")
	}
	if in.Constraints.MaxSlippagePct < 0 {
		return fmt.Errorf("max_slippage_pct cannot be negative")
	}

	return nil
}
