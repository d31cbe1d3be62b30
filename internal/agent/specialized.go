package agent

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Capability types the orchestrator delegates by.
const (
	TypeRisk       = "risk"
	TypeHedging    = "hedging"
	TypeSettlement = "settlement"
	TypeReporting  = "reporting"
)

// Task type discriminators honored by the specialized agents. Every agent
// additionally honors TaskTypeVote so it can participate in consensus.
const (
	TaskTypeAnalyzeRisk = "analyze_risk"
	TaskTypeHedge       = "hedge_position"
	TaskTypeSettle      = "settle_position"
	TaskTypeReport      = "generate_report"
	TaskTypeVote        = "consensus_vote"
)

// Externally-sourced inputs are required: a missing parameter fails the task
// instead of silently substituting a default. The original system defaulted
// missing market data to constants, which leaked mock values into production
// decisions.

// floatParam extracts a required numeric parameter.
func floatParam(params map[string]interface{}, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("required parameter %q is missing", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("parameter %q must be numeric, got %T", key, raw)
	}
}

// stringParam extracts a required string parameter.
func stringParam(params map[string]interface{}, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", key, raw)
	}
	return s, nil
}

// estimateVolatility derives a deterministic volatility estimate from the
// intent's risk tolerance and yield target. Higher tolerance and more
// aggressive yield targets imply more volatile strategies.
func estimateVolatility(riskTolerance string, targetAPY float64) (float64, error) {
	var base float64
	switch strings.ToLower(riskTolerance) {
	case "low":
		base = 0.10
	case "medium":
		base = 0.22
	case "high":
		base = 0.40
	default:
		return 0, fmt.Errorf("unknown risk tolerance %q", riskTolerance)
	}
	// Each point of target APY above 5% adds volatility; capped at 0.95.
	excess := math.Max(0, targetAPY-5.0)
	return math.Min(0.95, base+excess*0.015), nil
}

// RiskAgent assesses proposed executions and votes from its volatility signal.
type RiskAgent struct {
	*Base

	// voteVolatilityCeiling is the volatility above which the agent rejects
	// consensus proposals.
	voteVolatilityCeiling float64
}

// NewRiskAgent creates a risk agent with the default volatility ceiling.
func NewRiskAgent(id string) *RiskAgent {
	a := &RiskAgent{voteVolatilityCeiling: 0.45}
	a.Base = NewBase(id, TypeRisk, []string{TaskTypeAnalyzeRisk, TaskTypeVote}, a.handle)
	return a
}

func (a *RiskAgent) handle(ctx context.Context, task Task) (map[string]interface{}, error) {
	switch task.Type {
	case TaskTypeAnalyzeRisk:
		return a.analyze(task)
	case TaskTypeVote:
		return a.vote(task)
	default:
		return nil, fmt.Errorf("risk agent does not handle task type %q", task.Type)
	}
}

func (a *RiskAgent) analyze(task Task) (map[string]interface{}, error) {
	positionSize, err := floatParam(task.Params, "position_size_usd")
	if err != nil {
		return nil, err
	}
	targetAPY, err := floatParam(task.Params, "target_apy")
	if err != nil {
		return nil, err
	}
	tolerance, err := stringParam(task.Params, "risk_tolerance")
	if err != nil {
		return nil, err
	}

	volatility, err := estimateVolatility(tolerance, targetAPY)
	if err != nil {
		return nil, err
	}

	// Score scales with volatility and yield aggressiveness; size-independent
	// caps are the guard's job, not the risk model's.
	riskScore := math.Min(100, volatility*100+targetAPY*1.5)

	recommendation := "proceed"
	if riskScore > 75 {
		recommendation = "reduce_exposure"
	}

	return map[string]interface{}{
		"position_size_usd": positionSize,
		"volatility":        volatility,
		"risk_score":        riskScore,
		"recommendation":    recommendation,
	}, nil
}

func (a *RiskAgent) vote(task Task) (map[string]interface{}, error) {
	targetAPY, err := floatParam(task.Params, "target_apy")
	if err != nil {
		return nil, err
	}
	tolerance, err := stringParam(task.Params, "risk_tolerance")
	if err != nil {
		return nil, err
	}

	volatility, err := estimateVolatility(tolerance, targetAPY)
	if err != nil {
		return nil, err
	}

	approved := volatility <= a.voteVolatilityCeiling
	reason := fmt.Sprintf("estimated volatility %.2f within ceiling %.2f", volatility, a.voteVolatilityCeiling)
	if !approved {
		reason = fmt.Sprintf("estimated volatility %.2f exceeds ceiling %.2f", volatility, a.voteVolatilityCeiling)
	}

	return map[string]interface{}{"approved": approved, "reason": reason}, nil
}

// HedgingAgent constructs hedge plans and votes from its cost signal.
type HedgingAgent struct {
	*Base

	// maxHedgeCostUSD is the hedge cost above which the agent rejects
	// consensus proposals.
	maxHedgeCostUSD float64
}

// NewHedgingAgent creates a hedging agent with the default cost ceiling.
func NewHedgingAgent(id string) *HedgingAgent {
	a := &HedgingAgent{maxHedgeCostUSD: 100_000}
	a.Base = NewBase(id, TypeHedging, []string{TaskTypeHedge, TaskTypeVote}, a.handle)
	return a
}

func (a *HedgingAgent) handle(ctx context.Context, task Task) (map[string]interface{}, error) {
	switch task.Type {
	case TaskTypeHedge:
		return a.hedge(task)
	case TaskTypeVote:
		return a.vote(task)
	default:
		return nil, fmt.Errorf("hedging agent does not handle task type %q", task.Type)
	}
}

// hedgeCost estimates the cost of hedging a position: 10bps of notional,
// scaled up with volatility.
func (a *HedgingAgent) hedgeCost(positionSize, volatility float64) float64 {
	return positionSize * 0.001 * (1 + volatility)
}

func (a *HedgingAgent) hedge(task Task) (map[string]interface{}, error) {
	positionSize, err := floatParam(task.Params, "position_size_usd")
	if err != nil {
		return nil, err
	}
	volatility, err := floatParam(task.Params, "volatility")
	if err != nil {
		return nil, err
	}

	// Hedge ratio grows with volatility: fully hedged at 0.50 and above.
	ratio := math.Min(1.0, volatility*2)
	notional := positionSize * ratio

	return map[string]interface{}{
		"instrument":         "perp_short",
		"hedge_ratio":        ratio,
		"hedge_notional_usd": notional,
		"estimated_cost_usd": a.hedgeCost(positionSize, volatility),
	}, nil
}

func (a *HedgingAgent) vote(task Task) (map[string]interface{}, error) {
	positionSize, err := floatParam(task.Params, "position_size_usd")
	if err != nil {
		return nil, err
	}

	// Without a risk result at vote time, cost is estimated at the ceiling
	// volatility the risk agent would still approve.
	cost := a.hedgeCost(positionSize, 0.45)
	approved := cost <= a.maxHedgeCostUSD
	reason := fmt.Sprintf("estimated hedge cost $%.0f within budget $%.0f", cost, a.maxHedgeCostUSD)
	if !approved {
		reason = fmt.Sprintf("estimated hedge cost $%.0f exceeds budget $%.0f", cost, a.maxHedgeCostUSD)
	}

	return map[string]interface{}{"approved": approved, "reason": reason}, nil
}

// SettlementAgent produces transfer records and votes from its liquidity signal.
type SettlementAgent struct {
	*Base

	// liquidityCapUSD is the largest position the agent believes it can
	// settle without unacceptable market impact.
	liquidityCapUSD float64
}

// NewSettlementAgent creates a settlement agent with the default liquidity cap.
func NewSettlementAgent(id string) *SettlementAgent {
	a := &SettlementAgent{liquidityCapUSD: 50_000_000}
	a.Base = NewBase(id, TypeSettlement, []string{TaskTypeSettle, TaskTypeVote}, a.handle)
	return a
}

func (a *SettlementAgent) handle(ctx context.Context, task Task) (map[string]interface{}, error) {
	switch task.Type {
	case TaskTypeSettle:
		return a.settle(task)
	case TaskTypeVote:
		return a.vote(task)
	default:
		return nil, fmt.Errorf("settlement agent does not handle task type %q", task.Type)
	}
}

func (a *SettlementAgent) settle(task Task) (map[string]interface{}, error) {
	positionSize, err := floatParam(task.Params, "position_size_usd")
	if err != nil {
		return nil, err
	}
	if positionSize > a.liquidityCapUSD {
		return nil, fmt.Errorf("position $%.0f exceeds settlement liquidity cap $%.0f", positionSize, a.liquidityCapUSD)
	}

	return map[string]interface{}{
		"reference":  "xfer-" + uuid.New().String(),
		"amount_usd": positionSize,
		"venue":      "prime_broker",
	}, nil
}

func (a *SettlementAgent) vote(task Task) (map[string]interface{}, error) {
	positionSize, err := floatParam(task.Params, "position_size_usd")
	if err != nil {
		return nil, err
	}

	approved := positionSize <= a.liquidityCapUSD
	reason := fmt.Sprintf("position $%.0f within liquidity cap $%.0f", positionSize, a.liquidityCapUSD)
	if !approved {
		reason = fmt.Sprintf("position $%.0f exceeds liquidity cap $%.0f", positionSize, a.liquidityCapUSD)
	}

	return map[string]interface{}{"approved": approved, "reason": reason}, nil
}

// ReportingAgent summarizes finished executions. It abstains from consensus
// by approving unconditionally - reporting has no safety signal of its own,
// so it is normally left out of required-agent sets.
type ReportingAgent struct {
	*Base
}

// NewReportingAgent creates a reporting agent.
func NewReportingAgent(id string) *ReportingAgent {
	a := &ReportingAgent{}
	a.Base = NewBase(id, TypeReporting, []string{TaskTypeReport, TaskTypeVote}, a.handle)
	return a
}

func (a *ReportingAgent) handle(ctx context.Context, task Task) (map[string]interface{}, error) {
	switch task.Type {
	case TaskTypeReport:
		return a.report(task)
	case TaskTypeVote:
		return map[string]interface{}{"approved": true, "reason": "reporting agent abstains"}, nil
	default:
		return nil, fmt.Errorf("reporting agent does not handle task type %q", task.Type)
	}
}

func (a *ReportingAgent) report(task Task) (map[string]interface{}, error) {
	strategy, err := stringParam(task.Params, "strategy")
	if err != nil {
		return nil, err
	}
	target, err := stringParam(task.Params, "target")
	if err != nil {
		return nil, err
	}

	stages := 0
	if raw, ok := task.Params["stages_completed"]; ok {
		if n, ok := raw.(int); ok {
			stages = n
		} else if f, ok := raw.(float64); ok {
			stages = int(f)
		}
	}

	summary := fmt.Sprintf("strategy %q on %s completed %d stage(s)", strategy, target, stages)
	return map[string]interface{}{"summary": summary}, nil
}
