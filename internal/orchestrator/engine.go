// Package orchestrator sequences one structured intent through admission,
// consensus, staged delegation, attestation, and reporting, producing a
// single auditable execution report per request.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrarejimmyz/zkvanguard/internal/agent"
	"github.com/mrarejimmyz/zkvanguard/internal/attest"
	"github.com/mrarejimmyz/zkvanguard/internal/guard"
	"github.com/mrarejimmyz/zkvanguard/internal/intent"
)

const (
	// orchestratorID is the acting-agent identity recorded on audit entries
	// the engine itself opens.
	orchestratorID = "orchestrator"

	// Task priorities carried as advisory metadata on delegated tasks.
	// Agent queues are strictly FIFO; the values only distinguish vote
	// work from stage work in logs and audit params.
	taskPriorityStage = 5
	taskPriorityVote  = 7

	// maxReportHistory bounds the in-memory report history, oldest evicted.
	maxReportHistory = 50

	defaultConsensusTimeout = 30 * time.Second
)

// Engine is the lead role: it owns no domain logic of its own and only
// gates, sequences, and records the work of the specialized agents.
// Safe for concurrent use; each Execute call runs one independent execution.
type Engine struct {
	instanceName     string
	guard            *guard.Guard
	registry         *agent.Registry
	attestor         attest.Attestor
	consensusTimeout time.Duration

	mu      sync.Mutex
	reports []*Report
}

// NewEngine creates an orchestration engine over the given guard and
// registry.
func NewEngine(instanceName string, g *guard.Guard, reg *agent.Registry) *Engine {
	return &Engine{
		instanceName:     instanceName,
		guard:            g,
		registry:         reg,
		consensusTimeout: defaultConsensusTimeout,
	}
}

// SetAttestor attaches the external attestation collaborator. Without one,
// executions proceed unattested and complete with an empty handle.
func (e *Engine) SetAttestor(a attest.Attestor) {
	e.attestor = a
}

// SetConsensusTimeout overrides the voting deadline for consensus rounds.
func (e *Engine) SetConsensusTimeout(d time.Duration) {
	if d > 0 {
		e.consensusTimeout = d
	}
}

// estimatePositionSize derives the admission-control position size from the
// intent. Zero for read-only intents; otherwise the capital share the
// objectives allocate. Deterministic: same intent, same estimate.
func estimatePositionSize(in intent.Intent) float64 {
	if in.ReadOnly {
		return 0
	}
	return in.Objectives.CapitalUSD * in.Objectives.AllocationPct / 100
}

// Execute runs one intent end to end and always returns a report, never an
// error: every failure below this point is converted into a failed report
// carrying the original message, with partial stage results preserved.
func (e *Engine) Execute(ctx context.Context, in intent.Intent) *Report {
	started := time.Now()
	report := &Report{
		ExecutionID:  uuid.New().String(),
		Target:       in.Target,
		Strategy:     in.Objectives.Strategy,
		Action:       in.Action,
		ReadOnly:     in.ReadOnly,
		Attestations: []string{},
		Status:       StatusFailed,
	}
	defer func() {
		report.Duration = time.Since(started)
		e.remember(report)
	}()

	e.logEvent("execution_received", map[string]interface{}{
		"execution_id": report.ExecutionID,
		"action":       in.Action,
		"target":       in.Target,
		"read_only":    in.ReadOnly,
	})

	if err := in.Validate(); err != nil {
		return e.deny(report, fmt.Errorf("%w: %v", ErrAdmissionDenied, err))
	}

	size := estimatePositionSize(in)
	report.PositionSizeUSD = size

	// Admission. An invalid verdict synthesizes a failed report immediately;
	// no agent is invoked and nothing is marked in-flight.
	verdict := e.guard.ValidateExecution(guard.ValidationRequest{
		ExecutionID:     report.ExecutionID,
		AgentID:         orchestratorID,
		Action:          in.Action,
		PositionSizeUSD: size,
		Leverage:        in.Constraints.MaxLeverage,
		SlippagePct:     in.Constraints.MaxSlippagePct,
		ReadOnly:        in.ReadOnly,
	})
	if !verdict.IsValid {
		cause := ErrAdmissionDenied
		if verdict.CircuitOpen {
			cause = ErrCircuitOpen
		}
		report.Errors = append(report.Errors, verdict.Errors...)
		return e.deny(report, cause)
	}

	if _, err := e.guard.StartExecution(ctx, report.ExecutionID, orchestratorID, in.Action, in.ReadOnly,
		map[string]interface{}{
			"target":            in.Target,
			"strategy":          in.Objectives.Strategy,
			"position_size_usd": size,
		}, nil); err != nil {
		report.Errors = append(report.Errors, err.Error())
		return e.deny(report, fmt.Errorf("%w: %v", ErrAdmissionDenied, err))
	}

	// From here on every abort must release the in-flight slot via
	// FailExecution, which e.abort does.

	var riskData map[string]interface{}
	if in.RequiresRiskAssessment() {
		res, err := e.delegate(ctx, report.ExecutionID, agent.TypeRisk, agent.TaskTypeAnalyzeRisk,
			map[string]interface{}{
				"position_size_usd": size,
				"target_apy":        in.Objectives.TargetAPY,
				"risk_tolerance":    in.Objectives.RiskTolerance,
			})
		report.Risk = stageResult(res)
		if err != nil {
			return e.abort(ctx, report, err)
		}
		riskData = res.Data
	}

	if containsApproval(verdict.RequiredApprovals, guard.ApprovalConsensus) {
		if err := e.runConsensus(ctx, report.ExecutionID, in, size); err != nil {
			return e.abort(ctx, report, err)
		}
	}

	if !in.ReadOnly && requiresType(in, agent.TypeHedging) {
		params := map[string]interface{}{"position_size_usd": size}
		if v, ok := riskData["volatility"]; ok {
			params["volatility"] = v
		}
		res, err := e.delegate(ctx, report.ExecutionID, agent.TypeHedging, agent.TaskTypeHedge, params)
		report.Hedging = stageResult(res)
		if err != nil {
			return e.abort(ctx, report, err)
		}
	}

	if !in.ReadOnly && requiresType(in, agent.TypeSettlement) {
		res, err := e.delegate(ctx, report.ExecutionID, agent.TypeSettlement, agent.TaskTypeSettle,
			map[string]interface{}{"position_size_usd": size})
		report.Settlement = stageResult(res)
		if err != nil {
			return e.abort(ctx, report, err)
		}
	}

	// Attestation over the risk result. Failure aborts: a fabricated handle
	// is never substituted, and an execution the guard flagged as requiring
	// attestation never completes without a verified one.
	attHandle := ""
	if report.Risk != nil && e.attestor != nil {
		res, err := e.attestor.Attest(ctx, "risk_assessment:"+report.ExecutionID, riskData)
		if err != nil {
			return e.abort(ctx, report, fmt.Errorf("%w: %v", ErrAttestationFailed, err))
		}
		if !res.Verified {
			return e.abort(ctx, report, fmt.Errorf("%w: handle %s came back unverified", ErrAttestationFailed, res.Handle))
		}
		attHandle = res.Handle
		report.Attestations = append(report.Attestations, res.Handle)
	}
	if verdict.AttestationRequired && attHandle == "" {
		return e.abort(ctx, report, fmt.Errorf(
			"%w: position size $%.2f requires attestation but no verified handle was obtained", ErrAttestationFailed, size))
	}

	// Reporting is the final stage when a reporting agent is registered.
	if rep, err := e.registry.GetAgentByType(agent.TypeReporting); err == nil {
		stages := 0
		for _, s := range []*StageResult{report.Risk, report.Hedging, report.Settlement} {
			if s != nil {
				stages++
			}
		}
		task := agent.NewTask(report.ExecutionID, agent.TaskTypeReport, taskPriorityStage,
			map[string]interface{}{
				"strategy":         in.Objectives.Strategy,
				"target":           in.Target,
				"stages_completed": stages,
			})
		res := rep.ExecuteTask(ctx, task)
		report.Reporting = stageResult(res)
		if !res.Success {
			return e.abort(ctx, report, fmt.Errorf("%w: reporting stage: %s", ErrDelegationFailed, res.Error))
		}
		if summary, ok := res.Data["summary"].(string); ok {
			report.Summary = summary
		}
	}

	if err := e.guard.CompleteExecution(ctx, report.ExecutionID, attHandle); err != nil {
		// The entry was finalized out from under us; record it but the work
		// itself succeeded.
		log.Printf("[Orchestrator] Failed to finalize execution %s: %v", report.ExecutionID, err)
	}
	if !in.ReadOnly && size > 0 {
		e.guard.AddVolume(size)
	}

	report.Status = StatusSuccess
	if report.Summary == "" {
		report.Summary = fmt.Sprintf("%s on %s completed", in.Action, in.Target)
	}

	e.logEvent("execution_completed", map[string]interface{}{
		"execution_id": report.ExecutionID,
		"attested":     attHandle != "",
		"duration_ms":  time.Since(started).Milliseconds(),
	})

	return report
}

// delegate runs the fixed delegation sub-protocol: idle-preferring type
// lookup, a fresh task carrying the execution id, and a uniform TaskResult.
func (e *Engine) delegate(ctx context.Context, executionID, agentType, taskType string, params map[string]interface{}) (agent.TaskResult, error) {
	a, err := e.registry.GetAgentByType(agentType)
	if err != nil {
		return agent.TaskResult{}, fmt.Errorf("%w: %v", ErrDelegationFailed, err)
	}

	task := agent.NewTask(executionID, taskType, taskPriorityStage, params)
	res := a.ExecuteTask(ctx, task)

	e.logEvent("stage_completed", map[string]interface{}{
		"execution_id": executionID,
		"agent_type":   agentType,
		"task_type":    taskType,
		"success":      res.Success,
	})

	if !res.Success {
		return res, fmt.Errorf("%w: %s stage: %s", ErrDelegationFailed, agentType, res.Error)
	}
	return res, nil
}

// runConsensus opens a proposal, collects one vote per required agent (each
// agent decides from its own domain signal), and fails unless the quorum
// approves. Approving voter IDs are recorded as audit signatures.
func (e *Engine) runConsensus(ctx context.Context, executionID string, in intent.Intent, size float64) error {
	voterTypes := in.RequiredAgentTypes
	if len(voterTypes) == 0 {
		voterTypes = []string{agent.TypeRisk, agent.TypeHedging, agent.TypeSettlement}
	}

	voters := make([]agent.Agent, 0, len(voterTypes))
	voterIDs := make([]string, 0, len(voterTypes))
	for _, t := range voterTypes {
		a, err := e.registry.GetAgentByType(t)
		if err != nil {
			return fmt.Errorf("%w: no %s agent available to vote", ErrConsensusRejected, t)
		}
		voters = append(voters, a)
		voterIDs = append(voterIDs, a.ID())
	}

	text := fmt.Sprintf("execute %s on %s for $%.0f", in.Action, in.Target, size)
	proposal, err := e.guard.RequestConsensus(executionID, text, voterIDs, e.consensusTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConsensusRejected, err)
	}
	defer e.guard.CloseProposal(executionID)

	voteParams := map[string]interface{}{
		"position_size_usd": size,
		"target_apy":        in.Objectives.TargetAPY,
		"risk_tolerance":    in.Objectives.RiskTolerance,
	}
	for _, a := range voters {
		task := agent.NewTask(executionID, agent.TaskTypeVote, taskPriorityVote, voteParams)
		res := a.ExecuteTask(ctx, task)

		// A failed vote task is a rejection carrying the failure as reason.
		approved := false
		reason := res.Error
		if res.Success {
			approved, _ = res.Data["approved"].(bool)
			reason, _ = res.Data["reason"].(string)
		}
		if _, err := e.guard.SubmitVote(executionID, a.ID(), approved, reason); err != nil {
			return fmt.Errorf("%w: %v", ErrConsensusRejected, err)
		}
	}

	status, err := e.guard.CheckConsensus(executionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConsensusRejected, err)
	}

	e.logEvent("consensus_resolved", map[string]interface{}{
		"execution_id":   executionID,
		"approve_votes":  status.ApproveVotes,
		"reject_votes":   status.RejectVotes,
		"required_votes": proposal.RequiredVotes,
		"approved":       status.Approved,
	})

	if !status.Approved {
		return fmt.Errorf("%w: %d approve / %d reject with %d required",
			ErrConsensusRejected, status.ApproveVotes, status.RejectVotes, status.RequiredVotes)
	}

	if err := e.guard.RecordApprovals(ctx, executionID, e.guard.Approvers(executionID)); err != nil {
		log.Printf("[Orchestrator] Failed to record approvals for %s: %v", executionID, err)
	}
	return nil
}

// deny finalizes a report that never got past admission. Nothing is
// in-flight, so there is no guard entry to fail.
func (e *Engine) deny(report *Report, cause error) *Report {
	report.Status = StatusFailed
	report.Cause = cause
	if len(report.Errors) == 0 {
		report.Errors = append(report.Errors, cause.Error())
	}
	report.Summary = "admission denied; no agent was invoked"

	e.logEvent("execution_denied", map[string]interface{}{
		"execution_id": report.ExecutionID,
		"cause":        cause.Error(),
		"errors":       report.Errors,
	})
	return report
}

// abort finalizes a report after the execution was already in flight,
// releasing its slot through FailExecution. Partial stage results stay on
// the report.
func (e *Engine) abort(ctx context.Context, report *Report, cause error) *Report {
	report.Status = StatusFailed
	report.Cause = cause
	report.Errors = append(report.Errors, cause.Error())

	if err := e.guard.FailExecution(ctx, report.ExecutionID, cause.Error()); err != nil {
		log.Printf("[Orchestrator] Failed to record failure for %s: %v", report.ExecutionID, err)
	}

	e.logEvent("execution_aborted", map[string]interface{}{
		"execution_id": report.ExecutionID,
		"cause":        cause.Error(),
	})
	return report
}

// remember appends the report to the bounded history, oldest evicted.
func (e *Engine) remember(report *Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, report)
	if len(e.reports) > maxReportHistory {
		e.reports = e.reports[len(e.reports)-maxReportHistory:]
	}
}

// Reports returns the retained report history, oldest first.
func (e *Engine) Reports() []*Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Report, len(e.reports))
	copy(out, e.reports)
	return out
}

// stageResult converts a TaskResult for attachment to the report. A zero
// result (agent lookup never happened) attaches nothing.
func stageResult(res agent.TaskResult) *StageResult {
	if res.AgentID == "" {
		return nil
	}
	return &StageResult{
		AgentID:  res.AgentID,
		Data:     res.Data,
		Error:    res.Error,
		Duration: res.Duration,
	}
}

func containsApproval(approvals []string, tag string) bool {
	for _, a := range approvals {
		if a == tag {
			return true
		}
	}
	return false
}

func requiresType(in intent.Intent, agentType string) bool {
	for _, t := range in.RequiredAgentTypes {
		if t == agentType {
			return true
		}
	}
	return false
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "orchestrator"
	data["event_type"] = eventType
	data["instance"] = e.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Orchestrator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}