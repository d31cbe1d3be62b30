// Package guard implements the execution guard: admission control, the
// circuit breaker, multi-agent consensus bookkeeping, and the append-only
// audit trail that every state-changing execution flows through.
package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrarejimmyz/zkvanguard/pkg/ledger"
)

// Guard is the safety gate in front of every execution. All methods are safe
// for concurrent use. The in-memory audit trail is authoritative; when a
// ledger client is attached the trail is mirrored to Redis best-effort.
type Guard struct {
	mu sync.Mutex

	limits  Limits
	breaker BreakerState
	halted  bool

	inFlight map[string]bool // execution ID -> admitted
	entries  []*ledger.Entry // append-only, terminal result written exactly once
	byExec   map[string]*ledger.Entry

	dailyVolumeUSD float64
	volumeDay      string // UTC calendar day (2006-01-02) the counter belongs to

	lastExecutionAt time.Time // last state-changing admission, drives the cooldown check

	proposals map[string]*Proposal

	led *ledger.Client
	now func() time.Time
}

// NewGuard creates a guard enforcing the given limits.
func NewGuard(limits Limits) (*Guard, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid guard limits: %w", err)
	}

	g := &Guard{
		limits:    limits,
		inFlight:  make(map[string]bool),
		byExec:    make(map[string]*ledger.Entry),
		proposals: make(map[string]*Proposal),
		now:       time.Now,
	}
	g.volumeDay = g.now().UTC().Format("2006-01-02")
	return g, nil
}

// SetLedger attaches a durable audit ledger. Call before the guard starts
// admitting executions.
func (g *Guard) SetLedger(led *ledger.Client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.led = led
}

// SetClock overrides the guard's time source. Used in tests to cross day
// boundaries and cooldown windows deterministically.
func (g *Guard) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Limits returns the currently enforced limits.
func (g *Guard) Limits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// UpdateLimits replaces the enforced limits wholesale. In-flight executions
// are unaffected; only future validations see the new limits.
func (g *Guard) UpdateLimits(limits Limits) error {
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("invalid guard limits: %w", err)
	}

	g.mu.Lock()
	g.limits = limits
	g.mu.Unlock()

	g.logEvent("limits_updated", map[string]interface{}{
		"max_position_size_usd": limits.MaxPositionSizeUSD,
		"max_daily_volume_usd":  limits.MaxDailyVolumeUSD,
		"require_consensus":     limits.RequireConsensus,
	})
	return nil
}

// ValidateExecution runs the ordered admission checks against the request and
// returns the full decision. It never admits anything by itself: callers must
// still call StartExecution once approvals are satisfied.
//
// Checks run in a fixed order and accumulate into Errors rather than
// short-circuiting, so the caller sees every violated limit at once.
func (g *Guard) ValidateExecution(req ValidationRequest) ValidationResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollVolumeDayLocked()
	g.maybeCloseBreakerLocked()

	res := ValidationResult{
		Errors:            []string{},
		Warnings:          []string{},
		RequiredApprovals: []string{},
	}

	now := g.now()

	// 1. Circuit breaker. An emergency halt pins it open with no cooldown.
	if g.breaker.IsOpen {
		res.CircuitOpen = true
		if g.halted {
			res.Errors = append(res.Errors, fmt.Sprintf("circuit breaker open: %s", g.breaker.Reason))
		} else {
			remaining := g.limits.CooldownPeriod - now.Sub(g.breaker.OpenedAt)
			res.Errors = append(res.Errors, fmt.Sprintf(
				"circuit breaker open: %s (%.0fs cooldown remaining)", g.breaker.Reason, remaining.Seconds()))
		}
	}

	// 2. Inter-execution cooldown. Read-only requests with zero position
	// size bypass it; ReadOnly is declared by the caller, never inferred
	// from the action name.
	if !(req.ReadOnly && req.PositionSizeUSD == 0) && !g.lastExecutionAt.IsZero() {
		if since := now.Sub(g.lastExecutionAt); since < g.limits.CooldownPeriod {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"cooldown active: %.0fs remaining since last execution",
				(g.limits.CooldownPeriod - since).Seconds()))
		}
	}

	// 3. Concurrency cap.
	if len(g.inFlight) >= g.limits.MaxConcurrent {
		res.Errors = append(res.Errors, fmt.Sprintf("concurrent execution limit reached (%d)", g.limits.MaxConcurrent))
	}

	// 4. Position size cap. Above half the cap the request stays valid but
	// picks up a warning and an extra approval tag.
	if req.PositionSizeUSD > g.limits.MaxPositionSizeUSD {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"position size $%.2f exceeds limit $%.2f", req.PositionSizeUSD, g.limits.MaxPositionSizeUSD))
	} else if req.PositionSizeUSD > g.limits.MaxPositionSizeUSD/2 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"position size $%.2f is above half the hard cap", req.PositionSizeUSD))
		res.RequiredApprovals = append(res.RequiredApprovals, ApprovalRiskOfficer)
	}

	// 5. Projected daily volume, warning above 80% of the cap.
	projected := g.dailyVolumeUSD + req.PositionSizeUSD
	if projected > g.limits.MaxDailyVolumeUSD {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"daily volume $%.2f + $%.2f would exceed limit $%.2f",
			g.dailyVolumeUSD, req.PositionSizeUSD, g.limits.MaxDailyVolumeUSD))
	} else if projected > g.limits.MaxDailyVolumeUSD*0.8 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"daily volume $%.2f is above 80%% of the cap", projected))
	}

	// 6. Leverage cap.
	if req.Leverage > g.limits.MaxLeverage {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"leverage %.1fx exceeds limit %.1fx", req.Leverage, g.limits.MaxLeverage))
	}

	// 7. Slippage tolerance.
	if req.SlippagePct > g.limits.MaxSlippagePct {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"slippage %.2f%% exceeds limit %.2f%%", req.SlippagePct, g.limits.MaxSlippagePct))
	}

	// 8. Consensus tag. Advisory: it signals the orchestrator to run the
	// consensus step, it never invalidates the request on its own.
	if g.limits.RequireConsensus && req.PositionSizeUSD > ConsensusSizeThresholdUSD {
		res.RequiredApprovals = append(res.RequiredApprovals, ApprovalConsensus)
	}

	res.AttestationRequired = req.PositionSizeUSD > g.limits.AttestationThresholdUSD
	res.RiskScore = g.riskScoreLocked(req)
	res.IsValid = len(res.Errors) == 0

	g.logEvent("execution_validated", map[string]interface{}{
		"execution_id":       req.ExecutionID,
		"agent_id":           req.AgentID,
		"action":             req.Action,
		"is_valid":           res.IsValid,
		"errors":             len(res.Errors),
		"required_approvals": res.RequiredApprovals,
		"risk_score":         res.RiskScore,
	})

	return res
}

// riskScoreLocked computes a deterministic 0-100 score from how close the
// request sits to each enforced limit. Read-only requests score zero.
func (g *Guard) riskScoreLocked(req ValidationRequest) float64 {
	if req.ReadOnly {
		return 0
	}

	sizeRatio := req.PositionSizeUSD / g.limits.MaxPositionSizeUSD
	leverageRatio := req.Leverage / g.limits.MaxLeverage
	slippageRatio := 0.0
	if g.limits.MaxSlippagePct > 0 {
		slippageRatio = req.SlippagePct / g.limits.MaxSlippagePct
	}

	score := sizeRatio*50 + leverageRatio*30 + slippageRatio*20
	return math.Min(100, math.Round(score*100)/100)
}

// StartExecution records an admitted execution as in-flight and appends its
// pending audit entry. Params must be JSON-encodable; signatures carry the
// approvals collected during admission (consensus voters, risk officer).
// Read-only executions do not advance the cooldown timer.
//
// The concurrency cap is re-checked here under the same lock that claims the
// slot: two callers that both passed validation while a single slot remained
// cannot both be admitted.
func (g *Guard) StartExecution(ctx context.Context, executionID, agentID, action string, readOnly bool, params map[string]interface{}, signatures []string) (*ledger.Entry, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution params: %w", err)
	}

	g.mu.Lock()
	if g.inFlight[executionID] {
		g.mu.Unlock()
		return nil, fmt.Errorf("execution %s is already in flight", executionID)
	}
	if _, exists := g.byExec[executionID]; exists {
		g.mu.Unlock()
		return nil, fmt.Errorf("execution %s already has an audit entry", executionID)
	}
	if len(g.inFlight) >= g.limits.MaxConcurrent {
		g.mu.Unlock()
		return nil, fmt.Errorf("concurrent execution limit reached (%d)", g.limits.MaxConcurrent)
	}

	entry := &ledger.Entry{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		AgentID:     agentID,
		Action:      action,
		Params:      string(paramsJSON),
		Result:      ledger.ResultPending,
		Signatures:  append([]string(nil), signatures...),
		CreatedAtMs: g.now().UnixMilli(),
	}
	if err := entry.Validate(); err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("invalid audit entry: %w", err)
	}

	g.inFlight[executionID] = true
	g.entries = append(g.entries, entry)
	g.byExec[executionID] = entry
	if !readOnly {
		g.lastExecutionAt = g.now()
	}
	led := g.led
	g.mu.Unlock()

	g.mirrorAppend(ctx, led, entry)

	g.logEvent("execution_started", map[string]interface{}{
		"execution_id": executionID,
		"agent_id":     agentID,
		"action":       action,
		"entry_id":     entry.ID,
	})

	return copyEntry(entry), nil
}

// RecordApprovals appends approval signatures to the execution's audit
// entry. Used once consensus resolves, since approvals arrive after the
// entry is already pending.
func (g *Guard) RecordApprovals(ctx context.Context, executionID string, signatures []string) error {
	g.mu.Lock()
	entry, ok := g.byExec[executionID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("unknown execution %s", executionID)
	}
	entry.Signatures = append(entry.Signatures, signatures...)
	led := g.led
	g.mu.Unlock()

	g.mirrorUpdate(ctx, led, entry)
	return nil
}

// CompleteExecution writes the success result to the execution's audit entry,
// releases its concurrency slot, and resets the consecutive failure counter.
// The attestation handle, when present, is recorded alongside the result.
func (g *Guard) CompleteExecution(ctx context.Context, executionID, attestation string) error {
	g.mu.Lock()
	entry, ok := g.byExec[executionID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("unknown execution %s", executionID)
	}
	if entry.Result.Terminal() {
		g.mu.Unlock()
		return fmt.Errorf("execution %s already finalized as %s", executionID, entry.Result)
	}

	entry.Result = ledger.ResultSuccess
	entry.Attestation = attestation
	delete(g.inFlight, executionID)
	g.breaker.ConsecutiveFailures = 0
	led := g.led
	g.mu.Unlock()

	g.mirrorUpdate(ctx, led, entry)

	g.logEvent("execution_completed", map[string]interface{}{
		"execution_id": executionID,
		"attested":     attestation != "",
	})
	return nil
}

// FailExecution writes the failed result and detail to the execution's audit
// entry, releases its concurrency slot, and advances the circuit breaker.
// Three consecutive failures trip the breaker open.
func (g *Guard) FailExecution(ctx context.Context, executionID, detail string) error {
	g.mu.Lock()
	entry, ok := g.byExec[executionID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("unknown execution %s", executionID)
	}
	if entry.Result.Terminal() {
		g.mu.Unlock()
		return fmt.Errorf("execution %s already finalized as %s", executionID, entry.Result)
	}

	entry.Result = ledger.ResultFailed
	entry.ErrorDetail = detail
	delete(g.inFlight, executionID)

	now := g.now()
	g.breaker.ConsecutiveFailures++
	g.breaker.LastFailureAt = now
	tripped := false
	if !g.breaker.IsOpen && g.breaker.ConsecutiveFailures >= FailureThreshold {
		g.breaker.IsOpen = true
		g.breaker.OpenedAt = now
		g.breaker.Reason = fmt.Sprintf("%d consecutive execution failures", g.breaker.ConsecutiveFailures)
		tripped = true
	}
	led := g.led
	g.mu.Unlock()

	g.mirrorUpdate(ctx, led, entry)

	g.logEvent("execution_failed", map[string]interface{}{
		"execution_id": executionID,
		"detail":       detail,
	})
	if tripped {
		g.logEvent("circuit_breaker_opened", map[string]interface{}{
			"consecutive_failures": FailureThreshold,
		})
	}
	return nil
}

// AddVolume credits executed notional against the daily volume counter.
// The counter resets lazily at the UTC day boundary.
func (g *Guard) AddVolume(amountUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollVolumeDayLocked()
	g.dailyVolumeUSD += amountUSD
}

// EmergencyStop halts all admissions, opens the circuit breaker, and
// annotates every still-pending audit entry with the interruption reason.
// Pending entries are annotated, not terminated: the work may still be
// running and its eventual result is recorded when it lands.
func (g *Guard) EmergencyStop(ctx context.Context, reason string) {
	g.mu.Lock()
	g.halted = true
	g.breaker.IsOpen = true
	g.breaker.OpenedAt = g.now()
	g.breaker.Reason = fmt.Sprintf("emergency stop: %s", reason)

	var annotated []*ledger.Entry
	for _, entry := range g.entries {
		if entry.Result == ledger.ResultPending && entry.Interruption == "" {
			entry.Interruption = reason
			annotated = append(annotated, entry)
		}
	}
	led := g.led
	g.mu.Unlock()

	for _, entry := range annotated {
		g.mirrorUpdate(ctx, led, entry)
	}

	g.logEvent("emergency_stop", map[string]interface{}{
		"reason":            reason,
		"annotated_entries": len(annotated),
	})
}

// Resume lifts an emergency halt and closes the circuit breaker. Admin-only;
// the failure counter restarts from zero.
func (g *Guard) Resume() {
	g.mu.Lock()
	g.halted = false
	g.breaker = BreakerState{}
	g.mu.Unlock()

	g.logEvent("guard_resumed", map[string]interface{}{})
}

// GetStatus returns an administrative snapshot. Performs the lazy daily
// volume rollover and breaker cooldown check so the snapshot is current.
func (g *Guard) GetStatus() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollVolumeDayLocked()
	g.maybeCloseBreakerLocked()

	inFlight := make([]string, 0, len(g.inFlight))
	for id := range g.inFlight {
		inFlight = append(inFlight, id)
	}

	open := 0
	for _, p := range g.proposals {
		if g.now().Before(p.Deadline) {
			open++
		}
	}

	return Status{
		Breaker:         g.breaker,
		InFlight:        inFlight,
		DailyVolumeUSD:  g.dailyVolumeUSD,
		VolumeDay:       g.volumeDay,
		LastExecutionAt: g.lastExecutionAt,
		OpenProposals:   open,
		Limits:          g.limits,
	}
}

// GetAuditLogs returns copies of audit entries matching the filter, oldest
// first. A nil filter returns the full trail.
func (g *Guard) GetAuditLogs(filter *ledger.Filter) []*ledger.Entry {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*ledger.Entry, 0, len(g.entries))
	for _, entry := range g.entries {
		if filter == nil || filter.Matches(entry) {
			out = append(out, copyEntry(entry))
		}
	}
	return out
}

// Breaker returns the current circuit breaker state after the lazy cooldown
// check.
func (g *Guard) Breaker() BreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.maybeCloseBreakerLocked()
	return g.breaker
}

// rollVolumeDayLocked resets the daily volume counter when the UTC calendar
// day has advanced since it was last touched. Caller must hold g.mu.
func (g *Guard) rollVolumeDayLocked() {
	day := g.now().UTC().Format("2006-01-02")
	if day != g.volumeDay {
		g.volumeDay = day
		g.dailyVolumeUSD = 0
	}
}

// maybeCloseBreakerLocked closes the breaker when the cooldown has elapsed.
// An emergency halt pins the breaker open regardless of cooldown. Caller
// must hold g.mu.
func (g *Guard) maybeCloseBreakerLocked() {
	if !g.breaker.IsOpen || g.halted {
		return
	}
	if g.now().Sub(g.breaker.OpenedAt) >= g.limits.CooldownPeriod {
		g.breaker.IsOpen = false
		g.breaker.ConsecutiveFailures = 0
		g.breaker.Reason = ""
		g.breaker.OpenedAt = time.Time{}
	}
}

// mirrorAppend writes the entry to the durable ledger when attached. Mirror
// failures are logged, never propagated: the in-memory trail stays
// authoritative.
func (g *Guard) mirrorAppend(ctx context.Context, led *ledger.Client, entry *ledger.Entry) {
	if led == nil {
		return
	}
	if err := led.AppendEntry(ctx, copyEntry(entry)); err != nil {
		log.Printf("[Guard] Failed to mirror audit entry %s to ledger: %v", entry.ID, err)
	}
}

func (g *Guard) mirrorUpdate(ctx context.Context, led *ledger.Client, entry *ledger.Entry) {
	if led == nil {
		return
	}
	g.mu.Lock()
	snapshot := copyEntry(entry)
	g.mu.Unlock()
	if err := led.UpdateEntry(ctx, snapshot); err != nil {
		log.Printf("[Guard] Failed to mirror audit entry %s to ledger: %v", entry.ID, err)
	}
}

func copyEntry(e *ledger.Entry) *ledger.Entry {
	dup := *e
	dup.Signatures = append([]string(nil), e.Signatures...)
	return &dup
}

// logEvent logs a structured event in JSON format.
func (g *Guard) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "guard"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Guard] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}