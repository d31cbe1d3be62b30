package guard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrarejimmyz/zkvanguard/pkg/ledger"
)

// setupTestGuard creates a guard with default limits and a deterministic
// clock the test can advance.
func setupTestGuard(t *testing.T) (*Guard, *time.Time) {
	t.Helper()

	g, err := NewGuard(DefaultLimits())
	require.NoError(t, err)

	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return current })

	return g, &current
}

func startExecution(t *testing.T, g *Guard, executionID string) {
	t.Helper()
	_, err := g.StartExecution(context.Background(), executionID, "agent-1", "open_position",
		false, map[string]interface{}{"size_usd": 50_000.0}, nil)
	require.NoError(t, err)
}

func TestNewGuard_InvalidLimits(t *testing.T) {
	limits := DefaultLimits()
	limits.ConsensusQuorum = 1.5

	_, err := NewGuard(limits)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consensus_quorum")
}

func TestValidateExecution(t *testing.T) {
	t.Run("approves request within limits", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 50_000,
			Leverage:        2,
			SlippagePct:     0.5,
		})

		assert.True(t, res.IsValid)
		assert.Empty(t, res.Errors)
		assert.Empty(t, res.Warnings)
		assert.Empty(t, res.RequiredApprovals)
		assert.False(t, res.AttestationRequired)
		assert.False(t, res.CircuitOpen)
	})

	t.Run("rejects position above hard cap", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 12_000_000,
		})

		assert.False(t, res.IsValid)
		assert.False(t, res.CircuitOpen)
		require.NotEmpty(t, res.Errors)
		assert.Contains(t, res.Errors[0], "exceeds limit $10000000.00")
	})

	t.Run("accumulates every violated limit", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 12_000_000,
			Leverage:        20,
			SlippagePct:     3,
		})

		assert.False(t, res.IsValid)
		assert.Len(t, res.Errors, 3)
	})

	t.Run("enforces the cooldown between state-changing executions", func(t *testing.T) {
		g, clock := setupTestGuard(t)
		startExecution(t, g, uuid.New().String())

		req := ValidationRequest{
			ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "open_position",
			PositionSizeUSD: 1000,
		}
		res := g.ValidateExecution(req)
		assert.False(t, res.IsValid)
		assert.Contains(t, res.Errors[0], "cooldown active")

		*clock = clock.Add(31 * time.Second)
		assert.True(t, g.ValidateExecution(req).IsValid)
	})

	t.Run("read-only zero-size requests bypass the cooldown", func(t *testing.T) {
		g, _ := setupTestGuard(t)
		startExecution(t, g, uuid.New().String())

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID: uuid.New().String(),
			AgentID:     "agent-1",
			Action:      "analyze",
			ReadOnly:    true,
		})

		assert.True(t, res.IsValid)
		assert.Zero(t, res.RiskScore)
		assert.Empty(t, res.RequiredApprovals)
	})

	t.Run("read-only starts do not advance the cooldown timer", func(t *testing.T) {
		g, _ := setupTestGuard(t)
		_, err := g.StartExecution(context.Background(), uuid.New().String(), "agent-1", "analyze",
			true, nil, nil)
		require.NoError(t, err)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "open_position",
			PositionSizeUSD: 1000,
		})
		assert.True(t, res.IsValid)
	})

	t.Run("requires consensus above size threshold", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 150_000,
		})

		assert.True(t, res.IsValid)
		assert.Contains(t, res.RequiredApprovals, ApprovalConsensus)
	})

	t.Run("no consensus tag when limits disable it", func(t *testing.T) {
		limits := DefaultLimits()
		limits.RequireConsensus = false
		g, err := NewGuard(limits)
		require.NoError(t, err)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 150_000,
		})

		assert.True(t, res.IsValid)
		assert.NotContains(t, res.RequiredApprovals, ApprovalConsensus)
	})

	t.Run("warns above half the hard cap", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 6_000_000,
		})

		assert.True(t, res.IsValid)
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, res.RequiredApprovals, ApprovalRiskOfficer)
	})

	t.Run("flags attestation above threshold", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 300_000,
		})

		assert.True(t, res.IsValid)
		assert.True(t, res.AttestationRequired)
	})

	t.Run("risk score grows with proximity to limits", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		small := g.ValidateExecution(ValidationRequest{
			ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "open_position",
			PositionSizeUSD: 100_000, Leverage: 1,
		})
		large := g.ValidateExecution(ValidationRequest{
			ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "open_position",
			PositionSizeUSD: 9_000_000, Leverage: 4, SlippagePct: 0.9,
		})

		assert.Greater(t, large.RiskScore, small.RiskScore)
		assert.LessOrEqual(t, large.RiskScore, 100.0)
	})
}

func TestDailyVolume(t *testing.T) {
	t.Run("accumulates within the same day", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		g.AddVolume(1_000_000)
		g.AddVolume(2_500_000)

		status := g.GetStatus()
		assert.Equal(t, 3_500_000.0, status.DailyVolumeUSD)
		assert.Equal(t, "2026-03-10", status.VolumeDay)
	})

	t.Run("warns above eighty percent of the daily cap", func(t *testing.T) {
		g, _ := setupTestGuard(t)
		g.AddVolume(40_000_000)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 1_000_000,
		})

		assert.True(t, res.IsValid)
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, res.Warnings[0], "80%")
	})

	t.Run("rejects when projected volume exceeds the cap", func(t *testing.T) {
		g, _ := setupTestGuard(t)
		g.AddVolume(45_000_000)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 6_000_000,
		})

		assert.False(t, res.IsValid)
		require.NotEmpty(t, res.Errors)
		assert.Contains(t, res.Errors[0], "daily volume")
	})

	t.Run("resets at the UTC day boundary", func(t *testing.T) {
		g, clock := setupTestGuard(t)
		g.AddVolume(45_000_000)

		*clock = clock.Add(24 * time.Hour)

		status := g.GetStatus()
		assert.Zero(t, status.DailyVolumeUSD)
		assert.Equal(t, "2026-03-11", status.VolumeDay)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID:     uuid.New().String(),
			AgentID:         "agent-1",
			Action:          "open_position",
			PositionSizeUSD: 6_000_000,
		})
		assert.True(t, res.IsValid)
	})
}

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()

	failOnce := func(t *testing.T, g *Guard) {
		t.Helper()
		executionID := uuid.New().String()
		startExecution(t, g, executionID)
		require.NoError(t, g.FailExecution(ctx, executionID, "venue timeout"))
	}

	t.Run("trips after three consecutive failures", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		for i := 0; i < 2; i++ {
			failOnce(t, g)
			assert.False(t, g.Breaker().IsOpen)
		}
		failOnce(t, g)

		state := g.Breaker()
		assert.True(t, state.IsOpen)
		assert.Equal(t, 3, state.ConsecutiveFailures)

		res := g.ValidateExecution(ValidationRequest{
			ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "open_position",
			PositionSizeUSD: 1000,
		})
		assert.False(t, res.IsValid)
		assert.True(t, res.CircuitOpen)
		assert.Contains(t, res.Errors[0], "circuit breaker open")
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		failOnce(t, g)
		failOnce(t, g)

		executionID := uuid.New().String()
		startExecution(t, g, executionID)
		require.NoError(t, g.CompleteExecution(ctx, executionID, ""))

		failOnce(t, g)
		failOnce(t, g)
		assert.False(t, g.Breaker().IsOpen)
	})

	t.Run("closes after the cooldown elapses", func(t *testing.T) {
		g, clock := setupTestGuard(t)

		for i := 0; i < 3; i++ {
			failOnce(t, g)
		}
		require.True(t, g.Breaker().IsOpen)

		*clock = clock.Add(29 * time.Second)
		assert.True(t, g.Breaker().IsOpen)

		*clock = clock.Add(2 * time.Second)
		state := g.Breaker()
		assert.False(t, state.IsOpen)
		assert.Zero(t, state.ConsecutiveFailures)
	})
}

func TestConcurrencyLimit(t *testing.T) {
	g, clock := setupTestGuard(t)

	first := uuid.New().String()
	startExecution(t, g, first)
	startExecution(t, g, uuid.New().String())
	startExecution(t, g, uuid.New().String())

	// Past the cooldown so only the concurrency check is in play.
	*clock = clock.Add(31 * time.Second)

	req := ValidationRequest{
		ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "open_position",
		PositionSizeUSD: 1000,
	}
	res := g.ValidateExecution(req)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "concurrent execution limit")

	// Releasing a slot re-opens admission.
	require.NoError(t, g.CompleteExecution(context.Background(), first, ""))
	res = g.ValidateExecution(req)
	assert.True(t, res.IsValid)
}

func TestConcurrencyLimit_AtomicAdmission(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxConcurrent = 1
	g, err := NewGuard(limits)
	require.NoError(t, err)

	// Two validations against the same idle guard both pass: validation
	// alone reserves nothing.
	reqA := ValidationRequest{
		ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "analyze",
		ReadOnly: true,
	}
	reqB := ValidationRequest{
		ExecutionID: uuid.New().String(), AgentID: "agent-2", Action: "analyze",
		ReadOnly: true,
	}
	require.True(t, g.ValidateExecution(reqA).IsValid)
	require.True(t, g.ValidateExecution(reqB).IsValid)

	// Admission claims the slot under the lock, so only one start wins.
	_, err = g.StartExecution(context.Background(), reqA.ExecutionID, reqA.AgentID, reqA.Action,
		true, nil, nil)
	require.NoError(t, err)

	_, err = g.StartExecution(context.Background(), reqB.ExecutionID, reqB.AgentID, reqB.Action,
		true, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrent execution limit")

	status := g.GetStatus()
	assert.Len(t, status.InFlight, 1)
	assert.Equal(t, []string{reqA.ExecutionID}, status.InFlight)

	// The loser left no audit entry behind; only the winner is pending.
	assert.Len(t, g.GetAuditLogs(nil), 1)

	// Releasing the slot lets the rejected execution start cleanly.
	require.NoError(t, g.CompleteExecution(context.Background(), reqA.ExecutionID, ""))
	_, err = g.StartExecution(context.Background(), reqB.ExecutionID, reqB.AgentID, reqB.Action,
		true, nil, nil)
	require.NoError(t, err)
}

func TestExecutionLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("records pending then success with attestation", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		executionID := uuid.New().String()
		entry, err := g.StartExecution(ctx, executionID, "agent-1", "open_position",
			false, map[string]interface{}{"size_usd": 50_000.0}, []string{"risk-agent", "hedging-agent"})
		require.NoError(t, err)
		assert.Equal(t, ledger.ResultPending, entry.Result)
		assert.Equal(t, []string{"risk-agent", "hedging-agent"}, entry.Signatures)

		require.NoError(t, g.CompleteExecution(ctx, executionID, "attest-abc"))

		logs := g.GetAuditLogs(&ledger.Filter{ExecutionID: executionID})
		require.Len(t, logs, 1)
		assert.Equal(t, ledger.ResultSuccess, logs[0].Result)
		assert.Equal(t, "attest-abc", logs[0].Attestation)
	})

	t.Run("terminal result is written exactly once", func(t *testing.T) {
		g, _ := setupTestGuard(t)
		executionID := uuid.New().String()
		startExecution(t, g, executionID)

		require.NoError(t, g.CompleteExecution(ctx, executionID, ""))

		err := g.CompleteExecution(ctx, executionID, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already finalized")

		err = g.FailExecution(ctx, executionID, "late failure")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already finalized")
	})

	t.Run("duplicate start is rejected", func(t *testing.T) {
		g, _ := setupTestGuard(t)
		executionID := uuid.New().String()
		startExecution(t, g, executionID)

		_, err := g.StartExecution(ctx, executionID, "agent-1", "open_position", false, nil, nil)
		require.Error(t, err)
	})

	t.Run("unknown execution cannot be finalized", func(t *testing.T) {
		g, _ := setupTestGuard(t)

		assert.Error(t, g.CompleteExecution(ctx, uuid.New().String(), ""))
		assert.Error(t, g.FailExecution(ctx, uuid.New().String(), "detail"))
	})

	t.Run("failed entry carries the error detail", func(t *testing.T) {
		g, _ := setupTestGuard(t)
		executionID := uuid.New().String()
		startExecution(t, g, executionID)

		require.NoError(t, g.FailExecution(ctx, executionID, "venue timeout"))

		logs := g.GetAuditLogs(&ledger.Filter{Result: ledger.ResultFailed})
		require.Len(t, logs, 1)
		assert.Equal(t, "venue timeout", logs[0].ErrorDetail)
	})

	t.Run("audit log filter narrows by agent and action", func(t *testing.T) {
		g, _ := setupTestGuard(t)
		_, err := g.StartExecution(ctx, uuid.New().String(), "agent-1", "open_position", false, nil, nil)
		require.NoError(t, err)
		_, err = g.StartExecution(ctx, uuid.New().String(), "agent-2", "rebalance", false, nil, nil)
		require.NoError(t, err)

		logs := g.GetAuditLogs(&ledger.Filter{AgentID: "agent-2"})
		require.Len(t, logs, 1)
		assert.Equal(t, "rebalance", logs[0].Action)

		assert.Len(t, g.GetAuditLogs(nil), 2)
	})
}

func TestEmergencyStop(t *testing.T) {
	ctx := context.Background()
	g, _ := setupTestGuard(t)

	pending := uuid.New().String()
	completed := uuid.New().String()
	startExecution(t, g, pending)
	startExecution(t, g, completed)
	require.NoError(t, g.CompleteExecution(ctx, completed, ""))

	g.EmergencyStop(ctx, "operator halt")

	// Pending entries are annotated, not terminated.
	logs := g.GetAuditLogs(&ledger.Filter{ExecutionID: pending})
	require.Len(t, logs, 1)
	assert.Equal(t, ledger.ResultPending, logs[0].Result)
	assert.Equal(t, "operator halt", logs[0].Interruption)

	// Completed entries are untouched.
	logs = g.GetAuditLogs(&ledger.Filter{ExecutionID: completed})
	require.Len(t, logs, 1)
	assert.Empty(t, logs[0].Interruption)

	// All admissions are refused, even read-only ones.
	res := g.ValidateExecution(ValidationRequest{
		ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "analyze", ReadOnly: true,
	})
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "emergency stop")

	// The interrupted execution can still land its real result.
	require.NoError(t, g.FailExecution(ctx, pending, "aborted by operator"))

	g.Resume()
	res = g.ValidateExecution(ValidationRequest{
		ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "analyze", ReadOnly: true,
	})
	assert.True(t, res.IsValid)
}

func TestUpdateLimits(t *testing.T) {
	g, _ := setupTestGuard(t)

	limits := DefaultLimits()
	limits.MaxPositionSizeUSD = 1_000_000
	require.NoError(t, g.UpdateLimits(limits))

	res := g.ValidateExecution(ValidationRequest{
		ExecutionID: uuid.New().String(), AgentID: "agent-1", Action: "open_position",
		PositionSizeUSD: 2_000_000,
	})
	assert.False(t, res.IsValid)

	bad := DefaultLimits()
	bad.MaxConcurrent = 0
	require.Error(t, g.UpdateLimits(bad))
	assert.Equal(t, limits, g.Limits())
}

func TestLedgerMirroring(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	led, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	defer led.Close()

	g, _ := setupTestGuard(t)
	g.SetLedger(led)

	executionID := uuid.New().String()
	startExecution(t, g, executionID)
	require.NoError(t, g.CompleteExecution(ctx, executionID, "attest-abc"))

	entries, err := led.ListExecutionEntries(ctx, executionID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.ResultSuccess, entries[0].Result)
	assert.Equal(t, "attest-abc", entries[0].Attestation)
}