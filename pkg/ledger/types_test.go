package ledger

import (
	"testing"

	"github.com/google/uuid"
)

// TestEntryValidate_Valid tests that valid entries pass validation
func TestEntryValidate_Valid(t *testing.T) {
	entry := &Entry{
		ID:          uuid.New().String(),
		ExecutionID: uuid.New().String(),
		AgentID:     "risk-agent-1",
		Action:      "open_position",
		Params:      `{"asset":"ETH"}`,
		Result:      ResultPending,
		Signatures:  []string{},
		CreatedAtMs: 1700000000000,
	}

	if err := entry.Validate(); err != nil {
		t.Errorf("valid entry failed validation: %v", err)
	}
}

// TestEntryValidate_InvalidID tests that a non-UUID entry ID fails validation
func TestEntryValidate_InvalidID(t *testing.T) {
	entry := &Entry{
		ID:          "not-a-uuid",
		ExecutionID: uuid.New().String(),
		AgentID:     "risk-agent-1",
		Action:      "open_position",
		Result:      ResultPending,
	}

	if err := entry.Validate(); err == nil {
		t.Error("expected validation to fail for invalid ID, but it passed")
	}
}

// TestEntryValidate_EmptyAgentID tests that a missing agent ID fails validation
func TestEntryValidate_EmptyAgentID(t *testing.T) {
	entry := &Entry{
		ID:          uuid.New().String(),
		ExecutionID: uuid.New().String(),
		AgentID:     "",
		Action:      "open_position",
		Result:      ResultPending,
	}

	if err := entry.Validate(); err == nil {
		t.Error("expected validation to fail for empty agent_id, but it passed")
	}
}

// TestEntryValidate_ErrorDetailOnNonFailed tests that error detail is rejected
// unless the entry's result is failed
func TestEntryValidate_ErrorDetailOnNonFailed(t *testing.T) {
	entry := &Entry{
		ID:          uuid.New().String(),
		ExecutionID: uuid.New().String(),
		AgentID:     "risk-agent-1",
		Action:      "open_position",
		Result:      ResultSuccess,
		ErrorDetail: "position too large",
	}

	if err := entry.Validate(); err == nil {
		t.Error("expected validation to fail for error_detail on success entry, but it passed")
	}

	entry.Result = ResultFailed
	if err := entry.Validate(); err != nil {
		t.Errorf("failed entry with error_detail should be valid: %v", err)
	}
}

// TestResultValidate tests result enum validation and terminality
func TestResultValidate(t *testing.T) {
	valid := []Result{ResultPending, ResultSuccess, ResultFailed, ResultRolledBack}
	for _, r := range valid {
		if err := r.Validate(); err != nil {
			t.Errorf("result %q should be valid: %v", r, err)
		}
	}

	if err := Result("exploded").Validate(); err == nil {
		t.Error("expected validation to fail for unknown result, but it passed")
	}

	if ResultPending.Terminal() {
		t.Error("pending must not be terminal")
	}
	for _, r := range []Result{ResultSuccess, ResultFailed, ResultRolledBack} {
		if !r.Terminal() {
			t.Errorf("result %q must be terminal", r)
		}
	}
}

// TestFilterMatches tests that all filter criteria are ANDed together
func TestFilterMatches(t *testing.T) {
	execID := uuid.New().String()
	entry := &Entry{
		ID:          uuid.New().String(),
		ExecutionID: execID,
		AgentID:     "settlement-agent-1",
		Action:      "settle",
		Result:      ResultSuccess,
		CreatedAtMs: 5000,
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches", Filter{}, true},
		{"execution id match", Filter{ExecutionID: execID}, true},
		{"execution id mismatch", Filter{ExecutionID: uuid.New().String()}, false},
		{"agent and result match", Filter{AgentID: "settlement-agent-1", Result: ResultSuccess}, true},
		{"result mismatch", Filter{Result: ResultFailed}, false},
		{"since includes", Filter{SinceMs: 5000}, true},
		{"since excludes", Filter{SinceMs: 5001}, false},
		{"until excludes", Filter{UntilMs: 4999}, false},
		{"window includes", Filter{SinceMs: 4000, UntilMs: 6000}, true},
	}

	for _, tc := range cases {
		if got := tc.filter.Matches(entry); got != tc.want {
			t.Errorf("%s: Matches() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
