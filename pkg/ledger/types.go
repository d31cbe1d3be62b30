package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Entry represents a single append-only audit record for one execution step.
// Entries are the fundamental unit of the audit trail - every admission,
// completion, failure, and emergency interruption is recorded as an entry
// with the acting agent and execution it belongs to.
type Entry struct {
	ID           string   `json:"id"`                     // UUID - unique identifier for this entry
	ExecutionID  string   `json:"execution_id"`           // UUID - the execution this entry belongs to
	AgentID      string   `json:"agent_id"`               // Identifier of the acting agent
	Action       string   `json:"action"`                 // Action name (e.g. "open_position", "emergency_stop")
	Params       string   `json:"params"`                 // JSON-encoded opaque action parameters
	Result       Result   `json:"result"`                 // Lifecycle result state
	Attestation  string   `json:"attestation,omitempty"`  // Opaque attestation handle, set on success when required
	Signatures   []string `json:"signatures"`             // Approval signatures collected for this entry
	ErrorDetail  string   `json:"error_detail,omitempty"` // Failure detail, set iff Result is failed
	Interruption string   `json:"interruption,omitempty"` // Emergency-stop annotation; entries stay pending when set
	CreatedAtMs  int64    `json:"created_at_ms"`          // Unix timestamp in milliseconds when the entry was appended
}

// Result defines the lifecycle state of an audit entry.
// Entries start pending and receive exactly one terminal result.
type Result string

const (
	// ResultPending indicates the execution is still in flight
	ResultPending Result = "pending"

	// ResultSuccess indicates the execution completed successfully
	ResultSuccess Result = "success"

	// ResultFailed indicates the execution failed
	ResultFailed Result = "failed"

	// ResultRolledBack indicates the execution's effects were reverted
	ResultRolledBack Result = "rolled_back"
)

// Filter defines filtering options for audit entry queries.
// All non-zero criteria are ANDed together.
type Filter struct {
	ExecutionID string // Exact match on execution ID, empty = no filter
	AgentID     string // Exact match on agent ID, empty = no filter
	Action      string // Exact match on action name, empty = no filter
	Result      Result // Exact match on result, empty = no filter
	SinceMs     int64  // Unix timestamp in milliseconds, 0 = no filter
	UntilMs     int64  // Unix timestamp in milliseconds, 0 = no filter
}

// Matches returns true if the entry satisfies all filter criteria.
func (f *Filter) Matches(e *Entry) bool {
	if f.ExecutionID != "" && e.ExecutionID != f.ExecutionID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if f.SinceMs > 0 && e.CreatedAtMs < f.SinceMs {
		return false
	}
	if f.UntilMs > 0 && e.CreatedAtMs > f.UntilMs {
		return false
	}
	return true
}

// Validate checks if the Entry has valid field values.
// Returns an error if any validation fails.
func (e *Entry) Validate() error {
	if !isValidUUID(e.ID) {
		return fmt.Errorf("invalid entry ID: not a valid UUID")
	}

	if !isValidUUID(e.ExecutionID) {
		return fmt.Errorf("invalid execution ID: not a valid UUID")
	}

	if e.AgentID == "" {
		return fmt.Errorf("agent_id cannot be empty")
	}

	if e.Action == "" {
		return fmt.Errorf("action cannot be empty")
	}

	if err := e.Result.Validate(); err != nil {
		return fmt.Errorf("invalid result: %w", err)
	}

	if e.ErrorDetail != "" && e.Result != ResultFailed {
		return fmt.Errorf("error_detail is only valid on failed entries, got result %q", e.Result)
	}

	return nil
}

// Validate checks if the Result is a valid enum value.
func (r Result) Validate() error {
	switch r {
	case ResultPending, ResultSuccess, ResultFailed, ResultRolledBack:
		return nil
	default:
		return fmt.Errorf("unknown result: %q", r)
	}
}

// Terminal returns true for results that end an entry's lifecycle.
func (r Result) Terminal() bool {
	return r == ResultSuccess || r == ResultFailed || r == ResultRolledBack
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
