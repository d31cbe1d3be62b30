package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is an immutable unit of work handed to an agent. Callers construct a
// fresh Task per delegation; agents never write status or results back onto
// the task itself - outcomes are carried by the separately returned TaskResult.
type Task struct {
	ID          string                 `json:"id"`           // UUID - unique identifier for this task
	ExecutionID string                 `json:"execution_id"` // UUID - the orchestrated execution this task belongs to
	Type        string                 `json:"type"`         // Action discriminator (e.g. "analyze_risk", "hedge_position")
	Priority    int                    `json:"priority"`     // Higher = more urgent; advisory metadata, the agent queue itself is strictly FIFO
	Params      map[string]interface{} `json:"params"`       // Opaque parameter payload
	CreatedAtMs int64                  `json:"created_at_ms"`
}

// NewTask builds a task with a fresh ID for the given execution.
func NewTask(executionID, taskType string, priority int, params map[string]interface{}) Task {
	return Task{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Type:        taskType,
		Priority:    priority,
		Params:      params,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if _, err := uuid.Parse(t.ID); err != nil {
		return fmt.Errorf("invalid task ID: not a valid UUID")
	}
	if _, err := uuid.Parse(t.ExecutionID); err != nil {
		return fmt.Errorf("invalid execution ID: not a valid UUID")
	}
	if t.Type == "" {
		return fmt.Errorf("task type cannot be empty")
	}
	return nil
}

// TaskResult is the uniform outcome of one task execution. Exactly one of
// Data or Error is set: success carries data, failure carries an error
// message. Agents synthesize a failed result for internal panics rather than
// letting them escape, so callers can treat every delegation uniformly.
type TaskResult struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration"`
	AgentID  string                 `json:"agent_id"`
}

// successResult builds a successful result attributed to the given agent.
func successResult(agentID string, data map[string]interface{}, elapsed time.Duration) TaskResult {
	if data == nil {
		data = map[string]interface{}{}
	}
	return TaskResult{
		Success:  true,
		Data:     data,
		Duration: elapsed,
		AgentID:  agentID,
	}
}

// failedResult builds a failed result attributed to the given agent.
func failedResult(agentID string, errMsg string, elapsed time.Duration) TaskResult {
	return TaskResult{
		Success:  false,
		Error:    errMsg,
		Duration: elapsed,
		AgentID:  agentID,
	}
}
