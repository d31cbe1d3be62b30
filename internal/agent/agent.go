// Package agent provides the uniform task-processing contract shared by all
// Vanguard worker agents, the specialized risk/hedging/settlement/reporting
// implementations, and the registry the orchestrator discovers them through.
//
// Every agent processes at most one task at a time. Cross-agent coordination
// is mediated entirely by the guard and the orchestrator - agents never hold
// references to each other.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status defines the lifecycle state of an agent.
type Status string

const (
	// StatusIdle indicates the agent is ready to accept a task
	StatusIdle Status = "idle"

	// StatusInitializing indicates the agent is running its startup hook
	StatusInitializing Status = "initializing"

	// StatusBusy indicates a task is in flight; busy is exclusive - a new
	// task may not start while another is running on the same agent
	StatusBusy Status = "busy"

	// StatusError indicates the agent's last lifecycle transition failed
	StatusError Status = "error"
)

// Snapshot is a point-in-time view of an agent's state.
type Snapshot struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Status          Status   `json:"status"`
	QueueDepth      int      `json:"queue_depth"`
	CurrentTaskType string   `json:"current_task_type,omitempty"`
	HistoryCount    int      `json:"history_count"`
	Capabilities    []string `json:"capabilities"`
}

// HistoryRecord captures one lifecycle or execution event in an agent's
// bounded history.
type HistoryRecord struct {
	Event     string        `json:"event"` // "initialize", "execute", "shutdown"
	TaskID    string        `json:"task_id,omitempty"`
	TaskType  string        `json:"task_type,omitempty"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Event is a lifecycle notification broadcast to observers (registry,
// monitoring) on every initialize/execute/shutdown transition.
type Event struct {
	AgentID  string `json:"agent_id"`
	Type     string `json:"type"` // "initialized", "task_completed", "task_failed", "shutdown"
	TaskID   string `json:"task_id,omitempty"`
	TaskType string `json:"task_type,omitempty"`
}

// Observer receives agent lifecycle events. Notify must not block.
type Observer interface {
	Notify(Event)
}

// Agent is the uniform contract every worker honors. Specialized variants
// differ only in what work they perform, never in lifecycle.
type Agent interface {
	// ID returns the agent's opaque identity.
	ID() string

	// Type returns the agent's capability type ("risk", "hedging",
	// "settlement", "reporting").
	Type() string

	// Capabilities returns the declared capability set.
	Capabilities() []string

	// Initialize runs the startup hook. Transitions idle -> initializing ->
	// idle, or -> error if the hook fails.
	Initialize(ctx context.Context) error

	// ExecuteTask runs a task to completion and always returns a TaskResult,
	// never an error or panic: internal failures are caught and turned into
	// a failed result carrying the agent ID and elapsed time.
	ExecuteTask(ctx context.Context, task Task) TaskResult

	// EnqueueTask admits a task to the FIFO queue.
	EnqueueTask(task Task) error

	// ProcessNextTask dequeues and executes the next task if the agent is
	// idle and the queue is non-empty; otherwise it is a no-op. Never blocks
	// waiting for work.
	ProcessNextTask(ctx context.Context)

	// Status returns a point-in-time snapshot.
	Status() Snapshot

	// Subscribe registers an observer for lifecycle events.
	Subscribe(o Observer)

	// Shutdown is idempotent: it drains observers, resets status to idle,
	// and invokes the variant's cleanup hook.
	Shutdown(ctx context.Context) error
}

// maxHistory bounds each agent's execution history; the oldest record is
// evicted when the bound is reached.
const maxHistory = 50

// handlerFunc performs the variant-specific work of one task. Returning an
// error (or panicking) yields a failed TaskResult; the base contract never
// lets either escape to the caller.
type handlerFunc func(ctx context.Context, task Task) (map[string]interface{}, error)

// Base implements the Agent lifecycle. Specialized variants embed Base and
// supply their handler, capabilities, and optional init/cleanup hooks.
type Base struct {
	id           string
	agentType    string
	capabilities []string

	handler     handlerFunc
	initHook    func(ctx context.Context) error
	cleanupHook func(ctx context.Context) error

	mu          sync.Mutex
	status      Status
	currentTask string // type of the in-flight task, empty when none
	queue       []Task
	history     []HistoryRecord
	observers   []Observer
	shutdown    bool
}

// NewBase constructs the shared lifecycle core for a specialized agent.
func NewBase(id, agentType string, capabilities []string, handler handlerFunc) *Base {
	return &Base{
		id:           id,
		agentType:    agentType,
		capabilities: capabilities,
		handler:      handler,
		status:       StatusIdle,
	}
}

// ID returns the agent's opaque identity.
func (b *Base) ID() string { return b.id }

// Type returns the agent's capability type.
func (b *Base) Type() string { return b.agentType }

// Capabilities returns a copy of the declared capability set.
func (b *Base) Capabilities() []string {
	out := make([]string, len(b.capabilities))
	copy(out, b.capabilities)
	return out
}

// Initialize transitions idle -> initializing -> idle, or -> error if the
// variant's init hook fails. The transition is recorded in history and
// broadcast to observers.
func (b *Base) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.status == StatusBusy {
		b.mu.Unlock()
		return fmt.Errorf("agent %s cannot initialize while busy", b.id)
	}
	b.status = StatusInitializing
	hook := b.initHook
	b.mu.Unlock()

	start := time.Now()
	var err error
	if hook != nil {
		err = hook(ctx)
	}

	b.mu.Lock()
	if err != nil {
		b.status = StatusError
	} else {
		b.status = StatusIdle
	}
	b.appendHistoryLocked(HistoryRecord{
		Event:     "initialize",
		Success:   err == nil,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	})
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("agent %s initialization failed: %w", b.id, err)
	}
	b.notify(Event{AgentID: b.id, Type: "initialized"})
	return nil
}

// ExecuteTask runs the task under the busy-exclusive invariant. It always
// returns a TaskResult: a busy agent, an invalid task, a handler error, and
// a handler panic all yield failed results rather than raised errors.
func (b *Base) ExecuteTask(ctx context.Context, task Task) (result TaskResult) {
	start := time.Now()

	if err := task.Validate(); err != nil {
		return failedResult(b.id, err.Error(), time.Since(start))
	}

	b.mu.Lock()
	if b.status == StatusBusy {
		b.mu.Unlock()
		return failedResult(b.id, fmt.Sprintf("agent %s is busy with another task", b.id), time.Since(start))
	}
	b.status = StatusBusy
	b.currentTask = task.Type
	b.mu.Unlock()

	// Convert handler panics into failed results so nothing escapes to the
	// caller; the contract is "always a TaskResult".
	defer func() {
		if r := recover(); r != nil {
			result = failedResult(b.id, fmt.Sprintf("task %s panicked: %v", task.ID, r), time.Since(start))
			b.finishTask(task, result)
		}
	}()

	data, err := b.handler(ctx, task)
	if err != nil {
		result = failedResult(b.id, err.Error(), time.Since(start))
	} else {
		result = successResult(b.id, data, time.Since(start))
	}

	b.finishTask(task, result)
	return result
}

// finishTask releases the busy slot, records history, and notifies observers.
func (b *Base) finishTask(task Task, result TaskResult) {
	b.mu.Lock()
	b.status = StatusIdle
	b.currentTask = ""
	b.appendHistoryLocked(HistoryRecord{
		Event:     "execute",
		TaskID:    task.ID,
		TaskType:  task.Type,
		Success:   result.Success,
		Duration:  result.Duration,
		Timestamp: time.Now(),
	})
	b.mu.Unlock()

	eventType := "task_completed"
	if !result.Success {
		eventType = "task_failed"
	}
	b.notify(Event{AgentID: b.id, Type: eventType, TaskID: task.ID, TaskType: task.Type})
}

// EnqueueTask admits a task to the FIFO queue. Enqueued tasks run when
// ProcessNextTask is called and the agent is idle.
func (b *Base) EnqueueTask(task Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("cannot enqueue task: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.shutdown {
		return fmt.Errorf("agent %s is shut down", b.id)
	}
	b.queue = append(b.queue, task)
	return nil
}

// ProcessNextTask dequeues and executes the next queued task. It is a no-op
// when the agent is not idle or the queue is empty - it never blocks, and
// calling it twice back-to-back with one queued item dequeues exactly once.
func (b *Base) ProcessNextTask(ctx context.Context) {
	b.mu.Lock()
	if b.status != StatusIdle || len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	task := b.queue[0]
	b.queue = b.queue[1:]
	b.mu.Unlock()

	b.ExecuteTask(ctx, task)
}

// Status returns a point-in-time snapshot of the agent.
func (b *Base) Status() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		ID:              b.id,
		Type:            b.agentType,
		Status:          b.status,
		QueueDepth:      len(b.queue),
		CurrentTaskType: b.currentTask,
		HistoryCount:    len(b.history),
		Capabilities:    append([]string(nil), b.capabilities...),
	}
}

// History returns a copy of the bounded execution history, oldest first.
func (b *Base) History() []HistoryRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]HistoryRecord, len(b.history))
	copy(out, b.history)
	return out
}

// Subscribe registers an observer for lifecycle events.
func (b *Base) Subscribe(o Observer) {
	if o == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Shutdown is idempotent. It drains observers, resets status to idle, and
// invokes the variant's cleanup hook. A failed cleanup hook is returned as
// an error but the agent still ends up drained and idle.
func (b *Base) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return nil
	}
	b.shutdown = true
	hook := b.cleanupHook
	b.mu.Unlock()

	start := time.Now()
	b.notify(Event{AgentID: b.id, Type: "shutdown"})

	var err error
	if hook != nil {
		err = hook(ctx)
	}

	b.mu.Lock()
	b.observers = nil
	b.status = StatusIdle
	b.currentTask = ""
	b.appendHistoryLocked(HistoryRecord{
		Event:     "shutdown",
		Success:   err == nil,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	})
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("agent %s cleanup failed: %w", b.id, err)
	}
	return nil
}

// appendHistoryLocked records a history entry, evicting the oldest when the
// bound is reached. Caller must hold b.mu.
func (b *Base) appendHistoryLocked(rec HistoryRecord) {
	if len(b.history) >= maxHistory {
		b.history = b.history[1:]
	}
	b.history = append(b.history, rec)
}

// notify broadcasts an event to all current observers.
func (b *Base) notify(ev Event) {
	b.mu.Lock()
	observers := append([]Observer(nil), b.observers...)
	b.mu.Unlock()

	for _, o := range observers {
		o.Notify(ev)
	}
}
