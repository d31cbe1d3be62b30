package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAgent builds a base agent whose handler is controlled by the test.
func newTestAgent(handler handlerFunc) *Base {
	return NewBase("test-agent-1", "risk", []string{"analyze_risk"}, handler)
}

// okHandler succeeds immediately with a marker payload.
func okHandler(ctx context.Context, task Task) (map[string]interface{}, error) {
	return map[string]interface{}{"handled": task.Type}, nil
}

func validTask(taskType string) Task {
	return NewTask(uuid.New().String(), taskType, 0, map[string]interface{}{})
}

func TestExecuteTask_Success(t *testing.T) {
	a := newTestAgent(okHandler)

	result := a.ExecuteTask(context.Background(), validTask("analyze_risk"))

	assert.True(t, result.Success)
	assert.Equal(t, "analyze_risk", result.Data["handled"])
	assert.Equal(t, "test-agent-1", result.AgentID)
	assert.Empty(t, result.Error)
	assert.Equal(t, StatusIdle, a.Status().Status)
}

func TestExecuteTask_HandlerError(t *testing.T) {
	a := newTestAgent(func(ctx context.Context, task Task) (map[string]interface{}, error) {
		return nil, fmt.Errorf("feed unavailable")
	})

	result := a.ExecuteTask(context.Background(), validTask("analyze_risk"))

	assert.False(t, result.Success)
	assert.Equal(t, "feed unavailable", result.Error)
	assert.Nil(t, result.Data)
	// Agent returns to idle even after a failed task.
	assert.Equal(t, StatusIdle, a.Status().Status)
}

func TestExecuteTask_PanicBecomesFailedResult(t *testing.T) {
	a := newTestAgent(func(ctx context.Context, task Task) (map[string]interface{}, error) {
		panic("index out of range")
	})

	var result TaskResult
	require.NotPanics(t, func() {
		result = a.ExecuteTask(context.Background(), validTask("analyze_risk"))
	})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panicked")
	assert.Equal(t, "test-agent-1", result.AgentID)
	assert.Equal(t, StatusIdle, a.Status().Status)
}

func TestExecuteTask_InvalidTask(t *testing.T) {
	a := newTestAgent(okHandler)

	result := a.ExecuteTask(context.Background(), Task{ID: "not-a-uuid"})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid task ID")
}

func TestExecuteTask_BusyIsExclusive(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	a := newTestAgent(func(ctx context.Context, task Task) (map[string]interface{}, error) {
		close(started)
		<-release
		return map[string]interface{}{}, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.ExecuteTask(context.Background(), validTask("analyze_risk"))
	}()

	<-started
	assert.Equal(t, StatusBusy, a.Status().Status)

	// A second task must not start while the first is in flight.
	result := a.ExecuteTask(context.Background(), validTask("analyze_risk"))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "busy")

	close(release)
	wg.Wait()
	assert.Equal(t, StatusIdle, a.Status().Status)
}

func TestProcessNextTask_DequeuesExactlyOnce(t *testing.T) {
	var calls int
	a := newTestAgent(func(ctx context.Context, task Task) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{}, nil
	})

	require.NoError(t, a.EnqueueTask(validTask("analyze_risk")))
	assert.Equal(t, 1, a.Status().QueueDepth)

	a.ProcessNextTask(context.Background())
	a.ProcessNextTask(context.Background()) // queue now empty: no-op

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, a.Status().QueueDepth)
}

func TestProcessNextTask_EmptyQueueNoop(t *testing.T) {
	a := newTestAgent(okHandler)
	// Must return immediately without blocking or panicking.
	a.ProcessNextTask(context.Background())
	assert.Equal(t, StatusIdle, a.Status().Status)
}

func TestInitialize_Transitions(t *testing.T) {
	t.Run("success returns to idle", func(t *testing.T) {
		a := newTestAgent(okHandler)
		require.NoError(t, a.Initialize(context.Background()))
		assert.Equal(t, StatusIdle, a.Status().Status)
	})

	t.Run("hook failure sets error status", func(t *testing.T) {
		a := newTestAgent(okHandler)
		a.initHook = func(ctx context.Context) error {
			return fmt.Errorf("warmup failed")
		}
		err := a.Initialize(context.Background())
		assert.Error(t, err)
		assert.Equal(t, StatusError, a.Status().Status)
	})
}

func TestShutdown_Idempotent(t *testing.T) {
	cleanups := 0
	a := newTestAgent(okHandler)
	a.cleanupHook = func(ctx context.Context) error {
		cleanups++
		return nil
	}

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))

	assert.Equal(t, 1, cleanups)
	assert.Equal(t, StatusIdle, a.Status().Status)

	// Enqueue after shutdown is rejected.
	err := a.EnqueueTask(validTask("analyze_risk"))
	assert.Error(t, err)
}

func TestHistory_BoundedOldestEvicted(t *testing.T) {
	a := newTestAgent(okHandler)

	for i := 0; i < maxHistory+10; i++ {
		a.ExecuteTask(context.Background(), validTask("analyze_risk"))
	}

	history := a.History()
	assert.Len(t, history, maxHistory)
	assert.Equal(t, maxHistory, a.Status().HistoryCount)
}

// recordingObserver captures lifecycle events for assertions.
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func TestObservers_ReceiveLifecycleEvents(t *testing.T) {
	a := newTestAgent(okHandler)
	obs := &recordingObserver{}
	a.Subscribe(obs)

	require.NoError(t, a.Initialize(context.Background()))
	a.ExecuteTask(context.Background(), validTask("analyze_risk"))
	require.NoError(t, a.Shutdown(context.Background()))

	types := obs.types()
	assert.Contains(t, types, "initialized")
	assert.Contains(t, types, "task_completed")
	assert.Contains(t, types, "shutdown")

	// Observers are drained on shutdown: later events are not delivered.
	before := len(obs.types())
	a.notify(Event{AgentID: a.ID(), Type: "task_completed"})
	assert.Equal(t, before, len(obs.types()))
}

func TestSnapshot_Fields(t *testing.T) {
	a := newTestAgent(okHandler)
	snap := a.Status()

	assert.Equal(t, "test-agent-1", snap.ID)
	assert.Equal(t, "risk", snap.Type)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Equal(t, []string{"analyze_risk"}, snap.Capabilities)
	assert.Equal(t, 0, snap.QueueDepth)
}

func TestExecuteTask_RecordsDuration(t *testing.T) {
	a := newTestAgent(func(ctx context.Context, task Task) (map[string]interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return map[string]interface{}{}, nil
	})

	result := a.ExecuteTask(context.Background(), validTask("analyze_risk"))
	assert.GreaterOrEqual(t, result.Duration, 10*time.Millisecond)
}
