package agent

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Registry maps agent identity and capability type to live agent instances.
// It maintains an ID-indexed and a type-indexed view, kept consistent on
// every mutation, and coordinates shutdown of the whole fleet.
//
// The registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Agent
	byType map[string][]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]Agent),
		byType: make(map[string][]Agent),
	}
}

// Register adds an agent to both indexes. Registering an agent whose ID is
// already present is an error; the indexes are left untouched.
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return fmt.Errorf("cannot register nil agent")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[a.ID()]; exists {
		return fmt.Errorf("agent %s is already registered", a.ID())
	}

	r.byID[a.ID()] = a
	r.byType[a.Type()] = append(r.byType[a.Type()], a)
	return nil
}

// Unregister removes an agent from both indexes. Unknown IDs are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.byID[id]
	if !exists {
		return
	}
	delete(r.byID, id)

	agents := r.byType[a.Type()]
	for i, candidate := range agents {
		if candidate.ID() == id {
			r.byType[a.Type()] = append(agents[:i], agents[i+1:]...)
			break
		}
	}
	if len(r.byType[a.Type()]) == 0 {
		delete(r.byType, a.Type())
	}
}

// GetAgent returns the agent with the given ID, or nil if not registered.
func (r *Registry) GetAgent(id string) Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// GetAgentByType returns the first idle agent of the given type, falling
// back to any agent of that type if none are idle. Load-shedding is the
// caller's decision - the registry never fails merely because all agents of
// a type are busy. Returns an error only when the type has no agents at all.
func (r *Registry) GetAgentByType(agentType string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := r.byType[agentType]
	if len(agents) == 0 {
		return nil, fmt.Errorf("no agent registered for type %q", agentType)
	}

	for _, a := range agents {
		if a.Status().Status == StatusIdle {
			return a, nil
		}
	}

	// All busy: hand back the first one and let the caller decide whether
	// to wait.
	return agents[0], nil
}

// Agents returns a snapshot of every registered agent.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Agent, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	return out
}

// Snapshots returns point-in-time status snapshots of every registered agent.
func (r *Registry) Snapshots() []Snapshot {
	agents := r.Agents()
	out := make([]Snapshot, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Status())
	}
	return out
}

// ShutdownAll invokes Shutdown on every registered agent, tolerating
// individual failures, and clears both indexes only after every shutdown has
// resolved. Returns the first shutdown error encountered, if any.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	agents := r.Agents()

	var firstErr error
	for _, a := range agents {
		if err := a.Shutdown(ctx); err != nil {
			log.Printf("[Registry] Agent %s shutdown failed: %v", a.ID(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// Clear indexes only after all shutdowns resolved (success or failure).
	r.mu.Lock()
	r.byID = make(map[string]Agent)
	r.byType = make(map[string][]Agent)
	r.mu.Unlock()

	return firstErr
}
