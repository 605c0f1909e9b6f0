// Package registry tracks registered agents and their runtime lifecycle
// state, and fans out registration/state-change events to subscribers.
package registry

import (
	"sync"

	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// Event names emitted via OnEvent.
const (
	EventRegistered   = "registered"
	EventUnregistered = "unregistered"
	EventStateChanged = "stateChanged"
)

// StateUpdate describes a partial update to an agent's runtime state. A nil
// field leaves the corresponding value unchanged.
type StateUpdate struct {
	Status        *types.AgentStatus
	Error         *string
	ResourceUsage map[string]float64
}

// Handler receives registry events. args mirrors the Python implementation's
// *args: for "registered" it is the affected types.AgentRegistryEntry; for
// "stateChanged" it is the agent's ID followed by the merged
// types.AgentRuntimeState; for "unregistered" it is the agent's ID.
type Handler func(event string, args ...any)

// Registry is an in-memory, thread-safe registry of agents and their
// runtime state.
type Registry struct {
	mu       sync.RWMutex
	entries  map[types.AgentID]types.AgentRegistryEntry
	handlers map[string][]Handler
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide default Registry, built lazily.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		entries:  make(map[types.AgentID]types.AgentRegistryEntry),
		handlers: make(map[string][]Handler),
	}
}

// Register adds definition to the registry, or returns a conflict error if
// it's already registered as a singleton. Re-registering a non-singleton
// agent preserves its existing runtime state; a brand new agent starts
// AgentOffline.
func (r *Registry) Register(definition types.AgentDefinition) (types.AgentRegistryEntry, error) {
	r.mu.Lock()
	existing, found := r.entries[definition.ID]
	if found && existing.Definition.Singleton {
		r.mu.Unlock()
		return types.AgentRegistryEntry{}, rterrors.Conflict("agent " + definition.ID + " already registered as singleton")
	}

	state := types.AgentRuntimeState{Status: types.AgentOffline, UpdatedAt: types.NowMs()}
	if found {
		state = existing.State
	}
	entry := types.AgentRegistryEntry{Definition: definition, State: state}
	r.entries[definition.ID] = entry
	r.mu.Unlock()

	r.emit(EventRegistered, entry)
	return entry, nil
}

// Unregister removes an agent, reporting whether it had been registered.
func (r *Registry) Unregister(agentID types.AgentID) bool {
	r.mu.Lock()
	_, found := r.entries[agentID]
	if found {
		delete(r.entries, agentID)
	}
	r.mu.Unlock()

	if found {
		r.emit(EventUnregistered, agentID)
	}
	return found
}

// UpdateState merges update into the agent's current state, stamping
// UpdatedAt with the current time, and returns the merged state.
func (r *Registry) UpdateState(agentID types.AgentID, update StateUpdate) (types.AgentRuntimeState, error) {
	r.mu.Lock()
	entry, ok := r.entries[agentID]
	if !ok {
		r.mu.Unlock()
		return types.AgentRuntimeState{}, rterrors.NotFound("agent " + agentID + " is not registered")
	}

	merged := entry.State
	merged.UpdatedAt = types.NowMs()
	if update.Status != nil {
		merged.Status = *update.Status
	}
	if update.Error != nil {
		merged.Error = *update.Error
	}
	if update.ResourceUsage != nil {
		merged.ResourceUsage = update.ResourceUsage
	}
	entry.State = merged
	r.entries[agentID] = entry
	r.mu.Unlock()

	r.emit(EventStateChanged, agentID, merged)
	return merged, nil
}

// SetStatus is a convenience wrapper over UpdateState for the common case
// of changing only status (and optionally an error message).
func (r *Registry) SetStatus(agentID types.AgentID, status types.AgentStatus, errMsg string) (types.AgentRuntimeState, error) {
	update := StateUpdate{Status: &status}
	if errMsg != "" {
		update.Error = &errMsg
	}
	return r.UpdateState(agentID, update)
}

// UpdateResources is a convenience wrapper over UpdateState for reporting
// resource usage samples.
func (r *Registry) UpdateResources(agentID types.AgentID, usage map[string]float64) (types.AgentRuntimeState, error) {
	return r.UpdateState(agentID, StateUpdate{ResourceUsage: usage})
}

// Get returns the entry for agentID, if registered.
func (r *Registry) Get(agentID types.AgentID) (types.AgentRegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[agentID]
	return entry, ok
}

// List returns a snapshot of all registered entries.
func (r *Registry) List() []types.AgentRegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AgentRegistryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}

// Default returns the registry's best-effort default agent: the first
// singleton entry found in either AgentIdle or AgentRunning state. Iteration
// order over a Go map is unspecified, so "first" is not stable across calls
// when more than one singleton qualifies; callers needing a specific agent
// should look it up by ID instead.
func (r *Registry) Default() (types.AgentRegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if !entry.Definition.Singleton {
			continue
		}
		if entry.State.Status == types.AgentIdle || entry.State.Status == types.AgentRunning {
			return entry, nil
		}
	}
	return types.AgentRegistryEntry{}, rterrors.NotFound("no default agent is registered and ready")
}

// Has reports whether agentID is currently registered.
func (r *Registry) Has(agentID types.AgentID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[agentID]
	return ok
}

// OnEvent registers handler for event. Handlers are invoked synchronously,
// in registration order, on the goroutine that triggered the event.
func (r *Registry) OnEvent(event string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], handler)
}

func (r *Registry) emit(event string, args ...any) {
	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[event]...)
	r.mu.RUnlock()
	for _, h := range handlers {
		h(event, args...)
	}
}
