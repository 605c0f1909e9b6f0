package registry

import (
	"testing"

	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

func TestRegisterEmitsRegisteredEvent(t *testing.T) {
	r := New()
	var seen []string
	r.OnEvent(EventRegistered, func(event string, args ...any) {
		seen = append(seen, event)
	})

	_, err := r.Register(types.AgentDefinition{ID: "agent-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != EventRegistered {
		t.Fatalf("expected one registered event, got %v", seen)
	}
}

func TestRegisterSingletonConflict(t *testing.T) {
	r := New()
	if _, err := r.Register(types.AgentDefinition{ID: "agent-1", Singleton: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Register(types.AgentDefinition{ID: "agent-1", Singleton: true})
	if !rterrors.Is(err, rterrors.KindConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestReregisterNonSingletonPreservesState(t *testing.T) {
	r := New()
	r.Register(types.AgentDefinition{ID: "agent-1"})
	running := types.AgentRunning
	if _, err := r.SetStatus("agent-1", running, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := r.Register(types.AgentDefinition{ID: "agent-1", Name: "renamed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.State.Status != types.AgentRunning {
		t.Fatalf("expected preserved running status, got %v", entry.State.Status)
	}
}

func TestUpdateStateOrderingIsMonotonic(t *testing.T) {
	r := New()
	r.Register(types.AgentDefinition{ID: "agent-1"})

	var timestamps []int64
	r.OnEvent(EventStateChanged, func(event string, args ...any) {
		state := args[1].(types.AgentRuntimeState)
		timestamps = append(timestamps, state.UpdatedAt)
	})

	running := types.AgentRunning
	idle := types.AgentIdle
	r.UpdateState("agent-1", StateUpdate{Status: &running})
	r.UpdateState("agent-1", StateUpdate{Status: &idle})

	if len(timestamps) != 2 {
		t.Fatalf("expected 2 state change events, got %d", len(timestamps))
	}
	if timestamps[1] < timestamps[0] {
		t.Fatalf("expected non-decreasing UpdatedAt, got %v", timestamps)
	}
}

func TestUnregisterUnknownAgentReturnsFalse(t *testing.T) {
	r := New()
	if r.Unregister("ghost") {
		t.Fatalf("expected false for unknown agent")
	}
}

func TestUpdateStateUnknownAgent(t *testing.T) {
	r := New()
	_, err := r.UpdateState("ghost", StateUpdate{})
	if !rterrors.Is(err, rterrors.KindNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
