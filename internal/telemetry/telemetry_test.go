package telemetry

import "testing"

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Handle(event Event) {
	r.events = append(r.events, event)
}

func TestEmitFansOutToSinks(t *testing.T) {
	sink := &recordingSink{}
	tel := New(Options{Sinks: []Sink{sink}})

	tel.Info("agent.started", map[string]any{"agent_id": "agent-1"})

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if sink.events[0].Name != "agent.started" || sink.events[0].Level != LevelInfo {
		t.Fatalf("unexpected event: %+v", sink.events[0])
	}
}

func TestChildSharesSinksAndMergesBindings(t *testing.T) {
	sink := &recordingSink{}
	parent := New(Options{Bindings: map[string]any{"component": "registry"}, Sinks: []Sink{sink}})
	child := parent.Child(map[string]any{"agent_id": "agent-1"})

	child.Warn("agent.error", nil)

	if len(sink.events) != 1 {
		t.Fatalf("expected child emit to reach parent's sink, got %d events", len(sink.events))
	}
	if child.bindings["component"] != "registry" || child.bindings["agent_id"] != "agent-1" {
		t.Fatalf("expected merged bindings, got %v", child.bindings)
	}
}

func TestAddSinkOnParentReachesExistingChild(t *testing.T) {
	parent := New(Options{})
	child := parent.Child(map[string]any{"agent_id": "agent-1"})

	sink := &recordingSink{}
	parent.AddSink(sink)
	child.Info("agent.tick", nil)

	if len(sink.events) != 1 {
		t.Fatalf("expected sink added after child creation to still observe child emits, got %d", len(sink.events))
	}
}

func TestAddSinkAppliesToFutureEmitsOnly(t *testing.T) {
	tel := New(Options{})
	tel.Debug("before", nil)

	sink := &recordingSink{}
	tel.AddSink(sink)
	tel.Debug("after", nil)

	if len(sink.events) != 1 || sink.events[0].Name != "after" {
		t.Fatalf("expected sink to observe only events emitted after it was added, got %v", sink.events)
	}
}
