package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stuxnet147/codex-agent-protocol/internal/common/config"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
	"github.com/stuxnet147/codex-agent-protocol/internal/workflow"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 8080, ReadTimeout: 30, WriteTimeout: 30},
		Backend: config.BackendConfig{Strategy: "exec", MaxRestarts: 3, BackoffMs: 10, ResponseTimeout: 1000},
		Logging: config.LoggingConfig{Level: "info", Format: "text", OutputPath: "stdout"},
	}
}

func TestNewWiresAllComponents(t *testing.T) {
	rt, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt.Registry == nil || rt.Sessions == nil || rt.Context == nil || rt.Security == nil ||
		rt.Bus == nil || rt.Telemetry == nil || rt.Integration == nil || rt.Backend == nil ||
		rt.Workflow == nil || rt.Metrics == nil {
		t.Fatal("expected every component to be non-nil")
	}
}

func TestNewDefaultsToMemoryBus(t *testing.T) {
	rt, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rt.Stop()

	sub, err := rt.Bus.Subscribe("agent.lifecycle", func(types.MessageEnvelope) {})
	if err != nil {
		t.Fatalf("unexpected error subscribing: %v", err)
	}
	if !sub.IsValid() {
		t.Fatal("expected a fresh subscription to be valid")
	}
}

func TestRunWorkflowSharesRuntimeContextStore(t *testing.T) {
	rt, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rt.Stop()

	rc := rt.NewRunContext("session-1")
	if rc.ContextStore != rt.Context {
		t.Fatal("expected NewRunContext to carry the runtime's own context store")
	}

	_, err = rt.RunWorkflow(context.Background(), "session-1", []workflow.NodeDefinition{
		{
			ID: "write",
			Run: func(ctx context.Context, rc *workflow.RunContext) (any, error) {
				rc.ContextStore.Set(rc.SessionID, "k", "v")
				return nil, nil
			},
		},
		{
			ID:        "read",
			DependsOn: []string{"write"},
			Run: func(ctx context.Context, rc *workflow.RunContext) (any, error) {
				if v := rc.ContextStore.Get(rc.SessionID, "k"); v != "v" {
					return nil, errors.New("expected value written by the write node")
				}
				return nil, nil
			},
		},
	}, workflow.ExecutionOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v := rt.Context.Get("session-1", "k"); v != "v" {
		t.Fatal("expected the runtime's own context store to hold the value written during the run")
	}
}

func TestStopReleasesOwnedBus(t *testing.T) {
	rt, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rt.Stop(); err != nil {
		t.Fatalf("unexpected error stopping runtime: %v", err)
	}
	if _, err := rt.Bus.Publish("agent.lifecycle", "x", ""); err == nil {
		t.Fatal("expected publish on a closed bus to fail")
	}
}
