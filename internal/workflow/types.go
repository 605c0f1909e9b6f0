// Package workflow implements a concurrent DAG executor: nodes declare
// dependencies on other nodes' IDs, independent nodes run in parallel up
// to a configurable concurrency limit, a node may retry on failure per
// its own RetryPolicy, and the first unrecoverable failure halts the run
// and rolls back whatever already completed, in reverse completion order.
package workflow

import (
	"context"

	"github.com/stuxnet147/codex-agent-protocol/internal/ctxstore"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// RunContext is the mutable state nodes read and write as they execute. It
// is shared by every node in a single Run call, mirroring the Python SDK's
// WorkflowContext: a handle onto the shared context store, the session a
// run belongs to, and free-form per-run metadata. Nodes read/write session
// state through ContextStore, not Metadata; Metadata is scratch space local
// to a single Run call.
type RunContext struct {
	ContextStore *ctxstore.Store
	SessionID    string
	Metadata     map[string]any
}

// NodeDefinition is a single unit of work in the DAG.
type NodeDefinition struct {
	ID        string
	DependsOn []string
	Retry     *types.RetryPolicy
	Run       func(ctx context.Context, rc *RunContext) (any, error)
	Rollback  func(ctx context.Context, rc *RunContext) error
}

// ExecutionOptions configures a Run call.
type ExecutionOptions struct {
	// Concurrency bounds how many nodes may execute at once. Values below
	// 1 are treated as 1.
	Concurrency    int
	OnTaskComplete func(nodeID string, result any)
	OnTaskError    func(nodeID string, err error)
}

// RunSummary reports the outcome of a Run call.
type RunSummary struct {
	StartedAt      int64 // ms epoch
	FinishedAt     int64 // ms epoch
	Completed      map[string]struct{}
	CompletedOrder []string
	Failed         map[string]error
}

func newRunSummary() *RunSummary {
	return &RunSummary{
		StartedAt: types.NowMs(),
		Completed: make(map[string]struct{}),
		Failed:    make(map[string]error),
	}
}
