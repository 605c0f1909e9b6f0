package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// Handler receives engine-level events: "started" ([]NodeDefinition),
// "finished" (*RunSummary), "taskComplete" (nodeID string, result any),
// "taskFailed" (nodeID string, err error).
type Handler func(event string, args ...any)

// Engine runs DAGs of NodeDefinitions. A single Engine can run multiple
// DAGs; each Run call is independent.
type Engine struct {
	handlersMu sync.RWMutex
	handlers   map[string][]Handler
}

// New returns an Engine with no handlers registered.
func New() *Engine {
	return &Engine{handlers: make(map[string][]Handler)}
}

// On registers handler for event.
func (e *Engine) On(event string, handler Handler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

func (e *Engine) emit(event string, args ...any) {
	e.handlersMu.RLock()
	handlers := append([]Handler(nil), e.handlers[event]...)
	e.handlersMu.RUnlock()
	for _, h := range handlers {
		h(event, args...)
	}
}

// Run executes nodes to completion, respecting dependencies and
// opts.Concurrency, and returns a summary of what completed, in what
// order, and what failed. A node whose dependencies never complete
// because an earlier sibling failed is left out of both Completed and
// Failed, matching a halted-not-crashed DAG.
func (e *Engine) Run(ctx context.Context, nodes []NodeDefinition, rc *RunContext, opts ExecutionOptions) (*RunSummary, error) {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	definitions := make(map[string]NodeDefinition, len(nodes))
	for _, n := range nodes {
		definitions[n.ID] = n
	}

	summary := newRunSummary()
	var mu sync.Mutex // guards summary's maps/slice

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(map[string]chan struct{}, len(nodes))
	for _, n := range nodes {
		done[n.ID] = make(chan struct{})
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	e.emit("started", nodes)

	for _, node := range nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !e.awaitDependencies(runCtx, node, done) {
				return
			}

			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			defer func() { <-sem }()

			select {
			case <-runCtx.Done():
				return
			default:
			}

			result, err := e.executeWithRetry(runCtx, node, rc, opts)

			mu.Lock()
			if err != nil {
				summary.Failed[node.ID] = err
			} else {
				summary.Completed[node.ID] = struct{}{}
				summary.CompletedOrder = append(summary.CompletedOrder, node.ID)
			}
			mu.Unlock()

			if err != nil {
				if opts.OnTaskError != nil {
					opts.OnTaskError(node.ID, err)
				}
				e.emit("taskFailed", node.ID, err)
				cancel()
			} else {
				if opts.OnTaskComplete != nil {
					opts.OnTaskComplete(node.ID, result)
				}
				e.emit("taskComplete", node.ID, result)
			}
			close(done[node.ID])
		}()
	}

	wg.Wait()

	if len(summary.Failed) > 0 {
		e.rollback(ctx, rc, summary, definitions)
	}

	summary.FinishedAt = types.NowMs()
	e.emit("finished", summary)
	return summary, nil
}

// awaitDependencies blocks until every dependency of node has either
// completed or the run has been cancelled (by a sibling failure or the
// caller). It returns false if the run was cancelled before all
// dependencies finished, meaning node must not execute.
func (e *Engine) awaitDependencies(ctx context.Context, node NodeDefinition, done map[string]chan struct{}) bool {
	for _, dep := range node.DependsOn {
		depDone, ok := done[dep]
		if !ok {
			continue // unknown dependency id: treated as already satisfied
		}
		select {
		case <-depDone:
		case <-ctx.Done():
			return false
		}
	}
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

func (e *Engine) executeWithRetry(ctx context.Context, node NodeDefinition, rc *RunContext, opts ExecutionOptions) (any, error) {
	maxAttempts := 1
	delayMs := 0
	if node.Retry != nil {
		if node.Retry.Attempts > 1 {
			maxAttempts = node.Retry.Attempts
		}
		delayMs = node.Retry.DelayMs
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := node.Run(ctx, rc)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < maxAttempts && delayMs > 0 {
			select {
			case <-time.After(time.Duration(delayMs) * time.Millisecond):
			case <-ctx.Done():
				return nil, lastErr
			}
		}
	}
	return nil, rterrors.TaskFailed("node "+node.ID+" failed after retries", lastErr)
}

// rollback invokes each completed node's Rollback, in reverse completion
// order, best-effort: a rollback failure is reported via taskFailed but
// does not stop subsequent rollbacks.
func (e *Engine) rollback(ctx context.Context, rc *RunContext, summary *RunSummary, definitions map[string]NodeDefinition) {
	for i := len(summary.CompletedOrder) - 1; i >= 0; i-- {
		nodeID := summary.CompletedOrder[i]
		node, ok := definitions[nodeID]
		if !ok || node.Rollback == nil {
			continue
		}
		if err := node.Rollback(ctx, rc); err != nil {
			e.emit("taskFailed", node.ID, err)
		}
	}
}
