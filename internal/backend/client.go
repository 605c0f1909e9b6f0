// Package backend implements the request/response multiplexer that talks
// to the backend child process over a line-delimited JSON channel: one
// JSON object per line on stdin/stdout, correlated by an "id" field,
// with stderr lines and malformed stdout lines surfaced as protocol
// errors rather than fed to any pending request.
package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stuxnet147/codex-agent-protocol/internal/common/logger"
	"github.com/stuxnet147/codex-agent-protocol/internal/process"
	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// Handler receives client-level events: "notification" (map[string]any),
// "protocolError" (error), "restarted" (attempt int).
type Handler func(event string, args ...any)

// wireRequest is the JSON shape written to the child's stdin.
type wireRequest struct {
	ID        string         `json:"id"`
	Op        string         `json:"op"`
	Args      map[string]any `json:"args,omitempty"`
	TimeoutMs *int           `json:"timeout_ms,omitempty"`
}

// wireResponse is the JSON shape read back from the child's stdout. A
// message with no "id" is a notification, not a response.
type wireResponse struct {
	ID    string `json:"id"`
	OK    *bool  `json:"ok"`
	Data  any    `json:"data"`
	Error string `json:"error"`
}

// Client manages the backend child process and multiplexes concurrent
// BackendCommand requests over its single stdio channel.
type Client struct {
	opts        ClientOptions
	supervisor  *process.Supervisor
	log         *logger.Logger

	mu      sync.Mutex
	pending map[string]chan types.BackendResult
	stdin   io.WriteCloser
	stopping bool

	handlersMu sync.RWMutex
	handlers   map[string][]Handler
}

// NewClient builds a Client. Call Start to launch the backend process.
func NewClient(opts ClientOptions, strategy process.Strategy, log *logger.Logger) *Client {
	c := &Client{
		opts:     opts,
		log:      log,
		pending:  make(map[string]chan types.BackendResult),
		handlers: make(map[string][]Handler),
	}
	c.supervisor = process.NewSupervisor(strategy, resolveLaunchOptions(opts), log)
	c.supervisor.On("started", func(event string, args ...any) {
		if child, ok := args[0].(process.Child); ok {
			c.attach(child)
		}
	})
	c.supervisor.On("exited", func(event string, args ...any) {
		c.handleFailure(rterrors.BackendExited("backend process exited"))
	})
	c.supervisor.On("failed", func(event string, args ...any) {
		if err, ok := args[0].(error); ok {
			c.handleFailure(err)
		}
	})
	c.supervisor.On("restarted", func(event string, args ...any) {
		c.emit("restarted", args...)
	})
	return c
}

// Status reports the underlying backend process's supervision status.
func (c *Client) Status() process.Status {
	return c.supervisor.Status()
}

// Start launches the backend process if it isn't already running.
func (c *Client) Start(ctx context.Context) {
	if c.supervisor.IsRunning() {
		return
	}
	c.supervisor.Start(ctx)
}

// Stop terminates the backend process and fails every in-flight request.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	c.supervisor.Stop()
	c.detach()
	c.failInflight(rterrors.BackendExited("backend client stopped"))

	c.mu.Lock()
	c.stopping = false
	c.mu.Unlock()
}

// On registers handler for a client-level event.
func (c *Client) On(event string, handler Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Exec sends cmd to the backend and blocks until a matching response
// arrives or the command's (or the client's default) timeout elapses.
func (c *Client) Exec(ctx context.Context, cmd types.BackendCommand) (types.BackendResult, error) {
	if !c.supervisor.IsRunning() {
		c.Start(ctx)
	}

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return types.BackendResult{}, rterrors.New(rterrors.KindBackendExited, "backend process is not available")
	}

	requestID := uuid.NewString()
	resultCh := make(chan types.BackendResult, 1)
	c.mu.Lock()
	c.pending[requestID] = resultCh
	c.mu.Unlock()

	payload, err := json.Marshal(wireRequest{ID: requestID, Op: cmd.Op, Args: cmd.Args, TimeoutMs: cmd.TimeoutMs})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return types.BackendResult{}, rterrors.Wrap(rterrors.KindProtocolError, "failed to marshal backend command", err)
	}

	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return types.BackendResult{}, rterrors.Wrap(rterrors.KindProtocolError, "failed to write backend command", err)
	}

	timeoutMs := c.opts.ResponseTimeoutMs
	if cmd.TimeoutMs != nil {
		timeoutMs = *cmd.TimeoutMs
	}
	if timeoutMs <= 0 {
		timeoutMs = 30_000
	}

	select {
	case result := <-resultCh:
		return result, nil
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return types.BackendResult{}, rterrors.Timeout("backend response timed out")
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
		return types.BackendResult{}, ctx.Err()
	}
}

func (c *Client) attach(child process.Child) {
	c.detach()
	c.mu.Lock()
	c.stdin = child.Stdin()
	c.mu.Unlock()

	go c.readLines(child.Stdout(), c.handleLine)
	go c.readLines(child.Stderr(), c.handleStderrLine)
}

func (c *Client) detach() {
	c.mu.Lock()
	c.stdin = nil
	c.mu.Unlock()
}

func (c *Client) readLines(r io.Reader, handle func(string)) {
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		handle(scanner.Text())
	}
}

func (c *Client) handleStderrLine(line string) {
	if line == "" {
		return
	}
	err := rterrors.ProtocolError(line)
	c.emit("protocolError", err)
	c.failInflight(err)
}

func (c *Client) handleLine(line string) {
	if line == "" {
		return
	}
	var resp wireResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		wrapped := rterrors.Wrap(rterrors.KindProtocolError, "failed to parse backend response", err)
		c.emit("protocolError", wrapped)
		c.failInflight(wrapped)
		return
	}
	if resp.ID == "" {
		var notification map[string]any
		if err := json.Unmarshal([]byte(line), &notification); err == nil {
			c.emit("notification", notification)
		}
		return
	}
	if resp.OK == nil {
		err := rterrors.ProtocolError("backend response missing ok flag for id " + resp.ID)
		c.emit("protocolError", err)
		c.failInflight(err)
		return
	}

	c.mu.Lock()
	resultCh, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if !*resp.OK {
		resultCh <- types.BackendResult{OK: false, Error: resp.Error}
		return
	}
	resultCh <- types.BackendResult{OK: true, Data: resp.Data}
}

func (c *Client) failInflight(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan types.BackendResult)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- types.BackendResult{OK: false, Error: err.Error()}
	}
}

func (c *Client) handleFailure(err error) {
	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()
	if !stopping {
		c.emit("protocolError", err)
	}
	c.failInflight(err)
}

func (c *Client) emit(event string, args ...any) {
	c.handlersMu.RLock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		h(event, args...)
	}
	if event == "protocolError" && c.log != nil && len(args) > 0 {
		if err, ok := args[0].(error); ok {
			c.log.Warn("backend protocol error", zap.Error(err))
		}
	}
}
