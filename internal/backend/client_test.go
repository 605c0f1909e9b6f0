package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stuxnet147/codex-agent-protocol/internal/process"
	"github.com/stuxnet147/codex-agent-protocol/internal/types"
)

// fakeChild simulates a backend child process entirely in-process: it
// echoes back a successful response for every request it reads, and lets
// tests push arbitrary stderr/stdout lines to exercise protocol-error and
// notification handling.
type fakeChild struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	waitCh  chan struct{}
}

func newFakeChild() *fakeChild {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	c := &fakeChild{stdinR: stdinR, stdinW: stdinW, stdoutR: stdoutR, stdoutW: stdoutW, stderrR: stderrR, stderrW: stderrW, waitCh: make(chan struct{})}
	go c.serve()
	return c
}

func (c *fakeChild) serve() {
	scanner := bufio.NewScanner(c.stdinR)
	for scanner.Scan() {
		var req struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		resp, _ := json.Marshal(map[string]any{"id": req.ID, "ok": true, "data": "pong"})
		c.stdoutW.Write(append(resp, '\n'))
	}
}

func (c *fakeChild) Stdin() io.WriteCloser { return c.stdinW }
func (c *fakeChild) Stdout() io.Reader     { return c.stdoutR }
func (c *fakeChild) Stderr() io.Reader     { return c.stderrR }
func (c *fakeChild) Wait() (int, error) {
	<-c.waitCh
	return 0, nil
}
func (c *fakeChild) Signal(name string) error {
	close(c.waitCh)
	return nil
}

type fakeStrategy struct {
	child *fakeChild
}

func (s *fakeStrategy) Launch(ctx context.Context, opts process.LaunchOptions) (process.Child, error) {
	return s.child, nil
}

func TestClientExecRoundTrip(t *testing.T) {
	child := newFakeChild()
	client := NewClient(ClientOptions{ResponseTimeoutMs: 1000}, &fakeStrategy{child: child}, nil)
	defer client.Stop()

	result, err := client.Exec(context.Background(), types.BackendCommand{Op: "ping"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK || result.Data != "pong" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClientStderrLineFanOutAsProtocolError(t *testing.T) {
	child := newFakeChild()
	client := NewClient(ClientOptions{ResponseTimeoutMs: 1000}, &fakeStrategy{child: child}, nil)
	defer client.Stop()

	errCh := make(chan error, 1)
	client.On("protocolError", func(event string, args ...any) {
		if err, ok := args[0].(error); ok {
			errCh <- err
		}
	})

	client.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	child.stderrW.Write([]byte("boom\n"))

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected non-nil protocol error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for protocol error")
	}
}

func TestResolveLaunchOptionsDefaultsToNode(t *testing.T) {
	opts := resolveLaunchOptions(ClientOptions{Dir: "/tmp/workspace"})
	if opts.Command != "node" {
		t.Fatalf("expected default command node, got %q", opts.Command)
	}
	if len(opts.Args) != 1 {
		t.Fatalf("expected a single resolved cli path arg, got %v", opts.Args)
	}
}

func TestResolveLaunchOptionsHonorsCommandArgs(t *testing.T) {
	opts := resolveLaunchOptions(ClientOptions{CommandArgs: []string{"foo.js", "--flag"}})
	if len(opts.Args) != 2 || opts.Args[0] != "foo.js" {
		t.Fatalf("expected explicit command args to be honored, got %v", opts.Args)
	}
}
